package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "PACKVAULT"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabasePath    = "packvault.db"
	defaultLogLevel        = "info"
	defaultTokenTTLMinutes = 30
	defaultResolverBaseURL = "https://api.altered.gg"
	defaultResolverTimeout = 10
	defaultCacheTTLSeconds = 30
	defaultRateCapacity    = 60
	defaultRateRefill      = 1
	defaultRateIntervalS   = 1
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress          string
	DatabasePath         string
	LogLevel             string
	SessionSigningSecret string
	SessionIssuer        string
	TokenSigningSecret   string
	TokenTTL             time.Duration
	ResolverBaseURL      string
	ResolverScanURL      string
	ResolverScanToken    string
	ResolverTimeout      time.Duration
	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	CacheTTL             time.Duration
	RateLimitEnabled     bool
	RateLimitCapacity    int
	RateLimitRefill      int
	RateLimitInterval    time.Duration
	AMQPURL              string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.session_issuer", "packvault-auth")
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("resolver.base_url", defaultResolverBaseURL)
	configViper.SetDefault("resolver.timeout_seconds", defaultResolverTimeout)
	configViper.SetDefault("redis.db", 0)
	configViper.SetDefault("cache.ttl_seconds", defaultCacheTTLSeconds)
	configViper.SetDefault("ratelimit.enabled", true)
	configViper.SetDefault("ratelimit.capacity", defaultRateCapacity)
	configViper.SetDefault("ratelimit.refill_tokens", defaultRateRefill)
	configViper.SetDefault("ratelimit.refill_interval_seconds", defaultRateIntervalS)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		DatabasePath:         configViper.GetString("database.path"),
		LogLevel:             configViper.GetString("log.level"),
		SessionSigningSecret: configViper.GetString("auth.session_signing_secret"),
		SessionIssuer:        configViper.GetString("auth.session_issuer"),
		TokenSigningSecret:   configViper.GetString("auth.signing_secret"),
		TokenTTL:             time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		ResolverBaseURL:      configViper.GetString("resolver.base_url"),
		ResolverScanURL:      configViper.GetString("resolver.scan_url"),
		ResolverScanToken:    configViper.GetString("resolver.scan_token"),
		ResolverTimeout:      time.Duration(configViper.GetInt("resolver.timeout_seconds")) * time.Second,
		RedisAddr:            configViper.GetString("redis.addr"),
		RedisPassword:        configViper.GetString("redis.password"),
		RedisDB:              configViper.GetInt("redis.db"),
		CacheTTL:             time.Duration(configViper.GetInt("cache.ttl_seconds")) * time.Second,
		RateLimitEnabled:     configViper.GetBool("ratelimit.enabled"),
		RateLimitCapacity:    configViper.GetInt("ratelimit.capacity"),
		RateLimitRefill:      configViper.GetInt("ratelimit.refill_tokens"),
		RateLimitInterval:    time.Duration(configViper.GetInt("ratelimit.refill_interval_seconds")) * time.Second,
		AMQPURL:              configViper.GetString("amqp.url"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.TokenSigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.SessionSigningSecret) == "" {
		return fmt.Errorf("auth.session_signing_secret is required")
	}
	if strings.TrimSpace(c.ResolverBaseURL) == "" {
		return fmt.Errorf("resolver.base_url is required")
	}
	if c.RateLimitCapacity < 1 {
		return fmt.Errorf("ratelimit.capacity must be positive")
	}
	if c.RateLimitRefill < 1 {
		return fmt.Errorf("ratelimit.refill_tokens must be positive")
	}
	if c.RateLimitInterval <= 0 {
		return fmt.Errorf("ratelimit.refill_interval_seconds must be positive")
	}
	return nil
}
