package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/packvault/backend/internal/auth"
	"github.com/packvault/backend/internal/cache"
	"github.com/packvault/backend/internal/cards"
	"github.com/packvault/backend/internal/catalog"
	"github.com/packvault/backend/internal/config"
	"github.com/packvault/backend/internal/database"
	"github.com/packvault/backend/internal/events"
	"github.com/packvault/backend/internal/logging"
	"github.com/packvault/backend/internal/server"
	"github.com/packvault/backend/internal/users"
	"github.com/packvault/backend/internal/vault"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "packvault-api",
		Short: "PackVault booster allocation backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Backend token TTL in minutes")
	cmd.PersistentFlags().String("session-issuer", defaults.GetString("auth.session_issuer"), "Expected issuer of external session tokens")
	cmd.PersistentFlags().String("resolver-base-url", defaults.GetString("resolver.base_url"), "Card catalog API base URL")
	cmd.PersistentFlags().String("resolver-scan-url", defaults.GetString("resolver.scan_url"), "Scan decode endpoint URL")
	cmd.PersistentFlags().String("redis-addr", defaults.GetString("redis.addr"), "Redis address for cache and rate limiting")
	cmd.PersistentFlags().String("amqp-url", defaults.GetString("amqp.url"), "AMQP broker URL for scan events")
	cmd.PersistentFlags().String("signing-secret", "", "Backend signing secret (overrides env)")
	cmd.PersistentFlags().String("session-signing-secret", "", "Session token verification secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "auth.session_issuer", "session-issuer")
	bindFlag(cmd, "resolver.base_url", "resolver-base-url")
	bindFlag(cmd, "resolver.scan_url", "resolver-scan-url")
	bindFlag(cmd, "redis.addr", "redis-addr")
	bindFlag(cmd, "amqp.url", "amqp-url")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.session_signing_secret", "session-signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.TokenSigningSecret),
		Issuer:        "packvault-api",
		Audience:      "packvault-api",
		TokenTTL:      appConfig.TokenTTL,
	})

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SessionSigningSecret),
		Issuer:        appConfig.SessionIssuer,
	})
	if err != nil {
		return err
	}

	resolver, err := cards.NewHTTPResolver(cards.HTTPResolverConfig{
		BaseURL:   appConfig.ResolverBaseURL,
		ScanURL:   appConfig.ResolverScanURL,
		ScanToken: appConfig.ResolverScanToken,
		Timeout:   appConfig.ResolverTimeout,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	metadataStore, err := cards.NewMetadataStore(cards.MetadataStoreConfig{Database: db})
	if err != nil {
		return err
	}

	catalogService, err := catalog.NewService(catalog.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}

	identityService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		return err
	}

	redisClient := cache.NewClient(cache.ClientConfig{
		Addr:     appConfig.RedisAddr,
		Password: appConfig.RedisPassword,
		DB:       appConfig.RedisDB,
	}, logger)
	snapshotCache := cache.NewSnapshotCache(redisClient, appConfig.CacheTTL, logger)

	scanPublisher := events.NewScanPublisher(appConfig.AMQPURL, logger)

	vaultService, err := vault.NewService(vault.ServiceConfig{
		Database:   db,
		Resolver:   resolver,
		Metadata:   metadataStore,
		Clock:      time.Now,
		IDProvider: vault.NewUUIDProvider(),
		Logger:     logger,
		Events:     scanPublisher,
		Cache:      snapshotCache,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		SessionVerifier: sessionValidator,
		TokenManager:    tokenManager,
		Identities:      identityService,
		VaultService:    vaultService,
		CatalogService:  catalogService,
		CardResolver:    resolver,
		ScanDecoder:     resolver,
		SnapshotCache:   snapshotCache,
		Realtime:        server.NewRealtimeDispatcher(),
		RateLimit: server.RateLimitConfig{
			Enabled:        appConfig.RateLimitEnabled,
			Capacity:       appConfig.RateLimitCapacity,
			RefillTokens:   appConfig.RateLimitRefill,
			RefillInterval: appConfig.RateLimitInterval,
		},
		RedisClient: redisClient,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
