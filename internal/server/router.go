package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/packvault/backend/internal/auth"
	"github.com/packvault/backend/internal/cache"
	"github.com/packvault/backend/internal/cards"
	"github.com/packvault/backend/internal/catalog"
	"github.com/packvault/backend/internal/vault"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const userIDContextKey = "packvault_user_id"

var (
	errMissingSessionVerifier = errors.New("session verifier dependency required")
	errMissingTokenManager    = errors.New("token manager dependency required")
	errMissingVaultService    = errors.New("vault service dependency required")
	errMissingCatalogService  = errors.New("catalog service dependency required")
	errInvalidAuthorization   = errors.New("authorization header missing or invalid")
)

// SessionVerifier validates externally issued session tokens.
type SessionVerifier interface {
	ValidateToken(token string) (auth.SessionClaims, error)
}

// BackendTokenManager issues and validates backend bearer tokens.
type BackendTokenManager interface {
	IssueBackendToken(ctx context.Context, subject string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// IdentityResolver maps session claims to a canonical vault user id.
type IdentityResolver interface {
	ResolveCanonicalUserID(claims auth.SessionClaims) (string, error)
}

// Dependencies wires the HTTP surface to its collaborators.
type Dependencies struct {
	SessionVerifier SessionVerifier
	TokenManager    BackendTokenManager
	Identities      IdentityResolver
	VaultService    *vault.Service
	CatalogService  *catalog.Service
	CardResolver    cards.Resolver
	ScanDecoder     cards.ScanDecoder
	SnapshotCache   *cache.SnapshotCache
	Realtime        *RealtimeDispatcher
	RateLimit       RateLimitConfig
	RedisClient     *redis.Client
	Logger          *zap.Logger
}

// NewHTTPHandler builds the gin router for the vault API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.SessionVerifier == nil {
		return nil, errMissingSessionVerifier
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.VaultService == nil {
		return nil, errMissingVaultService
	}
	if deps.CatalogService == nil {
		return nil, errMissingCatalogService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		sessions:   deps.SessionVerifier,
		tokens:     deps.TokenManager,
		identities: deps.Identities,
		vault:      deps.VaultService,
		catalog:    deps.CatalogService,
		resolver:   deps.CardResolver,
		scans:      deps.ScanDecoder,
		cache:      deps.SnapshotCache,
		realtime:   realtime,
		logger:     logger,
	}

	router.POST("/auth/session", handler.handleSessionExchange)

	scanLimiter := rateLimitMiddleware(deps.RateLimit, deps.RedisClient, logger)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/season-sets", handler.handleSeasonSets)
	protected.GET("/vault/state", handler.handleVaultState)
	protected.GET("/vault/events", handler.handleVaultEvents)
	protected.POST("/vault/cards", scanLimiter, handler.handleAddCard)
	protected.POST("/vault/import/preview", handler.handleImportPreview)
	protected.POST("/vault/import/commit", scanLimiter, handler.handleImportCommit)
	protected.GET("/cards/:reference", handler.handleCardLookup)
	protected.GET("/card-scan", scanLimiter, handler.handleScanDecode)

	return router, nil
}

type httpHandler struct {
	sessions   SessionVerifier
	tokens     BackendTokenManager
	identities IdentityResolver
	vault      *vault.Service
	catalog    *catalog.Service
	resolver   cards.Resolver
	scans      cards.ScanDecoder
	cache      *cache.SnapshotCache
	realtime   *RealtimeDispatcher
	logger     *zap.Logger
}

type sessionRequestPayload struct {
	SessionToken string `json:"session_token"`
}

type sessionResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleSessionExchange(c *gin.Context) {
	var request sessionRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.SessionToken) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	claims, err := h.sessions.ValidateToken(request.SessionToken)
	if err != nil {
		h.logger.Warn("session token verification failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	subject := claims.Subject
	if h.identities != nil {
		resolved, err := h.identities.ResolveCanonicalUserID(claims)
		if err != nil {
			h.logger.Error("identity resolution failed", zap.Error(err))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		subject = resolved
	}

	token, expiresIn, err := h.tokens.IssueBackendToken(c.Request.Context(), subject)
	if err != nil {
		h.logger.Error("failed to issue backend token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	response := sessionResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	}
	c.JSON(http.StatusOK, response)
}

// authorizeRequest accepts a bearer header or, for EventSource connections
// that cannot set headers, an access_token query parameter.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := ""
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	} else {
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	})
}

func (h *httpHandler) requestUserID(c *gin.Context) (string, bool) {
	value, exists := c.Get(userIDContextKey)
	if !exists {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	userID, ok := value.(string)
	if !ok || userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return userID, true
}
