// Package server exposes the HTTP surface: webhook ingress, health, the
// maintainer OAuth flow, and the admin API.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/meritgate/meritgate/internal/engine"
	"github.com/meritgate/meritgate/internal/github"
	"github.com/meritgate/meritgate/internal/store"
)

const sessionUserContextKey = "meritgate_session_user"

var (
	errMissingEngine        = errors.New("engine dependency required")
	errMissingStore         = errors.New("store dependency required")
	errMissingWebhookSecret = errors.New("webhook secret required")
)

// RoleChecker resolves a user's permission level on a repository.
type RoleChecker interface {
	CollaboratorRole(ctx context.Context, owner, repo, username string) (github.CollaboratorRole, error)
}

// Dependencies wires the HTTP handler.
type Dependencies struct {
	Engine        *engine.Engine
	Store         store.Store
	Roles         RoleChecker
	WebhookSecret string
	Logger        *zap.Logger

	Sessions *SessionManager
	OAuth    *OAuthHandler

	Health HealthDeps
}

// NewHTTPHandler builds the gin router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Engine == nil {
		return nil, errMissingEngine
	}
	if deps.Store == nil {
		return nil, errMissingStore
	}
	if deps.WebhookSecret == "" {
		return nil, errMissingWebhookSecret
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	handler := &httpHandler{
		engine:        deps.Engine,
		store:         deps.Store,
		roles:         deps.Roles,
		webhookSecret: []byte(deps.WebhookSecret),
		logger:        logger,
		sessions:      deps.Sessions,
		oauth:         deps.OAuth,
		health:        newHealthState(deps.Health),
	}

	router.POST("/webhooks/github", handler.handleWebhook)
	router.GET("/health", handler.handleHealth)

	if deps.OAuth != nil && deps.Sessions != nil {
		router.GET("/auth/github", handler.handleOAuthLogin)
		router.GET("/auth/callback", handler.handleOAuthCallback)
		router.POST("/auth/logout", handler.handleLogout)
	}

	admin := router.Group("/api/repos/:owner/:repo")
	admin.Use(handler.requireMaintainer)
	admin.GET("/evaluations", handler.handleListEvaluations)
	admin.GET("/contributors", handler.handleListContributors)
	admin.GET("/events", handler.handleListEvents)
	admin.POST("/evaluations/:id/approve", handler.handleApproveEvaluation)
	admin.POST("/evaluations/:id/override", handler.handleOverrideEvaluation)
	admin.POST("/contributors/:user_id/adjust", handler.handleAdjustCredit)
	admin.POST("/contributors/:user_id/blacklist", handler.handleSetBlacklist)

	return router, nil
}

type httpHandler struct {
	engine        *engine.Engine
	store         store.Store
	roles         RoleChecker
	webhookSecret []byte
	logger        *zap.Logger
	sessions      *SessionManager
	oauth         *OAuthHandler
	health        *healthState
}

// requireMaintainer gates the admin API: a valid session cookie naming a user
// who is a maintainer of the repository in the path.
func (h *httpHandler) requireMaintainer(c *gin.Context) {
	if h.sessions == nil || h.roles == nil {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin_api_disabled"})
		return
	}

	token, err := c.Cookie(h.sessions.CookieName())
	if err != nil || token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	login, err := h.sessions.Validate(token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	owner := c.Param("owner")
	repo := c.Param("repo")
	role, err := h.roles.CollaboratorRole(c.Request.Context(), owner, repo, login)
	if err != nil {
		h.logger.Warn("admin role lookup failed",
			zap.String("repo", owner+"/"+repo),
			zap.String("username", login),
			zap.Error(err))
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	if !role.IsMaintainer() {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	c.Set(sessionUserContextKey, login)
	c.Next()
}
