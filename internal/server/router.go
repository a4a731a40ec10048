package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/unitreviews/backend/internal/auth"
	"github.com/unitreviews/backend/internal/jobs"
	"github.com/unitreviews/backend/internal/overview"
	"github.com/unitreviews/backend/internal/reviews"
	"github.com/unitreviews/backend/internal/setu"
	"go.uber.org/zap"
)

const (
	userContextKey = "unitreviews_user"

	JobRefreshTags      = "refresh-tags"
	JobRefreshOverviews = "refresh-overviews"
)

var (
	errMissingValidator     = errors.New("session validator dependency required")
	errMissingReviews       = errors.New("reviews service dependency required")
	errMissingOverviews     = errors.New("overview service dependency required")
	errMissingJobs          = errors.New("job runner dependency required")
	errInvalidAuthorization = errors.New("session missing or invalid")
)

// SessionValidator authenticates a request.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// Dependencies wires the HTTP surface to the services.
type Dependencies struct {
	Validator SessionValidator
	Reviews   *reviews.Service
	Overviews *overview.Service
	// Setu may be nil when no evaluation store is configured.
	Setu setu.Store
	Jobs *jobs.Runner
	// AllowedOrigins enables credentialed CORS for the listed origins.
	// Empty allows any origin without credentials.
	AllowedOrigins []string
	Logger         *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Validator == nil {
		return nil, errMissingValidator
	}
	if deps.Reviews == nil {
		return nil, errMissingReviews
	}
	if deps.Overviews == nil {
		return nil, errMissingOverviews
	}
	if deps.Jobs == nil {
		return nil, errMissingJobs
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		validator: deps.Validator,
		reviews:   deps.Reviews,
		overviews: deps.Overviews,
		setu:      deps.Setu,
		jobs:      deps.Jobs,
		logger:    logger,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/units", handler.handleListUnits)
	router.GET("/units/:code", handler.handleGetUnit)
	router.GET("/units/:code/reviews", handler.handleListUnitReviews)
	router.GET("/units/:code/setu", handler.handleListSetu)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/units/:code/reviews", handler.handleCreateReview)
	protected.PATCH("/reviews/:id", handler.handleUpdateReview)
	protected.DELETE("/reviews/:id", handler.handleDeleteReview)
	protected.POST("/reviews/:id/toggle-reaction", handler.handleToggleReaction)
	protected.GET("/notifications", handler.handleListNotifications)
	protected.PATCH("/notifications/:id/read", handler.handleMarkNotificationRead)
	protected.DELETE("/notifications/:id", handler.handleDeleteNotification)
	protected.GET("/users/me", handler.handleCurrentUser)
	protected.DELETE("/users/:id", handler.handleDeleteUser)

	admin := protected.Group("/")
	admin.Use(handler.requireAdmin)
	admin.POST("/units", handler.handleCreateUnit)
	admin.PUT("/units/:code/tags", handler.handleSetUnitTags)
	admin.PUT("/units/:code/setu", handler.handleUpsertSetu)
	admin.POST("/units/:code/overview", handler.handleRefreshOverview)
	admin.POST("/admin/jobs/"+JobRefreshTags, handler.handleRunJob(JobRefreshTags))
	admin.POST("/admin/jobs/"+JobRefreshOverviews, handler.handleRunJob(JobRefreshOverviews))

	return router, nil
}

// corsMiddleware only sends cookies cross-origin to listed origins. With no
// list any origin may call the API, but only with a bearer token.
func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = allowedOrigins
		config.AllowCredentials = true
	}
	return cors.New(config)
}

type httpHandler struct {
	validator SessionValidator
	reviews   *reviews.Service
	overviews *overview.Service
	setu      setu.Store
	jobs      *jobs.Runner
	logger    *zap.Logger
}

// authorizeRequest validates the session and resolves it to a stored user.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.validator.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("session validation failed", zap.Error(err))
		} else {
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": errInvalidAuthorization.Error()})
		return
	}
	user, err := h.reviews.EnsureUser(c.Request.Context(), reviews.UserIdentity{
		Email:     claims.UserEmail,
		AvatarURL: claims.UserAvatarURL,
		GoogleID:  claims.UserGoogleID,
		Admin:     claims.IsAdmin(),
	})
	if err != nil {
		h.respondError(c, err)
		c.Abort()
		return
	}
	c.Set(userContextKey, user)
	c.Next()
}

func (h *httpHandler) requireAdmin(c *gin.Context) {
	if !currentUser(c).IsAdmin {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin_required", "code": "server.admin_required"})
		return
	}
	c.Next()
}

func currentUser(c *gin.Context) reviews.User {
	value, ok := c.Get(userContextKey)
	if !ok {
		return reviews.User{}
	}
	user, _ := value.(reviews.User)
	return user
}

func currentActor(c *gin.Context) reviews.Actor {
	user := currentUser(c)
	return reviews.Actor{UserID: user.ID, IsAdmin: user.IsAdmin}
}
