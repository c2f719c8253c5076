package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/reportdesk/reportdesk/internal/config"
	"github.com/reportdesk/reportdesk/internal/http/api/handlers"
	"github.com/reportdesk/reportdesk/internal/metrics"
	"github.com/reportdesk/reportdesk/internal/models"
	"github.com/reportdesk/reportdesk/internal/ratelimit"
	"github.com/reportdesk/reportdesk/internal/security"
	"github.com/reportdesk/reportdesk/internal/store"
	"github.com/reportdesk/reportdesk/internal/workflow"
)

// Context keys set by the auth middleware.
const (
	ContextUserID    = "userID"
	ContextUserEmail = "userEmail"
)

// Deps bundles what route registration needs.
type Deps struct {
	DB         *gorm.DB
	Store      *store.Store
	JWT        config.JWTConfig
	Dispatcher *workflow.Dispatcher
	Limiter    ratelimit.Limiter
	RateLimit  config.RateLimitConfig
	Metrics    *metrics.Metrics
}

// RegisterRoutes registers all routes, middleware, and handlers.
func RegisterRoutes(r *gin.Engine, deps Deps) {
	if r == nil || deps.DB == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(deps.DB)
	r.GET("/healthz", healthHandler.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authHandler := handlers.NewAuthHandler(deps.DB, deps.JWT)
	authGroup := r.Group("/auth")
	if deps.Limiter != nil {
		authGroup.Use(ratelimit.PerIPMiddleware(deps.Limiter, deps.RateLimit.AuthPerSecond))
	}
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)
	authGroup.GET("/me", userAuthMiddleware(deps.DB, deps.JWT), authHandler.Me)

	reportHandler := handlers.NewReportHandler(deps.Store, deps.Dispatcher, deps.Metrics)
	// The completion callback authenticates with the shared secret, not a
	// bearer token; the workflow engine has no user account.
	r.POST("/reports/:id/complete", reportHandler.Complete)

	authed := r.Group("")
	authed.Use(userAuthMiddleware(deps.DB, deps.JWT))

	companyHandler := handlers.NewCompanyHandler(deps.DB, deps.Store)
	authed.POST("/companies", companyHandler.Create)
	authed.GET("/companies", companyHandler.List)
	authed.GET("/companies/autocomplete", companyHandler.Autocomplete)
	authed.GET("/companies/:id", companyHandler.Get)
	authed.GET("/companies/:id/reports", companyHandler.Reports)

	authed.POST("/reports", reportHandler.Create)
	authed.GET("/reports/my", reportHandler.ListMine)
	authed.GET("/reports/:id", reportHandler.Get)
	authed.DELETE("/reports/:id", reportHandler.Delete)

	statsHandler := handlers.NewStatsHandler(deps.DB)
	authed.GET("/stats", statsHandler.Summary)
	authed.GET("/stats/activity", statsHandler.Activity)
}

// userAuthMiddleware validates bearer tokens and loads the user context.
func userAuthMiddleware(db *gorm.DB, jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		claims, errJWT := security.ParseUserToken(jwtCfg.Secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		var user models.User
		if errFind := db.WithContext(c.Request.Context()).First(&user, claims.UserID).Error; errFind != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
			return
		}
		if !user.Active {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "account disabled"})
			return
		}

		c.Set(ContextUserID, user.ID)
		c.Set(ContextUserEmail, user.Email)
		c.Next()
	}
}
