// Package api - Router setup
package api

import (
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/aethra/civicdesk/internal/config"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RouterConfig configures SetupRouter
type RouterConfig struct {
	CORS config.CORSConfig

	// UploadsDir is served at UploadsPrefix when files are stored on local disk
	UploadsDir    string
	UploadsPrefix string
}

// SetupRouter creates and configures the Gin router
func SetupRouter(cfg RouterConfig, handler *Handler, adminHandler *AdminHandler, authHandler *AuthHandler, logger *logrus.Logger) (*gin.Engine, error) {
	if err := RegisterValidators(); err != nil {
		return nil, fmt.Errorf("register validators: %w", err)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(logger))
	r.Use(cors.New(corsConfig(cfg.CORS)))
	r.MaxMultipartMemory = maxFormFileBytes

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "NOT_FOUND", "message": "route not found"})
	})

	if cfg.UploadsDir != "" && cfg.UploadsPrefix != "" {
		r.Static(cfg.UploadsPrefix, cfg.UploadsDir)
	}

	// Health check (no auth required)
	r.GET("/health", handler.Health)
	r.GET("/api/health", handler.Health)

	authenticated := handler.AuthMiddleware()
	adminOnly := handler.RequireAdminMiddleware()

	// ==========================================================================
	// AUTH
	// ==========================================================================
	authRoutes := r.Group("/auth")
	{
		authRoutes.POST("/register", authHandler.Register)
		authRoutes.POST("/login", authHandler.Login)
		authRoutes.POST("/admin-login", authHandler.AdminLogin)
		authRoutes.POST("/refresh", authHandler.RefreshToken)
	}

	authProtected := r.Group("/auth", authenticated)
	{
		authProtected.GET("/me", authHandler.GetMe)
		authProtected.POST("/change-password", authHandler.ChangePassword)
	}

	// ==========================================================================
	// USERS
	// ==========================================================================
	users := r.Group("/users")
	{
		users.POST("", authHandler.Register)
		users.GET("/sub-sectors", adminHandler.PublicSubSectors)
	}

	usersSelf := r.Group("/users", authenticated)
	{
		usersSelf.PATCH("/me", adminHandler.UpdateMe)
		usersSelf.PATCH("/me/deactivate", adminHandler.DeactivateMe)
		usersSelf.GET("/:id", adminHandler.GetUser)
	}

	usersAdmin := r.Group("/users", authenticated, adminOnly)
	{
		usersAdmin.GET("", adminHandler.ListUsers)
		usersAdmin.GET("/pending", adminHandler.PendingUsers)
		usersAdmin.GET("/with-request-count", adminHandler.UsersWithRequestCount)
		usersAdmin.PATCH("/:id", adminHandler.UpdateUser)
		usersAdmin.PATCH("/:id/approve", adminHandler.ApproveUser)
		usersAdmin.PATCH("/:id/reject", adminHandler.RejectUser)
		usersAdmin.DELETE("/:id", adminHandler.DeleteUser)
	}

	subSectors := r.Group("/sub-sectors", authenticated, adminOnly)
	{
		subSectors.GET("", adminHandler.ListSubSectors)
		subSectors.GET("/:id", adminHandler.GetSubSector)
		subSectors.POST("", adminHandler.CreateSubSector)
		subSectors.PATCH("/:id", adminHandler.UpdateSubSector)
		subSectors.DELETE("/:id", adminHandler.DeleteSubSector)
	}

	// ==========================================================================
	// CATALOG
	// ==========================================================================
	r.GET("/request-types", handler.ListRequestTypes)

	typesAdmin := r.Group("/request-types", authenticated, adminOnly)
	{
		typesAdmin.POST("", handler.CreateRequestType)
		typesAdmin.POST("/upload-icon", handler.UploadRequestTypeIcon)
		typesAdmin.GET("/:id", handler.GetRequestType)
		typesAdmin.PATCH("/:id", handler.UpdateRequestType)
		typesAdmin.DELETE("/:id", handler.DeleteRequestType)
	}

	options := r.Group("/request-type-options", authenticated)
	{
		options.GET("/by-request-type/:requestTypeId", handler.OptionsByRequestType)
		options.GET("/:id", handler.GetOption)
	}

	optionsAdmin := r.Group("/request-type-options", authenticated, adminOnly)
	{
		optionsAdmin.GET("", handler.ListOptions)
		optionsAdmin.POST("", handler.CreateOption)
		optionsAdmin.POST("/upload-image", handler.UploadOptionImage)
		optionsAdmin.PATCH("/:id", handler.UpdateOption)
		optionsAdmin.DELETE("/:id", handler.DeleteOption)
	}

	// ==========================================================================
	// REQUESTS
	// ==========================================================================
	requests := r.Group("/requests", authenticated)
	{
		requests.POST("", handler.RequireApprovedMiddleware(), handler.CreateRequest)
		requests.GET("/my", handler.MyRequests)
		requests.GET("/:id", handler.GetRequest)
		requests.DELETE("/:id", handler.DeleteRequest)
	}

	requestsAdmin := r.Group("/requests", authenticated, adminOnly)
	{
		requestsAdmin.GET("", handler.ListRequests)
		requestsAdmin.GET("/stats/summary", handler.StatsSummary)
		requestsAdmin.GET("/stats/daily", handler.DailyStats)
		requestsAdmin.GET("/reports/dashboard", handler.Dashboard)
		requestsAdmin.PATCH("/:id", handler.UpdateRequest)
		requestsAdmin.PATCH("/:id/status", handler.UpdateRequestStatus)
	}

	// ==========================================================================
	// DAILY BULLETIN
	// ==========================================================================
	bulletins := r.Group("/daily-bulletin")
	{
		bulletins.GET("/today", handler.TodayBulletin)
		bulletins.GET("/by-date/:date", handler.BulletinByDate)
	}

	bulletinsAdmin := r.Group("/daily-bulletin", authenticated, adminOnly)
	{
		bulletinsAdmin.GET("", handler.ListBulletins)
		bulletinsAdmin.POST("", handler.UpsertBulletin)
		bulletinsAdmin.DELETE("/:date", handler.DeleteBulletin)
	}

	return r, nil
}

// corsConfig builds the CORS policy. When credentials are used, specific origins must be provided (not *).
func corsConfig(cfg config.CORSConfig) cors.Config {
	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length", "Content-Type", "X-Total-Count"},
		AllowCredentials: cfg.AllowCredentials,
		MaxAge:           12 * time.Hour,
	}

	switch {
	case slices.Contains(cfg.AllowedOrigins, "*"):
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	case len(cfg.AllowedOrigins) > 0:
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	default:
		// Development defaults
		corsCfg.AllowOrigins = []string{
			"http://localhost:3000",
			"http://localhost:8080",
			"http://127.0.0.1:3000",
			"http://127.0.0.1:8080",
		}
	}
	return corsCfg
}
