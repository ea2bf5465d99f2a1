package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/filevault-gateway/internal/middleware"
)

func (s *server) router() *gin.Engine {
	router := gin.New()

	// Global middleware
	router.Use(middleware.RecoveryMiddleware(s.logger))
	router.Use(middleware.LoggerMiddleware(s.logger))
	router.Use(middleware.CORSMiddleware(s.cfg.Server.CORSOrigin))

	// multipart bodies above this are spooled to disk by net/http
	router.MaxMultipartMemory = 8 << 20

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	requireAuth := middleware.AuthMiddleware(s.tokens, s.sessions, s.logger)

	// Auth routes
	authGroup := router.Group("/api/auth")
	{
		authGroup.POST("/register", s.handleRegister)
		authGroup.POST("/login", s.handleLogin)
		authGroup.POST("/logout", requireAuth, s.handleLogout)
		authGroup.GET("/me", requireAuth, s.handleGetMe)
		authGroup.POST("/forgot-password", s.handleForgotPassword)
		authGroup.GET("/reset-password/:token", s.handleValidateReset)
		authGroup.POST("/reset-password/:token", s.handleConsumeReset)
	}

	// File routes
	fileGroup := router.Group("/api/files")
	fileGroup.Use(requireAuth)
	{
		fileGroup.POST("", s.handleUpload)
		fileGroup.GET("", s.handleListFiles)
		fileGroup.GET("/:key", s.handleDownload)
		fileGroup.DELETE("/:key", s.handleDeleteFile)
		fileGroup.POST("/:key/share", s.handleCreateShare)
	}

	router.GET("/api/activity", requireAuth, s.handleActivity)

	// Public share access
	router.GET("/share/:token", s.handleSharedDownload)

	return router
}
