package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (a *App) routes() *gin.Engine {
	if a.cfg.Development() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(requestLogger(a.log.Named("http")), gin.Recovery(), errorBoundary(a.cfg.Development(), a.log.Named("http")))

	r.GET("/health", a.handleHealth)
	r.GET("/ws", a.handleWebSocket)

	api := r.Group("/api")
	api.POST("/auth/register", a.handleRegister)
	api.POST("/auth/login", a.handleLogin)

	chats := api.Group("/chats", a.requireAuth)
	chats.GET("", a.handleListChats)
	chats.POST("", a.handleCreateChat)
	chats.GET("/:id", a.handleGetChat)
	chats.GET("/:id/messages", a.handleListMessages)
	chats.POST("/:id/messages", a.handleSendMessage)
	chats.DELETE("/:id/participants/me", a.handleLeaveChat)

	messages := api.Group("/messages", a.requireAuth)
	messages.DELETE("/:id", a.handleDeleteMessage)

	return r
}

func (a *App) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"connections": a.engine.Registry().Len(),
	})
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if c.Request.URL.Path == "/health" {
			return
		}
		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("remote", c.ClientIP()),
		)
	}
}
