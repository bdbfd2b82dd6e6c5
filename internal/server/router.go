// Package server exposes the webhook endpoint over HTTP.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"paycal/internal/correlation"
	"paycal/internal/metrics"
)

// NewEngine builds the gin engine with middleware and routes.
func NewEngine(logger *slog.Logger, webhook *WebhookHandler) *gin.Engine {
	engine := gin.New()
	engine.Use(
		CorrelationMiddleware(),
		metrics.GinMiddleware(),
		AccessLog(logger),
		gin.CustomRecovery(func(c *gin.Context, recovered any) {
			logger.ErrorContext(c.Request.Context(), "Panic in HTTP handler", "panic", recovered, "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": msgInternal})
		}),
	)

	engine.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "up"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))

	engine.POST("/webhook", webhook.Receive)
	engine.GET("/webhook", webhook.Liveness)

	return engine
}

// CorrelationMiddleware reuses X-Correlation-ID from the request or generates
// one, stores it in the request context and echoes it in the response.
func CorrelationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(correlation.HeaderName)
		if id == "" {
			id = correlation.NewID()
		}

		c.Request = c.Request.WithContext(correlation.WithID(c.Request.Context(), id))
		c.Header(correlation.HeaderName, id)

		c.Next()
	}
}

// AccessLog logs one line per request.
func AccessLog(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.InfoContext(c.Request.Context(), "HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
