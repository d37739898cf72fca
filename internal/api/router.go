// Package api wires the HTTP routes of the loyalty server.
package api

import (
	"loyalty-app/internal/api/handlers"
	"loyalty-app/internal/auth"
	"loyalty-app/internal/config"
	"loyalty-app/internal/logger"
	"loyalty-app/internal/metrics"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Dependencies are the handlers and verifier the routes are built from
type Dependencies struct {
	Chat     *handlers.ChatHandlers
	Redeem   *handlers.RedeemHandlers
	Health   *handlers.HealthHandlers
	Verifier *auth.Verifier
}

// NewRouter creates the gin engine serving the public API, admin routes and /metrics
func NewRouter(cfg *config.AppConfig, deps Dependencies) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())
	router.Use(cors.New(corsConfig(cfg.Server.AllowedOrigins)))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.GET("/health", deps.Health.HealthHandler)
		api.GET("/ready", deps.Health.ReadyHandler)

		chatAuth := auth.OptionalLIFF(deps.Verifier)
		if cfg.LIFF.RequireAuthForChat {
			chatAuth = auth.RequireLIFF(deps.Verifier)
		}
		api.POST("/chat", chatAuth, deps.Chat.ChatStreamHandler)

		user := api.Group("", auth.RequireLIFF(deps.Verifier))
		user.POST("/redeem", deps.Redeem.RedeemHandler)
		user.GET("/points", deps.Redeem.PointsHandler)

		admin := api.Group("/admin", auth.AdminAuth(cfg.Admin))
		admin.POST("/codes", deps.Redeem.IssueCodesHandler)
	}

	return router
}

func corsConfig(origins []string) cors.Config {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Retry-After", handlers.DataStreamHeader},
		MaxAge:        12 * time.Hour,
	}
}

// requestLogger logs each request and records it in the HTTP metrics
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		metrics.ObserveHTTP(route, c.Request.Method, status, elapsed)

		entry := logger.Log.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"route":      route,
			"status":     status,
			"latency_ms": elapsed.Milliseconds(),
			"client_ip":  c.ClientIP(),
		})
		if len(c.Errors) > 0 {
			entry = entry.WithField("error", c.Errors.String())
		}

		switch {
		case status >= http.StatusInternalServerError:
			entry.Error("Request failed")
		case status >= http.StatusBadRequest:
			entry.Warn("Request rejected")
		case route == "/metrics" || route == "/api/health":
			entry.Debug("Request served")
		default:
			entry.Info("Request served")
		}
	}
}
