package http

import (
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codepair/matching-service/internal/delivery/http/handler"
	"github.com/codepair/matching-service/internal/delivery/http/middleware"
	"github.com/codepair/matching-service/internal/domain"
	"github.com/codepair/matching-service/internal/infrastructure/metrics"
)

type Router struct {
	matchHandler   *handler.MatchHandler
	authMiddleware *middleware.AuthMiddleware
	metrics        *metrics.Metrics
}

func NewRouter(
	matchHandler *handler.MatchHandler,
	authMiddleware *middleware.AuthMiddleware,
	m *metrics.Metrics,
) *Router {
	return &Router{
		matchHandler:   matchHandler,
		authMiddleware: authMiddleware,
		metrics:        m,
	}
}

func (r *Router) Setup() *gin.Engine {
	registerValidators()

	router := gin.Default()

	// Health check (supports both GET and HEAD)
	healthHandler := func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	}
	router.GET("/health", healthHandler)
	router.HEAD("/health", healthHandler)

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
		r.metrics.Registry(), promhttp.HandlerOpts{})))

	// API v1
	v1 := router.Group("/api/v1")
	{
		match := v1.Group("/match")
		match.Use(r.authMiddleware.RequireAuth())
		{
			match.POST("/requests", r.matchHandler.CreateRequest)
			match.GET("/requests/:id", r.matchHandler.GetStatus)
			match.DELETE("/requests/:id", r.matchHandler.CancelRequest)
			match.GET("/requests/:id/events", r.matchHandler.StreamEvents)
		}
	}

	return router
}

func registerValidators() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("difficulty", func(fl validator.FieldLevel) bool {
			return domain.Difficulty(fl.Field().String()).Valid()
		})
	}
}
