package handler

import (
	"net/http"

	"github.com/GoPolymarket/polysignal/internal/market"
	"github.com/GoPolymarket/polysignal/internal/middleware"
	"github.com/GoPolymarket/polysignal/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterDeps struct {
	Pipeline *service.Pipeline
	Audit    *service.AuditService
	History  *market.HistoryStore
	Limiter  *middleware.IPRateLimiter

	AdminKey       string
	ReadOnly       bool
	MetricsEnabled bool
}

func NewRouter(d RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.MetricsMiddleware())
	r.Use(middleware.RequestLogMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":             "ok",
			"service":            "polysignal",
			"kill_switch_active": d.Pipeline.Engine().Snapshot().KillSwitchActive,
		})
	})
	if d.MetricsEnabled {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	signals := NewSignalHandler(d.Pipeline)
	gov := NewGovernanceHandler(d.Pipeline)
	audit := NewAuditHandler(d.Audit)
	prices := NewMarketHandler(d.History)
	admin := middleware.AdminMiddleware(d.AdminKey)

	v1 := r.Group("/v1")
	v1.Use(middleware.RateLimitMiddleware(d.Limiter))
	v1.Use(middleware.ReadOnlyMiddleware(d.ReadOnly))
	{
		v1.POST("/signals", signals.Score)
		v1.GET("/signals", signals.Cached)
		v1.POST("/pipeline/run", admin, signals.Run)

		v1.POST("/markets/:id/prices", prices.AppendPrices)
		v1.GET("/markets/:id/prices", prices.Prices)

		v1.POST("/governance/evaluate", gov.Evaluate)
		v1.POST("/governance/executions", admin, gov.RecordExecution)
		v1.GET("/governance/stats", gov.Stats)
		v1.GET("/governance/state", gov.State)

		// activation stays open so anyone can stop trading; reset needs the admin key
		v1.POST("/kill-switch", gov.ActivateKillSwitch)
		v1.DELETE("/kill-switch", admin, gov.ResetKillSwitch)

		v1.GET("/audit", audit.List)
		v1.GET("/stream", audit.Stream)
	}
	return r
}
