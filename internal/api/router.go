package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jar-trace/jar-trace-go/internal/api/handlers"
	"github.com/jar-trace/jar-trace-go/internal/config"
	"github.com/jar-trace/jar-trace-go/internal/middleware"
	"github.com/jar-trace/jar-trace-go/internal/service"
	"github.com/sirupsen/logrus"
)

// SetupRouter 组装路由
func SetupRouter(cfg *config.Config, logger *logrus.Logger, traceService service.TraceService, promMetrics *middleware.PrometheusMetrics) *gin.Engine {
	// 设置 Gin 模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// 全局中间件
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(logger))

	// Prometheus 监控中间件
	if promMetrics != nil {
		r.Use(promMetrics.HTTPMiddleware())
		r.GET("/metrics", promMetrics.Handler())
	}

	traceHandler := handlers.NewTraceHandler(traceService, promMetrics, "./uploads", logger)

	apiGroup := r.Group("/api")
	{
		apiGroup.POST("/taint", traceHandler.Taint)
		apiGroup.GET("/sessions", traceHandler.ListSessions)
		apiGroup.GET("/sessions/:id", traceHandler.GetSession)
		apiGroup.GET("/sessions/:id/tainted", traceHandler.DownloadTainted)
		apiGroup.POST("/sessions/:id/extract", traceHandler.Extract)
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}

// LoggerMiddleware gin 请求日志中间件
func LoggerMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
			"client":   c.ClientIP(),
		}).Debug("HTTP request")
	}
}
