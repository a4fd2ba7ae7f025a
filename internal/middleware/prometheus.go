package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jar-trace/jar-trace-go/internal/extract"
	"github.com/jar-trace/jar-trace-go/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// PrometheusMetrics Prometheus 指标收集器
type PrometheusMetrics struct {
	logger *logrus.Logger

	// HTTP 请求指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 业务指标
	sessionsTotal      prometheus.Counter
	entriesWalked      *prometheus.CounterVec // phase: taint/extract
	parseFailures      *prometheus.CounterVec
	membersTainted     *prometheus.CounterVec // kind: class/field/method
	mappingRowsEmitted *prometheus.CounterVec // kind: CLASS/FIELD/METHOD
	phaseDuration      *prometheus.HistogramVec
}

// NewPrometheusMetrics 创建 Prometheus 指标收集器
func NewPrometheusMetrics(logger *logrus.Logger, namespace string) *PrometheusMetrics {
	if namespace == "" {
		namespace = "jar_trace"
	}

	return &PrometheusMetrics{
		logger: logger,

		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		sessionsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_total",
				Help:      "Total number of taint sessions created",
			},
		),
		entriesWalked: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "container_entries_total",
				Help:      "Total container entries walked per phase",
			},
			[]string{"phase"},
		),
		parseFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "class_parse_failures_total",
				Help:      "Class entries that failed to parse and were passed through or skipped",
			},
			[]string{"phase"},
		),
		membersTainted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "members_tainted_total",
				Help:      "Members tainted with a uid marker",
			},
			[]string{"kind"},
		),
		mappingRowsEmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mapping_rows_total",
				Help:      "Mapping table rows emitted by extraction",
			},
			[]string{"kind"},
		),
		phaseDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "phase_duration_seconds",
				Help:      "Duration of a full taint or extract pass",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"phase"},
		),
	}
}

// HTTPMiddleware gin HTTP 请求指标中间件
func (pm *PrometheusMetrics) HTTPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		pm.httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		pm.httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler /metrics 端点处理器
func (pm *PrometheusMetrics) Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// ObserveTaint 记录一次污点阶段的结果
func (pm *PrometheusMetrics) ObserveTaint(result *service.TaintResult, duration time.Duration) {
	pm.sessionsTotal.Inc()
	pm.entriesWalked.WithLabelValues("taint").Add(float64(result.Stats.Entries))
	pm.parseFailures.WithLabelValues("taint").Add(float64(result.Stats.ParseFailures))
	pm.membersTainted.WithLabelValues("class").Add(float64(result.Classes))
	pm.membersTainted.WithLabelValues("field").Add(float64(result.Fields))
	pm.membersTainted.WithLabelValues("method").Add(float64(result.Methods))
	pm.phaseDuration.WithLabelValues("taint").Observe(duration.Seconds())
}

// ObserveExtract 记录一次抽取阶段的结果
func (pm *PrometheusMetrics) ObserveExtract(result *service.ExtractResult, duration time.Duration) {
	pm.mappingRowsEmitted.WithLabelValues(string(extract.RowClass)).Add(float64(result.ClassRows))
	pm.mappingRowsEmitted.WithLabelValues(string(extract.RowField)).Add(float64(result.FieldRows))
	pm.mappingRowsEmitted.WithLabelValues(string(extract.RowMethod)).Add(float64(result.MethodRows))
	pm.phaseDuration.WithLabelValues("extract").Observe(duration.Seconds())
}
