package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jar-trace/jar-trace-go/internal/middleware"
	"github.com/jar-trace/jar-trace-go/internal/service"
	"github.com/sirupsen/logrus"
)

// TraceHandler 污点/抽取接口处理器
type TraceHandler struct {
	traceService service.TraceService
	metrics      *middleware.PrometheusMetrics
	uploadDir    string
	logger       *logrus.Logger
}

// NewTraceHandler 创建处理器实例
func NewTraceHandler(traceService service.TraceService, metrics *middleware.PrometheusMetrics, uploadDir string, logger *logrus.Logger) *TraceHandler {
	return &TraceHandler{
		traceService: traceService,
		metrics:      metrics,
		uploadDir:    uploadDir,
		logger:       logger,
	}
}

// Taint 上传 jar 并执行污点阶段
// POST /api/taint  (multipart: jar)
func (h *TraceHandler) Taint(c *gin.Context) {
	jarPath, cleanup, ok := h.receiveJar(c)
	if !ok {
		return
	}
	defer cleanup()

	start := time.Now()
	result, err := h.traceService.Taint(c.Request.Context(), jarPath)
	if err != nil {
		h.logger.WithError(err).Error("Taint failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "污点阶段失败"})
		return
	}
	if h.metrics != nil {
		h.metrics.ObserveTaint(result, time.Since(start))
	}

	c.JSON(http.StatusOK, result)
}

// Extract 上传 mapper 处理过的 jar 并生成映射表
// POST /api/sessions/:id/extract  (multipart: jar)
func (h *TraceHandler) Extract(c *gin.Context) {
	sessionID := c.Param("id")

	jarPath, cleanup, ok := h.receiveJar(c)
	if !ok {
		return
	}
	defer cleanup()

	start := time.Now()
	result, err := h.traceService.Extract(c.Request.Context(), sessionID, jarPath)
	if err != nil {
		h.logger.WithError(err).WithField("session_id", sessionID).Error("Extract failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "抽取阶段失败"})
		return
	}
	if h.metrics != nil {
		h.metrics.ObserveExtract(result, time.Since(start))
	}

	// 映射表直接以 tiny 文本返回，JSON 元信息放响应头
	c.Header("X-Session-ID", result.SessionID)
	c.Header("X-Tiny-Path", result.TinyPath)
	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/plain; charset=utf-8")
	if err := result.Mapping.WriteTiny(c.Writer); err != nil {
		h.logger.WithError(err).Error("Failed to write mapping response")
	}
}

// ListSessions 会话列表
// GET /api/sessions?limit=50
func (h *TraceHandler) ListSessions(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		limit = 50
	}

	sessions, err := h.traceService.ListSessions(c.Request.Context(), limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list sessions")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取会话列表失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "count": len(sessions)})
}

// GetSession 会话详情
// GET /api/sessions/:id
func (h *TraceHandler) GetSession(c *gin.Context) {
	session, err := h.traceService.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "会话不存在"})
		return
	}
	c.JSON(http.StatusOK, session)
}

// DownloadTainted 下载污点产物
// GET /api/sessions/:id/tainted
func (h *TraceHandler) DownloadTainted(c *gin.Context) {
	session, err := h.traceService.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "会话不存在"})
		return
	}
	if session.TaintedPath == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "污点产物不存在"})
		return
	}
	c.FileAttachment(session.TaintedPath, filepath.Base(session.TaintedPath))
}

// receiveJar 接收 multipart 上传的 jar，落盘到上传目录
func (h *TraceHandler) receiveJar(c *gin.Context) (path string, cleanup func(), ok bool) {
	file, err := c.FormFile("jar")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 jar 文件"})
		return "", nil, false
	}

	if err := os.MkdirAll(h.uploadDir, 0755); err != nil {
		h.logger.WithError(err).Error("Failed to create upload dir")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "上传失败"})
		return "", nil, false
	}

	dst := filepath.Join(h.uploadDir, filepath.Base(file.Filename))
	if err := c.SaveUploadedFile(file, dst); err != nil {
		h.logger.WithError(err).Error("Failed to save upload")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "上传失败"})
		return "", nil, false
	}
	return dst, func() { os.Remove(dst) }, true
}
