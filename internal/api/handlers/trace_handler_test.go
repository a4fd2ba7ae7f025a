package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jar-trace/jar-trace-go/internal/domain"
	"github.com/jar-trace/jar-trace-go/internal/extract"
	"github.com/jar-trace/jar-trace-go/internal/service"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTraceService 桩实现，记录入参并返回预置结果
type fakeTraceService struct {
	taintResult   *service.TaintResult
	extractResult *service.ExtractResult
	sessions      []*domain.TraceSession
	session       *domain.TraceSession
	err           error

	lastJarPath   string
	lastSessionID string
}

func (f *fakeTraceService) Taint(ctx context.Context, jarPath string) (*service.TaintResult, error) {
	f.lastJarPath = jarPath
	return f.taintResult, f.err
}

func (f *fakeTraceService) Extract(ctx context.Context, sessionID, jarPath string) (*service.ExtractResult, error) {
	f.lastSessionID = sessionID
	f.lastJarPath = jarPath
	return f.extractResult, f.err
}

func (f *fakeTraceService) ListSessions(ctx context.Context, limit int) ([]*domain.TraceSession, error) {
	return f.sessions, f.err
}

func (f *fakeTraceService) GetSession(ctx context.Context, sessionID string) (*domain.TraceSession, error) {
	if f.session == nil {
		return nil, f.err
	}
	return f.session, nil
}

func setupRouter(t *testing.T, svc service.TraceService) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	h := NewTraceHandler(svc, nil, t.TempDir(), logger)
	r := gin.New()
	r.POST("/api/taint", h.Taint)
	r.POST("/api/sessions/:id/extract", h.Extract)
	r.GET("/api/sessions", h.ListSessions)
	r.GET("/api/sessions/:id", h.GetSession)
	return r
}

// jarUpload 构造带 jar 文件字段的 multipart 请求体
func jarUpload(t *testing.T, fieldName string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	fw, err := mw.CreateFormFile(fieldName, "app.jar")
	require.NoError(t, err)
	_, err = fw.Write([]byte("PK\x03\x04fake-jar-bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

// TestTaintHandler 测试污点接口的成功路径
func TestTaintHandler(t *testing.T) {
	fake := &fakeTraceService{
		taintResult: &service.TaintResult{
			SessionID:   "sess-1",
			TaintedPath: "/results/app.tainted.jar",
			Classes:     3,
			Fields:      5,
			Methods:     7,
		},
	}
	r := setupRouter(t, fake)

	body, contentType := jarUpload(t, "jar")
	req := httptest.NewRequest(http.MethodPost, "/api/taint", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, fake.lastJarPath)

	var got service.TaintResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "sess-1", got.SessionID)
	assert.Equal(t, 3, got.Classes)
	assert.Equal(t, 7, got.Methods)
}

// TestTaintHandler_MissingFile 测试缺少上传文件时返回 400
func TestTaintHandler_MissingFile(t *testing.T) {
	r := setupRouter(t, &fakeTraceService{})

	body, contentType := jarUpload(t, "wrong_field")
	req := httptest.NewRequest(http.MethodPost, "/api/taint", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestTaintHandler_ServiceError 测试服务失败时返回 500
func TestTaintHandler_ServiceError(t *testing.T) {
	r := setupRouter(t, &fakeTraceService{err: assert.AnError})

	body, contentType := jarUpload(t, "jar")
	req := httptest.NewRequest(http.MethodPost, "/api/taint", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

// TestExtractHandler 测试抽取接口返回 tiny 文本
func TestExtractHandler(t *testing.T) {
	mapping := extract.NewMapping()
	mapping.AddClass("a", "b")
	fake := &fakeTraceService{
		extractResult: &service.ExtractResult{
			SessionID: "sess-1",
			Mapping:   mapping,
			TinyPath:  "/results/sess-1.tiny",
			ClassRows: 1,
		},
	}
	r := setupRouter(t, fake)

	body, contentType := jarUpload(t, "jar")
	req := httptest.NewRequest(http.MethodPost, "/api/sessions/sess-1/extract", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sess-1", fake.lastSessionID)
	assert.Equal(t, "sess-1", w.Header().Get("X-Session-ID"))
	assert.Equal(t, "v1\tofficial\tnamed\nCLASS\ta\tb\n", w.Body.String())
}

// TestListSessionsHandler 测试会话列表
func TestListSessionsHandler(t *testing.T) {
	fake := &fakeTraceService{
		sessions: []*domain.TraceSession{
			{ID: "s1", JarName: "a.jar"},
			{ID: "s2", JarName: "b.jar"},
		},
	}
	r := setupRouter(t, fake)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions?limit=10", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var got struct {
		Count    int                    `json:"count"`
		Sessions []*domain.TraceSession `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, 2, got.Count)
	require.Len(t, got.Sessions, 2)
	assert.Equal(t, "a.jar", got.Sessions[0].JarName)
}

// TestGetSessionHandler_NotFound 测试会话不存在时返回 404
func TestGetSessionHandler_NotFound(t *testing.T) {
	r := setupRouter(t, &fakeTraceService{err: assert.AnError})

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/no-such", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
