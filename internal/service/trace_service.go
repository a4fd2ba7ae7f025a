package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jar-trace/jar-trace-go/internal/container"
	"github.com/jar-trace/jar-trace-go/internal/domain"
	"github.com/jar-trace/jar-trace-go/internal/extract"
	"github.com/jar-trace/jar-trace-go/internal/registry"
	"github.com/jar-trace/jar-trace-go/internal/repository"
	"github.com/jar-trace/jar-trace-go/internal/taint"
	"github.com/sirupsen/logrus"
)

// TaintResult 污点阶段的产出
type TaintResult struct {
	SessionID   string           `json:"session_id"`
	TaintedPath string           `json:"tainted_path"`
	Stats       *container.Stats `json:"stats"`
	Classes     int              `json:"classes"`
	Fields      int              `json:"fields"`
	Methods     int              `json:"methods"`
}

// ExtractResult 抽取阶段的产出
type ExtractResult struct {
	SessionID  string           `json:"session_id"`
	Mapping    *extract.Mapping `json:"mapping"`
	TinyPath   string           `json:"tiny_path,omitempty"`
	ClassRows  int              `json:"class_rows"`
	FieldRows  int              `json:"field_rows"`
	MethodRows int              `json:"method_rows"`
}

// TraceService 把两个阶段、会话持久化和结果目录串起来
type TraceService interface {
	// Taint 创建新会话，污染 jarPath，产物写入结果目录，会话落库
	Taint(ctx context.Context, jarPath string) (*TaintResult, error)
	// Extract 加载会话，分析 mapper 处理过的 jar，映射表写入结果目录
	Extract(ctx context.Context, sessionID, jarPath string) (*ExtractResult, error)
	// ListSessions 最近的会话列表
	ListSessions(ctx context.Context, limit int) ([]*domain.TraceSession, error)
	// GetSession 单个会话元信息
	GetSession(ctx context.Context, sessionID string) (*domain.TraceSession, error)
}

type traceService struct {
	sessionRepo repository.SessionRepository
	resultDir   string
	logger      *logrus.Logger
}

// NewTraceService 创建追踪服务实例
func NewTraceService(sessionRepo repository.SessionRepository, resultDir string, logger *logrus.Logger) TraceService {
	return &traceService{
		sessionRepo: sessionRepo,
		resultDir:   resultDir,
		logger:      logger,
	}
}

func (s *traceService) Taint(ctx context.Context, jarPath string) (*TaintResult, error) {
	if err := os.MkdirAll(s.resultDir, 0755); err != nil {
		return nil, fmt.Errorf("create result dir: %w", err)
	}

	session := registry.NewSession()
	jarName := filepath.Base(jarPath)
	taintedPath := filepath.Join(s.resultDir, taintedName(jarName, session.ID()))

	transformer := taint.NewTransformer(session, s.logger)
	stats, err := transformer.TaintJar(ctx, jarPath, taintedPath)
	if err != nil {
		// 容器级失败是致命的，半成品不可用
		os.Remove(taintedPath)
		return nil, fmt.Errorf("taint %s: %w", jarName, err)
	}

	meta := &domain.TraceSession{JarName: jarName, TaintedPath: taintedPath}
	if err := s.sessionRepo.Save(ctx, session, meta); err != nil {
		return nil, err
	}

	classes, fields, methods := session.Counts()
	return &TaintResult{
		SessionID:   session.ID(),
		TaintedPath: taintedPath,
		Stats:       stats,
		Classes:     classes,
		Fields:      fields,
		Methods:     methods,
	}, nil
}

func (s *traceService) Extract(ctx context.Context, sessionID, jarPath string) (*ExtractResult, error) {
	session, err := s.sessionRepo.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	analyzer := extract.NewAnalyzer(session, s.logger)
	mapping, err := analyzer.ExtractJar(ctx, jarPath)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", filepath.Base(jarPath), err)
	}

	if err := os.MkdirAll(s.resultDir, 0755); err != nil {
		return nil, fmt.Errorf("create result dir: %w", err)
	}
	tinyPath := filepath.Join(s.resultDir, fmt.Sprintf("%s-%d.tiny", sessionID, time.Now().UTC().Unix()))
	if err := mapping.WriteTinyFile(tinyPath); err != nil {
		return nil, fmt.Errorf("write mapping table: %w", err)
	}

	classRows, fieldRows, methodRows := mapping.Counts()
	return &ExtractResult{
		SessionID:  sessionID,
		Mapping:    mapping,
		TinyPath:   tinyPath,
		ClassRows:  classRows,
		FieldRows:  fieldRows,
		MethodRows: methodRows,
	}, nil
}

func (s *traceService) ListSessions(ctx context.Context, limit int) ([]*domain.TraceSession, error) {
	return s.sessionRepo.List(ctx, limit)
}

func (s *traceService) GetSession(ctx context.Context, sessionID string) (*domain.TraceSession, error) {
	return s.sessionRepo.Get(ctx, sessionID)
}

// taintedName tainted 产物文件名：原名 + 会话 id 前 8 位
func taintedName(jarName, sessionID string) string {
	ext := filepath.Ext(jarName)
	base := strings.TrimSuffix(jarName, ext)
	short := sessionID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("%s.tainted-%s%s", base, short, ext)
}
