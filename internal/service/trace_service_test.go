package service

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jar-trace/jar-trace-go/internal/classfile"
	"github.com/jar-trace/jar-trace-go/internal/config"
	"github.com/jar-trace/jar-trace-go/internal/repository"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testService(t *testing.T) (TraceService, string) {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	dir := t.TempDir()
	db, err := repository.InitDB(&config.DatabaseConfig{
		Type: "sqlite",
		Path: filepath.Join(dir, "sessions.db"),
	}, logger)
	require.NoError(t, err)

	resultDir := filepath.Join(dir, "results")
	repo := repository.NewSessionRepository(db, logger)
	return NewTraceService(repo, resultDir, logger), resultDir
}

// writeSampleJar 一个类 a（静态 x、实例 y、方法 go）加一个资源条目
func writeSampleJar(t *testing.T, dir string) string {
	t.Helper()

	cls, err := classfile.New("a", "java/lang/Object", 52)
	require.NoError(t, err)
	_, err = cls.AddField(classfile.AccPublic|classfile.AccStatic, "x", "I")
	require.NoError(t, err)
	_, err = cls.AddField(classfile.AccPublic, "y", "Ljava/lang/String;")
	require.NoError(t, err)
	body, err := classfile.NewCodeBuilder(cls.Pool).Return().Build(0, 1)
	require.NoError(t, err)
	_, err = cls.AddMethod(classfile.AccPublic, "go", "()V", &body)
	require.NoError(t, err)
	data, err := cls.Bytes()
	require.NoError(t, err)

	path := filepath.Join(dir, "app.jar")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	w, err := zw.Create("a.class")
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	w, err = zw.Create("META-INF/MANIFEST.MF")
	require.NoError(t, err)
	_, err = w.Write([]byte("Manifest-Version: 1.0\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return path
}

// TestTraceService_RoundTrip 测试 污点 → 抽取 的完整闭环
// mapper 缺席（制品原样回流）时映射表必须是恒等映射
func TestTraceService_RoundTrip(t *testing.T) {
	svc, resultDir := testService(t)
	ctx := context.Background()
	jar := writeSampleJar(t, t.TempDir())

	taintRes, err := svc.Taint(ctx, jar)
	require.NoError(t, err)
	assert.NotEmpty(t, taintRes.SessionID)
	assert.Equal(t, 1, taintRes.Classes)
	assert.Equal(t, 2, taintRes.Fields)
	assert.Equal(t, 1, taintRes.Methods)

	// 产物写在结果目录，文件名带会话 id 前缀
	assert.True(t, strings.HasPrefix(taintRes.TaintedPath, resultDir))
	_, err = os.Stat(taintRes.TaintedPath)
	require.NoError(t, err)
	assert.Contains(t, filepath.Base(taintRes.TaintedPath), ".tainted-")

	extractRes, err := svc.Extract(ctx, taintRes.SessionID, taintRes.TaintedPath)
	require.NoError(t, err)
	assert.Equal(t, 1, extractRes.ClassRows)
	assert.Equal(t, 2, extractRes.FieldRows)
	assert.Equal(t, 1, extractRes.MethodRows)

	data, err := os.ReadFile(extractRes.TinyPath)
	require.NoError(t, err)
	expected := "v1\tofficial\tnamed\n" +
		"CLASS\ta\ta\n" +
		"FIELD\ta\tI\tx\tx\n" +
		"FIELD\ta\tLjava/lang/String;\ty\ty\n" +
		"METHOD\ta\t()V\tgo\tgo\n"
	assert.Equal(t, expected, string(data))
}

// TestTraceService_ExtractUnknownSession 测试未知会话
func TestTraceService_ExtractUnknownSession(t *testing.T) {
	svc, _ := testService(t)
	jar := writeSampleJar(t, t.TempDir())

	_, err := svc.Extract(context.Background(), "no-such-session", jar)
	assert.Error(t, err)
}

// TestTraceService_TaintMissingJar 测试输入不存在
func TestTraceService_TaintMissingJar(t *testing.T) {
	svc, _ := testService(t)

	_, err := svc.Taint(context.Background(), "/no/such/app.jar")
	assert.Error(t, err)
}

// TestTraceService_SessionMetadata 测试会话元信息查询
func TestTraceService_SessionMetadata(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()
	jar := writeSampleJar(t, t.TempDir())

	taintRes, err := svc.Taint(ctx, jar)
	require.NoError(t, err)

	meta, err := svc.GetSession(ctx, taintRes.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "app.jar", meta.JarName)
	assert.Equal(t, taintRes.TaintedPath, meta.TaintedPath)

	list, err := svc.ListSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, taintRes.SessionID, list[0].ID)
}

// TestTaintedName 测试产物命名
func TestTaintedName(t *testing.T) {
	assert.Equal(t, "app.tainted-12345678.jar", taintedName("app.jar", "12345678-aaaa-bbbb"))
	assert.Equal(t, "noext.tainted-short", taintedName("noext", "short"))
}
