package container

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/jar-trace/jar-trace-go/internal/classfile"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// writeTestJar 构造含一个正常类、一个资源文件、一个坏 class 条目的 jar
func writeTestJar(t *testing.T) (path string, classBytes []byte) {
	t.Helper()

	cls, err := classfile.New("com/example/Foo", "java/lang/Object", 52)
	require.NoError(t, err)
	classBytes, err = cls.Bytes()
	require.NoError(t, err)

	path = filepath.Join(t.TempDir(), "test.jar")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	entries := []struct {
		name string
		data []byte
	}{
		{"META-INF/MANIFEST.MF", []byte("Manifest-Version: 1.0\n")},
		{"com/example/Foo.class", classBytes},
		{"assets/data.txt", []byte("hello world")},
		{"broken/Bad.class", []byte("definitely not a class file")},
	}
	for _, e := range entries {
		w, err := zw.Create(e.name)
		require.NoError(t, err)
		_, err = w.Write(e.data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return path, classBytes
}

func readJarEntries(t *testing.T, path string) map[string][]byte {
	t.Helper()
	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	out := make(map[string][]byte)
	for _, entry := range r.File {
		rc, err := entry.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		out[entry.Name] = data
	}
	return out
}

// TestRewrite 测试重写遍历：类被访问，资源与坏类原样透传
func TestRewrite(t *testing.T) {
	src, _ := writeTestJar(t)
	dst := filepath.Join(t.TempDir(), "out.jar")

	var visited []string
	stats, err := Rewrite(src, dst, func(entryName string, cls *classfile.Class) error {
		visited = append(visited, entryName)
		assert.Equal(t, "com/example/Foo", cls.Name())
		return nil
	}, testLogger())
	require.NoError(t, err)

	assert.Equal(t, 4, stats.Entries)
	assert.Equal(t, 1, stats.Classes)
	assert.Equal(t, 2, stats.PassedThrough)
	assert.Equal(t, 1, stats.ParseFailures)
	assert.Equal(t, []string{"com/example/Foo.class"}, visited)

	got := readJarEntries(t, dst)
	require.Len(t, got, 4)
	assert.Equal(t, []byte("hello world"), got["assets/data.txt"])
	assert.Equal(t, []byte("Manifest-Version: 1.0\n"), got["META-INF/MANIFEST.MF"])
	// 解析失败的条目必须逐字节保留
	assert.Equal(t, []byte("definitely not a class file"), got["broken/Bad.class"])
}

// TestRewrite_VisitorMutation 测试访问器的修改会写进输出
func TestRewrite_VisitorMutation(t *testing.T) {
	src, original := writeTestJar(t)
	dst := filepath.Join(t.TempDir(), "out.jar")

	_, err := Rewrite(src, dst, func(entryName string, cls *classfile.Class) error {
		_, err := cls.AddField(classfile.AccPublic|classfile.AccStatic, "injected", "I")
		return err
	}, testLogger())
	require.NoError(t, err)

	got := readJarEntries(t, dst)
	assert.NotEqual(t, original, got["com/example/Foo.class"])

	parsed, err := classfile.Parse(got["com/example/Foo.class"])
	require.NoError(t, err)
	require.Len(t, parsed.Fields, 1)
	assert.Equal(t, "injected", parsed.Fields[0].Name)
}

// TestRewrite_VisitorError 测试访问器报错时整个遍历中止
func TestRewrite_VisitorError(t *testing.T) {
	src, _ := writeTestJar(t)
	dst := filepath.Join(t.TempDir(), "out.jar")

	_, err := Rewrite(src, dst, func(entryName string, cls *classfile.Class) error {
		return assert.AnError
	}, testLogger())
	assert.Error(t, err)
}

// TestScan 测试只读遍历
func TestScan(t *testing.T) {
	src, _ := writeTestJar(t)

	count := 0
	stats, err := Scan(src, func(entryName string, cls *classfile.Class) error {
		count++
		return nil
	}, testLogger())
	require.NoError(t, err)

	assert.Equal(t, 1, count)
	assert.Equal(t, 4, stats.Entries)
	assert.Equal(t, 1, stats.Classes)
	assert.Equal(t, 1, stats.ParseFailures)
}

// TestRewrite_MissingSource 测试源容器不存在时报错
func TestRewrite_MissingSource(t *testing.T) {
	_, err := Rewrite("/no/such/file.jar", filepath.Join(t.TempDir(), "out.jar"), nil, testLogger())
	assert.Error(t, err)
}
