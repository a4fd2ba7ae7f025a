// Package container 遍历 zip 风格的制品容器。
//
// class 条目解析后交给访问器处理，其余条目原样透传：
// 相对路径、条目顺序、内容字节全部保持不变。
package container

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jar-trace/jar-trace-go/internal/classfile"
	"github.com/sirupsen/logrus"
)

// ClassVisitor 处理一个解析成功的 class 条目
// 返回错误会中止整个遍历
type ClassVisitor func(entryName string, cls *classfile.Class) error

// Stats 一次遍历的计数
type Stats struct {
	Entries       int // 全部条目
	Classes       int // 解析成功并处理的 class 条目
	PassedThrough int // 原样透传的非 class 条目
	ParseFailures int // 解析失败、按原字节透传的 class 条目
}

// Rewrite 读 src 写 dst：class 条目经 visit 处理后重新序列化写入，
// 其余条目逐字节复制。单个条目解析失败只记日志并透传，不中止整个遍历；
// 容器本身的 I/O 失败是致命错误，此时 dst 视为不完整
func Rewrite(src, dst string, visit ClassVisitor, logger *logrus.Logger) (*Stats, error) {
	r, err := zip.OpenReader(src)
	if err != nil {
		return nil, fmt.Errorf("open container %s: %w", src, err)
	}
	defer r.Close()

	out, err := os.Create(dst)
	if err != nil {
		return nil, fmt.Errorf("create container %s: %w", dst, err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	stats := &Stats{}

	for _, entry := range r.File {
		stats.Entries++

		data, err := readEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("read entry %s: %w", entry.Name, err)
		}

		if !isClassEntry(entry.Name) {
			stats.PassedThrough++
			if err := writeEntry(zw, entry, data); err != nil {
				return nil, err
			}
			continue
		}

		cls, err := classfile.Parse(data)
		if err != nil {
			// 解析失败的类永远不会被污染，按原字节透传
			stats.ParseFailures++
			logger.WithError(err).WithField("entry", entry.Name).Warn("Failed to parse class entry, passing through")
			if err := writeEntry(zw, entry, data); err != nil {
				return nil, err
			}
			continue
		}

		if err := visit(entry.Name, cls); err != nil {
			return nil, fmt.Errorf("process entry %s: %w", entry.Name, err)
		}

		rewritten, err := cls.Bytes()
		if err != nil {
			stats.ParseFailures++
			logger.WithError(err).WithField("entry", entry.Name).Error("Failed to serialize class entry, passing through original bytes")
			rewritten = data
		} else {
			stats.Classes++
		}
		if err := writeEntry(zw, entry, rewritten); err != nil {
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize container %s: %w", dst, err)
	}
	return stats, nil
}

// Scan 只读遍历 src 的 class 条目，供抽取阶段使用
func Scan(src string, visit ClassVisitor, logger *logrus.Logger) (*Stats, error) {
	r, err := zip.OpenReader(src)
	if err != nil {
		return nil, fmt.Errorf("open container %s: %w", src, err)
	}
	defer r.Close()

	stats := &Stats{}
	for _, entry := range r.File {
		stats.Entries++

		if !isClassEntry(entry.Name) {
			stats.PassedThrough++
			continue
		}

		data, err := readEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("read entry %s: %w", entry.Name, err)
		}

		cls, err := classfile.Parse(data)
		if err != nil {
			stats.ParseFailures++
			logger.WithError(err).WithField("entry", entry.Name).Warn("Failed to parse class entry, skipping")
			continue
		}

		if err := visit(entry.Name, cls); err != nil {
			return nil, fmt.Errorf("process entry %s: %w", entry.Name, err)
		}
		stats.Classes++
	}
	return stats, nil
}

func isClassEntry(name string) bool {
	return strings.HasSuffix(name, ".class")
}

func readEntry(entry *zip.File) ([]byte, error) {
	rc, err := entry.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func writeEntry(zw *zip.Writer, entry *zip.File, data []byte) error {
	header := &zip.FileHeader{
		Name:     entry.Name,
		Method:   entry.Method,
		Comment:  entry.Comment,
		Modified: entry.Modified,
	}
	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("write entry %s: %w", entry.Name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write entry %s: %w", entry.Name, err)
	}
	return nil
}
