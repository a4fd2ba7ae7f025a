package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// FileHandler 文件处理函数
type FileHandler func(ctx context.Context, filePath string) error

// FileWatcher 投递目录监控器
// 盯住 inbox 目录，新出现的 jar 交给 handler（通常是投递到 worker 池）
type FileWatcher struct {
	watcher  *fsnotify.Watcher
	watchDir string
	pattern  string // 文件匹配模式 (如 "*.jar")
	handler  FileHandler
	logger   *logrus.Logger
	debounce time.Duration // 防抖时间

	mu         sync.Mutex
	processing map[string]bool
}

// NewFileWatcher 创建文件监控器
func NewFileWatcher(watchDir, pattern string, handler FileHandler, logger *logrus.Logger) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	// 确保监控目录存在
	if err := os.MkdirAll(watchDir, 0755); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to create watch directory: %w", err)
	}

	if err := watcher.Add(watchDir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to add watch directory: %w", err)
	}

	fw := &FileWatcher{
		watcher:    watcher,
		watchDir:   watchDir,
		pattern:    pattern,
		handler:    handler,
		logger:     logger,
		debounce:   2 * time.Second, // 大文件复制会触发多次事件
		processing: make(map[string]bool),
	}

	logger.WithFields(logrus.Fields{
		"watch_dir": watchDir,
		"pattern":   pattern,
	}).Info("File watcher created")

	return fw, nil
}

// Start 启动文件监控
func (fw *FileWatcher) Start(ctx context.Context) {
	fw.logger.Info("Starting file watcher")
	go fw.eventLoop(ctx)
}

// Close 停止监控
func (fw *FileWatcher) Close() error {
	return fw.watcher.Close()
}

func (fw *FileWatcher) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			fw.logger.Info("File watcher shutting down")
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if matched, _ := filepath.Match(fw.pattern, filepath.Base(event.Name)); !matched {
				continue
			}
			fw.scheduleFile(ctx, event.Name)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.WithError(err).Warn("File watcher error")
		}
	}
}

// scheduleFile 防抖后处理文件，同一文件同时只处理一次
func (fw *FileWatcher) scheduleFile(ctx context.Context, path string) {
	fw.mu.Lock()
	if fw.processing[path] {
		fw.mu.Unlock()
		return
	}
	fw.processing[path] = true
	fw.mu.Unlock()

	go func() {
		defer func() {
			fw.mu.Lock()
			delete(fw.processing, path)
			fw.mu.Unlock()
		}()

		// 等写入稳定：大小在防抖窗口内不再变化才算投递完成
		if !fw.waitStable(ctx, path) {
			return
		}

		fw.logger.WithField("file", path).Info("New jar detected in inbox")
		if err := fw.handler(ctx, path); err != nil {
			fw.logger.WithError(err).WithField("file", path).Error("Failed to handle inbox file")
		}
	}()
}

func (fw *FileWatcher) waitStable(ctx context.Context, path string) bool {
	var lastSize int64 = -1
	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(fw.debounce):
		}

		info, err := os.Stat(path)
		if err != nil {
			return false // 文件被移走
		}
		if info.Size() == lastSize {
			return true
		}
		lastSize = info.Size()
	}
}
