package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jar-trace/jar-trace-go/internal/api"
	"github.com/jar-trace/jar-trace-go/internal/config"
	"github.com/jar-trace/jar-trace-go/internal/middleware"
	"github.com/jar-trace/jar-trace-go/internal/repository"
	"github.com/jar-trace/jar-trace-go/internal/service"
	"github.com/jar-trace/jar-trace-go/internal/watcher"
	"github.com/jar-trace/jar-trace-go/internal/worker"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	fmt.Printf("JAR Trace - Mapping Recovery Service\n")
	fmt.Printf("Version: %s\n", Version)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Git Commit: %s\n\n", GitCommit)

	// 加载配置
	configPath := "./configs/config.yaml"
	if len(os.Args) > 2 && os.Args[1] == "--config" {
		configPath = os.Args[2]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	logger := config.InitLogger(&cfg.Log)
	logger.Infof("Starting JAR Trace %s", Version)
	logger.Infof("Config loaded from: %s", configPath)

	// 初始化会话数据库
	db, err := repository.InitDB(&cfg.Database, logger)
	if err != nil {
		logger.Fatalf("Failed to init database: %v", err)
	}
	logger.Info("Session database connected")

	sessionRepo := repository.NewSessionRepository(db, logger)
	traceService := service.NewTraceService(sessionRepo, cfg.ResultDir, logger)

	// Prometheus 指标
	promMetrics := middleware.NewPrometheusMetrics(logger, "jar_trace")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 投递目录监控 + Worker 池：inbox 里出现的 jar 自动进入污点流程
	var pool *worker.Pool
	if cfg.Inbox.Enabled {
		pool = worker.NewPool(cfg.Worker.Concurrency, cfg.Worker.QueueSize, traceService, promMetrics, logger)
		pool.Start(ctx)

		fw, err := watcher.NewFileWatcher(cfg.Inbox.Dir, cfg.Inbox.Pattern, func(ctx context.Context, path string) error {
			return pool.Submit(&worker.Job{JarPath: path})
		}, logger)
		if err != nil {
			logger.Fatalf("Failed to create inbox watcher: %v", err)
		}
		defer fw.Close()
		fw.Start(ctx)
	}

	// HTTP 服务
	router := api.SetupRouter(cfg, logger, traceService, promMetrics)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Infof("HTTP server listening on :%d", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down...")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP server shutdown error")
	}
	if pool != nil {
		pool.Stop()
	}
	logger.Info("Bye")
}
