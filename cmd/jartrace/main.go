package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/jar-trace/jar-trace-go/internal/config"
	"github.com/jar-trace/jar-trace-go/internal/repository"
	"github.com/jar-trace/jar-trace-go/internal/service"
	"github.com/sirupsen/logrus"
)

const usage = `Usage:
  jartrace taint   -in <input.jar> [-db <sessions.db>] [-result-dir <dir>]
  jartrace extract -in <remapped.jar> -session <id> [-db <sessions.db>] [-out <mappings.tiny>]

taint 污染 jar 并打印会话 id；extract 用同一会话分析 mapper 的输出并生成 tiny 映射表。
两个子命令可以在不同的进程调用中运行，会话通过 sqlite 边车库共享。
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	switch os.Args[1] {
	case "taint":
		runTaint(os.Args[2:])
	case "extract":
		runExtract(os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func runTaint(args []string) {
	fs := flag.NewFlagSet("taint", flag.ExitOnError)
	in := fs.String("in", "", "待污染的 jar")
	dbPath := fs.String("db", "./data/sessions.db", "会话 sqlite 库")
	resultDir := fs.String("result-dir", "./results", "产物输出目录")
	logLevel := fs.String("log-level", "info", "日志级别")
	fs.Parse(args)

	if *in == "" {
		fs.Usage()
		os.Exit(2)
	}

	svc, logger := buildService(*dbPath, *resultDir, *logLevel)

	result, err := svc.Taint(context.Background(), *in)
	if err != nil {
		logger.Fatalf("Taint failed: %v", err)
	}

	fmt.Printf("session:  %s\n", result.SessionID)
	fmt.Printf("tainted:  %s\n", result.TaintedPath)
	fmt.Printf("classes:  %d\nfields:   %d\nmethods:  %d\n", result.Classes, result.Fields, result.Methods)
	if result.Stats.ParseFailures > 0 {
		fmt.Printf("passed through %d unparsable class entries\n", result.Stats.ParseFailures)
	}
}

func runExtract(args []string) {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	in := fs.String("in", "", "mapper 处理过的 jar")
	sessionID := fs.String("session", "", "taint 阶段打印的会话 id")
	dbPath := fs.String("db", "./data/sessions.db", "会话 sqlite 库")
	out := fs.String("out", "", "tiny 映射表输出路径（默认写入结果目录）")
	resultDir := fs.String("result-dir", "./results", "产物输出目录")
	logLevel := fs.String("log-level", "info", "日志级别")
	fs.Parse(args)

	if *in == "" || *sessionID == "" {
		fs.Usage()
		os.Exit(2)
	}

	svc, logger := buildService(*dbPath, *resultDir, *logLevel)

	result, err := svc.Extract(context.Background(), *sessionID, *in)
	if err != nil {
		logger.Fatalf("Extract failed: %v", err)
	}

	tinyPath := result.TinyPath
	if *out != "" {
		if err := result.Mapping.WriteTinyFile(*out); err != nil {
			logger.Fatalf("Failed to write %s: %v", *out, err)
		}
		tinyPath = *out
	}

	fmt.Printf("mapping:  %s\n", tinyPath)
	fmt.Printf("classes:  %d\nfields:   %d\nmethods:  %d\n", result.ClassRows, result.FieldRows, result.MethodRows)
}

func buildService(dbPath, resultDir, logLevel string) (service.TraceService, *logrus.Logger) {
	cfg := config.Default()
	cfg.Database.Path = dbPath
	cfg.ResultDir = resultDir
	cfg.Log.Level = logLevel

	logger := config.InitLogger(&cfg.Log)

	db, err := repository.InitDB(&cfg.Database, logger)
	if err != nil {
		logger.Fatalf("Failed to init session database: %v", err)
	}

	sessionRepo := repository.NewSessionRepository(db, logger)
	return service.NewTraceService(sessionRepo, cfg.ResultDir, logger), logger
}
