// =============================================================================
// FusionRAG 主入口
// =============================================================================
// 检索融合服务入口点，包含 HTTP 查询服务、健康检查、Prometheus 指标
//
// 使用方法:
//
//	fusionrag serve                       # 启动服务
//	fusionrag serve --config config.yaml  # 指定配置文件
//	fusionrag query "some question"       # 一次性查询（内存存储）
//	fusionrag version                     # 显示版本信息
//	fusionrag health                      # 健康检查
// =============================================================================
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/fusionrag/config"
	"github.com/BaSui01/fusionrag/internal/telemetry"
	"github.com/BaSui01/fusionrag/pipeline"
	"github.com/BaSui01/fusionrag/retrieval"
)

// 版本信息（构建时注入）
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "query":
		runQuery(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	_ = fs.Parse(args)

	cfg := loadConfig(*configPath)
	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting FusionRAG",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	server := NewServer(cfg, logger)
	if err := server.Start(); err != nil {
		logger.Fatal("Failed to start server", zap.Error(err))
	}

	server.WaitForShutdown()

	if otelProviders != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProviders.Shutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", zap.Error(err))
		}
	}

	logger.Info("FusionRAG stopped")
}

// runQuery 执行一次性查询并打印 JSON 结果，用于本地调试管线配置。
func runQuery(args []string) {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	namespace := fs.String("namespace", "", "Namespace to search in")
	_ = fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: fusionrag query [options] <query text>")
		os.Exit(1)
	}

	cfg := loadConfig(*configPath)
	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	orch, err := pipeline.NewOrchestratorFromConfig(cfg, pipeline.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build pipeline: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Pipeline.QueryTimeout)
	defer cancel()

	result, err := orch.RetrieveAndFuse(ctx, retrieval.QueryContext{
		Query:     fs.Arg(0),
		Namespace: *namespace,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Query failed: %v\n", err)
		os.Exit(1)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode result: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	_ = fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("OK")
}

func loadConfig(configPath string) *config.Config {
	loader := config.NewLoader()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func printVersion() {
	fmt.Printf("FusionRAG %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`FusionRAG - Hybrid Retrieval Fusion Service

Usage:
  fusionrag <command> [options]

Commands:
  serve     Start the FusionRAG query service
  query     Run a one-shot query against the configured stores
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve':
  --config <path>      Path to configuration file (YAML)

Options for 'query':
  --config <path>      Path to configuration file (YAML)
  --namespace <name>   Namespace to search in

Examples:
  fusionrag serve
  fusionrag serve --config /etc/fusionrag/config.yaml
  fusionrag query "who acquired initech"
  fusionrag health --addr http://localhost:8080
  fusionrag version`)
}

// initLogger 根据日志配置构建 zap.Logger。
func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Format == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: level > zapcore.DebugLevel,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}
