package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/fusionrag/config"
	"github.com/BaSui01/fusionrag/internal/server"
	"github.com/BaSui01/fusionrag/pipeline"
	"github.com/BaSui01/fusionrag/retrieval"
	"github.com/BaSui01/fusionrag/types"
)

// Server 承载查询服务的全部运行时组件：检索编排器、HTTP 查询端口
// 和独立的 Prometheus 指标端口。
type Server struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry

	orchestrator *pipeline.Orchestrator
	httpManager  *server.Manager
	metricsMgr   *server.Manager

	// ctx 约束中间件后台协程的生命周期
	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer 创建服务实例，组件在 Start 时初始化。
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start 构建检索管线并启动查询与指标两个 HTTP 服务。
func (s *Server) Start() error {
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	orch, err := pipeline.NewOrchestratorFromConfig(s.cfg,
		pipeline.WithLogger(s.logger),
		pipeline.WithRegisterer(s.registry),
	)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	s.orchestrator = orch

	s.httpManager = server.NewManager(s.queryMux(), server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return fmt.Errorf("start query server: %w", err)
	}

	s.metricsMgr = server.NewManager(s.metricsMux(), server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)
	if err := s.metricsMgr.Start(); err != nil {
		_ = s.httpManager.Shutdown(context.Background())
		return fmt.Errorf("start metrics server: %w", err)
	}

	s.logger.Info("servers started",
		zap.String("query_addr", s.httpManager.Addr()),
		zap.String("metrics_addr", s.metricsMgr.Addr()),
	)
	return nil
}

// WaitForShutdown 阻塞等待退出信号，然后依次关闭两个服务与管线资源。
func (s *Server) WaitForShutdown() {
	s.httpManager.WaitForShutdown()
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := s.metricsMgr.Shutdown(ctx); err != nil {
		s.logger.Error("metrics server shutdown error", zap.Error(err))
	}
	if err := s.orchestrator.Close(); err != nil {
		s.logger.Error("pipeline close error", zap.Error(err))
	}
}

func (s *Server) queryMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/query", s.handleQuery)
	mux.HandleFunc("/health", s.handleHealth)

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		OTelTracing(),
		RequestLogger(s.logger),
	}
	if s.cfg.Server.RateLimitRPS > 0 {
		middlewares = append(middlewares,
			RateLimiter(s.ctx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst))
	}
	return Chain(mux, middlewares...)
}

func (s *Server) metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	return mux
}

// queryRequest 是 /v1/query 的请求体。
type queryRequest struct {
	Query          string           `json:"query"`
	Namespace      string           `json:"namespace,omitempty"`
	ReferenceTime  *time.Time       `json:"reference_time,omitempty"`
	CenterEntityID string           `json:"center_entity_id,omitempty"`
	History        []retrieval.Turn `json:"history,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	result, err := s.orchestrator.RetrieveAndFuse(r.Context(), queryContextFromRequest(req))
	if err != nil {
		s.logger.Warn("query failed",
			zap.String("query", req.Query),
			zap.Error(err),
		)
		writeError(w, statusForError(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

// queryContextFromRequest 把请求体转换为管线查询上下文。
// 会话历史在这里截断到上限，超长历史不进入管线。
func queryContextFromRequest(req queryRequest) retrieval.QueryContext {
	qc := retrieval.QueryContext{
		Query:          req.Query,
		Namespace:      req.Namespace,
		CenterEntityID: req.CenterEntityID,
		History:        req.History,
	}
	if req.ReferenceTime != nil {
		qc.ReferenceTime = *req.ReferenceTime
	}
	qc.History = qc.BoundedHistory()
	return qc
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"version": Version,
	})
}

// statusForError 把管线错误码映射为 HTTP 状态码。
func statusForError(err error) int {
	switch types.CodeOf(err) {
	case types.ErrBothRetrievalsFailed, types.ErrStoreUnavailable:
		return http.StatusServiceUnavailable
	case types.ErrStoreTimeout, types.ErrDeadlineExceeded:
		return http.StatusGatewayTimeout
	case types.ErrInvalidMetadata:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
