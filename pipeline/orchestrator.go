package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/fusionrag/embedding"
	"github.com/BaSui01/fusionrag/fusion"
	"github.com/BaSui01/fusionrag/internal/metrics"
	"github.com/BaSui01/fusionrag/retrieval"
	"github.com/BaSui01/fusionrag/types"
)

// State 是单次查询的管线阶段。
type State string

const (
	StateIdle       State = "idle"
	StateRetrieving State = "retrieving"
	StateFiltering  State = "filtering"
	StateFusing     State = "fusing"
	StateAssembling State = "assembling"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// validNext 定义合法的状态迁移。StateFailed 可从任意阶段进入。
var validNext = map[State]State{
	StateIdle:       StateRetrieving,
	StateRetrieving: StateFiltering,
	StateFiltering:  StateFusing,
	StateFusing:     StateAssembling,
	StateAssembling: StateDone,
}

// Warning 是附着在查询结果上的非致命告警。
type Warning struct {
	Code    types.ErrorCode `json:"code"`
	Origin  string          `json:"origin,omitempty"`
	Message string          `json:"message"`
}

// Result 是一次检索融合查询的完整输出。
// 空的证据集配合 nil error 表示"检索成功但无相关证据"，
// 与检索失败（error 非 nil）严格区分。
type Result struct {
	QueryID       string                   `json:"query_id"`
	Query         string                   `json:"query"`
	ReferenceTime time.Time                `json:"reference_time"`
	Set           *fusion.FusedEvidenceSet `json:"set"`
	Context       string                   `json:"context"`
	Attributions  []Attribution            `json:"attributions,omitempty"`
	Warnings      []Warning                `json:"warnings,omitempty"`
	State         State                    `json:"state"`
	CacheHit      bool                     `json:"cache_hit,omitempty"`
}

// OrchestratorConfig 编排器配置。
type OrchestratorConfig struct {
	VectorTopK     int           `json:"vector_top_k" yaml:"vector_top_k"`
	GraphTopK      int           `json:"graph_top_k" yaml:"graph_top_k"`
	AdapterTimeout time.Duration `json:"adapter_timeout" yaml:"adapter_timeout"`
	QueryTimeout   time.Duration `json:"query_timeout" yaml:"query_timeout"`
}

// DefaultOrchestratorConfig 返回默认编排配置。
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		VectorTopK:     20,
		GraphTopK:      20,
		AdapterTimeout: 5 * time.Second,
		QueryTimeout:   15 * time.Second,
	}
}

// Deps 是编排器的依赖集合。Cache 和 Metrics 可为 nil。
type Deps struct {
	Embedder  embedding.Provider
	Vector    *retrieval.VectorAdapter
	Graph     *retrieval.GraphAdapter
	Engine    *fusion.Engine
	Assembler *Assembler
	Cache     *ResultCache
	Metrics   *metrics.Collector
	Logger    *zap.Logger
}

// Orchestrator 按固定阶段串联整条管线：
// 并行检索 → 时效过滤 → 融合 → 组装。
// 自身无跨查询可变状态，状态机为单次查询私有。
type Orchestrator struct {
	cfg       OrchestratorConfig
	embedder  embedding.Provider
	vector    *retrieval.VectorAdapter
	graph     *retrieval.GraphAdapter
	temporal  *retrieval.TemporalFilter
	engine    *fusion.Engine
	fallback  *fusion.Engine
	assembler *Assembler
	cache     *ResultCache
	metrics   *metrics.Collector
	tracer    trace.Tracer
	logger    *zap.Logger
}

// NewOrchestrator 创建编排器。
// fallback 引擎用于外部重排失败时回退到 RRF，见 RetrieveAndFuse。
func NewOrchestrator(cfg OrchestratorConfig, deps Deps, fusionCfg fusion.Config) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.VectorTopK <= 0 {
		cfg.VectorTopK = DefaultOrchestratorConfig().VectorTopK
	}
	if cfg.GraphTopK <= 0 {
		cfg.GraphTopK = DefaultOrchestratorConfig().GraphTopK
	}
	if cfg.AdapterTimeout <= 0 {
		cfg.AdapterTimeout = DefaultOrchestratorConfig().AdapterTimeout
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultOrchestratorConfig().QueryTimeout
	}

	var fallback *fusion.Engine
	if fusionCfg.Strategy == fusion.StrategyRerank {
		rrfCfg := fusionCfg
		rrfCfg.Strategy = fusion.StrategyRRF
		fallback = fusion.NewEngine(rrfCfg, nil, logger)
	}

	return &Orchestrator{
		cfg:       cfg,
		embedder:  deps.Embedder,
		vector:    deps.Vector,
		graph:     deps.Graph,
		temporal:  retrieval.NewTemporalFilter(logger),
		engine:    deps.Engine,
		fallback:  fallback,
		assembler: deps.Assembler,
		cache:     deps.Cache,
		metrics:   deps.Metrics,
		tracer:    otel.Tracer("fusionrag/pipeline"),
		logger:    logger.With(zap.String("component", "orchestrator")),
	}
}

// Close 释放编排器持有的外部资源，当前只有缓存连接。
func (o *Orchestrator) Close() error {
	if o.cache != nil {
		return o.cache.Close()
	}
	return nil
}

// execution 是单次查询的状态机。
type execution struct {
	state    State
	warnings []Warning
}

func (e *execution) transition(to State) error {
	if to == StateFailed {
		e.state = StateFailed
		return nil
	}
	if validNext[e.state] != to {
		return types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("cannot transition from %s to %s", e.state, to))
	}
	e.state = to
	return nil
}

func (e *execution) warn(code types.ErrorCode, origin, message string) {
	e.warnings = append(e.warnings, Warning{Code: code, Origin: origin, Message: message})
}

// RetrieveAndFuse 执行完整的检索融合查询。
//
// 两路检索并行发出，各自携带独立超时；单路失败降级为告警并继续，
// 两路全部失败返回 BOTH_RETRIEVALS_FAILED。查询嵌入失败是致命错误，
// 因为两路适配器都无法执行语义查询。外层截止时间约束检索阶段，
// 之后的过滤、融合、组装为纯计算，用已有证据完成，不会无限阻塞。
func (o *Orchestrator) RetrieveAndFuse(ctx context.Context, qc retrieval.QueryContext) (*Result, error) {
	start := time.Now()
	queryID := uuid.NewString()
	referenceTime := qc.ResolveReferenceTime(start)
	// 会话历史在入口处截断，调用方传入的超长历史不进入管线
	qc.History = qc.BoundedHistory()

	ctx, cancel := context.WithTimeout(ctx, o.cfg.QueryTimeout)
	defer cancel()

	ctx, span := o.tracer.Start(ctx, "pipeline.retrieve_and_fuse",
		trace.WithAttributes(
			attribute.String("query_id", queryID),
			attribute.String("namespace", qc.Namespace),
		))
	defer span.End()

	logger := o.logger.With(zap.String("query_id", queryID))

	// 读穿缓存：命中直接返回，缓存故障绝不影响查询
	if o.cache != nil {
		if cached, ok := o.cache.Get(ctx, qc, referenceTime); ok {
			o.recordCache(true)
			logger.Debug("result cache hit")
			return cached, nil
		}
		o.recordCache(false)
	}

	exec := &execution{state: StateIdle}
	result, err := o.run(ctx, exec, qc, queryID, referenceTime, logger)
	if err != nil {
		o.recordQuery("failed", time.Since(start))
		return nil, err
	}

	if o.cache != nil {
		o.cache.Set(ctx, qc, referenceTime, result)
	}
	o.recordQuery("ok", time.Since(start))
	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, exec *execution, qc retrieval.QueryContext, queryID string, referenceTime time.Time, logger *zap.Logger) (*Result, error) {
	if err := exec.transition(StateRetrieving); err != nil {
		return nil, err
	}

	// 查询嵌入由两路适配器共享，每次查询只生成一次
	queryEmbedding, err := o.embedder.EmbedQuery(ctx, qc.Query)
	if err != nil {
		_ = exec.transition(StateFailed)
		return nil, types.WrapError(types.ErrEmbeddingFailed, "embed query", err)
	}

	vectorResult, graphResult := o.retrieveParallel(ctx, exec, qc, queryEmbedding)
	if vectorResult == nil && graphResult == nil {
		_ = exec.transition(StateFailed)
		return nil, types.NewError(types.ErrBothRetrievalsFailed, "all retrieval origins failed")
	}

	if err := exec.transition(StateFiltering); err != nil {
		return nil, err
	}
	if graphResult != nil {
		before := len(graphResult.Items)
		filtered, malformed := o.temporal.FilterValid(graphResult.Items, referenceTime)
		graphResult.Items = filtered
		o.recordTemporal(malformed, before-len(filtered)-malformed)
		// 被时效过滤排除的事实不是失败，不产生告警
		logger.Debug("temporal filtering applied",
			zap.Int("before", before),
			zap.Int("after", len(filtered)),
			zap.Int("malformed", malformed))
	}

	if err := exec.transition(StateFusing); err != nil {
		return nil, err
	}
	fuseStart := time.Now()
	set, err := o.fuse(ctx, exec, qc.Query, vectorResult, graphResult)
	if err != nil {
		_ = exec.transition(StateFailed)
		return nil, err
	}
	o.recordFusion(string(set.Strategy), set.Len(), time.Since(fuseStart))

	if err := exec.transition(StateAssembling); err != nil {
		return nil, err
	}
	contextText, attributions := o.assembler.Assemble(set)

	if err := exec.transition(StateDone); err != nil {
		return nil, err
	}

	logger.Info("query completed",
		zap.Int("fused_items", set.Len()),
		zap.Int("warnings", len(exec.warnings)))

	return &Result{
		QueryID:       queryID,
		Query:         qc.Query,
		ReferenceTime: referenceTime,
		Set:           set,
		Context:       contextText,
		Attributions:  attributions,
		Warnings:      exec.warnings,
		State:         exec.state,
	}, nil
}

// retrieveParallel 并行发出两路检索，各自携带独立超时。
// 单路失败返回 nil 并记录告警；结果的合并顺序与完成时序无关。
func (o *Orchestrator) retrieveParallel(ctx context.Context, exec *execution, qc retrieval.QueryContext, queryEmbedding []float64) (*retrieval.RetrievalResult, *retrieval.RetrievalResult) {
	var vectorResult, graphResult *retrieval.RetrievalResult
	var vectorErr, graphErr error

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		actx, cancel := context.WithTimeout(gctx, o.cfg.AdapterTimeout)
		defer cancel()
		started := time.Now()
		_, span := o.tracer.Start(actx, "pipeline.retrieve.vector")
		vectorResult, vectorErr = o.vector.Search(actx, qc.Query, queryEmbedding, o.cfg.VectorTopK, qc.Namespace)
		span.End()
		o.recordRetrieval(string(retrieval.SourceVector), vectorErr, time.Since(started))
		return nil
	})

	g.Go(func() error {
		actx, cancel := context.WithTimeout(gctx, o.cfg.AdapterTimeout)
		defer cancel()
		started := time.Now()
		_, span := o.tracer.Start(actx, "pipeline.retrieve.graph")
		graphResult, graphErr = o.graph.Search(actx, qc.Query, queryEmbedding, o.cfg.GraphTopK, qc.Namespace, qc.CenterEntityID)
		span.End()
		o.recordRetrieval(string(retrieval.SourceGraph), graphErr, time.Since(started))
		return nil
	})

	// 检索错误按槽位收集，g.Wait 只用于汇合
	_ = g.Wait()

	if vectorErr != nil {
		exec.warn(types.CodeOf(vectorErr), string(retrieval.SourceVector), vectorErr.Error())
		vectorResult = nil
	}
	if graphErr != nil {
		exec.warn(types.CodeOf(graphErr), string(retrieval.SourceGraph), graphErr.Error())
		graphResult = nil
	}
	return vectorResult, graphResult
}

// fuse 执行融合；外部重排失败时回退到 RRF 并记录告警，
// 保证重排服务故障不会使查询失败。
func (o *Orchestrator) fuse(ctx context.Context, exec *execution, query string, vectorResult, graphResult *retrieval.RetrievalResult) (*fusion.FusedEvidenceSet, error) {
	set, err := o.engine.Fuse(ctx, query, vectorResult, graphResult)
	if err == nil {
		return set, nil
	}
	if o.fallback == nil {
		return nil, err
	}

	exec.warn(types.ErrRerankFailed, "", err.Error())
	o.logger.Warn("external rerank failed, falling back to rrf", zap.Error(err))
	return o.fallback.Fuse(ctx, query, vectorResult, graphResult)
}

func (o *Orchestrator) recordRetrieval(origin string, err error, d time.Duration) {
	if o.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	o.metrics.RecordRetrieval(origin, status, d)
}

func (o *Orchestrator) recordFusion(strategy string, items int, d time.Duration) {
	if o.metrics != nil {
		o.metrics.RecordFusion(strategy, items, d)
	}
}

func (o *Orchestrator) recordTemporal(malformed, outOfWindow int) {
	if o.metrics == nil {
		return
	}
	o.metrics.RecordTemporalFiltered("malformed_interval", malformed)
	o.metrics.RecordTemporalFiltered("out_of_window", outOfWindow)
}

func (o *Orchestrator) recordCache(hit bool) {
	if o.metrics == nil {
		return
	}
	if hit {
		o.metrics.RecordCacheHit()
	} else {
		o.metrics.RecordCacheMiss()
	}
}

func (o *Orchestrator) recordQuery(status string, d time.Duration) {
	if o.metrics != nil {
		o.metrics.RecordQuery(status, d)
	}
}
