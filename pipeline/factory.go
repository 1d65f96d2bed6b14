// Config → Pipeline 桥接层。
//
// 提供工厂函数，将全局 config.Config 转换为 pipeline 包的运行时实例，
// 消除 config 包和 pipeline 包之间的手动配置映射。
package pipeline

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/BaSui01/fusionrag/config"
	"github.com/BaSui01/fusionrag/embedding"
	"github.com/BaSui01/fusionrag/fusion"
	"github.com/BaSui01/fusionrag/internal/metrics"
	"github.com/BaSui01/fusionrag/rerank"
	"github.com/BaSui01/fusionrag/retrieval"
)

// EmbeddingProviderType 标识要创建的嵌入提供者。
type EmbeddingProviderType string

const (
	EmbeddingLocal  EmbeddingProviderType = "local"
	EmbeddingOpenAI EmbeddingProviderType = "openai"
)

// NewEmbeddingProviderFromConfig 根据配置创建 embedding.Provider。
// provider 为空时默认使用 "local"。
func NewEmbeddingProviderFromConfig(cfg *config.Config) (embedding.Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	switch EmbeddingProviderType(cfg.Embedding.Provider) {
	case EmbeddingLocal, "":
		return embedding.NewLocalProvider(cfg.Embedding.Dimensions), nil

	case EmbeddingOpenAI:
		embCfg := embedding.OpenAIConfig{
			APIKey:     cfg.Embedding.APIKey,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
			Timeout:    cfg.Embedding.Timeout,
		}
		if cfg.Embedding.BaseURL != "" {
			embCfg.BaseURL = cfg.Embedding.BaseURL
		}
		return embedding.NewOpenAIProvider(embCfg), nil

	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Embedding.Provider)
	}
}

// NewRerankProviderFromConfig 根据配置创建 rerank.Provider。
// provider 为 "none" 或空时返回 nil，表示不使用外部重排。
func NewRerankProviderFromConfig(cfg *config.Config) (rerank.Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	switch cfg.Rerank.Provider {
	case "", "none":
		return nil, nil

	case "cohere":
		rkCfg := rerank.CohereConfig{
			APIKey:            cfg.Rerank.APIKey,
			Model:             cfg.Rerank.Model,
			Timeout:           cfg.Rerank.Timeout,
			RequestsPerSecond: cfg.Rerank.RequestsPerSecond,
			Burst:             cfg.Rerank.Burst,
		}
		if cfg.Rerank.BaseURL != "" {
			rkCfg.BaseURL = cfg.Rerank.BaseURL
		}
		return rerank.NewCohereProvider(rkCfg), nil

	default:
		return nil, fmt.Errorf("unsupported rerank provider: %s", cfg.Rerank.Provider)
	}
}

// pipelineOptions 收集工厂的可选依赖。
type pipelineOptions struct {
	logger      *zap.Logger
	vectorStore retrieval.VectorStore
	graphStore  retrieval.GraphStore
	registerer  prometheus.Registerer
}

// Option 配置工厂的可选依赖。
type Option func(*pipelineOptions)

// WithLogger 注入日志器。
func WithLogger(logger *zap.Logger) Option {
	return func(o *pipelineOptions) { o.logger = logger }
}

// WithVectorStore 注入向量存储后端，缺省使用内存实现。
func WithVectorStore(store retrieval.VectorStore) Option {
	return func(o *pipelineOptions) { o.vectorStore = store }
}

// WithGraphStore 注入图谱存储后端，缺省使用内存实现。
func WithGraphStore(store retrieval.GraphStore) Option {
	return func(o *pipelineOptions) { o.graphStore = store }
}

// WithRegisterer 注入 Prometheus 注册器，nil 表示不采集指标。
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *pipelineOptions) { o.registerer = reg }
}

// NewOrchestratorFromConfig 一键创建完整的 Orchestrator。
// 它组装嵌入提供者、两路检索适配器、融合引擎、上下文组装器，
// 以及可选的结果缓存和指标采集器。
func NewOrchestratorFromConfig(cfg *config.Config, opts ...Option) (*Orchestrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	var o pipelineOptions
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if o.vectorStore == nil {
		o.vectorStore = retrieval.NewInMemoryVectorStore(logger)
	}
	if o.graphStore == nil {
		o.graphStore = retrieval.NewInMemoryGraphStore(logger)
	}

	embedder, err := NewEmbeddingProviderFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("create embedding provider: %w", err)
	}
	reranker, err := NewRerankProviderFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("create rerank provider: %w", err)
	}

	fusionCfg := fusion.Config{
		Strategy:    fusion.Strategy(cfg.Fusion.Strategy),
		TopK:        cfg.Fusion.TopK,
		RRFK:        cfg.Fusion.RRFK,
		MMRLambda:   cfg.Fusion.MMRLambda,
		MergePolicy: fusion.MergePolicy(cfg.Fusion.MergePolicy),
	}
	engine := fusion.NewEngine(fusionCfg, reranker, logger)

	var tokenizer Tokenizer
	if cfg.Assembler.TokenEncoding != "" {
		tokenizer = NewTiktokenTokenizer(cfg.Assembler.TokenEncoding, logger)
	} else {
		tokenizer = EstimateTokenizer{}
	}
	assembler := NewAssembler(AssemblerConfig{
		MaxItems:      cfg.Assembler.MaxItems,
		MaxChars:      cfg.Assembler.MaxChars,
		MaxTokens:     cfg.Assembler.MaxTokens,
		ExcerptLength: DefaultAssemblerConfig().ExcerptLength,
	}, tokenizer, logger)

	var cache *ResultCache
	if cfg.Cache.Enabled {
		cache, err = NewResultCache(CacheConfig{
			Enabled:    true,
			Addr:       cfg.Cache.Addr,
			Password:   cfg.Cache.Password,
			DB:         cfg.Cache.DB,
			TTL:        cfg.Cache.TTL,
			TimeBucket: cfg.Cache.TimeBucket,
			PoolSize:   cfg.Cache.PoolSize,
		}, logger)
		if err != nil {
			// 缓存不可用只降级，不阻止管线启动
			logger.Warn("result cache unavailable, continuing without cache", zap.Error(err))
			cache = nil
		}
	}

	var collector *metrics.Collector
	if o.registerer != nil {
		collector = metrics.NewCollector(cfg.Pipeline.MetricsNamespace, o.registerer, logger)
	}

	deps := Deps{
		Embedder:  embedder,
		Vector:    retrieval.NewVectorAdapter(o.vectorStore, logger),
		Graph:     retrieval.NewGraphAdapter(o.graphStore, logger),
		Engine:    engine,
		Assembler: assembler,
		Cache:     cache,
		Metrics:   collector,
		Logger:    logger,
	}
	orchCfg := OrchestratorConfig{
		VectorTopK:     cfg.Pipeline.VectorTopK,
		GraphTopK:      cfg.Pipeline.GraphTopK,
		AdapterTimeout: cfg.Pipeline.AdapterTimeout,
		QueryTimeout:   cfg.Pipeline.QueryTimeout,
	}
	return NewOrchestrator(orchCfg, deps, fusionCfg), nil
}
