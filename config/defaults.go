package config

import (
	"fmt"
	"time"
)

// DefaultConfig 返回完整的默认配置。
// 默认值面向本地开发：内存存储、本地嵌入、缓存和遥测关闭。
func DefaultConfig() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			VectorTopK:       20,
			GraphTopK:        20,
			AdapterTimeout:   5 * time.Second,
			QueryTimeout:     15 * time.Second,
			MetricsNamespace: "fusionrag",
		},
		Fusion: FusionConfig{
			Strategy:    "rrf",
			TopK:        10,
			RRFK:        60,
			MMRLambda:   0.5,
			MergePolicy: "cross_ref",
		},
		Assembler: AssemblerConfig{
			MaxItems:      10,
			MaxChars:      12000,
			MaxTokens:     3000,
			TokenEncoding: "",
		},
		Cache: CacheConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			TTL:        5 * time.Minute,
			TimeBucket: time.Minute,
			PoolSize:   10,
		},
		Embedding: EmbeddingConfig{
			Provider:   "local",
			Dimensions: 64,
			Timeout:    30 * time.Second,
		},
		Rerank: RerankConfig{
			Provider:          "none",
			Timeout:           30 * time.Second,
			RequestsPerSecond: 10,
			Burst:             5,
		},
		Server: ServerConfig{
			HTTPPort:        8080,
			MetricsPort:     9090,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RateLimitRPS:    50,
			RateLimitBurst:  100,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "fusionrag",
			SampleRate:   1.0,
		},
	}
}

// DefaultValidators 返回基础配置验证器。
func DefaultValidators() []func(*Config) error {
	return []func(*Config) error{
		validateFusion,
		validatePipeline,
		validateEmbedding,
	}
}

func validateFusion(cfg *Config) error {
	switch cfg.Fusion.Strategy {
	case "rrf", "mmr", "rerank":
	default:
		return fmt.Errorf("unknown fusion strategy: %q", cfg.Fusion.Strategy)
	}
	switch cfg.Fusion.MergePolicy {
	case "cross_ref", "never":
	default:
		return fmt.Errorf("unknown merge policy: %q", cfg.Fusion.MergePolicy)
	}
	if cfg.Fusion.TopK <= 0 {
		return fmt.Errorf("fusion top_k must be positive, got %d", cfg.Fusion.TopK)
	}
	if cfg.Fusion.MMRLambda <= 0 || cfg.Fusion.MMRLambda > 1 {
		return fmt.Errorf("mmr_lambda must be in (0,1], got %g", cfg.Fusion.MMRLambda)
	}
	if cfg.Fusion.Strategy == "rerank" && cfg.Rerank.Provider == "none" {
		return fmt.Errorf("fusion strategy rerank requires a rerank provider")
	}
	return nil
}

func validatePipeline(cfg *Config) error {
	if cfg.Pipeline.VectorTopK <= 0 || cfg.Pipeline.GraphTopK <= 0 {
		return fmt.Errorf("retrieval top_k must be positive")
	}
	if cfg.Pipeline.AdapterTimeout <= 0 {
		return fmt.Errorf("adapter_timeout must be positive")
	}
	if cfg.Pipeline.QueryTimeout < cfg.Pipeline.AdapterTimeout {
		return fmt.Errorf("query_timeout must not be shorter than adapter_timeout")
	}
	return nil
}

func validateEmbedding(cfg *Config) error {
	switch cfg.Embedding.Provider {
	case "local", "openai":
	default:
		return fmt.Errorf("unknown embedding provider: %q", cfg.Embedding.Provider)
	}
	if cfg.Embedding.Provider == "openai" && cfg.Embedding.APIKey == "" {
		return fmt.Errorf("openai embedding provider requires api_key")
	}
	return nil
}
