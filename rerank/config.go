package rerank

import "time"

// CohereConfig configures the Cohere reranker provider.
type CohereConfig struct {
	APIKey  string        `json:"api_key" yaml:"api_key"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty"` // rerank-v3.5
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// RequestsPerSecond 客户端限流，0 表示不限流
	RequestsPerSecond float64 `json:"requests_per_second,omitempty" yaml:"requests_per_second,omitempty"`
	// Burst 限流突发容量
	Burst int `json:"burst,omitempty" yaml:"burst,omitempty"`
}

// DefaultCohereConfig returns default Cohere reranker config.
func DefaultCohereConfig() CohereConfig {
	return CohereConfig{
		BaseURL:           "https://api.cohere.ai",
		Model:             "rerank-v3.5",
		Timeout:           30 * time.Second,
		RequestsPerSecond: 10,
		Burst:             5,
	}
}
