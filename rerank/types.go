// Package rerank 提供统一的外部重排提供者接口和实现.
//
// 融合引擎的外部重排直通策略（cross-encoder / LLM 重排）通过本包的
// Provider 接口对 (query, candidate) 对打分，引擎只负责组装候选并按
// 返回分数排序.
package rerank

import (
	"context"
	"time"
)

// RerankRequest 代表重排文档的请求.
type RerankRequest struct {
	Query     string     `json:"query"`
	Documents []Document `json:"documents"`
	Model     string     `json:"model,omitempty"`
	TopN      int        `json:"top_n,omitempty"` // Return top N results
}

// Document 代表要重排的文档.
type Document struct {
	Text string `json:"text"`
	ID   string `json:"id,omitempty"`
}

// RerankResponse 代表重排请求的响应.
type RerankResponse struct {
	Provider  string         `json:"provider"`
	Model     string         `json:"model"`
	Results   []RerankResult `json:"results"`
	CreatedAt time.Time      `json:"created_at,omitempty"`
}

// RerankResult 代表单个被重排的文档.
type RerankResult struct {
	Index          int     `json:"index"`           // Original index in input
	RelevanceScore float64 `json:"relevance_score"` // 0-1 normalized score
}

// Provider 定义统一的重排提供者接口.
type Provider interface {
	// Rerank 根据与查询的相关性对文档重排.
	Rerank(ctx context.Context, req *RerankRequest) (*RerankResponse, error)

	// RerankSimple 是简单重排的便捷方法，返回按相关性降序的结果.
	RerankSimple(ctx context.Context, query string, documents []string, topN int) ([]RerankResult, error)

	// Name 返回提供者名称.
	Name() string

	// MaxDocuments 返回支持的最大文档数.
	MaxDocuments() int
}
