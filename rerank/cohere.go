package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"golang.org/x/time/rate"
)

// CohereProvider 使用 Cohere API 执行重排.
type CohereProvider struct {
	cfg     CohereConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewCohereProvider 创建新的 Cohere reranker 提供者.
func NewCohereProvider(cfg CohereConfig) *CohereProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.cohere.ai"
	}
	if cfg.Model == "" {
		cfg.Model = "rerank-v3.5"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &CohereProvider{
		cfg:     cfg,
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
	}
}

func (p *CohereProvider) Name() string      { return "cohere-rerank" }
func (p *CohereProvider) MaxDocuments() int { return 1000 }

type cohereRerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model"`
	TopN      int      `json:"top_n,omitempty"`
}

type cohereRerankResponse struct {
	ID      string `json:"id"`
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank 使用 Cohere 对文档进行重排.
func (p *CohereProvider) Rerank(ctx context.Context, req *RerankRequest) (*RerankResponse, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rerank rate limit wait: %w", err)
		}
	}

	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}

	docs := make([]string, len(req.Documents))
	for i, d := range req.Documents {
		docs[i] = d.Text
	}

	body, err := json.Marshal(cohereRerankRequest{
		Query:     req.Query,
		Documents: docs,
		Model:     model,
		TopN:      req.TopN,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/v2/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create rerank request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("rerank request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read rerank response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rerank request failed: status %d: %s", resp.StatusCode, string(respBody))
	}

	var coResp cohereRerankResponse
	if err := json.Unmarshal(respBody, &coResp); err != nil {
		return nil, fmt.Errorf("parse rerank response: %w", err)
	}

	results := make([]RerankResult, len(coResp.Results))
	for i, r := range coResp.Results {
		results[i] = RerankResult{Index: r.Index, RelevanceScore: r.RelevanceScore}
	}

	return &RerankResponse{
		Provider:  p.Name(),
		Model:     model,
		Results:   results,
		CreatedAt: time.Now(),
	}, nil
}

// RerankSimple 简单重排的便捷方法.
func (p *CohereProvider) RerankSimple(ctx context.Context, query string, documents []string, topN int) ([]RerankResult, error) {
	docs := make([]Document, len(documents))
	for i, d := range documents {
		docs[i] = Document{Text: d}
	}
	resp, err := p.Rerank(ctx, &RerankRequest{Query: query, Documents: docs, TopN: topN})
	if err != nil {
		return nil, err
	}

	results := resp.Results
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].RelevanceScore > results[j].RelevanceScore
	})
	if topN > 0 && len(results) > topN {
		results = results[:topN]
	}
	return results, nil
}
