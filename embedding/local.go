package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"time"
)

// LocalProvider 基于词项哈希的确定性本地嵌入提供者。
// 不调用任何外部服务，同一输入永远产生同一向量，
// 用于测试和无网络的开发环境。语义质量远低于真实模型。
type LocalProvider struct {
	dims int
}

// NewLocalProvider 创建本地嵌入提供者。dims <= 0 时使用 64 维。
func NewLocalProvider(dims int) *LocalProvider {
	if dims <= 0 {
		dims = 64
	}
	return &LocalProvider{dims: dims}
}

func (p *LocalProvider) Name() string    { return "local-hash-embedding" }
func (p *LocalProvider) Dimensions() int { return p.dims }

// Embed 为给定输入生成嵌入.
func (p *LocalProvider) Embed(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	embeddings := make([]EmbeddingData, len(req.Input))
	for i, text := range req.Input {
		embeddings[i] = EmbeddingData{Index: i, Embedding: p.embedText(text)}
	}
	return &EmbeddingResponse{
		Provider:   p.Name(),
		Model:      "hash",
		Embeddings: embeddings,
		CreatedAt:  time.Now(),
	}, nil
}

// EmbedQuery 嵌入单个查询.
func (p *LocalProvider) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	resp, err := p.Embed(ctx, &EmbeddingRequest{Input: []string{query}, InputType: InputTypeQuery})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0].Embedding, nil
}

// embedText 把每个词项哈希到一个维度并累加，最后 L2 归一化。
func (p *LocalProvider) embedText(text string) []float64 {
	vec := make([]float64, p.dims)
	for _, term := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(term))
		sum := h.Sum32()
		idx := int(sum % uint32(p.dims))
		// 哈希高位决定符号，减少词项间的系统性偏置
		if sum&0x80000000 != 0 {
			vec[idx] -= 1.0
		} else {
			vec[idx] += 1.0
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec
}
