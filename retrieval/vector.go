package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/fusionrag/types"
)

// VectorStore 向量存储的窄接口。实际存储引擎（连接池、索引结构）
// 由外部协作者持有，不在本包范围内。
type VectorStore interface {
	// Query 返回与 embedding 最相似的 topK 条命中，按相似度降序。
	// namespace 非空时只检索该分区内的文档。
	Query(ctx context.Context, embedding []float64, topK int, namespace string) ([]VectorHit, error)
}

// VectorAdapter 把向量存储的 top-K 查询包装为统一的 RetrievalResult。
type VectorAdapter struct {
	store      VectorStore
	normalizer *Normalizer
	logger     *zap.Logger
}

// NewVectorAdapter 创建向量检索适配器。
func NewVectorAdapter(store VectorStore, logger *zap.Logger) *VectorAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VectorAdapter{
		store:      store,
		normalizer: NewNormalizer(logger),
		logger:     logger.With(zap.String("component", "vector_adapter")),
	}
}

// Search 执行向量检索并归一化结果。结果按相似度降序排列，
// 同分按存储返回顺序稳定排序，保证确定性。
// 存储连接错误包装为 RETRIEVAL_FAILED（origin=vector），
// 由上层编排器按部分失败处理，不中止查询。
func (a *VectorAdapter) Search(ctx context.Context, queryText string, embedding []float64, topK int, namespace string) (*RetrievalResult, error) {
	hits, err := a.store.Query(ctx, embedding, topK, namespace)
	if err != nil {
		if ctx.Err() != nil {
			return nil, types.WrapError(types.ErrStoreTimeout, "vector store query", err).WithOrigin(string(SourceVector))
		}
		return nil, types.WrapError(types.ErrRetrievalFailed, "vector store query", err).WithOrigin(string(SourceVector))
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}

	items := make([]EvidenceItem, len(hits))
	for i, h := range hits {
		items[i] = a.normalizer.FromVectorHit(h, i+1)
	}

	a.logger.Debug("vector retrieval completed",
		zap.Int("hits", len(items)),
		zap.String("namespace", namespace))

	return &RetrievalResult{
		Source:    SourceVector,
		Query:     queryText,
		Embedding: embedding,
		Items:     items,
	}, nil
}

// ====== 内存向量存储（用于测试和小规模应用）======

// ChunkRecord 是存入内存向量存储的文本块。
type ChunkRecord struct {
	ChunkID    string
	Text       string
	DocumentID string
	ChunkIndex int
	Namespace  string
	EntityRef  string
	Embedding  []float64
	Metadata   map[string]any
}

// InMemoryVectorStore 内存向量存储。
type InMemoryVectorStore struct {
	chunks []ChunkRecord
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewInMemoryVectorStore 创建内存向量存储。
func NewInMemoryVectorStore(logger *zap.Logger) *InMemoryVectorStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryVectorStore{
		logger: logger.With(zap.String("component", "memory_vector_store")),
	}
}

// AddChunks 添加文本块。
func (s *InMemoryVectorStore) AddChunks(ctx context.Context, chunks []ChunkRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range chunks {
		if c.Embedding == nil {
			return fmt.Errorf("chunk %s has no embedding", c.ChunkID)
		}
		s.chunks = append(s.chunks, c)
	}

	s.logger.Info("chunks added to vector store",
		zap.Int("count", len(chunks)),
		zap.Int("total", len(s.chunks)))
	return nil
}

// Count 返回存储的文本块数量。
func (s *InMemoryVectorStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// Query 按余弦相似度检索 topK 条命中。
func (s *InMemoryVectorStore) Query(ctx context.Context, embedding []float64, topK int, namespace string) ([]VectorHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := make([]VectorHit, 0, len(s.chunks))
	for _, c := range s.chunks {
		if namespace != "" && c.Namespace != namespace {
			continue
		}
		hits = append(hits, VectorHit{
			ChunkID:    c.ChunkID,
			Text:       c.Text,
			Score:      CosineSimilarity(embedding, c.Embedding),
			DocumentID: c.DocumentID,
			ChunkIndex: c.ChunkIndex,
			EntityRef:  c.EntityRef,
			Embedding:  c.Embedding,
			Metadata:   c.Metadata,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// CosineSimilarity 计算两个向量的余弦相似度。
// 维度不匹配或零向量返回 0。
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0.0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
