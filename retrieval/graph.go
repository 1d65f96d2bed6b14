package retrieval

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/fusionrag/types"
)

// GraphStore 时态知识图谱存储的窄接口。
// HybridSearch 组合全文匹配与嵌入相似度，centerEntityID 非空时
// 结果额外按与该实体的图距离做邻近偏置（软性 tie-break，非硬过滤）。
type GraphStore interface {
	HybridSearch(ctx context.Context, queryText string, embedding []float64, topK int, namespace string, centerEntityID string) ([]GraphHit, error)
}

// GraphAdapter 把图谱存储的混合检索包装为统一的 RetrievalResult。
// 返回的结果可能混合节点、边和路径三种子类型。
type GraphAdapter struct {
	store      GraphStore
	normalizer *Normalizer
	logger     *zap.Logger
}

// NewGraphAdapter 创建图谱检索适配器。
func NewGraphAdapter(store GraphStore, logger *zap.Logger) *GraphAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GraphAdapter{
		store:      store,
		normalizer: NewNormalizer(logger),
		logger:     logger.With(zap.String("component", "graph_adapter")),
	}
}

// Search 执行图谱混合检索并归一化结果。
// 失败策略与向量适配器一致：错误包装为 RETRIEVAL_FAILED（origin=graph），
// 上层按部分失败处理。
func (a *GraphAdapter) Search(ctx context.Context, queryText string, embedding []float64, topK int, namespace string, centerEntityID string) (*RetrievalResult, error) {
	hits, err := a.store.HybridSearch(ctx, queryText, embedding, topK, namespace, centerEntityID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, types.WrapError(types.ErrStoreTimeout, "graph hybrid search", err).WithOrigin(string(SourceGraph))
		}
		return nil, types.WrapError(types.ErrRetrievalFailed, "graph hybrid search", err).WithOrigin(string(SourceGraph))
	}

	if len(hits) > topK {
		hits = hits[:topK]
	}

	items := make([]EvidenceItem, len(hits))
	for i, h := range hits {
		items[i] = a.normalizer.FromGraphHit(h, i+1)
	}

	a.logger.Debug("graph retrieval completed",
		zap.Int("hits", len(items)),
		zap.String("namespace", namespace),
		zap.String("center_entity", centerEntityID))

	return &RetrievalResult{
		Source:    SourceGraph,
		Query:     queryText,
		Embedding: embedding,
		Items:     items,
	}, nil
}

// ====== 内存知识图谱（用于测试和小规模应用）======

// EntityNode 知识图谱中的实体节点。
type EntityNode struct {
	UUID      string         `json:"uuid"`
	Name      string         `json:"name"`
	Summary   string         `json:"summary,omitempty"`
	GroupID   string         `json:"group_id,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Embedding []float64      `json:"embedding,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// EntityEdge 节点之间的双时态关系事实。
type EntityEdge struct {
	UUID         string         `json:"uuid"`
	SourceUUID   string         `json:"source_uuid"`
	TargetUUID   string         `json:"target_uuid"`
	RelationType string         `json:"relation_type"`
	Fact         string         `json:"fact"`
	GroupID      string         `json:"group_id,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	ValidAt      *time.Time     `json:"valid_at,omitempty"`
	InvalidAt    *time.Time     `json:"invalid_at,omitempty"`
	Expired      bool           `json:"expired,omitempty"`
	Embedding    []float64      `json:"embedding,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// InMemoryGraphStore 内存知识图谱存储。
// 混合检索 = 词项重叠的全文分数 + 嵌入余弦分数的加权融合，
// 中心实体的 BFS 距离仅作为同分排序的偏置。
type InMemoryGraphStore struct {
	nodes    map[string]*EntityNode
	edges    map[string]*EntityEdge
	outEdges map[string][]string // nodeUUID -> edgeUUIDs
	inEdges  map[string][]string
	order    []string // 元素插入顺序，保证确定性
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewInMemoryGraphStore 创建内存图谱存储。
func NewInMemoryGraphStore(logger *zap.Logger) *InMemoryGraphStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryGraphStore{
		nodes:    make(map[string]*EntityNode),
		edges:    make(map[string]*EntityEdge),
		outEdges: make(map[string][]string),
		inEdges:  make(map[string][]string),
		logger:   logger.With(zap.String("component", "memory_graph_store")),
	}
}

// AddNode 添加实体节点，UUID 为空时自动生成。
func (g *InMemoryGraphStore) AddNode(node *EntityNode) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if node.UUID == "" {
		node.UUID = uuid.NewString()
	}
	if node.CreatedAt.IsZero() {
		node.CreatedAt = time.Now()
	}
	if _, exists := g.nodes[node.UUID]; !exists {
		g.order = append(g.order, node.UUID)
	}
	g.nodes[node.UUID] = node
	return node.UUID
}

// AddEdge 添加关系边，UUID 为空时自动生成。
func (g *InMemoryGraphStore) AddEdge(edge *EntityEdge) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if edge.UUID == "" {
		edge.UUID = uuid.NewString()
	}
	if edge.CreatedAt.IsZero() {
		edge.CreatedAt = time.Now()
	}
	if _, exists := g.edges[edge.UUID]; !exists {
		g.order = append(g.order, edge.UUID)
	}
	g.edges[edge.UUID] = edge
	g.outEdges[edge.SourceUUID] = append(g.outEdges[edge.SourceUUID], edge.UUID)
	g.inEdges[edge.TargetUUID] = append(g.inEdges[edge.TargetUUID], edge.UUID)
	return edge.UUID
}

// GetNode 通过 UUID 检索节点。
func (g *InMemoryGraphStore) GetNode(id string) (*EntityNode, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	return n, ok
}

// HybridSearch 实现 GraphStore。
func (g *InMemoryGraphStore) HybridSearch(ctx context.Context, queryText string, embedding []float64, topK int, namespace string, centerEntityID string) ([]GraphHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	queryTerms := tokenizeTerms(queryText)
	distances := g.nodeDistances(centerEntityID)

	type scored struct {
		hit      GraphHit
		text     float64
		vector   float64
		distance int
		order    int
	}
	var candidates []scored

	for i, id := range g.order {
		if node, ok := g.nodes[id]; ok {
			if namespace != "" && node.GroupID != namespace {
				continue
			}
			candidates = append(candidates, scored{
				hit: GraphHit{
					ElementID: node.UUID,
					Kind:      ElementNode,
					Name:      node.Name,
					Summary:   node.Summary,
					Embedding: node.Embedding,
					Metadata:  node.Metadata,
				},
				text:     termOverlap(queryTerms, node.Name+" "+node.Summary),
				vector:   CosineSimilarity(embedding, node.Embedding),
				distance: distanceOrMax(distances, node.UUID),
				order:    i,
			})
			continue
		}
		if edge, ok := g.edges[id]; ok {
			if namespace != "" && edge.GroupID != namespace {
				continue
			}
			candidates = append(candidates, scored{
				hit: GraphHit{
					ElementID:    edge.UUID,
					Kind:         ElementEdge,
					Fact:         edge.Fact,
					RelationType: edge.RelationType,
					SourceName:   g.nodeName(edge.SourceUUID),
					TargetName:   g.nodeName(edge.TargetUUID),
					ValidAt:      edge.ValidAt,
					InvalidAt:    edge.InvalidAt,
					Expired:      edge.Expired,
					Embedding:    edge.Embedding,
					Metadata:     edge.Metadata,
				},
				text:     termOverlap(queryTerms, edge.Fact),
				vector:   CosineSimilarity(embedding, edge.Embedding),
				distance: minEndpointDistance(distances, edge),
				order:    i,
			})
		}
	}

	// 全文与向量分数各自 min-max 归一化后加权融合
	normalizeInPlace(candidates, func(s *scored) *float64 { return &s.text })
	normalizeInPlace(candidates, func(s *scored) *float64 { return &s.vector })
	for i := range candidates {
		c := &candidates[i]
		c.hit.Score = 0.5*c.text + 0.5*c.vector
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.hit.Score != b.hit.Score {
			return a.hit.Score > b.hit.Score
		}
		// 中心实体邻近偏置：同分时图距离近者在前
		if a.distance != b.distance {
			return a.distance < b.distance
		}
		return a.order < b.order
	})

	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	hits := make([]GraphHit, len(candidates))
	for i, c := range candidates {
		hits[i] = c.hit
	}
	return hits, nil
}

// nodeDistances 从中心实体做有界 BFS，返回节点 UUID → 跳数。
// 中心实体为空或不存在时返回空映射。
func (g *InMemoryGraphStore) nodeDistances(centerEntityID string) map[string]int {
	distances := make(map[string]int)
	if centerEntityID == "" {
		return distances
	}
	if _, ok := g.nodes[centerEntityID]; !ok {
		return distances
	}

	const maxDepth = 3
	distances[centerEntityID] = 0
	queue := []string{centerEntityID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		d := distances[cur]
		if d >= maxDepth {
			continue
		}
		for _, edgeID := range g.outEdges[cur] {
			next := g.edges[edgeID].TargetUUID
			if _, seen := distances[next]; !seen {
				distances[next] = d + 1
				queue = append(queue, next)
			}
		}
		for _, edgeID := range g.inEdges[cur] {
			next := g.edges[edgeID].SourceUUID
			if _, seen := distances[next]; !seen {
				distances[next] = d + 1
				queue = append(queue, next)
			}
		}
	}
	return distances
}

func (g *InMemoryGraphStore) nodeName(id string) string {
	if n, ok := g.nodes[id]; ok {
		return n.Name
	}
	return ""
}

func distanceOrMax(distances map[string]int, id string) int {
	if d, ok := distances[id]; ok {
		return d
	}
	return math.MaxInt32
}

func minEndpointDistance(distances map[string]int, edge *EntityEdge) int {
	ds := distanceOrMax(distances, edge.SourceUUID)
	dt := distanceOrMax(distances, edge.TargetUUID)
	if ds < dt {
		return ds
	}
	return dt
}

// termOverlap 计算查询词项在文本中的命中比例。
func termOverlap(queryTerms []string, text string) float64 {
	if len(queryTerms) == 0 {
		return 0.0
	}
	textTerms := make(map[string]bool)
	for _, t := range tokenizeTerms(text) {
		textTerms[t] = true
	}
	matched := 0
	for _, q := range queryTerms {
		if textTerms[q] {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTerms))
}

func tokenizeTerms(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

func normalizeInPlace[T any](items []T, field func(*T) *float64) {
	if len(items) == 0 {
		return
	}
	minV := math.MaxFloat64
	maxV := -math.MaxFloat64
	for i := range items {
		v := *field(&items[i])
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}
	span := maxV - minV
	for i := range items {
		p := field(&items[i])
		if span == 0 {
			*p = 0
			continue
		}
		*p = (*p - minV) / span
	}
}
