package retrieval

import (
	"strings"
	"time"

	"go.uber.org/zap"
)

// VectorHit 是向量存储返回的原生命中。
type VectorHit struct {
	ChunkID    string         `json:"chunk_id"`
	Text       string         `json:"text"`
	Score      float64        `json:"score"`
	DocumentID string         `json:"document_id,omitempty"`
	ChunkIndex int            `json:"chunk_index,omitempty"`
	EntityRef  string         `json:"entity_ref,omitempty"` // 实体链接元数据（可选）
	Embedding  []float64      `json:"embedding,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ElementKind 是图谱检索命中的元素种类。
type ElementKind string

const (
	ElementNode ElementKind = "node"
	ElementEdge ElementKind = "edge"
	ElementPath ElementKind = "path"
)

// GraphHit 是图谱存储混合检索返回的原生命中。
type GraphHit struct {
	ElementID    string         `json:"element_id"`
	Kind         ElementKind    `json:"kind"`
	Name         string         `json:"name,omitempty"`    // 节点名 / 路径标签
	Summary      string         `json:"summary,omitempty"` // 节点摘要
	Fact         string         `json:"fact,omitempty"`    // 边的自然语言事实
	RelationType string         `json:"relation_type,omitempty"`
	SourceName   string         `json:"source_name,omitempty"`
	TargetName   string         `json:"target_name,omitempty"`
	Score        float64        `json:"score"`
	ValidAt      *time.Time     `json:"valid_at,omitempty"`
	InvalidAt    *time.Time     `json:"invalid_at,omitempty"`
	Expired      bool           `json:"expired,omitempty"`
	Embedding    []float64      `json:"embedding,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Normalizer 把存储原生结果转换为统一的 EvidenceItem。
// 归一化永不失败：缺失的可选字段表示为空字符串而非错误；
// 不合规的元数据值被丢弃并记录告警。
type Normalizer struct {
	logger *zap.Logger
}

// NewNormalizer 创建归一化器。
func NewNormalizer(logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{
		logger: logger.With(zap.String("component", "normalizer")),
	}
}

// FromVectorHit 把向量命中归一化为 EvidenceItem。rank 为 1 起的列表位置。
func (n *Normalizer) FromVectorHit(hit VectorHit, rank int) EvidenceItem {
	md := map[string]any{}
	if hit.DocumentID != "" {
		md["document_id"] = hit.DocumentID
	}
	if hit.ChunkIndex > 0 {
		md["chunk_index"] = hit.ChunkIndex
	}
	md = n.mergeMetadata(hit.ChunkID, md, hit.Metadata)

	return EvidenceItem{
		ID:        hit.ChunkID,
		Origin:    OriginVectorChunk,
		Text:      hit.Text,
		Score:     hit.Score,
		Rank:      rank,
		CrossRef:  hit.EntityRef,
		Embedding: hit.Embedding,
		Metadata:  md,
	}
}

// FromGraphHit 把图谱命中归一化为 EvidenceItem。
//
//   - 节点：text = 名称 + 摘要拼接
//   - 边：text = 自然语言事实；元数据含关系类型和两端实体名
//   - 路径：text = 名称（路径描述）
func (n *Normalizer) FromGraphHit(hit GraphHit, rank int) EvidenceItem {
	var origin Origin
	var text string
	md := map[string]any{}

	switch hit.Kind {
	case ElementEdge:
		origin = OriginGraphEdge
		text = hit.Fact
		if hit.RelationType != "" {
			md["relation_type"] = hit.RelationType
		}
		if hit.SourceName != "" {
			md["source_entity"] = hit.SourceName
		}
		if hit.TargetName != "" {
			md["target_entity"] = hit.TargetName
		}
	case ElementPath:
		origin = OriginGraphPath
		text = hit.Name
	default:
		origin = OriginGraphNode
		text = joinNonEmpty(hit.Name, hit.Summary)
		if hit.Name != "" {
			md["entity_name"] = hit.Name
		}
	}
	md = n.mergeMetadata(hit.ElementID, md, hit.Metadata)

	return EvidenceItem{
		ID:        hit.ElementID,
		Origin:    origin,
		Text:      text,
		Score:     hit.Score,
		Rank:      rank,
		ValidAt:   hit.ValidAt,
		InvalidAt: hit.InvalidAt,
		Expired:   hit.Expired,
		CrossRef:  hit.ElementID,
		Embedding: hit.Embedding,
		Metadata:  md,
	}
}

// mergeMetadata 合并存储自带元数据，丢弃非原始类型的值。
func (n *Normalizer) mergeMetadata(id string, base, extra map[string]any) map[string]any {
	clean, dropped := SanitizeMetadata(extra)
	for k, v := range clean {
		if _, exists := base[k]; !exists {
			base[k] = v
		}
	}
	if len(dropped) > 0 {
		n.logger.Warn("dropped non-primitive metadata values",
			zap.String("id", id),
			zap.Strings("keys", dropped))
	}
	if len(base) == 0 {
		return nil
	}
	return base
}

func joinNonEmpty(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ": ")
}
