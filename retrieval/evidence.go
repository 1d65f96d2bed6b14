package retrieval

import (
	"time"
)

// Origin 标识一条证据的检索来源类型。
type Origin string

const (
	OriginVectorChunk Origin = "vector_chunk"
	OriginGraphNode   Origin = "graph_node"
	OriginGraphEdge   Origin = "graph_edge"
	OriginGraphPath   Origin = "graph_path"
)

// IsGraph 报告该来源是否出自知识图谱。
func (o Origin) IsGraph() bool {
	switch o {
	case OriginGraphNode, OriginGraphEdge, OriginGraphPath:
		return true
	default:
		return false
	}
}

// Source 标识检索路径（适配器一侧），用于失败标记和归因。
type Source string

const (
	SourceVector Source = "vector"
	SourceGraph  Source = "graph"
)

// EvidenceItem 是融合引擎操作的统一证据单元。
// 文本块、图谱节点、关系边和路径都归一化为该类型，
// 以 Origin 标签构成一个可判别联合。
type EvidenceItem struct {
	// ID 稳定标识符（chunk ID 或图谱元素 UUID）
	ID string `json:"id"`

	// Origin 来源类型标签
	Origin Origin `json:"origin"`

	// Text 用于答案合成的可读内容
	Text string `json:"text"`

	// Score 来源内部的相关性分数（跨来源不可直接比较）
	Score float64 `json:"score"`

	// Rank 在其来源检索列表中的位置（1 起）
	Rank int `json:"rank"`

	// ValidAt / InvalidAt 有效区间，仅图谱关系事实携带
	ValidAt   *time.Time `json:"valid_at,omitempty"`
	InvalidAt *time.Time `json:"invalid_at,omitempty"`

	// Expired 边已被显式标记过期
	Expired bool `json:"expired,omitempty"`

	// CrossRef 跨检索路径的可靠交叉引用键（如底层节点 UUID）。
	// 为空时该证据不参与跨路径实体合并。
	CrossRef string `json:"cross_ref,omitempty"`

	// Embedding 元素自身的嵌入（可选），供 MMR 余弦相似度使用
	Embedding []float64 `json:"embedding,omitempty"`

	// Metadata 自由元数据，值仅限原始类型或原始类型切片
	Metadata map[string]any `json:"metadata,omitempty"`
}

// RetrievalResult 是单个适配器对单次查询产出的有序证据序列。
type RetrievalResult struct {
	Source    Source         `json:"source"`
	Query     string         `json:"query"`
	Embedding []float64      `json:"embedding,omitempty"`
	Items     []EvidenceItem `json:"items"`
}

// Turn 是会话历史中的一轮对话。
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// QueryContext 是一次检索查询的输入包。
type QueryContext struct {
	// Query 原始查询文本
	Query string `json:"query"`

	// History 之前的会话轮次（有界，见 MaxHistoryTurns）
	History []Turn `json:"history,omitempty"`

	// ReferenceTime 时效过滤的参考时间，零值表示查询时的当前时间
	ReferenceTime time.Time `json:"reference_time,omitempty"`

	// Namespace 多租户隔离的分区键（group_id）
	Namespace string `json:"namespace,omitempty"`

	// CenterEntityID 图谱检索的中心实体（可选，用于邻近偏置）
	CenterEntityID string `json:"center_entity_id,omitempty"`
}

// MaxHistoryTurns 限制 QueryContext.History 的长度。
const MaxHistoryTurns = 20

// ResolveReferenceTime 返回生效的参考时间，零值回退到 now。
func (q QueryContext) ResolveReferenceTime(now time.Time) time.Time {
	if q.ReferenceTime.IsZero() {
		return now
	}
	return q.ReferenceTime
}

// BoundedHistory 返回截断到 MaxHistoryTurns 的最近会话历史。
func (q QueryContext) BoundedHistory() []Turn {
	if len(q.History) <= MaxHistoryTurns {
		return q.History
	}
	return q.History[len(q.History)-MaxHistoryTurns:]
}

// SanitizeMetadata 过滤元数据映射，只保留原始类型或原始类型切片的值，
// 以满足下游存储约束。返回清洗后的映射和被丢弃的键。
// 输入为 nil 时返回 nil。
func SanitizeMetadata(md map[string]any) (map[string]any, []string) {
	if md == nil {
		return nil, nil
	}

	clean := make(map[string]any, len(md))
	var dropped []string
	for k, v := range md {
		if isPrimitive(v) || isPrimitiveSlice(v) {
			clean[k] = v
			continue
		}
		dropped = append(dropped, k)
	}
	return clean, dropped
}

func isPrimitive(v any) bool {
	switch v.(type) {
	case nil, string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64,
		time.Time:
		return true
	default:
		return false
	}
}

func isPrimitiveSlice(v any) bool {
	switch s := v.(type) {
	case []string, []bool, []int, []int64, []float64, []float32:
		return true
	case []any:
		for _, e := range s {
			if !isPrimitive(e) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
