package fusion

import (
	"context"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/fusionrag/rerank"
	"github.com/BaSui01/fusionrag/retrieval"
	"github.com/BaSui01/fusionrag/types"
)

// Strategy 选择融合策略。
type Strategy string

const (
	StrategyRRF    Strategy = "rrf"
	StrategyMMR    Strategy = "mmr"
	StrategyRerank Strategy = "rerank" // 外部重排直通
)

// MergePolicy 控制同一实体经两路检索命中时的合并行为。
type MergePolicy string

const (
	// MergeOnCrossRef 仅在双方携带相同的可靠交叉引用键时合并（默认）
	MergeOnCrossRef MergePolicy = "cross_ref"
	// MergeNever 永不跨路径合并实体（相同 ID 仍然去重）
	MergeNever MergePolicy = "never"
)

// Config 融合引擎配置。
type Config struct {
	Strategy    Strategy    `json:"strategy" yaml:"strategy"`
	TopK        int         `json:"top_k" yaml:"top_k"`
	RRFK        int         `json:"rrf_k" yaml:"rrf_k"`           // RRF 常数 k，抑制 rank-1 优势
	MMRLambda   float64     `json:"mmr_lambda" yaml:"mmr_lambda"` // 相关性与多样性的权衡
	MergePolicy MergePolicy `json:"merge_policy" yaml:"merge_policy"`
}

// DefaultConfig 返回默认融合配置。
func DefaultConfig() Config {
	return Config{
		Strategy:    StrategyRRF,
		TopK:        10,
		RRFK:        60,
		MMRLambda:   0.5,
		MergePolicy: MergeOnCrossRef,
	}
}

// FusedItem 是融合后的证据，携带融合分数和各来源的原始排名
// 供可解释性和调试使用。排名为 0 表示该来源未命中。
type FusedItem struct {
	retrieval.EvidenceItem

	FusedScore float64 `json:"fused_score"`
	VectorRank int     `json:"vector_rank,omitempty"`
	GraphRank  int     `json:"graph_rank,omitempty"`
}

// FusedEvidenceSet 是跨来源重排后的有序证据集。
// 不变式：集合内无重复 ID。
type FusedEvidenceSet struct {
	Strategy Strategy    `json:"strategy"`
	Items    []FusedItem `json:"items"`
}

// Len 返回证据条数。
func (s *FusedEvidenceSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Items)
}

// Engine 融合引擎。无跨查询可变状态，可并发使用。
type Engine struct {
	cfg      Config
	reranker rerank.Provider
	logger   *zap.Logger
}

// NewEngine 创建融合引擎。reranker 仅 StrategyRerank 需要，可为 nil。
func NewEngine(cfg Config, reranker rerank.Provider, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultConfig().TopK
	}
	if cfg.RRFK <= 0 {
		cfg.RRFK = DefaultConfig().RRFK
	}
	if cfg.MMRLambda <= 0 || cfg.MMRLambda > 1 {
		cfg.MMRLambda = DefaultConfig().MMRLambda
	}
	if cfg.MergePolicy == "" {
		cfg.MergePolicy = MergeOnCrossRef
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyRRF
	}
	return &Engine{
		cfg:      cfg,
		reranker: reranker,
		logger:   logger.With(zap.String("component", "fusion_engine")),
	}
}

// candidate 是融合期间的内部证据记录。
type candidate struct {
	item        retrieval.EvidenceItem
	vectorRank  int
	graphRank   int
	vectorScore float64
	graphScore  float64
	order       int // 合并插入顺序（向量在前），确定性 tie-break
}

// Fuse 把两路检索结果合并为一个统一排序的证据集。
// 任一输入可为 nil（对应适配器失败或未启用），输入应已通过时效过滤。
// 融合是纯计算，不做 I/O；仅外部重排策略会经 reranker 出网。
func (e *Engine) Fuse(ctx context.Context, query string, vector, graph *retrieval.RetrievalResult) (*FusedEvidenceSet, error) {
	candidates := e.assemble(vector, graph)
	if len(candidates) == 0 {
		return &FusedEvidenceSet{Strategy: e.cfg.Strategy}, nil
	}

	var items []FusedItem
	var err error
	switch e.cfg.Strategy {
	case StrategyMMR:
		items = e.fuseMMR(candidates)
	case StrategyRerank:
		items, err = e.fuseRerank(ctx, query, candidates)
		if err != nil {
			return nil, err
		}
	default:
		items = e.fuseRRF(candidates)
	}

	if len(items) > e.cfg.TopK {
		items = items[:e.cfg.TopK]
	}

	e.logger.Debug("fusion completed",
		zap.String("strategy", string(e.cfg.Strategy)),
		zap.Int("candidates", len(candidates)),
		zap.Int("fused", len(items)))

	return &FusedEvidenceSet{Strategy: e.cfg.Strategy, Items: items}, nil
}

// assemble 去重合并两路结果为候选池。向量列表先于图谱列表插入，
// 插入顺序固定，与适配器完成时序无关。
func (e *Engine) assemble(vector, graph *retrieval.RetrievalResult) []*candidate {
	var pool []*candidate
	byID := make(map[string]*candidate)
	byCrossRef := make(map[string]*candidate)

	add := func(item retrieval.EvidenceItem, source retrieval.Source) {
		// 相同 ID 永远合并：这是同一个存储元素，不是实体级合并
		target := byID[item.ID]
		if target == nil && e.cfg.MergePolicy == MergeOnCrossRef && item.CrossRef != "" {
			// 实体级合并只发生在向量↔图谱跨路径命中之间；
			// 同一列表内引用同一实体的不同证据保持独立
			if prev := byCrossRef[item.CrossRef]; prev != nil && !prev.fromSource(source) {
				target = prev
			}
		}

		if target == nil {
			c := &candidate{item: item, order: len(pool)}
			c.record(item, source)
			pool = append(pool, c)
			byID[item.ID] = c
			if _, seen := byCrossRef[item.CrossRef]; item.CrossRef != "" && !seen {
				byCrossRef[item.CrossRef] = c
			}
			return
		}

		target.record(item, source)
		// 合并保留图谱侧解释性文本和较高分数
		if item.Origin.IsGraph() && !target.item.Origin.IsGraph() {
			maxScore := math.Max(target.item.Score, item.Score)
			delete(byID, target.item.ID)
			target.item = item
			target.item.Score = maxScore
			byID[item.ID] = target
		}
	}

	if vector != nil {
		for _, item := range vector.Items {
			add(item, retrieval.SourceVector)
		}
	}
	if graph != nil {
		for _, item := range graph.Items {
			add(item, retrieval.SourceGraph)
		}
	}
	return pool
}

// fromSource 报告候选是否已出现在指定来源的列表中。
func (c *candidate) fromSource(source retrieval.Source) bool {
	if source == retrieval.SourceVector {
		return c.vectorRank > 0
	}
	return c.graphRank > 0
}

// record 记录证据在某一来源列表中的排名和分数。
func (c *candidate) record(item retrieval.EvidenceItem, source retrieval.Source) {
	switch source {
	case retrieval.SourceVector:
		if c.vectorRank == 0 || item.Rank < c.vectorRank {
			c.vectorRank = item.Rank
		}
		if item.Score > c.vectorScore {
			c.vectorScore = item.Score
		}
	case retrieval.SourceGraph:
		if c.graphRank == 0 || item.Rank < c.graphRank {
			c.graphRank = item.Rank
		}
		if item.Score > c.graphScore {
			c.graphScore = item.Score
		}
	}
	if item.Score > c.item.Score {
		c.item.Score = item.Score
	}
}

// fuseRRF 按倒数排名和打分：score = Σ 1/(k+rank)。
// 同时出现在两个列表中的证据倒数排名相加，跨方法一致性只会加分。
func (e *Engine) fuseRRF(candidates []*candidate) []FusedItem {
	k := float64(e.cfg.RRFK)
	items := make([]FusedItem, len(candidates))
	for i, c := range candidates {
		score := 0.0
		if c.vectorRank > 0 {
			score += 1.0 / (k + float64(c.vectorRank))
		}
		if c.graphRank > 0 {
			score += 1.0 / (k + float64(c.graphRank))
		}
		items[i] = c.fused(score)
	}

	order := make(map[string]int, len(candidates))
	for _, c := range candidates {
		order[c.item.ID] = c.order
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].FusedScore != items[j].FusedScore {
			return items[i].FusedScore > items[j].FusedScore
		}
		return order[items[i].ID] < order[items[j].ID]
	})
	return items
}

// fuseMMR 迭代选择最大化 λ·relevance − (1−λ)·max_similarity 的证据，
// 在近重复证据较多时保证 top-K 的多样性。相关性取各来源内
// min-max 归一化后的最优分数。
func (e *Engine) fuseMMR(candidates []*candidate) []FusedItem {
	relevance := normalizedRelevance(candidates)

	selected := make([]FusedItem, 0, e.cfg.TopK)
	var chosen []*candidate
	remaining := append([]*candidate(nil), candidates...)
	lambda := e.cfg.MMRLambda

	for len(remaining) > 0 && len(selected) < e.cfg.TopK {
		bestIdx := -1
		bestScore := math.Inf(-1)
		for i, c := range remaining {
			maxSim := 0.0
			for _, s := range chosen {
				if sim := evidenceSimilarity(c.item, s.item); sim > maxSim {
					maxSim = sim
				}
			}
			// 同分时保留先遍历到的候选（插入顺序靠前），保证确定性
			score := lambda*relevance[c.item.ID] - (1-lambda)*maxSim
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}

		best := remaining[bestIdx]
		selected = append(selected, best.fused(bestScore))
		chosen = append(chosen, best)
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}

// fuseRerank 外部重排直通：组装候选交给 reranker 打分，按返回分数排序。
func (e *Engine) fuseRerank(ctx context.Context, query string, candidates []*candidate) ([]FusedItem, error) {
	if e.reranker == nil {
		return nil, types.NewError(types.ErrRerankFailed, "rerank strategy selected but no reranker configured")
	}

	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = c.item.Text
	}

	results, err := e.reranker.RerankSimple(ctx, query, docs, 0)
	if err != nil {
		return nil, types.WrapError(types.ErrRerankFailed, "external reranker", err)
	}

	scores := make([]float64, len(candidates))
	for _, r := range results {
		if r.Index >= 0 && r.Index < len(scores) {
			scores[r.Index] = r.RelevanceScore
		}
	}

	items := make([]FusedItem, len(candidates))
	orderByID := make(map[string]int, len(candidates))
	for i, c := range candidates {
		items[i] = c.fused(scores[i])
		orderByID[c.item.ID] = c.order
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].FusedScore != items[j].FusedScore {
			return items[i].FusedScore > items[j].FusedScore
		}
		return orderByID[items[i].ID] < orderByID[items[j].ID]
	})
	return items, nil
}

func (c *candidate) fused(score float64) FusedItem {
	return FusedItem{
		EvidenceItem: c.item,
		FusedScore:   score,
		VectorRank:   c.vectorRank,
		GraphRank:    c.graphRank,
	}
}

// normalizedRelevance 把各来源分数 min-max 归一化到 [0,1] 后取最优。
func normalizedRelevance(candidates []*candidate) map[string]float64 {
	normVec := minMaxNormalize(candidates, func(c *candidate) (float64, bool) {
		return c.vectorScore, c.vectorRank > 0
	})
	normGraph := minMaxNormalize(candidates, func(c *candidate) (float64, bool) {
		return c.graphScore, c.graphRank > 0
	})

	rel := make(map[string]float64, len(candidates))
	for i, c := range candidates {
		rel[c.item.ID] = math.Max(normVec[i], normGraph[i])
	}
	return rel
}

// minMaxNormalize 对来源内的分数做 min-max 归一化，
// 未在该来源命中的候选归一化值为 0。
func minMaxNormalize(candidates []*candidate, score func(*candidate) (float64, bool)) []float64 {
	minV := math.MaxFloat64
	maxV := -math.MaxFloat64
	present := 0
	for _, c := range candidates {
		if v, ok := score(c); ok {
			present++
			if v < minV {
				minV = v
			}
			if v > maxV {
				maxV = v
			}
		}
	}

	out := make([]float64, len(candidates))
	if present == 0 {
		return out
	}
	span := maxV - minV
	for i, c := range candidates {
		v, ok := score(c)
		if !ok {
			continue
		}
		if span == 0 {
			out[i] = 1.0
			continue
		}
		out[i] = (v - minV) / span
	}
	return out
}

// evidenceSimilarity 计算两条证据的相似度：双方携带嵌入时用余弦，
// 否则回退到词项 Jaccard 重叠。
func evidenceSimilarity(a, b retrieval.EvidenceItem) float64 {
	if len(a.Embedding) > 0 && len(a.Embedding) == len(b.Embedding) {
		return retrieval.CosineSimilarity(a.Embedding, b.Embedding)
	}
	return jaccard(a.Text, b.Text)
}

func jaccard(a, b string) float64 {
	setA := termSet(a)
	setB := termSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0.0
	}
	inter := 0
	for t := range setA {
		if setB[t] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}

func termSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range strings.Fields(strings.ToLower(text)) {
		set[t] = true
	}
	return set
}
