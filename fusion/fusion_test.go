package fusion

import (
	"context"
	"errors"
	"math"
	"testing"

	"go.uber.org/zap"

	"github.com/BaSui01/fusionrag/rerank"
	"github.com/BaSui01/fusionrag/retrieval"
	"github.com/BaSui01/fusionrag/types"
)

func vectorResult(items ...retrieval.EvidenceItem) *retrieval.RetrievalResult {
	return &retrieval.RetrievalResult{Source: retrieval.SourceVector, Items: items}
}

func graphResult(items ...retrieval.EvidenceItem) *retrieval.RetrievalResult {
	return &retrieval.RetrievalResult{Source: retrieval.SourceGraph, Items: items}
}

func chunk(id string, rank int, score float64, crossRef string) retrieval.EvidenceItem {
	return retrieval.EvidenceItem{
		ID:       id,
		Origin:   retrieval.OriginVectorChunk,
		Text:     "chunk " + id,
		Score:    score,
		Rank:     rank,
		CrossRef: crossRef,
	}
}

func edge(id string, rank int, score float64) retrieval.EvidenceItem {
	return retrieval.EvidenceItem{
		ID:       id,
		Origin:   retrieval.OriginGraphEdge,
		Text:     "fact " + id,
		Score:    score,
		Rank:     rank,
		CrossRef: id,
	}
}

func TestEngine_FuseRRFCrossRefMerge(t *testing.T) {
	t.Parallel()

	// c1 链接到图谱边 e1：两路命中同一事实，合并后倒数排名相加
	engine := NewEngine(DefaultConfig(), nil, zap.NewNop())
	set, err := engine.Fuse(context.Background(), "acme acquisition",
		vectorResult(chunk("c1", 1, 0.9, "e1"), chunk("c2", 2, 0.7, "")),
		graphResult(edge("e1", 1, 0.8)),
	)
	if err != nil {
		t.Fatalf("Fuse: %v", err)
	}
	if set.Len() != 2 {
		t.Fatalf("expected 2 fused items, got %d", set.Len())
	}

	merged := set.Items[0]
	if merged.ID != "e1" {
		t.Fatalf("merged item must keep graph identity, got %s", merged.ID)
	}
	if merged.VectorRank != 1 || merged.GraphRank != 1 {
		t.Fatalf("merged item must keep both ranks, got v=%d g=%d", merged.VectorRank, merged.GraphRank)
	}
	wantScore := 1.0/61.0 + 1.0/61.0
	if math.Abs(merged.FusedScore-wantScore) > 1e-12 {
		t.Fatalf("expected rrf score %f, got %f", wantScore, merged.FusedScore)
	}
	if merged.Score != 0.9 {
		t.Fatalf("merged item must keep the higher source score, got %f", merged.Score)
	}
	if merged.Text != "fact e1" {
		t.Fatalf("merged item must keep graph text, got %q", merged.Text)
	}

	second := set.Items[1]
	if second.ID != "c2" {
		t.Fatalf("expected c2 second, got %s", second.ID)
	}
	if math.Abs(second.FusedScore-1.0/62.0) > 1e-12 {
		t.Fatalf("expected rrf score %f, got %f", 1.0/62.0, second.FusedScore)
	}
}

func TestEngine_SameListCrossRefStaysSeparate(t *testing.T) {
	t.Parallel()

	// 同一列表内两条不同的证据引用同一实体：不是跨路径命中，不得合并
	engine := NewEngine(DefaultConfig(), nil, zap.NewNop())
	set, err := engine.Fuse(context.Background(), "q",
		vectorResult(chunk("c1", 1, 0.9, "e1"), chunk("c2", 2, 0.7, "e1")),
		nil,
	)
	if err != nil {
		t.Fatalf("Fuse: %v", err)
	}
	if set.Len() != 2 {
		t.Fatalf("distinct chunks referencing the same entity must stay separate, got %d items", set.Len())
	}
	if set.Items[0].ID != "c1" || set.Items[1].ID != "c2" {
		t.Fatalf("both chunks must survive, got %s, %s", set.Items[0].ID, set.Items[1].ID)
	}
	if set.Items[1].Text != "chunk c2" {
		t.Fatalf("second chunk text must be preserved, got %q", set.Items[1].Text)
	}
}

func TestEngine_CrossRefMergeTargetsFirstInsertion(t *testing.T) {
	t.Parallel()

	// 图谱边只与最先插入的向量命中合并，其余同实体向量证据保持独立
	engine := NewEngine(DefaultConfig(), nil, zap.NewNop())
	set, err := engine.Fuse(context.Background(), "q",
		vectorResult(chunk("c1", 1, 0.9, "e1"), chunk("c2", 2, 0.7, "e1")),
		graphResult(edge("e1", 1, 0.8)),
	)
	if err != nil {
		t.Fatalf("Fuse: %v", err)
	}
	if set.Len() != 2 {
		t.Fatalf("expected merged item plus standalone chunk, got %d items", set.Len())
	}
	merged := set.Items[0]
	if merged.ID != "e1" || merged.VectorRank != 1 || merged.GraphRank != 1 {
		t.Fatalf("edge must merge into the first chunk: %+v", merged)
	}
	if set.Items[1].ID != "c2" {
		t.Fatalf("second chunk must stay separate, got %s", set.Items[1].ID)
	}
}

func TestEngine_MergeNeverKeepsEntitiesSeparate(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.MergePolicy = MergeNever
	engine := NewEngine(cfg, nil, zap.NewNop())

	set, err := engine.Fuse(context.Background(), "q",
		vectorResult(chunk("c1", 1, 0.9, "e1")),
		graphResult(edge("e1", 1, 0.8)),
	)
	if err != nil {
		t.Fatalf("Fuse: %v", err)
	}
	if set.Len() != 2 {
		t.Fatalf("MergeNever must keep both items, got %d", set.Len())
	}
}

func TestEngine_IdenticalIDAlwaysDeduplicates(t *testing.T) {
	t.Parallel()

	// 相同存储元素出现在两个列表中，即使 MergeNever 也要去重
	cfg := DefaultConfig()
	cfg.MergePolicy = MergeNever
	engine := NewEngine(cfg, nil, zap.NewNop())

	shared := edge("e1", 1, 0.8)
	set, err := engine.Fuse(context.Background(), "q",
		vectorResult(shared),
		graphResult(shared),
	)
	if err != nil {
		t.Fatalf("Fuse: %v", err)
	}
	if set.Len() != 1 {
		t.Fatalf("identical IDs must deduplicate, got %d items", set.Len())
	}
	if set.Items[0].VectorRank != 1 || set.Items[0].GraphRank != 1 {
		t.Fatalf("dedup must record both ranks: %+v", set.Items[0])
	}
}

func TestEngine_FuseVectorOnly(t *testing.T) {
	t.Parallel()

	engine := NewEngine(DefaultConfig(), nil, zap.NewNop())
	set, err := engine.Fuse(context.Background(), "q",
		vectorResult(chunk("c1", 1, 0.9, ""), chunk("c2", 2, 0.5, "")),
		nil,
	)
	if err != nil {
		t.Fatalf("Fuse: %v", err)
	}
	if set.Len() != 2 {
		t.Fatalf("expected 2 items from single source, got %d", set.Len())
	}
	if set.Items[0].ID != "c1" {
		t.Fatalf("expected c1 first, got %s", set.Items[0].ID)
	}
}

func TestEngine_FuseEmptyInputs(t *testing.T) {
	t.Parallel()

	engine := NewEngine(DefaultConfig(), nil, zap.NewNop())
	set, err := engine.Fuse(context.Background(), "q", nil, nil)
	if err != nil {
		t.Fatalf("Fuse: %v", err)
	}
	if set.Len() != 0 {
		t.Fatalf("expected empty set, got %d items", set.Len())
	}
}

func TestEngine_RRFTieBreakIsDeterministic(t *testing.T) {
	t.Parallel()

	engine := NewEngine(DefaultConfig(), nil, zap.NewNop())

	// 两条证据各在一路排名第一，分数相同；向量侧先插入，必须稳定在前
	for i := 0; i < 10; i++ {
		set, err := engine.Fuse(context.Background(), "q",
			vectorResult(chunk("c1", 1, 0.9, "")),
			graphResult(edge("e1", 1, 0.9)),
		)
		if err != nil {
			t.Fatalf("Fuse: %v", err)
		}
		if set.Items[0].ID != "c1" || set.Items[1].ID != "e1" {
			t.Fatalf("run %d: tie-break order changed: %s, %s", i, set.Items[0].ID, set.Items[1].ID)
		}
	}
}

func TestEngine_TopKTruncation(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.TopK = 2
	engine := NewEngine(cfg, nil, zap.NewNop())

	set, err := engine.Fuse(context.Background(), "q",
		vectorResult(
			chunk("c1", 1, 0.9, ""),
			chunk("c2", 2, 0.8, ""),
			chunk("c3", 3, 0.7, ""),
		),
		nil,
	)
	if err != nil {
		t.Fatalf("Fuse: %v", err)
	}
	if set.Len() != 2 {
		t.Fatalf("expected top-2 truncation, got %d", set.Len())
	}
}

func TestEngine_FuseMMRPrefersDiversity(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Strategy = StrategyMMR
	engine := NewEngine(cfg, nil, zap.NewNop())

	near := func(id string, rank int, score float64, emb []float64) retrieval.EvidenceItem {
		item := chunk(id, rank, score, "")
		item.Embedding = emb
		return item
	}

	// b 与 a 几乎重复，c 正交；λ=0.5 时第二个选择应是 c
	set, err := engine.Fuse(context.Background(), "q",
		vectorResult(
			near("a", 1, 1.0, []float64{1, 0}),
			near("b", 2, 0.9, []float64{0.99, 0.14}),
			near("c", 3, 0.8, []float64{0, 1}),
		),
		nil,
	)
	if err != nil {
		t.Fatalf("Fuse: %v", err)
	}
	if set.Len() != 3 {
		t.Fatalf("expected 3 items, got %d", set.Len())
	}
	if set.Items[0].ID != "a" {
		t.Fatalf("highest relevance must come first, got %s", set.Items[0].ID)
	}
	if set.Items[1].ID != "c" {
		t.Fatalf("diversity must demote the near-duplicate, got %s second", set.Items[1].ID)
	}
	if set.Items[2].ID != "b" {
		t.Fatalf("expected b last, got %s", set.Items[2].ID)
	}
}

func TestEngine_FuseMMRIsDeterministic(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Strategy = StrategyMMR
	engine := NewEngine(cfg, nil, zap.NewNop())

	run := func() []string {
		set, err := engine.Fuse(context.Background(), "q",
			vectorResult(
				chunk("x", 1, 0.5, ""),
				chunk("y", 2, 0.5, ""),
				chunk("z", 3, 0.5, ""),
			),
			nil,
		)
		if err != nil {
			t.Fatalf("Fuse: %v", err)
		}
		ids := make([]string, 0, set.Len())
		for _, item := range set.Items {
			ids = append(ids, item.ID)
		}
		return ids
	}

	first := run()
	for i := 0; i < 5; i++ {
		got := run()
		for j := range first {
			if got[j] != first[j] {
				t.Fatalf("run %d: order changed from %v to %v", i, first, got)
			}
		}
	}
}

// fakeReranker 以固定分数表响应，记录收到的文档。
type fakeReranker struct {
	scores []float64
	err    error
	docs   []string
}

func (f *fakeReranker) Rerank(ctx context.Context, req *rerank.RerankRequest) (*rerank.RerankResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	results := make([]rerank.RerankResult, len(req.Documents))
	for i := range req.Documents {
		results[i] = rerank.RerankResult{Index: i, RelevanceScore: f.scores[i]}
	}
	return &rerank.RerankResponse{Provider: f.Name(), Results: results}, nil
}

func (f *fakeReranker) RerankSimple(ctx context.Context, query string, documents []string, topN int) ([]rerank.RerankResult, error) {
	f.docs = documents
	if f.err != nil {
		return nil, f.err
	}
	results := make([]rerank.RerankResult, len(documents))
	for i := range documents {
		results[i] = rerank.RerankResult{Index: i, RelevanceScore: f.scores[i]}
	}
	return results, nil
}

func (f *fakeReranker) Name() string      { return "fake-reranker" }
func (f *fakeReranker) MaxDocuments() int { return 100 }

func TestEngine_FuseRerankPassthrough(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Strategy = StrategyRerank
	reranker := &fakeReranker{scores: []float64{0.1, 0.9}}
	engine := NewEngine(cfg, reranker, zap.NewNop())

	set, err := engine.Fuse(context.Background(), "q",
		vectorResult(chunk("c1", 1, 0.9, ""), chunk("c2", 2, 0.5, "")),
		nil,
	)
	if err != nil {
		t.Fatalf("Fuse: %v", err)
	}
	// 外部分数反转了检索顺序
	if set.Items[0].ID != "c2" || set.Items[1].ID != "c1" {
		t.Fatalf("rerank scores must control order: %s, %s", set.Items[0].ID, set.Items[1].ID)
	}
	if len(reranker.docs) != 2 {
		t.Fatalf("reranker must receive all candidates, got %d", len(reranker.docs))
	}
}

func TestEngine_FuseRerankFailure(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Strategy = StrategyRerank
	engine := NewEngine(cfg, &fakeReranker{err: errors.New("service unavailable")}, zap.NewNop())

	_, err := engine.Fuse(context.Background(), "q", vectorResult(chunk("c1", 1, 0.9, "")), nil)
	if !types.IsCode(err, types.ErrRerankFailed) {
		t.Fatalf("expected RERANK_FAILED, got %v", err)
	}
}

func TestEngine_FuseRerankWithoutProvider(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Strategy = StrategyRerank
	engine := NewEngine(cfg, nil, zap.NewNop())

	_, err := engine.Fuse(context.Background(), "q", vectorResult(chunk("c1", 1, 0.9, "")), nil)
	if !types.IsCode(err, types.ErrRerankFailed) {
		t.Fatalf("expected RERANK_FAILED, got %v", err)
	}
}

func TestEngine_NoDuplicateIDsAfterFusion(t *testing.T) {
	t.Parallel()

	engine := NewEngine(DefaultConfig(), nil, zap.NewNop())
	set, err := engine.Fuse(context.Background(), "q",
		vectorResult(chunk("c1", 1, 0.9, "e1"), chunk("c2", 2, 0.8, "e2")),
		graphResult(edge("e1", 1, 0.7), edge("e2", 2, 0.6), edge("e3", 3, 0.5)),
	)
	if err != nil {
		t.Fatalf("Fuse: %v", err)
	}

	seen := make(map[string]bool)
	for _, item := range set.Items {
		if seen[item.ID] {
			t.Fatalf("duplicate ID %s in fused set", item.ID)
		}
		seen[item.ID] = true
	}
}
