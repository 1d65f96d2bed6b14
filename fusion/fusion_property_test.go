package fusion

import (
	"context"
	"fmt"
	"testing"

	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/BaSui01/fusionrag/retrieval"
)

// genResults 生成一对随机检索结果，ID 空间有意重叠以触发合并路径。
func genResults(t *rapid.T) (*retrieval.RetrievalResult, *retrieval.RetrievalResult) {
	vectorCount := rapid.IntRange(0, 15).Draw(t, "vectorCount")
	graphCount := rapid.IntRange(0, 15).Draw(t, "graphCount")

	vector := &retrieval.RetrievalResult{Source: retrieval.SourceVector}
	for i := 0; i < vectorCount; i++ {
		crossRef := ""
		if rapid.Bool().Draw(t, fmt.Sprintf("hasRef%d", i)) {
			crossRef = fmt.Sprintf("e%d", rapid.IntRange(0, 5).Draw(t, fmt.Sprintf("ref%d", i)))
		}
		vector.Items = append(vector.Items, retrieval.EvidenceItem{
			ID:       fmt.Sprintf("c%d", i),
			Origin:   retrieval.OriginVectorChunk,
			Text:     fmt.Sprintf("chunk text %d", i),
			Score:    rapid.Float64Range(0, 1).Draw(t, fmt.Sprintf("vscore%d", i)),
			Rank:     i + 1,
			CrossRef: crossRef,
		})
	}

	graph := &retrieval.RetrievalResult{Source: retrieval.SourceGraph}
	for i := 0; i < graphCount; i++ {
		id := fmt.Sprintf("e%d", i)
		graph.Items = append(graph.Items, retrieval.EvidenceItem{
			ID:       id,
			Origin:   retrieval.OriginGraphEdge,
			Text:     fmt.Sprintf("graph fact %d", i),
			Score:    rapid.Float64Range(0, 1).Draw(t, fmt.Sprintf("gscore%d", i)),
			Rank:     i + 1,
			CrossRef: id,
		})
	}
	return vector, graph
}

func TestEngine_Property_NoDuplicateIDs(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		vector, graph := genResults(t)
		engine := NewEngine(DefaultConfig(), nil, zap.NewNop())

		set, err := engine.Fuse(context.Background(), "query", vector, graph)
		if err != nil {
			t.Fatalf("Fuse: %v", err)
		}

		seen := make(map[string]bool)
		for _, item := range set.Items {
			if seen[item.ID] {
				t.Fatalf("duplicate ID %s", item.ID)
			}
			seen[item.ID] = true
		}
	})
}

func TestEngine_Property_FusionIsDeterministic(t *testing.T) {
	t.Parallel()

	strategies := []Strategy{StrategyRRF, StrategyMMR}

	rapid.Check(t, func(t *rapid.T) {
		vector, graph := genResults(t)
		strategy := strategies[rapid.IntRange(0, len(strategies)-1).Draw(t, "strategy")]

		cfg := DefaultConfig()
		cfg.Strategy = strategy
		engine := NewEngine(cfg, nil, zap.NewNop())

		first, err := engine.Fuse(context.Background(), "query", vector, graph)
		if err != nil {
			t.Fatalf("Fuse: %v", err)
		}
		second, err := engine.Fuse(context.Background(), "query", vector, graph)
		if err != nil {
			t.Fatalf("Fuse: %v", err)
		}

		if first.Len() != second.Len() {
			t.Fatalf("lengths diverged: %d vs %d", first.Len(), second.Len())
		}
		for i := range first.Items {
			if first.Items[i].ID != second.Items[i].ID {
				t.Fatalf("order diverged at %d: %s vs %s", i, first.Items[i].ID, second.Items[i].ID)
			}
			if first.Items[i].FusedScore != second.Items[i].FusedScore {
				t.Fatalf("score diverged at %d", i)
			}
		}
	})
}

func TestEngine_Property_OutputBoundedByTopK(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		vector, graph := genResults(t)
		cfg := DefaultConfig()
		cfg.TopK = rapid.IntRange(1, 20).Draw(t, "topK")
		engine := NewEngine(cfg, nil, zap.NewNop())

		set, err := engine.Fuse(context.Background(), "query", vector, graph)
		if err != nil {
			t.Fatalf("Fuse: %v", err)
		}
		if set.Len() > cfg.TopK {
			t.Fatalf("output %d exceeds top-k %d", set.Len(), cfg.TopK)
		}
	})
}

func TestEngine_Property_RRFScoresAreOrderedAndPositive(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		vector, graph := genResults(t)
		engine := NewEngine(DefaultConfig(), nil, zap.NewNop())

		set, err := engine.Fuse(context.Background(), "query", vector, graph)
		if err != nil {
			t.Fatalf("Fuse: %v", err)
		}
		for i, item := range set.Items {
			if item.FusedScore <= 0 {
				t.Fatalf("rrf score must be positive, item %d has %f", i, item.FusedScore)
			}
			if i > 0 && set.Items[i-1].FusedScore < item.FusedScore {
				t.Fatalf("scores not descending at %d", i)
			}
		}
	})
}
