package retrieval

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/BaSui01/fusionrag/types"
)

func TestInMemoryGraphStore_ImplementsGraphStore(t *testing.T) {
	var _ GraphStore = (*InMemoryGraphStore)(nil)
}

func buildAcquisitionGraph(t *testing.T) *InMemoryGraphStore {
	t.Helper()
	g := NewInMemoryGraphStore(zap.NewNop())

	g.AddNode(&EntityNode{UUID: "acme", Name: "Acme Corp", Summary: "industrial conglomerate"})
	g.AddNode(&EntityNode{UUID: "initech", Name: "Initech", Summary: "software vendor"})
	g.AddNode(&EntityNode{UUID: "globex", Name: "Globex", Summary: "energy company"})

	g.AddEdge(&EntityEdge{
		UUID:         "acq",
		SourceUUID:   "acme",
		TargetUUID:   "initech",
		RelationType: "ACQUIRED",
		Fact:         "Acme Corp acquired Initech",
		ValidAt:      tsp("2024-03-01T00:00:00Z"),
	})
	g.AddEdge(&EntityEdge{
		UUID:       "partner",
		SourceUUID: "initech",
		TargetUUID: "globex",
		Fact:       "Initech partners with Globex on storage",
	})
	return g
}

func TestInMemoryGraphStore_HybridSearchRanksByRelevance(t *testing.T) {
	t.Parallel()

	g := buildAcquisitionGraph(t)
	hits, err := g.HybridSearch(context.Background(), "acme acquired", nil, 3, "", "")
	if err != nil {
		t.Fatalf("HybridSearch: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("expected 3 hits, got %d", len(hits))
	}
	// 边事实同时命中两个查询词，应排在最前
	if hits[0].ElementID != "acq" {
		t.Fatalf("expected edge acq first, got %s", hits[0].ElementID)
	}
	if hits[0].Kind != ElementEdge || hits[0].SourceName != "Acme Corp" || hits[0].TargetName != "Initech" {
		t.Fatalf("edge hit missing endpoint names: %+v", hits[0])
	}
	if hits[0].ValidAt == nil {
		t.Fatal("edge hit must carry its validity interval")
	}
}

func TestInMemoryGraphStore_CenterEntityBiasBreaksTies(t *testing.T) {
	t.Parallel()

	g := NewInMemoryGraphStore(zap.NewNop())
	g.AddNode(&EntityNode{UUID: "far", Name: "isolated"})
	g.AddNode(&EntityNode{UUID: "center", Name: "hub"})
	g.AddNode(&EntityNode{UUID: "near", Name: "neighbor"})
	g.AddEdge(&EntityEdge{UUID: "link", SourceUUID: "center", TargetUUID: "near", Fact: "connected"})

	// 查询不命中任何词项，全部同分，邻近偏置决定顺序
	hits, err := g.HybridSearch(context.Background(), "unrelated query", nil, 10, "", "center")
	if err != nil {
		t.Fatalf("HybridSearch: %v", err)
	}
	if len(hits) != 4 {
		t.Fatalf("expected all 4 elements, got %d", len(hits))
	}

	pos := make(map[string]int, len(hits))
	for i, h := range hits {
		pos[h.ElementID] = i
	}
	if pos["center"] > pos["near"] || pos["near"] > pos["far"] {
		t.Fatalf("expected proximity order center < near < far, got %v", pos)
	}
}

func TestInMemoryGraphStore_NamespaceIsolation(t *testing.T) {
	t.Parallel()

	g := NewInMemoryGraphStore(zap.NewNop())
	g.AddNode(&EntityNode{UUID: "a", Name: "shared term", GroupID: "tenant-1"})
	g.AddNode(&EntityNode{UUID: "b", Name: "shared term", GroupID: "tenant-2"})

	hits, err := g.HybridSearch(context.Background(), "shared", nil, 10, "tenant-1", "")
	if err != nil {
		t.Fatalf("HybridSearch: %v", err)
	}
	if len(hits) != 1 || hits[0].ElementID != "a" {
		t.Fatalf("namespace filter leaked: %+v", hits)
	}
}

func TestInMemoryGraphStore_GeneratesUUIDs(t *testing.T) {
	t.Parallel()

	g := NewInMemoryGraphStore(zap.NewNop())
	id := g.AddNode(&EntityNode{Name: "anonymous"})
	if id == "" {
		t.Fatal("expected generated UUID")
	}
	if _, ok := g.GetNode(id); !ok {
		t.Fatal("node not retrievable by generated UUID")
	}
}

func TestGraphAdapter_SearchNormalizesHits(t *testing.T) {
	t.Parallel()

	g := buildAcquisitionGraph(t)
	adapter := NewGraphAdapter(g, zap.NewNop())

	result, err := adapter.Search(context.Background(), "acme acquired", nil, 5, "", "")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if result.Source != SourceGraph {
		t.Fatalf("expected graph source, got %s", result.Source)
	}
	for i, item := range result.Items {
		if !item.Origin.IsGraph() {
			t.Fatalf("item %d has non-graph origin %s", i, item.Origin)
		}
		if item.Rank != i+1 {
			t.Fatalf("item %d has rank %d", i, item.Rank)
		}
		if item.CrossRef != item.ID {
			t.Fatalf("graph item %s must cross-reference itself", item.ID)
		}
	}
}

type failingGraphStore struct{ err error }

func (s failingGraphStore) HybridSearch(ctx context.Context, queryText string, embedding []float64, topK int, namespace string, centerEntityID string) ([]GraphHit, error) {
	return nil, s.err
}

func TestGraphAdapter_WrapsStoreError(t *testing.T) {
	t.Parallel()

	adapter := NewGraphAdapter(failingGraphStore{err: errors.New("bolt handshake failed")}, zap.NewNop())
	_, err := adapter.Search(context.Background(), "q", nil, 5, "", "")
	if !types.IsCode(err, types.ErrRetrievalFailed) {
		t.Fatalf("expected RETRIEVAL_FAILED, got %v", err)
	}
	var ferr *types.Error
	if !errors.As(err, &ferr) || ferr.Origin != string(SourceGraph) {
		t.Fatalf("expected graph origin, got %v", err)
	}
}
