package retrieval

import (
	"fmt"
	"testing"
	"time"
)

func TestOrigin_IsGraph(t *testing.T) {
	t.Parallel()

	if OriginVectorChunk.IsGraph() {
		t.Fatal("vector_chunk is not a graph origin")
	}
	for _, origin := range []Origin{OriginGraphNode, OriginGraphEdge, OriginGraphPath} {
		if !origin.IsGraph() {
			t.Fatalf("%s should be a graph origin", origin)
		}
	}
}

func TestQueryContext_ResolveReferenceTime(t *testing.T) {
	t.Parallel()

	now := ts("2025-06-01T00:00:00Z")

	qc := QueryContext{Query: "q"}
	if got := qc.ResolveReferenceTime(now); !got.Equal(now) {
		t.Fatalf("zero reference time must fall back to now, got %v", got)
	}

	explicit := ts("2024-12-31T00:00:00Z")
	qc.ReferenceTime = explicit
	if got := qc.ResolveReferenceTime(now); !got.Equal(explicit) {
		t.Fatalf("explicit reference time must win, got %v", got)
	}
}

func TestQueryContext_BoundedHistory(t *testing.T) {
	t.Parallel()

	var history []Turn
	for i := 0; i < MaxHistoryTurns+5; i++ {
		history = append(history, Turn{Role: "user", Content: fmt.Sprintf("turn %d", i)})
	}

	qc := QueryContext{Query: "q", History: history}
	bounded := qc.BoundedHistory()
	if len(bounded) != MaxHistoryTurns {
		t.Fatalf("expected %d turns, got %d", MaxHistoryTurns, len(bounded))
	}
	// 保留的是最近的回合
	if bounded[len(bounded)-1].Content != history[len(history)-1].Content {
		t.Fatal("bounded history must keep the most recent turns")
	}

	short := QueryContext{History: history[:3]}
	if len(short.BoundedHistory()) != 3 {
		t.Fatal("short history must pass through unchanged")
	}
}

func TestSanitizeMetadata(t *testing.T) {
	t.Parallel()

	clean, dropped := SanitizeMetadata(nil)
	if clean != nil || dropped != nil {
		t.Fatal("nil input must return nil")
	}

	clean, dropped = SanitizeMetadata(map[string]any{
		"s":       "str",
		"t":       time.Now(),
		"mixed":   []any{"a", 1, true},
		"badmix":  []any{"a", map[string]any{}},
		"pointer": &struct{}{},
	})
	if len(clean) != 3 {
		t.Fatalf("expected 3 clean keys, got %v", clean)
	}
	if len(dropped) != 2 {
		t.Fatalf("expected 2 dropped keys, got %v", dropped)
	}
}
