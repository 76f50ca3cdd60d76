package kb

import (
	"context"
	"errors"
	"testing"

	"github.com/wakb/wakb/pkg/config"
)

func testSearch(semantic *fakeSemantic, keyword *fakeKeyword) *HybridSearch {
	return NewHybridSearch(config.Default(), semantic, keyword)
}

func scopeOf(jids ...string) []Group {
	groups := make([]Group, 0, len(jids))
	for _, jid := range jids {
		groups = append(groups, Group{GroupJID: jid})
	}
	return groups
}

func TestSearch_EmptyScopeFailsFast(t *testing.T) {
	semantic := &fakeSemantic{}
	keyword := &fakeKeyword{}
	h := testSearch(semantic, keyword)

	_, err := h.Search(context.Background(), []float32{0.1}, "question", nil)
	if !errors.Is(err, ErrScopeRequired) {
		t.Fatalf("expected ErrScopeRequired, got %v", err)
	}
	if semantic.calls != 0 || keyword.calls != 0 {
		t.Fatal("no branch may run without a scope")
	}
}

func TestSearch_GroupIsolation(t *testing.T) {
	// Topics in group B must never surface for a question from group A.
	semantic := &fakeSemantic{hits: []Result{
		{Topic: Topic{ID: "a1", GroupJID: "a@g.us", Subject: "deploy process", Summary: "we deploy on fridays via ci"}, Distance: 0.1},
		{Topic: Topic{ID: "b1", GroupJID: "b@g.us", Subject: "secret plans", Summary: "group b confidential notes"}, Distance: 0.0},
	}}
	keyword := &fakeKeyword{topics: []Topic{
		{ID: "b2", GroupJID: "b@g.us", Subject: "secret keyword topic", Summary: "more group b notes"},
	}}
	h := testSearch(semantic, keyword)

	results, err := h.Search(context.Background(), []float32{0.1}, "secret deploy process", scopeOf("a@g.us"))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	for _, r := range results {
		if r.GroupJID != "a@g.us" {
			t.Fatalf("leaked topic %q from group %s", r.ID, r.GroupJID)
		}
	}
	if len(results) != 1 || results[0].ID != "a1" {
		t.Fatalf("results = %+v, want only a1", results)
	}
}

func TestSearch_OrphanedTopicsExcluded(t *testing.T) {
	// Even a perfect semantic match must be dropped when group_jid is null.
	semantic := &semanticPassthrough{hits: []Result{
		{Topic: Topic{ID: "orphan", GroupJID: "", Subject: "orphaned", Summary: "should never be returned"}, Distance: 0.0},
	}}
	h := NewHybridSearch(config.Default(), semantic, &fakeKeyword{})

	results, err := h.Search(context.Background(), []float32{0.1}, "orphaned", scopeOf("a@g.us"))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("orphaned topic leaked: %+v", results)
	}
}

func TestSearch_OutOfScopeSemanticHitsExcluded(t *testing.T) {
	// The engine must drop cross-group hits itself, even when the data layer
	// ignored the scope it was given.
	semantic := &semanticPassthrough{hits: []Result{
		{Topic: Topic{ID: "a1", GroupJID: "a@g.us", Subject: "in scope", Summary: "belongs to the asking group"}, Distance: 0.1},
		{Topic: Topic{ID: "b1", GroupJID: "b@g.us", Subject: "out of scope", Summary: "belongs to another group"}, Distance: 0.0},
	}}
	h := NewHybridSearch(config.Default(), semantic, &fakeKeyword{})

	results, err := h.Search(context.Background(), []float32{0.1}, "zzzqqq", scopeOf("a@g.us"))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "a1" {
		t.Fatalf("results = %+v, want only a1", results)
	}
}

func TestSearch_MergeIsIdempotent(t *testing.T) {
	// A topic found by both branches appears once, with its semantic distance.
	semantic := &fakeSemantic{hits: []Result{
		{Topic: Topic{ID: "t1", GroupJID: "a@g.us", Subject: "docker setup", Summary: "how we run docker in production"}, Distance: 0.15},
	}}
	keyword := &fakeKeyword{topics: []Topic{
		{ID: "t1", GroupJID: "a@g.us", Subject: "docker setup", Summary: "how we run docker in production"},
		{ID: "t2", GroupJID: "a@g.us", Subject: "docker networking", Summary: "bridge and host networking notes"},
	}}
	h := testSearch(semantic, keyword)

	results, err := h.Search(context.Background(), []float32{0.1}, "docker networking setup", scopeOf("a@g.us"))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	if results[0].ID != "t1" || results[0].Distance != 0.15 || results[0].KeywordOnly {
		t.Errorf("t1 should keep its semantic distance: %+v", results[0])
	}
	wantKeywordDistance := config.Default().Search.KeywordDistance + config.Default().Search.KeywordPenalty
	if results[1].ID != "t2" || results[1].Distance != wantKeywordDistance || !results[1].KeywordOnly {
		t.Errorf("t2 should carry base keyword distance plus penalty: %+v", results[1])
	}
}

func TestSearch_SemanticBeatsKeywordOnly(t *testing.T) {
	// Ordering property from the merge: a semantic match below the keyword
	// base distance always outranks a keyword-only match.
	semantic := &fakeSemantic{hits: []Result{
		{Topic: Topic{ID: "weak", GroupJID: "a@g.us", Subject: "weak match", Summary: "semantic but far from the query"}, Distance: 0.25},
	}}
	keyword := &fakeKeyword{topics: []Topic{
		{ID: "kw", GroupJID: "a@g.us", Subject: "keyword match", Summary: "substring hit on the question terms"},
	}}
	h := testSearch(semantic, keyword)

	results, err := h.Search(context.Background(), []float32{0.1}, "keyword substring question", scopeOf("a@g.us"))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	if results[0].ID != "weak" {
		t.Errorf("semantic hit should rank first, got %+v", results)
	}
}

func TestSearch_ThresholdFiltersSemanticHits(t *testing.T) {
	semantic := &fakeSemantic{hits: []Result{
		{Topic: Topic{ID: "near", GroupJID: "a@g.us", Subject: "near topic", Summary: "close to the query embedding"}, Distance: 0.2},
		{Topic: Topic{ID: "far", GroupJID: "a@g.us", Subject: "far topic", Summary: "past the similarity threshold"}, Distance: 0.9},
	}}
	h := testSearch(semantic, &fakeKeyword{})

	results, err := h.Search(context.Background(), []float32{0.1}, "zzzqqq", scopeOf("a@g.us"))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "near" {
		t.Fatalf("results = %+v, want only near", results)
	}
}

func TestSearch_AllStopWordsSkipsKeywordBranch(t *testing.T) {
	semantic := &fakeSemantic{}
	keyword := &fakeKeyword{}
	h := testSearch(semantic, keyword)

	_, err := h.Search(context.Background(), []float32{0.1}, "how does the and what?", scopeOf("a@g.us"))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if keyword.calls != 0 {
		t.Fatal("keyword branch must be skipped when no keywords survive")
	}
	if semantic.calls != 1 {
		t.Fatal("semantic branch should still run")
	}
}

func TestSearch_BranchFailurePropagates(t *testing.T) {
	h := testSearch(&fakeSemantic{err: errBoom}, &fakeKeyword{})
	if _, err := h.Search(context.Background(), []float32{0.1}, "question terms", scopeOf("a@g.us")); err == nil {
		t.Fatal("expected semantic failure to propagate")
	}

	h = testSearch(&fakeSemantic{}, &fakeKeyword{err: errBoom})
	if _, err := h.Search(context.Background(), []float32{0.1}, "question terms", scopeOf("a@g.us")); err == nil {
		t.Fatal("expected keyword failure to propagate")
	}
}

func TestSearch_CapsResults(t *testing.T) {
	var hits []Result
	for i := 0; i < 15; i++ {
		hits = append(hits, Result{
			Topic:    Topic{ID: string(rune('a' + i)), GroupJID: "a@g.us", Subject: "topic subject", Summary: "topic summary text"},
			Distance: 0.01 * float64(i+1),
		})
	}
	h := testSearch(&fakeSemantic{hits: hits}, &fakeKeyword{})

	results, err := h.Search(context.Background(), []float32{0.1}, "zzzqqq", scopeOf("a@g.us"))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != config.Default().Search.MaxResults {
		t.Fatalf("len(results) = %d, want %d", len(results), config.Default().Search.MaxResults)
	}
}

// semanticPassthrough returns its hits without applying any scope filter,
// simulating a buggy or compromised data layer so the engine's defensive
// re-checks can be exercised.
type semanticPassthrough struct {
	hits []Result
}

func (s *semanticPassthrough) Search(ctx context.Context, embedding []float32, groupJIDs []string, limit int) ([]Result, error) {
	return s.hits, nil
}
