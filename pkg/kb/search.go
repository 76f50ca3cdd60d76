package kb

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/wakb/wakb/pkg/config"
)

// HybridSearch merges semantic nearest-neighbor and keyword substring
// retrieval over the topic store, strictly constrained to a resolved group
// scope.
type HybridSearch struct {
	cfg      *config.Config
	semantic SemanticSearcher
	keyword  KeywordSearcher
}

// NewHybridSearch creates a hybrid search engine with the given branches.
func NewHybridSearch(cfg *config.Config, semantic SemanticSearcher, keyword KeywordSearcher) *HybridSearch {
	return &HybridSearch{
		cfg:      cfg,
		semantic: semantic,
		keyword:  keyword,
	}
}

// Search returns up to MaxResults topics ordered best first. It fails fast
// with ErrScopeRequired when scope is empty: this must never silently
// degrade to an unscoped query.
func (h *HybridSearch) Search(ctx context.Context, embedding []float32, question string, scope []Group) ([]Result, error) {
	if len(scope) == 0 {
		log.Error().Msg("SECURITY: hybrid search called without group scope")
		return nil, ErrScopeRequired
	}

	groupJIDs := GroupJIDs(scope)
	keywords := ExtractKeywords(question, h.cfg.Search.MaxKeywords)

	// Run both branches concurrently; merge order does not depend on
	// completion order.
	type semanticResult struct {
		hits []Result
		err  error
	}
	type keywordResult struct {
		topics []Topic
		err    error
	}

	semanticCh := make(chan semanticResult, 1)
	keywordCh := make(chan keywordResult, 1)

	go func() {
		hits, err := h.semantic.Search(ctx, embedding, groupJIDs, h.cfg.Search.SemanticCandidates)
		semanticCh <- semanticResult{hits, err}
	}()

	go func() {
		if len(keywords) == 0 {
			// All stop-words: skip the branch instead of matching everything.
			keywordCh <- keywordResult{nil, nil}
			return
		}
		topics, err := h.keyword.SearchTopicsKeyword(ctx, keywords, groupJIDs, h.cfg.Search.KeywordCandidates)
		keywordCh <- keywordResult{topics, err}
	}()

	sr := <-semanticCh
	kr := <-keywordCh

	if sr.err != nil {
		return nil, fmt.Errorf("semantic search: %w", sr.err)
	}
	if kr.err != nil {
		return nil, fmt.Errorf("keyword search: %w", kr.err)
	}

	semanticHits := h.filterSemantic(sr.hits, groupJIDs)
	merged := h.merge(semanticHits, kr.topics)

	if len(merged) > h.cfg.Search.MaxResults {
		merged = merged[:h.cfg.Search.MaxResults]
	}

	log.Debug().
		Int("semantic", len(semanticHits)).
		Int("keyword", len(kr.topics)).
		Int("merged", len(merged)).
		Msg("hybrid search complete")

	return merged, nil
}

// filterSemantic drops orphaned topics, hits outside the resolved scope, and
// hits past the similarity threshold. The searcher already filters all three;
// this is the re-check at the engine boundary so a misbehaving data layer
// cannot leak topics across groups.
func (h *HybridSearch) filterSemantic(hits []Result, groupJIDs []string) []Result {
	threshold := h.cfg.Search.SimilarityThreshold
	inScope := make(map[string]struct{}, len(groupJIDs))
	for _, jid := range groupJIDs {
		inScope[jid] = struct{}{}
	}
	kept := hits[:0]
	for _, hit := range hits {
		if hit.GroupJID == "" {
			log.Warn().Str("topic_id", hit.ID).Msg("orphaned topic returned by semantic search, dropping")
			continue
		}
		if _, ok := inScope[hit.GroupJID]; !ok {
			log.Error().
				Str("topic_id", hit.ID).
				Str("group_jid", hit.GroupJID).
				Msg("SECURITY: semantic search returned topic outside group scope, dropping")
			continue
		}
		if hit.Distance >= threshold {
			continue
		}
		kept = append(kept, hit)
	}
	return kept
}

// merge combines the two branches by topic identity. A topic present in both
// keeps its semantic distance; a keyword-only topic gets the synthetic base
// distance plus a penalty marking it as lower confidence than any true
// semantic match at the same score.
func (h *HybridSearch) merge(semanticHits []Result, keywordTopics []Topic) []Result {
	seen := make(map[string]struct{}, len(semanticHits))
	merged := make([]Result, 0, len(semanticHits)+len(keywordTopics))

	for _, hit := range semanticHits {
		seen[hit.ID] = struct{}{}
		merged = append(merged, hit)
	}

	for _, topic := range keywordTopics {
		if topic.GroupJID == "" {
			log.Warn().Str("topic_id", topic.ID).Msg("orphaned topic returned by keyword search, dropping")
			continue
		}
		if _, dup := seen[topic.ID]; dup {
			continue // semantic result wins
		}
		merged = append(merged, Result{
			Topic:       topic,
			Distance:    h.cfg.Search.KeywordDistance + h.cfg.Search.KeywordPenalty,
			KeywordOnly: true,
		})
	}

	// Stable sort keeps semantic before keyword on equal distance.
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Distance < merged[j].Distance
	})

	return merged
}
