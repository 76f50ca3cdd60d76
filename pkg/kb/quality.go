package kb

import (
	"strings"
	"unicode/utf8"

	"github.com/wakb/wakb/pkg/config"
)

// QualityFilter drops low-similarity or malformed topics from a merged
// result set and computes the aggregate confidence score that gates answer
// generation.
type QualityFilter struct {
	cfg *config.Config
}

// NewQualityFilter creates a filter using the configured thresholds.
func NewQualityFilter(cfg *config.Config) *QualityFilter {
	return &QualityFilter{cfg: cfg}
}

// Filter returns the formatted topic strings that passed the quality bar and
// the overall confidence in [0,1]. Confidence is the arithmetic mean of
// per-topic max(0, 1 - distance/threshold), 0 when nothing is retained. It
// decreases monotonically with distance.
func (q *QualityFilter) Filter(results []Result) ([]string, float64) {
	threshold := q.cfg.Search.SimilarityThreshold

	var topics []string
	var sum float64

	for _, r := range results {
		if r.Distance >= threshold {
			continue
		}
		subject := strings.TrimSpace(r.Subject)
		summary := strings.TrimSpace(r.Summary)
		if utf8.RuneCountInString(subject) < q.cfg.Quality.MinSubjectRunes {
			continue
		}
		if utf8.RuneCountInString(summary) < q.cfg.Quality.MinSummaryRunes {
			continue
		}

		topics = append(topics, subject+"\n"+summary)

		confidence := 1 - r.Distance/threshold
		if confidence < 0 {
			confidence = 0
		}
		sum += confidence
	}

	if len(topics) == 0 {
		return nil, 0
	}
	return topics, sum / float64(len(topics))
}
