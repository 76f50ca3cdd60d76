package kb

import (
	"math"
	"testing"

	"github.com/wakb/wakb/pkg/config"
)

func result(id string, distance float64) Result {
	return Result{
		Topic: Topic{
			ID:       id,
			GroupJID: "a@g.us",
			Subject:  "topic subject",
			Summary:  "a summary long enough to pass",
		},
		Distance: distance,
	}
}

func TestFilter_DropsPastThreshold(t *testing.T) {
	q := NewQualityFilter(config.Default())

	topics, confidence := q.Filter([]Result{
		result("good1", 0.1),
		result("good2", 0.2),
		result("bad", 0.9),
	})

	if len(topics) != 2 {
		t.Fatalf("len(topics) = %d, want 2", len(topics))
	}
	if confidence <= 0 {
		t.Fatalf("confidence = %v, want > 0", confidence)
	}
}

func TestFilter_DropsMalformedTopics(t *testing.T) {
	q := NewQualityFilter(config.Default())

	results := []Result{
		{Topic: Topic{ID: "short-subject", GroupJID: "a@g.us", Subject: "ab", Summary: "a sufficiently long summary"}, Distance: 0.1},
		{Topic: Topic{ID: "short-summary", GroupJID: "a@g.us", Subject: "fine subject", Summary: "tiny"}, Distance: 0.1},
		{Topic: Topic{ID: "whitespace", GroupJID: "a@g.us", Subject: "   ", Summary: "a sufficiently long summary"}, Distance: 0.1},
		result("good", 0.1),
	}

	topics, _ := q.Filter(results)
	if len(topics) != 1 {
		t.Fatalf("len(topics) = %d, want 1", len(topics))
	}
}

func TestFilter_KeywordOnlyHitSurvives(t *testing.T) {
	cfg := config.Default()
	q := NewQualityFilter(cfg)

	// The synthetic keyword distance plus penalty must stay under the
	// similarity threshold, or the keyword branch could never contribute.
	topics, confidence := q.Filter([]Result{{
		Topic:       Topic{ID: "kw", GroupJID: "a@g.us", Subject: "router setup", Summary: "the admin password is in the wiki"},
		Distance:    cfg.Search.KeywordDistance + cfg.Search.KeywordPenalty,
		KeywordOnly: true,
	}})
	if len(topics) != 1 {
		t.Fatalf("keyword-only hit dropped by quality filter")
	}
	if confidence <= 0 {
		t.Errorf("confidence = %v, want > 0", confidence)
	}
}

func TestFilter_EmptyInput(t *testing.T) {
	q := NewQualityFilter(config.Default())

	topics, confidence := q.Filter(nil)
	if topics != nil || confidence != 0 {
		t.Fatalf("empty input should yield (nil, 0), got (%v, %v)", topics, confidence)
	}
}

func TestFilter_ConfidenceFormula(t *testing.T) {
	q := NewQualityFilter(config.Default())

	// distance 0.2 against threshold 0.4 -> confidence 0.5
	_, confidence := q.Filter([]Result{result("t", 0.2)})
	if math.Abs(confidence-0.5) > 1e-9 {
		t.Fatalf("confidence = %v, want 0.5", confidence)
	}

	// A perfect match gives confidence 1.
	_, confidence = q.Filter([]Result{result("t", 0)})
	if math.Abs(confidence-1) > 1e-9 {
		t.Fatalf("confidence = %v, want 1", confidence)
	}
}

func TestFilter_ConfidenceMonotonicity(t *testing.T) {
	q := NewQualityFilter(config.Default())

	_, closer := q.Filter([]Result{result("a", 0.05), result("b", 0.1)})
	_, farther := q.Filter([]Result{result("a", 0.15), result("b", 0.3)})

	if closer < farther {
		t.Fatalf("uniformly smaller distances must not lower confidence: %v < %v", closer, farther)
	}
}

func TestFilter_FormatsSubjectAndSummary(t *testing.T) {
	q := NewQualityFilter(config.Default())

	topics, _ := q.Filter([]Result{{
		Topic:    Topic{ID: "t", GroupJID: "a@g.us", Subject: "Deploy runbook", Summary: "Deployments happen on fridays."},
		Distance: 0.1,
	}})
	if len(topics) != 1 {
		t.Fatalf("len(topics) = %d, want 1", len(topics))
	}
	if topics[0] != "Deploy runbook\nDeployments happen on fridays." {
		t.Errorf("formatted topic = %q", topics[0])
	}
}
