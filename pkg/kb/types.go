// Package kb implements the knowledge-base retrieval core: per-group scope
// resolution, hybrid (semantic + keyword) topic search, quality filtering with
// confidence scoring, query rephrasing, grounded answer generation, and the
// orchestrator that sequences them for each incoming question.
//
// Topics are never written here; the ingestion pipeline owns their lifecycle.
// Every query path is constrained to an explicitly resolved group scope.
package kb

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for the terminal states of scope resolution and search.
// The orchestrator maps each to a distinct user-visible fallback message.
var (
	// ErrPrivateChat means the question came from outside any group. There is
	// no cross-group fallback; the pipeline stops here.
	ErrPrivateChat = errors.New("knowledge base is only available in groups")

	// ErrGroupLoad means the originating group's metadata could not be loaded.
	// Never treated as "search everything".
	ErrGroupLoad = errors.New("group metadata could not be loaded")

	// ErrScopeRequired is a programming-invariant violation: a search was
	// attempted without a resolved group scope. Loud on purpose.
	ErrScopeRequired = errors.New("group scope is required for knowledge base search")

	// ErrNoManagedGroups means no group is configured for topic loading.
	ErrNoManagedGroups = errors.New("no managed groups configured")

	// ErrKnowledgeBaseEmpty means no eligible topics have been loaded yet.
	ErrKnowledgeBaseEmpty = errors.New("knowledge base has no topics")
)

// Topic is a pre-summarized unit of prior group discussion. GroupJID is empty
// for orphaned records, which are excluded from every query path.
type Topic struct {
	ID       string
	GroupJID string
	Subject  string
	Summary  string
}

// Group is a WhatsApp group known to the bot. CommunityKeys link sibling
// groups that share a combined knowledge scope.
type Group struct {
	GroupJID      string
	Name          string
	Managed       bool
	CommunityKeys []string
}

// Message is an incoming or stored chat message. GroupJID is empty for
// direct chats.
type Message struct {
	MessageID string
	ChatJID   string
	GroupJID  string
	SenderJID string
	Text      string
	Timestamp time.Time
}

// Result is a single search hit. Distance is non-negative, lower = more
// similar. Semantic hits carry true cosine distance; keyword-only hits carry
// a synthetic distance plus a penalty.
type Result struct {
	Topic
	Distance float64

	// KeywordOnly marks topics that were never found by the semantic branch.
	KeywordOnly bool
}

// Rephrase is the tagged outcome of query rephrasing. When Fallback is true,
// Text is the original question and Reason says why the rewrite was rejected.
type Rephrase struct {
	Text     string
	Fallback bool
	Reason   string
}

// SemanticSearcher finds topics by embedding similarity, restricted to the
// given group JIDs. Implementations must exclude topics with an empty group
// JID and must not return more than limit hits.
type SemanticSearcher interface {
	Search(ctx context.Context, embedding []float32, groupJIDs []string, limit int) ([]Result, error)
}

// KeywordSearcher finds topics by case-insensitive substring match on subject
// or summary, restricted to the given group JIDs.
type KeywordSearcher interface {
	SearchTopicsKeyword(ctx context.Context, keywords []string, groupJIDs []string, limit int) ([]Topic, error)
}

// GroupStore loads group metadata. GetGroup returns (nil, nil) when the group
// is unknown.
type GroupStore interface {
	GetGroup(ctx context.Context, groupJID string) (*Group, error)
	GetCommunityGroups(ctx context.Context, groupJID string) ([]Group, error)
}

// HistoryStore fetches recency-ordered chat history.
type HistoryStore interface {
	RecentHistory(ctx context.Context, chatJID, excludeSenderJID string, limit int) ([]Message, error)
}

// StatusStore exposes the counts the health check needs.
type StatusStore interface {
	CountEligibleTopics(ctx context.Context) (int64, error)
	CountManagedGroups(ctx context.Context) (int64, error)
}

// Embedder converts text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Generator is the LLM text-generation capability: prompt in, text out.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, prompt string) (string, error)
}

// Sender delivers a chat message, optionally as a reply.
type Sender interface {
	SendMessage(ctx context.Context, chatJID, text, replyToID string) error
}
