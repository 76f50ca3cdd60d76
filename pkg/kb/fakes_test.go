package kb

import (
	"context"
	"errors"
	"strings"
)

// Shared in-memory fakes for the pipeline's external collaborators.

type fakeSemantic struct {
	hits []Result
	err  error

	calls     int
	lastScope []string
}

func (f *fakeSemantic) Search(ctx context.Context, embedding []float32, groupJIDs []string, limit int) ([]Result, error) {
	f.calls++
	f.lastScope = groupJIDs
	if f.err != nil {
		return nil, f.err
	}
	// Respect the scope filter the way a real data layer would.
	inScope := make(map[string]struct{}, len(groupJIDs))
	for _, jid := range groupJIDs {
		inScope[jid] = struct{}{}
	}
	var out []Result
	for _, h := range f.hits {
		if h.GroupJID == "" {
			continue
		}
		if _, ok := inScope[h.GroupJID]; !ok {
			continue
		}
		out = append(out, h)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

type fakeKeyword struct {
	topics []Topic
	err    error

	calls        int
	lastKeywords []string
}

func (f *fakeKeyword) SearchTopicsKeyword(ctx context.Context, keywords, groupJIDs []string, limit int) ([]Topic, error) {
	f.calls++
	f.lastKeywords = keywords
	if f.err != nil {
		return nil, f.err
	}
	inScope := make(map[string]struct{}, len(groupJIDs))
	for _, jid := range groupJIDs {
		inScope[jid] = struct{}{}
	}
	var out []Topic
	for _, t := range f.topics {
		if t.GroupJID == "" {
			continue
		}
		if _, ok := inScope[t.GroupJID]; !ok {
			continue
		}
		matched := false
		for _, kw := range keywords {
			if strings.Contains(strings.ToLower(t.Subject), kw) || strings.Contains(strings.ToLower(t.Summary), kw) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		out = append(out, t)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

type fakeGroups struct {
	groups    map[string]*Group
	community map[string][]Group
	err       error
}

func (f *fakeGroups) GetGroup(ctx context.Context, groupJID string) (*Group, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.groups[groupJID], nil
}

func (f *fakeGroups) GetCommunityGroups(ctx context.Context, groupJID string) ([]Group, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.community[groupJID], nil
}

type fakeStatus struct {
	topics  int64
	managed int64
	err     error
}

func (f *fakeStatus) CountEligibleTopics(ctx context.Context) (int64, error) {
	return f.topics, f.err
}

func (f *fakeStatus) CountManagedGroups(ctx context.Context) (int64, error) {
	return f.managed, f.err
}

type fakeHistory struct {
	messages []Message
	err      error
}

func (f *fakeHistory) RecentHistory(ctx context.Context, chatJID, excludeSenderJID string, limit int) ([]Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.messages, nil
}

type fakeEmbedder struct {
	vector []float32
	err    error

	calls    int
	lastText string
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	f.lastText = text
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}

// fakeLLM answers rephrase and generation calls by inspecting the system
// prompt, mirroring how the service shares one Generator.
type fakeLLM struct {
	rephraseOut string
	rephraseErr error
	answerOut   string
	answerErr   error

	generateCalls   int
	lastAnswerSys   string
	lastAnswerInput string
}

func (f *fakeLLM) Generate(ctx context.Context, systemPrompt, prompt string) (string, error) {
	if strings.Contains(systemPrompt, "Phrase the following message") {
		if f.rephraseErr != nil {
			return "", f.rephraseErr
		}
		return f.rephraseOut, nil
	}
	f.generateCalls++
	f.lastAnswerSys = systemPrompt
	f.lastAnswerInput = prompt
	if f.answerErr != nil {
		return "", f.answerErr
	}
	return f.answerOut, nil
}

type sentMessage struct {
	ChatJID string
	Text    string
	ReplyTo string
}

type fakeSender struct {
	sent []sentMessage
	err  error
}

func (f *fakeSender) SendMessage(ctx context.Context, chatJID, text, replyToID string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{chatJID, text, replyToID})
	return nil
}

var errBoom = errors.New("boom")
