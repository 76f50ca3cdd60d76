package bot

import (
	"context"
	"errors"

	"github.com/wakb/wakb/pkg/kb"
)

type storedReaction struct {
	ChatJID   string
	MessageID string
	SenderJID string
	Emoji     string
}

type fakeStore struct {
	senders   map[string]string
	groups    []string
	messages  []kb.Message
	reactions []storedReaction
	removed   []storedReaction
	today     []kb.Message
	err       error
}

func newFakeStore() *fakeStore {
	return &fakeStore{senders: map[string]string{}}
}

func (f *fakeStore) EnsureSenderExists(ctx context.Context, senderJID, pushName string) error {
	if f.err != nil {
		return f.err
	}
	f.senders[senderJID] = pushName
	return nil
}

func (f *fakeStore) EnsureGroupExists(ctx context.Context, groupJID, name string) error {
	if f.err != nil {
		return f.err
	}
	f.groups = append(f.groups, groupJID)
	return nil
}

func (f *fakeStore) UpsertMessage(ctx context.Context, m kb.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, m)
	return nil
}

func (f *fakeStore) UpsertReaction(ctx context.Context, chatJID, messageID, senderJID, emoji string) error {
	f.reactions = append(f.reactions, storedReaction{chatJID, messageID, senderJID, emoji})
	return nil
}

func (f *fakeStore) RemoveReaction(ctx context.Context, chatJID, messageID, senderJID string) error {
	f.removed = append(f.removed, storedReaction{ChatJID: chatJID, MessageID: messageID, SenderJID: senderJID})
	return nil
}

func (f *fakeStore) TodayHistory(ctx context.Context, chatJID, excludeSenderJID string, limit int) ([]kb.Message, error) {
	return f.today, f.err
}

// fakeGen serves both generation and classification.
type fakeGen struct {
	jsonOut string
	jsonErr error
	out     string
	err     error

	lastPrompt string
}

func (f *fakeGen) Generate(ctx context.Context, systemPrompt, prompt string) (string, error) {
	f.lastPrompt = prompt
	return f.out, f.err
}

func (f *fakeGen) GenerateJSON(ctx context.Context, systemPrompt, prompt string) (string, error) {
	return f.jsonOut, f.jsonErr
}

type fakeAnswerer struct {
	calls []kb.Message
	err   error
}

func (f *fakeAnswerer) AnswerQuestion(ctx context.Context, msg kb.Message) error {
	f.calls = append(f.calls, msg)
	return f.err
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
