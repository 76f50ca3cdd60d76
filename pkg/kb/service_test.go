package kb

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/wakb/wakb/pkg/config"
)

const (
	testGroupJID = "12036304@g.us"
	testChatJID  = testGroupJID
	testBotJID   = "999@s.whatsapp.net"
)

type serviceFixture struct {
	semantic *fakeSemantic
	keyword  *fakeKeyword
	groups   *fakeGroups
	status   *fakeStatus
	history  *fakeHistory
	embed    *fakeEmbedder
	llm      *fakeLLM
	sender   *fakeSender

	svc *Service
}

func newServiceFixture() *serviceFixture {
	f := &serviceFixture{
		semantic: &fakeSemantic{},
		keyword:  &fakeKeyword{},
		groups: &fakeGroups{groups: map[string]*Group{
			testGroupJID: {GroupJID: testGroupJID, Name: "Test group", Managed: true},
		}},
		status:  &fakeStatus{topics: 12, managed: 2},
		history: &fakeHistory{},
		embed:   &fakeEmbedder{vector: []float32{0.1, 0.2, 0.3}},
		llm:     &fakeLLM{rephraseOut: "deployment schedule question", answerOut: "We deploy on fridays 🚀"},
		sender:  &fakeSender{},
	}
	f.svc = NewService(config.Default(), f.groups, f.status, f.history,
		f.semantic, f.keyword, f.embed, f.llm, f.sender, testBotJID)
	return f
}

func question(text string) Message {
	return Message{
		MessageID: "MSG1",
		ChatJID:   testChatJID,
		GroupJID:  testGroupJID,
		SenderJID: "111@s.whatsapp.net",
		Text:      text,
	}
}

func (f *serviceFixture) lastSent(t *testing.T) sentMessage {
	t.Helper()
	if len(f.sender.sent) != 1 {
		t.Fatalf("sent %d messages, want 1: %+v", len(f.sender.sent), f.sender.sent)
	}
	return f.sender.sent[0]
}

func TestService_AnswersFromFilteredTopics(t *testing.T) {
	f := newServiceFixture()
	f.semantic.hits = []Result{
		{Topic: Topic{ID: "t1", GroupJID: testGroupJID, Subject: "Deploy schedule", Summary: "Deployments happen on fridays."}, Distance: 0.1},
		{Topic: Topic{ID: "t2", GroupJID: testGroupJID, Subject: "Wifi access", Summary: "The office wifi password is rotated monthly."}, Distance: 0.2},
		{Topic: Topic{ID: "t3", GroupJID: testGroupJID, Subject: "Unrelated", Summary: "Far away from the question entirely."}, Distance: 0.5},
	}

	if err := f.svc.AnswerQuestion(context.Background(), question("when do we deploy?")); err != nil {
		t.Fatal(err)
	}

	sent := f.lastSent(t)
	if sent.Text != "We deploy on fridays 🚀" {
		t.Errorf("sent %q", sent.Text)
	}
	if sent.ReplyTo != "MSG1" {
		t.Errorf("ReplyTo = %q, want the question's message ID", sent.ReplyTo)
	}
	if f.llm.generateCalls != 1 {
		t.Errorf("generateCalls = %d", f.llm.generateCalls)
	}
	// Only the two topics under the similarity threshold reach the prompt.
	if !strings.Contains(f.llm.lastAnswerInput, "Deploy schedule") || !strings.Contains(f.llm.lastAnswerInput, "Wifi access") {
		t.Errorf("retained topics missing from prompt: %q", f.llm.lastAnswerInput)
	}
	if strings.Contains(f.llm.lastAnswerInput, "Unrelated") {
		t.Errorf("topic past the threshold leaked into prompt: %q", f.llm.lastAnswerInput)
	}
}

func TestService_KeywordOnlyTopicReachesGenerator(t *testing.T) {
	f := newServiceFixture()
	f.semantic.hits = []Result{
		{Topic: Topic{ID: "t1", GroupJID: testGroupJID, Subject: "Deploy schedule", Summary: "Deployments happen on fridays."}, Distance: 0.1},
	}
	f.keyword.topics = []Topic{
		{ID: "t9", GroupJID: testGroupJID, Subject: "Router setup", Summary: "The router admin password is stored in the wiki."},
	}

	if err := f.svc.AnswerQuestion(context.Background(), question("where is the router password?")); err != nil {
		t.Fatal(err)
	}

	if f.llm.generateCalls != 1 {
		t.Fatalf("generateCalls = %d, want 1", f.llm.generateCalls)
	}
	if !strings.Contains(f.llm.lastAnswerInput, "Router setup") {
		t.Errorf("keyword-only topic missing from prompt: %q", f.llm.lastAnswerInput)
	}
}

func TestService_EmptyKnowledgeBaseStopsEarly(t *testing.T) {
	f := newServiceFixture()
	f.status.topics = 0

	err := f.svc.AnswerQuestion(context.Background(), question("anything at all?"))
	if err != ErrKnowledgeBaseEmpty {
		t.Fatalf("err = %v, want ErrKnowledgeBaseEmpty", err)
	}
	if got := f.lastSent(t).Text; got != msgEmpty.english {
		t.Errorf("sent %q", got)
	}
	// No provider spend before the health check passes.
	if f.embed.calls != 0 || f.semantic.calls != 0 || f.llm.generateCalls != 0 {
		t.Errorf("providers called on empty knowledge base: embed=%d search=%d generate=%d",
			f.embed.calls, f.semantic.calls, f.llm.generateCalls)
	}
}

func TestService_NoManagedGroupsStopsEarly(t *testing.T) {
	f := newServiceFixture()
	f.status.managed = 0

	err := f.svc.AnswerQuestion(context.Background(), question("hello?"))
	if err != ErrNoManagedGroups {
		t.Fatalf("err = %v, want ErrNoManagedGroups", err)
	}
	if got := f.lastSent(t).Text; got != msgNotConfigured.english {
		t.Errorf("sent %q", got)
	}
}

func TestService_LowConfidenceSkipsGeneration(t *testing.T) {
	f := newServiceFixture()
	// Distance 0.39 against threshold 0.4 yields confidence 0.025, far below
	// the 0.3 minimum even though the topic itself survives filtering.
	f.semantic.hits = []Result{
		{Topic: Topic{ID: "t1", GroupJID: testGroupJID, Subject: "Barely related", Summary: "A topic at the very edge of relevance."}, Distance: 0.39},
	}

	if err := f.svc.AnswerQuestion(context.Background(), question("something obscure?")); err != nil {
		t.Fatal(err)
	}
	if got := f.lastSent(t).Text; got != msgLowConfidence.english {
		t.Errorf("sent %q", got)
	}
	if f.llm.generateCalls != 0 {
		t.Errorf("generator invoked despite low confidence")
	}
}

func TestService_NothingFoundMessage(t *testing.T) {
	f := newServiceFixture()

	if err := f.svc.AnswerQuestion(context.Background(), question("completely unknown thing?")); err != nil {
		t.Fatal(err)
	}
	if got := f.lastSent(t).Text; got != msgNothingFound.english {
		t.Errorf("sent %q", got)
	}
}

func TestService_PrivateChatRejectedBeforeSearch(t *testing.T) {
	f := newServiceFixture()
	msg := question("what's the plan?")
	msg.GroupJID = ""
	msg.ChatJID = "111@s.whatsapp.net"

	err := f.svc.AnswerQuestion(context.Background(), msg)
	if !errors.Is(err, ErrPrivateChat) {
		t.Fatalf("err = %v, want private chat rejection", err)
	}
	if got := f.lastSent(t).Text; got != msgGroupsOnly.english {
		t.Errorf("sent %q", got)
	}
	if f.semantic.calls != 0 {
		t.Errorf("search ran for a private chat")
	}
}

func TestService_RephraseFallbackEmbedsOriginalQuestion(t *testing.T) {
	f := newServiceFixture()
	f.llm.rephraseErr = errBoom

	if err := f.svc.AnswerQuestion(context.Background(), question("what is the wifi password?")); err != nil {
		t.Fatal(err)
	}
	if f.embed.lastText != "what is the wifi password?" {
		t.Errorf("embedded %q, want the original question", f.embed.lastText)
	}
}

func TestService_EmbeddingFailureSendsTechIssue(t *testing.T) {
	f := newServiceFixture()
	f.embed.err = errBoom

	err := f.svc.AnswerQuestion(context.Background(), question("any question"))
	if err == nil {
		t.Fatal("expected embedding error")
	}
	if got := f.lastSent(t).Text; got != msgTechIssue.english {
		t.Errorf("sent %q", got)
	}
	if f.semantic.calls != 0 {
		t.Errorf("search ran without an embedding")
	}
}

func TestService_HistoryFailureIsNotFatal(t *testing.T) {
	f := newServiceFixture()
	f.history.err = errBoom
	f.semantic.hits = []Result{
		{Topic: Topic{ID: "t1", GroupJID: testGroupJID, Subject: "Deploy schedule", Summary: "Deployments happen on fridays."}, Distance: 0.1},
	}

	if err := f.svc.AnswerQuestion(context.Background(), question("when do we deploy?")); err != nil {
		t.Fatal(err)
	}
	if got := f.lastSent(t).Text; got != "We deploy on fridays 🚀" {
		t.Errorf("sent %q", got)
	}
}

func TestService_EmptyTextIsSilent(t *testing.T) {
	f := newServiceFixture()

	if err := f.svc.AnswerQuestion(context.Background(), question("")); err != nil {
		t.Fatal(err)
	}
	if len(f.sender.sent) != 0 {
		t.Errorf("sent %+v for an empty question", f.sender.sent)
	}
}

func TestService_LongAnswerTruncatedWithNotice(t *testing.T) {
	f := newServiceFixture()
	f.semantic.hits = []Result{
		{Topic: Topic{ID: "t1", GroupJID: testGroupJID, Subject: "Deploy schedule", Summary: "Deployments happen on fridays."}, Distance: 0.1},
	}
	f.llm.answerOut = strings.Repeat("a", 5000)

	if err := f.svc.AnswerQuestion(context.Background(), question("when do we deploy?")); err != nil {
		t.Fatal(err)
	}
	sent := f.lastSent(t)
	max := config.Default().Limits.MaxMessageRunes
	if got := utf8.RuneCountInString(sent.Text); got > max {
		t.Errorf("sent %d runes, limit %d", got, max)
	}
	if !strings.HasSuffix(sent.Text, truncationNotice.english) {
		t.Errorf("truncated answer missing notice: %q", sent.Text[len(sent.Text)-40:])
	}
}

func TestService_HebrewQuestionGetsHebrewFallback(t *testing.T) {
	f := newServiceFixture()
	f.status.topics = 0

	if err := f.svc.AnswerQuestion(context.Background(), question("מה קורה עם הפריסה?")); err != ErrKnowledgeBaseEmpty {
		t.Fatalf("unexpected err: %v", err)
	}
	if got := f.lastSent(t).Text; got != msgEmpty.hebrew {
		t.Errorf("sent %q", got)
	}
}
