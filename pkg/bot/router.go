package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/wakb/wakb/pkg/config"
	"github.com/wakb/wakb/pkg/kb"
	"github.com/wakb/wakb/pkg/util"
)

// Intent is the classified purpose of a bot-directed message.
type Intent string

const (
	IntentAskQuestion Intent = "ask_question"
	IntentSummarize   Intent = "summarize"
	IntentAbout       Intent = "about"
	IntentOther       Intent = "other"
)

const intentSystemPrompt = `Classify the intent of the message. Answer with a JSON object {"intent": "..."} where intent is one of:
- "summarize": summarize or catch up on TODAY's chat messages only. Queries across a broader timespan are ask_question.
- "ask_question": ask a question or learn from the collective knowledge of the group.
- "about": learn about the bot and its capabilities.
- "other": anything else.`

// Generator is the LLM surface the router needs: free-form generation for
// summaries and JSON-constrained generation for classification.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, prompt string) (string, error)
	GenerateJSON(ctx context.Context, systemPrompt, prompt string) (string, error)
}

// Answerer runs the knowledge-base answer pipeline.
type Answerer interface {
	AnswerQuestion(ctx context.Context, msg kb.Message) error
}

// HistoryStore provides today's chat messages for summaries.
type HistoryStore interface {
	TodayHistory(ctx context.Context, chatJID, excludeSenderJID string, limit int) ([]kb.Message, error)
}

// Router classifies bot-directed messages by intent and dispatches them.
type Router struct {
	cfg     *config.Config
	llm     Generator
	kb      Answerer
	history HistoryStore
	sender  kb.Sender
	botJID  string
}

// NewRouter creates an intent router.
func NewRouter(cfg *config.Config, llm Generator, answerer Answerer, history HistoryStore, sender kb.Sender, botJID string) *Router {
	return &Router{cfg: cfg, llm: llm, kb: answerer, history: history, sender: sender, botJID: botJID}
}

// Route classifies the message and runs the matching handler.
func (r *Router) Route(ctx context.Context, msg kb.Message) error {
	intent := r.classify(ctx, msg.Text)
	log.Info().
		Str("intent", string(intent)).
		Str("chat_jid", msg.ChatJID).
		Msg("routing message")

	switch intent {
	case IntentSummarize:
		return r.summarize(ctx, msg)
	case IntentAskQuestion:
		return r.kb.AnswerQuestion(ctx, msg)
	case IntentAbout:
		return r.sender.SendMessage(ctx, msg.ChatJID, localized(aboutText, msg.Text), msg.MessageID)
	default:
		return r.sender.SendMessage(ctx, msg.ChatJID, localized(defaultText, msg.Text), msg.MessageID)
	}
}

// classify asks the LLM for the intent. On any failure it falls back to a
// heuristic: messages with a question mark go to the knowledge base.
func (r *Router) classify(ctx context.Context, text string) Intent {
	out, err := r.llm.GenerateJSON(ctx, intentSystemPrompt, text)
	if err == nil {
		switch Intent(gjson.Get(out, "intent").Str) {
		case IntentSummarize:
			return IntentSummarize
		case IntentAskQuestion:
			return IntentAskQuestion
		case IntentAbout:
			return IntentAbout
		case IntentOther:
			return IntentOther
		}
		err = fmt.Errorf("unrecognized intent in %q", out)
	}

	log.Warn().Err(err).Msg("intent classification failed, using heuristic")
	if strings.Contains(text, "?") {
		return IntentAskQuestion
	}
	return IntentOther
}

type localizedText struct {
	english string
	hebrew  string
}

var (
	aboutText = localizedText{
		english: "I'm the group's knowledge-base bot 🤖\nI can catch up on today's chat or answer questions based on the group's collective knowledge. Mention me with a question to try it out!",
		hebrew:  "אני בוט מאגר הידע של הקבוצה 🤖\nאני יכול לסכם את הצ'אט של היום או לענות על שאלות מהידע המשותף של הקבוצה. תייגו אותי עם שאלה כדי לנסות!",
	}
	defaultText = localizedText{
		english: "I'm sorry, but I don't think this is something I can help with right now 😅\nI can catch up on today's chat messages or answer questions based on the group's knowledge.",
		hebrew:  "מצטער, אבל אני לא חושב שזה משהו שאני יכול לעזור בו כרגע 😅\nאני יכול לסכם את הודעות הצ'אט של היום או לענות על שאלות מהידע של הקבוצה.",
	}
)

func localized(text localizedText, probe string) string {
	if util.ContainsNonASCII(probe) {
		return text.hebrew
	}
	return text.english
}
