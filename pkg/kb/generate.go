package kb

import (
	"context"
	"fmt"
	"strings"

	"github.com/wakb/wakb/pkg/config"
)

const answerSystemPrompt = `Answer the user's question based on the attached knowledge base topics.

FORMATTING: Use WhatsApp formatting - *bold* for emphasis, _italic_ for quotes, emojis for organization.

GUIDELINES:
- Answer in the same language as the question
- Be conversational and concise (this is a WhatsApp chat)
- Only use information from the attached topics
- Tag users with @number when mentioning them
- If no relevant topics are attached, say you could not find relevant information

CONTEXT: Recent chat history is provided for context. Use it if relevant, ignore if not.`

// Extra system-prompt instructions for the two lower confidence brackets.
// The bracket boundaries come from Quality.HedgeBelow and
// Quality.UncertainBelow; above HedgeBelow no instruction is added.
const (
	hedgeInstruction = "CONFIDENCE: The retrieved topics are only a moderate match for the question. Hedge appropriately and avoid presenting marginal matches as definitive answers."

	uncertainInstruction = "CONFIDENCE: The retrieved topics are a weak match for the question. State your uncertainty explicitly and ask the user to clarify or rephrase if the topics do not answer their question."
)

// AnswerGenerator produces the final chat-formatted answer from the
// question, the retained topics, and recent history, with the instruction
// set conditioned on the confidence bracket.
type AnswerGenerator struct {
	cfg *config.Config
	llm Generator
}

// NewAnswerGenerator creates a generator using the given LLM.
func NewAnswerGenerator(cfg *config.Config, llm Generator) *AnswerGenerator {
	return &AnswerGenerator{cfg: cfg, llm: llm}
}

// Generate returns the answer text. The caller guarantees confidence is at
// least the pipeline minimum; below that the generator is never invoked.
func (g *AnswerGenerator) Generate(ctx context.Context, question string, topics []string, senderJID string, history []Message, confidence float64) (string, error) {
	system := answerSystemPrompt
	if extra := g.instructionFor(confidence); extra != "" {
		system += "\n\n" + extra
	}

	topicBlock := "No related topics found."
	if len(topics) > 0 {
		topicBlock = strings.Join(topics, "\n---\n")
	}

	prompt := fmt.Sprintf("@%s: %s\n\n# Recent chat history:\n%s\n\n# Related Topics:\n%s",
		jidUser(senderJID), question, HistoryText(history), topicBlock)

	answer, err := g.llm.Generate(ctx, system, prompt)
	if err != nil {
		return "", fmt.Errorf("answer generation: %w", err)
	}
	if strings.TrimSpace(answer) == "" {
		return "", fmt.Errorf("answer generation: empty response")
	}

	return strings.TrimSpace(answer), nil
}

func (g *AnswerGenerator) instructionFor(confidence float64) string {
	switch {
	case confidence >= g.cfg.Quality.HedgeBelow:
		return ""
	case confidence >= g.cfg.Quality.UncertainBelow:
		return hedgeInstruction
	default:
		return uncertainInstruction
	}
}

// HistoryText formats message history as "[timestamp] @user: text" lines for
// prompt consumption.
func HistoryText(history []Message) string {
	if len(history) == 0 {
		return "(no recent history)"
	}

	lines := make([]string, 0, len(history))
	for _, m := range history {
		lines = append(lines, fmt.Sprintf("[%s] @%s: %s",
			m.Timestamp.Format("2006-01-02 15:04"), jidUser(m.SenderJID), strings.TrimSpace(m.Text)))
	}
	return strings.Join(lines, "\n")
}

// jidUser returns the user part of a JID ("12345@s.whatsapp.net" -> "12345").
func jidUser(jid string) string {
	if at := strings.IndexByte(jid, '@'); at >= 0 {
		return jid[:at]
	}
	return jid
}
