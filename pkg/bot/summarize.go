package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/wakb/wakb/pkg/kb"
)

const summarySystemPrompt = `Create a clear, well-organized summary of TODAY's important discussions from the group chat.

INCLUDE only content that is:
- Decisions, announcements, or action items
- New information learned or insights gained
- Questions asked and their answers
- Significant developments relevant for follow-up

EXCLUDE:
- Casual small talk, greetings, or jokes
- Repetitive or redundant discussions
- System messages

FORMAT: Use WhatsApp formatting (*bold* section headers, emojis for structure). Tag users with @number when mentioning them. Answer in the same language as the request.`

var summaryAck = localizedText{
	english: "On it! Give me a moment to put together today's summary ✍️",
	hebrew:  "אני על זה! תנו לי רגע לגבש את הסיכום של היום ✍️",
}

var summaryEmpty = localizedText{
	english: "There's nothing to summarize yet - the chat has been quiet today 🤫",
	hebrew:  "אין עדיין מה לסכם - הצ'אט היה שקט היום 🤫",
}

// summarize collects today's messages for the chat and sends an LLM summary.
func (r *Router) summarize(ctx context.Context, msg kb.Message) error {
	history, err := r.history.TodayHistory(ctx, msg.ChatJID, r.botJID, r.cfg.History.SummaryLimit)
	if err != nil {
		return fmt.Errorf("loading today's history: %w", err)
	}
	if len(history) == 0 {
		return r.sender.SendMessage(ctx, msg.ChatJID, localized(summaryEmpty, msg.Text), msg.MessageID)
	}

	// Acknowledge before the slow LLM call so the group knows work started.
	if err := r.sender.SendMessage(ctx, msg.ChatJID, localized(summaryAck, msg.Text), msg.MessageID); err != nil {
		log.Warn().Err(err).Msg("failed to send summary ack")
	}

	prompt := fmt.Sprintf("%s\n\n# History:\n%s", msg.Text, kb.HistoryText(history))
	summary, err := r.llm.Generate(ctx, summarySystemPrompt, prompt)
	if err != nil {
		return fmt.Errorf("generating summary: %w", err)
	}
	if strings.TrimSpace(summary) == "" {
		return fmt.Errorf("generating summary: empty response")
	}

	return r.sender.SendMessage(ctx, msg.ChatJID, strings.TrimSpace(summary), msg.MessageID)
}
