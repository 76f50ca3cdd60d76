package kb

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
)

const rephraseSystemPrompt = `Phrase the following message as a short paragraph describing a query to a knowledge base.
- Use English only!
- Include only the query itself. If the message contains a lot of information, focus on what the user asks.
- Your name is @%BOT%
- Attached is the recent chat history. Use it to understand the context of the query; if the context is unclear or irrelevant, ignore it.
- ONLY answer with the new phrased query, no other text!`

// genericNonAnswers are refusal fragments an LLM sometimes returns instead of
// a rewritten query. Any of these invalidates the rephrasing.
var genericNonAnswers = []string{
	"unclear",
	"i cannot",
	"i can't",
	"i don't know",
	"i do not know",
	"no query",
	"not clear",
	"i'm sorry",
	"i am sorry",
}

// Rephraser turns a raw chat message into a context-free English search
// query used only for embedding. It is never fatal: any failure falls back
// to the original question text.
type Rephraser struct {
	llm Generator
}

// NewRephraser creates a rephraser backed by the given LLM.
func NewRephraser(llm Generator) *Rephraser {
	return &Rephraser{llm: llm}
}

// Rephrase rewrites question into a search query. The result is tagged:
// Fallback is true when the rewrite was rejected or the call failed, in
// which case Text is the original question.
func (r *Rephraser) Rephrase(ctx context.Context, question, botJID string, history []Message) Rephrase {
	system := strings.ReplaceAll(rephraseSystemPrompt, "%BOT%", botJID)
	prompt := question
	if len(history) > 0 {
		prompt += "\n\n## Recent chat history:\n" + HistoryText(history)
	}

	rephrased, err := r.llm.Generate(ctx, system, prompt)
	if err != nil {
		log.Warn().Err(err).Msg("rephrasing failed, using original question")
		return Rephrase{Text: question, Fallback: true, Reason: "provider error"}
	}

	if reason := validateRephrasing(question, rephrased); reason != "" {
		log.Warn().
			Str("reason", reason).
			Str("rephrased", rephrased).
			Msg("rejected rephrasing, using original question")
		return Rephrase{Text: question, Fallback: true, Reason: reason}
	}

	return Rephrase{Text: strings.TrimSpace(rephrased)}
}

// validateRephrasing is a cheap local safety net against hallucinated
// refusals and unrelated restatements before spending an embedding call.
// Returns a non-empty reason when the rephrasing must be rejected.
func validateRephrasing(original, rephrased string) string {
	trimmed := strings.TrimSpace(rephrased)
	if trimmed == "" {
		return "empty"
	}
	if utf8.RuneCountInString(trimmed) < 3 {
		return "too short"
	}

	lower := strings.ToLower(trimmed)
	for _, generic := range genericNonAnswers {
		if strings.Contains(lower, generic) {
			return "generic non-answer"
		}
	}

	// A very short rewrite that shares no word with the original is more
	// likely a hallucination than a translation.
	words := strings.Fields(lower)
	if len(words) < 3 && utf8.RuneCountInString(trimmed) < 10 && !sharesWord(original, lower) {
		return "no overlap with original"
	}

	return ""
}

func sharesWord(original, rephrasedLower string) bool {
	rephrasedWords := make(map[string]struct{})
	for _, w := range strings.Fields(rephrasedLower) {
		rephrasedWords[w] = struct{}{}
	}
	for _, w := range strings.Fields(strings.ToLower(original)) {
		if _, ok := rephrasedWords[w]; ok {
			return true
		}
	}
	return false
}
