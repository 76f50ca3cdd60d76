package kb

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/wakb/wakb/pkg/config"
	"github.com/wakb/wakb/pkg/util"
)

// Service orchestrates the knowledge-base answer pipeline end to end:
// health check, history fetch, rephrase, embed, scope resolution, hybrid
// search, quality filtering, confidence gating, generation, send. Every
// stage is a possible terminal point with exactly one user-visible fallback
// message; there is no retry loop here.
type Service struct {
	cfg      *config.Config
	scope    *ScopeResolver
	search   *HybridSearch
	quality  *QualityFilter
	rephrase *Rephraser
	answer   *AnswerGenerator

	status  StatusStore
	history HistoryStore
	embed   Embedder
	sender  Sender
	botJID  string
}

// NewService wires the pipeline from its external collaborators.
func NewService(
	cfg *config.Config,
	groups GroupStore,
	status StatusStore,
	history HistoryStore,
	semantic SemanticSearcher,
	keyword KeywordSearcher,
	embed Embedder,
	llm Generator,
	sender Sender,
	botJID string,
) *Service {
	return &Service{
		cfg:      cfg,
		scope:    NewScopeResolver(groups),
		search:   NewHybridSearch(cfg, semantic, keyword),
		quality:  NewQualityFilter(cfg),
		rephrase: NewRephraser(llm),
		answer:   NewAnswerGenerator(cfg, llm),
		status:   status,
		history:  history,
		embed:    embed,
		sender:   sender,
		botJID:   botJID,
	}
}

// AnswerQuestion runs the full pipeline for one incoming question. The
// returned error describes the terminal stage for the caller's logs; the
// user-visible outcome has already been sent by the time it returns.
func (s *Service) AnswerQuestion(ctx context.Context, msg Message) error {
	// Stage 1: input validation. No text means nothing to answer and
	// nothing to send.
	question := msg.Text
	if question == "" {
		log.Debug().Str("chat_jid", msg.ChatJID).Msg("question has no text, skipping")
		return nil
	}
	if utf8.RuneCountInString(question) > s.cfg.Limits.MaxQuestionRunes {
		question = util.TruncateExact(question, s.cfg.Limits.MaxQuestionRunes)
	}

	// Stage 2: health check before spending any provider calls.
	if err := s.checkHealth(ctx); err != nil {
		return s.stop(ctx, msg, question, err, s.healthMessage(err))
	}

	// Stage 3: bounded recent history, excluding the bot's own messages.
	// Never fatal; an empty history only degrades context quality.
	history, err := s.history.RecentHistory(ctx, msg.ChatJID, s.botJID, s.cfg.History.Limit)
	if err != nil {
		log.Warn().Err(err).Str("chat_jid", msg.ChatJID).Msg("history fetch failed, proceeding without context")
		history = nil
	}

	// Stage 4: rephrase for embedding. Never fatal.
	rephrased := s.rephrase.Rephrase(ctx, question, s.botJID, history)

	// Stage 5: embed the (possibly fallback) query.
	embedding, err := s.embed.Embed(ctx, rephrased.Text)
	if err != nil {
		return s.stop(ctx, msg, question, fmt.Errorf("embedding: %w", err), msgTechIssue)
	}

	// Stage 6: scope resolution. The security chokepoint.
	scope, err := s.scope.Resolve(ctx, msg)
	if err != nil {
		switch {
		case errors.Is(err, ErrPrivateChat):
			return s.stop(ctx, msg, question, err, msgGroupsOnly)
		default:
			return s.stop(ctx, msg, question, err, msgGroupTrouble)
		}
	}

	// Stage 7: hybrid search within scope.
	results, err := s.search.Search(ctx, embedding, question, scope)
	if err != nil {
		return s.stop(ctx, msg, question, fmt.Errorf("search: %w", err), msgSearchTrouble)
	}

	// Stage 8: quality filter and confidence scoring.
	topics, confidence := s.quality.Filter(results)
	if len(topics) == 0 {
		return s.stop(ctx, msg, question, nil, msgNothingFound)
	}

	// Stage 9: confidence gate. Below the minimum the generator is never
	// invoked; a misleadingly confident answer is worse than asking the
	// user to rephrase.
	if confidence < s.cfg.Quality.MinConfidence {
		log.Info().
			Float64("confidence", confidence).
			Int("topics", len(topics)).
			Str("chat_jid", msg.ChatJID).
			Msg("confidence below minimum, skipping generation")
		return s.stop(ctx, msg, question, nil, msgLowConfidence)
	}

	// Stage 10: generate the answer from the original question.
	answer, err := s.answer.Generate(ctx, question, topics, msg.SenderJID, history, confidence)
	if err != nil {
		return s.stop(ctx, msg, question, err, msgGenerateTrouble)
	}

	// Stage 11: send, respecting the transport length limit.
	if utf8.RuneCountInString(answer) > s.cfg.Limits.MaxMessageRunes {
		notice := localize(truncationNotice, question)
		answer = util.TruncateExact(answer, s.cfg.Limits.MaxMessageRunes-utf8.RuneCountInString(notice)) + notice
	}
	if err := s.sender.SendMessage(ctx, msg.ChatJID, answer, msg.MessageID); err != nil {
		return fmt.Errorf("sending answer: %w", err)
	}

	log.Info().
		Str("chat_jid", msg.ChatJID).
		Float64("confidence", confidence).
		Int("topics", len(topics)).
		Bool("rephrase_fallback", rephrased.Fallback).
		Msg("knowledge base answer sent")

	return nil
}

// checkHealth verifies the knowledge base has anything to search before the
// pipeline spends provider calls.
func (s *Service) checkHealth(ctx context.Context) error {
	managed, err := s.status.CountManagedGroups(ctx)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	if managed == 0 {
		return ErrNoManagedGroups
	}

	topics, err := s.status.CountEligibleTopics(ctx)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	if topics == 0 {
		return ErrKnowledgeBaseEmpty
	}

	return nil
}

// healthMessage differentiates the "knowledge base unavailable" message by
// cause when determinable.
func (s *Service) healthMessage(err error) fallbackMessage {
	switch {
	case errors.Is(err, ErrNoManagedGroups):
		return msgNotConfigured
	case errors.Is(err, ErrKnowledgeBaseEmpty):
		return msgEmpty
	default:
		return msgUnavailable
	}
}

// stop sends the terminal fallback message for a stage and returns the
// stage's error for the caller's logs. A send failure is reported instead;
// there is nobody left to tell about it.
func (s *Service) stop(ctx context.Context, msg Message, question string, stageErr error, fallback fallbackMessage) error {
	if stageErr != nil {
		log.Warn().Err(stageErr).Str("chat_jid", msg.ChatJID).Msg("knowledge base pipeline stopped")
	}

	if err := s.sender.SendMessage(ctx, msg.ChatJID, localize(fallback, question), msg.MessageID); err != nil {
		return fmt.Errorf("sending fallback message: %w", err)
	}
	return stageErr
}
