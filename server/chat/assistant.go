// Package chat answers wellness questions with an LLM, grounding the prompt
// in passages retrieved from a vector store when one is configured.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/calmify/wellness-backend/server/cache"
	"go.uber.org/zap"
)

var (
	ErrEmptyQuestion = errors.New("no message provided")
	ErrNotConfigured = errors.New("chat model not configured")
)

const promptTemplate = "You are a mental health chatbot named Calmify. Keep your answers short and supportive:\n%s\nUser: %s\nChatbot: "

// LanguageModel completes a single prompt.
type LanguageModel interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Retriever returns up to k passages relevant to query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]string, error)
}

type Options struct {
	TopK     int
	CacheTTL time.Duration
}

type Assistant struct {
	model     LanguageModel
	retriever Retriever
	cache     cache.Cache
	logger    *zap.Logger
	opts      Options
}

// NewAssistant wires the assistant. retriever and c may be nil.
func NewAssistant(model LanguageModel, retriever Retriever, c cache.Cache, logger *zap.Logger, opts Options) (*Assistant, error) {
	if model == nil {
		return nil, ErrNotConfigured
	}
	if opts.TopK <= 0 {
		opts.TopK = 4
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 10 * time.Minute
	}

	return &Assistant{
		model:     model,
		retriever: retriever,
		cache:     c,
		logger:    logger,
		opts:      opts,
	}, nil
}

// BuildPrompt stuffs the passages into the Calmify prompt.
func BuildPrompt(passages []string, question string) string {
	return fmt.Sprintf(promptTemplate, strings.Join(passages, "\n\n"), question)
}

// Ask answers message. Retrieval failures degrade to an answer without
// context; model failures are returned.
func (a *Assistant) Ask(ctx context.Context, message string) (string, error) {
	question := strings.TrimSpace(message)
	if question == "" {
		return "", ErrEmptyQuestion
	}

	key := cache.GenerateCacheKey("chat", strings.ToLower(question))
	if a.cache != nil {
		var answer string
		if err := a.cache.Get(ctx, key, &answer); err == nil {
			a.logger.Debug("Cache hit for chat answer", zap.String("key", key))
			return answer, nil
		}
	}

	var passages []string
	if a.retriever != nil {
		var err error
		passages, err = a.retriever.Retrieve(ctx, question, a.opts.TopK)
		if err != nil {
			a.logger.Warn("Context retrieval failed, answering without context", zap.Error(err))
			passages = nil
		}
	}

	start := time.Now()
	answer, err := a.model.Complete(ctx, BuildPrompt(passages, question))
	if err != nil {
		return "", fmt.Errorf("generating answer: %w", err)
	}
	answer = strings.TrimSpace(answer)

	a.logger.Info("Chat answered",
		zap.Int("context_passages", len(passages)),
		zap.Duration("latency", time.Since(start)))

	if a.cache != nil && answer != "" {
		if err := a.cache.SetWithTTL(ctx, key, answer, a.opts.CacheTTL); err != nil {
			a.logger.Warn("Failed to cache chat answer", zap.Error(err))
		}
	}

	return answer, nil
}
