package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/calmify/wellness-backend/server/chat"
	"github.com/calmify/wellness-backend/server/config"
	"go.uber.org/zap"
)

// splitPassages breaks a document into blank-line separated paragraphs.
func splitPassages(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var passages []string
	for _, block := range strings.Split(text, "\n\n") {
		if p := strings.TrimSpace(block); p != "" {
			passages = append(passages, p)
		}
	}
	return passages
}

func ingestKnowledge(ctx context.Context, cfg *config.Config, path string, logger *zap.Logger) error {
	if cfg.Database.Host == "" {
		return errors.New("DB_HOST is required for ingestion")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	passages := splitPassages(string(data))

	embedder := chat.NewOpenAIEmbedder(cfg.Chat.EmbeddingAPIKey, cfg.Chat.EmbeddingURL, cfg.Chat.EmbeddingModel)
	retriever, err := chat.NewPGVectorRetriever(ctx, cfg.Database.DSN(), embedder, logger)
	if err != nil {
		return err
	}
	defer retriever.Close()

	if err := retriever.EnsureSchema(ctx, cfg.Chat.EmbeddingDims); err != nil {
		return err
	}

	start := time.Now()
	for i, passage := range passages {
		if _, err := retriever.AddDocument(ctx, passage); err != nil {
			return fmt.Errorf("passage %d: %w", i+1, err)
		}
	}

	logger.Info("Knowledge base updated",
		zap.String("file", path),
		zap.Int("passages", len(passages)),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}
