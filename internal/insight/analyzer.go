package insight

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/purpose-labs/coach-gateway/internal/llm"
	"github.com/purpose-labs/coach-gateway/internal/models"
	"github.com/purpose-labs/coach-gateway/internal/prompt"
)

const (
	minTurnsForAnalysis = 5
	analysisMaxTokens   = 200
	analysisSystem      = "You are an AI that analyzes conversations for breakthrough moments. Respond only with valid JSON."
)

// MemoryStore persists breakthrough memories.
type MemoryStore interface {
	InsertMemory(ctx context.Context, m *models.Memory) error
}

// BreakthroughAnalyzer asks the completion provider whether the recent
// transcript contains a breakthrough moment and persists a memory card
// when it does.
type BreakthroughAnalyzer struct {
	llm    llm.Client
	store  MemoryStore
	logger *zap.Logger
}

func NewBreakthroughAnalyzer(client llm.Client, store MemoryStore, logger *zap.Logger) *BreakthroughAnalyzer {
	return &BreakthroughAnalyzer{llm: client, store: store, logger: logger}
}

type verdict struct {
	HasBreakthrough bool   `json:"hasBreakthrough"`
	Title           string `json:"title"`
	Insight         string `json:"insight"`
	Type            string `json:"type"`
}

func (a *BreakthroughAnalyzer) Analyze(ctx context.Context, uid, episodeID string, turns []models.Message) error {
	if len(turns) < minTurnsForAnalysis {
		return nil
	}

	text, err := a.llm.Complete(ctx, analysisSystem, []llm.Turn{
		{Role: string(models.RoleUser), Content: prompt.BuildBreakthroughPrompt(turns)},
	}, analysisMaxTokens)
	if err != nil {
		return fmt.Errorf("breakthrough analysis: %w", err)
	}

	var v verdict
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return fmt.Errorf("parse breakthrough verdict: %w", err)
	}

	if !v.HasBreakthrough {
		return nil
	}

	mem := &models.Memory{
		UID:       uid,
		EpisodeID: episodeID,
		Title:     v.Title,
		Insight:   v.Insight,
		Type:      v.Type,
	}
	if err := a.store.InsertMemory(ctx, mem); err != nil {
		return fmt.Errorf("save memory: %w", err)
	}

	a.logger.Info("breakthrough memory saved",
		zap.String("episode_id", episodeID), zap.String("type", v.Type))
	return nil
}
