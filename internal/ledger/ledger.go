package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/purpose-labs/coach-gateway/internal/db"
	"github.com/purpose-labs/coach-gateway/internal/models"
)

// Store is the durable surface the ledger writes turns through.
type Store interface {
	GetMaxTurnIndex(ctx context.Context, uid, episodeID string) (int, error)
	InsertMessage(ctx context.Context, msg *models.Message) error
	ListRecentMessages(ctx context.Context, uid, episodeID string, limit int) ([]models.Message, error)
	GetDailyTurnCount(ctx context.Context, uid string, t time.Time) (int, error)
}

// Ledger owns the monotonic turn-index sequence within an episode and
// the daily usage counter advanced by its writes.
type Ledger struct {
	store Store
}

func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// ResolveEpisode returns the episode id for this turn. A reset, or the
// absence of a client-supplied id, yields a fresh opaque id; episodes
// are only resumed when the client replays the id it was issued.
func ResolveEpisode(episodeID string, reset bool) string {
	if reset || episodeID == "" {
		return uuid.NewString()
	}
	return episodeID
}

// NextTurnIndex is one more than the highest existing index for the
// (uid, episode) pair, 1 for a fresh episode.
func (l *Ledger) NextTurnIndex(ctx context.Context, uid, episodeID string) (int, error) {
	max, err := l.store.GetMaxTurnIndex(ctx, uid, episodeID)
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}

// Append persists one turn at the given index. If a concurrent writer
// took the index first, the unique key surfaces the collision and
// Append re-reads the sequence and retries once, keeping assignment
// linearizable under racing submissions.
func (l *Ledger) Append(ctx context.Context, uid, episodeID string, index int, role models.Role, content string, cost float64) (*models.Message, error) {
	msg := &models.Message{
		UID:       uid,
		EpisodeID: episodeID,
		TurnIndex: index,
		Role:      role,
		Content:   content,
		CharCount: utf8.RuneCountInString(content),
		CostUSD:   cost,
	}

	err := l.store.InsertMessage(ctx, msg)
	if errors.Is(err, db.ErrDuplicateTurn) {
		next, rerr := l.NextTurnIndex(ctx, uid, episodeID)
		if rerr != nil {
			return nil, rerr
		}
		msg.TurnIndex = next
		err = l.store.InsertMessage(ctx, msg)
	}
	if err != nil {
		return nil, fmt.Errorf("append turn: %w", err)
	}

	return msg, nil
}

// RecentTurns returns the most recent limit turns of the episode in
// chronological order, the exact shape handed to the completion
// provider (the caller appends the new user message last).
func (l *Ledger) RecentTurns(ctx context.Context, uid, episodeID string, limit int) ([]models.Message, error) {
	msgs, err := l.store.ListRecentMessages(ctx, uid, episodeID, limit)
	if err != nil {
		return nil, err
	}

	// Store returns newest first; reverse to oldest first.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	return msgs, nil
}

// DailyTurnCount reads the caller's turn count for the UTC day
// containing t. Advisory at check time: the count advances as an
// effect of Append, not here.
func (l *Ledger) DailyTurnCount(ctx context.Context, uid string, t time.Time) (int, error) {
	return l.store.GetDailyTurnCount(ctx, uid, t)
}
