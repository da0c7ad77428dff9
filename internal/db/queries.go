package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/purpose-labs/coach-gateway/internal/models"
)

// ErrDuplicateTurn reports a collision on the (uid, episode_id,
// turn_index) unique key. The ledger re-reads the index and retries.
var ErrDuplicateTurn = errors.New("duplicate turn index")

const uniqueViolation = "23505"

// GetDailyTurnCount returns the number of user turns the caller has
// started in the UTC day containing t.
func (db *DB) GetDailyTurnCount(ctx context.Context, uid string, t time.Time) (int, error) {
	dayStart := t.UTC().Truncate(24 * time.Hour)

	query := `
        SELECT COUNT(*)
        FROM messages
        WHERE uid = $1 AND role = 'user' AND created_at >= $2 AND created_at < $3
    `

	var count int
	err := db.Pool.QueryRow(ctx, query, uid, dayStart, dayStart.Add(24*time.Hour)).Scan(&count)
	if err != nil {
		return 0, err
	}

	return count, nil
}

// GetMaxTurnIndex returns the highest turn index for the (uid, episode)
// pair, or 0 if the episode has no messages yet.
func (db *DB) GetMaxTurnIndex(ctx context.Context, uid, episodeID string) (int, error) {
	query := `
        SELECT COALESCE(MAX(turn_index), 0)
        FROM messages
        WHERE uid = $1 AND episode_id = $2
    `

	var max int
	err := db.Pool.QueryRow(ctx, query, uid, episodeID).Scan(&max)
	if err != nil {
		return 0, err
	}

	return max, nil
}

func (db *DB) InsertMessage(ctx context.Context, msg *models.Message) error {
	query := `
        INSERT INTO messages (uid, episode_id, turn_index, role, content, char_count, cost_usd)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING id, created_at
    `

	err := db.Pool.QueryRow(ctx, query,
		msg.UID,
		msg.EpisodeID,
		msg.TurnIndex,
		msg.Role,
		msg.Content,
		msg.CharCount,
		msg.CostUSD,
	).Scan(&msg.ID, &msg.CreatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateTurn
	}

	return err
}

// ListRecentMessages returns the most recent limit messages of the
// episode, newest first.
func (db *DB) ListRecentMessages(ctx context.Context, uid, episodeID string, limit int) ([]models.Message, error) {
	query := `
        SELECT id, uid, episode_id, turn_index, role, content, char_count, cost_usd, created_at
        FROM messages
        WHERE uid = $1 AND episode_id = $2
        ORDER BY turn_index DESC
        LIMIT $3
    `

	rows, err := db.Pool.Query(ctx, query, uid, episodeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(
			&m.ID,
			&m.UID,
			&m.EpisodeID,
			&m.TurnIndex,
			&m.Role,
			&m.Content,
			&m.CharCount,
			&m.CostUSD,
			&m.CreatedAt,
		); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

// GetMonthlySpend returns total dollars spent since the start of the
// current calendar month (UTC).
func (db *DB) GetMonthlySpend(ctx context.Context) (float64, error) {
	now := time.Now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	return db.spendSince(ctx, monthStart)
}

// GetDailySpend returns total dollars spent since the start of the
// current UTC day.
func (db *DB) GetDailySpend(ctx context.Context) (float64, error) {
	return db.spendSince(ctx, time.Now().UTC().Truncate(24*time.Hour))
}

func (db *DB) spendSince(ctx context.Context, since time.Time) (float64, error) {
	query := `
        SELECT COALESCE(SUM(cost_usd), 0)
        FROM messages
        WHERE created_at >= $1
    `

	var total float64
	err := db.Pool.QueryRow(ctx, query, since).Scan(&total)
	if err != nil {
		return 0, err
	}

	return total, nil
}

func (db *DB) InsertMemory(ctx context.Context, m *models.Memory) error {
	query := `
        INSERT INTO memories (uid, episode_id, title, insight, type)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id, created_at
    `

	return db.Pool.QueryRow(ctx, query,
		m.UID,
		m.EpisodeID,
		m.Title,
		m.Insight,
		m.Type,
	).Scan(&m.ID, &m.CreatedAt)
}

// GetUsageStats returns per-day turn volume and spend between from and
// to (inclusive, YYYY-MM-DD).
func (db *DB) GetUsageStats(ctx context.Context, from, to string) ([]models.UsageStat, error) {
	query := `
        SELECT to_char(created_at::date, 'YYYY-MM-DD') AS day,
               COUNT(*) FILTER (WHERE role = 'user') AS turns,
               COALESCE(SUM(cost_usd), 0) AS cost_usd
        FROM messages
        WHERE ($1 = '' OR created_at >= $1::date)
          AND ($2 = '' OR created_at < $2::date + 1)
        GROUP BY created_at::date
        ORDER BY day
    `

	rows, err := db.Pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []models.UsageStat
	for rows.Next() {
		var s models.UsageStat
		if err := rows.Scan(&s.Day, &s.Turns, &s.CostUSD); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}

	return stats, rows.Err()
}
