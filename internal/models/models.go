package models

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Tier is the caller's authentication class. It selects the daily turn
// ceiling; the HTTP surface itself requires a verified credential, but
// older tokens minted with the anonymous tier still resolve a ceiling.
type Tier string

const (
	TierAuthenticated Tier = "authenticated"
	TierAnonymous     Tier = "anonymous"
)

// Message is one persisted turn of an episode. TurnIndex is strictly
// increasing within a (uid, episode) pair; the user turn of an exchange
// is written at index n and the assistant reply at n+1.
type Message struct {
	ID        string    `json:"id"`
	UID       string    `json:"uid"`
	EpisodeID string    `json:"episode_id"`
	TurnIndex int       `json:"turn_index"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CharCount int       `json:"char_count"`
	CostUSD   float64   `json:"cost_usd"`
	CreatedAt time.Time `json:"created_at"`
}

// Memory is a breakthrough moment distilled from a conversation by the
// insight analysis job.
type Memory struct {
	ID        string    `json:"id"`
	UID       string    `json:"uid"`
	EpisodeID string    `json:"episode_id"`
	Title     string    `json:"title"`
	Insight   string    `json:"insight"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

// SpendSnapshot is the aggregate dollar cost for the current calendar
// month and the current UTC day.
type SpendSnapshot struct {
	Month float64 `json:"month"`
	Day   float64 `json:"day"`
}

// UsageStat is one day of turn volume and spend, for the ops surface.
type UsageStat struct {
	Day     string  `json:"day"`
	Turns   int     `json:"turns"`
	CostUSD float64 `json:"cost_usd"`
}
