package chat

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/purpose-labs/coach-gateway/internal/auth"
	"github.com/purpose-labs/coach-gateway/internal/flags"
	"github.com/purpose-labs/coach-gateway/internal/insight"
	"github.com/purpose-labs/coach-gateway/internal/ledger"
	"github.com/purpose-labs/coach-gateway/internal/llm"
	"github.com/purpose-labs/coach-gateway/internal/models"
	"github.com/purpose-labs/coach-gateway/internal/prompt"
	"github.com/purpose-labs/coach-gateway/internal/ratelimit"
	"github.com/purpose-labs/coach-gateway/internal/spend"
)

// TurnRequest is one chat turn submission. EpisodeID must be replayed
// verbatim from a prior response for continuity; reset (or omission)
// yields a fresh episode.
type TurnRequest struct {
	Message     string          `json:"message"`
	EpisodeID   string          `json:"episodeId,omitempty"`
	Reset       bool            `json:"reset,omitempty"`
	Personality string          `json:"personality,omitempty"`
	Profile     *prompt.Profile `json:"profile,omitempty"`
}

type TurnResponse struct {
	Reply     string `json:"reply"`
	EpisodeID string `json:"episodeId"`
	MessageID string `json:"messageId"`
}

// Options are the orchestrator's admission and context knobs.
type Options struct {
	MaxInputChars  int
	ContextTurns   int
	MaxTokens      int
	CostPerMessage float64
	TierQuotas     map[models.Tier]int
}

// Handler sequences a chat turn: kill switch, rate limit, spend cap,
// length, daily quota, turn assignment, context build, model call,
// persistence, side-effect dispatch.
type Handler struct {
	ledger   *ledger.Ledger
	limiter  *ratelimit.Limiter
	governor *spend.Governor
	kill     *flags.KillSwitch
	llm      llm.Client
	insights *insight.Dispatcher
	opts     Options
	logger   *zap.Logger
}

func NewHandler(
	led *ledger.Ledger,
	limiter *ratelimit.Limiter,
	governor *spend.Governor,
	kill *flags.KillSwitch,
	client llm.Client,
	insights *insight.Dispatcher,
	opts Options,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		ledger:   led,
		limiter:  limiter,
		governor: governor,
		kill:     kill,
		llm:      client,
		insights: insights,
		opts:     opts,
		logger:   logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	claims, ok := auth.GetPrincipalFromContext(ctx)
	if !ok || claims.UserID == "" {
		http.Error(w, "No user identifier", http.StatusUnauthorized)
		return
	}

	if h.kill.Engaged(ctx) {
		http.Error(w, "Chat is temporarily disabled", http.StatusServiceUnavailable)
		return
	}

	allowed, remaining := h.limiter.Allow(clientIP(r))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !allowed {
		http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	if res := h.governor.Check(ctx); !res.Allowed {
		h.logger.Warn("spending cap breached",
			zap.Float64("spent_month", res.SpentMonth),
			zap.Float64("spent_day", res.SpentDay))
		http.Error(w, "Service capacity reached", http.StatusServiceUnavailable)
		return
	}

	var req TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	}
	if utf8.RuneCountInString(req.Message) > h.opts.MaxInputChars {
		http.Error(w, "Message too long", http.StatusBadRequest)
		return
	}

	count, err := h.ledger.DailyTurnCount(ctx, claims.UserID, time.Now().UTC())
	if err != nil {
		h.logger.Error("daily turn count read failed", zap.Error(err))
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	if count >= h.quotaFor(claims.Tier) {
		http.Error(w, "Daily quota exceeded", http.StatusTooManyRequests)
		return
	}

	episodeID := ledger.ResolveEpisode(req.EpisodeID, req.Reset)

	// Context is read before the user turn is written so the new
	// message appears exactly once, appended last.
	history, err := h.ledger.RecentTurns(ctx, claims.UserID, episodeID, h.opts.ContextTurns)
	if err != nil {
		h.logger.Error("context fetch failed", zap.Error(err))
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	nextIndex, err := h.ledger.NextTurnIndex(ctx, claims.UserID, episodeID)
	if err != nil {
		h.logger.Error("turn index read failed", zap.Error(err))
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	userMsg, err := h.ledger.Append(ctx, claims.UserID, episodeID, nextIndex, models.RoleUser, req.Message, 0)
	if err != nil {
		h.logger.Error("user turn persist failed", zap.Error(err))
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	messages := make([]llm.Turn, 0, len(history)+1)
	for _, m := range history {
		messages = append(messages, llm.Turn{Role: string(m.Role), Content: m.Content})
	}
	messages = append(messages, llm.Turn{Role: string(models.RoleUser), Content: req.Message})

	system := prompt.BuildSystemPrompt(req.Profile, req.Personality)

	reply, err := h.llm.Complete(ctx, system, messages, h.opts.MaxTokens)
	if err != nil {
		// The user turn is already persisted; accepted terminal state,
		// the client recovers by resending.
		h.logger.Error("completion failed",
			zap.String("episode_id", episodeID), zap.Error(err))
		http.Error(w, "Completion failed", http.StatusInternalServerError)
		return
	}

	assistantMsg, err := h.ledger.Append(ctx, claims.UserID, episodeID,
		userMsg.TurnIndex+1, models.RoleAssistant, reply, h.opts.CostPerMessage)
	if err != nil {
		h.logger.Error("assistant turn persist failed", zap.Error(err))
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	h.insights.MaybeDispatch(claims.UserID, episodeID, assistantMsg.TurnIndex)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(TurnResponse{
		Reply:     reply,
		EpisodeID: episodeID,
		MessageID: assistantMsg.ID,
	})
}

func (h *Handler) quotaFor(tier models.Tier) int {
	if q, ok := h.opts.TierQuotas[tier]; ok {
		return q
	}
	return h.opts.TierQuotas[models.TierAuthenticated]
}

// clientIP prefers the first X-Forwarded-For hop (the service runs
// behind an edge proxy), falling back to the connection address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
