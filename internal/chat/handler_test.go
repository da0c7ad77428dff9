package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/purpose-labs/coach-gateway/internal/auth"
	"github.com/purpose-labs/coach-gateway/internal/db"
	"github.com/purpose-labs/coach-gateway/internal/flags"
	"github.com/purpose-labs/coach-gateway/internal/insight"
	"github.com/purpose-labs/coach-gateway/internal/ledger"
	"github.com/purpose-labs/coach-gateway/internal/llm"
	"github.com/purpose-labs/coach-gateway/internal/models"
	"github.com/purpose-labs/coach-gateway/internal/prompt"
	"github.com/purpose-labs/coach-gateway/internal/ratelimit"
	"github.com/purpose-labs/coach-gateway/internal/spend"
)

type fakeStore struct {
	mu     sync.Mutex
	msgs   []models.Message
	nextID int
}

func (s *fakeStore) GetMaxTurnIndex(ctx context.Context, uid, episodeID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	max := 0
	for _, m := range s.msgs {
		if m.UID == uid && m.EpisodeID == episodeID && m.TurnIndex > max {
			max = m.TurnIndex
		}
	}
	return max, nil
}

func (s *fakeStore) InsertMessage(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.msgs {
		if m.UID == msg.UID && m.EpisodeID == msg.EpisodeID && m.TurnIndex == msg.TurnIndex {
			return db.ErrDuplicateTurn
		}
	}

	s.nextID++
	msg.ID = fmt.Sprintf("msg-%d", s.nextID)
	msg.CreatedAt = time.Now().UTC()
	s.msgs = append(s.msgs, *msg)
	return nil
}

func (s *fakeStore) ListRecentMessages(ctx context.Context, uid, episodeID string, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Message
	for _, m := range s.msgs {
		if m.UID == uid && m.EpisodeID == episodeID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TurnIndex > out[j].TurnIndex })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) GetDailyTurnCount(ctx context.Context, uid string, t time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, m := range s.msgs {
		if m.UID == uid && m.Role == models.RoleUser {
			count++
		}
	}
	return count, nil
}

func (s *fakeStore) messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

type fakeLLM struct {
	reply string
	err   error

	mu          sync.Mutex
	gotSystem   string
	gotMessages []llm.Turn
}

func (f *fakeLLM) Complete(ctx context.Context, system string, messages []llm.Turn, maxTokens int) (string, error) {
	f.mu.Lock()
	f.gotSystem = system
	f.gotMessages = messages
	f.mu.Unlock()
	return f.reply, f.err
}

type fakeAnalyzer struct {
	called chan struct{}
	once   sync.Once
	err    error
}

func (a *fakeAnalyzer) Analyze(ctx context.Context, uid, episodeID string, turns []models.Message) error {
	a.once.Do(func() { close(a.called) })
	return a.err
}

type fakeAggregates struct {
	month float64
	day   float64
	err   error
}

func (f *fakeAggregates) GetMonthlySpend(ctx context.Context) (float64, error) {
	return f.month, f.err
}

func (f *fakeAggregates) GetDailySpend(ctx context.Context) (float64, error) {
	return f.day, f.err
}

type testEnv struct {
	handler  *Handler
	store    *fakeStore
	llm      *fakeLLM
	analyzer *fakeAnalyzer
}

type envOptions struct {
	rateLimitMax int
	chatDisabled bool
	spentMonth   float64
	quota        int
}

func newTestEnv(t *testing.T, o envOptions) *testEnv {
	t.Helper()

	if o.rateLimitMax == 0 {
		o.rateLimitMax = 100
	}
	if o.quota == 0 {
		o.quota = 500
	}

	store := &fakeStore{}
	client := &fakeLLM{reply: "coach reply"}
	analyzer := &fakeAnalyzer{called: make(chan struct{})}

	led := ledger.New(store)
	limiter := ratelimit.New(o.rateLimitMax, time.Minute, time.Hour)
	t.Cleanup(limiter.Close)

	governor := spend.NewGovernor(&fakeAggregates{month: o.spentMonth}, nil, 2, 50, zap.NewNop())
	kill := flags.NewKillSwitch(nil, o.chatDisabled, zap.NewNop())
	insights := insight.NewDispatcher(led, analyzer, 5, zap.NewNop())

	handler := NewHandler(led, limiter, governor, kill, client, insights, Options{
		MaxInputChars:  2000,
		ContextTurns:   20,
		MaxTokens:      1000,
		CostPerMessage: 0.003,
		TierQuotas: map[models.Tier]int{
			models.TierAuthenticated: o.quota,
			models.TierAnonymous:     100,
		},
	}, zap.NewNop())

	return &testEnv{handler: handler, store: store, llm: client, analyzer: analyzer}
}

func (e *testEnv) submit(t *testing.T, body TurnRequest) *httptest.ResponseRecorder {
	t.Helper()

	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(raw))
	ctx := context.WithValue(req.Context(), auth.PrincipalContextKey, &auth.Claims{
		UserID: "u1",
		Tier:   models.TierAuthenticated,
	})

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req.WithContext(ctx))
	return rec
}

func (e *testEnv) seed(t *testing.T, episodeID string, n int) {
	t.Helper()

	for i := 1; i <= n; i++ {
		role := models.RoleUser
		if i%2 == 0 {
			role = models.RoleAssistant
		}
		err := e.store.InsertMessage(context.Background(), &models.Message{
			UID: "u1", EpisodeID: episodeID, TurnIndex: i, Role: role, Content: fmt.Sprintf("turn %d", i),
		})
		require.NoError(t, err)
	}
}

func TestFirstTurnCreatesEpisode(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rec := env.submit(t, TurnRequest{Message: "hello"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp TurnResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "coach reply", resp.Reply)
	assert.NotEmpty(t, resp.EpisodeID)
	assert.NotEmpty(t, resp.MessageID)

	msgs := env.store.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, 1, msgs[0].TurnIndex)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, 2, msgs[1].TurnIndex)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)
	assert.Equal(t, resp.EpisodeID, msgs[0].EpisodeID)
}

func TestResetIssuesFreshEpisode(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.seed(t, "ep-old", 2)

	rec := env.submit(t, TurnRequest{Message: "start over", EpisodeID: "ep-old", Reset: true})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp TurnResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEqual(t, "ep-old", resp.EpisodeID)
}

func TestContextAppendsNewMessageLast(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.seed(t, "ep1", 2)

	rec := env.submit(t, TurnRequest{Message: "and then?", EpisodeID: "ep1"})
	require.Equal(t, http.StatusOK, rec.Code)

	got := env.llm.gotMessages
	require.Len(t, got, 3)
	assert.Equal(t, "turn 1", got[0].Content)
	assert.Equal(t, "turn 2", got[1].Content)
	assert.Equal(t, llm.Turn{Role: "user", Content: "and then?"}, got[2])
}

func TestMessageTooLong(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rec := env.submit(t, TurnRequest{Message: strings.Repeat("a", 2001)})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, env.store.messages())
}

func TestDailyQuotaExceeded(t *testing.T) {
	env := newTestEnv(t, envOptions{quota: 2})
	env.seed(t, "ep1", 4) // two user turns, ceiling reached

	rec := env.submit(t, TurnRequest{Message: "one more", EpisodeID: "ep1"})

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Len(t, env.store.messages(), 4)
}

func TestRateLimitExceeded(t *testing.T) {
	env := newTestEnv(t, envOptions{rateLimitMax: 1})

	rec := env.submit(t, TurnRequest{Message: "first"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.submit(t, TurnRequest{Message: "second"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestRateLimitRemainingHeader(t *testing.T) {
	env := newTestEnv(t, envOptions{rateLimitMax: 5})

	rec := env.submit(t, TurnRequest{Message: "first"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "4", rec.Header().Get("X-RateLimit-Remaining"))

	rec = env.submit(t, TurnRequest{Message: "second"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "3", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestKillSwitchEngaged(t *testing.T) {
	env := newTestEnv(t, envOptions{chatDisabled: true})

	rec := env.submit(t, TurnRequest{Message: "hello"})

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, env.store.messages())
}

func TestSpendCapBreached(t *testing.T) {
	env := newTestEnv(t, envOptions{spentMonth: 50})

	rec := env.submit(t, TurnRequest{Message: "hello"})

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, env.store.messages())
}

func TestUnauthenticated(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"hi"}`))
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCompletionFailureLeavesUserTurn(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.llm.err = errors.New("provider timeout")
	env.llm.reply = ""

	rec := env.submit(t, TurnRequest{Message: "hello"})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	// Partial persistence is the accepted terminal state: the user
	// turn is written, the assistant turn is not.
	msgs := env.store.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
}

func TestInsightDispatchOnCadence(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.seed(t, "ep1", 3) // next exchange lands the assistant turn on index 5

	rec := env.submit(t, TurnRequest{Message: "tell me more", EpisodeID: "ep1"})
	require.Equal(t, http.StatusOK, rec.Code)

	select {
	case <-env.analyzer.called:
	case <-time.After(time.Second):
		t.Fatal("insight job was not dispatched on cadence")
	}
}

func TestInsightNotDispatchedOffCadence(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rec := env.submit(t, TurnRequest{Message: "hello"}) // assistant index 2
	require.Equal(t, http.StatusOK, rec.Code)

	select {
	case <-env.analyzer.called:
		t.Fatal("insight job dispatched off cadence")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestInsightFailureDoesNotAffectResponse(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.analyzer.err = errors.New("analysis down")
	env.seed(t, "ep1", 3)

	rec := env.submit(t, TurnRequest{Message: "tell me more", EpisodeID: "ep1"})

	assert.Equal(t, http.StatusOK, rec.Code)
	<-env.analyzer.called
}

func TestSystemPromptCarriesProfile(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rec := env.submit(t, TurnRequest{
		Message:     "hello",
		Personality: prompt.StyleMotivational,
		Profile: &prompt.Profile{
			Personality: prompt.StyleMotivational,
			Goals:       "ship the side project",
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	assert.True(t, strings.HasPrefix(env.llm.gotSystem, "You are a high-energy, motivational AI coach."))
	assert.Contains(t, env.llm.gotSystem, "Goals: ship the side project")
}
