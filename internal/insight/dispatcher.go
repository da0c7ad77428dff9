package insight

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/purpose-labs/coach-gateway/internal/models"
)

const transcriptWindow = 10

// Analyzer is the downstream analysis job, invoked over the network.
type Analyzer interface {
	Analyze(ctx context.Context, uid, episodeID string, turns []models.Message) error
}

// TranscriptReader is the ledger's read path the dispatcher fetches the
// recent transcript through.
type TranscriptReader interface {
	RecentTurns(ctx context.Context, uid, episodeID string, limit int) ([]models.Message, error)
}

// Dispatcher triggers the analysis job at a turn-count cadence. The
// invocation is fire-and-forget: detached from the request's
// cancellation scope, never awaited, failures logged and swallowed.
type Dispatcher struct {
	reader   TranscriptReader
	analyzer Analyzer
	cadence  int
	timeout  time.Duration
	logger   *zap.Logger
}

func NewDispatcher(reader TranscriptReader, analyzer Analyzer, cadence int, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		reader:   reader,
		analyzer: analyzer,
		cadence:  cadence,
		timeout:  30 * time.Second,
		logger:   logger,
	}
}

// MaybeDispatch schedules the analysis job when the assistant turn
// index lands on the cadence. Reports whether a job was scheduled.
func (d *Dispatcher) MaybeDispatch(uid, episodeID string, assistantIndex int) bool {
	if d.cadence <= 0 || assistantIndex%d.cadence != 0 {
		return false
	}

	go d.run(uid, episodeID)
	return true
}

func (d *Dispatcher) run(uid, episodeID string) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	turns, err := d.reader.RecentTurns(ctx, uid, episodeID, transcriptWindow)
	if err != nil {
		d.logger.Warn("insight transcript fetch failed",
			zap.String("episode_id", episodeID), zap.Error(err))
		return
	}

	if err := d.analyzer.Analyze(ctx, uid, episodeID, turns); err != nil {
		d.logger.Warn("insight analysis failed",
			zap.String("episode_id", episodeID), zap.Error(err))
	}
}
