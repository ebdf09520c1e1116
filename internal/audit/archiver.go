package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/trustgate/internal/domain"
)

// Storage is where archived entries physically land (Postgres in production).
type Storage interface {
	// WriteBatch persists a batch of entries in one round trip.
	WriteBatch(ctx context.Context, entries []domain.TrustLogEntry) error
}

// Archiver drains committed audit entries into Storage in batches, off the
// request path. The in-process Log stays authoritative; the archiver is
// write-behind, so storage latency never shows up in send latency.
//
// Shutdown uses the drain pattern: Stop closes the channel and waits for the
// worker to flush what remains, so a clean restart loses nothing.
type Archiver struct {
	ch       chan domain.TrustLogEntry
	repo     Storage
	logger   *zap.Logger
	wg       sync.WaitGroup
	isClosed int32 // guards Log calls racing with Stop

	batchSize     int
	flushInterval time.Duration
}

func NewArchiver(repo Storage, logger *zap.Logger, bufferSize, batchSize int, flushInterval time.Duration) *Archiver {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 500 * time.Millisecond
	}
	return &Archiver{
		ch:            make(chan domain.TrustLogEntry, bufferSize),
		repo:          repo,
		logger:        logger.With(zap.String("mod", "audit-archiver")),
		batchSize:     batchSize,
		flushInterval: flushInterval,
	}
}

func (a *Archiver) Start() {
	a.wg.Add(1)
	go a.worker()
}

// Stop locks the intake and waits for the worker to flush the buffer.
func (a *Archiver) Stop() {
	atomic.StoreInt32(&a.isClosed, 1)

	// Let in-flight Log calls slip through before the channel closes.
	time.Sleep(10 * time.Millisecond)

	a.logger.Info("stopping archiver: draining buffer")
	close(a.ch)
	a.wg.Wait()
	a.logger.Info("archiver stopped")
}

// Log enqueues an entry without blocking. When the buffer is saturated the
// entry is shed with an error log; the authoritative Log already holds it.
func (a *Archiver) Log(entry domain.TrustLogEntry) {
	if atomic.LoadInt32(&a.isClosed) == 1 {
		a.logger.Warn("audit entry skipped: archiver is stopping", zap.Uint64("id", entry.ID))
		return
	}

	select {
	case a.ch <- entry:
	default:
		a.logger.Error("audit_archive_overflow",
			zap.Uint64("id", entry.ID),
			zap.String("source_agent_id", entry.SourceAgentID),
		)
	}
}

func (a *Archiver) worker() {
	defer a.wg.Done()

	batch := make([]domain.TrustLogEntry, 0, a.batchSize)
	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background context: the app context may already be gone on shutdown.
		if err := a.repo.WriteBatch(context.Background(), batch); err != nil {
			a.logger.Error("audit flush failed", zap.Error(err), zap.Int("batch", len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry, ok := <-a.ch:
			if !ok {
				// Channel closed by Stop: everything queued has been read,
				// final flush and exit.
				flush()
				a.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, entry)
			if len(batch) >= a.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
