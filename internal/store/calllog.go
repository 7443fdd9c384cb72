package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/speaklink/internal/domain"
	"github.com/ashureev/speaklink/internal/metrics"
	"github.com/ashureev/speaklink/internal/shared"
)

const (
	callLogWriteTimeout = 5 * time.Second
	callLogMaxRetries   = 3
	callLogBaseDelay    = 50 * time.Millisecond
)

// CallLogWriter persists call records on a background goroutine so the
// signaling path never waits on the database.
type CallLogWriter struct {
	repo    Repository
	metrics *metrics.Metrics
	queue   chan domain.CallRecord
	done    chan struct{}
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
}

// NewCallLogWriter starts a writer with a queue of queueSize records.
func NewCallLogWriter(repo Repository, queueSize int, m *metrics.Metrics) *CallLogWriter {
	if queueSize <= 0 {
		queueSize = 256
	}
	w := &CallLogWriter{
		repo:    repo,
		metrics: m,
		queue:   make(chan domain.CallRecord, queueSize),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

// LogCall enqueues record. A full queue drops the record with a warning.
func (w *CallLogWriter) LogCall(record domain.CallRecord) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.metrics.CallRecordWritten("dropped")
		slog.Warn("Call log closed, dropping record", "caller_id", record.CallerID, "callee_id", record.CalleeID)
		return
	}

	select {
	case w.queue <- record:
	default:
		w.metrics.CallRecordWritten("dropped")
		slog.Warn("Call log queue full, dropping record",
			"caller_id", record.CallerID,
			"callee_id", record.CalleeID,
			"queue_len", len(w.queue))
	}
}

// Close drains pending records and stops the writer.
func (w *CallLogWriter) Close() {
	w.once.Do(func() {
		w.mu.Lock()
		w.closed = true
		close(w.queue)
		w.mu.Unlock()
		<-w.done
	})
}

func (w *CallLogWriter) run() {
	defer close(w.done)
	for record := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), callLogWriteTimeout)
		err := insertWithRetry(ctx, w.repo, record)
		cancel()
		if err != nil {
			w.metrics.CallRecordWritten("error")
			slog.Error("Failed to log call",
				"caller_id", record.CallerID,
				"callee_id", record.CalleeID,
				"error", err)
			continue
		}
		w.metrics.CallRecordWritten("ok")
		slog.Info("Call logged", "caller_id", record.CallerID, "callee_id", record.CalleeID)
	}
}

// insertWithRetry retries SQLITE_BUSY and locked errors with exponential backoff.
func insertWithRetry(ctx context.Context, repo Repository, record domain.CallRecord) error {
	var err error
	for i := 0; i < callLogMaxRetries; i++ {
		err = repo.InsertCallRecord(ctx, record)
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == callLogMaxRetries-1 {
			break
		}

		delay := callLogBaseDelay * time.Duration(1<<i) // 50ms, 100ms
		slog.Debug("Call log insert hit a locked database, retrying",
			"caller_id", record.CallerID,
			"attempt", i+1,
			"delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("insert call record: %w", ctx.Err())
		}
	}
	return fmt.Errorf("insert call record after retries: %w", err)
}
