package interaction

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kadirpekel/voxgate/pkg/observability"
)

const (
	DefaultBuffer = 1024
	maxBatch      = 128
)

// Logger buffers records and writes them to a Sink from one background
// goroutine. Record never blocks: when the buffer is full the record is
// dropped and counted.
type Logger struct {
	sink    Sink
	ch      chan Record
	metrics *observability.Metrics
	logger  *slog.Logger

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
	done    chan struct{}
}

type Option func(*Logger)

func WithMetrics(m *observability.Metrics) Option {
	return func(l *Logger) {
		l.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Logger) {
		l.logger = logger
	}
}

// New starts the background writer.
func New(sink Sink, buffer int, opts ...Option) *Logger {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	l := &Logger{
		sink: sink,
		ch:   make(chan Record, buffer),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	go l.run()
	return l
}

// Record enqueues r. It reports false if r was dropped.
func (l *Logger) Record(r Record) bool {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	r.Timestamp = r.Timestamp.UTC()

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return false
	}
	select {
	case l.ch <- r:
		return true
	default:
		l.dropped.Add(1)
		l.metrics.RecordInteractionDropped(context.Background())
		return false
	}
}

// Dropped returns how many records were discarded.
func (l *Logger) Dropped() int64 {
	return l.dropped.Load()
}

func (l *Logger) run() {
	defer close(l.done)

	batch := make([]Record, 0, maxBatch)
	for r := range l.ch {
		batch = append(batch[:0], r)
	drain:
		for len(batch) < maxBatch {
			select {
			case next, ok := <-l.ch:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}
		l.write(batch)
	}
}

func (l *Logger) write(batch []Record) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.sink.Write(ctx, batch); err != nil {
		l.logger.Error("Failed to write interaction records", "count", len(batch), "error", err)
	}
}

// Recent returns the newest records of tenant.
func (l *Logger) Recent(ctx context.Context, tenant string, limit int) ([]Record, error) {
	return l.sink.Recent(ctx, tenant, limit)
}

// Summary aggregates tenant's records.
func (l *Logger) Summary(ctx context.Context, tenant string) (*Summary, error) {
	return l.sink.Summary(ctx, tenant)
}

// Prune removes records older than before.
func (l *Logger) Prune(ctx context.Context, before time.Time) (int64, error) {
	return l.sink.Prune(ctx, before.UTC())
}

// RunRetention prunes records older than retention every interval.
func (l *Logger) RunRetention(ctx context.Context, interval, retention time.Duration) {
	if interval <= 0 || retention <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := l.Prune(ctx, time.Now().Add(-retention))
			if err != nil {
				l.logger.Error("Interaction retention failed", "error", err)
				continue
			}
			l.logger.Debug("Interaction retention finished", "pruned", n)
		}
	}
}

// Close flushes buffered records and closes the sink. Records arriving
// after Close are dropped.
func (l *Logger) Close(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.ch)
	l.mu.Unlock()

	select {
	case <-l.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return l.sink.Close()
}
