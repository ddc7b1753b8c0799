package history

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Recorder accepts history entries. Implemented by Logger and NoopLogger.
type Recorder interface {
	Write(entry *Entry)
	Config() Config
	Close() error
}

// Logger queues entries and writes them to the store in batches from a single
// goroutine. A batch is written when it reaches Config.BatchSize or when
// Config.FlushInterval passes, whichever comes first.
type Logger struct {
	store  Store
	config Config

	// mu guards closed; Write holds the read side while it enqueues so Close
	// never races a send on queue.
	mu     sync.RWMutex
	closed bool

	queue    chan *Entry
	quit     chan struct{}
	finished chan struct{}
	dropped  atomic.Uint64
}

// NewLogger starts the writer goroutine. Zero config values take defaults.
func NewLogger(store Store, cfg Config) *Logger {
	def := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}

	l := &Logger{
		store:    store,
		config:   cfg,
		queue:    make(chan *Entry, cfg.BufferSize),
		quit:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	go l.run()
	return l
}

// Write enqueues entry without blocking the pricing path. When the queue is
// full, or the logger is closed, the entry is dropped and counted.
func (l *Logger) Write(entry *Entry) {
	if entry == nil {
		return
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}

	select {
	case l.queue <- entry:
	default:
		l.dropped.Add(1)
		entriesDropped.Inc()
		slog.Warn("history queue full, dropping entry",
			"request_id", entry.RequestID,
			"outcome", entry.Outcome,
			"queue_size", l.config.BufferSize,
		)
	}
}

// Dropped reports how many entries were discarded because the queue was full.
func (l *Logger) Dropped() uint64 {
	return l.dropped.Load()
}

func (l *Logger) Config() Config {
	return l.config
}

// Close writes everything still queued, then closes the store. Safe to call
// more than once.
func (l *Logger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	close(l.quit)
	<-l.finished
	return l.store.Close()
}

func (l *Logger) run() {
	defer close(l.finished)

	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]*Entry, 0, l.config.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		l.write(batch)
		batch = make([]*Entry, 0, l.config.BatchSize)
	}

	for {
		select {
		case e := <-l.queue:
			batch = append(batch, e)
			if len(batch) >= l.config.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-l.quit:
			// No Write can enqueue once closed is set.
		drain:
			for {
				select {
				case e := <-l.queue:
					batch = append(batch, e)
					if len(batch) >= l.config.BatchSize {
						flush()
					}
				default:
					break drain
				}
			}
			flush()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := l.store.Flush(ctx); err != nil {
				slog.Error("history store flush failed", "error", err)
			}
			cancel()
			return
		}
	}
}

func (l *Logger) write(batch []*Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := l.store.WriteBatch(ctx, batch); err != nil {
		batchWriteErrors.Inc()
		slog.Error("history batch write failed", "error", err, "entries", len(batch))
		return
	}
	entriesWritten.Add(float64(len(batch)))
}

// NoopLogger discards entries; used when history is disabled.
type NoopLogger struct{}

func (NoopLogger) Write(*Entry)   {}
func (NoopLogger) Config() Config { return Config{} }
func (NoopLogger) Close() error   { return nil }
