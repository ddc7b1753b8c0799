package history

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	sweepInterval = time.Hour
	sweepTimeout  = 5 * time.Minute
)

// purgeFunc deletes entries older than cutoff and reports how many went.
type purgeFunc func(ctx context.Context, cutoff time.Time) (int64, error)

// sweeper enforces the retention window for stores without native expiry.
// A zero-day window keeps entries forever and never starts a goroutine.
type sweeper struct {
	days  int
	purge purgeFunc
	now   func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newSweeper(days int, purge purgeFunc) *sweeper {
	return &sweeper{
		days:  days,
		purge: purge,
		now:   time.Now,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// cutoff is the oldest timestamp kept at the given instant.
func (s *sweeper) cutoff(at time.Time) time.Time {
	return at.AddDate(0, 0, -s.days)
}

// start sweeps once immediately and then every interval until close.
func (s *sweeper) start(interval time.Duration) {
	if s.days <= 0 {
		close(s.done)
		return
	}
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		s.sweep()
		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-s.stop:
				return
			}
		}
	}()
}

// sweep runs one purge pass.
func (s *sweeper) sweep() {
	if s.days <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	cutoff := s.cutoff(s.now())
	deleted, err := s.purge(ctx, cutoff)
	if err != nil {
		slog.Error("failed to purge expired history entries", "error", err, "retention_days", s.days)
		return
	}
	if deleted > 0 {
		slog.Info("purged expired history entries", "deleted", deleted, "cutoff", cutoff)
	}
}

// close stops the loop and waits for an in-flight sweep to finish.
func (s *sweeper) close() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}
