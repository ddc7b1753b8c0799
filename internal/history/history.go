// Package history records every priced claim for later review.
// Entries are buffered in memory and written to storage in batches.
package history

import (
	"context"
	"time"

	"github.com/google/uuid"

	"claimpricer/internal/core"
)

// Store defines the interface for history storage backends.
// Implementations must be safe for concurrent use.
type Store interface {
	// WriteBatch writes multiple entries to storage.
	// This is called by the Logger when flushing buffered entries.
	WriteBatch(ctx context.Context, entries []*Entry) error

	// Summary counts entries by outcome since the given time.
	// A zero since counts everything.
	Summary(ctx context.Context, since time.Time) (*Summary, error)

	// Flush forces any pending writes to complete.
	Flush(ctx context.Context) error

	// Close releases resources. The underlying connection is owned by the
	// storage layer and stays open.
	Close() error
}

// Entry is one priced claim.
type Entry struct {
	ID            string            `json:"id" bson:"_id"`
	RequestID     string            `json:"request_id" bson:"request_id"`
	Timestamp     time.Time         `json:"timestamp" bson:"timestamp"`
	ProviderID    string            `json:"provider_id" bson:"provider_id"`
	DateOfService string            `json:"date_of_service" bson:"date_of_service"`
	ContractID    string            `json:"contract_id,omitempty" bson:"contract_id,omitempty"`
	AppliedRuleID string            `json:"applied_rule_id,omitempty" bson:"applied_rule_id,omitempty"`
	Outcome       core.Outcome      `json:"outcome" bson:"outcome"`
	Status        core.Status       `json:"status" bson:"status"`
	AllowedAmount string            `json:"allowed_amount" bson:"allowed_amount"`
	DurationMicro int64             `json:"duration_us" bson:"duration_us"`
	Claim         map[string]string `json:"claim" bson:"claim"`
	Trace         []core.Step       `json:"trace" bson:"trace"`
}

// NewEntry builds the history record for one engine result.
func NewEntry(ctx context.Context, claim core.Claim, result *core.PriceResult, elapsed time.Duration) *Entry {
	e := &Entry{
		ID:            uuid.NewString(),
		RequestID:     core.GetRequestID(ctx),
		Timestamp:     time.Now().UTC(),
		ProviderID:    claim[core.AttrProviderID],
		DateOfService: claim[core.AttrDateOfService],
		ContractID:    result.ContractID,
		Outcome:       result.Outcome,
		Status:        result.Status,
		AllowedAmount: result.AllowedAmount.StringFixed(2),
		DurationMicro: elapsed.Microseconds(),
		Claim:         make(map[string]string, len(claim)),
		Trace:         result.Trace,
	}
	if result.AppliedRuleID != nil {
		e.AppliedRuleID = *result.AppliedRuleID
	}
	for k, v := range claim {
		e.Claim[k] = v
	}
	return e
}

// Summary counts recorded claims.
type Summary struct {
	Total     int                  `json:"total"`
	ByOutcome map[core.Outcome]int `json:"by_outcome"`
}

func newSummary() *Summary {
	return &Summary{ByOutcome: make(map[core.Outcome]int)}
}

func (s *Summary) add(outcome core.Outcome, n int) {
	s.ByOutcome[outcome] += n
	s.Total += n
}

// Config holds history configuration.
type Config struct {
	// Enabled controls whether history is recorded
	Enabled bool

	// BufferSize is how many entries may wait in the queue before new ones
	// are dropped
	BufferSize int

	// BatchSize is how many entries are written per store call
	BatchSize int

	// FlushInterval bounds how long an entry waits before it is written
	FlushInterval time.Duration

	// RetentionDays is how long to keep entries (0 = forever)
	RetentionDays int
}

// DefaultConfig returns the defaults NewLogger falls back to.
func DefaultConfig() Config {
	return Config{
		BufferSize:    1000,
		BatchSize:     100,
		FlushInterval: 5 * time.Second,
		RetentionDays: 30,
	}
}
