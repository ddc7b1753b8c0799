package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"claimpricer/internal/core"
	"claimpricer/internal/refdata"
)

// Stats counts cache lookups.
type Stats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
}

// CachedReader decorates a refdata.Reader. Backend failures are logged and
// the lookup falls through to the wrapped reader.
type CachedReader struct {
	next    refdata.Reader
	backend Backend
	hits    atomic.Uint64
	misses  atomic.Uint64
}

// NewCachedReader wraps next with backend.
func NewCachedReader(next refdata.Reader, backend Backend) *CachedReader {
	return &CachedReader{next: next, backend: backend}
}

// Stats returns hit and miss counts since construction.
func (r *CachedReader) Stats() Stats {
	return Stats{Hits: r.hits.Load(), Misses: r.misses.Load()}
}

func (r *CachedReader) FindActiveContracts(ctx context.Context, orgID string, asOf time.Time) ([]core.Contract, error) {
	return cached(ctx, r, "contracts", []string{orgID, asOf.Format(core.DateLayout)},
		func() ([]core.Contract, error) { return r.next.FindActiveContracts(ctx, orgID, asOf) })
}

func (r *CachedReader) ListApplicableRules(ctx context.Context, contractID string, asOf time.Time) ([]core.PricingRule, error) {
	return cached(ctx, r, "rules", []string{contractID, asOf.Format(core.DateLayout)},
		func() ([]core.PricingRule, error) { return r.next.ListApplicableRules(ctx, contractID, asOf) })
}

func (r *CachedReader) GetConditions(ctx context.Context, ruleID string) ([]core.Condition, error) {
	return cached(ctx, r, "conditions", []string{ruleID},
		func() ([]core.Condition, error) { return r.next.GetConditions(ctx, ruleID) })
}

// rateEntry also records misses so an absent code does not hit the store
// on every claim.
type rateEntry struct {
	Found  bool            `json:"found"`
	Amount decimal.Decimal `json:"amount"`
}

func (r *CachedReader) GetFeeScheduleRate(ctx context.Context, feeScheduleID, code string) (decimal.Decimal, error) {
	entry, err := cached(ctx, r, "rate", []string{feeScheduleID, code}, func() (rateEntry, error) {
		amount, err := r.next.GetFeeScheduleRate(ctx, feeScheduleID, code)
		if errors.Is(err, refdata.ErrNotFound) {
			return rateEntry{}, nil
		}
		if err != nil {
			return rateEntry{}, err
		}
		return rateEntry{Found: true, Amount: amount}, nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	if !entry.Found {
		return decimal.Zero, fmt.Errorf("fee schedule %s code %s: %w", feeScheduleID, code, refdata.ErrNotFound)
	}
	return entry.Amount, nil
}

// cached serves kind/parts from the backend or loads and stores it.
// Errors from load are returned and never cached.
func cached[T any](ctx context.Context, r *CachedReader, kind string, parts []string, load func() (T, error)) (T, error) {
	gen, err := r.backend.Generation(ctx)
	if err != nil {
		slog.Warn("cache generation unavailable", "error", err)
		r.misses.Add(1)
		return load()
	}
	key := Key(kind, gen, parts...)

	if data, ok, err := r.backend.Get(ctx, key); err != nil {
		slog.Warn("cache get failed", "kind", kind, "error", err)
	} else if ok {
		var v T
		if err := json.Unmarshal(data, &v); err == nil {
			r.hits.Add(1)
			return v, nil
		}
		slog.Warn("cache entry unreadable", "kind", kind, "key", key)
	}

	r.misses.Add(1)
	v, err := load()
	if err != nil {
		return v, err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v, nil
	}
	if err := r.backend.Set(ctx, key, data); err != nil {
		slog.Warn("cache set failed", "kind", kind, "error", err)
	}
	return v, nil
}

// CachedStore is a refdata.Store whose reads go through a CachedReader and
// whose writes invalidate the cache.
type CachedStore struct {
	refdata.Store
	reader  *CachedReader
	backend Backend
}

// NewCachedStore wraps store. Closing the CachedStore closes both the store
// and the backend.
func NewCachedStore(store refdata.Store, backend Backend) *CachedStore {
	return &CachedStore{
		Store:   store,
		reader:  NewCachedReader(store, backend),
		backend: backend,
	}
}

// Stats returns the read-side cache statistics.
func (s *CachedStore) Stats() Stats {
	return s.reader.Stats()
}

func (s *CachedStore) FindActiveContracts(ctx context.Context, orgID string, asOf time.Time) ([]core.Contract, error) {
	return s.reader.FindActiveContracts(ctx, orgID, asOf)
}

func (s *CachedStore) ListApplicableRules(ctx context.Context, contractID string, asOf time.Time) ([]core.PricingRule, error) {
	return s.reader.ListApplicableRules(ctx, contractID, asOf)
}

func (s *CachedStore) GetConditions(ctx context.Context, ruleID string) ([]core.Condition, error) {
	return s.reader.GetConditions(ctx, ruleID)
}

func (s *CachedStore) GetFeeScheduleRate(ctx context.Context, feeScheduleID, code string) (decimal.Decimal, error) {
	return s.reader.GetFeeScheduleRate(ctx, feeScheduleID, code)
}

func (s *CachedStore) PutContract(ctx context.Context, c core.Contract) error {
	return s.invalidateAfter(ctx, s.Store.PutContract(ctx, c))
}

func (s *CachedStore) PutFeeSchedule(ctx context.Context, fs core.FeeSchedule) error {
	return s.invalidateAfter(ctx, s.Store.PutFeeSchedule(ctx, fs))
}

func (s *CachedStore) PutFeeScheduleRate(ctx context.Context, rate core.FeeScheduleRate) error {
	return s.invalidateAfter(ctx, s.Store.PutFeeScheduleRate(ctx, rate))
}

func (s *CachedStore) PutRule(ctx context.Context, rule core.PricingRule, conds []core.Condition) error {
	return s.invalidateAfter(ctx, s.Store.PutRule(ctx, rule, conds))
}

func (s *CachedStore) SetScore(ctx context.Context, ruleID string, score int) error {
	return s.invalidateAfter(ctx, s.Store.SetScore(ctx, ruleID, score))
}

func (s *CachedStore) Reset(ctx context.Context) error {
	return s.invalidateAfter(ctx, s.Store.Reset(ctx))
}

// invalidateAfter runs even when the write failed, since a partial write
// may have landed.
func (s *CachedStore) invalidateAfter(ctx context.Context, writeErr error) error {
	if err := s.backend.Invalidate(ctx); err != nil {
		return errors.Join(writeErr, fmt.Errorf("invalidate cache: %w", err))
	}
	return writeErr
}

func (s *CachedStore) Close() error {
	return errors.Join(s.Store.Close(), s.backend.Close())
}
