package history

import (
	"fmt"

	"claimpricer/internal/storage"
)

// Result holds the logger and, when history is enabled, the store backing it.
// Store is nil for a NoopLogger.
type Result struct {
	Logger Recorder
	Store  Store
}

// Close closes the logger, which closes its store.
func (r *Result) Close() error {
	if r.Logger == nil {
		return nil
	}
	if err := r.Logger.Close(); err != nil {
		return fmt.Errorf("history close: %w", err)
	}
	return nil
}

// New creates a history logger on a shared storage connection. The caller
// closes the storage separately. A disabled config, or a nil storage, yields
// a NoopLogger.
func New(cfg Config, store storage.Storage) (*Result, error) {
	if !cfg.Enabled || store == nil {
		return &Result{Logger: &NoopLogger{}}, nil
	}

	hs, err := NewStore(store, cfg.RetentionDays)
	if err != nil {
		return nil, err
	}
	return &Result{
		Logger: NewLogger(hs, cfg),
		Store:  hs,
	}, nil
}

// NewStore creates the Store matching the storage backend.
func NewStore(store storage.Storage, retentionDays int) (Store, error) {
	switch store.Type() {
	case storage.TypeSQLite:
		return NewSQLiteStore(store.SQLiteDB(), retentionDays)
	case storage.TypePostgreSQL:
		return NewPostgreSQLStore(store.PostgreSQLPool(), retentionDays)
	case storage.TypeMongoDB:
		return NewMongoDBStore(store.MongoDatabase(), retentionDays)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", store.Type())
	}
}
