// Package storage owns the database connections shared by the reference-data
// store and the pricing history log.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// Backend names accepted in Config.Type.
const (
	TypeSQLite     = "sqlite"
	TypePostgreSQL = "postgresql"
	TypeMongoDB    = "mongodb"
)

// Config selects a backend and carries its connection settings.
type Config struct {
	Type       string
	SQLite     SQLiteConfig
	PostgreSQL PostgreSQLConfig
	MongoDB    MongoDBConfig
}

// SQLiteConfig holds SQLite-specific configuration.
type SQLiteConfig struct {
	// Path is the database file path (default: data/claimpricer.db)
	Path string
}

// PostgreSQLConfig holds PostgreSQL-specific configuration.
type PostgreSQLConfig struct {
	URL      string
	MaxConns int
}

// MongoDBConfig holds MongoDB-specific configuration.
type MongoDBConfig struct {
	URL      string
	Database string
}

// Storage is an open connection to one backend. Exactly one of the accessor
// methods returns a non-nil handle, matching Type().
type Storage interface {
	Type() string
	SQLiteDB() *sql.DB
	PostgreSQLPool() *pgxpool.Pool
	MongoDatabase() *mongo.Database

	// Ping reports whether the backend still answers. The health endpoint
	// calls it on every probe.
	Ping(ctx context.Context) error

	Close() error
}

// connectTimeout bounds the initial reachability check.
const connectTimeout = 10 * time.Second

// New opens the backend named by cfg.Type and pings it once before returning.
func New(ctx context.Context, cfg Config) (Storage, error) {
	var (
		st  Storage
		err error
	)
	switch cfg.Type {
	case TypeSQLite:
		st, err = openSQLite(cfg.SQLite)
	case TypePostgreSQL:
		st, err = openPostgreSQL(ctx, cfg.PostgreSQL)
	case TypeMongoDB:
		st, err = openMongoDB(cfg.MongoDB)
	default:
		return nil, fmt.Errorf("unknown storage type %q (valid: sqlite, postgresql, mongodb)", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := st.Ping(pingCtx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("%s unreachable: %w", cfg.Type, err)
	}
	return st, nil
}

// DefaultConfig returns a Config pointing at a local SQLite file.
func DefaultConfig() Config {
	return Config{
		Type: TypeSQLite,
		SQLite: SQLiteConfig{
			Path: "data/claimpricer.db",
		},
		PostgreSQL: PostgreSQLConfig{
			MaxConns: 10,
		},
		MongoDB: MongoDBConfig{
			Database: "claimpricer",
		},
	}
}
