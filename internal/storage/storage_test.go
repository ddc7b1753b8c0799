package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestSQLite(t *testing.T, path string) Storage {
	t.Helper()
	st, err := New(context.Background(), Config{Type: TypeSQLite, SQLite: SQLiteConfig{Path: path}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"unknown type", Config{Type: "oracle"}, `unknown storage type "oracle"`},
		{"postgresql without url", Config{Type: TypePostgreSQL}, "postgresql url is required"},
		{"mongodb without url", Config{Type: TypeMongoDB}, "mongodb url is required"},
		{"bad postgresql url", Config{Type: TypePostgreSQL, PostgreSQL: PostgreSQLConfig{URL: "postgres://%zz"}}, "parse postgresql url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(context.Background(), tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSQLite_OpensNestedPathInWALMode(t *testing.T) {
	st := openTestSQLite(t, filepath.Join(t.TempDir(), "nested", "pricer.db"))

	assert.Equal(t, TypeSQLite, st.Type())
	assert.Nil(t, st.PostgreSQLPool())
	assert.Nil(t, st.MongoDatabase())
	require.NoError(t, st.Ping(context.Background()))

	var mode string
	require.NoError(t, st.SQLiteDB().QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var timeout int
	require.NoError(t, st.SQLiteDB().QueryRow("PRAGMA busy_timeout").Scan(&timeout))
	assert.Equal(t, 5000, timeout)
}

func TestSQLite_PingAfterClose(t *testing.T) {
	st, err := New(context.Background(), Config{Type: TypeSQLite, SQLite: SQLiteConfig{Path: filepath.Join(t.TempDir(), "p.db")}})
	require.NoError(t, err)
	require.NoError(t, st.Close())
	assert.Error(t, st.Ping(context.Background()))
}

// Seeding and history flushes write through the same handle concurrently.
func TestSQLite_SharedHandleSerialisesWriters(t *testing.T) {
	db := openTestSQLite(t, filepath.Join(t.TempDir(), "w.db")).SQLiteDB()

	for _, table := range []string{"rules", "history"} {
		_, err := db.Exec(fmt.Sprintf(`CREATE TABLE %s (id TEXT PRIMARY KEY)`, table))
		require.NoError(t, err)
	}

	const writers, rows = 8, 40
	var wg sync.WaitGroup
	errs := make(chan error, writers*rows)
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			table := "rules"
			if w%2 == 1 {
				table = "history"
			}
			for r := range rows {
				if _, err := db.Exec(fmt.Sprintf(`INSERT INTO %s (id) VALUES (?)`, table), fmt.Sprintf("%d-%d", w, r)); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	for _, table := range []string{"rules", "history"} {
		var n int
		require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
		assert.Equal(t, writers/2*rows, n, table)
	}
}
