// Package integration runs the storage backends, the history recorder and the
// pricing engine against real PostgreSQL, MongoDB and Redis instances started
// with testcontainers.
//
// Run with: go test -tags=integration ./tests/integration/...
package integration
