// Package testing allows for spinning up a real bbolt database for unit
// tests throughout the coordinator packages.
package testing

import (
	"context"
	"testing"

	"github.com/enclavecode/swarm/coordinator/db"
	"github.com/enclavecode/swarm/coordinator/db/kv"
)

// SetupDB instantiates and returns a database backed by a temporary
// directory, closed and removed when the test finishes.
func SetupDB(t testing.TB) db.Database {
	s, err := kv.NewKVStore(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("failed to instantiate database: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Fatalf("failed to close database: %v", err)
		}
	})
	return s
}
