// Package testing allows for spinning up a real bolt-db instance for testing
// purposes in the coordinator packages.
package testing

import (
	"context"
	"testing"

	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/db"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/db/kv"
	"github.com/stretchr/testify/require"
)

// SetupDB instantiates and returns a database backed by a temporary
// directory, closed automatically when the test finishes.
func SetupDB(t testing.TB) db.Database {
	s, err := kv.NewKVStore(context.Background(), t.TempDir())
	require.NoError(t, err, "Failed to instantiate DB")
	t.Cleanup(func() {
		require.NoError(t, s.Close(), "Failed to close database")
	})
	return s
}
