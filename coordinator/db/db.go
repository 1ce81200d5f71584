// Package db defines the ability to create a new database for the ceremony
// coordinator.
package db

import (
	"context"

	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/db/iface"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/db/kv"
)

// Database defines the necessary methods that the ceremony coordinator needs
// for persistence.
type Database = iface.Database

// ReadOnlyDatabase exposes the read-only methods of Database.
type ReadOnlyDatabase = iface.ReadOnlyDatabase

// Tx is a transaction-scoped view of the database.
type Tx = iface.Tx

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = iface.ErrNotFound

// NewDB initializes a new database at the directory path specified.
func NewDB(ctx context.Context, dirPath string) (Database, error) {
	return kv.NewKVStore(ctx, dirPath)
}
