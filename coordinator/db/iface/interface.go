// Package iface defines the database interface used by the ceremony
// coordinator, also containing useful, scoped interfaces such as a
// ReadOnlyDatabase.
package iface

import (
	"context"

	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/types"
)

// ReadOnlyDatabase defines a struct which only has read access to database
// methods.
type ReadOnlyDatabase interface {
	// Ceremony related methods.
	Ceremony(ctx context.Context, id int64) (*types.Ceremony, error)
	Ceremonies(ctx context.Context) ([]*types.Ceremony, error)
	CeremoniesByState(ctx context.Context, state types.CeremonyState) ([]*types.Ceremony, error)
	// Circuit related methods.
	Circuits(ctx context.Context, ceremonyID int64) ([]*types.Circuit, error)
	Circuit(ctx context.Context, ceremonyID, circuitID int64) (*types.Circuit, error)
	// Participant related methods.
	Participant(ctx context.Context, userID string, ceremonyID int64) (*types.Participant, error)
	Participants(ctx context.Context, ceremonyID int64) ([]*types.Participant, error)
	// Contribution related methods.
	Contribution(ctx context.Context, ceremonyID, circuitID int64, zkeyIndex string) (*types.Contribution, error)
	CircuitContributions(ctx context.Context, ceremonyID, circuitID int64) ([]*types.Contribution, error)
}

// Mutator defines the write operations of the database. All mutators may be
// used directly (each call is its own transaction) or through a Tx obtained
// from WithTransaction.
type Mutator interface {
	SaveCeremony(ctx context.Context, c *types.Ceremony) error
	SaveCircuit(ctx context.Context, c *types.Circuit) error
	SaveParticipant(ctx context.Context, p *types.Participant) error
	SaveContribution(ctx context.Context, c *types.Contribution) error
}

// Tx is the view of the database bound to one transaction. Reads inside a
// transaction see a consistent snapshot; writes are rolled back if the
// enclosing function returns an error.
type Tx interface {
	ReadOnlyDatabase
	Mutator
}

// Database is the full persistence contract consumed by the coordinator.
// Two concurrent transactions mutating the same circuit's waiting queue are
// serialized by the underlying store.
type Database interface {
	ReadOnlyDatabase
	Mutator
	// WithTransaction runs fn within a single writable transaction with
	// serializable semantics. If fn returns an error, all writes are rolled
	// back and the error is returned unchanged.
	WithTransaction(ctx context.Context, fn func(tx Tx) error) error
	DatabasePath() string
	ClearDB() error
	Close() error
}
