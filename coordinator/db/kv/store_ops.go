package kv

import (
	"context"

	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/types"
)

// The methods below satisfy the Database interface outside of an explicit
// transaction scope. Each read runs in its own snapshot view, each mutation
// in its own writable transaction.

func (s *Store) Ceremony(ctx context.Context, id int64) (*types.Ceremony, error) {
	var c *types.Ceremony
	err := s.view(func(tx *storeTx) error {
		var err error
		c, err = tx.Ceremony(ctx, id)
		return err
	})
	return c, err
}

func (s *Store) Ceremonies(ctx context.Context) ([]*types.Ceremony, error) {
	var out []*types.Ceremony
	err := s.view(func(tx *storeTx) error {
		var err error
		out, err = tx.Ceremonies(ctx)
		return err
	})
	return out, err
}

func (s *Store) CeremoniesByState(ctx context.Context, state types.CeremonyState) ([]*types.Ceremony, error) {
	var out []*types.Ceremony
	err := s.view(func(tx *storeTx) error {
		var err error
		out, err = tx.CeremoniesByState(ctx, state)
		return err
	})
	return out, err
}

func (s *Store) Circuits(ctx context.Context, ceremonyID int64) ([]*types.Circuit, error) {
	var out []*types.Circuit
	err := s.view(func(tx *storeTx) error {
		var err error
		out, err = tx.Circuits(ctx, ceremonyID)
		return err
	})
	return out, err
}

func (s *Store) Circuit(ctx context.Context, ceremonyID, circuitID int64) (*types.Circuit, error) {
	var c *types.Circuit
	err := s.view(func(tx *storeTx) error {
		var err error
		c, err = tx.Circuit(ctx, ceremonyID, circuitID)
		return err
	})
	return c, err
}

func (s *Store) Participant(ctx context.Context, userID string, ceremonyID int64) (*types.Participant, error) {
	var p *types.Participant
	err := s.view(func(tx *storeTx) error {
		var err error
		p, err = tx.Participant(ctx, userID, ceremonyID)
		return err
	})
	return p, err
}

func (s *Store) Participants(ctx context.Context, ceremonyID int64) ([]*types.Participant, error) {
	var out []*types.Participant
	err := s.view(func(tx *storeTx) error {
		var err error
		out, err = tx.Participants(ctx, ceremonyID)
		return err
	})
	return out, err
}

func (s *Store) Contribution(ctx context.Context, ceremonyID, circuitID int64, zkeyIndex string) (*types.Contribution, error) {
	var c *types.Contribution
	err := s.view(func(tx *storeTx) error {
		var err error
		c, err = tx.Contribution(ctx, ceremonyID, circuitID, zkeyIndex)
		return err
	})
	return c, err
}

func (s *Store) CircuitContributions(ctx context.Context, ceremonyID, circuitID int64) ([]*types.Contribution, error) {
	var out []*types.Contribution
	err := s.view(func(tx *storeTx) error {
		var err error
		out, err = tx.CircuitContributions(ctx, ceremonyID, circuitID)
		return err
	})
	return out, err
}

func (s *Store) SaveCeremony(ctx context.Context, c *types.Ceremony) error {
	return s.update(func(tx *storeTx) error {
		return tx.SaveCeremony(ctx, c)
	})
}

func (s *Store) SaveCircuit(ctx context.Context, c *types.Circuit) error {
	return s.update(func(tx *storeTx) error {
		return tx.SaveCircuit(ctx, c)
	})
}

func (s *Store) SaveParticipant(ctx context.Context, p *types.Participant) error {
	return s.update(func(tx *storeTx) error {
		return tx.SaveParticipant(ctx, p)
	})
}

func (s *Store) SaveContribution(ctx context.Context, c *types.Contribution) error {
	return s.update(func(tx *storeTx) error {
		return tx.SaveContribution(ctx, c)
	})
}
