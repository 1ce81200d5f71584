package kv

import (
	"context"
	"sort"

	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/db/iface"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/types"
)

// Ceremony retrieves a ceremony by id.
func (t *storeTx) Ceremony(_ context.Context, id int64) (*types.Ceremony, error) {
	enc := t.tx.Bucket(ceremoniesBucket).Get(itob(id))
	if enc == nil {
		return nil, iface.ErrNotFound
	}
	c := &types.Ceremony{}
	if err := decode(enc, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Ceremonies retrieves every ceremony, ordered by id.
func (t *storeTx) Ceremonies(_ context.Context) ([]*types.Ceremony, error) {
	var out []*types.Ceremony
	err := t.tx.Bucket(ceremoniesBucket).ForEach(func(_, v []byte) error {
		c := &types.Ceremony{}
		if err := decode(v, c); err != nil {
			return err
		}
		out = append(out, c)
		return nil
	})
	return out, err
}

// CeremoniesByState retrieves every ceremony currently in the given state.
func (t *storeTx) CeremoniesByState(ctx context.Context, state types.CeremonyState) ([]*types.Ceremony, error) {
	all, err := t.Ceremonies(ctx)
	if err != nil {
		return nil, err
	}
	filtered := make([]*types.Ceremony, 0, len(all))
	for _, c := range all {
		if c.State == state {
			filtered = append(filtered, c)
		}
	}
	return filtered, nil
}

// SaveCeremony persists a ceremony, assigning an id from the bucket sequence
// when the ceremony is new.
func (t *storeTx) SaveCeremony(_ context.Context, c *types.Ceremony) error {
	bkt := t.tx.Bucket(ceremoniesBucket)
	if c.ID == 0 {
		seq, err := bkt.NextSequence()
		if err != nil {
			return err
		}
		c.ID = int64(seq)
	}
	enc, err := encode(c)
	if err != nil {
		return err
	}
	return bkt.Put(itob(c.ID), enc)
}

// Circuits retrieves every circuit of a ceremony ordered by sequence
// position.
func (t *storeTx) Circuits(_ context.Context, ceremonyID int64) ([]*types.Circuit, error) {
	var out []*types.Circuit
	c := t.tx.Bucket(circuitsBucket).Cursor()
	prefix := itob(ceremonyID)
	for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
		circuit := &types.Circuit{}
		if err := decode(v, circuit); err != nil {
			return nil, err
		}
		out = append(out, circuit)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SequencePosition < out[j].SequencePosition
	})
	return out, nil
}

// Circuit retrieves one circuit of a ceremony by id.
func (t *storeTx) Circuit(_ context.Context, ceremonyID, circuitID int64) (*types.Circuit, error) {
	enc := t.tx.Bucket(circuitsBucket).Get(circuitKey(ceremonyID, circuitID))
	if enc == nil {
		return nil, iface.ErrNotFound
	}
	circuit := &types.Circuit{}
	if err := decode(enc, circuit); err != nil {
		return nil, err
	}
	return circuit, nil
}

// SaveCircuit persists a circuit, assigning an id when the circuit is new.
func (t *storeTx) SaveCircuit(_ context.Context, c *types.Circuit) error {
	bkt := t.tx.Bucket(circuitsBucket)
	if c.ID == 0 {
		seq, err := bkt.NextSequence()
		if err != nil {
			return err
		}
		c.ID = int64(seq)
	}
	enc, err := encode(c)
	if err != nil {
		return err
	}
	return bkt.Put(circuitKey(c.CeremonyID, c.ID), enc)
}

func circuitKey(ceremonyID, circuitID int64) []byte {
	return append(itob(ceremonyID), itob(circuitID)...)
}

func hasPrefix(k, prefix []byte) bool {
	if len(k) < len(prefix) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}
