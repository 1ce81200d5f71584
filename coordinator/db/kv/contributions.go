package kv

import (
	"context"

	"github.com/pkg/errors"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/db/iface"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/types"
)

// Contribution retrieves the valid record occupying (ceremonyId, circuitId,
// zkeyIndex). Failed attempts do not occupy a slot and are only reachable
// through CircuitContributions.
func (t *storeTx) Contribution(_ context.Context, ceremonyID, circuitID int64, zkeyIndex string) (*types.Contribution, error) {
	enc := t.tx.Bucket(contributionsBucket).Get(contributionSlotKey(ceremonyID, circuitID, zkeyIndex))
	if enc == nil {
		return nil, iface.ErrNotFound
	}
	c := &types.Contribution{}
	if err := decode(enc, c); err != nil {
		return nil, err
	}
	return c, nil
}

// CircuitContributions retrieves every contribution recorded against a
// circuit, in zkey-index key order.
func (t *storeTx) CircuitContributions(_ context.Context, ceremonyID, circuitID int64) ([]*types.Contribution, error) {
	var out []*types.Contribution
	c := t.tx.Bucket(contributionsBucket).Cursor()
	prefix := append(itob(ceremonyID), itob(circuitID)...)
	for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
		contribution := &types.Contribution{}
		if err := decode(v, contribution); err != nil {
			return nil, err
		}
		out = append(out, contribution)
	}
	return out, nil
}

// SaveContribution persists a contribution record, assigning an id when the
// record is new.
func (t *storeTx) SaveContribution(_ context.Context, c *types.Contribution) error {
	if c.ZkeyIndex == "" {
		return errors.New("contribution zkey index is required")
	}
	bkt := t.tx.Bucket(contributionsBucket)
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
	return bkt.Put(contributionKey(c), enc)
}

// contributionKey keys valid contributions by their slot so the slot lookup
// resolves to the record holding it. A failed attempt shares the zkey index
// of the slot it was rejected from, so its record id is appended to keep
// every attempt on disk.
func contributionKey(c *types.Contribution) []byte {
	k := contributionSlotKey(c.CeremonyID, c.CircuitID, c.ZkeyIndex)
	if !c.Valid {
		k = append(k, itob(c.ID)...)
	}
	return k
}

func contributionSlotKey(ceremonyID, circuitID int64, zkeyIndex string) []byte {
	k := append(itob(ceremonyID), itob(circuitID)...)
	return append(k, []byte(zkeyIndex)...)
}
