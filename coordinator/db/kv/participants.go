package kv

import (
	"context"

	"github.com/pkg/errors"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/db/iface"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/types"
)

// Participant retrieves the record for a (userId, ceremonyId) pair.
func (t *storeTx) Participant(_ context.Context, userID string, ceremonyID int64) (*types.Participant, error) {
	enc := t.tx.Bucket(participantsBucket).Get(participantKey(ceremonyID, userID))
	if enc == nil {
		return nil, iface.ErrNotFound
	}
	p := &types.Participant{}
	if err := decode(enc, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Participants retrieves every participant of a ceremony in key order.
func (t *storeTx) Participants(_ context.Context, ceremonyID int64) ([]*types.Participant, error) {
	var out []*types.Participant
	c := t.tx.Bucket(participantsBucket).Cursor()
	prefix := itob(ceremonyID)
	for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
		p := &types.Participant{}
		if err := decode(v, p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// SaveParticipant persists a participant record.
func (t *storeTx) SaveParticipant(_ context.Context, p *types.Participant) error {
	if p.UserID == "" {
		return errors.New("participant user id is required")
	}
	enc, err := encode(p)
	if err != nil {
		return err
	}
	return t.tx.Bucket(participantsBucket).Put(participantKey(p.CeremonyID, p.UserID), enc)
}

func participantKey(ceremonyID int64, userID string) []byte {
	return append(itob(ceremonyID), []byte(userID)...)
}
