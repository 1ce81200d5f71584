// Package queue implements the per-circuit waiting queue of contributors.
// The queue lives inside the circuit value and must only be mutated within a
// database transaction holding the owning circuit row, so at most one
// contributor can ever be promoted as current on a circuit.
package queue

import (
	"github.com/pkg/errors"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/types"
)

// ErrNotCurrentContributor is returned by Dequeue when the given user is not
// at the head of the queue.
var ErrNotCurrentContributor = errors.New("user is not the current contributor of the circuit")

// Enqueue appends the user to the circuit's waiting queue if absent. When
// the queue was empty the user becomes the current contributor; the returned
// flag reports that promotion.
func Enqueue(c *types.Circuit, userID string) (promoted bool) {
	q := &c.WaitingQueue
	for _, u := range q.Contributors {
		if u == userID {
			return q.CurrentContributor == userID
		}
	}
	q.Contributors = append(q.Contributors, userID)
	if q.CurrentContributor == "" {
		q.CurrentContributor = userID
		return true
	}
	return false
}

// Dequeue removes the current contributor from the front of the queue. The
// given user must be the current contributor. The new head, if any, becomes
// current and is returned.
func Dequeue(c *types.Circuit, userID string) (next string, err error) {
	q := &c.WaitingQueue
	if q.CurrentContributor != userID || len(q.Contributors) == 0 || q.Contributors[0] != userID {
		return "", ErrNotCurrentContributor
	}
	q.Contributors = q.Contributors[1:]
	if len(q.Contributors) > 0 {
		q.CurrentContributor = q.Contributors[0]
	} else {
		q.CurrentContributor = ""
	}
	return q.CurrentContributor, nil
}

// Remove unconditionally deletes the user from any position in the queue,
// used on timeout. When the removed user was current, the new head (if any)
// is promoted and returned.
func Remove(c *types.Circuit, userID string) (wasCurrent bool, next string) {
	q := &c.WaitingQueue
	idx := -1
	for i, u := range q.Contributors {
		if u == userID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return false, q.CurrentContributor
	}
	q.Contributors = append(q.Contributors[:idx], q.Contributors[idx+1:]...)
	if q.CurrentContributor == userID {
		wasCurrent = true
		if len(q.Contributors) > 0 {
			q.CurrentContributor = q.Contributors[0]
		} else {
			q.CurrentContributor = ""
		}
	}
	return wasCurrent, q.CurrentContributor
}

// Peek returns the current contributor and the queue length.
func Peek(c *types.Circuit) (current string, length int) {
	return c.WaitingQueue.CurrentContributor, len(c.WaitingQueue.Contributors)
}
