// Package scheduler drives the per-circuit waiting queues of opened
// ceremonies: it enqueues READY participants, hands the head of each queue to
// the next contributor, and times out contributors that exceed their window.
// Every mutation happens inside a single database transaction per ceremony,
// which is what keeps the one-current-contributor invariant.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/event"
	gocache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/db"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/queue"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/statemachine"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/types"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "scheduler")

// DefaultReconcileInterval is how often every opened ceremony is reconciled
// when no nudges arrive.
const DefaultReconcileInterval = 30 * time.Second

// Config holds the scheduler's collaborators.
type Config struct {
	Database          db.Database
	NudgeFeed         *event.Feed
	ReconcileInterval time.Duration
}

// Service reconciles waiting queues on a fixed tick and on nudges sent by
// the API layer after participant state changes.
type Service struct {
	cfg    *Config
	ctx    context.Context
	cancel context.CancelFunc
	// current caches "ceremonyId/circuitId" -> current contributor so the
	// API layer can answer queue-position lookups without a db read.
	current *gocache.Cache
	now     func() time.Time
}

// New creates the scheduler service.
func New(ctx context.Context, cfg *Config) *Service {
	if cfg.ReconcileInterval == 0 {
		cfg.ReconcileInterval = DefaultReconcileInterval
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Service{
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		current: gocache.New(gocache.NoExpiration, 0),
		now:     time.Now,
	}
}

// Start rebuilds the current-contributor index and runs the reconcile loop
// until the service is stopped.
func (s *Service) Start() {
	if err := s.rebuildIndex(s.ctx); err != nil {
		log.WithError(err).Error("Could not rebuild current-contributor index")
	}
	nudges := make(chan int64, 16)
	sub := s.cfg.NudgeFeed.Subscribe(nudges)
	defer sub.Unsubscribe()
	ticker := time.NewTicker(s.cfg.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case ceremonyID := <-nudges:
			if err := s.reconcileCeremony(s.ctx, ceremonyID); err != nil {
				log.WithError(err).WithField("ceremony", ceremonyID).Error("Could not reconcile ceremony")
			}
		case <-ticker.C:
			s.reconcileAll(s.ctx)
		case err := <-sub.Err():
			log.WithError(err).Error("Nudge subscription failed")
			return
		}
	}
}

// Stop terminates the reconcile loop.
func (s *Service) Stop() error {
	s.cancel()
	return nil
}

// Status always reports healthy; reconcile failures are retried on the next
// tick.
func (s *Service) Status() error {
	return nil
}

// CurrentContributor returns the cached queue head for a circuit. The second
// return reports whether the circuit is known to the index.
func (s *Service) CurrentContributor(ceremonyID, circuitID int64) (string, bool) {
	v, ok := s.current.Get(indexKey(ceremonyID, circuitID))
	if !ok {
		return "", false
	}
	return v.(string), true
}

func indexKey(ceremonyID, circuitID int64) string {
	return fmt.Sprintf("%d/%d", ceremonyID, circuitID)
}

func (s *Service) rebuildIndex(ctx context.Context) error {
	ceremonies, err := s.cfg.Database.CeremoniesByState(ctx, types.CeremonyOpened)
	if err != nil {
		return err
	}
	for _, ceremony := range ceremonies {
		circuits, err := s.cfg.Database.Circuits(ctx, ceremony.ID)
		if err != nil {
			return err
		}
		for _, circuit := range circuits {
			s.current.Set(indexKey(ceremony.ID, circuit.ID), circuit.WaitingQueue.CurrentContributor, gocache.NoExpiration)
		}
	}
	return nil
}

func (s *Service) reconcileAll(ctx context.Context) {
	ceremonies, err := s.cfg.Database.CeremoniesByState(ctx, types.CeremonyOpened)
	if err != nil {
		log.WithError(err).Error("Could not list opened ceremonies")
		return
	}
	for _, ceremony := range ceremonies {
		if ctx.Err() != nil {
			return
		}
		if err := s.reconcileCeremony(ctx, ceremony.ID); err != nil {
			log.WithError(err).WithField("ceremony", ceremony.ID).Error("Could not reconcile ceremony")
		}
	}
}

// reconcileCeremony runs one pass over a ceremony: expire the current
// contributors that blew their window, then settle every participant into the
// queue state their status calls for.
func (s *Service) reconcileCeremony(ctx context.Context, ceremonyID int64) error {
	heads := make(map[int64]string)
	err := s.cfg.Database.WithTransaction(ctx, func(tx db.Tx) error {
		ceremony, err := tx.Ceremony(ctx, ceremonyID)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return nil
			}
			return err
		}
		if ceremony.State != types.CeremonyOpened {
			return nil
		}
		circuits, err := tx.Circuits(ctx, ceremonyID)
		if err != nil {
			return err
		}
		participants, err := tx.Participants(ctx, ceremonyID)
		if err != nil {
			return err
		}
		byUser := make(map[string]*types.Participant, len(participants))
		for _, p := range participants {
			byUser[p.UserID] = p
		}
		now := s.now().UnixMilli()

		for _, circuit := range circuits {
			if err := s.sweepCircuit(ctx, tx, ceremony, circuit, byUser, now); err != nil {
				return err
			}
		}
		for _, p := range participants {
			if err := s.settleParticipant(ctx, tx, circuits, byUser, p, now); err != nil {
				return err
			}
		}
		for _, circuit := range circuits {
			if err := tx.SaveCircuit(ctx, circuit); err != nil {
				return err
			}
			heads[circuit.ID] = circuit.WaitingQueue.CurrentContributor
		}
		return nil
	})
	if err != nil {
		return err
	}
	for circuitID, head := range heads {
		s.current.Set(indexKey(ceremonyID, circuitID), head, gocache.NoExpiration)
	}
	return nil
}

// sweepCircuit times out the circuit's current contributor when their window
// has elapsed: the participant is penalized and removed from the queue, and
// the next queued contributor takes over.
func (s *Service) sweepCircuit(
	ctx context.Context,
	tx db.Tx,
	ceremony *types.Ceremony,
	circuit *types.Circuit,
	byUser map[string]*types.Participant,
	now int64,
) error {
	current := circuit.WaitingQueue.CurrentContributor
	if current == "" {
		return nil
	}
	p, ok := byUser[current]
	if !ok || p.Status != types.StatusContributing || p.ContributionStartedAt <= 0 {
		return nil
	}
	window := contributionWindow(ceremony, circuit)
	if window <= 0 || now-p.ContributionStartedAt <= window {
		return nil
	}

	kind := types.TimeoutBlockingContribution
	if p.Step == types.StepVerifying {
		kind = types.TimeoutBlockingVerification
	}
	p.Status = types.StatusTimedOut
	p.Step = types.StepNone
	p.Pending = nil
	p.TempUpload = nil
	p.Timeouts = append(p.Timeouts, types.Timeout{
		StartDate: now,
		EndDate:   now + ceremony.Penalty*1000,
		Kind:      kind,
	})
	queue.Remove(circuit, current)
	if err := tx.SaveParticipant(ctx, p); err != nil {
		return err
	}
	timeoutsTotal.WithLabelValues(string(kind)).Inc()
	log.WithFields(logrus.Fields{
		"ceremony": ceremony.ID,
		"circuit":  circuit.Prefix,
		"user":     current,
		"kind":     kind,
	}).Info("Timed out current contributor")
	return s.promoteHead(ctx, tx, byUser, circuit, now)
}

// settleParticipant enqueues READY participants on their target circuit and
// releases queue heads held by participants that already finished the
// circuit.
func (s *Service) settleParticipant(
	ctx context.Context,
	tx db.Tx,
	circuits []*types.Circuit,
	byUser map[string]*types.Participant,
	p *types.Participant,
	now int64,
) error {
	circuit := circuitAt(circuits, p.ContributionProgress)
	if circuit == nil {
		return nil
	}
	switch p.Status {
	case types.StatusReady:
		if queue.Enqueue(circuit, p.UserID) {
			if err := statemachine.BecomeCurrentContributor(p, now); err != nil {
				return err
			}
		} else {
			p.Status = types.StatusWaiting
		}
		return tx.SaveParticipant(ctx, p)
	case types.StatusContributed, types.StatusDone:
		if circuit.WaitingQueue.CurrentContributor != p.UserID {
			return nil
		}
		if _, err := queue.Dequeue(circuit, p.UserID); err != nil {
			return err
		}
		return s.promoteHead(ctx, tx, byUser, circuit, now)
	default:
		return nil
	}
}

// promoteHead makes the queue head the circuit's contributing participant,
// discarding heads that are no longer promotable.
func (s *Service) promoteHead(
	ctx context.Context,
	tx db.Tx,
	byUser map[string]*types.Participant,
	circuit *types.Circuit,
	now int64,
) error {
	for {
		head := circuit.WaitingQueue.CurrentContributor
		if head == "" {
			return nil
		}
		p, ok := byUser[head]
		if ok {
			if err := statemachine.BecomeCurrentContributor(p, now); err == nil {
				return tx.SaveParticipant(ctx, p)
			}
		}
		log.WithFields(logrus.Fields{
			"circuit": circuit.Prefix,
			"user":    head,
		}).Warn("Discarding unpromotable queue head")
		queue.Remove(circuit, head)
	}
}

// contributionWindow returns the current contributor's time budget in
// milliseconds. Under the DYNAMIC mechanism the budget is a percentage of the
// circuit's average full contribution time, so the first contributor of a
// circuit has no budget yet and is never timed out.
func contributionWindow(ceremony *types.Ceremony, circuit *types.Circuit) int64 {
	switch ceremony.TimeoutMechanism {
	case types.TimeoutDynamic:
		return circuit.AvgTimings.FullContribution * ceremony.DynamicThreshold / 100
	case types.TimeoutFixed:
		return ceremony.FixedTimeWindow * 1000
	default:
		return 0
	}
}

func circuitAt(circuits []*types.Circuit, progress int) *types.Circuit {
	if progress < 1 || progress > len(circuits) {
		return nil
	}
	return circuits[progress-1]
}
