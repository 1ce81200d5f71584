// Package lifecycle moves ceremonies through their states: scheduled
// ceremonies open when their start date passes, opened ceremonies close when
// their end date passes, and closed ceremonies are finalized on the
// coordinator's request once every circuit carries a valid final
// contribution.
package lifecycle

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/privacy-scaling-explorations/p0tion-sub001/async"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/db"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/statemachine"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/types"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/worker"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "lifecycle")

// DefaultSweepInterval is how often ceremony start and end dates are checked.
const DefaultSweepInterval = 10 * time.Minute

var (
	// ErrNotClosed is returned when finalization is requested for a
	// ceremony that is not in the CLOSED state.
	ErrNotClosed = errors.New("ceremony is not closed")
	// ErrNotCoordinator is returned when someone other than the ceremony
	// coordinator requests finalization.
	ErrNotCoordinator = errors.New("caller is not the ceremony coordinator")
	// ErrMissingFinalContribution is returned when a circuit has no valid
	// final contribution yet.
	ErrMissingFinalContribution = errors.New("circuit is missing a valid final contribution")
)

// Config holds the lifecycle service's collaborators.
type Config struct {
	Database      db.Database
	Worker        worker.VerificationWorker
	SweepInterval time.Duration
}

// Service sweeps ceremony dates on a fixed interval and serves finalization
// requests from the API layer.
type Service struct {
	cfg    *Config
	ctx    context.Context
	cancel context.CancelFunc
	now    func() time.Time
}

// New creates the lifecycle service.
func New(ctx context.Context, cfg *Config) *Service {
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Service{cfg: cfg, ctx: ctx, cancel: cancel, now: time.Now}
}

// Start runs one sweep immediately and then on every interval.
func (s *Service) Start() {
	s.sweep(s.ctx)
	async.RunEvery(s.ctx, s.cfg.SweepInterval, func() {
		s.sweep(s.ctx)
	})
}

// Stop terminates the sweep loop.
func (s *Service) Stop() error {
	s.cancel()
	return nil
}

// Status always reports healthy; sweep failures are retried on the next
// interval.
func (s *Service) Status() error {
	return nil
}

// sweep opens scheduled ceremonies whose start date passed and closes opened
// ceremonies whose end date passed.
func (s *Service) sweep(ctx context.Context) {
	now := s.now().UnixMilli()
	if err := s.transition(ctx, types.CeremonyScheduled, types.CeremonyOpened, func(c *types.Ceremony) bool {
		return c.StartDate <= now
	}); err != nil {
		log.WithError(err).Error("Could not open scheduled ceremonies")
	}
	if err := s.transition(ctx, types.CeremonyOpened, types.CeremonyClosed, func(c *types.Ceremony) bool {
		return c.EndDate <= now
	}); err != nil {
		log.WithError(err).Error("Could not close ended ceremonies")
	}
}

func (s *Service) transition(ctx context.Context, from, to types.CeremonyState, due func(*types.Ceremony) bool) error {
	return s.cfg.Database.WithTransaction(ctx, func(tx db.Tx) error {
		ceremonies, err := tx.CeremoniesByState(ctx, from)
		if err != nil {
			return err
		}
		for _, ceremony := range ceremonies {
			if !due(ceremony) {
				continue
			}
			ceremony.State = to
			if err := tx.SaveCeremony(ctx, ceremony); err != nil {
				return err
			}
			log.WithFields(logrus.Fields{
				"ceremony": ceremony.ID,
				"prefix":   ceremony.Prefix,
				"state":    to,
			}).Info("Ceremony changed state")
		}
		return nil
	})
}

// Finalize marks a closed ceremony FINALIZED once every circuit carries a
// valid final contribution, then shuts down any remote verification workers.
// Only the ceremony coordinator may finalize.
func (s *Service) Finalize(ctx context.Context, ceremonyID int64, callerID string) error {
	var remoteHandles []string
	err := s.cfg.Database.WithTransaction(ctx, func(tx db.Tx) error {
		ceremony, err := tx.Ceremony(ctx, ceremonyID)
		if err != nil {
			return err
		}
		if ceremony.CoordinatorID != callerID {
			return ErrNotCoordinator
		}
		if ceremony.State != types.CeremonyClosed {
			return ErrNotClosed
		}
		circuits, err := tx.Circuits(ctx, ceremonyID)
		if err != nil {
			return err
		}
		for _, circuit := range circuits {
			final, err := tx.Contribution(ctx, ceremonyID, circuit.ID, types.FinalZkeyIndex)
			if err != nil {
				if errors.Is(err, db.ErrNotFound) {
					return errors.Wrapf(ErrMissingFinalContribution, "circuit %s", circuit.Prefix)
				}
				return err
			}
			if !final.Valid {
				return errors.Wrapf(ErrMissingFinalContribution, "circuit %s", circuit.Prefix)
			}
			if circuit.VerificationMechanism == types.VerificationRemote && circuit.WorkerHandle != "" {
				remoteHandles = append(remoteHandles, circuit.WorkerHandle)
			}
		}
		ceremony.State = types.CeremonyFinalized
		return tx.SaveCeremony(ctx, ceremony)
	})
	if err != nil {
		return err
	}
	for _, handle := range remoteHandles {
		if err := s.cfg.Worker.Stop(ctx, handle); err != nil {
			log.WithError(err).WithField("handle", handle).Warn("Could not stop verification worker")
		}
	}
	log.WithField("ceremony", ceremonyID).Info("Ceremony finalized")
	return nil
}

// FinalizeCircuit attaches the coordinator's beacon to a circuit's final
// contribution. When every circuit of the ceremony carries a beacon, the
// coordinator's participant record becomes FINALIZED.
func (s *Service) FinalizeCircuit(ctx context.Context, ceremonyID, circuitID int64, userID, beacon string) error {
	return s.cfg.Database.WithTransaction(ctx, func(tx db.Tx) error {
		participant, err := tx.Participant(ctx, userID, ceremonyID)
		if err != nil {
			return err
		}
		if participant.Status != types.StatusFinalizing {
			return statemachine.ErrIllegalTransition
		}
		final, err := tx.Contribution(ctx, ceremonyID, circuitID, types.FinalZkeyIndex)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return ErrMissingFinalContribution
			}
			return err
		}
		if !final.Valid {
			return ErrMissingFinalContribution
		}
		final.Beacon = beacon
		if err := tx.SaveContribution(ctx, final); err != nil {
			return err
		}

		circuits, err := tx.Circuits(ctx, ceremonyID)
		if err != nil {
			return err
		}
		done := true
		for _, circuit := range circuits {
			c, err := tx.Contribution(ctx, ceremonyID, circuit.ID, types.FinalZkeyIndex)
			if errors.Is(err, db.ErrNotFound) {
				done = false
				break
			}
			if err != nil {
				return err
			}
			if !c.Valid || c.Beacon == "" {
				done = false
				break
			}
		}
		if done {
			participant.Status = types.StatusFinalized
			participant.Step = types.StepNone
			if err := tx.SaveParticipant(ctx, participant); err != nil {
				return err
			}
			log.WithFields(logrus.Fields{
				"ceremony": ceremonyID,
				"user":     userID,
			}).Info("Coordinator finished finalizing every circuit")
		}
		return nil
	})
}
