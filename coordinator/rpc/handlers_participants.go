package rpc

import (
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/db"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/statemachine"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/types"
)

// checkParticipant admits the caller into a ceremony. First-time callers get
// a WAITING participant record; returning callers are routed through the
// re-admission rules, including timeout exhumation and the coordinator's
// finalization entry.
func (s *Service) checkParticipant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ceremonyID, err := ceremonyIDParam(r)
	if err != nil {
		writeStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	caller := userID(r)
	res := &CheckParticipantResponse{}
	err = s.cfg.Database.WithTransaction(ctx, func(tx db.Tx) error {
		ceremony, err := tx.Ceremony(ctx, ceremonyID)
		if err != nil {
			return err
		}
		circuits, err := tx.Circuits(ctx, ceremonyID)
		if err != nil {
			return err
		}
		participant, err := tx.Participant(ctx, caller, ceremonyID)
		if errors.Is(err, db.ErrNotFound) {
			if ceremony.State != types.CeremonyOpened {
				return nil
			}
			participant = &types.Participant{
				UserID:     caller,
				CeremonyID: ceremonyID,
				Status:     types.StatusWaiting,
			}
			res.CanContribute = true
			return tx.SaveParticipant(ctx, participant)
		}
		if err != nil {
			return err
		}

		now := time.Now().UnixMilli()
		switch participant.Status {
		case types.StatusWaiting, types.StatusReady, types.StatusContributing,
			types.StatusContributed, types.StatusExhumed, types.StatusFinalizing:
			res.CanContribute = true
			return nil
		case types.StatusDone:
			if ceremony.State == types.CeremonyClosed && ceremony.CoordinatorID == caller {
				if err := statemachine.PrepareFinalization(participant, ceremony.State, true, len(circuits)); err != nil {
					return nil
				}
				res.CanContribute = true
				return tx.SaveParticipant(ctx, participant)
			}
			decision, err := statemachine.Admit(participant, len(circuits), now)
			if err != nil {
				return nil
			}
			res.CanContribute = decision.CanContribute
			return nil
		case types.StatusTimedOut:
			decision, err := statemachine.Admit(participant, len(circuits), now)
			if err != nil {
				return nil
			}
			res.CanContribute = decision.CanContribute
			if decision.Changed {
				return tx.SaveParticipant(ctx, participant)
			}
			return nil
		default:
			return nil
		}
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if res.CanContribute {
		s.nudge(ceremonyID)
	}
	writeJSON(w, http.StatusOK, res)
}

// transitionParticipant runs one state-machine event on the caller's
// participant record inside a transaction and returns the updated record.
func (s *Service) transitionParticipant(
	w http.ResponseWriter,
	r *http.Request,
	apply func(p *types.Participant, circuitCount int, now int64) error,
) {
	ctx := r.Context()
	ceremonyID, err := ceremonyIDParam(r)
	if err != nil {
		writeStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	caller := userID(r)
	var participant *types.Participant
	err = s.cfg.Database.WithTransaction(ctx, func(tx db.Tx) error {
		p, err := tx.Participant(ctx, caller, ceremonyID)
		if err != nil {
			return err
		}
		circuits, err := tx.Circuits(ctx, ceremonyID)
		if err != nil {
			return err
		}
		if err := apply(p, len(circuits), time.Now().UnixMilli()); err != nil {
			return err
		}
		participant = p
		return tx.SaveParticipant(ctx, p)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.nudge(ceremonyID)
	writeJSON(w, http.StatusOK, participant)
}

func (s *Service) progressToNextCircuit(w http.ResponseWriter, r *http.Request) {
	s.transitionParticipant(w, r, func(p *types.Participant, circuitCount int, _ int64) error {
		return statemachine.ProgressToNextCircuit(p, circuitCount)
	})
}

func (s *Service) progressToNextStep(w http.ResponseWriter, r *http.Request) {
	s.transitionParticipant(w, r, func(p *types.Participant, _ int, now int64) error {
		return statemachine.AdvanceStep(p, now)
	})
}

func (s *Service) resumeAfterTimeout(w http.ResponseWriter, r *http.Request) {
	s.transitionParticipant(w, r, func(p *types.Participant, _ int, _ int64) error {
		return statemachine.ResumeAfterTimeout(p)
	})
}

// storeContributionHash records the in-progress contribution fragment the
// client computed, ahead of the upload and verification.
func (s *Service) storeContributionHash(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ceremonyID, err := ceremonyIDParam(r)
	if err != nil {
		writeStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	var req StoreContributionHashRequest
	if err := decodeJSON(r, &req); err != nil {
		writeStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Hash == "" {
		writeStatus(w, http.StatusBadRequest, "hash is required")
		return
	}
	caller := userID(r)
	err = s.cfg.Database.WithTransaction(ctx, func(tx db.Tx) error {
		p, err := tx.Participant(ctx, caller, ceremonyID)
		if err != nil {
			return err
		}
		computing := p.Status == types.StatusContributing && p.Step == types.StepComputing
		if !computing && p.Status != types.StatusFinalizing {
			return statemachine.ErrIllegalTransition
		}
		p.Pending = &types.PendingContribution{
			Hash:            req.Hash,
			ComputationTime: req.ComputationTime,
		}
		return tx.SaveParticipant(ctx, p)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}
