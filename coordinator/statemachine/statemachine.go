// Package statemachine holds the pure transition rules for the participant
// status and contribution step. Functions validate their preconditions
// before mutating anything, so a rejected event never changes state. No I/O
// happens here; callers apply the transitions inside database transactions.
package statemachine

import (
	"github.com/pkg/errors"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/types"
)

// ErrIllegalTransition is returned when an event does not match any
// transition rule for the participant's current state. Clients are expected
// to reconcile by re-reading participant state.
var ErrIllegalTransition = errors.New("illegal participant state transition")

// AdmitDecision is the outcome of re-admitting an existing participant.
type AdmitDecision struct {
	// CanContribute reports whether the participant may (re-)enter the
	// contribution flow.
	CanContribute bool
	// Changed reports whether the participant record was mutated and needs
	// to be persisted.
	Changed bool
}

// Admit re-admits an existing participant. New participants are created by
// the caller directly in the WAITING status; this function covers the
// re-admission rows: finished participants, and timed-out participants with
// or without an active timeout.
func Admit(p *types.Participant, circuitCount int, now int64) (AdmitDecision, error) {
	switch p.Status {
	case types.StatusDone:
		if p.ContributionProgress == circuitCount {
			return AdmitDecision{CanContribute: true}, nil
		}
		return AdmitDecision{}, ErrIllegalTransition
	case types.StatusTimedOut:
		if p.HasActiveTimeout(now) {
			return AdmitDecision{}, nil
		}
		p.Status = types.StatusExhumed
		p.Step = types.StepDownloading
		// The pending fragment belongs to the abandoned attempt.
		p.Pending = nil
		p.TempUpload = nil
		return AdmitDecision{CanContribute: true, Changed: true}, nil
	default:
		return AdmitDecision{}, ErrIllegalTransition
	}
}

// ProgressToNextCircuit moves a participant to READY for the next circuit,
// either from the initial WAITING state or after completing a contribution.
func ProgressToNextCircuit(p *types.Participant, circuitCount int) error {
	firstTime := p.Status == types.StatusWaiting && p.ContributionProgress == 0
	nextTime := p.Status == types.StatusContributed &&
		p.Step == types.StepCompleted &&
		p.ContributionProgress > 0
	if !firstTime && !nextTime {
		return ErrIllegalTransition
	}
	if p.ContributionProgress >= circuitCount {
		return ErrIllegalTransition
	}
	p.ContributionProgress++
	p.Status = types.StatusReady
	p.Step = types.StepNone
	return nil
}

// ResumeAfterTimeout moves an exhumed participant back to READY so the
// coordinator can re-queue them on their current circuit.
func ResumeAfterTimeout(p *types.Participant) error {
	if p.Status != types.StatusExhumed {
		return ErrIllegalTransition
	}
	p.Status = types.StatusReady
	p.Step = types.StepNone
	return nil
}

// AdvanceStep moves a contributing participant through
// DOWNLOADING -> COMPUTING -> UPLOADING -> VERIFYING -> COMPLETED.
// Entering VERIFYING records the verification start time.
func AdvanceStep(p *types.Participant, now int64) error {
	switch {
	case p.Status == types.StatusContributing && p.Step == types.StepDownloading:
		p.Step = types.StepComputing
	case p.Step == types.StepComputing:
		p.Step = types.StepUploading
	case p.Step == types.StepUploading:
		p.Step = types.StepVerifying
		p.VerificationStartedAt = now
	case p.Step == types.StepVerifying:
		p.Step = types.StepCompleted
	default:
		return ErrIllegalTransition
	}
	return nil
}

// RecordValidContribution finishes the participant's current circuit after a
// valid verification: CONTRIBUTED when circuits remain, DONE otherwise.
func RecordValidContribution(p *types.Participant, circuitCount int) error {
	if p.Step != types.StepVerifying && p.Step != types.StepComputing {
		return ErrIllegalTransition
	}
	if p.ContributionProgress < circuitCount {
		p.Status = types.StatusContributed
	} else {
		p.Status = types.StatusDone
	}
	p.Step = types.StepCompleted
	return nil
}

// RecordInvalidContribution finishes the participant's current circuit after
// a failed verification. The participant stays eligible for the next
// circuit.
func RecordInvalidContribution(p *types.Participant) error {
	if p.Step != types.StepVerifying && p.Step != types.StepComputing {
		return ErrIllegalTransition
	}
	p.Status = types.StatusContributed
	p.Step = types.StepCompleted
	return nil
}

// BecomeCurrentContributor promotes a participant who reached the head of a
// circuit's waiting queue. READY participants are promoted on enqueue when
// the queue is empty; WAITING participants are promoted later, when the
// previous head leaves the queue.
func BecomeCurrentContributor(p *types.Participant, now int64) error {
	if p.Status != types.StatusReady && p.Status != types.StatusWaiting {
		return ErrIllegalTransition
	}
	p.Status = types.StatusContributing
	p.Step = types.StepDownloading
	p.ContributionStartedAt = now
	return nil
}

// PrepareFinalization moves the coordinator of a closed ceremony, who has
// contributed to every circuit, into the FINALIZING status.
func PrepareFinalization(p *types.Participant, ceremonyState types.CeremonyState, isCoordinator bool, circuitCount int) error {
	if ceremonyState != types.CeremonyClosed ||
		p.Status != types.StatusDone ||
		!isCoordinator ||
		p.ContributionProgress != circuitCount {
		return ErrIllegalTransition
	}
	p.Status = types.StatusFinalizing
	p.Step = types.StepNone
	return nil
}
