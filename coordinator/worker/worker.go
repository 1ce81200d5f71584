// Package worker abstracts the remote verification workers: dispatched
// compute instances that verify contributions off the coordinator process
// and upload their transcripts to the ceremony bucket.
package worker

import "context"

// CommandStatus is the lifecycle state of a command dispatched to a worker.
type CommandStatus string

const (
	StatusPending    CommandStatus = "PENDING"
	StatusInProgress CommandStatus = "IN_PROGRESS"
	StatusSuccess    CommandStatus = "SUCCESS"
	StatusCancelling CommandStatus = "CANCELLING"
	StatusCancelled  CommandStatus = "CANCELLED"
	StatusFailed     CommandStatus = "FAILED"
	StatusTimedOut   CommandStatus = "TIMED_OUT"
	StatusDelayed    CommandStatus = "DELAYED"
)

// Terminal reports whether the status ends the polling loop.
func (s CommandStatus) Terminal() bool {
	switch s {
	case StatusPending, StatusInProgress:
		return false
	default:
		return true
	}
}

// VerificationWorker drives one remote verification instance identified by
// an opaque handle recorded on the circuit.
type VerificationWorker interface {
	// Provision creates a new worker for a circuit and returns its handle.
	Provision(ctx context.Context, name, bootstrapScript string) (string, error)
	// Start boots the worker.
	Start(ctx context.Context, handle string) error
	// Stop shuts the worker down.
	Stop(ctx context.Context, handle string) error
	// IsRunning reports whether the worker is up and able to take commands.
	IsRunning(ctx context.Context, handle string) (bool, error)
	// Run dispatches a shell command and returns a command id to poll.
	Run(ctx context.Context, handle string, command []string) (string, error)
	// PollStatus returns the current status of a dispatched command.
	PollStatus(ctx context.Context, handle, commandID string) (CommandStatus, error)
	// FetchOutput returns the textual output of a finished command.
	FetchOutput(ctx context.Context, handle, commandID string) (string, error)
}

// VerificationCommand builds the shell command a worker runs to verify a
// contribution: fetch the candidate zkey, verify it against the circuit
// artifacts, and upload the transcript back to the bucket.
func VerificationCommand(bucket, lastZkeyPath, transcriptPath string) []string {
	return []string{
		"#!/bin/bash",
		"source /etc/profile",
		"aws s3 cp s3://" + bucket + "/" + lastZkeyPath + " /var/tmp/lastZKey.zkey",
		"verify_contribution /var/tmp/lastZKey.zkey /var/tmp/transcript.log",
		"aws s3 cp /var/tmp/transcript.log s3://" + bucket + "/" + transcriptPath,
		"rm /var/tmp/lastZKey.zkey /var/tmp/transcript.log",
	}
}
