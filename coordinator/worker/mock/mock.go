// Package mock provides a scriptable VerificationWorker for tests.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/worker"
)

var _ worker.VerificationWorker = (*Worker)(nil)

// Worker is an in-memory VerificationWorker whose poll outcomes are scripted
// by tests.
type Worker struct {
	mu sync.Mutex

	// Statuses is consumed front-to-back by PollStatus; the last entry
	// repeats once exhausted.
	Statuses []worker.CommandStatus
	// Output returned by FetchOutput.
	Output string
	// RunningAfter is the number of IsRunning calls that report false
	// before the worker reports running.
	RunningAfter int

	StartCalls   int
	StopCalls    int
	RunCommands  [][]string
	isRunningSeq int
	pollSeq      int
	StopErr      error
}

func (m *Worker) Provision(_ context.Context, name, _ string) (string, error) {
	return "i-" + name, nil
}

func (m *Worker) Start(_ context.Context, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StartCalls++
	return nil
}

func (m *Worker) Stop(_ context.Context, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StopCalls++
	return m.StopErr
}

func (m *Worker) IsRunning(_ context.Context, _ string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.isRunningSeq++
	return m.isRunningSeq > m.RunningAfter, nil
}

func (m *Worker) Run(_ context.Context, _ string, command []string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RunCommands = append(m.RunCommands, command)
	return fmt.Sprintf("cmd-%d", len(m.RunCommands)), nil
}

func (m *Worker) PollStatus(_ context.Context, _, _ string) (worker.CommandStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Statuses) == 0 {
		return worker.StatusSuccess, nil
	}
	idx := m.pollSeq
	if idx >= len(m.Statuses) {
		idx = len(m.Statuses) - 1
	}
	m.pollSeq++
	return m.Statuses[idx], nil
}

func (m *Worker) FetchOutput(_ context.Context, _, _ string) (string, error) {
	return m.Output, nil
}
