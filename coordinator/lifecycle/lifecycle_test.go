package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/db"
	dbtest "github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/db/testing"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/statemachine"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/types"
	workermock "github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/worker/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testService(t *testing.T, nowMs int64) (*Service, db.Database, *workermock.Worker) {
	t.Helper()
	d := dbtest.SetupDB(t)
	w := &workermock.Worker{}
	s := New(context.Background(), &Config{Database: d, Worker: w})
	s.now = func() time.Time { return time.UnixMilli(nowMs) }
	t.Cleanup(func() { require.NoError(t, s.Stop()) })
	return s, d, w
}

func TestSweep_OpensAndCloses(t *testing.T) {
	ctx := context.Background()
	s, d, _ := testService(t, 100_000)
	due := &types.Ceremony{Prefix: "due", State: types.CeremonyScheduled, StartDate: 90_000, EndDate: 500_000}
	require.NoError(t, d.SaveCeremony(ctx, due))
	early := &types.Ceremony{Prefix: "early", State: types.CeremonyScheduled, StartDate: 200_000, EndDate: 500_000}
	require.NoError(t, d.SaveCeremony(ctx, early))
	ended := &types.Ceremony{Prefix: "ended", State: types.CeremonyOpened, StartDate: 1_000, EndDate: 100_000}
	require.NoError(t, d.SaveCeremony(ctx, ended))
	running := &types.Ceremony{Prefix: "running", State: types.CeremonyOpened, StartDate: 1_000, EndDate: 500_000}
	require.NoError(t, d.SaveCeremony(ctx, running))

	s.sweep(ctx)

	for _, tc := range []struct {
		ceremony *types.Ceremony
		want     types.CeremonyState
	}{
		{due, types.CeremonyOpened},
		{early, types.CeremonyScheduled},
		{ended, types.CeremonyClosed},
		{running, types.CeremonyOpened},
	} {
		got, err := d.Ceremony(ctx, tc.ceremony.ID)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got.State, "ceremony %s", tc.ceremony.Prefix)
	}
}

func TestSweep_ScheduledCeremonyOpensAndClosesAcrossSweeps(t *testing.T) {
	ctx := context.Background()
	s, d, _ := testService(t, 100_000)
	ceremony := &types.Ceremony{Prefix: "short", State: types.CeremonyScheduled, StartDate: 1_000, EndDate: 50_000}
	require.NoError(t, d.SaveCeremony(ctx, ceremony))

	// Both dates already passed; the open pass runs before the close pass,
	// so one sweep is enough.
	s.sweep(ctx)
	got, err := d.Ceremony(ctx, ceremony.ID)
	require.NoError(t, err)
	assert.Equal(t, types.CeremonyClosed, got.State)
}

func TestFinalize(t *testing.T) {
	ctx := context.Background()
	s, d, w := testService(t, 100_000)
	ceremony := &types.Ceremony{Prefix: "mpc-test", State: types.CeremonyClosed, CoordinatorID: "coord"}
	require.NoError(t, d.SaveCeremony(ctx, ceremony))
	local := &types.Circuit{CeremonyID: ceremony.ID, Prefix: "multiplier2", SequencePosition: 1}
	require.NoError(t, d.SaveCircuit(ctx, local))
	remote := &types.Circuit{
		CeremonyID:            ceremony.ID,
		Prefix:                "hasher",
		SequencePosition:      2,
		VerificationMechanism: types.VerificationRemote,
		WorkerHandle:          "i-0abc",
	}
	require.NoError(t, d.SaveCircuit(ctx, remote))

	// Wrong caller.
	require.ErrorIs(t, s.Finalize(ctx, ceremony.ID, "mallory"), ErrNotCoordinator)

	// No final contributions yet.
	require.ErrorIs(t, s.Finalize(ctx, ceremony.ID, "coord"), ErrMissingFinalContribution)

	for _, circuit := range []*types.Circuit{local, remote} {
		require.NoError(t, d.SaveContribution(ctx, &types.Contribution{
			ParticipantUserID: "coord",
			CeremonyID:        ceremony.ID,
			CircuitID:         circuit.ID,
			ZkeyIndex:         types.FinalZkeyIndex,
			Valid:             true,
		}))
	}

	require.NoError(t, s.Finalize(ctx, ceremony.ID, "coord"))
	got, err := d.Ceremony(ctx, ceremony.ID)
	require.NoError(t, err)
	assert.Equal(t, types.CeremonyFinalized, got.State)
	// Only the remote circuit's worker is shut down.
	assert.Equal(t, 1, w.StopCalls)
}

func TestFinalize_RequiresClosedState(t *testing.T) {
	ctx := context.Background()
	s, d, _ := testService(t, 100_000)
	ceremony := &types.Ceremony{Prefix: "mpc-test", State: types.CeremonyOpened, CoordinatorID: "coord"}
	require.NoError(t, d.SaveCeremony(ctx, ceremony))
	require.ErrorIs(t, s.Finalize(ctx, ceremony.ID, "coord"), ErrNotClosed)
}

func TestFinalizeCircuit(t *testing.T) {
	ctx := context.Background()
	s, d, _ := testService(t, 100_000)
	ceremony := &types.Ceremony{Prefix: "mpc-test", State: types.CeremonyClosed, CoordinatorID: "coord"}
	require.NoError(t, d.SaveCeremony(ctx, ceremony))
	first := &types.Circuit{CeremonyID: ceremony.ID, Prefix: "multiplier2", SequencePosition: 1}
	require.NoError(t, d.SaveCircuit(ctx, first))
	second := &types.Circuit{CeremonyID: ceremony.ID, Prefix: "hasher", SequencePosition: 2}
	require.NoError(t, d.SaveCircuit(ctx, second))
	require.NoError(t, d.SaveParticipant(ctx, &types.Participant{
		UserID:               "coord",
		CeremonyID:           ceremony.ID,
		ContributionProgress: 2,
		Status:               types.StatusFinalizing,
	}))
	for _, circuit := range []*types.Circuit{first, second} {
		require.NoError(t, d.SaveContribution(ctx, &types.Contribution{
			ParticipantUserID: "coord",
			CeremonyID:        ceremony.ID,
			CircuitID:         circuit.ID,
			ZkeyIndex:         types.FinalZkeyIndex,
			Valid:             true,
		}))
	}

	require.NoError(t, s.FinalizeCircuit(ctx, ceremony.ID, first.ID, "coord", "beacon-one"))
	contribution, err := d.Contribution(ctx, ceremony.ID, first.ID, types.FinalZkeyIndex)
	require.NoError(t, err)
	assert.Equal(t, "beacon-one", contribution.Beacon)
	participant, err := d.Participant(ctx, "coord", ceremony.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFinalizing, participant.Status)

	require.NoError(t, s.FinalizeCircuit(ctx, ceremony.ID, second.ID, "coord", "beacon-two"))
	participant, err = d.Participant(ctx, "coord", ceremony.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFinalized, participant.Status)
}

func TestFinalizeCircuit_RequiresFinalizingParticipant(t *testing.T) {
	ctx := context.Background()
	s, d, _ := testService(t, 100_000)
	ceremony := &types.Ceremony{Prefix: "mpc-test", State: types.CeremonyClosed, CoordinatorID: "coord"}
	require.NoError(t, d.SaveCeremony(ctx, ceremony))
	circuit := &types.Circuit{CeremonyID: ceremony.ID, Prefix: "multiplier2", SequencePosition: 1}
	require.NoError(t, d.SaveCircuit(ctx, circuit))
	require.NoError(t, d.SaveParticipant(ctx, &types.Participant{
		UserID:     "coord",
		CeremonyID: ceremony.ID,
		Status:     types.StatusDone,
	}))
	err := s.FinalizeCircuit(ctx, ceremony.ID, circuit.ID, "coord", "beacon")
	require.ErrorIs(t, err, statemachine.ErrIllegalTransition)
}
