package verify

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/blobstore"
	blobmock "github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/blobstore/mock"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/db"
	dbtest "github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/db/testing"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/statemachine"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/types"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/worker"
	workermock "github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/worker/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLocalVerifier struct {
	valid      bool
	transcript string
	zkeyHash   string
	err        error
	calls      int
}

func (f *fakeLocalVerifier) Verify(_ context.Context, _, _, _ string) (bool, string, string, error) {
	f.calls++
	return f.valid, f.transcript, f.zkeyHash, f.err
}

type fixture struct {
	db       db.Database
	blobs    *blobmock.Store
	worker   *workermock.Worker
	local    *fakeLocalVerifier
	svc      *Service
	feed     *event.Feed
	ceremony *types.Ceremony
	circuit  *types.Circuit
	bucket   string
}

func setup(t *testing.T, mechanism types.VerificationMechanism) *fixture {
	t.Helper()
	ctx := context.Background()
	ceremonyDB := dbtest.SetupDB(t)
	blobs := blobmock.New()
	w := &workermock.Worker{}
	local := &fakeLocalVerifier{valid: true, transcript: "... ZKey Ok! ...", zkeyHash: "aa11"}
	feed := new(event.Feed)

	ceremony := &types.Ceremony{
		Prefix:        "mpc-test",
		Title:         "Test ceremony",
		State:         types.CeremonyOpened,
		Type:          types.CeremonyPhase2,
		CoordinatorID: "coord",
	}
	require.NoError(t, ceremonyDB.SaveCeremony(ctx, ceremony))
	circuit := &types.Circuit{
		CeremonyID:            ceremony.ID,
		Prefix:                "multiplier2",
		Name:                  "Multiplier2",
		SequencePosition:      1,
		VerificationMechanism: mechanism,
		WorkerHandle:          "i-0abc",
		Artifacts:             types.CircuitArtifacts{PotFilename: "pot12.ptau"},
		WaitingQueue: types.WaitingQueue{
			Contributors:       []string{"alice"},
			CurrentContributor: "alice",
		},
	}
	require.NoError(t, ceremonyDB.SaveCircuit(ctx, circuit))
	participant := &types.Participant{
		UserID:               "alice",
		CeremonyID:           ceremony.ID,
		ContributionProgress: 1,
		Status:               types.StatusContributing,
		Step:                 types.StepVerifying,
		Pending: &types.PendingContribution{
			Hash:            "deadbeef",
			ComputationTime: 4000,
		},
		ContributionStartedAt: 1000,
	}
	require.NoError(t, ceremonyDB.SaveParticipant(ctx, participant))

	svc := New(&Config{
		Database:      ceremonyDB,
		Blobs:         blobs,
		Local:         local,
		Worker:        w,
		NudgeFeed:     feed,
		Software:      types.VerificationSoftware{Name: "snarkjs", Version: "0.7.0"},
		BucketPostfix: "-ph2",
	})
	svc.sleep = func(_ context.Context, _ time.Duration) error { return nil }
	svc.now = func() time.Time { return time.UnixMilli(9000) }

	bucket := blobstore.BucketName(ceremony.Prefix, "-ph2")
	blobs.Put(bucket, blobstore.PotPath("pot12.ptau"), "pot-bytes")
	blobs.Put(bucket, blobstore.InitialZkeyPath("multiplier2"), "genesis-zkey")
	blobs.Put(bucket, blobstore.ZkeyPath("multiplier2", "00001"), "candidate-zkey")

	return &fixture{
		db:       ceremonyDB,
		blobs:    blobs,
		worker:   w,
		local:    local,
		svc:      svc,
		feed:     feed,
		ceremony: ceremony,
		circuit:  circuit,
		bucket:   bucket,
	}
}

func TestVerifyContribution_LocalValid(t *testing.T) {
	ctx := context.Background()
	f := setup(t, types.VerificationLocal)
	nudges := make(chan int64, 1)
	sub := f.feed.Subscribe(nudges)
	defer sub.Unsubscribe()

	res, err := f.svc.VerifyContribution(ctx, "alice", f.ceremony.ID, f.circuit.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, true, res.Valid)
	assert.Equal(t, "00001", res.ZkeyIndex)
	assert.Equal(t, 1, f.local.calls)

	contribution, err := f.db.Contribution(ctx, f.ceremony.ID, f.circuit.ID, "00001")
	require.NoError(t, err)
	assert.Equal(t, true, contribution.Valid)
	assert.Equal(t, "alice", contribution.ParticipantUserID)
	assert.Equal(t, int64(4000), contribution.ContributionComputationTime)
	assert.Equal(t, int64(8000), contribution.FullContributionComputation)
	assert.Equal(t, "aa11", contribution.Files.LastZkeyBlake2bHash)
	assert.NotEqual(t, "", contribution.Files.TranscriptBlake2bHash)
	assert.Equal(t, "snarkjs", contribution.Software.Name)

	transcript, ok := f.blobs.Get(f.bucket, contribution.Files.TranscriptStoragePath)
	require.Equal(t, true, ok)
	assert.Equal(t, "... ZKey Ok! ...", transcript)

	circuit, err := f.db.Circuit(ctx, f.ceremony.ID, f.circuit.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), circuit.WaitingQueue.CompletedContributions)
	assert.Equal(t, int64(4000), circuit.AvgTimings.ContributionComputation)
	assert.Equal(t, int64(8000), circuit.AvgTimings.FullContribution)

	participant, err := f.db.Participant(ctx, "alice", f.ceremony.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusDone, participant.Status)
	assert.Equal(t, types.StepCompleted, participant.Step)
	assert.Equal(t, (*types.PendingContribution)(nil), participant.Pending)
	require.Equal(t, 1, len(participant.Contributions))
	assert.Equal(t, contribution.ID, participant.Contributions[0])

	select {
	case id := <-nudges:
		assert.Equal(t, f.ceremony.ID, id)
	default:
		t.Fatal("Expected a coordinator nudge after verification")
	}
}

func TestVerifyContribution_LocalInvalid(t *testing.T) {
	ctx := context.Background()
	f := setup(t, types.VerificationLocal)
	f.local.valid = false
	f.local.transcript = "zkey check failed"
	f.local.zkeyHash = ""

	res, err := f.svc.VerifyContribution(ctx, "alice", f.ceremony.ID, f.circuit.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, false, res.Valid)

	// The rejected zkey is removed from storage.
	lastZkey := blobstore.ZkeyPath("multiplier2", "00001")
	require.Equal(t, 1, len(f.blobs.Deleted))
	assert.Equal(t, f.bucket+"/"+lastZkey, f.blobs.Deleted[0])

	// The failed attempt leaves the zkey slot free but stays on record.
	_, err = f.db.Contribution(ctx, f.ceremony.ID, f.circuit.ID, "00001")
	require.ErrorIs(t, err, db.ErrNotFound)
	records, err := f.db.CircuitContributions(ctx, f.ceremony.ID, f.circuit.ID)
	require.NoError(t, err)
	require.Equal(t, 1, len(records))
	contribution := records[0]
	assert.Equal(t, false, contribution.Valid)
	assert.Equal(t, "", contribution.Files.LastZkeyBlake2bHash)

	circuit, err := f.db.Circuit(ctx, f.ceremony.ID, f.circuit.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), circuit.WaitingQueue.CompletedContributions)
	assert.Equal(t, uint64(1), circuit.WaitingQueue.FailedContributions)
	assert.Equal(t, int64(0), circuit.AvgTimings.FullContribution)

	participant, err := f.db.Participant(ctx, "alice", f.ceremony.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusContributed, participant.Status)
	assert.Equal(t, types.StepCompleted, participant.Step)
	assert.Equal(t, (*types.PendingContribution)(nil), participant.Pending)
}

func TestVerifyContribution_RemoteValid(t *testing.T) {
	ctx := context.Background()
	f := setup(t, types.VerificationRemote)
	transcriptKey := blobstore.TranscriptPath("multiplier2", "00001", "alice")
	f.blobs.Put(f.bucket, transcriptKey, "\x1b[32mZKey Ok!\x1b[0m")
	f.worker.Statuses = []worker.CommandStatus{worker.StatusInProgress, worker.StatusSuccess}
	f.worker.Output = "Contribution hash: " + "ABCDEF0123456789ABCDEF0123456789ABCDEF0123456789ABCDEF0123456789"

	res, err := f.svc.VerifyContribution(ctx, "alice", f.ceremony.ID, f.circuit.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, true, res.Valid)
	assert.Equal(t, 1, f.worker.StartCalls)
	assert.Equal(t, 1, f.worker.StopCalls)
	require.Equal(t, 1, len(f.worker.RunCommands))

	// The stored transcript has escape sequences stripped.
	transcript, ok := f.blobs.Get(f.bucket, transcriptKey)
	require.Equal(t, true, ok)
	assert.Equal(t, "ZKey Ok!", transcript)

	contribution, err := f.db.Contribution(ctx, f.ceremony.ID, f.circuit.ID, "00001")
	require.NoError(t, err)
	assert.Equal(t, true, contribution.Valid)
	assert.Equal(t, "abcdef0123456789abcdef0123456789abcdef0123456789abcdef0123456789", contribution.Files.LastZkeyBlake2bHash)
}

func TestVerifyContribution_RemoteCommandTimedOut(t *testing.T) {
	ctx := context.Background()
	f := setup(t, types.VerificationRemote)
	f.worker.Statuses = []worker.CommandStatus{worker.StatusInProgress, worker.StatusTimedOut}

	res, err := f.svc.VerifyContribution(ctx, "alice", f.ceremony.ID, f.circuit.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, false, res.Valid)
	assert.Equal(t, 1, f.worker.StopCalls)

	records, err := f.db.CircuitContributions(ctx, f.ceremony.ID, f.circuit.ID)
	require.NoError(t, err)
	require.Equal(t, 1, len(records))
	assert.Equal(t, false, records[0].Valid)

	circuit, err := f.db.Circuit(ctx, f.ceremony.ID, f.circuit.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), circuit.WaitingQueue.FailedContributions)

	participant, err := f.db.Participant(ctx, "alice", f.ceremony.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusContributed, participant.Status)
}

func TestVerifyContribution_WorkerNeverBoots(t *testing.T) {
	ctx := context.Background()
	f := setup(t, types.VerificationRemote)
	f.worker.RunningAfter = workerBootChecks + 1

	_, err := f.svc.VerifyContribution(ctx, "alice", f.ceremony.ID, f.circuit.ID, "alice")
	require.ErrorIs(t, err, ErrWorkerUnavailable)
	// Infrastructure failure: nothing is recorded against the participant.
	_, err = f.db.Contribution(ctx, f.ceremony.ID, f.circuit.ID, "00001")
	require.ErrorIs(t, err, db.ErrNotFound)
	participant, err := f.db.Participant(ctx, "alice", f.ceremony.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusContributing, participant.Status)
	assert.Equal(t, types.StepVerifying, participant.Step)
	// The booted-but-unhealthy instance is still shut down.
	assert.Equal(t, 1, f.worker.StopCalls)
}

func TestVerifyContribution_WrongStep(t *testing.T) {
	ctx := context.Background()
	f := setup(t, types.VerificationLocal)
	participant, err := f.db.Participant(ctx, "alice", f.ceremony.ID)
	require.NoError(t, err)
	participant.Step = types.StepComputing
	require.NoError(t, f.db.SaveParticipant(ctx, participant))

	_, err = f.svc.VerifyContribution(ctx, "alice", f.ceremony.ID, f.circuit.ID, "alice")
	require.ErrorIs(t, err, statemachine.ErrIllegalTransition)
	assert.Equal(t, 0, f.local.calls)
}

func TestVerifyContribution_FinalizingCoordinator(t *testing.T) {
	ctx := context.Background()
	f := setup(t, types.VerificationLocal)
	f.ceremony.State = types.CeremonyClosed
	require.NoError(t, f.db.SaveCeremony(ctx, f.ceremony))
	coordinator := &types.Participant{
		UserID:               "coord",
		CeremonyID:           f.ceremony.ID,
		ContributionProgress: 1,
		Status:               types.StatusFinalizing,
	}
	require.NoError(t, f.db.SaveParticipant(ctx, coordinator))
	f.blobs.Put(f.bucket, blobstore.ZkeyPath("multiplier2", types.FinalZkeyIndex), "final-zkey")

	res, err := f.svc.VerifyContribution(ctx, "coord", f.ceremony.ID, f.circuit.ID, "coord")
	require.NoError(t, err)
	assert.Equal(t, true, res.Valid)
	assert.Equal(t, types.FinalZkeyIndex, res.ZkeyIndex)

	contribution, err := f.db.Contribution(ctx, f.ceremony.ID, f.circuit.ID, types.FinalZkeyIndex)
	require.NoError(t, err)
	assert.Equal(t, true, contribution.Valid)

	// Finalization contributions stay out of the circuit statistics.
	circuit, err := f.db.Circuit(ctx, f.ceremony.ID, f.circuit.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), circuit.WaitingQueue.CompletedContributions)
	assert.Equal(t, types.AvgTimings{}, circuit.AvgTimings)

	updated, err := f.db.Participant(ctx, "coord", f.ceremony.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFinalizing, updated.Status)
}

func TestVerifyContribution_MissingPendingFragment(t *testing.T) {
	ctx := context.Background()
	f := setup(t, types.VerificationLocal)
	participant, err := f.db.Participant(ctx, "alice", f.ceremony.ID)
	require.NoError(t, err)
	participant.Pending = nil
	require.NoError(t, f.db.SaveParticipant(ctx, participant))

	_, err = f.svc.VerifyContribution(ctx, "alice", f.ceremony.ID, f.circuit.ID, "alice")
	require.ErrorIs(t, err, ErrNoInProgressContribution)
}

func TestVerifyContribution_DeleteFailureIsBestEffort(t *testing.T) {
	ctx := context.Background()
	f := setup(t, types.VerificationLocal)
	f.local.valid = false
	f.blobs.FailDelete = true

	res, err := f.svc.VerifyContribution(ctx, "alice", f.ceremony.ID, f.circuit.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, false, res.Valid)
	records, err := f.db.CircuitContributions(ctx, f.ceremony.ID, f.circuit.ID)
	require.NoError(t, err)
	require.Equal(t, 1, len(records))
	assert.Equal(t, false, records[0].Valid)
}

func TestVerifyContribution_FailedAttemptSurvivesNextContribution(t *testing.T) {
	ctx := context.Background()
	f := setup(t, types.VerificationLocal)
	f.local.valid = false

	res, err := f.svc.VerifyContribution(ctx, "alice", f.ceremony.ID, f.circuit.ID, "alice")
	require.NoError(t, err)
	require.Equal(t, false, res.Valid)

	// The slot reopens for the next contributor at the same index.
	require.NoError(t, f.db.SaveParticipant(ctx, &types.Participant{
		UserID:                "bob",
		CeremonyID:            f.ceremony.ID,
		ContributionProgress:  1,
		Status:                types.StatusContributing,
		Step:                  types.StepVerifying,
		Pending:               &types.PendingContribution{Hash: "cafe", ComputationTime: 2000},
		ContributionStartedAt: 2000,
	}))
	f.local.valid = true
	f.blobs.Put(f.bucket, blobstore.ZkeyPath("multiplier2", "00001"), "bob-zkey")

	res, err = f.svc.VerifyContribution(ctx, "bob", f.ceremony.ID, f.circuit.ID, "bob")
	require.NoError(t, err)
	require.Equal(t, true, res.Valid)
	assert.Equal(t, "00001", res.ZkeyIndex)

	circuit, err := f.db.Circuit(ctx, f.ceremony.ID, f.circuit.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), circuit.WaitingQueue.CompletedContributions)
	assert.Equal(t, uint64(1), circuit.WaitingQueue.FailedContributions)

	// Both attempts stay on record and the slot belongs to the valid one.
	records, err := f.db.CircuitContributions(ctx, f.ceremony.ID, f.circuit.ID)
	require.NoError(t, err)
	require.Equal(t, 2, len(records))
	occupant, err := f.db.Contribution(ctx, f.ceremony.ID, f.circuit.ID, "00001")
	require.NoError(t, err)
	assert.Equal(t, "bob", occupant.ParticipantUserID)
	assert.Equal(t, true, occupant.Valid)

	// Alice's back-link still resolves to her failed attempt.
	alice, err := f.db.Participant(ctx, "alice", f.ceremony.ID)
	require.NoError(t, err)
	require.Equal(t, 1, len(alice.Contributions))
	found := false
	for _, r := range records {
		if r.ID == alice.Contributions[0] {
			found = true
			assert.Equal(t, false, r.Valid)
			assert.Equal(t, "alice", r.ParticipantUserID)
		}
	}
	assert.Equal(t, true, found)
}
