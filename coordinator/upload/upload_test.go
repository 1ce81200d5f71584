package upload

import (
	"context"
	"testing"
	"time"

	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/blobstore"
	blobmock "github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/blobstore/mock"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/db"
	dbtest "github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/db/testing"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/queue"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/statemachine"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	manager  *Manager
	db       db.Database
	blobs    *blobmock.Store
	ceremony *types.Ceremony
	circuit  *types.Circuit
	key      string
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	d := dbtest.SetupDB(t)
	blobs := blobmock.New()
	ceremony := &types.Ceremony{Prefix: "mpc-test", State: types.CeremonyOpened, CoordinatorID: "coord"}
	require.NoError(t, d.SaveCeremony(ctx, ceremony))
	circuit := &types.Circuit{
		CeremonyID:       ceremony.ID,
		Prefix:           "multiplier2",
		SequencePosition: 1,
		WaitingQueue: types.WaitingQueue{
			Contributors:           []string{"alice"},
			CurrentContributor:     "alice",
			CompletedContributions: 2,
		},
	}
	require.NoError(t, d.SaveCircuit(ctx, circuit))
	require.NoError(t, d.SaveParticipant(ctx, &types.Participant{
		UserID:               "alice",
		CeremonyID:           ceremony.ID,
		ContributionProgress: 1,
		Status:               types.StatusContributing,
		Step:                 types.StepUploading,
	}))
	return &fixture{
		manager: New(&Config{
			Database:      d,
			Blobs:         blobs,
			PresignTTL:    15 * time.Minute,
			BucketPostfix: "-ph2",
		}),
		db:       d,
		blobs:    blobs,
		ceremony: ceremony,
		circuit:  circuit,
		key:      blobstore.ZkeyPath("multiplier2", "00003"),
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	uploadID, err := f.manager.Open(ctx, "alice", f.ceremony.ID, f.key)
	require.NoError(t, err)
	assert.Equal(t, "upload-1", uploadID)

	participant, err := f.db.Participant(ctx, "alice", f.ceremony.ID)
	require.NoError(t, err)
	require.NotNil(t, participant.TempUpload)
	assert.Equal(t, uploadID, participant.TempUpload.UploadID)

	// Opening again resumes the same session instead of orphaning it.
	again, err := f.manager.Open(ctx, "alice", f.ceremony.ID, f.key)
	require.NoError(t, err)
	assert.Equal(t, uploadID, again)
}

func TestOpen_RejectsWrongObjectKey(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	// Completed count is 2, so only index 00003 is writable.
	_, err := f.manager.Open(ctx, "alice", f.ceremony.ID, blobstore.ZkeyPath("multiplier2", "00007"))
	require.ErrorIs(t, err, ErrWrongObjectKey)
	_, err = f.manager.Open(ctx, "alice", f.ceremony.ID, "circuits/other/contributions/other_00003.zkey")
	require.ErrorIs(t, err, ErrWrongObjectKey)
}

func TestOpen_RejectsNonUploadingParticipant(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	participant, err := f.db.Participant(ctx, "alice", f.ceremony.ID)
	require.NoError(t, err)
	participant.Step = types.StepComputing
	require.NoError(t, f.db.SaveParticipant(ctx, participant))

	_, err = f.manager.Open(ctx, "alice", f.ceremony.ID, f.key)
	require.ErrorIs(t, err, statemachine.ErrIllegalTransition)
}

func TestOpen_RejectsNonCurrentContributor(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	require.NoError(t, f.db.SaveParticipant(ctx, &types.Participant{
		UserID:               "bob",
		CeremonyID:           f.ceremony.ID,
		ContributionProgress: 1,
		Status:               types.StatusContributing,
		Step:                 types.StepUploading,
	}))

	_, err := f.manager.Open(ctx, "bob", f.ceremony.ID, f.key)
	require.ErrorIs(t, err, queue.ErrNotCurrentContributor)
}

func TestOpen_FinalizingCoordinatorWritesFinalIndex(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	require.NoError(t, f.db.SaveParticipant(ctx, &types.Participant{
		UserID:               "coord",
		CeremonyID:           f.ceremony.ID,
		ContributionProgress: 1,
		Status:               types.StatusFinalizing,
	}))

	finalKey := blobstore.ZkeyPath("multiplier2", types.FinalZkeyIndex)
	uploadID, err := f.manager.Open(ctx, "coord", f.ceremony.ID, finalKey)
	require.NoError(t, err)
	assert.NotEqual(t, "", uploadID)

	// The numbered index is off-limits while finalizing.
	_, err = f.manager.Open(ctx, "coord", f.ceremony.ID, f.key)
	require.ErrorIs(t, err, ErrWrongObjectKey)
}

func TestOpen_FinalizingCoordinatorReachesEveryCircuit(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	require.NoError(t, f.db.SaveCircuit(ctx, &types.Circuit{
		CeremonyID:       f.ceremony.ID,
		Prefix:           "hasher",
		SequencePosition: 2,
	}))
	// Finalization starts with the coordinator past the last circuit.
	require.NoError(t, f.db.SaveParticipant(ctx, &types.Participant{
		UserID:               "coord",
		CeremonyID:           f.ceremony.ID,
		ContributionProgress: 2,
		Status:               types.StatusFinalizing,
	}))

	firstFinal := blobstore.ZkeyPath("multiplier2", types.FinalZkeyIndex)
	uploadID, err := f.manager.Open(ctx, "coord", f.ceremony.ID, firstFinal)
	require.NoError(t, err)
	assert.NotEqual(t, "", uploadID)
	require.NoError(t, f.manager.RecordChunk(ctx, "coord", f.ceremony.ID, types.ETagWithPartNumber{ETag: "aa", PartNumber: 1}))
	require.NoError(t, f.manager.Complete(ctx, "coord", f.ceremony.ID, firstFinal))

	secondFinal := blobstore.ZkeyPath("hasher", types.FinalZkeyIndex)
	_, err = f.manager.Open(ctx, "coord", f.ceremony.ID, secondFinal)
	require.NoError(t, err)

	// Keys outside the ceremony's final paths stay rejected.
	_, err = f.manager.Open(ctx, "coord", f.ceremony.ID, f.key)
	require.ErrorIs(t, err, ErrWrongObjectKey)
}

func TestRecordChunk_IsIdempotentPerPart(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	_, err := f.manager.Open(ctx, "alice", f.ceremony.ID, f.key)
	require.NoError(t, err)

	require.NoError(t, f.manager.RecordChunk(ctx, "alice", f.ceremony.ID, types.ETagWithPartNumber{ETag: "aa", PartNumber: 1}))
	require.NoError(t, f.manager.RecordChunk(ctx, "alice", f.ceremony.ID, types.ETagWithPartNumber{ETag: "bb", PartNumber: 2}))
	// A retried part replaces the earlier acknowledgment.
	require.NoError(t, f.manager.RecordChunk(ctx, "alice", f.ceremony.ID, types.ETagWithPartNumber{ETag: "aa2", PartNumber: 1}))

	chunks, err := f.manager.Chunks(ctx, "alice", f.ceremony.ID)
	require.NoError(t, err)
	require.Equal(t, 2, len(chunks))
	assert.Equal(t, types.ETagWithPartNumber{ETag: "aa2", PartNumber: 1}, chunks[0])
	assert.Equal(t, types.ETagWithPartNumber{ETag: "bb", PartNumber: 2}, chunks[1])
}

func TestRecordChunk_RequiresSession(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	err := f.manager.RecordChunk(ctx, "alice", f.ceremony.ID, types.ETagWithPartNumber{ETag: "aa", PartNumber: 1})
	require.ErrorIs(t, err, ErrNoUploadSession)
}

func TestRecordChunk_RequiresUploadingStep(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	_, err := f.manager.Open(ctx, "alice", f.ceremony.ID, f.key)
	require.NoError(t, err)

	// A participant that moved past UPLOADING loses chunk access even
	// though the session data is still attached.
	participant, err := f.db.Participant(ctx, "alice", f.ceremony.ID)
	require.NoError(t, err)
	participant.Step = types.StepVerifying
	require.NoError(t, f.db.SaveParticipant(ctx, participant))

	err = f.manager.RecordChunk(ctx, "alice", f.ceremony.ID, types.ETagWithPartNumber{ETag: "aa", PartNumber: 1})
	require.ErrorIs(t, err, statemachine.ErrIllegalTransition)
	_, err = f.manager.Chunks(ctx, "alice", f.ceremony.ID)
	require.ErrorIs(t, err, statemachine.ErrIllegalTransition)
}

func TestComplete_SortsPartsAndClearsSession(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	_, err := f.manager.Open(ctx, "alice", f.ceremony.ID, f.key)
	require.NoError(t, err)
	// Acknowledged out of order.
	require.NoError(t, f.manager.RecordChunk(ctx, "alice", f.ceremony.ID, types.ETagWithPartNumber{ETag: "cc", PartNumber: 3}))
	require.NoError(t, f.manager.RecordChunk(ctx, "alice", f.ceremony.ID, types.ETagWithPartNumber{ETag: "aa", PartNumber: 1}))
	require.NoError(t, f.manager.RecordChunk(ctx, "alice", f.ceremony.ID, types.ETagWithPartNumber{ETag: "bb", PartNumber: 2}))

	require.NoError(t, f.manager.Complete(ctx, "alice", f.ceremony.ID, f.key))

	require.Equal(t, 3, len(f.blobs.CompletedParts))
	assert.Equal(t, int32(1), f.blobs.CompletedParts[0].PartNumber)
	assert.Equal(t, int32(2), f.blobs.CompletedParts[1].PartNumber)
	assert.Equal(t, int32(3), f.blobs.CompletedParts[2].PartNumber)

	participant, err := f.db.Participant(ctx, "alice", f.ceremony.ID)
	require.NoError(t, err)
	assert.Equal(t, (*types.TempContributionData)(nil), participant.TempUpload)

	bucket := blobstore.BucketName("mpc-test", "-ph2")
	_, ok := f.blobs.Get(bucket, f.key)
	assert.Equal(t, true, ok)
}
