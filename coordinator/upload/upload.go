// Package upload tracks multipart upload sessions for contribution proving
// keys. The session state lives on the participant record so an interrupted
// upload can resume with the same upload id and the already-acknowledged
// chunks.
package upload

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/blobstore"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/db"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/queue"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/statemachine"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/types"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "upload")

var (
	// ErrWrongObjectKey is returned when the requested object key is not
	// the one the participant is entitled to write.
	ErrWrongObjectKey = errors.New("object key does not match the expected contribution path")
	// ErrNoUploadSession is returned when a chunk or completion arrives
	// without an open multipart session.
	ErrNoUploadSession = errors.New("participant has no open upload session")
)

// Config holds the upload manager's collaborators.
type Config struct {
	Database      db.Database
	Blobs         blobstore.BlobStore
	PresignTTL    time.Duration
	BucketPostfix string
}

// Manager guards multipart uploads: only the current contributor in the
// UPLOADING step (or the finalizing coordinator) may open a session, and only
// for the exact object key of their next contribution.
type Manager struct {
	cfg *Config
}

// New creates an upload session manager.
func New(cfg *Config) *Manager {
	return &Manager{cfg: cfg}
}

// target is the bucket and object key a participant is entitled to write.
type target struct {
	bucket string
	key    string
}

// uploadEntitled rejects participants that are not in the middle of an
// upload: only the current contributor in the UPLOADING step and the
// finalizing coordinator hold upload sessions.
func uploadEntitled(p *types.Participant) error {
	if p.Status == types.StatusFinalizing {
		return nil
	}
	if p.Status != types.StatusContributing || p.Step != types.StepUploading {
		return statemachine.ErrIllegalTransition
	}
	return nil
}

// authorize checks the participant's entitlement and returns the expected
// upload target. Contributors may only write the next zkey index of their
// current circuit; a finalizing coordinator may write the final zkey of any
// circuit of the ceremony.
func (m *Manager) authorize(ctx context.Context, tx db.Tx, userID string, ceremonyID int64, objectKey string) (*target, *types.Participant, error) {
	ceremony, err := tx.Ceremony(ctx, ceremonyID)
	if err != nil {
		return nil, nil, err
	}
	participant, err := tx.Participant(ctx, userID, ceremonyID)
	if err != nil {
		return nil, nil, err
	}
	if err := uploadEntitled(participant); err != nil {
		return nil, nil, err
	}
	circuits, err := tx.Circuits(ctx, ceremonyID)
	if err != nil {
		return nil, nil, err
	}
	bucket := blobstore.BucketName(ceremony.Prefix, m.cfg.BucketPostfix)

	if participant.Status == types.StatusFinalizing {
		for _, circuit := range circuits {
			if objectKey == blobstore.ZkeyPath(circuit.Prefix, types.FinalZkeyIndex) {
				return &target{bucket: bucket, key: objectKey}, participant, nil
			}
		}
		return nil, nil, errors.Wrap(ErrWrongObjectKey, "want a final zkey path of this ceremony")
	}

	progress := participant.ContributionProgress
	if progress < 1 || progress > len(circuits) {
		return nil, nil, statemachine.ErrIllegalTransition
	}
	circuit := circuits[progress-1]
	if circuit.WaitingQueue.CurrentContributor != userID {
		return nil, nil, queue.ErrNotCurrentContributor
	}
	expected := blobstore.ZkeyPath(circuit.Prefix, types.FormatZkeyIndex(circuit.WaitingQueue.CompletedContributions+1))
	if objectKey != expected {
		return nil, nil, errors.Wrapf(ErrWrongObjectKey, "want %s", expected)
	}
	return &target{bucket: bucket, key: expected}, participant, nil
}

// Open starts, or resumes, the participant's multipart upload session for
// the given object key and returns the upload id.
func (m *Manager) Open(ctx context.Context, userID string, ceremonyID int64, objectKey string) (string, error) {
	var (
		tgt      *target
		existing string
	)
	err := m.cfg.Database.WithTransaction(ctx, func(tx db.Tx) error {
		t, participant, err := m.authorize(ctx, tx, userID, ceremonyID, objectKey)
		if err != nil {
			return err
		}
		tgt = t
		if participant.TempUpload != nil {
			existing = participant.TempUpload.UploadID
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if existing != "" {
		log.WithFields(logrus.Fields{
			"user":     userID,
			"uploadId": existing,
		}).Debug("Resuming existing upload session")
		return existing, nil
	}

	uploadID, err := m.cfg.Blobs.OpenMultipart(ctx, tgt.bucket, tgt.key)
	if err != nil {
		return "", errors.Wrap(err, "could not open multipart upload")
	}
	err = m.cfg.Database.WithTransaction(ctx, func(tx db.Tx) error {
		participant, err := tx.Participant(ctx, userID, ceremonyID)
		if err != nil {
			return err
		}
		participant.TempUpload = &types.TempContributionData{UploadID: uploadID}
		return tx.SaveParticipant(ctx, participant)
	})
	if err != nil {
		return "", err
	}
	return uploadID, nil
}

// PresignPart returns a presigned URL for uploading one part of the open
// session.
func (m *Manager) PresignPart(ctx context.Context, userID string, ceremonyID int64, objectKey string, partNumber int32) (string, error) {
	var (
		tgt      *target
		uploadID string
	)
	err := m.cfg.Database.WithTransaction(ctx, func(tx db.Tx) error {
		t, participant, err := m.authorize(ctx, tx, userID, ceremonyID, objectKey)
		if err != nil {
			return err
		}
		if participant.TempUpload == nil {
			return ErrNoUploadSession
		}
		tgt = t
		uploadID = participant.TempUpload.UploadID
		return nil
	})
	if err != nil {
		return "", err
	}
	return m.cfg.Blobs.PresignPart(ctx, tgt.bucket, tgt.key, uploadID, partNumber, m.cfg.PresignTTL)
}

// RecordChunk stores one uploaded part's ETag on the session. Re-sent parts
// overwrite the previous acknowledgment.
func (m *Manager) RecordChunk(ctx context.Context, userID string, ceremonyID int64, chunk types.ETagWithPartNumber) error {
	return m.cfg.Database.WithTransaction(ctx, func(tx db.Tx) error {
		participant, err := tx.Participant(ctx, userID, ceremonyID)
		if err != nil {
			return err
		}
		if err := uploadEntitled(participant); err != nil {
			return err
		}
		if participant.TempUpload == nil {
			return ErrNoUploadSession
		}
		replaced := false
		for i, c := range participant.TempUpload.Chunks {
			if c.PartNumber == chunk.PartNumber {
				participant.TempUpload.Chunks[i] = chunk
				replaced = true
				break
			}
		}
		if !replaced {
			participant.TempUpload.Chunks = append(participant.TempUpload.Chunks, chunk)
		}
		return tx.SaveParticipant(ctx, participant)
	})
}

// Chunks returns the parts acknowledged so far, for clients resuming an
// interrupted upload.
func (m *Manager) Chunks(ctx context.Context, userID string, ceremonyID int64) ([]types.ETagWithPartNumber, error) {
	var chunks []types.ETagWithPartNumber
	err := m.cfg.Database.WithTransaction(ctx, func(tx db.Tx) error {
		participant, err := tx.Participant(ctx, userID, ceremonyID)
		if err != nil {
			return err
		}
		if err := uploadEntitled(participant); err != nil {
			return err
		}
		if participant.TempUpload == nil {
			return ErrNoUploadSession
		}
		chunks = append(chunks, participant.TempUpload.Chunks...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// Complete assembles the uploaded parts into the final object and discards
// the session.
func (m *Manager) Complete(ctx context.Context, userID string, ceremonyID int64, objectKey string) error {
	var (
		tgt      *target
		uploadID string
		parts    []types.ETagWithPartNumber
	)
	err := m.cfg.Database.WithTransaction(ctx, func(tx db.Tx) error {
		t, participant, err := m.authorize(ctx, tx, userID, ceremonyID, objectKey)
		if err != nil {
			return err
		}
		if participant.TempUpload == nil {
			return ErrNoUploadSession
		}
		tgt = t
		uploadID = participant.TempUpload.UploadID
		parts = append(parts, participant.TempUpload.Chunks...)
		return nil
	})
	if err != nil {
		return err
	}
	// The blob store requires parts in ascending order regardless of the
	// order they were acknowledged in.
	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })
	if err := m.cfg.Blobs.CompleteMultipart(ctx, tgt.bucket, tgt.key, uploadID, parts); err != nil {
		return errors.Wrap(err, "could not complete multipart upload")
	}
	return m.cfg.Database.WithTransaction(ctx, func(tx db.Tx) error {
		participant, err := tx.Participant(ctx, userID, ceremonyID)
		if err != nil {
			return err
		}
		participant.TempUpload = nil
		return tx.SaveParticipant(ctx, participant)
	})
}
