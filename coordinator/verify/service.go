// Package verify orchestrates the verification of uploaded contributions,
// either in-process or on a remote verification worker, and records the
// outcome against the circuit and the participant.
package verify

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/pkg/errors"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/blobstore"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/db"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/statemachine"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/types"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/worker"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "verifier")

var (
	// ErrWorkerUnavailable is returned when a remote worker does not come
	// up within the boot window.
	ErrWorkerUnavailable = errors.New("remote verification worker unavailable")
	// ErrCancelled is returned when the caller's context ends during
	// verification; no contribution record is written.
	ErrCancelled = errors.New("verification cancelled by caller")
	// ErrNoInProgressContribution is returned when a valid verification has
	// no pending contribution fragment to attach to.
	ErrNoInProgressContribution = errors.New("no in-progress contribution fragment for participant")
)

const (
	workerBootWait     = 60 * time.Second
	workerPollInterval = 60 * time.Second
	workerBootChecks   = 5
)

// Config holds the collaborators of the verifier.
type Config struct {
	Database      db.Database
	Blobs         blobstore.BlobStore
	Local         LocalVerifier
	Worker        worker.VerificationWorker
	NudgeFeed     *event.Feed
	Software      types.VerificationSoftware
	BucketPostfix string
}

// Service runs contribution verifications end-to-end.
type Service struct {
	cfg *Config
	// sleep and now are swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// New builds a verifier from configuration values.
func New(cfg *Config) *Service {
	return &Service{cfg: cfg, sleep: sleepContext, now: time.Now}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ErrCancelled
	case <-t.C:
		return nil
	}
}

// Result reports the outcome of one verification.
type Result struct {
	Valid     bool
	ZkeyIndex string
}

// task carries the immutable inputs of one verification, derived up front in
// a consistent snapshot.
type task struct {
	ceremony       *types.Ceremony
	circuit        *types.Circuit
	userID         string
	finalizing     bool
	bucket         string
	zkeyIndex      string
	lastZkeyPath   string
	transcriptPath string
}

// VerifyContribution checks the contribution the caller just uploaded for
// the given circuit and records the outcome. For a FINALIZING coordinator of
// a closed ceremony, the contribution is recorded under the sentinel "final"
// index and circuit averages are left untouched.
func (s *Service) VerifyContribution(ctx context.Context, userID string, ceremonyID, circuitID int64, identifier string) (*Result, error) {
	tk, err := s.prepare(ctx, userID, ceremonyID, circuitID, identifier)
	if err != nil {
		return nil, err
	}

	tmpDir, err := os.MkdirTemp("", "ceremony-verify-*")
	if err != nil {
		return nil, errors.Wrap(err, "could not create temporary directory")
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			log.WithError(err).Debug("Could not remove temporary directory")
		}
	}()

	remote := tk.circuit.VerificationMechanism == types.VerificationRemote
	if remote {
		defer s.stopWorker(ctx, tk.circuit.WorkerHandle)
	}

	started := s.now()
	var (
		valid          bool
		transcriptFile string
		zkeyHash       string
	)
	if remote {
		valid, transcriptFile, zkeyHash, err = s.runRemote(ctx, tk, tmpDir)
	} else {
		valid, transcriptFile, zkeyHash, err = s.runLocal(ctx, tk, tmpDir)
	}
	verifyTime := s.now().Sub(started).Milliseconds()
	verificationSeconds.Observe(float64(verifyTime) / 1000)
	if err != nil {
		verificationsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	res, err := s.record(ctx, tk, valid, transcriptFile, zkeyHash, verifyTime)
	if err != nil {
		verificationsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if valid {
		verificationsTotal.WithLabelValues("valid").Inc()
	} else {
		verificationsTotal.WithLabelValues("invalid").Inc()
	}
	// Wake the coordinator so the queue advances without waiting for the
	// next tick.
	s.cfg.NudgeFeed.Send(tk.ceremony.ID)
	return res, nil
}

// prepare validates preconditions and derives storage paths in one snapshot.
func (s *Service) prepare(ctx context.Context, userID string, ceremonyID, circuitID int64, identifier string) (*task, error) {
	var tk *task
	err := s.cfg.Database.WithTransaction(ctx, func(tx db.Tx) error {
		ceremony, err := tx.Ceremony(ctx, ceremonyID)
		if err != nil {
			return err
		}
		circuit, err := tx.Circuit(ctx, ceremonyID, circuitID)
		if err != nil {
			return err
		}
		participant, err := tx.Participant(ctx, userID, ceremonyID)
		if err != nil {
			return err
		}
		finalizing := participant.Status == types.StatusFinalizing
		if finalizing {
			if ceremony.State != types.CeremonyClosed || ceremony.CoordinatorID != userID {
				return statemachine.ErrIllegalTransition
			}
		} else if participant.Status != types.StatusContributing || participant.Step != types.StepVerifying {
			return statemachine.ErrIllegalTransition
		}
		zkeyIndex := types.FinalZkeyIndex
		if !finalizing {
			zkeyIndex = types.FormatZkeyIndex(circuit.WaitingQueue.CompletedContributions + 1)
		}
		tk = &task{
			ceremony:       ceremony,
			circuit:        circuit,
			userID:         userID,
			finalizing:     finalizing,
			bucket:         blobstore.BucketName(ceremony.Prefix, s.cfg.BucketPostfix),
			zkeyIndex:      zkeyIndex,
			lastZkeyPath:   blobstore.ZkeyPath(circuit.Prefix, zkeyIndex),
			transcriptPath: blobstore.TranscriptPath(circuit.Prefix, zkeyIndex, identifier),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tk, nil
}

// runRemote drives the remote worker: boot, dispatch, poll, and collect the
// transcript. A command that ends in any terminal status other than SUCCESS
// counts as an invalid contribution.
func (s *Service) runRemote(ctx context.Context, tk *task, tmpDir string) (bool, string, string, error) {
	w := s.cfg.Worker
	handle := tk.circuit.WorkerHandle
	if err := w.Start(ctx, handle); err != nil {
		return false, "", "", errors.Wrap(err, "could not start worker")
	}
	if err := s.sleep(ctx, workerBootWait); err != nil {
		return false, "", "", err
	}
	running := false
	for i := 0; i < workerBootChecks; i++ {
		ok, err := w.IsRunning(ctx, handle)
		if err != nil {
			return false, "", "", errors.Wrap(err, "could not check worker status")
		}
		if ok {
			running = true
			break
		}
		if err := s.sleep(ctx, workerPollInterval); err != nil {
			return false, "", "", err
		}
	}
	if !running {
		return false, "", "", ErrWorkerUnavailable
	}

	commandID, err := w.Run(ctx, handle, worker.VerificationCommand(tk.bucket, tk.lastZkeyPath, tk.transcriptPath))
	if err != nil {
		return false, "", "", errors.Wrap(err, "could not dispatch verification command")
	}
	for {
		status, err := w.PollStatus(ctx, handle, commandID)
		if err != nil {
			return false, "", "", errors.Wrap(err, "could not poll verification command")
		}
		if status == worker.StatusSuccess {
			break
		}
		if !status.Terminal() {
			if err := s.sleep(ctx, workerPollInterval); err != nil {
				return false, "", "", err
			}
			continue
		}
		log.WithFields(logrus.Fields{
			"status":  status,
			"circuit": tk.circuit.Prefix,
		}).Warn("Verification command did not succeed")
		return false, "", "", nil
	}

	local := filepath.Join(tmpDir, "transcript.log")
	if err := s.cfg.Blobs.DownloadToPath(ctx, tk.bucket, tk.transcriptPath, local); err != nil {
		return false, "", "", errors.Wrap(err, "could not download worker transcript")
	}
	raw, err := os.ReadFile(local)
	if err != nil {
		return false, "", "", errors.Wrap(err, "could not read worker transcript")
	}
	if !TranscriptValid(string(raw)) {
		return false, local, "", nil
	}
	clean := StripANSI(string(raw))
	if err := os.WriteFile(local, []byte(clean), 0600); err != nil {
		return false, "", "", errors.Wrap(err, "could not rewrite transcript")
	}
	if err := s.cfg.Blobs.UploadFromString(ctx, tk.bucket, tk.transcriptPath, clean); err != nil {
		return false, "", "", errors.Wrap(err, "could not re-upload cleaned transcript")
	}
	output, err := w.FetchOutput(ctx, handle, commandID)
	if err != nil {
		return false, "", "", errors.Wrap(err, "could not fetch command output")
	}
	return true, local, ExtractZkeyHash(output), nil
}

// runLocal downloads the artifacts and verifies in-process.
func (s *Service) runLocal(ctx context.Context, tk *task, tmpDir string) (bool, string, string, error) {
	potPath := filepath.Join(tmpDir, "pot.ptau")
	initialPath := filepath.Join(tmpDir, "initial.zkey")
	lastPath := filepath.Join(tmpDir, "last.zkey")
	downloads := []struct{ key, path string }{
		{blobstore.PotPath(tk.circuit.Artifacts.PotFilename), potPath},
		{blobstore.InitialZkeyPath(tk.circuit.Prefix), initialPath},
		{tk.lastZkeyPath, lastPath},
	}
	for _, d := range downloads {
		if err := s.cfg.Blobs.DownloadToPath(ctx, tk.bucket, d.key, d.path); err != nil {
			return false, "", "", errors.Wrapf(err, "could not download %s", d.key)
		}
	}
	valid, transcript, zkeyHash, err := s.cfg.Local.Verify(ctx, potPath, initialPath, lastPath)
	if err != nil {
		return false, "", "", errors.Wrap(err, "local verification failed")
	}
	local := filepath.Join(tmpDir, "transcript.log")
	clean := StripANSI(transcript)
	if err := os.WriteFile(local, []byte(clean), 0600); err != nil {
		return false, "", "", errors.Wrap(err, "could not write transcript")
	}
	if valid {
		if err := s.cfg.Blobs.UploadFromString(ctx, tk.bucket, tk.transcriptPath, clean); err != nil {
			return false, "", "", errors.Wrap(err, "could not upload transcript")
		}
	}
	return valid, local, zkeyHash, nil
}

// record persists the verification outcome: the contribution row, the
// circuit statistics and the participant transition, all in one transaction.
func (s *Service) record(ctx context.Context, tk *task, valid bool, transcriptFile, zkeyHash string, verifyTime int64) (*Result, error) {
	if !valid {
		// Best-effort cleanup of the rejected zkey.
		if err := s.cfg.Blobs.DeleteObject(ctx, tk.bucket, tk.lastZkeyPath); err != nil {
			log.WithError(err).Warn("Could not delete invalid zkey object")
		}
	}
	var transcriptHash string
	if valid {
		var err error
		transcriptHash, err = Blake2b512File(transcriptFile)
		if err != nil {
			return nil, err
		}
	}

	err := s.cfg.Database.WithTransaction(ctx, func(tx db.Tx) error {
		participant, err := tx.Participant(ctx, tk.userID, tk.ceremony.ID)
		if err != nil {
			return err
		}
		circuit, err := tx.Circuit(ctx, tk.ceremony.ID, tk.circuit.ID)
		if err != nil {
			return err
		}
		circuits, err := tx.Circuits(ctx, tk.ceremony.ID)
		if err != nil {
			return err
		}
		now := s.now().UnixMilli()

		contribution := &types.Contribution{
			ParticipantUserID:           tk.userID,
			CeremonyID:                  tk.ceremony.ID,
			CircuitID:                   tk.circuit.ID,
			ZkeyIndex:                   tk.zkeyIndex,
			VerificationComputationTime: verifyTime,
			Files: types.ContributionFiles{
				TranscriptStoragePath: tk.transcriptPath,
				LastZkeyStoragePath:   tk.lastZkeyPath,
			},
			Software: s.cfg.Software,
			Valid:    valid,
		}
		if participant.Pending != nil {
			contribution.ContributionComputationTime = participant.Pending.ComputationTime
		}
		if !tk.finalizing && participant.ContributionStartedAt > 0 {
			contribution.FullContributionComputation = now - participant.ContributionStartedAt
		}

		if valid {
			if !tk.finalizing && participant.Pending == nil {
				return ErrNoInProgressContribution
			}
			contribution.Files.TranscriptBlake2bHash = transcriptHash
			contribution.Files.LastZkeyBlake2bHash = zkeyHash
			if err := tx.SaveContribution(ctx, contribution); err != nil {
				return err
			}
			participant.Contributions = append(participant.Contributions, contribution.ID)
			if !tk.finalizing {
				circuit.WaitingQueue.CompletedContributions++
				updateAverages(circuit, contribution)
				if err := statemachine.RecordValidContribution(participant, len(circuits)); err != nil {
					return err
				}
			}
		} else {
			if err := tx.SaveContribution(ctx, contribution); err != nil {
				return err
			}
			participant.Contributions = append(participant.Contributions, contribution.ID)
			circuit.WaitingQueue.FailedContributions++
			if !tk.finalizing {
				if err := statemachine.RecordInvalidContribution(participant); err != nil {
					return err
				}
			}
		}
		participant.Pending = nil
		participant.TempUpload = nil

		if err := tx.SaveCircuit(ctx, circuit); err != nil {
			return err
		}
		return tx.SaveParticipant(ctx, participant)
	})
	if err != nil {
		return nil, err
	}
	return &Result{Valid: valid, ZkeyIndex: tk.zkeyIndex}, nil
}

// updateAverages folds a valid contribution into the circuit's running
// means.
func updateAverages(circuit *types.Circuit, c *types.Contribution) {
	n := int64(circuit.WaitingQueue.CompletedContributions)
	if n <= 0 {
		return
	}
	avg := &circuit.AvgTimings
	avg.ContributionComputation += (c.ContributionComputationTime - avg.ContributionComputation) / n
	avg.FullContribution += (c.FullContributionComputation - avg.FullContribution) / n
	avg.VerifyCompute += (c.VerificationComputationTime - avg.VerifyCompute) / n
}

func (s *Service) stopWorker(ctx context.Context, handle string) {
	if err := s.cfg.Worker.Stop(ctx, handle); err != nil {
		log.WithError(err).WithField("handle", handle).Warn("Could not stop verification worker")
	}
}
