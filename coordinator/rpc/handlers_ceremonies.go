package rpc

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/pkg/errors"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/blobstore"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/db"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/lifecycle"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/types"
	"github.com/sirupsen/logrus"
)

func ceremonyIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.URL.Query().Get("ceremonyId"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("missing or invalid ceremonyId")
	}
	return id, nil
}

func (s *Service) listCeremonies(w http.ResponseWriter, r *http.Request) {
	ceremonies, err := s.cfg.Database.Ceremonies(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ceremonies)
}

func (s *Service) listOpenedCeremonies(w http.ResponseWriter, r *http.Request) {
	ceremonies, err := s.cfg.Database.CeremoniesByState(r.Context(), types.CeremonyOpened)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ceremonies)
}

func (s *Service) createCeremony(w http.ResponseWriter, r *http.Request) {
	var req CreateCeremonyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Prefix == "" || req.Title == "" {
		writeStatus(w, http.StatusBadRequest, "prefix and title are required")
		return
	}
	if req.StartDate >= req.EndDate {
		writeStatus(w, http.StatusBadRequest, "startDate must precede endDate")
		return
	}
	switch req.TimeoutMechanism {
	case types.TimeoutDynamic:
		if req.DynamicThreshold <= 0 {
			writeStatus(w, http.StatusBadRequest, "dynamicThreshold must be positive")
			return
		}
	case types.TimeoutFixed:
		if req.FixedTimeWindow <= 0 {
			writeStatus(w, http.StatusBadRequest, "fixedTimeWindow must be positive")
			return
		}
	default:
		writeStatus(w, http.StatusBadRequest, "unknown timeout mechanism")
		return
	}
	ceremony := &types.Ceremony{
		Prefix:           req.Prefix,
		Title:            req.Title,
		Description:      req.Description,
		State:            types.CeremonyScheduled,
		Type:             req.Type,
		CoordinatorID:    userID(r),
		StartDate:        req.StartDate,
		EndDate:          req.EndDate,
		TimeoutMechanism: req.TimeoutMechanism,
		Penalty:          req.Penalty,
		DynamicThreshold: req.DynamicThreshold,
		FixedTimeWindow:  req.FixedTimeWindow,
		AuthProviders:    req.AuthProviders,
	}
	if err := s.cfg.Database.SaveCeremony(r.Context(), ceremony); err != nil {
		writeError(w, err)
		return
	}
	log.WithField("prefix", ceremony.Prefix).Info("Created ceremony")
	writeJSON(w, http.StatusCreated, ceremony)
}

// createCircuits registers a scheduled ceremony's circuits, provisions the
// ceremony bucket and, for remotely verified circuits, a verification worker
// each.
func (s *Service) createCircuits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ceremonyID, err := ceremonyIDParam(r)
	if err != nil {
		writeStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	var req CreateCircuitsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Circuits) == 0 {
		writeStatus(w, http.StatusBadRequest, "at least one circuit is required")
		return
	}
	ceremony, err := s.cfg.Database.Ceremony(ctx, ceremonyID)
	if err != nil {
		writeError(w, err)
		return
	}
	if ceremony.CoordinatorID != userID(r) {
		writeError(w, lifecycle.ErrNotCoordinator)
		return
	}
	if ceremony.State != types.CeremonyScheduled {
		writeStatus(w, http.StatusConflict, "circuits can only be added to a scheduled ceremony")
		return
	}

	bucket := blobstore.BucketName(ceremony.Prefix, s.cfg.BucketPostfix)
	if err := s.cfg.Blobs.CreateBucket(ctx, bucket); err != nil {
		writeError(w, errors.Wrap(err, "could not provision ceremony bucket"))
		return
	}

	circuits := make([]*types.Circuit, 0, len(req.Circuits))
	sort.SliceStable(req.Circuits, func(i, j int) bool {
		return req.Circuits[i].SequencePosition < req.Circuits[j].SequencePosition
	})
	for _, c := range req.Circuits {
		if c.Prefix == "" || c.Name == "" {
			writeStatus(w, http.StatusBadRequest, "circuit prefix and name are required")
			return
		}
		circuit := &types.Circuit{
			CeremonyID:            ceremonyID,
			Prefix:                c.Prefix,
			Name:                  c.Name,
			SequencePosition:      c.SequencePosition,
			VerificationMechanism: c.VerificationMechanism,
			Artifacts:             c.Artifacts,
		}
		if c.VerificationMechanism == types.VerificationRemote {
			script := blobstore.BootstrapScriptPath(c.Name, c.Artifacts.BootstrapFilename)
			handle, err := s.cfg.Worker.Provision(ctx, c.Name, script)
			if err != nil {
				writeError(w, errors.Wrap(err, "could not provision verification worker"))
				return
			}
			circuit.WorkerHandle = handle
		}
		circuits = append(circuits, circuit)
	}

	err = s.cfg.Database.WithTransaction(ctx, func(tx db.Tx) error {
		for _, circuit := range circuits {
			if err := tx.SaveCircuit(ctx, circuit); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	log.WithFields(logrus.Fields{
		"ceremony": ceremonyID,
		"circuits": len(circuits),
	}).Info("Created ceremony circuits")
	writeJSON(w, http.StatusCreated, circuits)
}

func (s *Service) finalizeCeremony(w http.ResponseWriter, r *http.Request) {
	ceremonyID, err := ceremonyIDParam(r)
	if err != nil {
		writeStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.cfg.Lifecycle.Finalize(r.Context(), ceremonyID, userID(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}
