package rpc

import (
	"net/http"
	"strconv"
)

func (s *Service) verifyContribution(w http.ResponseWriter, r *http.Request) {
	ceremonyID, err := ceremonyIDParam(r)
	if err != nil {
		writeStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	var req VerifyContributionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.CircuitID <= 0 || req.ContributorIdentifier == "" {
		writeStatus(w, http.StatusBadRequest, "circuitId and contributorIdentifier are required")
		return
	}
	res, err := s.cfg.Verifier.VerifyContribution(r.Context(), userID(r), ceremonyID, req.CircuitID, req.ContributorIdentifier)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &VerifyContributionResponse{Valid: res.Valid, ZkeyIndex: res.ZkeyIndex})
}

func (s *Service) finalizeCircuit(w http.ResponseWriter, r *http.Request) {
	ceremonyID, err := ceremonyIDParam(r)
	if err != nil {
		writeStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	var req FinalizeCircuitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.CircuitID <= 0 || req.Beacon == "" {
		writeStatus(w, http.StatusBadRequest, "circuitId and beacon are required")
		return
	}
	if err := s.cfg.Lifecycle.FinalizeCircuit(r.Context(), ceremonyID, req.CircuitID, userID(r), req.Beacon); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

// currentContributor answers queue-head lookups from the scheduler's
// in-memory index, falling back to the database when the circuit is not
// indexed yet.
func (s *Service) currentContributor(w http.ResponseWriter, r *http.Request) {
	ceremonyID, err := ceremonyIDParam(r)
	if err != nil {
		writeStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	circuitID, err := strconv.ParseInt(r.URL.Query().Get("circuitId"), 10, 64)
	if err != nil || circuitID <= 0 {
		writeStatus(w, http.StatusBadRequest, "missing or invalid circuitId")
		return
	}
	if s.cfg.Scheduler != nil {
		if head, ok := s.cfg.Scheduler.CurrentContributor(ceremonyID, circuitID); ok {
			writeJSON(w, http.StatusOK, &CurrentContributorResponse{CurrentContributor: head})
			return
		}
	}
	circuit, err := s.cfg.Database.Circuit(r.Context(), ceremonyID, circuitID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &CurrentContributorResponse{
		CurrentContributor: circuit.WaitingQueue.CurrentContributor,
	})
}
