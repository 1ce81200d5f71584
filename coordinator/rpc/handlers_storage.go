package rpc

import (
	"net/http"

	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/blobstore"
)

func (s *Service) startMultipart(w http.ResponseWriter, r *http.Request) {
	ceremonyID, err := ceremonyIDParam(r)
	if err != nil {
		writeStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	var req ObjectKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	uploadID, err := s.cfg.Uploads.Open(r.Context(), userID(r), ceremonyID, req.ObjectKey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &StartMultipartResponse{UploadID: uploadID})
}

func (s *Service) presignParts(w http.ResponseWriter, r *http.Request) {
	ceremonyID, err := ceremonyIDParam(r)
	if err != nil {
		writeStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	var req PresignPartsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.NumberOfParts <= 0 {
		writeStatus(w, http.StatusBadRequest, "numberOfParts must be positive")
		return
	}
	parts := make([]string, 0, req.NumberOfParts)
	for part := int32(1); part <= req.NumberOfParts; part++ {
		url, err := s.cfg.Uploads.PresignPart(r.Context(), userID(r), ceremonyID, req.ObjectKey, part)
		if err != nil {
			writeError(w, err)
			return
		}
		parts = append(parts, url)
	}
	writeJSON(w, http.StatusOK, &PresignPartsResponse{Parts: parts})
}

func (s *Service) recordChunk(w http.ResponseWriter, r *http.Request) {
	ceremonyID, err := ceremonyIDParam(r)
	if err != nil {
		writeStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	var req RecordChunkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Chunk.PartNumber <= 0 || req.Chunk.ETag == "" {
		writeStatus(w, http.StatusBadRequest, "chunk needs a part number and an ETag")
		return
	}
	caller := userID(r)
	if err := s.cfg.Uploads.RecordChunk(r.Context(), caller, ceremonyID, req.Chunk); err != nil {
		writeError(w, err)
		return
	}
	chunks, err := s.cfg.Uploads.Chunks(r.Context(), caller, ceremonyID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &RecordChunkResponse{Chunks: chunks})
}

func (s *Service) completeMultipart(w http.ResponseWriter, r *http.Request) {
	ceremonyID, err := ceremonyIDParam(r)
	if err != nil {
		writeStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	var req CompleteMultipartRequest
	if err := decodeJSON(r, &req); err != nil {
		writeStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.cfg.Uploads.Complete(r.Context(), userID(r), ceremonyID, req.ObjectKey); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Service) presignGet(w http.ResponseWriter, r *http.Request) {
	ceremonyID, err := ceremonyIDParam(r)
	if err != nil {
		writeStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	var req ObjectKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	ceremony, err := s.cfg.Database.Ceremony(r.Context(), ceremonyID)
	if err != nil {
		writeError(w, err)
		return
	}
	bucket := blobstore.BucketName(ceremony.Prefix, s.cfg.BucketPostfix)
	url, err := s.cfg.Blobs.PresignGet(r.Context(), bucket, req.ObjectKey, s.cfg.PresignTTL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &PresignGetResponse{URL: url})
}
