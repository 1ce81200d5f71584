package rpc

import "github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/types"

// CreateCeremonyRequest is the body of POST /ceremonies/create.
type CreateCeremonyRequest struct {
	Prefix           string                 `json:"prefix"`
	Title            string                 `json:"title"`
	Description      string                 `json:"description"`
	Type             types.CeremonyType     `json:"type"`
	StartDate        int64                  `json:"startDate"`
	EndDate          int64                  `json:"endDate"`
	TimeoutMechanism types.TimeoutMechanism `json:"timeoutMechanismType"`
	Penalty          int64                  `json:"penalty"`
	DynamicThreshold int64                  `json:"dynamicThreshold,omitempty"`
	FixedTimeWindow  int64                  `json:"fixedTimeWindow,omitempty"`
	AuthProviders    []string               `json:"authProviders,omitempty"`
}

// CreateCircuitRequest describes one circuit of POST /ceremonies/create-circuits.
type CreateCircuitRequest struct {
	Prefix                string                      `json:"prefix"`
	Name                  string                      `json:"name"`
	SequencePosition      int                         `json:"sequencePosition"`
	VerificationMechanism types.VerificationMechanism `json:"verificationMechanism"`
	Artifacts             types.CircuitArtifacts      `json:"artifacts"`
}

// CreateCircuitsRequest is the body of POST /ceremonies/create-circuits.
type CreateCircuitsRequest struct {
	Circuits []CreateCircuitRequest `json:"circuits"`
}

// CheckParticipantResponse is the body of GET /participants/check.
type CheckParticipantResponse struct {
	CanContribute bool `json:"canContribute"`
}

// StoreContributionHashRequest is the body of
// POST /participants/store-contribution-hash.
type StoreContributionHashRequest struct {
	Hash            string `json:"hash"`
	ComputationTime int64  `json:"computationTime"`
}

// ObjectKeyRequest carries a single blob-store object key.
type ObjectKeyRequest struct {
	ObjectKey string `json:"objectKey"`
}

// StartMultipartResponse is the body of POST /storage/start-multipart.
type StartMultipartResponse struct {
	UploadID string `json:"uploadId"`
}

// PresignPartsRequest is the body of POST /storage/presign-parts.
type PresignPartsRequest struct {
	ObjectKey     string `json:"objectKey"`
	UploadID      string `json:"uploadId"`
	NumberOfParts int32  `json:"numberOfParts"`
}

// PresignPartsResponse lists one URL per requested part, in part order.
type PresignPartsResponse struct {
	Parts []string `json:"parts"`
}

// RecordChunkRequest is the body of POST /storage/record-chunk.
type RecordChunkRequest struct {
	Chunk types.ETagWithPartNumber `json:"chunk"`
}

// RecordChunkResponse returns every chunk acknowledged so far.
type RecordChunkResponse struct {
	Chunks []types.ETagWithPartNumber `json:"chunks"`
}

// CompleteMultipartRequest is the body of POST /storage/complete-multipart.
type CompleteMultipartRequest struct {
	ObjectKey string `json:"objectKey"`
	UploadID  string `json:"uploadId"`
}

// PresignGetResponse is the body of POST /storage/presign-get.
type PresignGetResponse struct {
	URL string `json:"url"`
}

// VerifyContributionRequest is the body of POST /circuits/verify-contribution.
type VerifyContributionRequest struct {
	CircuitID             int64  `json:"circuitId"`
	ContributorIdentifier string `json:"contributorIdentifier"`
}

// VerifyContributionResponse is the outcome of a verification.
type VerifyContributionResponse struct {
	Valid     bool   `json:"valid"`
	ZkeyIndex string `json:"zkeyIndex"`
}

// FinalizeCircuitRequest is the body of POST /circuits/finalize.
type FinalizeCircuitRequest struct {
	CircuitID int64  `json:"circuitId"`
	Beacon    string `json:"beacon"`
}

// CurrentContributorResponse is the body of GET /circuits/current-contributor.
type CurrentContributorResponse struct {
	CurrentContributor string `json:"currentContributor"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
