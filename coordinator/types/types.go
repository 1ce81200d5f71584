// Package types holds the data model of the trusted-setup ceremony
// coordinator: ceremonies, circuits, participants and contributions, along
// with the enums that drive the participant state machine.
package types

import "fmt"

// CeremonyState is the lifecycle state of a ceremony.
type CeremonyState string

// Ceremony lifecycle states. Transitions are monotone through the enum,
// except PAUSED which can only be entered from OPENED and left back to
// OPENED. A FINALIZED ceremony is immutable.
const (
	CeremonyScheduled CeremonyState = "SCHEDULED"
	CeremonyOpened    CeremonyState = "OPENED"
	CeremonyPaused    CeremonyState = "PAUSED"
	CeremonyClosed    CeremonyState = "CLOSED"
	CeremonyFinalized CeremonyState = "FINALIZED"
)

// CeremonyType distinguishes phase 1 (universal) from phase 2
// (circuit-specific) setups.
type CeremonyType string

const (
	CeremonyPhase1 CeremonyType = "PHASE1"
	CeremonyPhase2 CeremonyType = "PHASE2"
)

// TimeoutMechanism selects how contribution time budgets are computed.
type TimeoutMechanism string

const (
	TimeoutDynamic TimeoutMechanism = "DYNAMIC"
	TimeoutFixed   TimeoutMechanism = "FIXED"
)

// VerificationMechanism selects where a circuit's contributions are verified.
type VerificationMechanism string

const (
	VerificationLocal  VerificationMechanism = "LOCAL"
	VerificationRemote VerificationMechanism = "REMOTE"
)

// ParticipantStatus is the coarse state of a participant within a ceremony.
type ParticipantStatus string

const (
	StatusWaiting      ParticipantStatus = "WAITING"
	StatusReady        ParticipantStatus = "READY"
	StatusContributing ParticipantStatus = "CONTRIBUTING"
	StatusContributed  ParticipantStatus = "CONTRIBUTED"
	StatusDone         ParticipantStatus = "DONE"
	StatusTimedOut     ParticipantStatus = "TIMEDOUT"
	StatusExhumed      ParticipantStatus = "EXHUMED"
	StatusFinalizing   ParticipantStatus = "FINALIZING"
	StatusFinalized    ParticipantStatus = "FINALIZED"
)

// ContributionStep is the fine-grained step of an in-flight contribution.
// The zero value means "no step", used while a participant is not actively
// contributing.
type ContributionStep string

const (
	StepNone        ContributionStep = ""
	StepDownloading ContributionStep = "DOWNLOADING"
	StepComputing   ContributionStep = "COMPUTING"
	StepUploading   ContributionStep = "UPLOADING"
	StepVerifying   ContributionStep = "VERIFYING"
	StepCompleted   ContributionStep = "COMPLETED"
)

// TimeoutKind labels why a participant was timed out.
type TimeoutKind string

const (
	TimeoutBlockingContribution TimeoutKind = "BLOCKING_CONTRIBUTION"
	TimeoutBlockingVerification TimeoutKind = "BLOCKING_VERIFICATION"
)

// FinalZkeyIndex is the sentinel zkey index used for the coordinator's
// finalization contribution. Other components of the ecosystem depend on the
// literal value.
const FinalZkeyIndex = "final"

// FormatZkeyIndex renders a 1-based contribution number as the fixed-width
// index used in storage paths, e.g. 1 -> "00001".
func FormatZkeyIndex(n uint64) string {
	return fmt.Sprintf("%05d", n)
}

// Ceremony is a coordination unit producing one proving key per circuit.
type Ceremony struct {
	ID               int64            `json:"id"`
	Prefix           string           `json:"prefix"` // blob-store namespace slug
	Title            string           `json:"title"`
	Description      string           `json:"description"`
	State            CeremonyState    `json:"state"`
	Type             CeremonyType     `json:"type"`
	CoordinatorID    string           `json:"coordinatorId"`
	StartDate        int64            `json:"startDate"` // epoch ms
	EndDate          int64            `json:"endDate"`   // epoch ms
	TimeoutMechanism TimeoutMechanism `json:"timeoutMechanismType"`
	Penalty          int64            `json:"penalty"` // seconds
	// DynamicThreshold is the percentage of the circuit's average full
	// contribution time granted to a contributor under the DYNAMIC
	// mechanism.
	DynamicThreshold int64 `json:"dynamicThreshold,omitempty"`
	// FixedTimeWindow is the flat contribution window in seconds under the
	// FIXED mechanism.
	FixedTimeWindow int64    `json:"fixedTimeWindow,omitempty"`
	AuthProviders   []string `json:"authProviders,omitempty"`
	// ProviderPolicies carries the provider-specific reputation policy
	// blobs; the coordinator treats them as opaque.
	ProviderPolicies map[string]string `json:"providerPolicies,omitempty"`
}

// AvgTimings are per-circuit running means in milliseconds, updated only on
// valid contributions.
type AvgTimings struct {
	ContributionComputation int64 `json:"contributionComputation"`
	FullContribution        int64 `json:"fullContribution"`
	VerifyCompute           int64 `json:"verifyCloudFunction"`
}

// WaitingQueue is the per-circuit FIFO of participants wanting to
// contribute. CurrentContributor, when non-empty, equals Contributors[0].
type WaitingQueue struct {
	Contributors           []string `json:"contributors"`
	CurrentContributor     string   `json:"currentContributor"`
	CompletedContributions uint64   `json:"completedContributions"`
	FailedContributions    uint64   `json:"failedContributions"`
}

// CircuitArtifacts records the storage layout and sizes of a circuit's
// static artifacts.
type CircuitArtifacts struct {
	PotFilename       string `json:"potFilename"`
	PotSizeBytes      int64  `json:"potSizeBytes"`
	InitialZkeySize   int64  `json:"initialZkeySizeBytes"`
	BootstrapFilename string `json:"bootstrapFilename,omitempty"`
}

// Circuit is one zero-knowledge circuit within a ceremony; the unit of
// serialization for contribution.
type Circuit struct {
	ID                    int64                 `json:"id"`
	CeremonyID            int64                 `json:"ceremonyId"`
	Prefix                string                `json:"prefix"`
	Name                  string                `json:"name"`
	SequencePosition      int                   `json:"sequencePosition"`
	VerificationMechanism VerificationMechanism `json:"verificationMechanism"`
	// WorkerHandle identifies the remote verification worker for REMOTE
	// circuits; empty otherwise.
	WorkerHandle string           `json:"workerHandle,omitempty"`
	Artifacts    CircuitArtifacts `json:"artifacts"`
	AvgTimings   AvgTimings       `json:"avgTimings"`
	WaitingQueue WaitingQueue     `json:"waitingQueue"`
}

// Timeout is one time-budget violation attached to a participant. It is
// active while EndDate has not passed.
type Timeout struct {
	StartDate int64       `json:"startDate"` // epoch ms
	EndDate   int64       `json:"endDate"`   // epoch ms
	Kind      TimeoutKind `json:"type"`
}

// ETagWithPartNumber is one uploaded multipart chunk acknowledgment.
type ETagWithPartNumber struct {
	ETag       string `json:"ETag"`
	PartNumber int32  `json:"PartNumber"`
}

// TempContributionData tracks a participant's in-flight multipart upload so
// an interrupted upload can be resumed.
type TempContributionData struct {
	UploadID string               `json:"uploadId"`
	Chunks   []ETagWithPartNumber `json:"chunks"`
}

// PendingContribution is the participant's in-progress contribution
// fragment: the hash and computation time reported by the client before the
// contribution record exists.
type PendingContribution struct {
	Hash            string `json:"hash"`
	ComputationTime int64  `json:"computationTime"` // ms
}

// Participant is a (userId, ceremonyId) pair moving through the contribution
// state machine. Participants are created on first admission and never
// deleted.
type Participant struct {
	UserID     string `json:"userId"`
	CeremonyID int64  `json:"ceremonyId"`
	// ContributionProgress is the 1-based index of the circuit currently
	// being contributed; 0 means not yet started.
	ContributionProgress int               `json:"contributionProgress"`
	Status               ParticipantStatus `json:"status"`
	Step                 ContributionStep  `json:"contributionStep,omitempty"`
	// Contributions holds ids of Contribution records for circuits already
	// attempted, in circuit order.
	Contributions         []int64               `json:"contributions,omitempty"`
	Pending               *PendingContribution  `json:"pendingContribution,omitempty"`
	ContributionStartedAt int64                 `json:"contributionStartedAt,omitempty"` // epoch ms
	VerificationStartedAt int64                 `json:"verificationStartedAt,omitempty"` // epoch ms
	TempUpload            *TempContributionData `json:"tempContributionData,omitempty"`
	Timeouts              []Timeout             `json:"timeouts,omitempty"`
}

// HasActiveTimeout reports whether any attached timeout is still in force at
// the given instant.
func (p *Participant) HasActiveTimeout(now int64) bool {
	for _, t := range p.Timeouts {
		if t.EndDate >= now {
			return true
		}
	}
	return false
}

// VerificationSoftware describes the tool that verified a contribution.
type VerificationSoftware struct {
	Name       string `json:"name"`
	Version    string `json:"version"`
	CommitHash string `json:"commitHash"`
}

// ContributionFiles locates a contribution's artifacts in the blob store.
type ContributionFiles struct {
	TranscriptStoragePath string `json:"transcriptStoragePath"`
	LastZkeyStoragePath   string `json:"lastZkeyStoragePath"`
	TranscriptBlake2bHash string `json:"transcriptBlake2bHash,omitempty"`
	LastZkeyBlake2bHash   string `json:"lastZkeyBlake2bHash,omitempty"`
}

// Contribution is the immutable record of one attempted contribution by one
// participant to one circuit. The effective primary key is
// (CeremonyID, CircuitID, ZkeyIndex).
type Contribution struct {
	ID                int64  `json:"id"`
	ParticipantUserID string `json:"participantUserId"`
	CeremonyID        int64  `json:"ceremonyId"`
	CircuitID         int64  `json:"circuitId"`
	// ZkeyIndex is a fixed-width numeric string, or the sentinel "final"
	// for the coordinator's finalization record.
	ZkeyIndex                    string               `json:"zkeyIndex"`
	ContributionComputationTime  int64                `json:"contributionComputationTime"`  // ms
	VerificationComputationTime  int64                `json:"verificationComputationTime"`  // ms
	FullContributionComputation  int64                `json:"fullContributionComputation"`  // ms
	Files                        ContributionFiles    `json:"files"`
	Software                     VerificationSoftware `json:"verificationSoftware"`
	Valid                        bool                 `json:"valid"`
	Beacon                       string               `json:"beacon,omitempty"`
}
