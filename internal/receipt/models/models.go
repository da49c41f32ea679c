package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Stage is one step of a job's lifecycle. Stages only ever advance; failed is
// terminal from any non-terminal stage.
type Stage string

const (
	StageReceived   Stage = "received"
	StageUploading  Stage = "uploading"
	StageExtracting Stage = "extracting"
	StageForensics  Stage = "forensics"
	StageScoring    Stage = "scoring"
	StageAnchoring  Stage = "anchoring"
	StageComplete   Stage = "complete"
	StageFailed     Stage = "failed"
)

var stageOrder = map[Stage]int{
	StageReceived:   0,
	StageUploading:  1,
	StageExtracting: 2,
	StageForensics:  3,
	StageScoring:    4,
	StageAnchoring:  5,
	StageComplete:   6,
}

// Terminal reports whether no further transition is possible.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageFailed
}

// CanAdvance reports whether a job at stage s may move to next. Failure is
// reachable from every non-terminal stage; otherwise stages move strictly
// forward (skipping anchoring is allowed when it was not requested).
func (s Stage) CanAdvance(next Stage) bool {
	if s.Terminal() {
		return false
	}
	if next == StageFailed {
		return true
	}
	from, ok := stageOrder[s]
	if !ok {
		return false
	}
	to, ok := stageOrder[next]
	if !ok {
		return false
	}
	return to > from
}

// ErrorCause tags the internal reason a job failed or degraded. The cause is
// for operators and tests; users only ever see the fixed message table.
type ErrorCause string

const (
	CauseStorageError           ErrorCause = "StorageError"
	CauseBackendTimeout         ErrorCause = "BackendTimeout"
	CauseBackendUnavailable     ErrorCause = "BackendUnavailable"
	CauseBackendValidationError ErrorCause = "BackendValidationError"
	CauseAnchorError            ErrorCause = "AnchorError"
)

// Verdict is the analysis backend's conclusion about one receipt image.
type Verdict struct {
	TrustScore     int             `json:"trust_score"`
	Label          string          `json:"verdict"`
	Issues         []string        `json:"issues,omitempty"`
	Recommendation string          `json:"recommendation,omitempty"`
	Forensics      ForensicDetails `json:"forensic_details"`
	MerchantRef    string          `json:"merchant_ref,omitempty"`
}

// ForensicDetails are the sub-scores behind a verdict.
type ForensicDetails struct {
	OCRConfidence     float64  `json:"ocr_confidence"`
	ManipulationScore float64  `json:"manipulation_score"`
	MetadataFlags     []string `json:"metadata_flags,omitempty"`
	AgentLogs         []string `json:"agent_logs,omitempty"`
}

// Anchor is the proof written to the external ledger for a completed verdict.
type Anchor struct {
	TransactionRef string    `json:"transaction_ref"`
	ExplorerURL    string    `json:"explorer_url"`
	AnchoredAt     time.Time `json:"anchored_at"`
}

// JobError holds the user-safe failure message plus the internal cause tag.
type JobError struct {
	Cause   ErrorCause `json:"cause"`
	Message string     `json:"message"`
}

// ArtifactRef points at the stored upload.
type ArtifactRef struct {
	URL        string `json:"url"`
	ProviderID string `json:"provider_id"`
}

// Job is one asynchronous verification task for one submitted artifact.
// Jobs are never deleted; they are the audit trail of every verification.
type Job struct {
	ID       string       `json:"receipt_id"`
	OwnerRef string       `json:"owner_ref"`
	Artifact *ArtifactRef `json:"artifact,omitempty"`
	Stage    Stage        `json:"stage"`
	Verdict  *Verdict     `json:"verdict,omitempty"`
	Anchor   *Anchor      `json:"anchor,omitempty"`
	Error    *JobError    `json:"error,omitempty"`
	// Note records non-fatal degradations, e.g. a completed job whose
	// anchoring attempt failed.
	Note            string        `json:"note,omitempty"`
	AnchorRequested bool          `json:"anchor_requested"`
	SubmittedAt     time.Time     `json:"submitted_at"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
	ProcessingTime  time.Duration `json:"-"`
}

// MarshalJSON emits the processing time in whole milliseconds; the duration is
// nanoseconds internally.
func (j *Job) MarshalJSON() ([]byte, error) {
	type alias Job
	return json.Marshal(struct {
		*alias
		ProcessingTimeMs int64 `json:"processing_time_ms,omitempty"`
	}{(*alias)(j), j.ProcessingTime.Milliseconds()})
}

// NewJobID mints an opaque, URL-safe receipt id.
func NewJobID() string {
	return "RCP-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:24]
}
