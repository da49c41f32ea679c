// Package analyzer is the client for the external AI analysis service. The
// service is a paid collaborator: every call is billed, so the client never
// retries on its own and the orchestrator makes at most one call per job.
package analyzer

import (
	"context"
	"errors"
	"fmt"
)

// Typed failure kinds. Callers branch on these to pick the user-safe message;
// they never parse error text.
var (
	// ErrTimeout means the bounded call deadline elapsed.
	ErrTimeout = errors.New("analysis backend timed out")
	// ErrUnavailable means the backend could not be reached at all.
	ErrUnavailable = errors.New("analysis backend unavailable")
)

// ValidationError is a backend-reported rejection of the input itself
// (bad image, unsupported format). Message may be empty.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message == "" {
		return "analysis backend rejected input"
	}
	return e.Message
}

// ReceiptAnalysis is the single tagged result shape for document analysis.
// Optional fields are explicit; nothing downstream sniffs loose JSON.
type ReceiptAnalysis struct {
	TrustScore     int      `json:"trust_score"`
	Verdict        string   `json:"verdict"`
	Issues         []string `json:"issues"`
	Recommendation string   `json:"recommendation"`
	ForensicDetails struct {
		OCRConfidence     float64  `json:"ocr_confidence"`
		ManipulationScore float64  `json:"manipulation_score"`
		MetadataFlags     []string `json:"metadata_flags"`
	} `json:"forensic_details"`
	AgentLogs []string `json:"agent_logs"`
	Merchant  string   `json:"merchant"`
}

// Validate enforces the response contract at the boundary so internal
// components can trust the shape.
func (a *ReceiptAnalysis) Validate() error {
	if a.TrustScore < 0 || a.TrustScore > 100 {
		return fmt.Errorf("trust_score %d out of range", a.TrustScore)
	}
	if a.Verdict == "" {
		return errors.New("missing verdict")
	}
	return nil
}

// AccountReputation is the tagged result shape for account checks.
type AccountReputation struct {
	TrustScore   int    `json:"trust_score"`
	RiskLabel    string `json:"risk_level"`
	FraudSummary struct {
		Total       int `json:"total"`
		Recent30Day int `json:"recent_30_days"`
	} `json:"fraud_reports"`
	VerifiedBusinessID string   `json:"verified_business_id"`
	Flags              []string `json:"flags"`
}

// Validate enforces the response contract at the boundary.
func (a *AccountReputation) Validate() error {
	if a.TrustScore < 0 || a.TrustScore > 100 {
		return fmt.Errorf("trust_score %d out of range", a.TrustScore)
	}
	return nil
}

// Client is what the orchestrator and trust cache depend on.
type Client interface {
	// AnalyzeReceipt runs the full extraction/forensics/scoring pipeline
	// for one stored image. One network call backs all three stages.
	AnalyzeReceipt(ctx context.Context, imageURL, jobID string) (*ReceiptAnalysis, error)
	// CheckReputation scores one hashed account fingerprint.
	CheckReputation(ctx context.Context, fingerprint, bankCode, businessLabel string) (*AccountReputation, error)
}
