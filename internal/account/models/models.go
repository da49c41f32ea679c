package models

import (
	"strings"
	"time"
)

// RiskTier classifies an account for user-facing risk messaging.
type RiskTier string

const (
	RiskLow    RiskTier = "low"
	RiskMedium RiskTier = "medium"
	RiskHigh   RiskTier = "high"
)

// Severity grades a fraud report.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

const (
	// NeutralScore seeds a record created by a first check before backend
	// data arrives.
	NeutralScore = 50
	// ReportedScore seeds a record whose first sighting is a fraud report.
	ReportedScore = 30
	// FraudPenalty is subtracted from the trust score per report, floored
	// at zero.
	FraudPenalty = 15
)

// ReputationRecord is the cached, refreshable trust state for one hashed
// account fingerprint. Only the account store mutates it; the trust score is
// lowered by fraud reports or replaced by a backend refresh, never raised by
// the act of checking.
type ReputationRecord struct {
	Fingerprint       string     `json:"fingerprint"`
	BankCode          string     `json:"bank_code,omitempty"`
	TrustScore        int        `json:"trust_score"`
	RiskTier          RiskTier   `json:"risk_tier"`
	CheckCount        int64      `json:"check_count"`
	LastCheckedAt     *time.Time `json:"last_checked_at,omitempty"`
	FraudTotal        int        `json:"fraud_total"`
	FraudRecent30d    int        `json:"fraud_recent_30_days"`
	Flags             []string   `json:"flags,omitempty"`
	LinkedBusinessRef string     `json:"linked_business_ref,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Fresh reports whether the record was refreshed from the backend within the
// given window. A record that never completed a refresh is always stale.
func (r *ReputationRecord) Fresh(now time.Time, window time.Duration) bool {
	if r == nil || r.LastCheckedAt == nil {
		return false
	}
	return now.Sub(*r.LastCheckedAt) < window
}

// FraudReport is one community-submitted allegation. Rows are append-only and
// never mutated after creation; the reputation record carries the running
// aggregates.
type FraudReport struct {
	ID             string    `json:"id"`
	Fingerprint    string    `json:"fingerprint"`
	AccountPartial string    `json:"account_partial,omitempty"`
	BusinessLabel  string    `json:"business_label,omitempty"`
	Category       string    `json:"category"`
	Severity       Severity  `json:"severity"`
	Description    string    `json:"description"`
	ReporterRef    string    `json:"reporter_ref"`
	ReportedAt     time.Time `json:"reported_at"`
	Verified       bool      `json:"verified"`
}

// DeriveRiskTier is the canonical tier function. It is pure and its
// thresholds drive user-facing messaging, so any change here is a product
// decision, not a refactor.
func DeriveRiskTier(fraudTotal, trustScore int) RiskTier {
	if fraudTotal >= 5 || trustScore < 30 {
		return RiskHigh
	}
	if fraudTotal >= 2 || trustScore < 60 {
		return RiskMedium
	}
	return RiskLow
}

var (
	highRiskCategories = []string{"account takeover", "identity theft", "large financial loss"}
	highRiskKeywords   = []string{"scam", "stole", "never received", "blocked me", "fake"}
)

// ClassifySeverity grades a report from its category and description.
// Note: the default branch returns medium, so SeverityLow is currently
// unreachable. That matches the deployed behavior; lowering the default is an
// open product question rather than a code fix.
func ClassifySeverity(category, description string) Severity {
	categoryLower := strings.ToLower(category)
	descriptionLower := strings.ToLower(description)

	for _, cat := range highRiskCategories {
		if strings.Contains(categoryLower, cat) {
			return SeverityHigh
		}
	}
	for _, kw := range highRiskKeywords {
		if strings.Contains(descriptionLower, kw) {
			return SeverityHigh
		}
	}
	if len(descriptionLower) > 200 {
		return SeverityMedium
	}
	return SeverityMedium
}

// ApplyPenalty returns the trust score after one fraud report.
func ApplyPenalty(score int) int {
	return max(0, score-FraudPenalty)
}

// FlagForCategory is the flag string appended to a record per report.
func FlagForCategory(category string) string {
	return "Fraud report: " + category
}

// MaskAccountNumber keeps a displayable fragment of the raw identifier
// ("123***89") so reports can be shown without exposing the account.
func MaskAccountNumber(accountNumber string) string {
	if len(accountNumber) < 6 {
		return "***"
	}
	return accountNumber[:3] + "***" + accountNumber[len(accountNumber)-2:]
}
