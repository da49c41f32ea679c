// Package assemble builds the caller-facing payloads from persisted records.
// Everything here is pure: no store access, no counter mutation, no clocks
// beyond the timestamps already on the inputs.
package assemble

import (
	"sort"
	"strings"
	"time"

	"confirmit/internal/account/models"
	"confirmit/internal/business"
)

// maxSummaryReports caps how many individual reports a fraud summary exposes.
const maxSummaryReports = 10

// patternLabels maps description keywords to the human-readable scheme label
// shown in fraud summaries. First match wins, in this order.
var patternLabels = []struct {
	keyword string
	label   string
}{
	{"never received", "Non-delivery of goods/services"},
	{"fake product", "Counterfeit items"},
	{"blocked me", "Communication cutoff after payment"},
	{"different account", "Account switching scam"},
	{"never refund", "Refund refusal"},
}

const defaultPattern = "General fraudulent activity"

// Pattern labels one report description.
func Pattern(description string) string {
	lower := strings.ToLower(description)
	for _, p := range patternLabels {
		if strings.Contains(lower, p.keyword) {
			return p.label
		}
	}
	return defaultPattern
}

// CheckResult is the payload for one account check.
type CheckResult struct {
	Fingerprint    string             `json:"fingerprint"`
	TrustScore     int                `json:"trust_score"`
	RiskTier       models.RiskTier    `json:"risk_tier"`
	CheckCount     int64              `json:"check_count"`
	FraudTotal     int                `json:"fraud_total"`
	FraudRecent30d int                `json:"fraud_recent_30_days"`
	Flags          []string           `json:"flags,omitempty"`
	Business       *LinkedBusiness    `json:"verified_business,omitempty"`
	Cached         bool               `json:"cached"`
	LastCheckedAt  *time.Time         `json:"last_checked_at,omitempty"`
}

// LinkedBusiness is the verified-business subset exposed to callers.
type LinkedBusiness struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Verified   bool   `json:"verified"`
	TrustScore int    `json:"trust_score"`
}

// Check merges a reputation record and an optional verified business into the
// check payload.
func Check(record *models.ReputationRecord, biz *business.Business, cached bool) *CheckResult {
	result := &CheckResult{
		Fingerprint:    record.Fingerprint,
		TrustScore:     record.TrustScore,
		RiskTier:       record.RiskTier,
		CheckCount:     record.CheckCount,
		FraudTotal:     record.FraudTotal,
		FraudRecent30d: record.FraudRecent30d,
		Flags:          record.Flags,
		Cached:         cached,
		LastCheckedAt:  record.LastCheckedAt,
	}
	if biz != nil {
		result.Business = &LinkedBusiness{
			ID:         biz.ID,
			Name:       biz.Name,
			Verified:   biz.Verified,
			TrustScore: biz.TrustScore,
		}
	}
	return result
}

// CategoryCount is one category bucket in a fraud summary.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// SummaryReport is one anonymized report in a fraud summary. Reporter identity
// never leaves the store.
type SummaryReport struct {
	Category       string          `json:"category"`
	Severity       models.Severity `json:"severity"`
	Pattern        string          `json:"pattern"`
	AccountPartial string          `json:"account_partial,omitempty"`
	BusinessLabel  string          `json:"business_label,omitempty"`
	ReportedAt     time.Time       `json:"reported_at"`
	Verified       bool            `json:"verified"`
}

// FraudSummary is the aggregate view of an account's fraud history.
type FraudSummary struct {
	Total      int             `json:"total"`
	Recent30d  int             `json:"recent_30_days"`
	RiskTier   models.RiskTier `json:"risk_tier"`
	Categories []CategoryCount `json:"categories,omitempty"`
	Patterns   []string        `json:"patterns,omitempty"`
	Reports    []SummaryReport `json:"reports,omitempty"`
}

// Summary folds a record and its reports into the fraud summary payload.
// record may be nil when the fingerprint has never been seen; the summary is
// then derived from the reports alone.
func Summary(record *models.ReputationRecord, reports []*models.FraudReport) *FraudSummary {
	summary := &FraudSummary{RiskTier: models.RiskLow}
	if record != nil {
		summary.Total = record.FraudTotal
		summary.Recent30d = record.FraudRecent30d
		summary.RiskTier = record.RiskTier
	} else {
		summary.Total = len(reports)
	}

	counts := make(map[string]int)
	seenPatterns := make(map[string]bool)
	for _, report := range reports {
		counts[report.Category]++
		if pattern := Pattern(report.Description); !seenPatterns[pattern] {
			seenPatterns[pattern] = true
			summary.Patterns = append(summary.Patterns, pattern)
		}
		if len(summary.Reports) < maxSummaryReports {
			summary.Reports = append(summary.Reports, SummaryReport{
				Category:       report.Category,
				Severity:       report.Severity,
				Pattern:        Pattern(report.Description),
				AccountPartial: report.AccountPartial,
				BusinessLabel:  report.BusinessLabel,
				ReportedAt:     report.ReportedAt,
				Verified:       report.Verified,
			})
		}
	}

	for category, count := range counts {
		summary.Categories = append(summary.Categories, CategoryCount{Category: category, Count: count})
	}
	sort.Slice(summary.Categories, func(i, j int) bool {
		if summary.Categories[i].Count != summary.Categories[j].Count {
			return summary.Categories[i].Count > summary.Categories[j].Count
		}
		return summary.Categories[i].Category < summary.Categories[j].Category
	})

	return summary
}
