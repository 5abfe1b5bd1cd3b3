package classify

import (
	"strings"

	"github.com/regbridge/subtrack/internal/core/domain"
)

const fallbackConfidence = 0.5

// keyword groups checked in order; the first group with a hit wins.
type keywordGroup struct {
	category string
	severity domain.Severity
	keywords []string
}

var ackKeywords = []keywordGroup{
	{AckRejection, domain.SeverityError, []string{"reject", "denied", "refus", "not accepted"}},
	{AckAcceptance, domain.SeverityInfo, []string{"accept", "approved", "cleared", "success"}},
	{AckValidation, domain.SeverityWarning, []string{"validat", "schema", "invalid field", "format"}},
	{AckError, domain.SeverityError, []string{"error", "fail", "exception"}},
	{AckReceipt, domain.SeverityInfo, []string{"receipt", "received", "ack"}},
}

var errorKeywords = []keywordGroup{
	{ErrRateLimit, domain.SeverityWarning, []string{"rate limit", "too many requests", "429", "quota", "throttl"}},
	{ErrAuth, domain.SeverityCritical, []string{"unauthorized", "forbidden", "401", "403", "token expired", "certificate"}},
	{ErrNetwork, domain.SeverityWarning, []string{"timeout", "connection", "refused", "unreachable", "dns", "reset by peer"}},
	{ErrValidation, domain.SeverityError, []string{"validation", "invalid", "schema", "malformed", "missing field"}},
	{ErrSystem, domain.SeverityCritical, []string{"internal", "panic", "database", "500", "unavailable"}},
}

// fallback assigns a best-effort category from keyword heuristics when no
// rule matched. Confidence is fixed at 0.5.
func fallback(family, text string) Result {
	groups := errorKeywords
	defaultCategory := ErrSystem
	defaultSeverity := domain.SeverityError
	if family == FamilyAck {
		groups = ackKeywords
		defaultCategory = AckReceipt
		defaultSeverity = domain.SeverityInfo
	}

	for _, g := range groups {
		for _, kw := range g.keywords {
			if strings.Contains(text, kw) {
				return Result{
					Category:   g.category,
					Severity:   g.severity,
					Confidence: fallbackConfidence,
					Fallback:   true,
				}
			}
		}
	}

	return Result{
		Category:   defaultCategory,
		Severity:   defaultSeverity,
		Confidence: fallbackConfidence,
		Fallback:   true,
	}
}
