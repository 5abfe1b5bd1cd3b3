package classify

import "github.com/regbridge/subtrack/internal/core/domain"

// Response strategies attached to rules, consumed by the processors.
const (
	StrategyAccept   = "accept"
	StrategyReject   = "reject"
	StrategyProgress = "progress"
	StrategyRetry    = "retry"
	StrategyFail     = "fail"
	StrategyEscalate = "escalate"
)

// builtinRules are the default rule families. External rule files merge
// over these at startup.
func builtinRules() []Rule {
	return []Rule{
		// --- acknowledgment family ---
		{
			ID: "ack-acceptance", Family: FamilyAck, Priority: 100,
			Category: AckAcceptance, Severity: domain.SeverityInfo,
			Threshold: 0.6, Strategy: StrategyAccept,
			Predicates: []Predicate{
				{Field: "status", Op: OpContains, Value: "accept", Weight: 2},
				{Field: "result", Op: OpContains, Value: "approved", Weight: 1},
				{Field: "code", Op: OpRegex, Value: `^(0|2\d\d|OK)$`, Weight: 1},
			},
		},
		{
			ID: "ack-rejection", Family: FamilyAck, Priority: 100,
			Category: AckRejection, Severity: domain.SeverityError,
			Threshold: 0.6, Strategy: StrategyReject,
			Predicates: []Predicate{
				{Field: "status", Op: OpContains, Value: "reject", Weight: 2},
				{Field: "result", Op: OpContains, Value: "denied", Weight: 1},
				{Field: "error.code", Op: OpPrefix, Value: "REJ", Weight: 1},
			},
		},
		{
			ID: "ack-validation", Family: FamilyAck, Priority: 90,
			Category: AckValidation, Severity: domain.SeverityWarning,
			Threshold: 0.5, Strategy: StrategyProgress,
			Predicates: []Predicate{
				{Field: "status", Op: OpContains, Value: "validat", Weight: 2},
				{Field: "stage", Op: OpEquals, Value: "validation", Weight: 1},
			},
		},
		{
			ID: "ack-error", Family: FamilyAck, Priority: 80,
			Category: AckError, Severity: domain.SeverityError,
			Threshold: 0.5, Strategy: StrategyEscalate,
			Predicates: []Predicate{
				{Field: "status", Op: OpContains, Value: "error", Weight: 2},
				{Field: "error.message", Op: OpRegex, Value: `.+`, Weight: 1},
			},
		},
		{
			ID: "ack-receipt", Family: FamilyAck, Priority: 50,
			Category: AckReceipt, Severity: domain.SeverityInfo,
			Threshold: 0.5, Strategy: StrategyProgress,
			Predicates: []Predicate{
				{Field: "status", Op: OpContains, Value: "receiv", Weight: 2},
				{Field: "type", Op: OpEquals, Value: "receipt", Weight: 1},
			},
		},

		// --- error family ---
		{
			ID: "err-rate-limit", Family: FamilyError, Priority: 100,
			Category: ErrRateLimit, Severity: domain.SeverityWarning,
			Threshold: 0.5, Strategy: StrategyRetry,
			Predicates: []Predicate{
				{Field: "message", Op: OpContains, Value: "rate limit", Weight: 2},
				{Field: "code", Op: OpEquals, Value: "429", Weight: 2},
			},
		},
		{
			ID: "err-auth", Family: FamilyError, Priority: 95,
			Category: ErrAuth, Severity: domain.SeverityCritical,
			Threshold: 0.5, Strategy: StrategyEscalate,
			Predicates: []Predicate{
				{Field: "message", Op: OpRegex, Value: `(?i)(unauthorized|forbidden|auth)`, Weight: 2},
				{Field: "code", Op: OpRegex, Value: `^40[13]$`, Weight: 2},
			},
		},
		{
			ID: "err-network", Family: FamilyError, Priority: 90,
			Category: ErrNetwork, Severity: domain.SeverityWarning,
			Threshold: 0.5, Strategy: StrategyRetry,
			Predicates: []Predicate{
				{Field: "message", Op: OpRegex, Value: `(?i)(timeout|connection|unreachable|refused)`, Weight: 2},
				{Field: "source", Op: OpEquals, Value: "transport", Weight: 1},
			},
		},
		{
			ID: "err-validation", Family: FamilyError, Priority: 85,
			Category: ErrValidation, Severity: domain.SeverityError,
			Threshold: 0.5, Strategy: StrategyFail,
			Predicates: []Predicate{
				{Field: "message", Op: OpRegex, Value: `(?i)(validation|invalid|schema|malformed)`, Weight: 2},
				{Field: "source", Op: OpEquals, Value: "validator", Weight: 1},
			},
		},
		{
			ID: "err-system", Family: FamilyError, Priority: 50,
			Category: ErrSystem, Severity: domain.SeverityCritical,
			Threshold: 0.5, Strategy: StrategyEscalate,
			Predicates: []Predicate{
				{Field: "message", Op: OpRegex, Value: `(?i)(internal|panic|database|unavailable)`, Weight: 2},
				{Field: "code", Op: OpPrefix, Value: "5", Weight: 1},
			},
		},
	}
}
