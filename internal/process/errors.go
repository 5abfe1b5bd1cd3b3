package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/regbridge/subtrack/internal/classify"
	"github.com/regbridge/subtrack/internal/core/domain"
	"github.com/regbridge/subtrack/internal/registry"
)

// ErrorProcessor classifies internally raised error reports and applies
// the remediation the winning rule prescribes. Failures here are recovered
// locally; background loops never crash on a bad report.
type ErrorProcessor struct {
	registry *registry.Registry
	engine   *classify.Engine
}

func NewErrorProcessor(reg *registry.Registry, engine *classify.Engine) *ErrorProcessor {
	return &ErrorProcessor{registry: reg, engine: engine}
}

// Process classifies one error report and applies its resolution strategy.
func (p *ErrorProcessor) Process(ctx context.Context, report domain.ErrorReport) (classify.Result, error) {
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	if report.OccurredAt.IsZero() {
		report.OccurredAt = time.Now().UTC()
	}

	fields := map[string]any{
		"message": report.Message,
		"code":    report.Code,
		"source":  report.Source,
	}
	for k, v := range report.Details {
		if _, exists := fields[k]; !exists {
			fields[k] = v
		}
	}

	res, err := p.engine.Classify(classify.FamilyError, fields)
	if err != nil {
		return classify.Result{}, fmt.Errorf("failed to classify error report: %w", err)
	}
	if res.Fallback {
		slog.Warn("ambiguous error report, keyword fallback used",
			"submission_id", report.SubmissionID, "category", res.Category)
	}

	slog.Info("error report classified",
		"report_id", report.ID,
		"submission_id", report.SubmissionID,
		"category", res.Category,
		"severity", res.Severity,
		"confidence", res.Confidence,
		"strategy", res.Strategy)

	if report.SubmissionID == "" {
		return res, nil
	}

	meta := map[string]any{
		"error_report_id": report.ID,
		"category":        res.Category,
		"severity":        string(res.Severity),
		"confidence":      res.Confidence,
		"error":           report.Message,
	}

	var target domain.Status
	switch res.Strategy {
	case classify.StrategyRetry:
		target = domain.StatusRetry
	case classify.StrategyFail, classify.StrategyEscalate:
		target = domain.StatusFailed
	default:
		// Informational: classify, record, leave the status alone.
		return res, nil
	}

	reason := fmt.Sprintf("%s error: %s", res.Category, truncate(report.Message, 200))
	if _, err := p.registry.Apply(ctx, report.SubmissionID, target, reason, meta); err != nil {
		var invalid *registry.InvalidTransitionError
		if errors.As(err, &invalid) {
			// Terminal or mid-flight record: nothing to remediate.
			slog.Debug("error remediation skipped",
				"submission_id", report.SubmissionID, "target", target, "error", err)
			return res, nil
		}
		return res, err
	}
	return res, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
