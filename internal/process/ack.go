package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/regbridge/subtrack/internal/classify"
	"github.com/regbridge/subtrack/internal/core/domain"
	"github.com/regbridge/subtrack/internal/registry"
)

// AckResult is what an inbound acknowledgment produced.
type AckResult struct {
	Classification classify.Result
	Applied        bool
	NewStatus      domain.Status
}

// AckProcessor interprets inbound authority acknowledgments: detect format,
// classify, then drive the matching registry transition. Fan-out to
// webhooks/notifications rides on the registry's status events.
type AckProcessor struct {
	registry *registry.Registry
	engine   *classify.Engine
	errors   *ErrorProcessor
}

func NewAckProcessor(reg *registry.Registry, engine *classify.Engine, errProc *ErrorProcessor) *AckProcessor {
	return &AckProcessor{registry: reg, engine: engine, errors: errProc}
}

// Process handles one inbound acknowledgment payload.
func (p *AckProcessor) Process(ctx context.Context, submissionID string, payload []byte, contentType string) (*AckResult, error) {
	fields, err := ParsePayload(payload, contentType)
	if err != nil {
		return nil, err
	}

	res, err := p.engine.Classify(classify.FamilyAck, fields)
	if err != nil {
		return nil, fmt.Errorf("failed to classify acknowledgment: %w", err)
	}
	if res.Fallback {
		// Low-confidence path: log and continue.
		slog.Warn("ambiguous acknowledgment, keyword fallback used",
			"submission_id", submissionID, "category", res.Category, "confidence", res.Confidence)
	}

	meta := map[string]any{
		"category":      res.Category,
		"confidence":    res.Confidence,
		"matched_rules": res.MatchedRules,
	}
	if ref := extractRef(fields); ref != "" {
		meta["authority_ref"] = ref
	}
	if msg := extractMessageID(fields); msg != "" {
		meta["authority_msg"] = msg
	}
	reason := fmt.Sprintf("authority acknowledgment: %s", res.Category)

	out := &AckResult{Classification: res}

	switch res.Category {
	case classify.AckAcceptance:
		out.NewStatus = domain.StatusAccepted
	case classify.AckRejection:
		out.NewStatus = domain.StatusRejected
	case classify.AckReceipt, classify.AckValidation:
		out.NewStatus = domain.StatusProcessing
	case classify.AckError:
		// Not a status verdict: route through the error processor.
		if _, err := p.errors.Process(ctx, domain.ErrorReport{
			SubmissionID: submissionID,
			Source:       "authority",
			Message:      fmt.Sprint(fields["error"]),
			Details:      fields,
		}); err != nil {
			return nil, err
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown acknowledgment category %q", res.Category)
	}

	sub, err := p.registry.Apply(ctx, submissionID, out.NewStatus, reason, meta)
	if err != nil {
		var invalid *registry.InvalidTransitionError
		if errors.As(err, &invalid) && invalid.From == out.NewStatus {
			// Duplicate acknowledgment: at-least-once delivery upstream
			// means replays happen; they must not double-apply.
			slog.Debug("duplicate acknowledgment ignored",
				"submission_id", submissionID, "status", out.NewStatus)
			return out, nil
		}
		return nil, err
	}

	out.Applied = true
	slog.Info("acknowledgment processed",
		"submission_id", submissionID,
		"category", res.Category,
		"confidence", res.Confidence,
		"new_status", sub.Status)
	return out, nil
}

// Reprocess replays a previously recorded classification instead of
// re-parsing the raw payload (retries are deterministic even if rules
// changed since the original attempt).
func (p *AckProcessor) Reprocess(ctx context.Context, submissionID string) (*AckResult, error) {
	history, err := p.registry.History(ctx, submissionID)
	if err != nil {
		return nil, err
	}

	for i := len(history) - 1; i >= 0; i-- {
		tr := history[i]
		category, ok := tr.Metadata["category"].(string)
		if !ok || category == "" {
			continue
		}
		confidence, _ := tr.Metadata["confidence"].(float64)
		res := classify.Result{Category: category, Confidence: confidence}

		out := &AckResult{Classification: res, NewStatus: tr.To}
		if _, err := p.registry.Apply(ctx, submissionID, tr.To, "acknowledgment replay", tr.Metadata); err != nil {
			var invalid *registry.InvalidTransitionError
			if errors.As(err, &invalid) {
				return out, nil
			}
			return nil, err
		}
		out.Applied = true
		return out, nil
	}
	return nil, fmt.Errorf("no recorded classification for submission %s", submissionID)
}

// Authority reference fields seen across acknowledgment schemas.
var refFields = []string{"authority_ref", "reference", "ref", "receipt_id", "registration_number"}

var msgFields = []string{"message_id", "authority_msg", "msg_id", "uuid"}

func extractRef(fields map[string]any) string {
	return firstString(fields, refFields)
}

func extractMessageID(fields map[string]any) string {
	return firstString(fields, msgFields)
}

func firstString(fields map[string]any, names []string) string {
	for _, name := range names {
		if v, ok := fields[name].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
