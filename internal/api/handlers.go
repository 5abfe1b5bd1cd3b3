package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/regbridge/subtrack/internal/core/domain"
	"github.com/regbridge/subtrack/internal/delivery"
	"github.com/regbridge/subtrack/internal/infra/storage"
	"github.com/regbridge/subtrack/internal/process"
	"github.com/regbridge/subtrack/internal/registry"
)

const maxAckBody = 1 << 20 // 1 MiB

// DeadLetterStore is the operator-facing view over parked deliveries.
type DeadLetterStore interface {
	List(ctx context.Context, limit int) ([]*domain.DeadLetter, error)
	Remove(ctx context.Context, itemID string) error
	Count(ctx context.Context) (int64, error)
}

// Pinger reports a dependency's connectivity for health checks.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Handlers bundles the collaborator API dependencies.
type Handlers struct {
	Registry    *registry.Registry
	Submissions storage.SubmissionRepository
	Endpoints   storage.EndpointRepository
	Recipients  storage.RecipientRepository
	Engine      *delivery.Engine
	AckProc     *process.AckProcessor
	ErrProc     *process.ErrorProcessor
	DeadLetters DeadLetterStore
	DB          Pinger
	RedisPing   func(ctx context.Context) error
}

// --- submissions ---

type createSubmissionRequest struct {
	DocumentID  string            `json:"document_id"`
	OrgID       string            `json:"org_id"`
	Type        string            `json:"type"`
	Priority    string            `json:"priority"`
	SubmittedBy string            `json:"submitted_by"`
	Metadata    map[string]string `json:"metadata"`
}

func (h *Handlers) CreateSubmission(w http.ResponseWriter, r *http.Request) {
	var req createSubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub, err := h.Registry.Create(r.Context(), registry.CreateRequest{
		DocumentID:  req.DocumentID,
		OrgID:       req.OrgID,
		Type:        domain.SubmissionType(req.Type),
		Priority:    domain.Priority(req.Priority),
		SubmittedBy: req.SubmittedBy,
		Metadata:    req.Metadata,
	})
	if err != nil {
		if errors.Is(err, registry.ErrPersistence) {
			writeError(w, http.StatusServiceUnavailable, "storage unavailable")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (h *Handlers) GetSubmission(w http.ResponseWriter, r *http.Request) {
	sub, err := h.Registry.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *Handlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.Registry.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

func (h *Handlers) ListSubmissions(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		writeError(w, http.StatusBadRequest, "status query parameter is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	subs, err := h.Submissions.ListByStatus(r.Context(), domain.Status(status), r.URL.Query().Get("org"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list submissions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"submissions": subs, "count": len(subs)})
}

type transitionRequest struct {
	ToStatus string         `json:"to_status"`
	Reason   string         `json:"reason"`
	Metadata map[string]any `json:"metadata"`
}

func (h *Handlers) Transition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ToStatus == "" {
		writeError(w, http.StatusBadRequest, "to_status is required")
		return
	}

	sub, err := h.Registry.Apply(r.Context(), chi.URLParam(r, "id"),
		domain.Status(req.ToStatus), req.Reason, req.Metadata)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *Handlers) CancelSubmission(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Reason == "" {
		req.Reason = "cancelled by operator"
	}

	sub, err := h.Registry.Apply(r.Context(), chi.URLParam(r, "id"),
		domain.StatusCancelled, req.Reason, nil)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *Handlers) Acknowledge(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxAckBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	res, err := h.AckProc.Process(r.Context(), chi.URLParam(r, "id"), body, r.Header.Get("Content-Type"))
	if err != nil {
		if errors.Is(err, process.ErrUnsupportedFormat) {
			writeError(w, http.StatusUnsupportedMediaType, err.Error())
			return
		}
		writeRegistryError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"category":   res.Classification.Category,
		"confidence": res.Classification.Confidence,
		"fallback":   res.Classification.Fallback,
		"applied":    res.Applied,
		"new_status": res.NewStatus,
	})
}

type errorReportRequest struct {
	Source  string         `json:"source"`
	Message string         `json:"message"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details"`
}

func (h *Handlers) ReportError(w http.ResponseWriter, r *http.Request) {
	var req errorReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	res, err := h.ErrProc.Process(r.Context(), domain.ErrorReport{
		SubmissionID: chi.URLParam(r, "id"),
		Source:       req.Source,
		Message:      req.Message,
		Code:         req.Code,
		Details:      req.Details,
	})
	if err != nil {
		writeRegistryError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"category":   res.Category,
		"severity":   res.Severity,
		"confidence": res.Confidence,
		"strategy":   res.Strategy,
	})
}

// --- endpoints / recipients ---

type registerEndpointRequest struct {
	OrgID      string             `json:"org_id"`
	URL        string             `json:"url"`
	AuthMethod string             `json:"auth_method"`
	Secret     string             `json:"secret"`
	Token      string             `json:"token"`
	Username   string             `json:"username"`
	Password   string             `json:"password"`
	APIKeyName string             `json:"api_key_name"`
	Headers    map[string]string  `json:"headers"`
	Filter     domain.EventFilter `json:"filter"`
}

func (h *Handlers) RegisterEndpoint(w http.ResponseWriter, r *http.Request) {
	var req registerEndpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	now := time.Now().UTC()
	ep := &domain.Endpoint{
		ID:         uuid.NewString(),
		OrgID:      req.OrgID,
		URL:        req.URL,
		AuthMethod: domain.AuthMethod(req.AuthMethod),
		Secret:     req.Secret,
		Token:      req.Token,
		Username:   req.Username,
		Password:   req.Password,
		APIKeyName: req.APIKeyName,
		Headers:    req.Headers,
		Filter:     req.Filter,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if ep.AuthMethod == "" {
		ep.AuthMethod = domain.AuthNone
	}

	if err := h.Endpoints.Save(r.Context(), ep); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save endpoint")
		return
	}
	writeJSON(w, http.StatusCreated, ep)
}

func (h *Handlers) GetEndpoint(w http.ResponseWriter, r *http.Request) {
	ep, err := h.Endpoints.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, storage.ErrEndpointNotFound) {
			writeError(w, http.StatusNotFound, "endpoint not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get endpoint")
		return
	}
	writeJSON(w, http.StatusOK, ep)
}

func (h *Handlers) DeactivateEndpoint(w http.ResponseWriter, r *http.Request) {
	err := h.Endpoints.SetActive(r.Context(), chi.URLParam(r, "id"), false)
	if err != nil {
		if errors.Is(err, storage.ErrEndpointNotFound) {
			writeError(w, http.StatusNotFound, "endpoint not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to deactivate endpoint")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type registerRecipientRequest struct {
	OrgID       string             `json:"org_id"`
	Channel     string             `json:"channel"`
	Address     string             `json:"address"`
	Preferences domain.Preferences `json:"preferences"`
}

func (h *Handlers) RegisterRecipient(w http.ResponseWriter, r *http.Request) {
	var req registerRecipientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Channel == "" || req.Address == "" {
		writeError(w, http.StatusBadRequest, "channel and address are required")
		return
	}

	now := time.Now().UTC()
	rc := &domain.Recipient{
		ID:          uuid.NewString(),
		OrgID:       req.OrgID,
		Channel:     domain.Channel(req.Channel),
		Address:     req.Address,
		Preferences: req.Preferences,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.Recipients.Save(r.Context(), rc); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save recipient")
		return
	}
	writeJSON(w, http.StatusCreated, rc)
}

func (h *Handlers) GetRecipient(w http.ResponseWriter, r *http.Request) {
	rc, err := h.Recipients.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, storage.ErrRecipientNotFound) {
			writeError(w, http.StatusNotFound, "recipient not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get recipient")
		return
	}
	writeJSON(w, http.StatusOK, rc)
}

func (h *Handlers) DeactivateRecipient(w http.ResponseWriter, r *http.Request) {
	err := h.Recipients.SetActive(r.Context(), chi.URLParam(r, "id"), false)
	if err != nil {
		if errors.Is(err, storage.ErrRecipientNotFound) {
			writeError(w, http.StatusNotFound, "recipient not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to deactivate recipient")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- dead letters ---

func (h *Handlers) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	if h.DeadLetters == nil {
		writeError(w, http.StatusServiceUnavailable, "dead-letter store not configured")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	letters, err := h.DeadLetters.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list dead letters")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dead_letters": letters, "count": len(letters)})
}

func (h *Handlers) RequeueDeadLetter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Engine.Requeue(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrItemNotFound) {
			writeError(w, http.StatusNotFound, "delivery item not found")
			return
		}
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if h.DeadLetters != nil {
		if err := h.DeadLetters.Remove(r.Context(), id); err != nil {
			slog.Warn("failed to remove dead letter after requeue", "item_id", id, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "requeued", "item_id": id})
}

// --- health ---

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handlers) HealthDetailed(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	report := map[string]any{
		"status":             "healthy",
		"active_submissions": h.Registry.ActiveCount(),
		"target_stats":       h.Engine.Stats().Snapshot(),
	}

	if h.DB != nil {
		if err := h.DB.PingContext(ctx); err != nil {
			report["database"] = "down"
			report["status"] = "degraded"
		} else {
			report["database"] = "up"
		}
	}
	if h.RedisPing != nil {
		if err := h.RedisPing(ctx); err != nil {
			report["redis"] = "down"
			report["status"] = "degraded"
		} else {
			report["redis"] = "up"
		}
	}
	if h.DeadLetters != nil {
		if n, err := h.DeadLetters.Count(ctx); err == nil {
			report["dead_letters"] = n
		}
	}

	status := http.StatusOK
	if report["status"] != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeRegistryError(w http.ResponseWriter, err error) {
	var invalid *registry.InvalidTransitionError
	switch {
	case errors.Is(err, registry.ErrNotFound):
		writeError(w, http.StatusNotFound, "submission not found")
	case errors.As(err, &invalid):
		writeError(w, http.StatusConflict, invalid.Error())
	case errors.Is(err, registry.ErrPersistence):
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
