// Package httpapi exposes the service over a JSON HTTP API.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/promptforge/promptforge"
)

// Handler serves the JSON API.
type Handler struct {
	svc    *promptforge.Service
	logger *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the handler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// NewHandler creates an API handler over the service.
func NewHandler(svc *promptforge.Service, opts ...Option) *Handler {
	h := &Handler{
		svc:    svc,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the service mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/frameworks/match", h.handleMatch)
	mux.HandleFunc("POST /api/v1/prompts/generate", h.handleGenerate)
	mux.HandleFunc("GET /api/v1/quota", h.handleQuota)
	mux.HandleFunc("GET /api/v1/versions", h.handleVersions)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /{$}", h.handleRoot)
	return mux
}

type matchRequest struct {
	Input string           `json:"input"`
	Tier  promptforge.Tier `json:"account_type"`
}

type matchResponse struct {
	Frameworks []promptforge.FrameworkCandidate `json:"frameworks"`
}

func (h *Handler) handleMatch(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "request body is not valid JSON", nil)
		return
	}

	candidates, err := h.svc.Match(r.Context(), req.Input, req.Tier)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, matchResponse{Frameworks: candidates})
}

type generateRequest struct {
	Input             string                           `json:"input"`
	FrameworkID       string                           `json:"framework_id"`
	Answers           promptforge.ClarificationAnswers `json:"clarification_answers"`
	AttachmentContent string                           `json:"attachment_content"`
	UserID            string                           `json:"user_id"`
	Tier              promptforge.Tier                 `json:"account_type"`
	TZOffsetMinutes   int                              `json:"tz_offset_minutes"`
	RequestID         string                           `json:"request_id"`
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "request body is not valid JSON", nil)
		return
	}

	result, err := h.svc.Generate(r.Context(), promptforge.GenerateRequest{
		Input:             req.Input,
		FrameworkID:       req.FrameworkID,
		Answers:           req.Answers,
		AttachmentContent: req.AttachmentContent,
		UserID:            req.UserID,
		Tier:              req.Tier,
		TZOffsetMinutes:   req.TZOffsetMinutes,
		RequestID:         req.RequestID,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleQuota(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("user_id")
	tier := promptforge.Tier(q.Get("account_type"))
	if tier == "" {
		tier = promptforge.TierFree
	}
	tzOffset, _ := strconv.Atoi(q.Get("tz_offset_minutes"))

	status, err := h.svc.Quota(r.Context(), userID, tier, tzOffset)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

type versionsResponse struct {
	Versions []promptforge.Version `json:"versions"`
}

func (h *Handler) handleVersions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	versions, err := h.svc.Versions(r.Context(), q.Get("user_id"), limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if versions == nil {
		versions = []promptforge.Version{}
	}
	h.writeJSON(w, http.StatusOK, versionsResponse{Versions: versions})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"service": "promptforge",
		"status":  "running",
	})
}

// errorResponse is the wire shape of every non-2xx reply.
type errorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Quota   *quotaSnapshot `json:"quota,omitempty"`
}

type quotaSnapshot struct {
	Used      int    `json:"used"`
	Total     int    `json:"total"`
	ResetTime string `json:"reset_time"`
}

// writeServiceError maps service errors onto HTTP statuses. Quota denials
// are 403 with a snapshot, invalid input is 400, upstream rejections pass
// the provider's status through, transient exhaustion is 503.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	var denied *promptforge.QuotaDeniedError
	if errors.As(err, &denied) {
		code := "QUOTA_EXCEEDED"
		msg := "daily quota limit reached"
		if errors.Is(denied.Reason, promptforge.ErrRetryExhausted) {
			code = "RETRY_EXHAUSTED"
			msg = "retry limit reached for this request"
		}
		h.writeError(w, http.StatusForbidden, code, msg, &quotaSnapshot{
			Used:      denied.Status.Used,
			Total:     denied.Status.Limit,
			ResetTime: denied.Status.ResetAt.Format("2006-01-02T15:04:05Z07:00"),
		})
		return
	}

	switch {
	case errors.Is(err, promptforge.ErrInvalidInput), errors.Is(err, promptforge.ErrFrameworkMissing):
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
	case promptforge.IsUpstreamRejected(err):
		var ue *promptforge.UpstreamError
		errors.As(err, &ue)
		status := ue.Status
		if status < 400 || status > 599 {
			status = http.StatusBadGateway
		}
		h.writeError(w, status, "UPSTREAM_REJECTED", "the model provider rejected the request", nil)
	case promptforge.IsUpstreamTransient(err):
		h.writeError(w, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "the model provider is temporarily unavailable", nil)
	default:
		h.logger.Error("request failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string, quota *quotaSnapshot) {
	h.writeJSON(w, status, errorResponse{Code: code, Message: message, Quota: quota})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response", "error", err)
	}
}
