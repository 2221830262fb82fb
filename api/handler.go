// Package api exposes the limiter over JSON endpoints for sidecar-style
// deployments where the caller is not an in-process Go handler chain.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ratefence/ratefence/limiter"
)

// Handler serves rate limit checks over HTTP.
type Handler struct {
	service *limiter.Service
	checker *limiter.HierarchicalChecker
	logger  *zap.Logger
}

// NewHandler creates the HTTP handler set.
func NewHandler(service *limiter.Service, checker *limiter.HierarchicalChecker, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, checker: checker, logger: logger}
}

type checkRequest struct {
	Identifier string `json:"identifier"`
	Resource   string `json:"resource"`
	Scope      string `json:"scope"`
	Tokens     int64  `json:"tokens"`
	DryRun     bool   `json:"dry_run,omitempty"`
}

type checkResponse struct {
	Allowed           bool    `json:"allowed"`
	TokensRemaining   float64 `json:"tokens_remaining"`
	TokensCapacity    int64   `json:"tokens_capacity"`
	RetryAfterSeconds int64   `json:"retry_after_seconds,omitempty"`
	ResetAt           int64   `json:"reset_at"`
	Degraded          bool    `json:"degraded"`
	DegradedReason    string  `json:"degraded_reason,omitempty"`
}

func toCheckResponse(resp limiter.Response) checkResponse {
	out := checkResponse{
		Allowed:         resp.Allowed,
		TokensRemaining: resp.TokensRemaining,
		TokensCapacity:  resp.TokensCapacity,
		ResetAt:         resp.ResetAt.Unix(),
		Degraded:        resp.Degraded,
		DegradedReason:  resp.DegradedReason,
	}
	if !resp.Allowed {
		secs := int64(resp.RetryAfter / time.Second)
		if secs < 1 {
			secs = 1
		}
		out.RetryAfterSeconds = secs
	}
	return out
}

// Check handles POST /v1/check: one limit dimension per call.
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}

	var body checkRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if body.Tokens == 0 {
		body.Tokens = 1
	}

	resp, err := h.service.Check(r.Context(), limiter.Request{
		Identifier: body.Identifier,
		Resource:   body.Resource,
		Scope:      body.Scope,
		Tokens:     body.Tokens,
	}, body.DryRun)
	if err != nil {
		if errors.Is(err, limiter.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		h.logger.Error("check failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "rate limit check failed")
		return
	}

	writeJSON(w, http.StatusOK, toCheckResponse(resp))
}

type multiCheckRequest struct {
	Identifier string `json:"identifier"`
	Resource   string `json:"resource"`
	Tokens     int64  `json:"tokens"`
	Limits     []struct {
		Scope    string `json:"scope"`
		Resource string `json:"resource,omitempty"`
	} `json:"limits"`
}

type limitResult struct {
	Scope    string        `json:"scope"`
	Resource string        `json:"resource,omitempty"`
	Result   checkResponse `json:"result"`
}

type multiCheckResponse struct {
	Allowed              bool          `json:"allowed"`
	Results              []limitResult `json:"results"`
	BlockingScope        string        `json:"blocking_scope,omitempty"`
	BlockingResource     string        `json:"blocking_resource,omitempty"`
	MostRestrictiveScope string        `json:"most_restrictive_scope,omitempty"`
	MostRestrictiveRatio float64       `json:"most_restrictive_ratio"`
}

// CheckMulti handles POST /v1/check/multi: an all-or-nothing check across
// several limit dimensions.
func (h *Handler) CheckMulti(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}

	var body multiCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if body.Tokens == 0 {
		body.Tokens = 1
	}

	descriptors := make([]limiter.Descriptor, 0, len(body.Limits))
	for _, l := range body.Limits {
		descriptors = append(descriptors, limiter.Descriptor{Scope: l.Scope, Resource: l.Resource})
	}

	// Scope on the base request is filled per descriptor by the checker;
	// seed it so validation passes when descriptors are present.
	req := limiter.Request{
		Identifier: body.Identifier,
		Resource:   body.Resource,
		Scope:      "multi",
		Tokens:     body.Tokens,
	}
	resp, err := h.checker.CheckAll(r.Context(), req, descriptors)
	if err != nil {
		if errors.Is(err, limiter.ErrInvalidRequest) || errors.Is(err, limiter.ErrNoDescriptors) {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		h.logger.Error("multi check failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "rate limit check failed")
		return
	}

	out := multiCheckResponse{
		Allowed:              resp.Allowed,
		Results:              make([]limitResult, 0, len(resp.Results)),
		MostRestrictiveRatio: resp.MostRestrictiveRatio,
	}
	for _, r := range resp.Results {
		out.Results = append(out.Results, limitResult{
			Scope:    r.Descriptor.Scope,
			Resource: r.Descriptor.Resource,
			Result:   toCheckResponse(r.Response),
		})
	}
	if resp.Blocking != nil {
		out.BlockingScope = resp.Blocking.Scope
		out.BlockingResource = resp.Blocking.Resource
	}
	if resp.MostRestrictive != nil {
		out.MostRestrictiveScope = resp.MostRestrictive.Scope
	}

	writeJSON(w, http.StatusOK, out)
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "ratefence",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error":   code,
		"message": message,
	})
}
