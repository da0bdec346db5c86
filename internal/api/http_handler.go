// Package api exposes the batch lifecycle, verification, and anomaly surfaces
// over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pharmatrace/batchcore/internal/anomaly"
	"github.com/pharmatrace/batchcore/internal/auth"
	"github.com/pharmatrace/batchcore/internal/authenticity"
	"github.com/pharmatrace/batchcore/internal/domain"
	"github.com/pharmatrace/batchcore/internal/lifecycle"
	"github.com/pharmatrace/batchcore/internal/middleware"
	"github.com/pharmatrace/batchcore/internal/registry"
	"github.com/pharmatrace/batchcore/internal/report"
	"github.com/pharmatrace/batchcore/internal/repository"
)

// fleetPageSize bounds how many batches a single fleet analysis loads.
const fleetPageSize = 500

type Handler struct {
	registry     *registry.Service
	machine      *lifecycle.Machine
	verifier     *authenticity.Verifier
	aggregator   *anomaly.Aggregator
	evaluator    anomaly.Evaluator
	batches      repository.BatchRepository
	anomalies    repository.AnomalyRepository
	actionWindow time.Duration
	now          func() time.Time
}

// HandlerOption configures optional handler behaviour.
type HandlerOption func(*Handler)

// WithActionHashWindow overrides how long a regulatory action hash stays
// verifiable after issue.
func WithActionHashWindow(window time.Duration) HandlerOption {
	return func(h *Handler) {
		if window > 0 {
			h.actionWindow = window
		}
	}
}

// WithClock overrides the handler's time source, mainly for tests.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

func NewHTTPHandler(
	registrySvc *registry.Service,
	machine *lifecycle.Machine,
	verifier *authenticity.Verifier,
	aggregator *anomaly.Aggregator,
	evaluator anomaly.Evaluator,
	batches repository.BatchRepository,
	anomalies repository.AnomalyRepository,
	opts ...HandlerOption,
) http.Handler {
	h := &Handler{
		registry:     registrySvc,
		machine:      machine,
		verifier:     verifier,
		aggregator:   aggregator,
		evaluator:    evaluator,
		batches:      batches,
		anomalies:    anomalies,
		actionWindow: authenticity.DefaultActionHashWindow,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(path, "/actions/verify"):
		h.handleVerifyAction(w, r)
	case r.Method == http.MethodPost && strings.HasSuffix(path, "/verify"):
		h.handleVerify(w, r)
	case r.Method == http.MethodPost && strings.HasSuffix(path, "/transition"):
		h.handleTransition(w, r)
	case r.Method == http.MethodPost && strings.HasSuffix(path, "/clear-flag"):
		h.handleClearFlag(w, r)
	case r.Method == http.MethodPost && strings.HasSuffix(path, "/batches"):
		h.handleRegister(w, r)
	case r.Method == http.MethodGet && strings.HasSuffix(path, "/fleet/analysis/report"):
		h.handleFleetReport(w, r)
	case r.Method == http.MethodGet && strings.HasSuffix(path, "/fleet/analysis"):
		h.handleFleetAnalysis(w, r)
	case r.Method == http.MethodGet && strings.HasSuffix(path, "/history"):
		h.handleHistory(w, r)
	case r.Method == http.MethodGet && strings.HasSuffix(path, "/payload"):
		h.handlePayload(w, r)
	case r.Method == http.MethodGet && strings.HasSuffix(path, "/anomalies"):
		h.handleAnomalies(w, r)
	case r.Method == http.MethodGet && strings.HasSuffix(path, "/batches"):
		h.handleList(w, r)
	case r.Method == http.MethodGet && strings.Contains(path, "/batches/"):
		h.handleGet(w, r)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

type registerPayload struct {
	OrganizationID  string `json:"organizationId"`
	BatchCode       string `json:"batchCode"`
	DrugName        string `json:"drugName"`
	Manufacturer    string `json:"manufacturer"`
	Location        string `json:"location"`
	Quantity        int64  `json:"quantity"`
	ManufactureDate int64  `json:"mfgDate"`
	ExpiryDate      int64  `json:"expDate"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "no authenticated actor in request", http.StatusUnauthorized)
		return
	}
	if err := auth.RequireRole(r.Context(), auth.RoleManufacturer); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}
	var payload registerPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	orgID, err := uuid.Parse(strings.TrimSpace(payload.OrganizationID))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid organizationId: %v", err), http.StatusBadRequest)
		return
	}
	req := registry.Request{
		OrganizationID:  orgID,
		BatchCode:       payload.BatchCode,
		DrugName:        payload.DrugName,
		Manufacturer:    payload.Manufacturer,
		Location:        payload.Location,
		Actor:           actor.ID,
		Quantity:        payload.Quantity,
		ManufactureDate: time.Unix(payload.ManufactureDate, 0).UTC(),
		ExpiryDate:      time.Unix(payload.ExpiryDate, 0).UTC(),
	}
	batch, err := h.registry.Register(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, batch)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	// ids= batches requests through the per-request loader in one round trip.
	if raw := strings.TrimSpace(query.Get("ids")); raw != "" {
		ids := make([]uuid.UUID, 0)
		for _, part := range strings.Split(raw, ",") {
			id, err := uuid.Parse(strings.TrimSpace(part))
			if err != nil {
				http.Error(w, fmt.Sprintf("invalid id %q: %v", part, err), http.StatusBadRequest)
				return
			}
			ids = append(ids, id)
		}
		loader := middleware.BatchLoaderFromContext(r.Context())
		if loader == nil {
			http.Error(w, "batch loader unavailable", http.StatusInternalServerError)
			return
		}
		batches, err := loader.LoadMany(r.Context(), ids)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, batches)
		return
	}

	var organizationID *uuid.UUID
	if raw := strings.TrimSpace(query.Get("organizationId")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid organizationId: %v", err), http.StatusBadRequest)
			return
		}
		organizationID = &id
	}
	statuses := parseStatuses(query["status"])
	limit := 20
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	offset := 0
	if raw := strings.TrimSpace(query.Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "offset must be zero or positive", http.StatusBadRequest)
			return
		}
		offset = parsed
	}
	batches, total, err := h.batches.List(r.Context(), organizationID, statuses, limit, offset)
	if err != nil {
		http.Error(w, fmt.Sprintf("list batches: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"batches": batches,
		"total":   total,
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathBatchID(r.URL.Path, "")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	batch, err := h.batches.GetByID(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathBatchID(r.URL.Path, "/history")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	events, err := h.batches.ListHistory(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

type transitionPayload struct {
	Target   string `json:"target"`
	Location string `json:"location"`
	Reason   string `json:"reason"`
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	id, err := pathBatchID(r.URL.Path, "/transition")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "no authenticated actor in request", http.StatusUnauthorized)
		return
	}
	var payload transitionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	target, ok := domain.ParseBatchStatus(strings.ToUpper(strings.TrimSpace(payload.Target)))
	if !ok {
		http.Error(w, fmt.Sprintf("unknown target status %q", payload.Target), http.StatusBadRequest)
		return
	}
	batch, err := h.batches.GetByID(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if err := auth.EnforceTransitionRole(r.Context(), batch.Status, target); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}
	result, err := h.machine.Transition(r.Context(), id, target, actor.ID, payload.Location, payload.Reason)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleClearFlag(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	id, err := pathBatchID(r.URL.Path, "/clear-flag")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "no authenticated actor in request", http.StatusUnauthorized)
		return
	}
	if err := auth.RequireRole(r.Context(), auth.RoleRegulator); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}
	var payload transitionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	result, err := h.machine.ClearFlag(r.Context(), id, actor.ID, payload.Location, payload.Reason)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handlePayload renders the scannable-code payload for a batch, including the
// ledger-issued data hash.
func (h *Handler) handlePayload(w http.ResponseWriter, r *http.Request) {
	id, err := pathBatchID(r.URL.Path, "/payload")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	batch, err := h.batches.GetByID(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, authenticity.EncodeVerificationPayload(batch))
}

type actionVerifyPayload struct {
	ActionHash string `json:"actionHash"`
	BatchID    string `json:"batchId"`
	Timestamp  int64  `json:"timestamp"`
	Action     string `json:"action"`
}

// handleVerifyAction checks a regulatory action hash against its claimed
// batch, action kind, and issue time.
func (h *Handler) handleVerifyAction(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var payload actionVerifyPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	err := authenticity.ValidateActionHash(
		payload.ActionHash,
		payload.BatchID,
		time.Unix(payload.Timestamp, 0),
		payload.Action,
		h.now(),
		h.actionWindow,
	)
	result := map[string]any{"valid": err == nil}
	if err != nil {
		result["detail"] = err.Error()
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var payload domain.VerificationPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	result := h.verifier.Verify(r.Context(), payload)
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	id, err := pathBatchID(r.URL.Path, "/anomalies")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := auth.RequireRole(r.Context(), auth.RoleRegulator); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}
	batch, err := h.batches.GetByID(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	// stored=true returns previously recorded findings instead of
	// re-evaluating.
	if strings.EqualFold(r.URL.Query().Get("stored"), "true") {
		records, err := h.anomalies.ListByBatch(r.Context(), batch.BatchCode, 100, 0)
		if err != nil {
			http.Error(w, fmt.Sprintf("list anomalies: %v", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, records)
		return
	}

	output := h.evaluator.Evaluate(batch)
	if len(output.Anomalies) > 0 {
		if err := h.anomalies.RecordMany(r.Context(), output.Anomalies); err != nil {
			http.Error(w, fmt.Sprintf("record anomalies: %v", err), http.StatusInternalServerError)
			return
		}
	}
	writeJSON(w, http.StatusOK, output)
}

func (h *Handler) handleFleetAnalysis(w http.ResponseWriter, r *http.Request) {
	analysis, ok := h.fleetAnalysis(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

func (h *Handler) handleFleetReport(w http.ResponseWriter, r *http.Request) {
	analysis, ok := h.fleetAnalysis(w, r)
	if !ok {
		return
	}
	filename := fmt.Sprintf("fleet-analysis-%s.xlsx", analysis.GeneratedAt.UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	if err := report.WriteAnalysisWorkbook(w, analysis); err != nil {
		http.Error(w, fmt.Sprintf("render report: %v", err), http.StatusInternalServerError)
	}
}

// fleetAnalysis loads the batch population and runs the aggregator. It writes
// the error response itself; callers only render on ok.
func (h *Handler) fleetAnalysis(w http.ResponseWriter, r *http.Request) (domain.BatchAnalysisOutput, bool) {
	if err := auth.RequireRole(r.Context(), auth.RoleRegulator); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return domain.BatchAnalysisOutput{}, false
	}
	query := r.URL.Query()
	var organizationID *uuid.UUID
	if raw := strings.TrimSpace(query.Get("organizationId")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid organizationId: %v", err), http.StatusBadRequest)
			return domain.BatchAnalysisOutput{}, false
		}
		organizationID = &id
	}
	statuses := parseStatuses(query["status"])

	var population []domain.Batch
	offset := 0
	for {
		page, _, err := h.batches.List(r.Context(), organizationID, statuses, fleetPageSize, offset)
		if err != nil {
			http.Error(w, fmt.Sprintf("list batches: %v", err), http.StatusInternalServerError)
			return domain.BatchAnalysisOutput{}, false
		}
		population = append(population, page...)
		if len(page) < fleetPageSize {
			break
		}
		offset += fleetPageSize
	}

	analysis := h.aggregator.EvaluateFleet(r.Context(), population)
	if len(analysis.Anomalies) > 0 {
		if err := h.anomalies.RecordMany(r.Context(), analysis.Anomalies); err != nil {
			http.Error(w, fmt.Sprintf("record anomalies: %v", err), http.StatusInternalServerError)
			return domain.BatchAnalysisOutput{}, false
		}
	}
	return analysis, true
}

// writeDomainError maps domain failures to HTTP status codes.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrBatchNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case domain.IsInvalidTransition(err):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func pathBatchID(path, suffix string) (uuid.UUID, error) {
	trimmed := strings.TrimSuffix(strings.TrimSuffix(path, "/"), suffix)
	idx := strings.LastIndex(trimmed, "/")
	if idx == -1 || idx == len(trimmed)-1 {
		return uuid.Nil, fmt.Errorf("missing batch identifier")
	}
	id, err := uuid.Parse(trimmed[idx+1:])
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid batch identifier: %v", err)
	}
	return id, nil
}

func parseStatuses(values []string) []domain.BatchStatus {
	if len(values) == 0 {
		return nil
	}
	result := make([]domain.BatchStatus, 0, len(values))
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			if status, ok := domain.ParseBatchStatus(strings.ToUpper(strings.TrimSpace(part))); ok {
				result = append(result, status)
			}
		}
	}
	return result
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
