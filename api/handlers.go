/*
handlers.go - HTTP API handlers for the club activity engine

PURPOSE:
  Exposes the scoring and approval workflow via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to engine.Workflow
  and engine.PolicyService.

ENDPOINTS:
  Policies:
    GET    /api/policies                 List (?target_type=, ?include_deleted=)
    POST   /api/policies                 Create from factory.PolicyJSON
    GET    /api/policies/{id}            Get one, including deleted
    PUT    /api/policies/{id}            Replace
    DELETE /api/policies/{id}            Soft delete

  Periods:
    GET    /api/periods/{year}/{month}/ranking      Ranked records
    POST   /api/periods/{year}/{month}/recalculate  Recalculate every club

  Clubs:
    GET    /api/clubs                                         List clubs
    POST   /api/clubs                                         Register a club
    GET    /api/clubs/{club}/periods/{year}/{month}           Record with breakdown
    POST   /api/clubs/{club}/periods/{year}/{month}/recalculate
    POST   /api/clubs/{club}/periods/{year}/{month}/lock
    POST   /api/clubs/{club}/periods/{year}/{month}/approve
    GET    /api/clubs/{club}/periods/{year}/{month}/contributions
    GET    /api/clubs/{club}/history?months=N
    PUT    /api/clubs/{club}/events/{eventID}                 Ingest event data
    GET    /api/clubs/{club}/wallet                           Balance and history

  Audit:
    GET    /api/audit                    (?club_id=, ?policy_id=, ?action=, ?limit=)

ACTOR:
  The acting user is read from the X-Actor header. There is no
  authentication; the header is trusted.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: ValidationError (with "field")
  - 404: Club, policy or record not found
  - 409: Already locked, already approved, invalid transition
  - 503: Dependency unavailable ("retry_safe" and "ambiguous" flags)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/club-activity-engine/engine"
	"github.com/warp/club-activity-engine/factory"
	"github.com/warp/club-activity-engine/store/sqlite"
)

// DefaultHistoryMonths is used when ?months= is absent.
const DefaultHistoryMonths = 6

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store         *sqlite.Store
	Workflow      *engine.Workflow
	Policies      *engine.PolicyService
	Ledger        engine.Ledger
	PolicyFactory *factory.PolicyFactory
	Scheduler     *RecalculationScheduler // optional

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler over store. The workflow must use the same
// store.
func NewHandler(store *sqlite.Store, wf *engine.Workflow, ledger engine.Ledger) *Handler {
	return &Handler{
		Store:         store,
		Workflow:      wf,
		Policies:      &engine.PolicyService{Store: store, Audit: store.AuditLog(), Now: wf.Now},
		Ledger:        ledger,
		PolicyFactory: factory.NewPolicyFactory(),
	}
}

// =============================================================================
// POLICY HANDLERS
// =============================================================================

// ListPolicies returns policies, live ones only unless include_deleted=true.
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := engine.PolicyFilter{
		TargetType:     engine.TargetType(strings.ToUpper(strings.TrimSpace(q.Get("target_type")))),
		IncludeDeleted: q.Get("include_deleted") == "true",
	}

	policies, err := h.Policies.List(r.Context(), filter)
	if err != nil {
		writeEngineError(w, "Failed to list policies", err)
		return
	}

	dtos := make([]PolicyDTO, len(policies))
	for i, p := range policies {
		dtos[i] = toPolicyDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreatePolicy creates a policy from JSON.
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req factory.PolicyJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	p, err := h.PolicyFactory.FromJSON(req)
	if err != nil {
		writeEngineError(w, "Invalid policy", err)
		return
	}

	created, err := h.Policies.Create(r.Context(), p, actor(r))
	if err != nil {
		writeEngineError(w, "Failed to create policy", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPolicyDTO(*created))
}

// GetPolicy returns a policy by ID.
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	id, ok := policyID(w, r)
	if !ok {
		return
	}

	p, err := h.Policies.Get(r.Context(), id)
	if err != nil {
		writeEngineError(w, "Failed to get policy", err)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyDTO(*p))
}

// UpdatePolicy replaces a policy.
func (h *Handler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	id, ok := policyID(w, r)
	if !ok {
		return
	}

	var req factory.PolicyJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	req.ID = int64(id)

	p, err := h.PolicyFactory.FromJSON(req)
	if err != nil {
		writeEngineError(w, "Invalid policy", err)
		return
	}

	updated, err := h.Policies.Update(r.Context(), p, actor(r))
	if err != nil {
		writeEngineError(w, "Failed to update policy", err)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyDTO(*updated))
}

// DeletePolicy soft-deletes a policy. Deleting twice succeeds.
func (h *Handler) DeletePolicy(w http.ResponseWriter, r *http.Request) {
	id, ok := policyID(w, r)
	if !ok {
		return
	}

	if err := h.Policies.Delete(r.Context(), id, actor(r)); err != nil {
		writeEngineError(w, "Failed to delete policy", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// PERIOD HANDLERS
// =============================================================================

// GetRanking returns every club of the period, ranked.
func (h *Handler) GetRanking(w http.ResponseWriter, r *http.Request) {
	period, ok := periodParam(w, r)
	if !ok {
		return
	}

	ranked, err := h.Workflow.Ranking(r.Context(), period)
	if err != nil {
		writeEngineError(w, "Failed to rank clubs", err)
		return
	}

	dtos := make([]RankingEntryDTO, len(ranked))
	for i, rr := range ranked {
		dtos[i] = RankingEntryDTO{Rank: rr.Rank, ClubName: rr.ClubName, Record: toRecordDTO(rr.Record)}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RecalculateAll recalculates every club of the period. Locked clubs are
// reported as skipped.
func (h *Handler) RecalculateAll(w http.ResponseWriter, r *http.Request) {
	period, ok := periodParam(w, r)
	if !ok {
		return
	}

	res, err := h.Workflow.RecalculateAll(r.Context(), period, actor(r))
	if err != nil {
		writeEngineError(w, "Failed to recalculate period", err)
		return
	}
	writeJSON(w, http.StatusOK, toBulkResultDTO(res))
}

// =============================================================================
// CLUB HANDLERS
// =============================================================================

type clubDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ListClubs returns all clubs.
func (h *Handler) ListClubs(w http.ResponseWriter, r *http.Request) {
	clubs, err := h.Store.ListClubs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list clubs", err)
		return
	}

	dtos := make([]clubDTO, len(clubs))
	for i, c := range clubs {
		dtos[i] = clubDTO{ID: string(c.ID), Name: c.Name}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RegisterClub creates or renames a club.
func (h *Handler) RegisterClub(w http.ResponseWriter, r *http.Request) {
	var req clubDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	club := engine.Club{ID: engine.ClubID(strings.TrimSpace(req.ID)), Name: strings.TrimSpace(req.Name)}
	if err := h.Workflow.RegisterClub(r.Context(), club); err != nil {
		writeEngineError(w, "Failed to register club", err)
		return
	}
	writeJSON(w, http.StatusCreated, clubDTO{ID: string(club.ID), Name: club.Name})
}

// GetRecord returns a club's month with its score breakdown.
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	key, ok := recordKey(w, r)
	if !ok {
		return
	}

	rec, err := h.Workflow.Record(r.Context(), key)
	if err != nil {
		writeEngineError(w, "Failed to get record", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTO(*rec))
}

// Recalculate recomputes one club's month.
func (h *Handler) Recalculate(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "Failed to recalculate", h.Workflow.Recalculate)
}

// Lock freezes one club's month.
func (h *Handler) Lock(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "Failed to lock", h.Workflow.Lock)
}

// Approve distributes the reward and marks the month approved.
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "Failed to approve", h.Workflow.Approve)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, failure string,
	op func(context.Context, engine.RecordKey, string) (*engine.ClubActivityRecord, error)) {
	key, ok := recordKey(w, r)
	if !ok {
		return
	}

	rec, err := op(r.Context(), key, actor(r))
	if err != nil {
		writeEngineError(w, failure, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTO(*rec))
}

// GetContributions lists the events of a club's month with their weight.
func (h *Handler) GetContributions(w http.ResponseWriter, r *http.Request) {
	key, ok := recordKey(w, r)
	if !ok {
		return
	}

	contributions, err := h.Workflow.Contributions(r.Context(), key)
	if err != nil {
		writeEngineError(w, "Failed to list contributions", err)
		return
	}

	dtos := make([]ContributionDTO, len(contributions))
	for i, c := range contributions {
		dtos[i] = ContributionDTO{
			EventID:     c.EventID,
			EventName:   c.EventName,
			Feedback:    c.Feedback.String(),
			CheckinRate: c.CheckinRate.String(),
			Weight:      c.Weight.String(),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetHistory returns a club's last N months, oldest first.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	months := DefaultHistoryMonths
	if raw := r.URL.Query().Get("months"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeEngineError(w, "Invalid months", &engine.ValidationError{Field: "months", Message: "must be a number"})
			return
		}
		months = n
	}

	history, err := h.Workflow.History(r.Context(), engine.ClubID(chi.URLParam(r, "club")), months)
	if err != nil {
		writeEngineError(w, "Failed to get history", err)
		return
	}

	dtos := make([]RecordDTO, len(history))
	for i, rec := range history {
		dtos[i] = toRecordDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SaveEvent stores one event of a club. Refused once its month is locked.
func (h *Handler) SaveEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	event := engine.ClubEvent{
		EventID:       chi.URLParam(r, "eventID"),
		ClubID:        engine.ClubID(chi.URLParam(r, "club")),
		Name:          req.Name,
		StartsAt:      req.StartsAt.UTC(),
		Status:        engine.EventStatus(strings.ToUpper(strings.TrimSpace(req.Status))),
		Registered:    req.Registered,
		CheckedIn:     req.CheckedIn,
		FeedbackAvg:   req.FeedbackAvg,
		FeedbackCount: req.FeedbackCount,
		StaffAssigned: req.StaffAssigned,
		StaffPresent:  req.StaffPresent,
	}
	if err := h.Workflow.SaveEvent(r.Context(), event, actor(r)); err != nil {
		writeEngineError(w, "Failed to save event", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"event_id": event.EventID,
		"club_id":  string(event.ClubID),
		"period":   event.Period().String(),
	})
}

// GetWallet returns a club's reward balance and transactions.
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	club := engine.ClubID(chi.URLParam(r, "club"))

	if _, err := h.Store.GetClub(ctx, club); err != nil {
		writeEngineError(w, "Failed to get wallet", err)
		return
	}
	balance, err := h.Ledger.Balance(ctx, club)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute balance", err)
		return
	}
	txs, err := h.Ledger.Transactions(ctx, club)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list transactions", err)
		return
	}

	dto := WalletDTO{
		ClubID:       string(club),
		Balance:      balance.Value.String(),
		Unit:         string(engine.UnitPoints),
		Transactions: make([]TransactionDTO, len(txs)),
	}
	for i, tx := range txs {
		dto.Transactions[i] = TransactionDTO{
			ID:             string(tx.ID),
			Type:           string(tx.Type),
			Delta:          tx.Delta.Value.String(),
			Reason:         tx.Reason,
			ReferenceID:    tx.ReferenceID,
			IdempotencyKey: tx.IdempotencyKey,
			CreatedBy:      tx.CreatedBy,
			CreatedAt:      tx.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// AUDIT
// =============================================================================

// ListAudit returns audit entries, newest first.
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := engine.AuditFilter{Limit: 100}

	if v := q.Get("club_id"); v != "" {
		club := engine.ClubID(v)
		filter.ClubID = &club
	}
	if v := q.Get("policy_id"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeEngineError(w, "Invalid policy_id", &engine.ValidationError{Field: "policy_id", Message: "must be a number"})
			return
		}
		id := engine.PolicyID(n)
		filter.PolicyID = &id
	}
	for _, a := range q["action"] {
		filter.Actions = append(filter.Actions, engine.AuditAction(a))
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Limit = n
		}
	}

	entries, err := h.Store.AuditLog().Query(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to query audit log", err)
		return
	}

	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = AuditEntryDTO{
			ID:        e.ID,
			Timestamp: e.Timestamp,
			ActorID:   e.ActorID,
			Action:    string(e.Action),
			ClubID:    string(e.ClubID),
			PolicyID:  int64(e.PolicyID),
			Period:    e.Period,
			Payload:   e.Payload,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetSchedulerStatus reports the periodic recalculation.
func (h *Handler) GetSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeJSON(w, http.StatusOK, SchedulerStatusDTO{})
		return
	}
	writeJSON(w, http.StatusOK, h.Scheduler.Status())
}

// ResetDatabase clears all data (dev only).
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps engine errors to status codes.
func writeEngineError(w http.ResponseWriter, message string, err error) {
	resp := ErrorResponse{Error: message, Details: err.Error()}
	status := http.StatusInternalServerError

	var (
		vErr   *engine.ValidationError
		depErr *engine.DependencyError
	)
	switch {
	case errors.As(err, &depErr):
		status = http.StatusServiceUnavailable
		resp.Code = "dependency_unavailable"
		resp.Ambiguous = depErr.Ambiguous
		resp.RetrySafe = engine.IsRetrySafe(err)
	case errors.As(err, &vErr):
		status = http.StatusBadRequest
		resp.Code = "validation"
		resp.Field = vErr.Field
	case engine.IsNotFound(err):
		status = http.StatusNotFound
		resp.Code = "not_found"
	case errors.Is(err, engine.ErrAlreadyApproved):
		status = http.StatusConflict
		resp.Code = "already_approved"
	case errors.Is(err, engine.ErrAlreadyLocked):
		status = http.StatusConflict
		resp.Code = "already_locked"
	case errors.Is(err, engine.ErrInvalidTransition):
		status = http.StatusConflict
		resp.Code = "invalid_transition"
	case errors.Is(err, engine.ErrConcurrentModification):
		status = http.StatusConflict
		resp.Code = "concurrent_modification"
		resp.RetrySafe = true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
		resp.Code = "cancelled"
		resp.RetrySafe = true
	}
	writeJSON(w, status, resp)
}

func actor(r *http.Request) string {
	if a := strings.TrimSpace(r.Header.Get("X-Actor")); a != "" {
		return a
	}
	return "anonymous"
}

func policyID(w http.ResponseWriter, r *http.Request) (engine.PolicyID, bool) {
	n, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || n <= 0 {
		writeEngineError(w, "Invalid policy id", &engine.ValidationError{Field: "id", Message: "must be a positive number"})
		return 0, false
	}
	return engine.PolicyID(n), true
}

func periodParam(w http.ResponseWriter, r *http.Request) (engine.Period, bool) {
	year, yerr := strconv.Atoi(chi.URLParam(r, "year"))
	month, merr := strconv.Atoi(chi.URLParam(r, "month"))
	if yerr != nil || merr != nil {
		writeEngineError(w, "Invalid period", &engine.ValidationError{Field: "period", Message: "year and month must be numbers"})
		return engine.Period{}, false
	}
	p := engine.NewPeriod(year, time.Month(month))
	if err := p.Validate(); err != nil {
		writeEngineError(w, "Invalid period", err)
		return engine.Period{}, false
	}
	return p, true
}

func recordKey(w http.ResponseWriter, r *http.Request) (engine.RecordKey, bool) {
	p, ok := periodParam(w, r)
	if !ok {
		return engine.RecordKey{}, false
	}
	return engine.RecordKey{ClubID: engine.ClubID(chi.URLParam(r, "club")), Period: p}, true
}
