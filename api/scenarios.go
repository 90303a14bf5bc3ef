/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Each scenario registers clubs, seeds the
	preset multiplier policies and reports a month of events, then runs the
	workflow so the UI has records to show.

AVAILABLE SCENARIOS:

	standard-month: Three clubs with strong, average and weak months
	locked-month:   Same month, one club approved and one locked
	tie-ranking:    Two clubs with identical months share rank 1
	no-policies:    Same clubs with no policies, every multiplier neutral

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create policies via factory
 3. Register clubs
 4. Report events for the scenario month
 5. Recalculate the month, optionally lock and approve

The scenario month is the month before the current one, so the periodic
scheduler (which recalculates the current month) never touches it.

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "locked-month"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Workflow endpoints
  - rewards/factory.go: Preset policy JSON
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/club-activity-engine/engine"
	"github.com/warp/club-activity-engine/rewards"
)

const scenarioActor = "demo"

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "standard-month",
		Name:        "Standard Month",
		Description: "Three clubs with strong, average and weak months under the preset policies",
		Category:    "scoring",
	},
	{
		ID:          "locked-month",
		Name:        "Locked Month",
		Description: "Chess is approved and credited, Robotics is locked awaiting approval",
		Category:    "workflow",
	},
	{
		ID:          "tie-ranking",
		Name:        "Tie Ranking",
		Description: "Two clubs with identical months share the first rank",
		Category:    "ranking",
	},
	{
		ID:          "no-policies",
		Name:        "No Policies",
		Description: "No multiplier policies configured, every dimension scores at x1",
		Category:    "scoring",
	},
}

// clubMonth describes one club's month for a scenario.
type clubMonth struct {
	Club          engine.Club
	Completed     int
	Cancelled     int
	Registered    int
	CheckedIn     int
	Feedback      string
	FeedbackCount int
	StaffAssigned int
	StaffPresent  int
}

var (
	chessMonth = clubMonth{
		Club: engine.Club{ID: "chess", Name: "Chess Club"}, Completed: 4,
		Registered: 30, CheckedIn: 28, Feedback: "4.5", FeedbackCount: 20,
		StaffAssigned: 2, StaffPresent: 2,
	}
	roboticsMonth = clubMonth{
		Club: engine.Club{ID: "robotics", Name: "Robotics Club"}, Completed: 5, Cancelled: 1,
		Registered: 20, CheckedIn: 18, Feedback: "3.8", FeedbackCount: 12,
		StaffAssigned: 3, StaffPresent: 2,
	}
	hikingMonth = clubMonth{
		Club: engine.Club{ID: "hiking", Name: "Hiking Club"}, Completed: 1, Cancelled: 1,
		Registered: 15, CheckedIn: 10, Feedback: "3.0", FeedbackCount: 6,
		StaffAssigned: 1, StaffPresent: 0,
	}
)

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.loadScenario(r.Context(), req.ScenarioID); err != nil {
		var unknown unknownScenarioError
		if errors.As(err, &unknown) {
			writeError(w, http.StatusBadRequest, "Unknown scenario", err)
			return
		}
		writeEngineError(w, fmt.Sprintf("Failed to load scenario %s", req.ScenarioID), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "loaded",
		"scenario": req.ScenarioID,
		"period":   h.scenarioPeriod().String(),
	})
}

type unknownScenarioError string

func (e unknownScenarioError) Error() string { return fmt.Sprintf("unknown scenario %q", string(e)) }

// loadScenario must be called with h.mu held.
func (h *Handler) loadScenario(ctx context.Context, id string) error {
	loaders := map[string]func(context.Context) error{
		"standard-month": h.loadStandardMonthScenario,
		"locked-month":   h.loadLockedMonthScenario,
		"tie-ranking":    h.loadTieRankingScenario,
		"no-policies":    h.loadNoPoliciesScenario,
	}
	load, ok := loaders[id]
	if !ok {
		return unknownScenarioError(id)
	}

	if err := h.Store.Reset(ctx); err != nil {
		return err
	}
	h.currentScenario = ""

	if err := load(ctx); err != nil {
		return err
	}
	h.currentScenario = id
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadStandardMonthScenario(ctx context.Context) error {
	if err := h.seedPresetPolicies(ctx); err != nil {
		return err
	}
	return h.seedMonth(ctx, chessMonth, roboticsMonth, hikingMonth)
}

func (h *Handler) loadLockedMonthScenario(ctx context.Context) error {
	if err := h.loadStandardMonthScenario(ctx); err != nil {
		return err
	}
	period := h.scenarioPeriod()

	chess := engine.RecordKey{ClubID: chessMonth.Club.ID, Period: period}
	if _, err := h.Workflow.Lock(ctx, chess, scenarioActor); err != nil {
		return err
	}
	if _, err := h.Workflow.Approve(ctx, chess, scenarioActor); err != nil {
		return err
	}

	robotics := engine.RecordKey{ClubID: roboticsMonth.Club.ID, Period: period}
	_, err := h.Workflow.Lock(ctx, robotics, scenarioActor)
	return err
}

func (h *Handler) loadTieRankingScenario(ctx context.Context) error {
	if err := h.seedPresetPolicies(ctx); err != nil {
		return err
	}
	alpha := chessMonth
	alpha.Club = engine.Club{ID: "alpha", Name: "Alpha Society"}
	beta := chessMonth
	beta.Club = engine.Club{ID: "beta", Name: "Beta Society"}
	gamma := hikingMonth
	gamma.Club = engine.Club{ID: "gamma", Name: "Gamma Society"}
	return h.seedMonth(ctx, alpha, beta, gamma)
}

func (h *Handler) loadNoPoliciesScenario(ctx context.Context) error {
	return h.seedMonth(ctx, chessMonth, roboticsMonth, hikingMonth)
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) seedPresetPolicies(ctx context.Context) error {
	policies, err := h.PolicyFactory.ParsePolicies(rewards.StandardPoliciesJSON())
	if err != nil {
		return err
	}
	for _, p := range policies {
		if _, err := h.Policies.Create(ctx, p, scenarioActor); err != nil {
			return fmt.Errorf("policy %s: %w", p.RuleName, err)
		}
	}
	return nil
}

// seedMonth registers the clubs, reports their events and recalculates the
// scenario month.
func (h *Handler) seedMonth(ctx context.Context, months ...clubMonth) error {
	period := h.scenarioPeriod()

	for _, m := range months {
		if err := h.Workflow.RegisterClub(ctx, m.Club); err != nil {
			return err
		}
		for _, e := range m.events(period) {
			if err := h.Workflow.SaveEvent(ctx, e, scenarioActor); err != nil {
				return fmt.Errorf("event %s/%s: %w", m.Club.ID, e.EventID, err)
			}
		}
	}

	res, err := h.Workflow.RecalculateAll(ctx, period, scenarioActor)
	if err != nil {
		return err
	}
	if res.Failed > 0 {
		return fmt.Errorf("%d clubs failed to recalculate", res.Failed)
	}
	return nil
}

// events spreads the club's events a week apart from the 2nd of the month.
func (m clubMonth) events(period engine.Period) []engine.ClubEvent {
	start := period.Start().Add(24*time.Hour + 18*time.Hour)
	feedback := decimal.RequireFromString(m.Feedback)

	var out []engine.ClubEvent
	for i := 0; i < m.Completed+m.Cancelled; i++ {
		e := engine.ClubEvent{
			EventID:  fmt.Sprintf("%s-%s-%02d", m.Club.ID, period, i+1),
			ClubID:   m.Club.ID,
			Name:     fmt.Sprintf("%s meetup #%d", m.Club.Name, i+1),
			StartsAt: start.AddDate(0, 0, 7*(i%4)).Add(time.Duration(i/4) * time.Hour),
			Status:   engine.EventCancelled,
		}
		if i < m.Completed {
			e.Status = engine.EventCompleted
			e.Registered = m.Registered
			e.CheckedIn = m.CheckedIn
			e.FeedbackAvg = feedback
			e.FeedbackCount = m.FeedbackCount
			e.StaffAssigned = m.StaffAssigned
			e.StaffPresent = m.StaffPresent
		}
		out = append(out, e)
	}
	return out
}

// scenarioPeriod is the month before the current one.
func (h *Handler) scenarioPeriod() engine.Period {
	now := time.Now()
	if h.Workflow != nil && h.Workflow.Now != nil {
		now = h.Workflow.Now()
	}
	return engine.PeriodOf(now).Previous()
}
