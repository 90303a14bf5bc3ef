package api

import (
	"net/http"
	"testing"
	"time"
)

func TestScheduler_RunsOnStartAndStops(t *testing.T) {
	// GIVEN: A club with no record for the current month
	s := newTestServer(t)
	seedChessMarch(t, s, "chess")
	sched := NewRecalculationScheduler(s.handler.Workflow)
	sched.Now = func() time.Time { return testNow }
	sched.CheckInterval = time.Hour

	// WHEN: Starting the scheduler
	sched.Start()
	deadline := time.Now().Add(5 * time.Second)
	for sched.LastRun().IsZero() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	sched.Stop()

	// THEN: The current month was recalculated immediately
	if sched.LastRun().IsZero() {
		t.Fatal("Expected an immediate run on start")
	}
	rec := decode[RecordDTO](t, s.do(t, http.MethodGet, "/api/clubs/chess/periods/2025/4", nil))
	if rec.State != "COMPUTED" || rec.ComputedBy != SchedulerActor {
		t.Errorf("Expected April computed by the scheduler, got %+v", rec)
	}

	// AND: Stopping twice is harmless
	sched.Stop()
}

func TestScheduler_DisabledDoesNotRun(t *testing.T) {
	s := newTestServer(t)
	sched := NewRecalculationScheduler(s.handler.Workflow)
	sched.Enabled = false

	sched.Start()
	sched.Stop()

	if !sched.LastRun().IsZero() {
		t.Error("Expected no run when disabled")
	}
}
