package main

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/warp/club-activity-engine/api"
	"github.com/warp/club-activity-engine/engine"
	"github.com/warp/club-activity-engine/gateway"
	"github.com/warp/club-activity-engine/rewards"
	"github.com/warp/club-activity-engine/store/sqlite"
)

func TestShutdown_StopsSchedulerBeforeServer(t *testing.T) {
	// GIVEN: A scheduler ticking every few milliseconds
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()
	calc, err := engine.NewCalculator(rewards.DefaultScoringConfig())
	if err != nil {
		t.Fatalf("Failed to create calculator: %v", err)
	}
	wf := &engine.Workflow{
		Policies:   store,
		Records:    store,
		Metrics:    store,
		Events:     store,
		Gateway:    gateway.NewLedger(engine.NewLedger(store)),
		Audit:      store.AuditLog(),
		Calculator: calc,
		Now:        time.Now,
	}
	scheduler := api.NewRecalculationScheduler(wf)
	scheduler.CheckInterval = 5 * time.Millisecond
	scheduler.Start()
	deadline := time.Now().Add(5 * time.Second)
	for scheduler.LastRun().IsZero() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if scheduler.LastRun().IsZero() {
		t.Fatal("Expected the scheduler to run on start")
	}

	// WHEN: Shutting down
	if err := shutdown(context.Background(), &http.Server{}, scheduler); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	// THEN: No pass runs afterwards
	last := scheduler.LastRun()
	time.Sleep(50 * time.Millisecond)
	if got := scheduler.LastRun(); !got.Equal(last) {
		t.Errorf("Expected no run after shutdown, last run moved from %v to %v", last, got)
	}
}

func TestShutdown_WithoutScheduler(t *testing.T) {
	if err := shutdown(context.Background(), &http.Server{}, nil); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
}
