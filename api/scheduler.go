/*
scheduler.go - Periodic recalculation of the current month

PURPOSE:
  Keeps the running month's scores fresh while event data trickles in.
  Every tick recalculates all clubs for the current period. Locked and
  approved clubs come back as skipped and are left untouched.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start
  - Keeps the last bulk result for GET /api/scheduler

CONFIGURATION:
  - CheckInterval: How often to recalculate (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewRecalculationScheduler(workflow)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RecalculateAll endpoint (manual run)
  - engine/workflow.go: Workflow.RecalculateAll
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/club-activity-engine/engine"
)

// SchedulerActor is recorded as ComputedBy on scheduled runs.
const SchedulerActor = "scheduler"

// RecalculationScheduler recalculates the current month on a ticker.
type RecalculationScheduler struct {
	Workflow      *engine.Workflow
	CheckInterval time.Duration
	Enabled       bool
	Now           func() time.Time

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex

	statusMu sync.Mutex
	lastRun  *time.Time
	last     *engine.BulkResult
	lastErr  string
}

// SchedulerStatusDTO reports the scheduler state.
type SchedulerStatusDTO struct {
	Enabled       bool           `json:"enabled"`
	CheckInterval string         `json:"check_interval,omitempty"`
	LastRunAt     *time.Time     `json:"last_run_at,omitempty"`
	LastResult    *BulkResultDTO `json:"last_result,omitempty"`
	LastError     string         `json:"last_error,omitempty"`
}

// NewRecalculationScheduler creates a new scheduler.
func NewRecalculationScheduler(wf *engine.Workflow) *RecalculationScheduler {
	return &RecalculationScheduler{
		Workflow:      wf,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		Now:           time.Now,
	}
}

// Start begins the scheduler.
func (rs *RecalculationScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.stop = make(chan bool)
	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.wg.Add(1)

	go rs.run()

	log.Printf("[Scheduler] Started with check interval: %v", rs.CheckInterval)
}

// Stop stops the scheduler and waits for a running pass to finish.
func (rs *RecalculationScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.ticker = nil
		log.Println("[Scheduler] Stopped")
	}
}

func (rs *RecalculationScheduler) run() {
	defer rs.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-rs.stop
		cancel()
	}()

	// Run immediately on start
	rs.RunOnce(ctx)

	for {
		select {
		case <-rs.ticker.C:
			rs.RunOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce recalculates every club for the current month.
func (rs *RecalculationScheduler) RunOnce(ctx context.Context) (engine.BulkResult, error) {
	now := rs.now()
	period := engine.PeriodOf(now)

	log.Printf("[Scheduler] Recalculating %s", period)

	res, err := rs.Workflow.RecalculateAll(ctx, period, SchedulerActor)

	rs.statusMu.Lock()
	rs.lastRun = &now
	if err != nil {
		rs.lastErr = err.Error()
		rs.last = nil
	} else {
		rs.lastErr = ""
		rs.last = &res
	}
	rs.statusMu.Unlock()

	if err != nil {
		log.Printf("[Scheduler] Error recalculating %s: %v", period, err)
		return res, err
	}
	log.Printf("[Scheduler] Completed %s: %d recomputed, %d skipped (locked), %d failed",
		period, res.Succeeded, res.Skipped, res.Failed)
	return res, nil
}

// LastRun returns when the last pass started, or the zero time.
func (rs *RecalculationScheduler) LastRun() time.Time {
	rs.statusMu.Lock()
	defer rs.statusMu.Unlock()
	if rs.lastRun == nil {
		return time.Time{}
	}
	return *rs.lastRun
}

// Status returns a snapshot for the API.
func (rs *RecalculationScheduler) Status() SchedulerStatusDTO {
	rs.statusMu.Lock()
	defer rs.statusMu.Unlock()

	status := SchedulerStatusDTO{
		Enabled:       rs.Enabled,
		CheckInterval: rs.CheckInterval.String(),
		LastRunAt:     rs.lastRun,
		LastError:     rs.lastErr,
	}
	if rs.last != nil {
		dto := toBulkResultDTO(*rs.last)
		status.LastResult = &dto
	}
	return status
}

func (rs *RecalculationScheduler) now() time.Time {
	if rs.Now != nil {
		return rs.Now()
	}
	return time.Now()
}
