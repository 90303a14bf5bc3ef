/*
workflow.go - Activity report state machine

PURPOSE:
  Workflow is the service behind every staff action on a club's monthly
  record: recalculate, recalculate all, lock and approve. It also serves
  the read views (ranking, breakdown, history, event contributions) and
  event ingestion, which must respect the lock.

FLOW:
  Recalculate: MetricsSource -> Aggregate -> Calculator -> Resolver -> RecordStore (COMPUTED)
  Lock:        COMPUTED -> LOCKED (compare-and-set)
  Approve:     LOCKED -> DistributionGateway (once) -> APPROVED -> EventPublisher

SERIALIZATION:
  Every mutation of a record holds the record's key mutex for its whole
  duration, so two requests for the same club and month never interleave.
  Distinct keys run in parallel. The store's compare-and-set transition is
  the second line: if another process won, the loser re-reads the record
  and reports AlreadyLocked/AlreadyApproved.

EXACTLY-ONCE DISTRIBUTION:
  Approve calls the gateway with RecordKey.IdempotencyKey(). If the call
  times out, or the wallet was credited but the record could not be
  marked APPROVED, the caller gets an ambiguous DependencyError and may
  retry: the gateway answers the retry with ErrDuplicateDistribution,
  which Approve treats as success.

CANCELLATION:
  A context cancelled before the store write means the transition did
  not happen.

SEE ALSO:
  - report.go: States and transition guards
  - gateway.go: DistributionGateway contract
  - api/handlers.go: HTTP surface
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/warp/club-activity-engine/observability"
)

// DefaultConcurrency bounds RecalculateAll when Workflow.Concurrency is unset.
const DefaultConcurrency = 4

// MaxHistoryMonths bounds History.
const MaxHistoryMonths = 24

type Workflow struct {
	Policies  PolicyStore
	Records   RecordStore
	Metrics   MetricsSource
	Events    EventStore
	Gateway   DistributionGateway
	Publisher EventPublisher // optional
	Audit     AuditLog       // optional

	Calculator *Calculator
	Resolver   Resolver // zero value resolves against Calculator.Config.Tiers

	Concurrency int
	Now         func() time.Time

	locks keyedMutex
}

func (w *Workflow) now() time.Time {
	if w.Now != nil {
		return w.Now().UTC()
	}
	return time.Now().UTC()
}

func (w *Workflow) resolver() Resolver {
	if len(w.Resolver.Tiers) > 0 {
		return w.Resolver
	}
	return Resolver{Tiers: w.Calculator.Config.Tiers}
}

// =============================================================================
// RECALCULATE
// =============================================================================

// Recalculate computes the record of key from the current event data and
// policies and stores it as COMPUTED, overwriting any previous computation.
// LOCKED records return *AlreadyLockedError, APPROVED ones
// *AlreadyApprovedError; neither is touched.
func (w *Workflow) Recalculate(ctx context.Context, key RecordKey, actor string) (*ClubActivityRecord, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	unlock := w.locks.Lock(key)
	defer unlock()

	rec, err := w.recalculateLocked(ctx, key, actor)
	if err != nil {
		return nil, err
	}
	w.audit(ctx, AuditEntry{
		ActorID: actor,
		Action:  AuditRecordComputed,
		ClubID:  key.ClubID,
		Period:  key.Period.String(),
		Payload: map[string]any{
			"final_score":   rec.FinalScore.String(),
			"award_level":   string(rec.AwardLevel),
			"reward_points": rec.RewardPoints,
		},
	})
	return rec, nil
}

func (w *Workflow) recalculateLocked(ctx context.Context, key RecordKey, actor string) (*ClubActivityRecord, error) {
	if _, err := w.club(ctx, key.ClubID); err != nil {
		return nil, err
	}

	current, err := w.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := checkRecalculate(key, current.State); err != nil {
		return nil, err
	}

	events, err := w.Metrics.ClubEvents(ctx, key.ClubID, key.Period)
	if err != nil {
		return nil, &DependencyError{Dependency: "metrics source", Err: err}
	}
	policies, err := w.Policies.ListPolicies(ctx, PolicyFilter{TargetType: TargetClub})
	if err != nil {
		return nil, &DependencyError{Dependency: "policy store", Err: err}
	}

	metrics := Aggregate(events)
	result := w.Calculator.Compute(metrics, policies)
	rec := ClubActivityRecord{
		ClubID:       key.ClubID,
		Period:       key.Period,
		Metrics:      metrics,
		AwardScore:   result.AwardScore,
		FinalScore:   result.FinalScore,
		AwardLevel:   result.AwardLevel,
		RewardPoints: w.resolver().Resolve(result.FinalScore, result.AwardLevel),
		Breakdown:    result.Breakdown,
		State:        StateComputed,
		ComputedAt:   w.now(),
		ComputedBy:   actor,
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := w.Records.SaveComputed(ctx, rec); err != nil {
		if errors.Is(err, ErrAlreadyLocked) || errors.Is(err, ErrAlreadyApproved) {
			return nil, err
		}
		return nil, &DependencyError{Dependency: "record store", Err: err}
	}
	return &rec, nil
}

// =============================================================================
// RECALCULATE ALL
// =============================================================================

type Outcome string

const (
	OutcomeRecomputed Outcome = "recomputed"
	OutcomeSkipped    Outcome = "skipped"
	OutcomeFailed     Outcome = "failed"
)

// ClubOutcome is the result of one club in a bulk recalculation.
type ClubOutcome struct {
	ClubID  ClubID
	Outcome Outcome
	State   RecordState
	Record  *ClubActivityRecord // set when recomputed
	Error   string              // set when skipped or failed
}

type BulkResult struct {
	Period    Period
	Results   []ClubOutcome // ordered by club ID
	Succeeded int
	Skipped   int
	Failed    int
}

// RecalculateAll recalculates every club for period, in parallel across
// clubs. LOCKED and APPROVED records are skipped, not failed. A failing
// club never aborts the batch; only failing to list the clubs does.
func (w *Workflow) RecalculateAll(ctx context.Context, period Period, actor string) (BulkResult, error) {
	if err := period.Validate(); err != nil {
		return BulkResult{}, err
	}
	started := w.now()

	clubs, err := w.Metrics.ListClubs(ctx)
	if err != nil {
		return BulkResult{}, &DependencyError{Dependency: "metrics source", Err: err}
	}
	sort.Slice(clubs, func(i, j int) bool { return clubs[i].ID < clubs[j].ID })

	limit := w.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	results := make([]ClubOutcome, len(clubs))
	var g errgroup.Group
	g.SetLimit(limit)
	for i, club := range clubs {
		g.Go(func() error {
			results[i] = w.recalculateOne(ctx, RecordKey{ClubID: club.ID, Period: period}, actor)
			return nil
		})
	}
	_ = g.Wait()

	res := BulkResult{Period: period, Results: results}
	for _, r := range results {
		switch r.Outcome {
		case OutcomeRecomputed:
			res.Succeeded++
		case OutcomeSkipped:
			res.Skipped++
		default:
			res.Failed++
		}
	}

	observability.RecordBulkRun(started, w.now())
	log.Printf("[Workflow] Recalculated %s: %d recomputed, %d skipped, %d failed",
		period, res.Succeeded, res.Skipped, res.Failed)
	return res, nil
}

func (w *Workflow) recalculateOne(ctx context.Context, key RecordKey, actor string) ClubOutcome {
	out := ClubOutcome{ClubID: key.ClubID}

	rec, err := w.Recalculate(ctx, key, actor)
	var lockedErr *AlreadyLockedError
	switch {
	case err == nil:
		out.Outcome = OutcomeRecomputed
		out.State = rec.State
		out.Record = rec
	case errors.As(err, &lockedErr):
		out.Outcome = OutcomeSkipped
		out.State = lockedErr.State
		out.Error = err.Error()
	case errors.Is(err, ErrAlreadyApproved):
		out.Outcome = OutcomeSkipped
		out.State = StateApproved
		out.Error = err.Error()
	default:
		out.Outcome = OutcomeFailed
		out.Error = err.Error()
		log.Printf("[Workflow] Recalculation of %s failed: %v", key, err)
	}

	observability.RecordRecalculation(string(out.Outcome))
	return out
}

// =============================================================================
// LOCK
// =============================================================================

// Lock freezes a COMPUTED record. Locking again returns *AlreadyLockedError
// and leaves the record as it is.
func (w *Workflow) Lock(ctx context.Context, key RecordKey, actor string) (*ClubActivityRecord, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	unlock := w.locks.Lock(key)
	defer unlock()

	rec, err := w.existing(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := checkLock(key, rec.State); err != nil {
		observability.RecordTransition(string(StateLocked), "conflict")
		return nil, err
	}

	at := w.now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	err = w.Records.Transition(ctx, key, StateComputed, StateLocked, TransitionMeta{Actor: actor, At: at})
	if err != nil {
		observability.RecordTransition(string(StateLocked), "conflict")
		return nil, w.transitionFailed(ctx, key, err, checkLock, false)
	}

	rec.State = StateLocked
	rec.LockedAt = &at
	rec.LockedBy = actor

	observability.RecordTransition(string(StateLocked), "ok")
	w.audit(ctx, AuditEntry{
		ActorID: actor,
		Action:  AuditRecordLocked,
		ClubID:  key.ClubID,
		Period:  key.Period.String(),
	})
	log.Printf("[Workflow] Locked %s by %s", key, actor)
	return rec, nil
}

// =============================================================================
// APPROVE
// =============================================================================

// Approve distributes the reward of a LOCKED record and marks it APPROVED.
// The gateway is called at most once per successful approval; approving
// again returns *AlreadyApprovedError without calling it.
func (w *Workflow) Approve(ctx context.Context, key RecordKey, actor string) (*ClubActivityRecord, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	unlock := w.locks.Lock(key)
	defer unlock()

	rec, err := w.existing(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := checkApprove(key, rec.State); err != nil {
		observability.RecordTransition(string(StateApproved), "conflict")
		return nil, err
	}

	var reference string
	if rec.RewardPoints > 0 {
		receipt, err := w.distribute(ctx, rec, actor)
		if err != nil {
			observability.RecordTransition(string(StateApproved), "error")
			return nil, err
		}
		reference = receipt.Reference
	}

	at := w.now()
	meta := TransitionMeta{Actor: actor, At: at, DistributionRef: reference}
	if err := w.Records.Transition(ctx, key, StateLocked, StateApproved, meta); err != nil {
		observability.RecordTransition(string(StateApproved), "error")
		return nil, w.transitionFailed(ctx, key, err, checkApprove, rec.RewardPoints > 0)
	}

	rec.State = StateApproved
	rec.ApprovedAt = &at
	rec.ApprovedBy = actor
	rec.DistributionRef = reference

	observability.RecordTransition(string(StateApproved), "ok")
	w.audit(ctx, AuditEntry{
		ActorID: actor,
		Action:  AuditRecordApproved,
		ClubID:  key.ClubID,
		Period:  key.Period.String(),
		Payload: map[string]any{
			"reward_points":    rec.RewardPoints,
			"distribution_ref": reference,
		},
	})
	w.publish(ctx, rec)
	log.Printf("[Workflow] Approved %s by %s: %d points (ref %q)", key, actor, rec.RewardPoints, reference)
	return rec, nil
}

// RewardReason is the wallet reason text of an approved record.
func RewardReason(rec ClubActivityRecord) string {
	level := string(rec.AwardLevel)
	if level == "" {
		level = "NO_AWARD"
	}
	return fmt.Sprintf("Club activity reward %s (%s, score %s)", rec.Period, level, rec.AwardScore.StringFixed(2))
}

func (w *Workflow) distribute(ctx context.Context, rec *ClubActivityRecord, actor string) (DistributionReceipt, error) {
	req := DistributionRequest{
		ClubID:         rec.ClubID,
		Period:         rec.Period,
		Amount:         rec.RewardPoints,
		Reason:         RewardReason(*rec),
		IdempotencyKey: rec.Key().IdempotencyKey(),
		RequestedBy:    actor,
	}
	if err := req.Validate(); err != nil {
		return DistributionReceipt{}, err
	}

	started := time.Now()
	receipt, err := w.Gateway.Distribute(ctx, req)
	credited := rec.RewardPoints
	if errors.Is(err, ErrDuplicateDistribution) || (err == nil && receipt.Replayed) {
		log.Printf("[Workflow] Distribution for %s already performed (ref %q), continuing", rec.Key(), receipt.Reference)
		err = nil
		// Counted when the wallet was first credited.
		credited = 0
	}
	observability.RecordDistribution(string(rec.AwardLevel), credited, time.Since(started), err)
	if err == nil {
		return receipt, nil
	}

	if errors.Is(err, ErrValidation) {
		return DistributionReceipt{}, err
	}
	var depErr *DependencyError
	if errors.As(err, &depErr) {
		return DistributionReceipt{}, err
	}
	// Unknown failure: the wallet may have been credited.
	return DistributionReceipt{}, &DependencyError{Dependency: "distribution gateway", Ambiguous: true, Err: err}
}

// transitionFailed turns a failed compare-and-set into the error the caller
// should see. A lost race re-reads the record so the winner's state decides.
func (w *Workflow) transitionFailed(ctx context.Context, key RecordKey, err error, guard func(RecordKey, RecordState) error, ambiguous bool) error {
	if errors.Is(err, ErrConcurrentModification) {
		if current, loadErr := w.Records.GetRecord(ctx, key); loadErr == nil {
			if guardErr := guard(key, current.State); guardErr != nil {
				return guardErr
			}
		}
		return fmt.Errorf("transition %s: %w", key, err)
	}
	if IsNotFound(err) {
		return err
	}
	return &DependencyError{Dependency: "record store", Ambiguous: ambiguous, Err: err}
}

func (w *Workflow) publish(ctx context.Context, rec *ClubActivityRecord) {
	if w.Publisher == nil {
		return
	}
	evt := RewardApproved{
		ClubID:          rec.ClubID,
		Period:          rec.Period,
		AwardLevel:      rec.AwardLevel,
		FinalScore:      rec.FinalScore.String(),
		RewardPoints:    rec.RewardPoints,
		DistributionRef: rec.DistributionRef,
		ApprovedBy:      rec.ApprovedBy,
		ApprovedAt:      *rec.ApprovedAt,
		IdempotencyKey:  rec.Key().IdempotencyKey(),
	}
	if err := w.Publisher.PublishRewardApproved(ctx, evt); err != nil {
		log.Printf("[Workflow] Failed to publish approval of %s: %v", rec.Key(), err)
	}
}

// =============================================================================
// READ VIEWS
// =============================================================================

// Record returns the record of key. Known clubs without a computed record
// get an UNCALCULATED placeholder.
func (w *Workflow) Record(ctx context.Context, key RecordKey) (*ClubActivityRecord, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if _, err := w.club(ctx, key.ClubID); err != nil {
		return nil, err
	}
	return w.load(ctx, key)
}

// Ranking lists every club for period. Computed records come first,
// ordered by award score, final score and club ID; equal award scores
// share a rank. Clubs without a record follow with rank 0.
func (w *Workflow) Ranking(ctx context.Context, period Period) ([]RankedRecord, error) {
	if err := period.Validate(); err != nil {
		return nil, err
	}
	clubs, err := w.Metrics.ListClubs(ctx)
	if err != nil {
		return nil, &DependencyError{Dependency: "metrics source", Err: err}
	}
	records, err := w.Records.ListRecords(ctx, period)
	if err != nil {
		return nil, &DependencyError{Dependency: "record store", Err: err}
	}

	names := make(map[ClubID]string, len(clubs))
	for _, c := range clubs {
		names[c.ID] = c.Name
	}

	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.AwardScore.Equal(b.AwardScore) {
			return a.AwardScore.GreaterThan(b.AwardScore)
		}
		if !a.FinalScore.Equal(b.FinalScore) {
			return a.FinalScore.GreaterThan(b.FinalScore)
		}
		return a.ClubID < b.ClubID
	})

	ranked := make([]RankedRecord, 0, len(clubs))
	seen := make(map[ClubID]bool, len(records))
	for i, rec := range records {
		rank := i + 1
		if i > 0 && rec.AwardScore.Equal(records[i-1].AwardScore) {
			rank = ranked[i-1].Rank
		}
		ranked = append(ranked, RankedRecord{Rank: rank, ClubName: names[rec.ClubID], Record: rec})
		seen[rec.ClubID] = true
	}

	sort.Slice(clubs, func(i, j int) bool { return clubs[i].ID < clubs[j].ID })
	for _, c := range clubs {
		if !seen[c.ID] {
			ranked = append(ranked, RankedRecord{ClubName: c.Name, Record: uncalculated(RecordKey{ClubID: c.ID, Period: period})})
		}
	}
	return ranked, nil
}

// History returns the club's last `months` records up to and including the
// current month, oldest first. Months without a record are UNCALCULATED.
func (w *Workflow) History(ctx context.Context, club ClubID, months int) ([]ClubActivityRecord, error) {
	if months < 1 || months > MaxHistoryMonths {
		return nil, &ValidationError{Field: "months", Message: fmt.Sprintf("must be between 1 and %d", MaxHistoryMonths)}
	}
	if _, err := w.club(ctx, club); err != nil {
		return nil, err
	}

	periods := PeriodOf(w.now()).LastN(months)
	stored, err := w.Records.ListClubRecords(ctx, club, periods[0], periods[len(periods)-1])
	if err != nil {
		return nil, &DependencyError{Dependency: "record store", Err: err}
	}
	byPeriod := make(map[Period]ClubActivityRecord, len(stored))
	for _, rec := range stored {
		byPeriod[rec.Period] = rec
	}

	out := make([]ClubActivityRecord, 0, len(periods))
	for _, p := range periods {
		if rec, ok := byPeriod[p]; ok {
			out = append(out, rec)
			continue
		}
		out = append(out, uncalculated(RecordKey{ClubID: club, Period: p}))
	}
	return out, nil
}

// Contributions lists the event-level contributions of key's month.
func (w *Workflow) Contributions(ctx context.Context, key RecordKey) ([]EventContribution, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if _, err := w.club(ctx, key.ClubID); err != nil {
		return nil, err
	}
	events, err := w.Metrics.ClubEvents(ctx, key.ClubID, key.Period)
	if err != nil {
		return nil, &DependencyError{Dependency: "metrics source", Err: err}
	}
	return Contributions(events), nil
}

// =============================================================================
// INGESTION
// =============================================================================

// RegisterClub creates or renames a club.
func (w *Workflow) RegisterClub(ctx context.Context, club Club) error {
	if club.ID == "" {
		return &ValidationError{Field: "club_id", Message: "is required"}
	}
	if club.CreatedAt.IsZero() {
		club.CreatedAt = w.now()
	}
	if err := w.Events.SaveClub(ctx, club); err != nil {
		return &DependencyError{Dependency: "event store", Err: err}
	}
	return nil
}

// SaveEvent upserts a club event. Events of a locked month are frozen: an
// event may neither be written into nor moved out of a LOCKED or APPROVED
// month, and the attempt returns *AlreadyLockedError.
func (w *Workflow) SaveEvent(ctx context.Context, event ClubEvent, actor string) error {
	if err := event.Validate(); err != nil {
		return err
	}
	if _, err := w.club(ctx, event.ClubID); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		previous, err := w.Events.GetEvent(ctx, event.ClubID, event.EventID)
		if err != nil {
			return &DependencyError{Dependency: "event store", Err: err}
		}
		keys := eventKeys(event, previous)
		unlock := w.locks.LockAll(keys...)

		// The event may have moved to another month before the locks were
		// taken. Retry with the months it is in now.
		current, err := w.Events.GetEvent(ctx, event.ClubID, event.EventID)
		if err != nil {
			unlock()
			return &DependencyError{Dependency: "event store", Err: err}
		}
		if !samePeriod(previous, current) {
			unlock()
			continue
		}

		err = w.storeEvent(ctx, event, keys, actor)
		unlock()
		return err
	}
}

// eventKeys returns the records an event write touches: the month it goes
// to and, on a move, the month it leaves.
func eventKeys(event ClubEvent, previous *ClubEvent) []RecordKey {
	keys := []RecordKey{{ClubID: event.ClubID, Period: event.Period()}}
	if previous != nil && previous.Period() != event.Period() {
		keys = append(keys, RecordKey{ClubID: event.ClubID, Period: previous.Period()})
	}
	return keys
}

func samePeriod(a, b *ClubEvent) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Period() == b.Period()
}

// storeEvent writes event once the locks of keys are held.
func (w *Workflow) storeEvent(ctx context.Context, event ClubEvent, keys []RecordKey, actor string) error {
	for _, key := range keys {
		rec, err := w.load(ctx, key)
		if err != nil {
			return err
		}
		if rec.Locked() {
			return &AlreadyLockedError{Key: key, State: rec.State}
		}
	}

	event.UpdatedAt = w.now()
	if err := w.Events.SaveEvent(ctx, event); err != nil {
		return &DependencyError{Dependency: "event store", Err: err}
	}
	w.audit(ctx, AuditEntry{
		ActorID: actor,
		Action:  AuditEventSaved,
		ClubID:  event.ClubID,
		Period:  event.Period().String(),
		Payload: map[string]any{"event_id": event.EventID, "status": string(event.Status)},
	})
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (w *Workflow) club(ctx context.Context, id ClubID) (*Club, error) {
	club, err := w.Metrics.GetClub(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return nil, err
		}
		return nil, &DependencyError{Dependency: "metrics source", Err: err}
	}
	return club, nil
}

// load returns the stored record or an UNCALCULATED placeholder.
func (w *Workflow) load(ctx context.Context, key RecordKey) (*ClubActivityRecord, error) {
	rec, err := w.Records.GetRecord(ctx, key)
	if err == nil {
		return rec, nil
	}
	if IsNotFound(err) {
		placeholder := uncalculated(key)
		return &placeholder, nil
	}
	return nil, &DependencyError{Dependency: "record store", Err: err}
}

// existing is load for transitions: unknown clubs are NotFound, known
// clubs without a record are UNCALCULATED.
func (w *Workflow) existing(ctx context.Context, key RecordKey) (*ClubActivityRecord, error) {
	if _, err := w.club(ctx, key.ClubID); err != nil {
		return nil, err
	}
	return w.load(ctx, key)
}

func (w *Workflow) audit(ctx context.Context, entry AuditEntry) {
	if w.Audit == nil {
		return
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = w.now()
	}
	if err := w.Audit.Append(ctx, entry); err != nil {
		log.Printf("[Workflow] Failed to write audit entry %s: %v", entry.Action, err)
	}
}

// =============================================================================
// KEYED MUTEX - One mutex per record key, released when unused
// =============================================================================

type keyedMutex struct {
	mu    sync.Mutex
	locks map[RecordKey]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// Lock acquires the mutex of key and returns its release function.
func (k *keyedMutex) Lock(key RecordKey) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[RecordKey]*keyLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// LockAll acquires several keys in a fixed order so two callers locking
// overlapping sets cannot deadlock.
func (k *keyedMutex) LockAll(keys ...RecordKey) func() {
	sorted := make([]RecordKey, len(keys))
	copy(sorted, keys)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].String() < sorted[j].String() })

	releases := make([]func(), 0, len(sorted))
	for i, key := range sorted {
		if i > 0 && key == sorted[i-1] {
			continue
		}
		releases = append(releases, k.Lock(key))
	}
	return func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
}
