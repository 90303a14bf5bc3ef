// Package store provides in-memory implementations of the engine's stores.
package store

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/warp/club-activity-engine/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements every engine store interface behind one mutex.
type Memory struct {
	mu sync.RWMutex

	clubs    map[engine.ClubID]engine.Club
	events   map[eventKey]engine.ClubEvent
	policies map[engine.PolicyID]engine.MultiplierPolicy
	nextID   engine.PolicyID
	records  map[engine.RecordKey]engine.ClubActivityRecord

	transactions map[engine.ClubID][]engine.Transaction
	idempotency  map[string]engine.Transaction
	audit        []engine.AuditEntry
}

type eventKey struct {
	ClubID  engine.ClubID
	EventID string
}

func NewMemory() *Memory {
	m := &Memory{}
	m.Reset()
	return m
}

// Reset drops all data.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clubs = make(map[engine.ClubID]engine.Club)
	m.events = make(map[eventKey]engine.ClubEvent)
	m.policies = make(map[engine.PolicyID]engine.MultiplierPolicy)
	m.nextID = 0
	m.records = make(map[engine.RecordKey]engine.ClubActivityRecord)
	m.transactions = make(map[engine.ClubID][]engine.Transaction)
	m.idempotency = make(map[string]engine.Transaction)
	m.audit = nil
}

// =============================================================================
// CLUBS AND EVENTS
// =============================================================================

func (m *Memory) SaveClub(_ context.Context, club engine.Club) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.clubs[club.ID]; ok && !existing.CreatedAt.IsZero() {
		club.CreatedAt = existing.CreatedAt
	}
	m.clubs[club.ID] = club
	return nil
}

func (m *Memory) ListClubs(_ context.Context) ([]engine.Club, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]engine.Club, 0, len(m.clubs))
	for _, c := range m.clubs {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) GetClub(_ context.Context, id engine.ClubID) (*engine.Club, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clubs[id]
	if !ok {
		return nil, &engine.NotFoundError{Kind: "club", ID: string(id)}
	}
	return &c, nil
}

func (m *Memory) SaveEvent(_ context.Context, event engine.ClubEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[eventKey{ClubID: event.ClubID, EventID: event.EventID}] = event
	return nil
}

func (m *Memory) GetEvent(_ context.Context, club engine.ClubID, eventID string) (*engine.ClubEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.events[eventKey{ClubID: club, EventID: eventID}]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *Memory) ClubEvents(_ context.Context, club engine.ClubID, period engine.Period) ([]engine.ClubEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []engine.ClubEvent
	for k, e := range m.events {
		if k.ClubID == club && period.Contains(e.StartsAt) {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartsAt.Equal(result[j].StartsAt) {
			return result[i].StartsAt.Before(result[j].StartsAt)
		}
		return result[i].EventID < result[j].EventID
	})
	return result, nil
}

// =============================================================================
// POLICIES
// =============================================================================

func (m *Memory) CreatePolicy(_ context.Context, p engine.MultiplierPolicy) (engine.MultiplierPolicy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	p.ID = m.nextID
	m.policies[p.ID] = p
	return p, nil
}

func (m *Memory) UpdatePolicy(_ context.Context, p engine.MultiplierPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.policies[p.ID]
	if !ok || existing.Deleted() {
		return policyNotFound(p.ID)
	}
	p.DeletedAt = nil
	m.policies[p.ID] = p
	return nil
}

func (m *Memory) GetPolicy(_ context.Context, id engine.PolicyID) (*engine.MultiplierPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.policies[id]
	if !ok {
		return nil, policyNotFound(id)
	}
	return &p, nil
}

func (m *Memory) ListPolicies(_ context.Context, filter engine.PolicyFilter) ([]engine.MultiplierPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []engine.MultiplierPolicy
	for _, p := range m.policies {
		if filter.Match(p) {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) DeletePolicy(_ context.Context, id engine.PolicyID, actor string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.policies[id]
	if !ok {
		return policyNotFound(id)
	}
	if p.Deleted() {
		return nil
	}
	p.DeletedAt = &at
	p.Active = false
	p.UpdatedAt = at
	p.UpdatedBy = actor
	m.policies[id] = p
	return nil
}

func policyNotFound(id engine.PolicyID) error {
	return &engine.NotFoundError{Kind: "policy", ID: strconv.FormatInt(int64(id), 10)}
}

// =============================================================================
// RECORDS
// =============================================================================

func (m *Memory) GetRecord(_ context.Context, key engine.RecordKey) (*engine.ClubActivityRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[key]
	if !ok {
		return nil, &engine.NotFoundError{Kind: "record", ID: key.String()}
	}
	return copyRecord(rec), nil
}

func (m *Memory) ListRecords(_ context.Context, period engine.Period) ([]engine.ClubActivityRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []engine.ClubActivityRecord
	for k, rec := range m.records {
		if k.Period == period {
			result = append(result, *copyRecord(rec))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ClubID < result[j].ClubID })
	return result, nil
}

func (m *Memory) ListClubRecords(_ context.Context, club engine.ClubID, from, to engine.Period) ([]engine.ClubActivityRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []engine.ClubActivityRecord
	for k, rec := range m.records {
		if k.ClubID != club || k.Period.Before(from) || to.Before(k.Period) {
			continue
		}
		result = append(result, *copyRecord(rec))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Period.Before(result[j].Period) })
	return result, nil
}

func (m *Memory) SaveComputed(_ context.Context, rec engine.ClubActivityRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := rec.Key()
	if existing, ok := m.records[key]; ok {
		switch existing.State {
		case engine.StateLocked:
			return &engine.AlreadyLockedError{Key: key, State: existing.State}
		case engine.StateApproved:
			return &engine.AlreadyApprovedError{Key: key}
		}
	}
	rec.State = engine.StateComputed
	rec.LockedAt, rec.LockedBy = nil, ""
	rec.ApprovedAt, rec.ApprovedBy = nil, ""
	rec.DistributionRef = ""
	m.records[key] = *copyRecord(rec)
	return nil
}

func (m *Memory) Transition(_ context.Context, key engine.RecordKey, from, to engine.RecordState, meta engine.TransitionMeta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok {
		return &engine.NotFoundError{Kind: "record", ID: key.String()}
	}
	if rec.State != from {
		return engine.ErrConcurrentModification
	}

	at := meta.At
	rec.State = to
	switch to {
	case engine.StateLocked:
		rec.LockedAt = &at
		rec.LockedBy = meta.Actor
	case engine.StateApproved:
		rec.ApprovedAt = &at
		rec.ApprovedBy = meta.Actor
		rec.DistributionRef = meta.DistributionRef
	}
	m.records[key] = rec
	return nil
}

func copyRecord(rec engine.ClubActivityRecord) *engine.ClubActivityRecord {
	rec.Breakdown = append([]engine.DimensionScore(nil), rec.Breakdown...)
	return &rec
}

// =============================================================================
// LEDGER
// =============================================================================

// Append adds a single transaction. Append-only.
func (m *Memory) Append(_ context.Context, tx engine.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx.IdempotencyKey != "" {
		if _, ok := m.idempotency[tx.IdempotencyKey]; ok {
			return engine.ErrDuplicateIdempotencyKey
		}
	}

	txs := m.transactions[tx.ClubID]
	// Binary search keeps the per-club log ordered by creation time.
	i := sort.Search(len(txs), func(i int) bool {
		return txs[i].CreatedAt.After(tx.CreatedAt)
	})
	txs = append(txs, engine.Transaction{})
	copy(txs[i+1:], txs[i:])
	txs[i] = tx
	m.transactions[tx.ClubID] = txs

	if tx.IdempotencyKey != "" {
		m.idempotency[tx.IdempotencyKey] = tx
	}
	return nil
}

func (m *Memory) Load(_ context.Context, club engine.ClubID) ([]engine.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]engine.Transaction, len(m.transactions[club]))
	copy(result, m.transactions[club])
	return result, nil
}

func (m *Memory) FindByIdempotencyKey(_ context.Context, key string) (*engine.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.idempotency[key]
	if !ok {
		return nil, nil
	}
	return &tx, nil
}

// =============================================================================
// AUDIT
// =============================================================================

// AuditLog adapts Memory to engine.AuditLog. Its Append would clash with
// the ledger's Append on Memory itself.
func (m *Memory) AuditLog() engine.AuditLog { return memoryAudit{m} }

type memoryAudit struct{ m *Memory }

func (a memoryAudit) Append(_ context.Context, entry engine.AuditEntry) error {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	a.m.audit = append(a.m.audit, entry)
	return nil
}

func (a memoryAudit) Query(_ context.Context, filter engine.AuditFilter) ([]engine.AuditEntry, error) {
	a.m.mu.RLock()
	defer a.m.mu.RUnlock()
	var result []engine.AuditEntry
	for i := len(a.m.audit) - 1; i >= 0; i-- {
		if filter.Match(a.m.audit[i]) {
			result = append(result, a.m.audit[i])
			if filter.Limit > 0 && len(result) == filter.Limit {
				break
			}
		}
	}
	return result, nil
}
