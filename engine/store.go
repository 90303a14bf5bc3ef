/*
store.go - Persistence interfaces

PURPOSE:
  Defines the interface between the engine and the database. The engine
  never talks SQL; store/sqlite and engine/store (memory) implement these.

KEY INTERFACES:
  PolicyStore:   Multiplier policies (soft delete only)
  RecordStore:   Club activity records with compare-and-set transitions
  MetricsSource: Clubs and their events, input of aggregation
  EventStore:    Writes to clubs and events (ingestion)
  LedgerStore:   Append-only wallet transactions
  AuditLog:      Who did what when

COMPARE-AND-SET:
  RecordStore.Transition(from, to) only succeeds if the stored state is
  still `from`. Together with the workflow's per-key mutex this makes
  concurrent lock/approve requests resolve to exactly one winner, even
  across processes sharing a database.

SEE ALSO:
  - store/sqlite/sqlite.go: Production implementation
  - engine/store/memory.go: In-memory implementation for tests and demos
*/
package engine

import (
	"context"
	"time"
)

// PolicyStore persists multiplier policies.
type PolicyStore interface {
	// CreatePolicy assigns an ID and stores p.
	CreatePolicy(ctx context.Context, p MultiplierPolicy) (MultiplierPolicy, error)

	// UpdatePolicy replaces an existing, non-deleted policy.
	// Returns *NotFoundError if missing or deleted.
	UpdatePolicy(ctx context.Context, p MultiplierPolicy) error

	// GetPolicy returns the policy, tombstoned or not. *NotFoundError if missing.
	GetPolicy(ctx context.Context, id PolicyID) (*MultiplierPolicy, error)

	// ListPolicies returns matching policies ordered by ID.
	ListPolicies(ctx context.Context, filter PolicyFilter) ([]MultiplierPolicy, error)

	// DeletePolicy sets the tombstone and deactivates the policy.
	DeletePolicy(ctx context.Context, id PolicyID, actor string, at time.Time) error
}

// RecordStore persists club activity records.
type RecordStore interface {
	// GetRecord returns *NotFoundError if the record was never computed.
	GetRecord(ctx context.Context, key RecordKey) (*ClubActivityRecord, error)

	// ListRecords returns every record of a period, ordered by club.
	ListRecords(ctx context.Context, period Period) ([]ClubActivityRecord, error)

	// ListClubRecords returns a club's records in [from, to], oldest first.
	ListClubRecords(ctx context.Context, club ClubID, from, to Period) ([]ClubActivityRecord, error)

	// SaveComputed upserts rec in COMPUTED state. If the stored record is
	// already LOCKED or APPROVED nothing is written and *AlreadyLockedError
	// or *AlreadyApprovedError is returned.
	SaveComputed(ctx context.Context, rec ClubActivityRecord) error

	// Transition moves the record from `from` to `to`. Returns
	// ErrConcurrentModification if the stored state is not `from`,
	// *NotFoundError if there is no record.
	Transition(ctx context.Context, key RecordKey, from, to RecordState, meta TransitionMeta) error
}

// MetricsSource provides the raw data aggregation runs on.
type MetricsSource interface {
	// ListClubs returns every club ordered by ID.
	ListClubs(ctx context.Context) ([]Club, error)

	// GetClub returns *NotFoundError for unknown clubs.
	GetClub(ctx context.Context, id ClubID) (*Club, error)

	// ClubEvents returns the club's events starting within period.
	ClubEvents(ctx context.Context, club ClubID, period Period) ([]ClubEvent, error)
}

// EventStore ingests clubs and events.
type EventStore interface {
	SaveClub(ctx context.Context, club Club) error
	SaveEvent(ctx context.Context, event ClubEvent) error

	// GetEvent returns nil, nil if the club has no such event.
	GetEvent(ctx context.Context, club ClubID, eventID string) (*ClubEvent, error)
}

// LedgerStore persists wallet transactions. APPEND-ONLY: no update, no delete.
type LedgerStore interface {
	// Append persists tx. Returns ErrDuplicateIdempotencyKey if the key exists.
	Append(ctx context.Context, tx Transaction) error

	// Load returns a club's transactions, oldest first.
	Load(ctx context.Context, club ClubID) ([]Transaction, error)

	// FindByIdempotencyKey returns nil, nil when no transaction has the key.
	FindByIdempotencyKey(ctx context.Context, key string) (*Transaction, error)
}

// =============================================================================
// AUDIT LOG - Separate from the ledger, tracks who did what when
// =============================================================================

type AuditEntry struct {
	ID        string
	Timestamp time.Time
	ActorID   string
	Action    AuditAction
	ClubID    ClubID
	PolicyID  PolicyID
	Period    string
	Payload   map[string]any
}

type AuditAction string

const (
	AuditPolicyCreated  AuditAction = "policy_created"
	AuditPolicyUpdated  AuditAction = "policy_updated"
	AuditPolicyDeleted  AuditAction = "policy_deleted"
	AuditRecordComputed AuditAction = "record_computed"
	AuditRecordLocked   AuditAction = "record_locked"
	AuditRecordApproved AuditAction = "record_approved"
	AuditEventSaved     AuditAction = "event_saved"
)

// AuditLog stores audit entries. Also append-only.
type AuditLog interface {
	Append(ctx context.Context, entry AuditEntry) error
	Query(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

type AuditFilter struct {
	ClubID   *ClubID
	PolicyID *PolicyID
	Actions  []AuditAction
	Limit    int // 0 = no limit; newest entries first
}

func (f AuditFilter) Match(e AuditEntry) bool {
	if f.ClubID != nil && e.ClubID != *f.ClubID {
		return false
	}
	if f.PolicyID != nil && e.PolicyID != *f.PolicyID {
		return false
	}
	if len(f.Actions) > 0 {
		found := false
		for _, a := range f.Actions {
			if a == e.Action {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
