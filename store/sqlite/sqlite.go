/*
Package sqlite provides a SQLite-backed implementation of the engine's stores.

PURPOSE:
  Implements every persistence interface of package engine using SQLite.
  In production the same patterns apply to PostgreSQL with only minor
  dialect differences.

INTERFACES IMPLEMENTED:
  engine.PolicyStore:   Multiplier policies (soft delete)
  engine.RecordStore:   Club activity records (compare-and-set transitions)
  engine.MetricsSource: Clubs and events
  engine.EventStore:    Club and event ingestion
  engine.LedgerStore:   Wallet transactions (append-only)
  engine.AuditLog:      Via Store.AuditLog()

KEY TABLES:
  clubs:        Club directory
  club_events:  Raw event data, input of aggregation
  policies:     Multiplier policies, deleted_at is the tombstone
  records:      One row per (club, period) with state and score
  transactions: Immutable wallet ledger
  audit_log:    Who did what when

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statement ever touches transactions or audit_log
  (Reset excepted). Corrections are reversal transactions.

RECORD STATE GUARDS:
  SaveComputed is an upsert whose UPDATE branch only fires while the stored
  state is UNCALCULATED or COMPUTED. Transition is
  UPDATE ... WHERE state = <from>. Both hold across processes sharing the
  database file, not just within this one.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

USAGE:
  store, err := sqlite.New("./data/club-activity.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool with versioned migrations.

SEE ALSO:
  - engine/store.go: Interface definitions
  - engine/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/club-activity-engine/engine"
)

// timeLayout is fixed-width so stored timestamps sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Clubs
	CREATE TABLE IF NOT EXISTS clubs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Club events (aggregation input)
	CREATE TABLE IF NOT EXISTS club_events (
		club_id TEXT NOT NULL REFERENCES clubs(id),
		event_id TEXT NOT NULL,
		name TEXT NOT NULL,
		starts_at TEXT NOT NULL,
		status TEXT NOT NULL,
		registered INTEGER NOT NULL DEFAULT 0,
		checked_in INTEGER NOT NULL DEFAULT 0,
		feedback_avg TEXT NOT NULL DEFAULT '0',
		feedback_count INTEGER NOT NULL DEFAULT 0,
		staff_assigned INTEGER NOT NULL DEFAULT 0,
		staff_present INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (club_id, event_id)
	);

	-- Hot path: one club's events of one month
	CREATE INDEX IF NOT EXISTS idx_club_events_club_start
		ON club_events(club_id, starts_at);

	-- Multiplier policies
	CREATE TABLE IF NOT EXISTS policies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		target_type TEXT NOT NULL,
		activity_type TEXT NOT NULL,
		rule_name TEXT NOT NULL,
		description TEXT,
		condition_type TEXT NOT NULL,
		min_threshold INTEGER NOT NULL,
		max_threshold INTEGER NOT NULL,
		multiplier TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		updated_by TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		deleted_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_policies_target
		ON policies(target_type);

	-- Activity records, one per club and month
	CREATE TABLE IF NOT EXISTS records (
		club_id TEXT NOT NULL,
		period TEXT NOT NULL,
		total_events INTEGER NOT NULL,
		event_success_rate TEXT NOT NULL,
		total_checkins INTEGER NOT NULL,
		avg_feedback TEXT NOT NULL,
		avg_staff_participation TEXT NOT NULL,
		award_score TEXT NOT NULL,
		final_score TEXT NOT NULL,
		award_level TEXT NOT NULL DEFAULT '',
		reward_points INTEGER NOT NULL DEFAULT 0,
		breakdown_json TEXT,
		state TEXT NOT NULL,
		computed_at TEXT,
		computed_by TEXT,
		locked_at TEXT,
		locked_by TEXT,
		approved_at TEXT,
		approved_by TEXT,
		distribution_ref TEXT,
		PRIMARY KEY (club_id, period)
	);

	CREATE INDEX IF NOT EXISTS idx_records_period
		ON records(period);

	-- Wallet transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		club_id TEXT NOT NULL,
		delta_value TEXT NOT NULL,
		delta_unit TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		reference_id TEXT,
		reason TEXT NOT NULL,
		idempotency_key TEXT UNIQUE,
		metadata_json TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_club
		ON transactions(club_id, created_at);

	-- Audit log (append-only)
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		actor_id TEXT,
		action TEXT NOT NULL,
		club_id TEXT,
		policy_id INTEGER,
		period TEXT,
		payload_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_log_club
		ON audit_log(club_id);
	CREATE INDEX IF NOT EXISTS idx_audit_log_policy
		ON audit_log(policy_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// CLUBS AND EVENTS (engine.MetricsSource, engine.EventStore)
// =============================================================================

func (s *Store) SaveClub(ctx context.Context, club engine.Club) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := club.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clubs (id, name, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`, club.ID, club.Name, formatTime(createdAt))
	if err != nil {
		return fmt.Errorf("failed to save club: %w", err)
	}
	return nil
}

func (s *Store) GetClub(ctx context.Context, id engine.ClubID) (*engine.Club, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		club      engine.Club
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, created_at FROM clubs WHERE id = ?", id,
	).Scan(&club.ID, &club.Name, &createdAt)
	if err == sql.ErrNoRows {
		return nil, &engine.NotFoundError{Kind: "club", ID: string(id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get club: %w", err)
	}
	club.CreatedAt = parseTime(createdAt)
	return &club, nil
}

func (s *Store) ListClubs(ctx context.Context) ([]engine.Club, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, name, created_at FROM clubs ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list clubs: %w", err)
	}
	defer rows.Close()

	var clubs []engine.Club
	for rows.Next() {
		var (
			club      engine.Club
			createdAt string
		)
		if err := rows.Scan(&club.ID, &club.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan club: %w", err)
		}
		club.CreatedAt = parseTime(createdAt)
		clubs = append(clubs, club)
	}
	return clubs, rows.Err()
}

const eventColumns = `club_id, event_id, name, starts_at, status, registered, checked_in,
	feedback_avg, feedback_count, staff_assigned, staff_present, updated_at`

func (s *Store) SaveEvent(ctx context.Context, e engine.ClubEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO club_events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(club_id, event_id) DO UPDATE SET
			name = excluded.name,
			starts_at = excluded.starts_at,
			status = excluded.status,
			registered = excluded.registered,
			checked_in = excluded.checked_in,
			feedback_avg = excluded.feedback_avg,
			feedback_count = excluded.feedback_count,
			staff_assigned = excluded.staff_assigned,
			staff_present = excluded.staff_present,
			updated_at = excluded.updated_at
	`,
		e.ClubID, e.EventID, e.Name, formatTime(e.StartsAt), e.Status,
		e.Registered, e.CheckedIn, e.FeedbackAvg.String(), e.FeedbackCount,
		e.StaffAssigned, e.StaffPresent, formatTime(e.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}
	return nil
}

func (s *Store) GetEvent(ctx context.Context, club engine.ClubID, eventID string) (*engine.ClubEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events, err := s.queryEvents(ctx,
		"SELECT "+eventColumns+" FROM club_events WHERE club_id = ? AND event_id = ?",
		club, eventID)
	if err != nil || len(events) == 0 {
		return nil, err
	}
	return &events[0], nil
}

func (s *Store) ClubEvents(ctx context.Context, club engine.ClubID, period engine.Period) ([]engine.ClubEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryEvents(ctx, `
		SELECT `+eventColumns+` FROM club_events
		WHERE club_id = ? AND starts_at >= ? AND starts_at < ?
		ORDER BY starts_at ASC, event_id ASC
	`, club, formatTime(period.Start()), formatTime(period.End()))
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]engine.ClubEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []engine.ClubEvent
	for rows.Next() {
		var (
			e                             engine.ClubEvent
			startsAt, feedback, updatedAt string
		)
		err := rows.Scan(&e.ClubID, &e.EventID, &e.Name, &startsAt, &e.Status,
			&e.Registered, &e.CheckedIn, &feedback, &e.FeedbackCount,
			&e.StaffAssigned, &e.StaffPresent, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.StartsAt = parseTime(startsAt)
		e.UpdatedAt = parseTime(updatedAt)
		e.FeedbackAvg = engine.MustParseDecimal(feedback)
		events = append(events, e)
	}
	return events, rows.Err()
}

// =============================================================================
// POLICIES (engine.PolicyStore)
// =============================================================================

const policyColumns = `id, target_type, activity_type, rule_name, description, condition_type,
	min_threshold, max_threshold, multiplier, active, updated_by, created_at, updated_at, deleted_at`

func (s *Store) CreatePolicy(ctx context.Context, p engine.MultiplierPolicy) (engine.MultiplierPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO policies (target_type, activity_type, rule_name, description, condition_type,
			min_threshold, max_threshold, multiplier, active, updated_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.TargetType, p.ActivityType, p.RuleName, nullString(p.Description), p.ConditionType,
		p.MinThreshold, p.MaxThreshold, p.Multiplier.String(), p.Active, nullString(p.UpdatedBy),
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if err != nil {
		return p, fmt.Errorf("failed to create policy: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return p, fmt.Errorf("failed to read policy id: %w", err)
	}
	p.ID = engine.PolicyID(id)
	return p, nil
}

func (s *Store) UpdatePolicy(ctx context.Context, p engine.MultiplierPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE policies SET
			target_type = ?, activity_type = ?, rule_name = ?, description = ?, condition_type = ?,
			min_threshold = ?, max_threshold = ?, multiplier = ?, active = ?, updated_by = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`,
		p.TargetType, p.ActivityType, p.RuleName, nullString(p.Description), p.ConditionType,
		p.MinThreshold, p.MaxThreshold, p.Multiplier.String(), p.Active, nullString(p.UpdatedBy),
		formatTime(p.UpdatedAt), p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update policy: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return policyNotFound(p.ID)
	}
	return nil
}

func (s *Store) GetPolicy(ctx context.Context, id engine.PolicyID) (*engine.MultiplierPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	policies, err := s.queryPolicies(ctx, "SELECT "+policyColumns+" FROM policies WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(policies) == 0 {
		return nil, policyNotFound(id)
	}
	return &policies[0], nil
}

func (s *Store) ListPolicies(ctx context.Context, filter engine.PolicyFilter) ([]engine.MultiplierPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + policyColumns + " FROM policies WHERE 1 = 1"
	var args []any
	if filter.TargetType != "" {
		query += " AND target_type = ?"
		args = append(args, filter.TargetType)
	}
	if !filter.IncludeDeleted {
		query += " AND deleted_at IS NULL"
	}
	query += " ORDER BY id ASC"

	return s.queryPolicies(ctx, query, args...)
}

// DeletePolicy sets the tombstone. The row is never removed.
func (s *Store) DeletePolicy(ctx context.Context, id engine.PolicyID, actor string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE policies SET deleted_at = ?, active = FALSE, updated_by = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`, formatTime(at), nullString(actor), formatTime(at), id)
	if err != nil {
		return fmt.Errorf("failed to delete policy: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var exists int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM policies WHERE id = ?", id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check policy: %w", err)
	}
	if exists == 0 {
		return policyNotFound(id)
	}
	return nil
}

func (s *Store) queryPolicies(ctx context.Context, query string, args ...any) ([]engine.MultiplierPolicy, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query policies: %w", err)
	}
	defer rows.Close()

	var policies []engine.MultiplierPolicy
	for rows.Next() {
		var (
			p                    engine.MultiplierPolicy
			description          sql.NullString
			multiplier           string
			updatedBy, deletedAt sql.NullString
			createdAt, updatedAt string
		)
		err := rows.Scan(&p.ID, &p.TargetType, &p.ActivityType, &p.RuleName, &description,
			&p.ConditionType, &p.MinThreshold, &p.MaxThreshold, &multiplier, &p.Active,
			&updatedBy, &createdAt, &updatedAt, &deletedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		p.Description = description.String
		p.Multiplier = engine.MustParseDecimal(multiplier)
		p.UpdatedBy = updatedBy.String
		p.CreatedAt = parseTime(createdAt)
		p.UpdatedAt = parseTime(updatedAt)
		p.DeletedAt = parseNullTime(deletedAt)
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

func policyNotFound(id engine.PolicyID) error {
	return &engine.NotFoundError{Kind: "policy", ID: strconv.FormatInt(int64(id), 10)}
}

// =============================================================================
// RECORDS (engine.RecordStore)
// =============================================================================

const recordColumns = `club_id, period, total_events, event_success_rate, total_checkins,
	avg_feedback, avg_staff_participation, award_score, final_score, award_level, reward_points,
	breakdown_json, state, computed_at, computed_by, locked_at, locked_by, approved_at,
	approved_by, distribution_ref`

func (s *Store) GetRecord(ctx context.Context, key engine.RecordKey) (*engine.ClubActivityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getRecord(ctx, key)
}

func (s *Store) getRecord(ctx context.Context, key engine.RecordKey) (*engine.ClubActivityRecord, error) {
	records, err := s.queryRecords(ctx,
		"SELECT "+recordColumns+" FROM records WHERE club_id = ? AND period = ?",
		key.ClubID, key.Period.String())
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, &engine.NotFoundError{Kind: "record", ID: key.String()}
	}
	return &records[0], nil
}

func (s *Store) ListRecords(ctx context.Context, period engine.Period) ([]engine.ClubActivityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryRecords(ctx,
		"SELECT "+recordColumns+" FROM records WHERE period = ? ORDER BY club_id ASC",
		period.String())
}

func (s *Store) ListClubRecords(ctx context.Context, club engine.ClubID, from, to engine.Period) ([]engine.ClubActivityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryRecords(ctx, `
		SELECT `+recordColumns+` FROM records
		WHERE club_id = ? AND period >= ? AND period <= ?
		ORDER BY period ASC
	`, club, from.String(), to.String())
}

// SaveComputed upserts rec as COMPUTED unless the stored row is locked.
func (s *Store) SaveComputed(ctx context.Context, rec engine.ClubActivityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	breakdownJSON, err := json.Marshal(rec.Breakdown)
	if err != nil {
		return fmt.Errorf("failed to encode breakdown: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL, NULL, NULL, NULL)
		ON CONFLICT(club_id, period) DO UPDATE SET
			total_events = excluded.total_events,
			event_success_rate = excluded.event_success_rate,
			total_checkins = excluded.total_checkins,
			avg_feedback = excluded.avg_feedback,
			avg_staff_participation = excluded.avg_staff_participation,
			award_score = excluded.award_score,
			final_score = excluded.final_score,
			award_level = excluded.award_level,
			reward_points = excluded.reward_points,
			breakdown_json = excluded.breakdown_json,
			state = excluded.state,
			computed_at = excluded.computed_at,
			computed_by = excluded.computed_by
		WHERE records.state IN ('UNCALCULATED', 'COMPUTED')
	`,
		rec.ClubID, rec.Period.String(),
		rec.Metrics.TotalEvents, rec.Metrics.EventSuccessRate.String(), rec.Metrics.TotalCheckins,
		rec.Metrics.AvgFeedback.String(), rec.Metrics.AvgStaffParticipation.String(),
		rec.AwardScore.String(), rec.FinalScore.String(), rec.AwardLevel, rec.RewardPoints,
		string(breakdownJSON), engine.StateComputed,
		formatTime(rec.ComputedAt), nullString(rec.ComputedBy),
	)
	if err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	// Nothing written: the stored record is past COMPUTED.
	current, err := s.getRecord(ctx, rec.Key())
	if err != nil {
		return err
	}
	if current.State == engine.StateApproved {
		return &engine.AlreadyApprovedError{Key: rec.Key()}
	}
	return &engine.AlreadyLockedError{Key: rec.Key(), State: current.State}
}

// Transition is a compare-and-set on the record state.
func (s *Store) Transition(ctx context.Context, key engine.RecordKey, from, to engine.RecordState, meta engine.TransitionMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		res sql.Result
		err error
	)
	switch to {
	case engine.StateLocked:
		res, err = s.db.ExecContext(ctx, `
			UPDATE records SET state = ?, locked_at = ?, locked_by = ?
			WHERE club_id = ? AND period = ? AND state = ?
		`, to, formatTime(meta.At), nullString(meta.Actor), key.ClubID, key.Period.String(), from)
	case engine.StateApproved:
		res, err = s.db.ExecContext(ctx, `
			UPDATE records SET state = ?, approved_at = ?, approved_by = ?, distribution_ref = ?
			WHERE club_id = ? AND period = ? AND state = ?
		`, to, formatTime(meta.At), nullString(meta.Actor), nullString(meta.DistributionRef),
			key.ClubID, key.Period.String(), from)
	default:
		return &engine.TransitionError{Key: key, From: from, To: to}
	}
	if err != nil {
		return fmt.Errorf("failed to transition record: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	if _, err := s.getRecord(ctx, key); err != nil {
		return err
	}
	return engine.ErrConcurrentModification
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]engine.ClubActivityRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []engine.ClubActivityRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanRecord(rows *sql.Rows) (engine.ClubActivityRecord, error) {
	var (
		rec                                  engine.ClubActivityRecord
		period                               string
		successRate, feedback, staff         string
		awardScore, finalScore               string
		breakdownJSON                        sql.NullString
		computedAt, computedBy               sql.NullString
		lockedAt, lockedBy                   sql.NullString
		approvedAt, approvedBy, distribution sql.NullString
	)

	err := rows.Scan(
		&rec.ClubID, &period, &rec.Metrics.TotalEvents, &successRate, &rec.Metrics.TotalCheckins,
		&feedback, &staff, &awardScore, &finalScore, &rec.AwardLevel, &rec.RewardPoints,
		&breakdownJSON, &rec.State, &computedAt, &computedBy, &lockedAt, &lockedBy,
		&approvedAt, &approvedBy, &distribution,
	)
	if err != nil {
		return rec, fmt.Errorf("failed to scan record: %w", err)
	}

	p, err := engine.ParsePeriod(period)
	if err != nil {
		return rec, fmt.Errorf("corrupt record period %q: %w", period, err)
	}
	rec.Period = p
	rec.Metrics.EventSuccessRate = engine.MustParseDecimal(successRate)
	rec.Metrics.AvgFeedback = engine.MustParseDecimal(feedback)
	rec.Metrics.AvgStaffParticipation = engine.MustParseDecimal(staff)
	rec.AwardScore = engine.MustParseDecimal(awardScore)
	rec.FinalScore = engine.MustParseDecimal(finalScore)
	if breakdownJSON.Valid && breakdownJSON.String != "" {
		if err := json.Unmarshal([]byte(breakdownJSON.String), &rec.Breakdown); err != nil {
			return rec, fmt.Errorf("corrupt breakdown for %s: %w", rec.Key(), err)
		}
	}
	if t := parseNullTime(computedAt); t != nil {
		rec.ComputedAt = *t
	}
	rec.ComputedBy = computedBy.String
	rec.LockedAt = parseNullTime(lockedAt)
	rec.LockedBy = lockedBy.String
	rec.ApprovedAt = parseNullTime(approvedAt)
	rec.ApprovedBy = approvedBy.String
	rec.DistributionRef = distribution.String
	return rec, nil
}

// =============================================================================
// LEDGER (engine.LedgerStore)
// =============================================================================

const txColumns = `id, club_id, delta_value, delta_unit, tx_type, reference_id, reason,
	idempotency_key, metadata_json, created_by, created_at`

// Append adds a transaction to the ledger.
func (s *Store) Append(ctx context.Context, tx engine.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	metadataJSON, _ := json.Marshal(tx.Metadata)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (`+txColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		tx.ID,
		tx.ClubID,
		tx.Delta.Value.String(),
		tx.Delta.Unit,
		tx.Type,
		nullString(tx.ReferenceID),
		tx.Reason,
		nullString(tx.IdempotencyKey),
		string(metadataJSON),
		nullString(tx.CreatedBy),
		formatTime(tx.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) && strings.Contains(err.Error(), "idempotency_key") {
			return engine.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

// Load returns a club's transactions, oldest first.
func (s *Store) Load(ctx context.Context, club engine.ClubID) ([]engine.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryTransactions(ctx,
		"SELECT "+txColumns+" FROM transactions WHERE club_id = ? ORDER BY created_at ASC, rowid ASC",
		club)
}

func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (*engine.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txs, err := s.queryTransactions(ctx,
		"SELECT "+txColumns+" FROM transactions WHERE idempotency_key = ?", key)
	if err != nil || len(txs) == 0 {
		return nil, err
	}
	return &txs[0], nil
}

func (s *Store) queryTransactions(ctx context.Context, query string, args ...any) ([]engine.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []engine.Transaction
	for rows.Next() {
		var (
			tx                          engine.Transaction
			deltaValue, deltaUnit       string
			referenceID, idempotencyKey sql.NullString
			metadataJSON, createdBy     sql.NullString
			createdAt                   string
		)
		err := rows.Scan(&tx.ID, &tx.ClubID, &deltaValue, &deltaUnit, &tx.Type, &referenceID,
			&tx.Reason, &idempotencyKey, &metadataJSON, &createdBy, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.Delta = engine.Amount{Value: engine.MustParseDecimal(deltaValue), Unit: engine.Unit(deltaUnit)}
		tx.ReferenceID = referenceID.String
		tx.IdempotencyKey = idempotencyKey.String
		tx.CreatedBy = createdBy.String
		tx.CreatedAt = parseTime(createdAt)
		if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
			json.Unmarshal([]byte(metadataJSON.String), &tx.Metadata)
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

// =============================================================================
// AUDIT LOG (engine.AuditLog)
// =============================================================================

// AuditLog returns the store's audit log. It is a separate value because
// its Append would clash with the ledger's.
func (s *Store) AuditLog() engine.AuditLog { return auditLog{s} }

type auditLog struct{ s *Store }

func (a auditLog) Append(ctx context.Context, e engine.AuditEntry) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode audit payload: %w", err)
	}
	var policyID sql.NullInt64
	if e.PolicyID != 0 {
		policyID = sql.NullInt64{Int64: int64(e.PolicyID), Valid: true}
	}
	_, err = a.s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, timestamp, actor_id, action, club_id, policy_id, period, payload_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, formatTime(e.Timestamp), nullString(e.ActorID), e.Action,
		nullString(string(e.ClubID)), policyID, nullString(e.Period), string(payload))
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (a auditLog) Query(ctx context.Context, filter engine.AuditFilter) ([]engine.AuditEntry, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()

	query := "SELECT id, timestamp, actor_id, action, club_id, policy_id, period, payload_json FROM audit_log WHERE 1 = 1"
	var args []any
	if filter.ClubID != nil {
		query += " AND club_id = ?"
		args = append(args, *filter.ClubID)
	}
	if filter.PolicyID != nil {
		query += " AND policy_id = ?"
		args = append(args, *filter.PolicyID)
	}
	if len(filter.Actions) > 0 {
		query += " AND action IN (?" + strings.Repeat(", ?", len(filter.Actions)-1) + ")"
		for _, action := range filter.Actions {
			args = append(args, action)
		}
	}
	query += " ORDER BY timestamp DESC, rowid DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := a.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []engine.AuditEntry
	for rows.Next() {
		var (
			e                   engine.AuditEntry
			timestamp           string
			actor, club, period sql.NullString
			policyID            sql.NullInt64
			payload             sql.NullString
		)
		if err := rows.Scan(&e.ID, &timestamp, &actor, &e.Action, &club, &policyID, &period, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Timestamp = parseTime(timestamp)
		e.ActorID = actor.String
		e.ClubID = engine.ClubID(club.String)
		e.PolicyID = engine.PolicyID(policyID.Int64)
		e.Period = period.String
		if payload.Valid && payload.String != "" && payload.String != "null" {
			json.Unmarshal([]byte(payload.String), &e.Payload)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"audit_log", "transactions", "records", "policies", "club_events", "clubs"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
