package engine

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// PolicyService manages multiplier policies on behalf of staff. Every
// change is validated before it reaches the store and leaves an audit entry.
type PolicyService struct {
	Store PolicyStore
	Audit AuditLog // optional
	Now   func() time.Time
}

func (s *PolicyService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Create validates p and stores it with a fresh ID.
func (s *PolicyService) Create(ctx context.Context, p MultiplierPolicy, actor string) (*MultiplierPolicy, error) {
	p = p.Normalize()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	now := s.now()
	p.ID = 0
	p.CreatedAt = now
	p.UpdatedAt = now
	p.UpdatedBy = actor
	p.DeletedAt = nil

	created, err := s.Store.CreatePolicy(ctx, p)
	if err != nil {
		return nil, &DependencyError{Dependency: "policy store", Err: err}
	}
	s.audit(ctx, actor, AuditPolicyCreated, created)
	log.Printf("[Policies] Created policy %d (%s %s) by %s", created.ID, created.TargetType, created.ActivityType, actor)
	return &created, nil
}

// Update replaces an existing policy. Deleted policies cannot be edited.
func (s *PolicyService) Update(ctx context.Context, p MultiplierPolicy, actor string) (*MultiplierPolicy, error) {
	existing, err := s.Get(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if existing.Deleted() {
		return nil, &NotFoundError{Kind: "policy", ID: strconv.FormatInt(int64(p.ID), 10)}
	}

	p = p.Normalize()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = s.now()
	p.UpdatedBy = actor

	if err := s.Store.UpdatePolicy(ctx, p); err != nil {
		if IsNotFound(err) {
			return nil, err
		}
		return nil, &DependencyError{Dependency: "policy store", Err: err}
	}
	s.audit(ctx, actor, AuditPolicyUpdated, p)
	return &p, nil
}

// Delete tombstones the policy. It disappears from evaluation and default
// listings but stays readable for audit. Deleting twice is a no-op.
func (s *PolicyService) Delete(ctx context.Context, id PolicyID, actor string) error {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if existing.Deleted() {
		return nil
	}
	if err := s.Store.DeletePolicy(ctx, id, actor, s.now()); err != nil {
		if IsNotFound(err) {
			return err
		}
		return &DependencyError{Dependency: "policy store", Err: err}
	}
	s.audit(ctx, actor, AuditPolicyDeleted, *existing)
	log.Printf("[Policies] Deleted policy %d by %s", id, actor)
	return nil
}

// Get returns the policy, including deleted ones.
func (s *PolicyService) Get(ctx context.Context, id PolicyID) (*MultiplierPolicy, error) {
	if id <= 0 {
		return nil, &ValidationError{Field: "id", Message: fmt.Sprintf("must be positive, got %d", id)}
	}
	p, err := s.Store.GetPolicy(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return nil, err
		}
		return nil, &DependencyError{Dependency: "policy store", Err: err}
	}
	return p, nil
}

// List returns the policies matching filter, ordered by ID.
func (s *PolicyService) List(ctx context.Context, filter PolicyFilter) ([]MultiplierPolicy, error) {
	if filter.TargetType != "" && !filter.TargetType.Valid() {
		return nil, &ValidationError{Field: "target_type", Message: fmt.Sprintf("must be CLUB or MEMBER, got %q", filter.TargetType)}
	}
	policies, err := s.Store.ListPolicies(ctx, filter)
	if err != nil {
		return nil, &DependencyError{Dependency: "policy store", Err: err}
	}
	return policies, nil
}

func (s *PolicyService) audit(ctx context.Context, actor string, action AuditAction, p MultiplierPolicy) {
	if s.Audit == nil {
		return
	}
	entry := AuditEntry{
		ID:        uuid.NewString(),
		Timestamp: s.now(),
		ActorID:   actor,
		Action:    action,
		PolicyID:  p.ID,
		Payload: map[string]any{
			"target_type":    string(p.TargetType),
			"activity_type":  p.ActivityType,
			"condition_type": string(p.ConditionType),
			"min_threshold":  p.MinThreshold,
			"max_threshold":  p.MaxThreshold,
			"multiplier":     p.Multiplier.String(),
			"active":         p.Active,
		},
	}
	if err := s.Audit.Append(ctx, entry); err != nil {
		log.Printf("[Policies] Failed to write audit entry %s: %v", action, err)
	}
}
