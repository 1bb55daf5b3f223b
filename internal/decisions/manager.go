package decisions

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/stepflow/internal/engine"
	"github.com/rendis/stepflow/internal/store"
	"github.com/rendis/stepflow/pkg/schema"
)

// Resumer continues a waiting execution once its decision is resolved.
type Resumer interface {
	Resume(ctx context.Context, executionID string, r engine.Resolution) error
}

// Manager owns the lifecycle of pending decisions: creation, lookup and
// submission. Submission resolves the decision exactly once and hands the
// choice to the engine.
type Manager struct {
	store   store.Store
	resumer Resumer
	logger  *slog.Logger
}

// NewManager creates a Manager.
func NewManager(s store.Store, resumer Resumer, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: s, resumer: resumer, logger: logger}
}

// Create records a new pending decision for a step of an execution.
func (m *Manager) Create(ctx context.Context, executionID, stepID string, proposals any) (*store.PendingDecision, error) {
	var raw json.RawMessage
	if proposals != nil {
		b, err := json.Marshal(proposals)
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "proposals are not serializable").WithCause(err)
		}
		raw = b
	}
	dec := &store.PendingDecision{
		ID:          uuid.NewString(),
		ExecutionID: executionID,
		StepID:      stepID,
		Proposals:   raw,
		Status:      schema.DecisionPending,
		CreatedAt:   time.Now().UTC(),
	}
	if err := m.store.CreatePendingDecision(ctx, dec); err != nil {
		return nil, err
	}
	return dec, nil
}

// Get returns a decision by ID.
func (m *Manager) Get(ctx context.Context, id string) (*store.PendingDecision, error) {
	return m.store.GetPendingDecision(ctx, id)
}

// ForExecution lists all decisions of an execution, oldest first.
func (m *Manager) ForExecution(ctx context.Context, executionID string) ([]*store.PendingDecision, error) {
	return m.store.GetPendingDecisionsForExecution(ctx, executionID)
}

// Resolve marks a pending decision as resolved with the given choice. The
// store's guarded update makes concurrent submits race safely: exactly one
// wins, the rest get a Conflict error.
func (m *Manager) Resolve(ctx context.Context, decisionID, choice, notes string) (*store.PendingDecision, error) {
	dec, err := m.store.GetPendingDecision(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	if dec.Status != schema.DecisionPending {
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "decision %q already resolved", decisionID)
	}
	if err := m.store.ResolvePendingDecision(ctx, decisionID, choice, notes); err != nil {
		return nil, err
	}
	dec.Status = schema.DecisionResolved
	dec.Choice = choice
	dec.Notes = notes
	now := time.Now().UTC()
	dec.ResolvedAt = &now

	m.logger.InfoContext(ctx, "decision resolved",
		"decision_id", decisionID, "execution_id", dec.ExecutionID, "choice", choice)
	return dec, nil
}

// Submit resolves a decision and synchronously resumes the owning execution.
func (m *Manager) Submit(ctx context.Context, decisionID, choice, notes string) error {
	dec, err := m.Resolve(ctx, decisionID, choice, notes)
	if err != nil {
		return err
	}
	return m.resumer.Resume(ctx, dec.ExecutionID, engine.Resolution{
		DecisionID: dec.ID,
		Choice:     choice,
		Notes:      notes,
	})
}
