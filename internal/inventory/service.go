package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tallyhq/tally/internal/cycles"
	"github.com/tallyhq/tally/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	// WithSnapshot runs read-only work against one consistent view.
	WithSnapshot(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetMovement(ctx context.Context, organizationID, id int64) (Movement, error)
	GetBalance(ctx context.Context, key BalanceKey) (Balance, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	StockList(ctx context.Context, organizationID, projectID, cycleID int64) ([]StockLine, error)
	ListCycleKeys(ctx context.Context, organizationID, projectID, cycleID int64) ([]BalanceKey, error)
	ListScopes(ctx context.Context) ([]RebuildRequest, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsRecorder receives ledger events.
type MetricsRecorder interface {
	ObserveMovement(txType string)
	ObserveCycleLocked(operation string)
}

// Service coordinates ledger postings and balance maintenance.
type Service struct {
	repo               RepositoryPort
	guard              *cycles.Guard
	audit              AuditPort
	metrics            MetricsRecorder
	rebuildConcurrency int
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	RebuildConcurrency int
	Metrics            MetricsRecorder
}

const idempotencyModule = "inventory"

// NewService builds Service.
func NewService(repo RepositoryPort, guard *cycles.Guard, audit AuditPort, cfg ServiceConfig) *Service {
	concurrency := cfg.RebuildConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Service{
		repo:               repo,
		guard:              guard,
		audit:              audit,
		metrics:            cfg.Metrics,
		rebuildConcurrency: concurrency,
	}
}

// Guard returns the cycle guard the service enforces.
func (s *Service) Guard() *cycles.Guard {
	return s.guard
}

// PostMovement appends one ledger entry and updates the key's balance in a
// single transaction. A caller supplied idempotency key is claimed in the
// same transaction.
func (s *Service) PostMovement(ctx context.Context, in MovementInput) (Movement, error) {
	if err := validateMovement(in); err != nil {
		return Movement{}, err
	}

	var posted Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if in.IdempotencyKey != "" {
			key := fmt.Sprintf("%s:%d:%s", idempotencyModule, in.Key.OrganizationID, in.IdempotencyKey)
			if err := tx.ClaimIdempotencyKey(ctx, key); err != nil {
				if errors.Is(err, shared.ErrDuplicate) {
					return fmt.Errorf("%w: key %q", ErrDuplicateMovement, in.IdempotencyKey)
				}
				return err
			}
		}
		var err error
		posted, _, err = s.Post(ctx, tx, in)
		return err
	})
	if err != nil {
		s.observeFailure("post_movement", err)
		return Movement{}, err
	}
	if s.metrics != nil {
		s.metrics.ObserveMovement(string(posted.Type))
	}
	s.recordAudit(ctx, posted)
	return posted, nil
}

// Post runs the posting algorithm on a transaction owned by the caller and
// returns the entry with the resulting balance. Callers composing several
// postings must retry the whole transaction, never a single posting.
func (s *Service) Post(ctx context.Context, tx TxRepository, in MovementInput) (Movement, Balance, error) {
	if err := validateMovement(in); err != nil {
		return Movement{}, Balance{}, err
	}
	if err := s.guard.AssertNotLocked(ctx, tx, in.Key.CycleID, in.Key.OrganizationID); err != nil {
		return Movement{}, Balance{}, err
	}
	known, err := tx.VariantInOrganization(ctx, in.Key.OrganizationID, in.Key.VariantID)
	if err != nil {
		return Movement{}, Balance{}, err
	}
	if !known {
		return Movement{}, Balance{}, fmt.Errorf("%w: %d", ErrVariantNotFound, in.Key.VariantID)
	}
	balance, err := tx.LockBalance(ctx, in.Key)
	if err != nil {
		return Movement{}, Balance{}, err
	}
	unitCost := in.UnitCost
	if unitCost != nil {
		rounded := RoundCost(*unitCost)
		unitCost = &rounded
	}
	movement, err := tx.InsertMovement(ctx, Movement{
		BalanceKey:    in.Key,
		Code:          uuid.New(),
		Type:          in.Type,
		QuantityDelta: in.QuantityDelta,
		UnitCost:      unitCost,
		Source:        in.Source,
		Notes:         in.Notes,
		CreatedBy:     in.ActorID,
	})
	if err != nil {
		return Movement{}, Balance{}, err
	}
	next := ApplyMovement(balance, in.QuantityDelta, unitCost)
	if err := tx.UpdateBalance(ctx, next); err != nil {
		return Movement{}, Balance{}, err
	}
	return movement, next, nil
}

// PostPurchaseReceipt records stock bought through an expense.
func (s *Service) PostPurchaseReceipt(ctx context.Context, in StockInput) (Movement, error) {
	if in.Quantity <= 0 {
		return Movement{}, ErrInvalidQuantity
	}
	if in.UnitCost == nil {
		return Movement{}, ErrUnitCostRequired
	}
	return s.PostMovement(ctx, in.movement(TransactionTypePurchaseReceipt, in.Quantity))
}

// PostSaleIssue records stock leaving through a sale. Insufficient stock is
// not an error; the balance may go negative.
func (s *Service) PostSaleIssue(ctx context.Context, in StockInput) (Movement, error) {
	if in.Quantity <= 0 {
		return Movement{}, ErrInvalidQuantity
	}
	return s.PostMovement(ctx, in.movement(TransactionTypeSaleIssue, -in.Quantity))
}

// PostOpeningBalance seeds a key at the start of a cycle.
func (s *Service) PostOpeningBalance(ctx context.Context, in StockInput) (Movement, error) {
	if in.Quantity <= 0 {
		return Movement{}, ErrInvalidQuantity
	}
	if in.UnitCost == nil {
		return Movement{}, ErrUnitCostRequired
	}
	return s.PostMovement(ctx, in.movement(TransactionTypeOpeningBalance, in.Quantity))
}

// PostAdjustment posts a signed correction.
func (s *Service) PostAdjustment(ctx context.Context, in StockInput) (Movement, error) {
	return s.PostMovement(ctx, in.movement(TransactionTypeAdjustment, in.Quantity))
}

func (in StockInput) movement(txType TransactionType, delta int64) MovementInput {
	return MovementInput{
		Key:            in.Key,
		QuantityDelta:  delta,
		UnitCost:       in.UnitCost,
		Type:           txType,
		Source:         in.Source,
		Notes:          in.Notes,
		ActorID:        in.ActorID,
		IdempotencyKey: in.IdempotencyKey,
	}
}

// Reverse posts a cost-less REVERSAL that cancels the quantity of an earlier
// movement. A movement can be reversed once.
func (s *Service) Reverse(ctx context.Context, in ReverseInput) (Movement, error) {
	if in.OrganizationID <= 0 || in.MovementID <= 0 {
		return Movement{}, fmt.Errorf("%w: organization and movement are required", shared.ErrValidation)
	}
	var posted Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		original, err := tx.GetMovement(ctx, in.OrganizationID, in.MovementID)
		if err != nil {
			return err
		}
		if original.Type == TransactionTypeReversal {
			return ErrReverseReversal
		}
		if err := s.guard.AssertNotLocked(ctx, tx, original.CycleID, original.OrganizationID); err != nil {
			return err
		}
		// Concurrent reversals of the same entry queue on the balance row, so
		// the check below sees a reversal committed by the previous holder.
		if _, err := tx.LockBalance(ctx, original.BalanceKey); err != nil {
			return err
		}
		reversed, err := tx.HasReversal(ctx, in.OrganizationID, original.ID)
		if err != nil {
			return err
		}
		if reversed {
			return ErrAlreadyReversed
		}
		posted, _, err = s.Post(ctx, tx, MovementInput{
			Key:           original.BalanceKey,
			QuantityDelta: -original.QuantityDelta,
			Type:          TransactionTypeReversal,
			Source:        &SourceRef{Kind: SourceInventoryTransaction, ID: original.ID},
			Notes:         in.Notes,
			ActorID:       in.ActorID,
		})
		return err
	})
	if err != nil {
		s.observeFailure("reverse", err)
		return Movement{}, err
	}
	if s.metrics != nil {
		s.metrics.ObserveMovement(string(posted.Type))
	}
	s.recordAudit(ctx, posted)
	return posted, nil
}

// GetMovement returns one ledger entry of the organization.
func (s *Service) GetMovement(ctx context.Context, organizationID, id int64) (Movement, error) {
	if organizationID <= 0 || id <= 0 {
		return Movement{}, fmt.Errorf("%w: organization and movement are required", shared.ErrValidation)
	}
	return s.repo.GetMovement(ctx, organizationID, id)
}

// GetBalance returns the balance of a key.
func (s *Service) GetBalance(ctx context.Context, key BalanceKey) (Balance, error) {
	if err := key.Validate(); err != nil {
		return Balance{}, err
	}
	return s.repo.GetBalance(ctx, key)
}

// ListMovements lists ledger entries, newest first unless Chronological is set.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if filter.OrganizationID <= 0 {
		return nil, fmt.Errorf("%w: organization required", shared.ErrValidation)
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, fmt.Errorf("%w: 'to' is before 'from'", shared.ErrValidation)
	}
	filter.Page = shared.NewPage(filter.Page.Limit, filter.Page.Offset)
	return s.repo.ListMovements(ctx, filter)
}

// StockList returns the catalog with balances for a project cycle.
func (s *Service) StockList(ctx context.Context, organizationID, projectID, cycleID int64) ([]StockLine, error) {
	if organizationID <= 0 || projectID <= 0 || cycleID <= 0 {
		return nil, fmt.Errorf("%w: organization, project and cycle are required", shared.ErrValidation)
	}
	return s.repo.StockList(ctx, organizationID, projectID, cycleID)
}

// VerifyBalance replays the ledger of a key and compares it with the stored
// balance without writing.
func (s *Service) VerifyBalance(ctx context.Context, key BalanceKey) (Drift, error) {
	return s.reconcile(ctx, key, false)
}

// RebuildBalance replays the ledger of a key and overwrites the stored
// balance with the result.
func (s *Service) RebuildBalance(ctx context.Context, key BalanceKey) (Balance, error) {
	drift, err := s.reconcile(ctx, key, true)
	if err != nil {
		return Balance{}, err
	}
	return Balance{BalanceKey: key, QuantityOnHand: drift.LedgerQuantity, AvgUnitCost: drift.LedgerAvgCost}, nil
}

// RebuildCycle verifies every key of a project cycle and, when repair is set,
// rewrites drifted balances. Only drifted keys are returned.
func (s *Service) RebuildCycle(ctx context.Context, req RebuildRequest) ([]Drift, error) {
	if req.OrganizationID <= 0 || req.ProjectID <= 0 || req.CycleID <= 0 {
		return nil, fmt.Errorf("%w: organization, project and cycle are required", shared.ErrValidation)
	}
	keys, err := s.repo.ListCycleKeys(ctx, req.OrganizationID, req.ProjectID, req.CycleID)
	if err != nil {
		return nil, err
	}
	results := make([]Drift, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.rebuildConcurrency)
	for i, key := range keys {
		g.Go(func() error {
			drift, err := s.reconcile(gctx, key, false)
			if err != nil {
				return fmt.Errorf("inventory: verify %s: %w", key, err)
			}
			if !drift.InSync() && req.Repair {
				if drift, err = s.reconcile(gctx, key, true); err != nil {
					return fmt.Errorf("inventory: rebuild %s: %w", key, err)
				}
			}
			results[i] = drift
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	drifts := make([]Drift, 0)
	for _, d := range results {
		if !d.InSync() {
			drifts = append(drifts, d)
		}
	}
	return drifts, nil
}

// Scopes lists the project cycles that hold balances, for scheduled
// verification.
func (s *Service) Scopes(ctx context.Context) ([]RebuildRequest, error) {
	return s.repo.ListScopes(ctx)
}

// reconcile reads the balance and the ledger from one snapshot when verifying
// and under the balance row lock when repairing.
func (s *Service) reconcile(ctx context.Context, key BalanceKey, repair bool) (Drift, error) {
	if err := key.Validate(); err != nil {
		return Drift{}, err
	}
	run := s.repo.WithSnapshot
	if repair {
		run = s.repo.WithTx
	}
	var drift Drift
	err := run(ctx, func(ctx context.Context, tx TxRepository) error {
		var (
			stored Balance
			found  bool
			err    error
		)
		if repair {
			if err := s.guard.AssertNotLocked(ctx, tx, key.CycleID, key.OrganizationID); err != nil {
				return err
			}
			stored, err = tx.LockBalance(ctx, key)
			found = true
		} else {
			stored, found, err = tx.FindBalance(ctx, key)
		}
		if err != nil {
			return err
		}
		movements, err := tx.ListKeyMovements(ctx, key)
		if err != nil {
			return err
		}
		if !found && len(movements) == 0 {
			return ErrBalanceNotFound
		}
		replayed := Replay(key, movements)
		drift = Drift{
			BalanceKey:     key,
			Movements:      len(movements),
			StoredQuantity: stored.QuantityOnHand,
			LedgerQuantity: replayed.QuantityOnHand,
			StoredAvgCost:  stored.AvgUnitCost,
			LedgerAvgCost:  replayed.AvgUnitCost,
		}
		if repair && !drift.InSync() {
			if err := tx.UpdateBalance(ctx, replayed); err != nil {
				return err
			}
			drift.Repaired = true
		}
		return nil
	})
	if err != nil {
		if repair {
			s.observeFailure("rebuild", err)
		}
		return Drift{}, err
	}
	return drift, nil
}

func validateMovement(in MovementInput) error {
	if err := in.Key.Validate(); err != nil {
		return err
	}
	if in.QuantityDelta == 0 {
		return ErrInvalidQuantity
	}
	if !in.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, in.Type)
	}
	if in.UnitCost != nil && in.UnitCost.IsNegative() {
		return ErrInvalidUnitCost
	}
	if in.Source != nil && (!in.Source.Kind.Valid() || in.Source.ID <= 0) {
		return fmt.Errorf("%w: %s", ErrInvalidSource, in.Source)
	}
	return nil
}

func (s *Service) observeFailure(operation string, err error) {
	if s.metrics != nil && errors.Is(err, shared.ErrCycleLocked) {
		s.metrics.ObserveCycleLocked(operation)
	}
}

func (s *Service) recordAudit(ctx context.Context, m Movement) {
	if s.audit == nil {
		return
	}
	meta := map[string]any{
		"project_id":     m.ProjectID,
		"cycle_id":       m.CycleID,
		"variant_id":     m.VariantID,
		"quantity_delta": m.QuantityDelta,
	}
	if m.UnitCost != nil {
		meta["unit_cost"] = m.UnitCost.String()
	}
	if m.Source != nil {
		meta["source"] = m.Source.String()
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		OrganizationID: m.OrganizationID,
		ActorID:        m.CreatedBy,
		Action:         fmt.Sprintf("inventory:%s", m.Type),
		Entity:         "inventory_transaction",
		EntityID:       fmt.Sprintf("%d", m.ID),
		Meta:           meta,
		At:             time.Now().UTC(),
	})
}
