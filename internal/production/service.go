package production

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tallyhq/tally/internal/catalog"
	"github.com/tallyhq/tally/internal/inventory"
	"github.com/tallyhq/tally/internal/shared"
)

// VariantReader resolves catalog defaults for input costing.
type VariantReader interface {
	GetVariant(ctx context.Context, organizationID, variantID int64) (catalog.VariantInfo, error)
}

// ProjectAuthorizer checks whether an actor may work in a project.
type ProjectAuthorizer interface {
	AuthorizeProject(ctx context.Context, actor shared.Actor, projectID int64) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsRecorder receives production events.
type MetricsRecorder interface {
	ObserveProductionCompleted()
	ObserveCycleLocked(operation string)
}

// Service handles production order business logic.
type Service struct {
	repo     Repository
	ledger   *inventory.Service
	variants VariantReader
	access   ProjectAuthorizer
	audit    AuditPort
	metrics  MetricsRecorder
}

// ServiceDeps groups the collaborators of Service.
type ServiceDeps struct {
	Repo     Repository
	Ledger   *inventory.Service
	Variants VariantReader
	Access   ProjectAuthorizer
	Audit    AuditPort
	Metrics  MetricsRecorder
}

// NewService creates a new production order service.
func NewService(deps ServiceDeps) *Service {
	return &Service{
		repo:     deps.Repo,
		ledger:   deps.Ledger,
		variants: deps.Variants,
		access:   deps.Access,
		audit:    deps.Audit,
		metrics:  deps.Metrics,
	}
}

// Create stores a DRAFT order with its input lines.
func (s *Service) Create(ctx context.Context, actor shared.Actor, req CreateRequest) (*Order, error) {
	if err := ValidateCreateRequest(req); err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, req.ProjectID); err != nil {
		return nil, err
	}
	if err := s.assertVariants(ctx, actor.OrganizationID, req.OutputVariantID, req.Inputs); err != nil {
		return nil, err
	}

	var orderID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := s.assertCycleOpen(ctx, tx, req.CycleID, actor.OrganizationID); err != nil {
			return err
		}
		id, err := tx.InsertOrder(ctx, Order{
			OrganizationID:  actor.OrganizationID,
			ProjectID:       req.ProjectID,
			CycleID:         req.CycleID,
			Status:          StatusDraft,
			OutputVariantID: req.OutputVariantID,
			OutputQuantity:  req.OutputQuantity,
			Notes:           req.Notes,
			CreatedBy:       actor.UserID,
		})
		if err != nil {
			return fmt.Errorf("insert production order: %w", err)
		}
		orderID = id
		return insertInputs(ctx, tx, id, req.Inputs)
	})
	if err != nil {
		s.observeFailure("production_create", err)
		return nil, err
	}

	s.recordAudit(ctx, actor, "production:create", orderID, map[string]any{
		"project_id":        req.ProjectID,
		"cycle_id":          req.CycleID,
		"output_variant_id": req.OutputVariantID,
		"output_quantity":   req.OutputQuantity,
		"inputs":            len(req.Inputs),
	})
	return s.repo.GetByID(ctx, actor.OrganizationID, orderID)
}

// Update patches a DRAFT order. Supplied inputs replace the existing lines.
func (s *Service) Update(ctx context.Context, actor shared.Actor, id int64, req UpdateRequest) (*Order, error) {
	if err := ValidateUpdateRequest(req); err != nil {
		return nil, err
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.LockOrder(ctx, actor.OrganizationID, id)
		if err != nil {
			return err
		}
		if err := s.authorize(ctx, actor, order.ProjectID); err != nil {
			return err
		}
		if !order.Status.CanEdit() {
			return ErrCannotEdit
		}
		if err := s.assertCycleOpen(ctx, tx, order.CycleID, order.OrganizationID); err != nil {
			return err
		}
		var outputVariantID int64
		if req.OutputVariantID != nil {
			outputVariantID = *req.OutputVariantID
		}
		var inputs []InputRequest
		if req.Inputs != nil {
			inputs = *req.Inputs
		}
		if err := s.assertVariants(ctx, order.OrganizationID, outputVariantID, inputs); err != nil {
			return err
		}

		updates := make(map[string]any)
		if req.Notes != nil {
			updates["notes"] = *req.Notes
		}
		if req.OutputVariantID != nil {
			updates["output_variant_id"] = *req.OutputVariantID
		}
		if req.OutputQuantity != nil {
			updates["output_quantity"] = *req.OutputQuantity
		}
		if req.Inputs != nil {
			if err := tx.DeleteInputs(ctx, id); err != nil {
				return fmt.Errorf("delete inputs: %w", err)
			}
			if err := insertInputs(ctx, tx, id, *req.Inputs); err != nil {
				return err
			}
			// Touch the header so updated_at tracks line changes too.
			if len(updates) == 0 {
				updates["status"] = string(order.Status)
			}
		}
		return tx.UpdateOrder(ctx, id, updates)
	})
	if err != nil {
		s.observeFailure("production_update", err)
		return nil, err
	}

	s.recordAudit(ctx, actor, "production:update", id, nil)
	return s.repo.GetByID(ctx, actor.OrganizationID, id)
}

// Complete consumes the inputs and produces the output in one transaction:
// one PRODUCTION_ISSUE per input and one PRODUCTION_RECEIPT costed at the
// total input cost divided by the output quantity.
func (s *Service) Complete(ctx context.Context, actor shared.Actor, id int64) (*Completion, error) {
	var completion Completion
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.LockOrder(ctx, actor.OrganizationID, id)
		if err != nil {
			return err
		}
		if err := s.authorize(ctx, actor, order.ProjectID); err != nil {
			return err
		}
		if !order.Status.CanComplete() {
			return ErrAlreadyCompleted
		}
		ledger := tx.Ledger()
		if err := s.assertCycleOpen(ctx, tx, order.CycleID, order.OrganizationID); err != nil {
			return err
		}
		inputs, err := tx.ListInputs(ctx, order.ID)
		if err != nil {
			return fmt.Errorf("list inputs: %w", err)
		}
		if len(inputs) == 0 {
			return ErrNoInputs
		}

		balances, err := lockBalances(ctx, ledger, order, inputs)
		if err != nil {
			return err
		}
		costs := make([]ResolvedCost, 0, len(inputs))
		total := decimal.Zero
		for _, in := range inputs {
			cost, err := s.resolveCost(ctx, order.OrganizationID, in, balances[in.VariantID])
			if err != nil {
				return err
			}
			total = total.Add(cost.UnitCost.Mul(decimal.NewFromInt(in.QuantityRequired)))
			costs = append(costs, cost)
		}
		unitCost := OutputUnitCost(total, order.OutputQuantity)

		source := &inventory.SourceRef{Kind: inventory.SourceProductionOrder, ID: order.ID}
		for _, in := range inputs {
			_, _, err := s.ledger.Post(ctx, ledger, inventory.MovementInput{
				Key:           order.key(in.VariantID),
				QuantityDelta: -in.QuantityRequired,
				UnitCost:      in.UnitCostOverride,
				Type:          inventory.TransactionTypeProductionIssue,
				Source:        source,
				Notes:         in.Notes,
				ActorID:       actor.UserID,
			})
			if err != nil {
				return fmt.Errorf("post issue for variant %d: %w", in.VariantID, err)
			}
		}
		if _, _, err := s.ledger.Post(ctx, ledger, inventory.MovementInput{
			Key:           order.key(order.OutputVariantID),
			QuantityDelta: order.OutputQuantity,
			UnitCost:      &unitCost,
			Type:          inventory.TransactionTypeProductionReceipt,
			Source:        source,
			ActorID:       actor.UserID,
		}); err != nil {
			return fmt.Errorf("post receipt for variant %d: %w", order.OutputVariantID, err)
		}

		completedAt := time.Now().UTC()
		if err := tx.UpdateOrder(ctx, order.ID, map[string]any{
			"status":           string(StatusCompleted),
			"output_unit_cost": unitCost,
			"completed_at":     completedAt,
		}); err != nil {
			return fmt.Errorf("update production order: %w", err)
		}

		order.Status = StatusCompleted
		order.OutputUnitCost = &unitCost
		order.CompletedAt = &completedAt
		order.Inputs = inputs
		completion = Completion{Order: order, Costs: costs, TotalCost: total, OutputUnitCost: unitCost}
		return nil
	})
	if err != nil {
		s.observeFailure("production_complete", err)
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ObserveProductionCompleted()
	}
	s.recordAudit(ctx, actor, "production:complete", id, map[string]any{
		"total_cost":       completion.TotalCost.String(),
		"output_unit_cost": completion.OutputUnitCost.String(),
		"output_quantity":  completion.Order.OutputQuantity,
	})
	return &completion, nil
}

// Delete removes a DRAFT order and its inputs.
func (s *Service) Delete(ctx context.Context, actor shared.Actor, id int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.LockOrder(ctx, actor.OrganizationID, id)
		if err != nil {
			return err
		}
		if err := s.authorize(ctx, actor, order.ProjectID); err != nil {
			return err
		}
		if !order.Status.CanDelete() {
			return ErrCannotDelete
		}
		if err := s.assertCycleOpen(ctx, tx, order.CycleID, order.OrganizationID); err != nil {
			return err
		}
		if err := tx.DeleteInputs(ctx, id); err != nil {
			return fmt.Errorf("delete inputs: %w", err)
		}
		return tx.DeleteOrder(ctx, id)
	})
	if err != nil {
		s.observeFailure("production_delete", err)
		return err
	}
	s.recordAudit(ctx, actor, "production:delete", id, nil)
	return nil
}

// Get returns an order with its inputs.
func (s *Service) Get(ctx context.Context, actor shared.Actor, id int64) (*Order, error) {
	order, err := s.repo.GetByID(ctx, actor.OrganizationID, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, order.ProjectID); err != nil {
		return nil, err
	}
	return order, nil
}

// List returns orders of the actor's organization. Members must scope the
// listing to a project they belong to.
func (s *Service) List(ctx context.Context, actor shared.Actor, req ListRequest) ([]Order, error) {
	if err := shared.ValidateStruct(req); err != nil {
		return nil, err
	}
	if req.Status != nil && !req.Status.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", shared.ErrValidation, *req.Status)
	}
	if !actor.IsAdmin() {
		if req.ProjectID <= 0 {
			return nil, ErrProjectRequired
		}
		if err := s.authorize(ctx, actor, req.ProjectID); err != nil {
			return nil, err
		}
	}
	page := shared.NewPage(req.Limit, req.Offset)
	req.Limit, req.Offset = page.Limit, page.Offset
	return s.repo.List(ctx, actor.OrganizationID, req)
}

// OutputUnitCost divides the total input cost over the produced quantity.
func OutputUnitCost(total decimal.Decimal, quantity int64) decimal.Decimal {
	if quantity <= 0 {
		return decimal.Zero
	}
	return total.DivRound(decimal.NewFromInt(quantity), inventory.CostScale)
}

// resolveCost picks the unit cost of an input: override, then the moving
// average of its balance, then the catalog default, then zero.
func (s *Service) resolveCost(ctx context.Context, organizationID int64, in Input, balance inventory.Balance) (ResolvedCost, error) {
	cost := ResolvedCost{InputID: in.ID, VariantID: in.VariantID, Quantity: in.QuantityRequired, Source: CostUnresolved}
	switch {
	case in.UnitCostOverride != nil:
		cost.UnitCost, cost.Source = *in.UnitCostOverride, CostFromOverride
		return cost, nil
	case balance.HasCostBasis():
		cost.UnitCost, cost.Source = balance.AvgUnitCost, CostFromBalance
		return cost, nil
	}
	if s.variants != nil {
		info, err := s.variants.GetVariant(ctx, organizationID, in.VariantID)
		if err != nil {
			return ResolvedCost{}, fmt.Errorf("resolve cost for variant %d: %w", in.VariantID, err)
		}
		if info.DefaultUnitCost.IsPositive() {
			cost.UnitCost, cost.Source = info.DefaultUnitCost, CostFromCatalog
			return cost, nil
		}
	}
	cost.UnitCost = decimal.Zero
	return cost, nil
}

// lockBalances locks the input and output keys in ascending variant order so
// concurrent completions sharing any variant, as input or output, cannot
// deadlock. The returned map holds the balances as locked.
func lockBalances(ctx context.Context, ledger inventory.TxRepository, order *Order, inputs []Input) (map[int64]inventory.Balance, error) {
	variantIDs := make([]int64, 0, len(inputs)+1)
	seen := make(map[int64]struct{}, len(inputs)+1)
	for _, id := range append([]int64{order.OutputVariantID}, inputVariantIDs(inputs)...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		variantIDs = append(variantIDs, id)
	}
	sort.Slice(variantIDs, func(i, j int) bool { return variantIDs[i] < variantIDs[j] })

	balances := make(map[int64]inventory.Balance, len(variantIDs))
	for _, variantID := range variantIDs {
		balance, err := ledger.LockBalance(ctx, order.key(variantID))
		if err != nil {
			return nil, fmt.Errorf("lock balance for variant %d: %w", variantID, err)
		}
		balances[variantID] = balance
	}
	return balances, nil
}

func inputVariantIDs(inputs []Input) []int64 {
	ids := make([]int64, len(inputs))
	for i, in := range inputs {
		ids[i] = in.VariantID
	}
	return ids
}

// assertVariants checks that the output variant, when set, and every input
// variant belong to the organization's catalog.
func (s *Service) assertVariants(ctx context.Context, organizationID, outputVariantID int64, inputs []InputRequest) error {
	if s.variants == nil {
		return nil
	}
	ids := make([]int64, 0, len(inputs)+1)
	if outputVariantID > 0 {
		ids = append(ids, outputVariantID)
	}
	for _, in := range inputs {
		ids = append(ids, in.VariantID)
	}
	checked := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := checked[id]; ok {
			continue
		}
		checked[id] = struct{}{}
		if _, err := s.variants.GetVariant(ctx, organizationID, id); err != nil {
			return fmt.Errorf("variant %d: %w", id, err)
		}
	}
	return nil
}

func insertInputs(ctx context.Context, tx TxRepository, orderID int64, inputs []InputRequest) error {
	for i, in := range inputs {
		lineOrder := in.LineOrder
		if lineOrder == 0 {
			lineOrder = i + 1
		}
		if _, err := tx.InsertInput(ctx, Input{
			ProductionOrderID: orderID,
			VariantID:         in.VariantID,
			QuantityRequired:  in.QuantityRequired,
			UnitCostOverride:  in.UnitCostOverride,
			Notes:             in.Notes,
			LineOrder:         lineOrder,
		}); err != nil {
			return fmt.Errorf("insert input %d: %w", i+1, err)
		}
	}
	return nil
}

func (o *Order) key(variantID int64) inventory.BalanceKey {
	return inventory.BalanceKey{
		OrganizationID: o.OrganizationID,
		ProjectID:      o.ProjectID,
		CycleID:        o.CycleID,
		VariantID:      variantID,
	}
}

func (s *Service) assertCycleOpen(ctx context.Context, tx TxRepository, cycleID, organizationID int64) error {
	return s.ledger.Guard().AssertNotLocked(ctx, tx.Ledger(), cycleID, organizationID)
}

func (s *Service) authorize(ctx context.Context, actor shared.Actor, projectID int64) error {
	if s.access == nil {
		return nil
	}
	return s.access.AuthorizeProject(ctx, actor, projectID)
}

func (s *Service) observeFailure(operation string, err error) {
	if s.metrics != nil && errors.Is(err, shared.ErrCycleLocked) {
		s.metrics.ObserveCycleLocked(operation)
	}
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		OrganizationID: actor.OrganizationID,
		ActorID:        actor.UserID,
		Action:         action,
		Entity:         "production_order",
		EntityID:       fmt.Sprintf("%d", id),
		Meta:           meta,
		At:             time.Now().UTC(),
	})
}
