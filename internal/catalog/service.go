package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tallyhq/tally/internal/shared"
)

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service provides catalog management and variant lookups.
type Service struct {
	repo  Repository
	cache *Cache
	audit AuditPort
}

// NewService creates a new catalog service. cache and audit may be nil.
func NewService(repo Repository, cache *Cache, audit AuditPort) *Service {
	return &Service{repo: repo, cache: cache, audit: audit}
}

// CreateItem persists an item with its variants. An item declared without
// variants receives a zero-cost variant labelled "Default".
func (s *Service) CreateItem(ctx context.Context, actor shared.Actor, in CreateItemInput) (Item, error) {
	in.OrganizationID = actor.OrganizationID
	in.Name = strings.TrimSpace(in.Name)
	if err := shared.ValidateStruct(in); err != nil {
		return Item{}, err
	}
	variants := in.Variants
	if len(variants) == 0 {
		label := DefaultVariantLabel
		variants = []VariantInput{{Label: &label}}
	}
	for _, v := range variants {
		if isNegative(v.DefaultUnitCost) || isNegative(v.DefaultSellingPrice) {
			return Item{}, ErrNegativeAmount
		}
	}

	var itemID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		itemID, err = tx.InsertItem(ctx, Item{
			OrganizationID: in.OrganizationID,
			Name:           in.Name,
			SKU:            in.SKU,
			UnitOfMeasure:  in.UnitOfMeasure,
			Type:           in.Type,
			Active:         true,
		})
		if err != nil {
			return fmt.Errorf("catalog: insert item: %w", err)
		}
		for i, v := range variants {
			_, err := tx.InsertVariant(ctx, Variant{
				ItemID:              itemID,
				Label:               v.Label,
				SKU:                 v.SKU,
				DefaultUnitCost:     amountOrZero(v.DefaultUnitCost),
				DefaultSellingPrice: amountOrZero(v.DefaultSellingPrice),
				Active:              true,
			})
			if err != nil {
				return fmt.Errorf("catalog: insert variant %d: %w", i+1, err)
			}
		}
		return nil
	})
	if err != nil {
		return Item{}, err
	}
	s.recordAudit(ctx, actor, "catalog:item_created", "inventory_item", itemID, map[string]any{"name": in.Name, "item_type": string(in.Type)})
	return s.repo.GetItem(ctx, in.OrganizationID, itemID)
}

// GetItem returns an item with its variants.
func (s *Service) GetItem(ctx context.Context, organizationID, itemID int64) (Item, error) {
	return s.repo.GetItem(ctx, organizationID, itemID)
}

// ListItems lists the organization's items.
func (s *Service) ListItems(ctx context.Context, filter ListItemsFilter) ([]Item, error) {
	if filter.OrganizationID <= 0 {
		return nil, fmt.Errorf("%w: organization required", shared.ErrValidation)
	}
	if filter.Type != nil && !filter.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown item type %q", shared.ErrValidation, *filter.Type)
	}
	filter.Page = shared.NewPage(filter.Page.Limit, filter.Page.Offset)
	return s.repo.ListItems(ctx, filter)
}

// UpdateItem patches name, SKU, unit of measure and active flag.
func (s *Service) UpdateItem(ctx context.Context, actor shared.Actor, itemID int64, in UpdateItemInput) (Item, error) {
	if err := shared.ValidateStruct(in); err != nil {
		return Item{}, err
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LockItem(ctx, actor.OrganizationID, itemID)
		if err != nil {
			return err
		}
		if in.Type != nil && *in.Type != current.Type {
			return ErrTypeImmutable
		}
		updates := map[string]any{}
		if in.Name != nil {
			updates["name"] = strings.TrimSpace(*in.Name)
		}
		if in.SKU != nil {
			updates["sku"] = *in.SKU
		}
		if in.UnitOfMeasure != nil {
			updates["unit_of_measure"] = *in.UnitOfMeasure
		}
		if in.Active != nil {
			updates["is_active"] = *in.Active
		}
		return tx.UpdateItem(ctx, itemID, updates)
	})
	if err != nil {
		return Item{}, err
	}
	s.invalidate(ctx)
	s.recordAudit(ctx, actor, "catalog:item_updated", "inventory_item", itemID, nil)
	return s.repo.GetItem(ctx, actor.OrganizationID, itemID)
}

// UpdateVariant patches a variant's label, SKU, defaults and active flag.
func (s *Service) UpdateVariant(ctx context.Context, actor shared.Actor, variantID int64, in UpdateVariantInput) (Variant, error) {
	if err := shared.ValidateStruct(in); err != nil {
		return Variant{}, err
	}
	if isNegative(in.DefaultUnitCost) || isNegative(in.DefaultSellingPrice) {
		return Variant{}, ErrNegativeAmount
	}
	var updated Variant
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LockVariant(ctx, actor.OrganizationID, variantID)
		if err != nil {
			return err
		}
		updates := map[string]any{}
		if in.Label != nil {
			updates["label"] = *in.Label
			current.Label = in.Label
		}
		if in.SKU != nil {
			updates["sku"] = *in.SKU
			current.SKU = in.SKU
		}
		if in.DefaultUnitCost != nil {
			updates["default_unit_cost"] = *in.DefaultUnitCost
			current.DefaultUnitCost = *in.DefaultUnitCost
		}
		if in.DefaultSellingPrice != nil {
			updates["default_selling_price"] = *in.DefaultSellingPrice
			current.DefaultSellingPrice = *in.DefaultSellingPrice
		}
		if in.Active != nil {
			updates["is_active"] = *in.Active
			current.Active = *in.Active
		}
		updated = current
		return tx.UpdateVariant(ctx, variantID, updates)
	})
	if err != nil {
		return Variant{}, err
	}
	s.invalidate(ctx)
	s.recordAudit(ctx, actor, "catalog:variant_updated", "inventory_item_variant", variantID, nil)
	return updated, nil
}

// GetVariant returns the default cost, price and item type of a variant.
func (s *Service) GetVariant(ctx context.Context, organizationID, variantID int64) (VariantInfo, error) {
	return s.cache.Variant(ctx, organizationID, variantID, func(ctx context.Context) (VariantInfo, error) {
		return s.repo.GetVariantInfo(ctx, organizationID, variantID)
	})
}

func (s *Service) invalidate(ctx context.Context) {
	_ = s.cache.Bump(ctx)
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		OrganizationID: actor.OrganizationID,
		ActorID:        actor.UserID,
		Action:         action,
		Entity:         entity,
		EntityID:       fmt.Sprintf("%d", id),
		Meta:           meta,
	})
}

func isNegative(d *decimal.Decimal) bool {
	return d != nil && d.IsNegative()
}

func amountOrZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}
