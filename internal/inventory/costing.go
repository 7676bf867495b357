package inventory

import "github.com/shopspring/decimal"

// CostScale is the number of decimal places kept on unit costs.
const CostScale = 6

// ApplyMovement returns the balance after posting delta at unitCost.
// Quantity always moves by delta. The average only moves for an inbound
// posting with a known cost that leaves stock positive.
func ApplyMovement(b Balance, delta int64, unitCost *decimal.Decimal) Balance {
	oldQty := b.QuantityOnHand
	newQty := oldQty + delta
	next := b
	next.QuantityOnHand = newQty
	if delta > 0 && unitCost != nil && newQty > 0 {
		held := decimal.NewFromInt(oldQty).Mul(b.AvgUnitCost)
		incoming := decimal.NewFromInt(delta).Mul(*unitCost)
		next.AvgUnitCost = held.Add(incoming).DivRound(decimal.NewFromInt(newQty), CostScale)
	}
	return next
}

// Replay folds movements, oldest first, onto an empty balance.
func Replay(key BalanceKey, movements []Movement) Balance {
	b := Balance{BalanceKey: key, AvgUnitCost: decimal.Zero}
	for _, m := range movements {
		b = ApplyMovement(b, m.QuantityDelta, m.UnitCost)
	}
	return b
}

// RoundCost normalises a cost to CostScale places.
func RoundCost(d decimal.Decimal) decimal.Decimal {
	return d.Round(CostScale)
}
