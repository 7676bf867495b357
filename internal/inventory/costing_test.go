package inventory

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func TestApplyMovementBlendsInboundCost(t *testing.T) {
	b := Balance{QuantityOnHand: 10, AvgUnitCost: dec("2")}

	next := ApplyMovement(b, 5, decPtr("5"))
	require.Equal(t, int64(15), next.QuantityOnHand)
	require.True(t, next.AvgUnitCost.Equal(dec("3")), next.AvgUnitCost.String())
}

func TestApplyMovementRoundsToSixPlaces(t *testing.T) {
	b := Balance{QuantityOnHand: 10, AvgUnitCost: dec("100000")}
	next := ApplyMovement(b, 5, decPtr("120000"))
	require.True(t, next.AvgUnitCost.Equal(dec("106666.666667")), next.AvgUnitCost.String())
}

func TestApplyMovementKeepsAverage(t *testing.T) {
	b := Balance{QuantityOnHand: 10, AvgUnitCost: dec("4")}

	cases := []struct {
		name  string
		delta int64
		cost  *decimal.Decimal
		qty   int64
	}{
		{"outbound", -8, nil, 2},
		{"outbound with cost", -3, decPtr("99"), 7},
		{"inbound without cost", 5, nil, 15},
		{"inbound onto deep negative", 5, decPtr("1"), -5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			start := b
			if tc.name == "inbound onto deep negative" {
				start.QuantityOnHand = -10
			}
			next := ApplyMovement(start, tc.delta, tc.cost)
			require.Equal(t, tc.qty, next.QuantityOnHand)
			require.True(t, next.AvgUnitCost.Equal(dec("4")))
		})
	}
}

func TestApplyMovementFromEmpty(t *testing.T) {
	next := ApplyMovement(Balance{AvgUnitCost: decimal.Zero}, 25, decPtr("1.4"))
	require.Equal(t, int64(25), next.QuantityOnHand)
	require.True(t, next.AvgUnitCost.Equal(dec("1.4")))
}

func TestReplayMatchesIncrementalPosting(t *testing.T) {
	key := BalanceKey{OrganizationID: 1, ProjectID: 2, CycleID: 3, VariantID: 4}
	movements := []Movement{
		{QuantityDelta: 10, UnitCost: decPtr("2")},
		{QuantityDelta: -4},
		{QuantityDelta: 6, UnitCost: decPtr("3.5")},
		{QuantityDelta: -20},
		{QuantityDelta: 1, UnitCost: decPtr("10")},
	}
	b := Balance{BalanceKey: key}
	var sum int64
	for _, m := range movements {
		b = ApplyMovement(b, m.QuantityDelta, m.UnitCost)
		sum += m.QuantityDelta
	}
	replayed := Replay(key, movements)
	require.Equal(t, b.QuantityOnHand, replayed.QuantityOnHand)
	require.True(t, b.AvgUnitCost.Equal(replayed.AvgUnitCost))
	require.Equal(t, sum, replayed.QuantityOnHand)
}

func TestHasCostBasisIgnoresQuantity(t *testing.T) {
	require.True(t, Balance{QuantityOnHand: -4, AvgUnitCost: dec("1.5")}.HasCostBasis())
	require.True(t, Balance{QuantityOnHand: 0, AvgUnitCost: dec("1.5")}.HasCostBasis())
	require.False(t, Balance{QuantityOnHand: 12, AvgUnitCost: dec("0")}.HasCostBasis())
}
