package usecase_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_tp_reentry/internal/domain"
	"github.com/vitos/crypto_tp_reentry/internal/usecase"
)

func TestCalculateStopLoss_Long(t *testing.T) {
	res, err := usecase.CalculateStopLoss(100000, domain.SideLong, 10, 0.85, 2)
	require.NoError(t, err)

	assert.InDelta(t, 110000, res.TakeProfitPrice, 1e-6)
	assert.InDelta(t, 8500, res.PotentialNextProfit, 1e-6)
	assert.InDelta(t, 10000, res.ProfitPerUnit, 1e-6)
	assert.InDelta(t, 90000, res.StopLossPrice, 1e-6)
}

func TestCalculateStopLoss_Short(t *testing.T) {
	res, err := usecase.CalculateStopLoss(2000, domain.SideShort, 5, 3, 2)
	require.NoError(t, err)

	assert.InDelta(t, 1900, res.TakeProfitPrice, 1e-6)
	assert.InDelta(t, 300, res.PotentialNextProfit, 1e-6)
	assert.InDelta(t, 2100, res.StopLossPrice, 1e-6)
}

// A stopped-out re-entry loses what it would have made at take-profit.
func TestCalculateStopLoss_LossEqualsPotentialProfit(t *testing.T) {
	cases := []struct {
		entry float64
		side  domain.Side
		tp    float64
		qty   float64
	}{
		{100000, domain.SideLong, 10, 0.85},
		{63250.5, domain.SideLong, 3.5, 0.012},
		{1.2345, domain.SideShort, 7, 1500},
		{0.5, domain.SideShort, 99, 10},
	}
	for _, c := range cases {
		res, err := usecase.CalculateStopLoss(c.entry, c.side, c.tp, c.qty, -1)
		require.NoError(t, err)

		loss := math.Abs(c.entry-res.StopLossPrice) * c.qty
		assert.InDelta(t, res.PotentialNextProfit, loss, 1e-6*res.PotentialNextProfit)
		assert.Greater(t, res.StopLossPrice, 0.0)
		if c.side == domain.SideLong {
			assert.Less(t, res.StopLossPrice, c.entry)
		} else {
			assert.Greater(t, res.StopLossPrice, c.entry)
		}
	}
}

func TestCalculateStopLoss_Rounding(t *testing.T) {
	res, err := usecase.CalculateStopLoss(1.23456, domain.SideLong, 10, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, 1.358, res.TakeProfitPrice)
	assert.Equal(t, 1.111, res.StopLossPrice)
}

func TestCalculateStopLoss_Invalid(t *testing.T) {
	_, err := usecase.CalculateStopLoss(0, domain.SideLong, 10, 1, 2)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = usecase.CalculateStopLoss(100, domain.Side("FLAT"), 10, 1, 2)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = usecase.CalculateStopLoss(100, domain.SideLong, 0, 1, 2)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = usecase.CalculateStopLoss(100, domain.SideLong, 100, 1, 2)
	assert.ErrorIs(t, err, domain.ErrValidation, "a 100% move would put a long stop at zero")

	_, err = usecase.CalculateStopLoss(100, domain.SideLong, 100.5, 1, 2)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = usecase.CalculateStopLoss(100, domain.SideLong, 99.999, 1, 2)
	assert.ErrorIs(t, err, domain.ErrValidation, "stop rounds to zero")

	_, err = usecase.CalculateStopLoss(100, domain.SideLong, 10, 0, 2)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCalculateStopLoss_FullPercentage(t *testing.T) {
	res, err := usecase.CalculateStopLoss(2000, domain.SideShort, 100, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.TakeProfitPrice)
	assert.Equal(t, 4000.0, res.StopLossPrice)

	res, err = usecase.CalculateStopLoss(2000, domain.SideLong, 99, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 20.0, res.StopLossPrice)
}

func TestNextQuantity_Cascade(t *testing.T) {
	qty := 1.0
	want := []float64{0.85, 0.7225, 0.614125}
	for _, w := range want {
		qty = usecase.NextQuantity(qty, 15)
		assert.InDelta(t, w, qty, 1e-9)
	}
}

func TestNextQuantity_StrictlyDecreasing(t *testing.T) {
	for reduction := 1.0; reduction <= 50; reduction++ {
		qty := 1.0
		for step := 1; step <= 10; step++ {
			next := usecase.NextQuantity(qty, reduction)
			require.Less(t, next, qty, "reduction %v step %d", reduction, step)
			require.Greater(t, next, 0.0, "reduction %v step %d", reduction, step)
			qty = next
		}
	}
}

// With lot-size flooring the cascade may reach zero, which ends it.
func TestNextQuantity_FlooredCascade(t *testing.T) {
	tests := []struct {
		reduction float64
		precision int
		endsAt    int // 0 means all ten steps stay positive
	}{
		{reduction: 1, precision: 3},
		{reduction: 15, precision: 3},
		{reduction: 50, precision: 3, endsAt: 10},
		{reduction: 50, precision: 1, endsAt: 4},
	}
	for _, tt := range tests {
		qty := 1.0
		ended := 0
		for step := 1; step <= 10; step++ {
			next := usecase.FloorQuantity(usecase.NextQuantity(qty, tt.reduction), tt.precision)
			if next == 0 {
				ended = step
				break
			}
			require.Less(t, next, qty, "reduction %v step %d", tt.reduction, step)
			qty = next
		}
		assert.Equal(t, tt.endsAt, ended, "reduction %v precision %d", tt.reduction, tt.precision)
	}
}

func TestFloorQuantity(t *testing.T) {
	assert.Equal(t, 0.123, usecase.FloorQuantity(0.12399, 3))
	assert.Equal(t, 0.0, usecase.FloorQuantity(0.0009, 3))
	assert.Equal(t, 0.12399, usecase.FloorQuantity(0.12399, -1))
}
