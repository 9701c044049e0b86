package usecase

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
	"github.com/vitos/crypto_tp_reentry/internal/domain"
)

// StopLossResult holds every intermediate step so callers can log it.
type StopLossResult struct {
	TakeProfitPrice     float64
	PotentialNextProfit float64
	ProfitPerUnit       float64
	StopLossPrice       float64
}

// TakeProfitPrice is the price tpPercentage away from entry in the position's favour.
func TakeProfitPrice(entryPrice float64, side domain.Side, tpPercentage float64) float64 {
	if side == domain.SideShort {
		return entryPrice * (1 - tpPercentage/100)
	}
	return entryPrice * (1 + tpPercentage/100)
}

// CalculateStopLoss places the stop so that a stopped-out re-entry loses exactly
// what it could have made at its own take-profit.
// pricePrecision < 0 disables rounding.
func CalculateStopLoss(entryPrice float64, side domain.Side, tpPercentage, nextQuantity float64, pricePrecision int) (StopLossResult, error) {
	if !side.Valid() {
		return StopLossResult{}, fmt.Errorf("%w: invalid side %q", domain.ErrValidation, side)
	}
	if entryPrice <= 0 {
		return StopLossResult{}, fmt.Errorf("%w: entry price must be positive, got %f", domain.ErrValidation, entryPrice)
	}
	if tpPercentage <= 0 || tpPercentage > 100 {
		return StopLossResult{}, fmt.Errorf("%w: tp percentage must be in (0,100], got %f", domain.ErrValidation, tpPercentage)
	}
	if nextQuantity <= 0 {
		return StopLossResult{}, fmt.Errorf("%w: next quantity must be positive, got %f", domain.ErrValidation, nextQuantity)
	}

	tpPrice := TakeProfitPrice(entryPrice, side, tpPercentage)
	potential := math.Abs(tpPrice-entryPrice) * nextQuantity
	perUnit := potential / nextQuantity

	stop := entryPrice - perUnit
	if side == domain.SideShort {
		stop = entryPrice + perUnit
	}

	stop = roundPrice(stop, pricePrecision)
	if stop <= 0 {
		return StopLossResult{}, fmt.Errorf("%w: tp percentage %f puts the %s stop at %f", domain.ErrValidation, tpPercentage, side, stop)
	}

	return StopLossResult{
		TakeProfitPrice:     roundPrice(tpPrice, pricePrecision),
		PotentialNextProfit: potential,
		ProfitPerUnit:       perUnit,
		StopLossPrice:       stop,
	}, nil
}

// NextQuantity applies one step of the volume-reduction cascade.
func NextQuantity(quantity, reductionPercent float64) float64 {
	return quantity * (1 - reductionPercent/100)
}

func roundPrice(price float64, precision int) float64 {
	if precision < 0 {
		return price
	}
	return decimal.NewFromFloat(price).Round(int32(precision)).InexactFloat64()
}

// floorQuantity truncates to the exchange lot precision so an order never
// exceeds the computed size.
func floorQuantity(qty float64, precision int) float64 {
	if precision < 0 {
		return qty
	}
	return decimal.NewFromFloat(qty).RoundFloor(int32(precision)).InexactFloat64()
}
