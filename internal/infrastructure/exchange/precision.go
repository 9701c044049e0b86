package exchange

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

type instrumentInfo struct {
	priceDecimals int
	qtyDecimals   int
	tickSize      decimal.Decimal
	qtyStep       decimal.Decimal
}

func newInstrumentInfo(tickSize, qtyStep string) instrumentInfo {
	return instrumentInfo{
		priceDecimals: stepDecimals(tickSize),
		qtyDecimals:   stepDecimals(qtyStep),
		tickSize:      parseStep(tickSize),
		qtyStep:       parseStep(qtyStep),
	}
}

// formatPrice snaps v to the nearest tick. Without a known tick v is sent as is.
func (i instrumentInfo) formatPrice(v float64) string {
	return snapToStep(v, i.tickSize, false)
}

// formatQty snaps v down to the lot step so the order never exceeds v.
func (i instrumentInfo) formatQty(v float64) string {
	return snapToStep(v, i.qtyStep, true)
}

// stepDecimals turns a tick or lot step such as "0.010" into the number of
// decimals it allows (2). Steps of 1 or more allow none.
func stepDecimals(step string) int {
	step = strings.TrimSpace(step)
	idx := strings.IndexByte(step, '.')
	if idx < 0 {
		return 0
	}
	frac := strings.TrimRight(step[idx+1:], "0")
	return len(frac)
}

func parseStep(step string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(step))
	if err != nil || !d.IsPositive() {
		return decimal.Zero
	}
	return d
}

// snapToStep renders v as a multiple of step, e.g. 90000.3 with step 0.5 is
// "90000.5". A zero step leaves v untouched.
func snapToStep(v float64, step decimal.Decimal, floor bool) string {
	if !step.IsPositive() {
		return formatFloat(v)
	}
	units := decimal.NewFromFloat(v).Div(step)
	if floor {
		units = units.Floor()
	} else {
		units = units.Round(0)
	}
	return units.Mul(step).String()
}

// formatFloat renders v without exponent and without trailing zeros.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
