package usecase

import (
	"fmt"
	"strings"

	"github.com/vitos/crypto_tp_reentry/internal/domain"
)

func formatTPResult(account domain.Account, res *TPResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🎯 Take profit reached on %s\n", strings.ToUpper(account.Exchange))
	fmt.Fprintf(&b, "Total PnL: %.2f / target %.2f\n", res.TotalPnL, res.Target)
	fmt.Fprintf(&b, "Closed %d position(s), profit captured: %.2f\n", len(res.Closed), res.ProfitCaptured)
	for _, c := range res.Closed {
		fmt.Fprintf(&b, "  ✅ %s %s qty=%g pnl=%.2f (%.2f%%)", c.Symbol, c.Side, c.Quantity, c.PnL, c.ProfitPct)
		if c.ReentryArmed {
			b.WriteString(" ↻ re-entry armed")
		}
		b.WriteString("\n")
	}
	for _, f := range res.Failed {
		fmt.Fprintf(&b, "  ❌ %s: %v\n", f.Symbol, f.Err)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatReentry(rec *domain.ReentryRecord, res *ReentryResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "↻ Re-entered %s %s on %s\n", rec.Side, rec.Symbol, strings.ToUpper(rec.Exchange))
	fmt.Fprintf(&b, "Entry: %g  Qty: %g (-%.0f%% per cycle)\n", res.FillPrice, res.Quantity, rec.VolumeReductionPercent)
	fmt.Fprintf(&b, "TP: %g  SL: %g\n", res.TakeProfitPrice, res.StopLossPrice)
	if !res.Protection.OK() {
		b.WriteString("⚠️ Protective orders incomplete, check the position manually\n")
	}
	if res.Terminated {
		b.WriteString("Retries exhausted, no further re-entry for this symbol")
	} else {
		fmt.Fprintf(&b, "Retries remaining: %d (next qty %g)", res.RemainingRetries, res.NextQuantity)
	}
	return b.String()
}
