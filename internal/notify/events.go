package notify

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/alimansour/coinwatch/internal/domain"
)

// LedgerSink renders ledger transition events into channel messages. It is
// the sink the reconciliation engine publishes to.
type LedgerSink struct {
	notifier *Notifier
}

// NewLedgerSink creates a LedgerSink over the notifier.
func NewLedgerSink(notifier *Notifier) *LedgerSink {
	return &LedgerSink{notifier: notifier}
}

// Publish formats and dispatches one ledger event.
func (s *LedgerSink) Publish(ctx context.Context, ev domain.LedgerEvent) error {
	title, message := formatLedgerEvent(ev)
	return s.notifier.Notify(ctx, string(ev.Type), title, message)
}

func formatLedgerEvent(ev domain.LedgerEvent) (title, message string) {
	var b strings.Builder

	switch ev.Type {
	case domain.LedgerEventBuy:
		title = fmt.Sprintf("Buy %s", ev.Asset)
		fmt.Fprintf(&b, "Bought %s %s at %s (%.2f %s)\n",
			trimFloat(ev.Delta), ev.Asset, trimFloat(ev.Price), ev.TradeValue, domain.StableAsset)
		if ev.Position != nil {
			fmt.Fprintf(&b, "Avg buy price: %s\n", trimFloat(ev.Position.AvgBuyPrice))
		}

	case domain.LedgerEventSell:
		title = fmt.Sprintf("Sell %s", ev.Asset)
		fmt.Fprintf(&b, "Sold %s %s at %s (%.2f %s)\n",
			trimFloat(math.Abs(ev.Delta)), ev.Asset, trimFloat(ev.Price), ev.TradeValue, domain.StableAsset)
		if ev.Position != nil {
			fmt.Fprintf(&b, "Remaining: %s %s\n", trimFloat(ev.Position.RemainingAmount()), ev.Asset)
		}

	case domain.LedgerEventClose:
		title = fmt.Sprintf("Closed %s", ev.Asset)
		if ev.Closed != nil {
			fmt.Fprintf(&b, "PnL: %+.2f %s (%+.2f%%)\n", ev.Closed.PnL, domain.StableAsset, ev.Closed.PnLPercent)
			fmt.Fprintf(&b, "Avg buy %s, avg sell %s, held %.1f days\n",
				trimFloat(ev.Closed.AvgBuyPrice), trimFloat(ev.Closed.AvgSellPrice), ev.Closed.DurationDays)
		}
	}

	fmt.Fprintf(&b, "Tenant: %s\n", ev.TenantID)
	fmt.Fprintf(&b, "Portfolio: %.2f %s (%.1f%% %s, %.1f%% cash)",
		ev.NewTotalValue, domain.StableAsset, ev.AssetWeightPct, ev.Asset, ev.CashPct)

	return title, b.String()
}

// TenantMessenger adapts the notifier to the per-tenant send surface the
// tracker service uses.
type TenantMessenger struct {
	notifier *Notifier
	event    string
}

// NewTenantMessenger creates a TenantMessenger tagging messages with the
// given event kind.
func NewTenantMessenger(notifier *Notifier, event string) *TenantMessenger {
	return &TenantMessenger{notifier: notifier, event: event}
}

// Send delivers a tenant-addressed line through the configured channels.
func (m *TenantMessenger) Send(ctx context.Context, tenantID, text string) error {
	return m.notifier.Notify(ctx, m.event, "Alert", fmt.Sprintf("%s\nTenant: %s", text, tenantID))
}

// trimFloat renders a price or quantity without trailing zero noise.
func trimFloat(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.8f", v), "0"), ".")
}
