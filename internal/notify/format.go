package notify

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

// Format renders an opportunity for text channels. The body lists both legs
// with their volume or pool liquidity, the DEX contract and pair link when a
// leg is on-chain, and transfer status when it was looked up.
func Format(opp domain.SpreadOpportunity) (title, message string) {
	title = fmt.Sprintf("%s spread %.2f%%", opp.Token, opp.SpreadPercent)

	var b strings.Builder
	writeLeg(&b, "Buy", opp.Buy)
	writeLeg(&b, "Sell", opp.Sell)
	fmt.Fprintf(&b, "Diff: %s\n", FormatPrice(opp.AbsoluteDiff))
	fmt.Fprintf(&b, "Seen: %s", opp.DiscoveredAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	return title, b.String()
}

func writeLeg(b *strings.Builder, side string, l domain.Leg) {
	fmt.Fprintf(b, "%s %s %s @ %s", side, l.Exchange, l.Market, FormatPrice(l.Price))
	if l.Market == domain.MarketDEX {
		fmt.Fprintf(b, " (liq %s)\n", FormatUSD(l.Liquidity))
		if l.Chain != "" || l.Contract != "" {
			fmt.Fprintf(b, "  %s %s\n", l.Chain, l.Contract)
		}
		if l.PairURL != "" {
			fmt.Fprintf(b, "  %s\n", l.PairURL)
		}
		return
	}
	fmt.Fprintf(b, " (vol %s)\n", FormatUSD(l.Volume24h))
	if t := l.Transfer; t.Known {
		fmt.Fprintf(b, "  deposit %s, withdraw %s", onOff(t.Deposit), onOff(t.Withdraw))
		if t.Chain != "" {
			fmt.Fprintf(b, " on %s", t.Chain)
		}
		if t.MaxWithdrawal != "" {
			fmt.Fprintf(b, ", max %s", t.MaxWithdrawal)
		}
		b.WriteByte('\n')
	}
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

// FormatPrice keeps enough significant digits for sub-cent tokens.
func FormatPrice(p float64) string {
	switch {
	case p == 0:
		return "0"
	case p >= 1:
		return strconv.FormatFloat(p, 'f', 4, 64)
	default:
		return strconv.FormatFloat(p, 'g', 6, 64)
	}
}

// FormatUSD abbreviates a dollar amount: $950, $12.3K, $4.56M, $1.20B.
func FormatUSD(v float64) string {
	switch {
	case v >= 1e9:
		return fmt.Sprintf("$%.2fB", v/1e9)
	case v >= 1e6:
		return fmt.Sprintf("$%.2fM", v/1e6)
	case v >= 1e3:
		return fmt.Sprintf("$%.1fK", v/1e3)
	default:
		return fmt.Sprintf("$%.0f", v)
	}
}
