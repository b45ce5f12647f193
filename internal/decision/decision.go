package decision

import (
	"time"

	"solana-brain/internal/commands"
	"solana-brain/internal/config"
	"solana-brain/internal/market"
	"solana-brain/internal/store"
)

// Kind identifies what action a Decision calls for.
type Kind string

const (
	Hold            Kind = "hold"
	Sell            Kind = "sell"
	PartialSell     Kind = "partial_sell"
	ScaleIn         Kind = "scale_in"
	ExitAllFlagged  Kind = "exit_all_flagged"
)

// Reason is the enumerated code recorded on every non-hold decision, so the
// trade history audit trail says *why* a position closed, not just that it
// did.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonEmergencyStop      Reason = "emergency_stop"
	ReasonGuardianExitAll    Reason = "guardian_exit_all"
	ReasonAdvisorSell        Reason = "advisor_sell"
	ReasonTimeout            Reason = "timeout"
	ReasonTakeProfit         Reason = "take_profit"
	ReasonStopLoss           Reason = "stop_loss"
	ReasonTimeBasedStopLoss  Reason = "time_based_stop_loss"
	ReasonMarketUnavailable  Reason = "market_unavailable"
	ReasonMarketDataLost     Reason = "market_data_lost"
	ReasonMarketQuality      Reason = "market_quality"
	ReasonScaleInOpportunity Reason = "scale_in_opportunity"
)

// Decision is the sum type the decision engine produces for one position on
// one tick: Kind selects the action, Fraction/DeltaSOL parameterize it, and
// Reason records why for the audit trail.
type Decision struct {
	Kind     Kind
	Fraction float64 // for PartialSell: fraction of the position to exit
	DeltaSOL float64 // for ScaleIn: additional SOL to commit
	Reason   Reason
}

func hold() Decision { return Decision{Kind: Hold, Reason: ReasonNone} }

func sell(reason Reason) Decision { return Decision{Kind: Sell, Fraction: 1.0, Reason: reason} }

// Decide applies the ordered rule set, from highest to lowest precedence,
// and returns the first rule that fires. It is a pure function: given the
// same inputs it always returns the same Decision, which is what makes it
// directly table- and property-testable without standing up any of the
// Brain's live infrastructure.
func Decide(
	pos store.Position,
	mkt market.Result,
	signal commands.SignalSlot,
	hasSignal bool,
	flags commands.GlobalFlags,
	now time.Time,
	risk config.RiskConfig,
	scaling config.ScalingConfig,
) Decision {
	// Rule 1: emergency stop outranks everything, including a fresh
	// advisor SELL or an in-flight scale-in — the account is halting.
	if flags.EmergencyStopAll {
		return sell(ReasonEmergencyStop)
	}

	// Guardian exit-all-flagged outranks market data and advisor signals
	// but not an emergency stop.
	if flags.ExitAllFlagged {
		return Decision{Kind: ExitAllFlagged, Fraction: 1.0, Reason: ReasonGuardianExitAll}
	}

	held := now.Sub(pos.OpenedAt)

	// Rule 2: hard position timeout, independent of PnL and of whether
	// market data is even available — staying in a position forever is
	// worse than exiting once the clock has run out.
	positionTimeout := pos.TimeoutSeconds
	if positionTimeout == 0 {
		positionTimeout = risk.DefaultTimeoutSeconds
	}
	timeout := time.Duration(positionTimeout) * time.Second
	if held >= timeout {
		return sell(ReasonTimeout)
	}

	// Rule 3: if market data has gone stale for too long, the position
	// cannot be safely evaluated against the price-based rules below. A
	// short gap just holds; a gap past twice the configured staleness
	// threshold means the feed is presumed lost and the position exits
	// blind rather than sit unmanaged indefinitely.
	if mkt.Availability == market.Unavailable {
		lastObserved := pos.LastPriceObservedAt
		if lastObserved.IsZero() {
			lastObserved = pos.OpenedAt
		}
		staleFor := now.Sub(lastObserved)
		lostThreshold := 2 * time.Duration(risk.MaxDataAgeSeconds) * time.Second
		if staleFor > lostThreshold {
			return sell(ReasonMarketDataLost)
		}
		return Decision{Kind: Hold, Reason: ReasonMarketUnavailable}
	}

	pnlPercent := pnlPercent(pos, mkt.Snapshot.PriceSOL)

	// Rule 4: stop-loss, tightened once the position has been held for
	// TimeBasedStopLossHours — a loss that was acceptable minutes after
	// entry is not acceptable hours later with no recovery.
	stopLoss := pos.StopLossPercent
	if stopLoss == 0 {
		stopLoss = risk.DefaultStopLossPercent
	}
	if risk.TimeBasedStopLossHours > 0 && held.Hours() >= risk.TimeBasedStopLossHours {
		effectiveStopLoss := stopLoss * risk.TimeBasedStopLossFactor
		if pnlPercent <= -effectiveStopLoss {
			return sell(ReasonTimeBasedStopLoss)
		}
	}
	if pnlPercent <= -stopLoss {
		return sell(ReasonStopLoss)
	}

	// Rule 5: take-profit.
	takeProfit := pos.TakeProfitPercent
	if takeProfit == 0 {
		takeProfit = risk.DefaultTakeProfitPercent
	}
	if pnlPercent >= takeProfit {
		return sell(ReasonTakeProfit)
	}

	// Rule 6: market quality — exit a position whose liquidity has dried
	// up or whose spread/volatility has blown out, since those are the
	// conditions under which the mechanical price rules above stop being
	// trustworthy signals.
	snap := mkt.Snapshot
	if risk.MinLiquidityMultiplier > 0 && snap.LiquiditySOL < pos.PositionSizeSOL*risk.MinLiquidityMultiplier {
		return sell(ReasonMarketQuality)
	}
	if risk.MaxSpreadPercent > 0 && snap.SpreadPercent > risk.MaxSpreadPercent {
		return sell(ReasonMarketQuality)
	}
	if risk.MaxVolatilityPercent > 0 && snap.VolatilityPct > risk.MaxVolatilityPercent {
		return sell(ReasonMarketQuality)
	}

	// Rule 7: an advisor SELL signal exits the position even when every
	// mechanical rule above is satisfied — the advisor is presumed to
	// have information the mechanical rules don't.
	if hasSignal && signal.Action == commands.ActionSell {
		return sell(ReasonAdvisorSell)
	}

	// Rule 8: advisor-requested scale-in, gated on config, the scale-in
	// count, and PnL being at or below ScalingThresholdPercent.
	if scaling.Enabled && hasSignal && signal.Action == commands.ActionScaleIn &&
		pos.ScaleInsDone < scaling.MaxScaleIns && pnlPercent <= scaling.ScalingThresholdPercent {
		delta := pos.PositionSizeSOL * (scaling.ScalingAmountPercent / 100)
		return Decision{Kind: ScaleIn, DeltaSOL: delta, Reason: ReasonScaleInOpportunity}
	}

	// Rule 9: default — keep holding.
	return hold()
}

func pnlPercent(pos store.Position, currentPriceSOL float64) float64 {
	if pos.EntryPriceSOL == 0 {
		return 0
	}
	return (currentPriceSOL - pos.EntryPriceSOL) / pos.EntryPriceSOL * 100
}
