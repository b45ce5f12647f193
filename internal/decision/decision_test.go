package decision

import (
	"testing"
	"time"

	"solana-brain/internal/commands"
	"solana-brain/internal/config"
	"solana-brain/internal/market"
	"solana-brain/internal/store"
)

func baseRisk() config.RiskConfig {
	return config.RiskConfig{
		DefaultTakeProfitPercent: 50,
		DefaultStopLossPercent:   15,
		DefaultTimeoutSeconds:    300,
		TimeBasedStopLossHours:   4,
		TimeBasedStopLossFactor:  0.5,
		MaxDataAgeSeconds:        300,
	}
}

func freshMarket(priceSOL float64) market.Result {
	return market.Result{
		Availability: market.Fresh,
		Snapshot:     market.Snapshot{PriceSOL: priceSOL, ObservedAt: time.Now()},
	}
}

func openPosition(entryPrice float64, openedAgo time.Duration, now time.Time) store.Position {
	return store.Position{
		Mint:            "Mint1",
		Status:          store.StatusOpen,
		EntryPriceSOL:   entryPrice,
		PositionSizeSOL: 1.0,
		OpenedAt:        now.Add(-openedAgo),
		LastUpdatedAt:   now.Add(-openedAgo),
	}
}

func TestDecideHoldsWhenNothingFires(t *testing.T) {
	now := time.Now()
	pos := openPosition(1.0, time.Minute, now)
	d := Decide(pos, freshMarket(1.05), commands.SignalSlot{}, false, commands.GlobalFlags{}, now, baseRisk(), config.ScalingConfig{})
	if d.Kind != Hold {
		t.Fatalf("expected Hold, got %+v", d)
	}
}

func TestDecideTimeoutExit(t *testing.T) {
	now := time.Now()
	risk := baseRisk()
	risk.DefaultTimeoutSeconds = 5
	pos := openPosition(1.0, 10*time.Second, now)
	d := Decide(pos, freshMarket(1.0), commands.SignalSlot{}, false, commands.GlobalFlags{}, now, risk, config.ScalingConfig{})
	if d.Kind != Sell || d.Reason != ReasonTimeout {
		t.Fatalf("expected timeout sell, got %+v", d)
	}
}

func TestDecideTimeoutExitAtInclusiveBoundary(t *testing.T) {
	now := time.Now()
	risk := baseRisk()
	risk.DefaultTimeoutSeconds = 10
	pos := openPosition(1.0, 10*time.Second, now)
	d := Decide(pos, freshMarket(1.0), commands.SignalSlot{}, false, commands.GlobalFlags{}, now, risk, config.ScalingConfig{})
	if d.Kind != Sell || d.Reason != ReasonTimeout {
		t.Fatalf("expected timeout to fire exactly at the boundary, got %+v", d)
	}
}

func TestDecideTimeoutUsesPositionOverrideBeforeDefault(t *testing.T) {
	now := time.Now()
	risk := baseRisk()
	risk.DefaultTimeoutSeconds = 10000
	pos := openPosition(1.0, 10*time.Second, now)
	pos.TimeoutSeconds = 5
	d := Decide(pos, freshMarket(1.0), commands.SignalSlot{}, false, commands.GlobalFlags{}, now, risk, config.ScalingConfig{})
	if d.Kind != Sell || d.Reason != ReasonTimeout {
		t.Fatalf("expected the position's own timeout to override the default, got %+v", d)
	}
}

func TestDecideTakeProfitExit(t *testing.T) {
	now := time.Now()
	pos := openPosition(1.0, time.Minute, now)
	pos.TakeProfitPercent = 20
	d := Decide(pos, freshMarket(1.25), commands.SignalSlot{}, false, commands.GlobalFlags{}, now, baseRisk(), config.ScalingConfig{})
	if d.Kind != Sell || d.Reason != ReasonTakeProfit {
		t.Fatalf("expected take-profit sell, got %+v", d)
	}
}

func TestDecideStopLossExit(t *testing.T) {
	now := time.Now()
	pos := openPosition(1.0, time.Minute, now)
	pos.StopLossPercent = 10
	d := Decide(pos, freshMarket(0.85), commands.SignalSlot{}, false, commands.GlobalFlags{}, now, baseRisk(), config.ScalingConfig{})
	if d.Kind != Sell || d.Reason != ReasonStopLoss {
		t.Fatalf("expected stop-loss sell, got %+v", d)
	}
}

func TestDecideStopLossPrecedesTakeProfitWhenBothOverridden(t *testing.T) {
	now := time.Now()
	pos := openPosition(1.0, time.Minute, now)
	// Contrived but exercises the tie-break: stop-loss is evaluated before
	// take-profit, so if a position's thresholds are configured such that
	// both could read as "fire," stop-loss wins.
	pos.StopLossPercent = 10
	pos.TakeProfitPercent = 5
	d := Decide(pos, freshMarket(0.85), commands.SignalSlot{}, false, commands.GlobalFlags{}, now, baseRisk(), config.ScalingConfig{})
	if d.Kind != Sell || d.Reason != ReasonStopLoss {
		t.Fatalf("expected stop-loss to win the tie-break, got %+v", d)
	}
}

func TestDecideTimeBasedStopLossTightensOverTime(t *testing.T) {
	now := time.Now()
	risk := baseRisk()
	risk.DefaultTimeoutSeconds = 100000
	risk.DefaultStopLossPercent = 20
	risk.TimeBasedStopLossHours = 2
	risk.TimeBasedStopLossFactor = 0.75
	// Held for 3 hours, past the 2h threshold: the stop-loss tightens to
	// 20*0.75 = 15%. A 16% loss should fire the time-based rule even though
	// the static 20% stop-loss would not have.
	pos := openPosition(1.0, 3*time.Hour, now)
	d := Decide(pos, freshMarket(0.84), commands.SignalSlot{}, false, commands.GlobalFlags{}, now, risk, config.ScalingConfig{})
	if d.Kind != Sell || d.Reason != ReasonTimeBasedStopLoss {
		t.Fatalf("expected time-based stop-loss sell, got %+v", d)
	}
}

func TestDecideMarketQualityExit(t *testing.T) {
	now := time.Now()
	risk := baseRisk()
	risk.MinLiquidityMultiplier = 10
	pos := openPosition(1.0, time.Minute, now)
	mkt := market.Result{
		Availability: market.Fresh,
		Snapshot:     market.Snapshot{PriceSOL: 1.05, LiquiditySOL: 2, ObservedAt: now},
	}
	d := Decide(pos, mkt, commands.SignalSlot{}, false, commands.GlobalFlags{}, now, risk, config.ScalingConfig{})
	if d.Kind != Sell || d.Reason != ReasonMarketQuality {
		t.Fatalf("expected market-quality sell on thin liquidity, got %+v", d)
	}
}

func TestDecideMarketQualityExitOnSpread(t *testing.T) {
	now := time.Now()
	risk := baseRisk()
	risk.MaxSpreadPercent = 2
	pos := openPosition(1.0, time.Minute, now)
	mkt := market.Result{
		Availability: market.Fresh,
		Snapshot:     market.Snapshot{PriceSOL: 1.05, SpreadPercent: 5, ObservedAt: now},
	}
	d := Decide(pos, mkt, commands.SignalSlot{}, false, commands.GlobalFlags{}, now, risk, config.ScalingConfig{})
	if d.Kind != Sell || d.Reason != ReasonMarketQuality {
		t.Fatalf("expected market-quality sell on blown-out spread, got %+v", d)
	}
}

func TestDecideMarketQualityExitOnVolatility(t *testing.T) {
	now := time.Now()
	risk := baseRisk()
	risk.MaxVolatilityPercent = 10
	pos := openPosition(1.0, time.Minute, now)
	mkt := market.Result{
		Availability: market.Fresh,
		Snapshot:     market.Snapshot{PriceSOL: 1.05, VolatilityPct: 40, ObservedAt: now},
	}
	d := Decide(pos, mkt, commands.SignalSlot{}, false, commands.GlobalFlags{}, now, risk, config.ScalingConfig{})
	if d.Kind != Sell || d.Reason != ReasonMarketQuality {
		t.Fatalf("expected market-quality sell on excess volatility, got %+v", d)
	}
}

func TestDecideMarketQualityDisabledWhenThresholdUnset(t *testing.T) {
	now := time.Now()
	risk := baseRisk() // MinLiquidityMultiplier/MaxSpreadPercent/MaxVolatilityPercent all zero
	pos := openPosition(1.0, time.Minute, now)
	mkt := market.Result{
		Availability: market.Fresh,
		Snapshot:     market.Snapshot{PriceSOL: 1.05, LiquiditySOL: 0, SpreadPercent: 99, VolatilityPct: 99, ObservedAt: now},
	}
	d := Decide(pos, mkt, commands.SignalSlot{}, false, commands.GlobalFlags{}, now, risk, config.ScalingConfig{})
	if d.Kind != Hold {
		t.Fatalf("expected market-quality rule to stay disabled when its thresholds are unset, got %+v", d)
	}
}

func TestDecideStopLossPrecedesMarketQuality(t *testing.T) {
	now := time.Now()
	risk := baseRisk()
	risk.MinLiquidityMultiplier = 10
	pos := openPosition(1.0, time.Minute, now)
	pos.StopLossPercent = 10
	mkt := market.Result{
		Availability: market.Fresh,
		Snapshot:     market.Snapshot{PriceSOL: 0.85, LiquiditySOL: 2, ObservedAt: now},
	}
	d := Decide(pos, mkt, commands.SignalSlot{}, false, commands.GlobalFlags{}, now, risk, config.ScalingConfig{})
	if d.Kind != Sell || d.Reason != ReasonStopLoss {
		t.Fatalf("expected stop-loss to outrank market quality, got %+v", d)
	}
}

func TestDecideAdvisorSellFiresWhenMechanicalRulesDontAlreadyExit(t *testing.T) {
	now := time.Now()
	pos := openPosition(1.0, time.Minute, now)
	signal := commands.SignalSlot{ID: "s1", Mint: "Mint1", Action: commands.ActionSell, ReceivedAt: now}
	// A modest, unremarkable move: not enough to trip take-profit or
	// stop-loss on its own, so the advisor SELL is what actually decides it.
	d := Decide(pos, freshMarket(1.05), signal, true, commands.GlobalFlags{}, now, baseRisk(), config.ScalingConfig{})
	if d.Kind != Sell || d.Reason != ReasonAdvisorSell {
		t.Fatalf("expected advisor sell to fire, got %+v", d)
	}
}

func TestDecideStopLossPrecedesAdvisorSell(t *testing.T) {
	now := time.Now()
	pos := openPosition(1.0, time.Minute, now)
	pos.StopLossPercent = 10
	signal := commands.SignalSlot{ID: "s1", Mint: "Mint1", Action: commands.ActionSell, ReceivedAt: now}
	// The position is already down past its stop-loss; that mechanical rule
	// must win over (and report a different reason than) the advisor SELL.
	d := Decide(pos, freshMarket(0.85), signal, true, commands.GlobalFlags{}, now, baseRisk(), config.ScalingConfig{})
	if d.Kind != Sell || d.Reason != ReasonStopLoss {
		t.Fatalf("expected stop-loss to take precedence over advisor sell, got %+v", d)
	}
}

func TestDecideEmergencyStopPrecedesEverything(t *testing.T) {
	now := time.Now()
	pos := openPosition(1.0, time.Minute, now)
	signal := commands.SignalSlot{ID: "s1", Mint: "Mint1", Action: commands.ActionScaleIn, ReceivedAt: now}
	flags := commands.GlobalFlags{EmergencyStopAll: true, ExitAllFlagged: true}
	scaling := config.ScalingConfig{Enabled: true, ScalingThresholdPercent: 1, ScalingAmountPercent: 10, MaxScaleIns: 3}
	d := Decide(pos, freshMarket(1.5), signal, true, flags, now, baseRisk(), scaling)
	if d.Kind != Sell || d.Reason != ReasonEmergencyStop {
		t.Fatalf("expected emergency stop to take precedence, got %+v", d)
	}
}

func TestDecideGuardianExitAllPrecedesAdvisorAndMarket(t *testing.T) {
	now := time.Now()
	pos := openPosition(1.0, time.Minute, now)
	flags := commands.GlobalFlags{ExitAllFlagged: true}
	d := Decide(pos, freshMarket(1.5), commands.SignalSlot{}, false, flags, now, baseRisk(), config.ScalingConfig{})
	if d.Kind != ExitAllFlagged || d.Reason != ReasonGuardianExitAll {
		t.Fatalf("expected guardian exit-all, got %+v", d)
	}
}

func TestDecideScaleInOnDipAdvisorSignal(t *testing.T) {
	now := time.Now()
	pos := openPosition(1.0, time.Minute, now)
	signal := commands.SignalSlot{ID: "s1", Mint: "Mint1", Action: commands.ActionScaleIn, ReceivedAt: now}
	scaling := config.ScalingConfig{Enabled: true, ScalingThresholdPercent: -5, ScalingAmountPercent: 25, MaxScaleIns: 2}
	// Price down 6%, past the -5% scale-in threshold: the advisor is asking
	// to buy the dip, not chase a winner.
	d := Decide(pos, freshMarket(0.94), signal, true, commands.GlobalFlags{}, now, baseRisk(), scaling)
	if d.Kind != ScaleIn || d.Reason != ReasonScaleInOpportunity {
		t.Fatalf("expected scale-in on the dip, got %+v", d)
	}
	if d.DeltaSOL != 0.25 {
		t.Errorf("expected delta 0.25 SOL (25%% of 1.0 SOL position), got %v", d.DeltaSOL)
	}
}

func TestDecideScaleInSkippedWhenNotDeepEnough(t *testing.T) {
	now := time.Now()
	pos := openPosition(1.0, time.Minute, now)
	signal := commands.SignalSlot{ID: "s1", Mint: "Mint1", Action: commands.ActionScaleIn, ReceivedAt: now}
	scaling := config.ScalingConfig{Enabled: true, ScalingThresholdPercent: -5, ScalingAmountPercent: 25, MaxScaleIns: 2}
	// Only down 2%, short of the -5% threshold: too shallow to scale in.
	d := Decide(pos, freshMarket(0.98), signal, true, commands.GlobalFlags{}, now, baseRisk(), scaling)
	if d.Kind != Hold {
		t.Fatalf("expected hold when the dip isn't deep enough, got %+v", d)
	}
}

func TestDecideScaleInSkippedWhenMaxScaleInsReached(t *testing.T) {
	now := time.Now()
	pos := openPosition(1.0, time.Minute, now)
	pos.ScaleInsDone = 2
	signal := commands.SignalSlot{ID: "s1", Mint: "Mint1", Action: commands.ActionScaleIn, ReceivedAt: now}
	scaling := config.ScalingConfig{Enabled: true, ScalingThresholdPercent: -5, ScalingAmountPercent: 25, MaxScaleIns: 2}
	d := Decide(pos, freshMarket(0.94), signal, true, commands.GlobalFlags{}, now, baseRisk(), scaling)
	if d.Kind != Hold {
		t.Fatalf("expected hold once max scale-ins reached, got %+v", d)
	}
}

func TestDecideMarketUnavailableHoldsUntilTimeout(t *testing.T) {
	now := time.Now()
	risk := baseRisk()
	risk.MaxDataAgeSeconds = 300
	risk.DefaultTimeoutSeconds = 10000
	pos := openPosition(1.0, time.Minute, now)
	unavailable := market.Result{Availability: market.Unavailable}
	d := Decide(pos, unavailable, commands.SignalSlot{}, false, commands.GlobalFlags{}, now, risk, config.ScalingConfig{})
	if d.Kind != Hold || d.Reason != ReasonMarketUnavailable {
		t.Fatalf("expected hold on unavailable market within the data-loss window, got %+v", d)
	}
}

func TestDecideMarketUnavailablePastTimeoutStillExits(t *testing.T) {
	now := time.Now()
	risk := baseRisk()
	risk.DefaultTimeoutSeconds = 5
	pos := openPosition(1.0, 10*time.Second, now)
	unavailable := market.Result{Availability: market.Unavailable}
	d := Decide(pos, unavailable, commands.SignalSlot{}, false, commands.GlobalFlags{}, now, risk, config.ScalingConfig{})
	if d.Kind != Sell || d.Reason != ReasonTimeout {
		t.Fatalf("expected timeout sell despite unavailable market, got %+v", d)
	}
}

func TestDecideMarketDataLostPastDoubleMaxAge(t *testing.T) {
	now := time.Now()
	risk := baseRisk()
	risk.MaxDataAgeSeconds = 60
	risk.DefaultTimeoutSeconds = 100000
	pos := openPosition(1.0, 10*time.Minute, now)
	pos.LastPriceObservedAt = now.Add(-121 * time.Second) // one second past 2x max_data_age
	unavailable := market.Result{Availability: market.Unavailable}
	d := Decide(pos, unavailable, commands.SignalSlot{}, false, commands.GlobalFlags{}, now, risk, config.ScalingConfig{})
	if d.Kind != Sell || d.Reason != ReasonMarketDataLost {
		t.Fatalf("expected market-data-lost sell past double the max data age, got %+v", d)
	}
}

func TestDecideMarketDataLostFallsBackToOpenedAtWhenNeverObserved(t *testing.T) {
	now := time.Now()
	risk := baseRisk()
	risk.MaxDataAgeSeconds = 60
	risk.DefaultTimeoutSeconds = 100000
	// A brand-new position that has never had a good price observation
	// falls back to measuring staleness from OpenedAt instead of a zero
	// LastPriceObservedAt, which would otherwise fire immediately.
	pos := openPosition(1.0, 30*time.Second, now)
	unavailable := market.Result{Availability: market.Unavailable}
	d := Decide(pos, unavailable, commands.SignalSlot{}, false, commands.GlobalFlags{}, now, risk, config.ScalingConfig{})
	if d.Kind != Hold || d.Reason != ReasonMarketUnavailable {
		t.Fatalf("expected hold while still within the data-loss window measured from open, got %+v", d)
	}
}

func TestDecideExpiredSignalTreatedAsNoSignal(t *testing.T) {
	now := time.Now()
	pos := openPosition(1.0, time.Minute, now)
	// hasSignal=false simulates the caller already having checked
	// Listener.Signal and found it expired.
	d := Decide(pos, freshMarket(1.05), commands.SignalSlot{Action: commands.ActionSell}, false, commands.GlobalFlags{}, now, baseRisk(), config.ScalingConfig{})
	if d.Kind != Hold {
		t.Fatalf("expected expired signal to be ignored, got %+v", d)
	}
}
