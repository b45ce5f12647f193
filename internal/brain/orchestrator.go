package brain

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"solana-brain/internal/commands"
	"solana-brain/internal/config"
	"solana-brain/internal/decision"
	"solana-brain/internal/executor"
	"solana-brain/internal/market"
	"solana-brain/internal/metrics"
	"solana-brain/internal/store"
)

// marketProvider is the subset of market.Provider the orchestrator depends
// on, so tests can substitute a fake reading instead of a live Jupiter/feed
// stack.
type marketProvider interface {
	Fetch(ctx context.Context, mint string, tokenDecimals uint8) market.Result
}

// signalSource is the subset of commands.Listener the orchestrator depends
// on.
type signalSource interface {
	Signal(mint string, now time.Time, timeout time.Duration) (commands.SignalSlot, bool)
	Flags() commands.GlobalFlags
}

// tradeExecutor is the subset of executor.Executor the orchestrator depends
// on.
type tradeExecutor interface {
	Execute(ctx context.Context, inputMint, outputMint string, amountLamports uint64) (executor.Result, error)
}

// Orchestrator is the Brain's fixed-interval tick loop: each tick it
// snapshots the active position set, fans work out across a bounded pool of
// goroutines, and drives every position through the decision engine and,
// where a decision calls for it, the executor.
type Orchestrator struct {
	store    *store.Store
	market   marketProvider
	signals  signalSource
	exec     tradeExecutor
	cfg      *config.Manager
	metrics  *metrics.Metrics
	baseMint string

	sem chan struct{}
}

// New builds an Orchestrator ready to Run.
func New(
	st *store.Store,
	mkt marketProvider,
	signals signalSource,
	exec tradeExecutor,
	cfg *config.Manager,
	m *metrics.Metrics,
	baseMint string,
) *Orchestrator {
	return &Orchestrator{
		store:    st,
		market:   mkt,
		signals:  signals,
		exec:     exec,
		cfg:      cfg,
		metrics:  m,
		baseMint: baseMint,
	}
}

// Run ticks at the configured interval until ctx is cancelled, processing
// every active position once per tick with bounded concurrency.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.GetLoopInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.tick(ctx)
		}
	}
}

func (o *Orchestrator) tick(ctx context.Context) {
	start := time.Now()
	defer func() {
		if o.metrics != nil {
			o.metrics.TickDuration.Observe(time.Since(start).Seconds())
		}
	}()

	positions, err := o.store.ListActive(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list active positions")
		return
	}
	if o.metrics != nil {
		o.metrics.PositionsOpen.Set(float64(len(positions)))
	}

	maxConcurrent := o.cfg.Get().Brain.MaxConcurrentPositions
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	sem := make(chan struct{}, maxConcurrent)

	var wg sync.WaitGroup
	for _, pos := range positions {
		pos := pos
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			o.processPosition(ctx, pos)
		}()
	}
	wg.Wait()
}

// processPosition runs one position through steps a-h of the tick: fetch
// market data, fetch signal/flags, decide, execute if the decision calls
// for it, and persist the outcome.
func (o *Orchestrator) processPosition(ctx context.Context, pos store.Position) {
	risk := o.cfg.GetRisk()
	scaling := o.cfg.Get().Scaling
	commandsCfg := o.cfg.Get().Commands

	mkt := o.market.Fetch(ctx, pos.Mint, 6)

	if mkt.Availability != market.Unavailable {
		updated, err := o.store.UpdateWith(ctx, pos.Mint, func(p store.Position) (store.Position, error) {
			p.CurrentPriceSOL = mkt.Snapshot.PriceSOL
			p.LastPriceObservedAt = mkt.Snapshot.ObservedAt
			return p, nil
		})
		if err != nil {
			log.Warn().Err(err).Str("mint", pos.Mint).Msg("failed to record last observed price")
			if o.metrics != nil && err == store.Conflict {
				o.metrics.StoreConflicts.Inc()
			}
		} else {
			pos = updated
		}
	}

	signalTimeout := time.Duration(commandsCfg.AISignalTimeoutSeconds) * time.Second
	signal, hasSignal := o.signals.Signal(pos.Mint, time.Now(), signalTimeout)
	flags := o.signals.Flags()

	d := decision.Decide(pos, mkt, signal, hasSignal, flags, time.Now(), risk, scaling)

	if o.metrics != nil {
		o.metrics.RecordDecision(string(d.Kind), string(d.Reason))
	}

	switch d.Kind {
	case decision.Hold:
		return
	case decision.Sell, decision.ExitAllFlagged:
		o.executeExit(ctx, pos, mkt, d)
	case decision.PartialSell:
		o.executePartialExit(ctx, pos, mkt, d)
	case decision.ScaleIn:
		o.executeScaleIn(ctx, pos, d)
	}
}

func (o *Orchestrator) executeExit(ctx context.Context, pos store.Position, mkt market.Result, d decision.Decision) {
	if _, err := o.store.UpdateWith(ctx, pos.Mint, func(p store.Position) (store.Position, error) {
		p.Status = store.StatusExiting
		return p, nil
	}); err != nil {
		log.Warn().Err(err).Str("mint", pos.Mint).Msg("failed to mark position exiting")
		if o.metrics != nil && err == store.Conflict {
			o.metrics.StoreConflicts.Inc()
		}
		return
	}

	amountLamports := pos.TokenAmount
	result, err := o.exec.Execute(ctx, pos.Mint, o.baseMint, amountLamports)

	finalStatus := store.StatusClosed
	if err != nil {
		log.Error().Err(err).Str("mint", pos.Mint).Str("reason", string(d.Reason)).Msg("exit execution failed")
		finalStatus = store.StatusFailed
	}

	exitPrice := mkt.Snapshot.PriceSOL
	pnl := 0.0
	if pos.EntryPriceSOL != 0 {
		pnl = (exitPrice - pos.EntryPriceSOL) / pos.EntryPriceSOL * 100
	}

	if _, err := o.store.UpdateWith(ctx, pos.Mint, func(p store.Position) (store.Position, error) {
		p.Status = finalStatus
		return p, nil
	}); err != nil {
		log.Warn().Err(err).Str("mint", pos.Mint).Msg("failed to finalize position status")
	}
	if finalStatus == store.StatusFailed {
		return
	}

	if recErr := o.store.RecordHistory(ctx, store.TradeRecord{
		Mint:         pos.Mint,
		Reason:       string(d.Reason),
		EntryPrice:   pos.EntryPriceSOL,
		ExitPrice:    exitPrice,
		PnLPercent:   pnl,
		DurationSecs: time.Since(pos.OpenedAt).Seconds(),
		ClosedAt:     time.Now(),
	}); recErr != nil {
		log.Error().Err(recErr).Str("mint", pos.Mint).Msg("failed to record trade history")
	}

	if err := o.store.Delete(ctx, pos.Mint); err != nil {
		log.Error().Err(err).Str("mint", pos.Mint).Msg("failed to remove closed position from active set")
	}

	log.Info().
		Str("mint", pos.Mint).
		Str("reason", string(d.Reason)).
		Float64("pnlPercent", pnl).
		Str("bundleID", result.BundleID).
		Msg("position closed")
}

func (o *Orchestrator) executePartialExit(ctx context.Context, pos store.Position, mkt market.Result, d decision.Decision) {
	amountLamports := uint64(float64(pos.TokenAmount) * d.Fraction)
	if _, err := o.exec.Execute(ctx, pos.Mint, o.baseMint, amountLamports); err != nil {
		log.Error().Err(err).Str("mint", pos.Mint).Msg("partial exit execution failed")
		return
	}

	if _, err := o.store.UpdateWith(ctx, pos.Mint, func(p store.Position) (store.Position, error) {
		p.TokenAmount -= amountLamports
		p.PositionSizeSOL *= (1 - d.Fraction)
		return p, nil
	}); err != nil {
		log.Warn().Err(err).Str("mint", pos.Mint).Msg("failed to apply partial exit to position")
		if o.metrics != nil && err == store.Conflict {
			o.metrics.StoreConflicts.Inc()
		}
	}
}

func (o *Orchestrator) executeScaleIn(ctx context.Context, pos store.Position, d decision.Decision) {
	amountLamports := uint64(d.DeltaSOL * 1e9)
	result, err := o.exec.Execute(ctx, o.baseMint, pos.Mint, amountLamports)
	if err != nil {
		log.Error().Err(err).Str("mint", pos.Mint).Msg("scale-in execution failed")
		return
	}

	if _, err := o.store.UpdateWith(ctx, pos.Mint, func(p store.Position) (store.Position, error) {
		p.PositionSizeSOL += d.DeltaSOL
		p.ScaleInsDone++
		return p, nil
	}); err != nil {
		log.Warn().Err(err).Str("mint", pos.Mint).Msg("failed to record scale-in on position")
		if o.metrics != nil && err == store.Conflict {
			o.metrics.StoreConflicts.Inc()
		}
		return
	}

	log.Info().Str("mint", pos.Mint).Float64("deltaSOL", d.DeltaSOL).Str("bundleID", result.BundleID).Msg("scaled into position")
}
