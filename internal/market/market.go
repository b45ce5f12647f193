package market

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"solana-brain/internal/blockchain"
	"solana-brain/internal/jupiter"
	"solana-brain/internal/websocket"
)

// Snapshot is one point-in-time read of a mint's market state.
type Snapshot struct {
	Mint           string
	PriceSOL       float64
	LiquiditySOL   float64
	SpreadPercent  float64
	VolatilityPct  float64
	ObservedAt     time.Time
}

// Availability classifies a Fetch outcome, mirroring the three states the
// decision engine must distinguish: a usable reading, a reading that is too
// old to trust, and no reading at all.
type Availability int

const (
	Fresh Availability = iota
	Stale
	Unavailable
)

// Result is the sum type Fetch returns: Snapshot is only meaningful when
// Availability is Fresh or Stale.
type Result struct {
	Availability Availability
	Snapshot     Snapshot
}

// quoteSource is the subset of jupiter.Client Provider depends on, so tests
// can substitute a fake quote source instead of hitting the network.
type quoteSource interface {
	GetQuote(ctx context.Context, inputMint, outputMint string, amountLamports uint64) (*jupiter.QuoteResponse, error)
}

// Provider composes the teacher's Jupiter quote client, websocket price
// feed and the RPC Manager into a single read path for market state,
// preferring the freshest source available for a given mint.
type Provider struct {
	jupiter    quoteSource
	feed       *websocket.PriceFeed
	rpcManager *blockchain.Manager
	baseMint   string
	maxDataAge time.Duration
}

// NewProvider wires the three sources. feed may be nil if no websocket
// subscription infrastructure is running yet (e.g. during tests), in which
// case Fetch always falls through to a live Jupiter quote.
func NewProvider(jc quoteSource, feed *websocket.PriceFeed, rpcManager *blockchain.Manager, baseMint string, maxDataAge time.Duration) *Provider {
	return &Provider{
		jupiter:    jc,
		feed:       feed,
		rpcManager: rpcManager,
		baseMint:   baseMint,
		maxDataAge: maxDataAge,
	}
}

// Fetch returns the freshest market reading available for mint. It prefers
// the websocket-pushed price (updated continuously, near-zero cost) and
// falls back to an active Jupiter quote when no live subscription exists or
// the cached price has aged past maxDataAge.
func (p *Provider) Fetch(ctx context.Context, mint string, tokenDecimals uint8) Result {
	if p.feed != nil {
		if price := p.feed.GetPrice(mint); price > 0 {
			snap := Snapshot{Mint: mint, PriceSOL: price, ObservedAt: time.Now()}
			return Result{Availability: p.availabilityFor(snap), Snapshot: snap}
		}
	}

	quote, err := p.jupiter.GetQuote(ctx, mint, p.baseMint, tokenAmountForQuote(tokenDecimals))
	if err != nil {
		log.Warn().Err(err).Str("mint", mint).Msg("market data unavailable: quote failed")
		return Result{Availability: Unavailable}
	}

	priceSOL, err := priceFromQuote(quote, tokenDecimals)
	if err != nil {
		log.Warn().Err(err).Str("mint", mint).Msg("market data unavailable: quote unparsable")
		return Result{Availability: Unavailable}
	}

	snap := Snapshot{
		Mint:          mint,
		PriceSOL:      priceSOL,
		SpreadPercent: priceImpactPercent(quote.PriceImpactPct),
		ObservedAt:    time.Now(),
	}

	if p.feed != nil {
		p.feed.SetPrice(mint, priceSOL)
	}

	return Result{Availability: p.availabilityFor(snap), Snapshot: snap}
}

// IsStale reports whether a Fresh-at-capture snapshot has aged past the
// configured max data age by the time the caller consumes it.
func (p *Provider) IsStale(snap Snapshot) bool {
	return time.Since(snap.ObservedAt) > p.maxDataAge
}

// availabilityFor downgrades an otherwise-fresh reading to Stale when the
// RPC endpoint pool backing on-chain confirmation is itself degraded — a
// price quote is only as trustworthy as the infrastructure that would let
// the executor act on it.
func (p *Provider) availabilityFor(snap Snapshot) Availability {
	if p.IsStale(snap) {
		return Stale
	}
	if p.rpcManager != nil {
		if _, err := p.rpcManager.Connection(); err != nil {
			return Stale
		}
	}
	return Fresh
}

func tokenAmountForQuote(decimals uint8) uint64 {
	// A nominal 1-token probe amount is enough to derive a unit price; the
	// decision engine only needs price, not a route sized to the position.
	amt := uint64(1)
	for i := uint8(0); i < decimals; i++ {
		amt *= 10
	}
	return amt
}

func priceFromQuote(q *jupiter.QuoteResponse, decimals uint8) (float64, error) {
	var inAmt, outAmt float64
	if _, err := fmt.Sscanf(q.InAmount, "%f", &inAmt); err != nil {
		return 0, fmt.Errorf("parse inAmount: %w", err)
	}
	if _, err := fmt.Sscanf(q.OutAmount, "%f", &outAmt); err != nil {
		return 0, fmt.Errorf("parse outAmount: %w", err)
	}
	if inAmt == 0 {
		return 0, fmt.Errorf("zero inAmount in quote")
	}
	return outAmt / inAmt, nil
}

func priceImpactPercent(s string) float64 {
	var v float64
	fmt.Sscanf(s, "%f", &v)
	return v
}
