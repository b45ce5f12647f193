package market

import (
	"context"
	"testing"
	"time"

	"solana-brain/internal/jupiter"
)

type fakeQuoteSource struct {
	quote *jupiter.QuoteResponse
	err   error
}

func (f *fakeQuoteSource) GetQuote(ctx context.Context, inputMint, outputMint string, amountLamports uint64) (*jupiter.QuoteResponse, error) {
	return f.quote, f.err
}

func TestFetchFallsBackToQuoteWhenNoFeedPrice(t *testing.T) {
	fake := &fakeQuoteSource{
		quote: &jupiter.QuoteResponse{
			InAmount:  "1000000",
			OutAmount: "2000000",
		},
	}
	p := NewProvider(fake, nil, nil, "So11111111111111111111111111111111111111112", time.Minute)

	result := p.Fetch(context.Background(), "SomeMint", 6)
	if result.Availability != Fresh {
		t.Fatalf("expected Fresh, got %v", result.Availability)
	}
	if result.Snapshot.PriceSOL != 2.0 {
		t.Errorf("expected price 2.0, got %v", result.Snapshot.PriceSOL)
	}
}

func TestFetchUnavailableWhenQuoteFails(t *testing.T) {
	fake := &fakeQuoteSource{err: context.DeadlineExceeded}
	p := NewProvider(fake, nil, nil, "So11111111111111111111111111111111111111112", time.Minute)

	result := p.Fetch(context.Background(), "SomeMint", 6)
	if result.Availability != Unavailable {
		t.Fatalf("expected Unavailable, got %v", result.Availability)
	}
}

func TestIsStaleRespectsMaxDataAge(t *testing.T) {
	p := NewProvider(&fakeQuoteSource{}, nil, nil, "mint", 10*time.Millisecond)

	fresh := Snapshot{ObservedAt: time.Now()}
	if p.IsStale(fresh) {
		t.Error("expected freshly-observed snapshot to not be stale")
	}

	old := Snapshot{ObservedAt: time.Now().Add(-time.Second)}
	if !p.IsStale(old) {
		t.Error("expected old snapshot to be stale")
	}
}
