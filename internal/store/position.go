package store

import "time"

// Status is a position's lifecycle state. Transitions are strictly
// Open -> Exiting -> Closed, or Open/Exiting -> Failed; no other edge exists.
type Status string

const (
	StatusOpen    Status = "open"
	StatusExiting Status = "exiting"
	StatusClosed  Status = "closed"
	StatusFailed  Status = "failed"
)

// Position is the durable record the Brain owns for one open trade. It is
// the unit the orchestrator snapshots each tick and the unit the decision
// engine reasons about.
type Position struct {
	// Immutable fields, set on the first write and never changed again.
	Mint           string    `msgpack:"mint"`
	StrategyID     string    `msgpack:"strategy_id"`
	Wallet         string    `msgpack:"wallet"`
	EntryPriceSOL  float64   `msgpack:"entry_price_sol"`
	TimeoutSeconds int       `msgpack:"timeout_seconds"`
	OpenedAt       time.Time `msgpack:"opened_at"`

	// Mutable fields, updated as the position is managed.
	Status              Status    `msgpack:"status"`
	PositionSizeSOL     float64   `msgpack:"position_size_sol"`
	TokenAmount         uint64    `msgpack:"token_amount"`
	TakeProfitPercent   float64   `msgpack:"take_profit_percent"`
	StopLossPercent     float64   `msgpack:"stop_loss_percent"`
	ScaleInsDone        int       `msgpack:"scale_ins_done"`
	CurrentPriceSOL     float64   `msgpack:"current_price_sol"`
	LastPriceObservedAt time.Time `msgpack:"last_price_observed_at"`
	LastUpdatedAt       time.Time `msgpack:"last_updated_at"`

	// version is the store's optimistic-concurrency fence: every UpdateWith
	// call must observe the version it read, or the write is rejected.
	version int64
}

// Version exposes the CAS fence for callers that need to reason about
// staleness without reaching into store internals.
func (p Position) Version() int64 {
	return p.version
}

// Clone returns a value copy safe to mutate inside an UpdateWith callback.
func (p Position) Clone() Position {
	return p
}

// TradeRecord is the immutable audit row written when a position closes,
// so the terminal decision reason survives removal from the active set.
type TradeRecord struct {
	Mint         string
	Reason       string
	EntryPrice   float64
	ExitPrice    float64
	PnLPercent   float64
	DurationSecs float64
	ClosedAt     time.Time
}
