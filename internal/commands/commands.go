package commands

import "time"

// Action is an external command's requested action on a position.
type Action string

const (
	ActionSell    Action = "SELL"
	ActionScaleIn Action = "SCALE_IN"
	ActionHold    Action = "HOLD"
)

// SignalSlot is the last-writer-wins advisor signal held per mint. A signal
// older than its configured timeout is treated as if it were never set.
type SignalSlot struct {
	ID         string
	Mint       string
	Action     Action
	Confidence float64
	ReceivedAt time.Time
}

// Expired reports whether the slot is too old to act on.
func (s SignalSlot) Expired(now time.Time, timeout time.Duration) bool {
	if s.ID == "" {
		return true
	}
	return now.Sub(s.ReceivedAt) > timeout
}

// GlobalFlags are guardian-originated, account-wide switches that outrank
// any single position's signal or market reading.
type GlobalFlags struct {
	EmergencyStopAll bool
	ExitAllFlagged   bool
	SetAt            time.Time
}
