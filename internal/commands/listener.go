package commands

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// advisorMessage is the wire shape published on the advisor channel.
type advisorMessage struct {
	ID         string  `json:"id"`
	Mint       string  `json:"mint"`
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
}

// guardianMessage is the wire shape published on the guardian channel.
type guardianMessage struct {
	ID               string `json:"id"`
	EmergencyStopAll bool   `json:"emergency_stop_all"`
	ExitAllFlagged   bool   `json:"exit_all_flagged"`
}

// subscriber is the subset of store.CommandBus Listener depends on, so
// tests can drive it without a real Redis connection.
type subscriber interface {
	Subscribe(ctx context.Context, channel string) *redis.PubSub
}

// Listener subscribes to the guardian and advisor Redis channels and
// applies last-writer-wins semantics to per-mint signals and account-wide
// flags. Message IDs are deduplicated over a short window since Redis
// Pub/Sub, like the rest of the external command surface, is at-least-once.
type Listener struct {
	bus             subscriber
	advisorChannel  string
	guardianChannel string
	dedupWindow     time.Duration

	mu      sync.RWMutex
	signals map[string]SignalSlot
	flags   GlobalFlags

	seenMu sync.Mutex
	seen   map[string]time.Time
}

// NewListener builds a Listener over bus, ready to Run once started.
func NewListener(bus subscriber, advisorChannel, guardianChannel string, dedupWindow time.Duration) *Listener {
	return &Listener{
		bus:             bus,
		advisorChannel:  advisorChannel,
		guardianChannel: guardianChannel,
		dedupWindow:     dedupWindow,
		signals:         make(map[string]SignalSlot),
		seen:            make(map[string]time.Time),
	}
}

// Run subscribes to both channels and processes messages until ctx is
// cancelled. It is meant to be run in its own goroutine.
func (l *Listener) Run(ctx context.Context) error {
	advisorSub := l.bus.Subscribe(ctx, l.advisorChannel)
	defer advisorSub.Close()
	guardianSub := l.bus.Subscribe(ctx, l.guardianChannel)
	defer guardianSub.Close()

	advisorCh := advisorSub.Channel()
	guardianCh := guardianSub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-advisorCh:
			l.handleAdvisor(msg.Payload)
		case msg := <-guardianCh:
			l.handleGuardian(msg.Payload)
		}
	}
}

func (l *Listener) handleAdvisor(payload string) {
	var m advisorMessage
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		log.Warn().Err(err).Msg("failed to decode advisor command")
		return
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if l.isDuplicate(m.ID) {
		return
	}

	slot := SignalSlot{
		ID:         m.ID,
		Mint:       m.Mint,
		Action:     Action(m.Action),
		Confidence: m.Confidence,
		ReceivedAt: time.Now(),
	}

	l.mu.Lock()
	l.signals[m.Mint] = slot
	l.mu.Unlock()

	log.Info().Str("mint", m.Mint).Str("action", m.Action).Float64("confidence", m.Confidence).Msg("advisor signal received")
}

func (l *Listener) handleGuardian(payload string) {
	var m guardianMessage
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		log.Warn().Err(err).Msg("failed to decode guardian alert")
		return
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if l.isDuplicate(m.ID) {
		return
	}

	l.mu.Lock()
	l.flags = GlobalFlags{
		EmergencyStopAll: m.EmergencyStopAll,
		ExitAllFlagged:   m.ExitAllFlagged,
		SetAt:            time.Now(),
	}
	l.mu.Unlock()

	log.Warn().Bool("emergencyStopAll", m.EmergencyStopAll).Bool("exitAllFlagged", m.ExitAllFlagged).Msg("guardian alert received")
}

func (l *Listener) isDuplicate(id string) bool {
	now := time.Now()
	l.seenMu.Lock()
	defer l.seenMu.Unlock()

	for seenID, at := range l.seen {
		if now.Sub(at) > l.dedupWindow {
			delete(l.seen, seenID)
		}
	}

	if _, ok := l.seen[id]; ok {
		return true
	}
	l.seen[id] = now
	return false
}

// Signal returns the current signal slot for mint, if any is set and not
// expired relative to timeout.
func (l *Listener) Signal(mint string, now time.Time, timeout time.Duration) (SignalSlot, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	slot, ok := l.signals[mint]
	if !ok || slot.Expired(now, timeout) {
		return SignalSlot{}, false
	}
	return slot, true
}

// Flags returns the current account-wide guardian flags.
func (l *Listener) Flags() GlobalFlags {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.flags
}
