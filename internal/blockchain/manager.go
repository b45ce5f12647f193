package blockchain

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// AllEndpointsFailed is returned when every endpoint in the pool is
// unhealthy and a request cannot be routed anywhere.
var AllEndpointsFailed = errors.New("blockchain: all rpc endpoints failed")

type endpointState struct {
	endpoint    *Endpoint
	priority    int
	healthy     bool
	failStreak  int
	lastChecked time.Time
}

// Manager owns an ordered pool of RPC endpoints, probes their health on a
// fixed interval, and routes requests to the highest-priority healthy one.
// Unlike the single-client circuit breaker it replaces, it generalizes to
// any number of endpoints instead of a fixed primary/fallback pair.
type Manager struct {
	mu        sync.RWMutex
	endpoints []*endpointState

	healthInterval time.Duration
	stopCh         chan struct{}
	wg             sync.WaitGroup
}

// EndpointConfig describes one endpoint to add to a Manager, in priority
// order (lower Priority value wins when multiple endpoints are healthy).
type EndpointConfig struct {
	Name     string
	URL      string
	APIKey   string
	Priority int
}

// NewManager builds a Manager over the given endpoints, all assumed healthy
// until the first probe proves otherwise.
func NewManager(configs []EndpointConfig, healthInterval time.Duration) *Manager {
	m := &Manager{
		healthInterval: healthInterval,
		stopCh:         make(chan struct{}),
	}

	for _, c := range configs {
		m.endpoints = append(m.endpoints, &endpointState{
			endpoint: NewEndpoint(c.Name, c.URL, c.APIKey),
			priority: c.Priority,
			healthy:  true,
		})
	}

	return m
}

// Start launches the background health-probe loop.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.probeLoop()
}

// Stop halts the health-probe loop and waits for it to exit.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *Manager) probeLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.probeAll()
		}
	}
}

func (m *Manager) probeAll() {
	m.mu.RLock()
	states := make([]*endpointState, len(m.endpoints))
	copy(states, m.endpoints)
	m.mu.RUnlock()

	for _, st := range states {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, err := st.endpoint.GetSlot(ctx)
		cancel()

		m.mu.Lock()
		st.lastChecked = time.Now()
		if err != nil {
			st.failStreak++
			if st.healthy && st.failStreak >= 2 {
				st.healthy = false
				log.Warn().Str("endpoint", st.endpoint.Name).Err(err).Msg("rpc endpoint marked unhealthy")
			}
		} else {
			if !st.healthy {
				log.Info().Str("endpoint", st.endpoint.Name).Msg("rpc endpoint recovered")
			}
			st.failStreak = 0
			st.healthy = true
		}
		m.mu.Unlock()
	}
}

// Connection returns the highest-priority healthy endpoint, or
// AllEndpointsFailed if none qualify.
func (m *Manager) Connection() (*Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *endpointState
	for _, st := range m.endpoints {
		if !st.healthy {
			continue
		}
		if best == nil || st.priority < best.priority {
			best = st
		}
	}

	if best == nil {
		return nil, AllEndpointsFailed
	}
	return best.endpoint, nil
}

// WithRetry runs fn against the current Connection(), retrying on failure
// with exponential backoff (100ms base, factor 2, capped at 2s) and falling
// through to the next-healthiest endpoint each attempt. It gives up and
// returns AllEndpointsFailed once no endpoint remains healthy.
func (m *Manager) WithRetry(ctx context.Context, fn func(ctx context.Context, ep *Endpoint) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.Multiplier = 2
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 0

	return backoff.Retry(func() error {
		ep, err := m.Connection()
		if err != nil {
			return backoff.Permanent(err)
		}

		if err := fn(ctx, ep); err != nil {
			m.recordFailure(ep)
			return err
		}
		return nil
	}, backoff.WithContext(bo, ctx))
}

func (m *Manager) recordFailure(ep *Endpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, st := range m.endpoints {
		if st.endpoint == ep {
			st.failStreak++
			st.healthy = false
			return
		}
	}
}

// Endpoints returns a snapshot of endpoint health, for metrics/inspection.
func (m *Manager) Endpoints() []EndpointStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]EndpointStatus, len(m.endpoints))
	for i, st := range m.endpoints {
		out[i] = EndpointStatus{
			Name:        st.endpoint.Name,
			Priority:    st.priority,
			Healthy:     st.healthy,
			LastChecked: st.lastChecked,
		}
	}
	return out
}

// EndpointStatus is a read-only snapshot of one endpoint's health.
type EndpointStatus struct {
	Name        string
	Priority    int
	Healthy     bool
	LastChecked time.Time
}
