package blockchain

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func slotServer(t *testing.T, slot int, fail bool) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":` + itoa(slot) + `}`))
	}))
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var b []byte
	for i > 0 {
		b = append([]byte{byte('0' + i%10)}, b...)
		i /= 10
	}
	if neg {
		b = append([]byte{'-'}, b...)
	}
	return string(b)
}

func TestManagerConnectionPrefersHighestPriority(t *testing.T) {
	primary := slotServer(t, 100, false)
	defer primary.Close()
	secondary := slotServer(t, 100, false)
	defer secondary.Close()

	m := NewManager([]EndpointConfig{
		{Name: "secondary", URL: secondary.URL, Priority: 1},
		{Name: "primary", URL: primary.URL, Priority: 0},
	}, time.Hour)

	ep, err := m.Connection()
	if err != nil {
		t.Fatalf("Connection failed: %v", err)
	}
	if ep.Name != "primary" {
		t.Errorf("expected primary endpoint, got %s", ep.Name)
	}
}

func TestManagerFailoverOnUnhealthyPrimary(t *testing.T) {
	primary := slotServer(t, 100, true)
	defer primary.Close()
	secondary := slotServer(t, 100, false)
	defer secondary.Close()

	m := NewManager([]EndpointConfig{
		{Name: "primary", URL: primary.URL, Priority: 0},
		{Name: "secondary", URL: secondary.URL, Priority: 1},
	}, time.Hour)

	// Two consecutive probe failures demote the primary.
	m.probeAll()
	m.probeAll()

	ep, err := m.Connection()
	if err != nil {
		t.Fatalf("Connection failed: %v", err)
	}
	if ep.Name != "secondary" {
		t.Errorf("expected failover to secondary, got %s", ep.Name)
	}
}

func TestManagerAllEndpointsFailed(t *testing.T) {
	primary := slotServer(t, 100, true)
	defer primary.Close()

	m := NewManager([]EndpointConfig{
		{Name: "primary", URL: primary.URL, Priority: 0},
	}, time.Hour)

	m.probeAll()
	m.probeAll()

	if _, err := m.Connection(); err != AllEndpointsFailed {
		t.Errorf("expected AllEndpointsFailed, got %v", err)
	}
}

func TestManagerWithRetrySucceedsAfterFailover(t *testing.T) {
	primary := slotServer(t, 100, true)
	defer primary.Close()
	secondary := slotServer(t, 200, false)
	defer secondary.Close()

	m := NewManager([]EndpointConfig{
		{Name: "primary", URL: primary.URL, Priority: 0},
		{Name: "secondary", URL: secondary.URL, Priority: 1},
	}, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var gotSlot uint64
	err := m.WithRetry(ctx, func(ctx context.Context, ep *Endpoint) error {
		slot, err := ep.GetSlot(ctx)
		if err != nil {
			return err
		}
		gotSlot = slot
		return nil
	})
	if err != nil {
		t.Fatalf("WithRetry failed: %v", err)
	}
	if gotSlot != 200 {
		t.Errorf("expected slot from secondary endpoint (200), got %d", gotSlot)
	}
}
