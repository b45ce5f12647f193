package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRPCEndpointsResolveAPIKeyFromEnv(t *testing.T) {
	os.Setenv("TEST_PRIMARY_KEY", "primary-secret")
	os.Setenv("TEST_SECONDARY_KEY", "secondary-secret")
	defer os.Unsetenv("TEST_PRIMARY_KEY")
	defer os.Unsetenv("TEST_SECONDARY_KEY")

	content := `
rpc:
    health_interval_ms: 5000
    endpoints:
      - name: primary
        url: https://rpc.example.com
        api_key_env: TEST_PRIMARY_KEY
        priority: 0
      - name: secondary
        url: https://fallback.example.com
        api_key_env: TEST_SECONDARY_KEY
        priority: 1
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	m, err := NewManager(configPath)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	endpoints := m.RPCEndpoints()
	if len(endpoints) != 2 {
		t.Fatalf("expected 2 endpoints, got %d", len(endpoints))
	}

	if got := ResolveRPCAPIKey(endpoints[0]); got != "primary-secret" {
		t.Errorf("primary key = %q, want primary-secret", got)
	}
	if got := ResolveRPCAPIKey(endpoints[1]); got != "secondary-secret" {
		t.Errorf("secondary key = %q, want secondary-secret", got)
	}

	if m.GetHealthInterval() != 5*time.Second {
		t.Errorf("GetHealthInterval = %v, want 5s", m.GetHealthInterval())
	}
}

func TestShyftWSURLInjectsFirstEndpointKey(t *testing.T) {
	os.Setenv("TEST_WS_KEY", "ws-secret")
	defer os.Unsetenv("TEST_WS_KEY")

	content := `
rpc:
    endpoints:
      - name: primary
        url: https://rpc.shyft.to
        api_key_env: TEST_WS_KEY
        priority: 0
websocket:
    shyft_url: wss://rpc.shyft.to
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	m, err := NewManager(configPath)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	want := "wss://rpc.shyft.to?api_key=ws-secret"
	if got := m.GetShyftWSURL(); got != want {
		t.Errorf("GetShyftWSURL() = %q, want %q", got, want)
	}
}

func TestRiskDefaultsAppliedWhenConfigOmitsThem(t *testing.T) {
	content := `
rpc:
    endpoints:
      - name: primary
        url: https://rpc.example.com
        priority: 0
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	m, err := NewManager(configPath)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	risk := m.GetRisk()
	if risk.DefaultTakeProfitPercent != 50 {
		t.Errorf("DefaultTakeProfitPercent = %v, want 50", risk.DefaultTakeProfitPercent)
	}
	if risk.DefaultStopLossPercent != 15 {
		t.Errorf("DefaultStopLossPercent = %v, want 15", risk.DefaultStopLossPercent)
	}
	if m.GetLoopInterval() != time.Second {
		t.Errorf("GetLoopInterval = %v, want 1s", m.GetLoopInterval())
	}
}

func TestConfigHotReloadInvokesOnChange(t *testing.T) {
	content := `
rpc:
    endpoints:
      - name: primary
        url: https://rpc.example.com
        priority: 0
risk:
    default_take_profit_percent: 40
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	m, err := NewManager(configPath)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	changed := make(chan *Config, 1)
	m.SetOnChange(func(c *Config) { changed <- c })

	updated := strings.Replace(content, "default_take_profit_percent: 40", "default_take_profit_percent: 80", 1)
	if err := os.WriteFile(configPath, []byte(updated), 0644); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}

	select {
	case c := <-changed:
		if c.Risk.DefaultTakeProfitPercent != 80 {
			t.Errorf("reloaded DefaultTakeProfitPercent = %v, want 80", c.Risk.DefaultTakeProfitPercent)
		}
	case <-time.After(2 * time.Second):
		t.Skip("fsnotify did not fire within timeout in this environment")
	}
}
