package natspubsub

import "testing"

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxReconnects != -1 {
		t.Errorf("MaxReconnects = %d, want -1 (retry forever)", cfg.MaxReconnects)
	}
	if cfg.MaxPingsOut != 2 {
		t.Errorf("MaxPingsOut = %d, want 2", cfg.MaxPingsOut)
	}
}

func TestNew_RefusesUnreachableURL(t *testing.T) {
	_, err := New(&Config{URL: "nats://127.0.0.1:1", MaxReconnects: 0, ReconnectWait: 0}, nil)
	if err == nil {
		t.Error("expected an error connecting to an unreachable NATS URL")
	}
}
