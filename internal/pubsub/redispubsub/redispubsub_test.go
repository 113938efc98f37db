package redispubsub

import "testing"

func TestNew_InvalidURL(t *testing.T) {
	_, err := New(&Config{URL: "not-a-url"})
	if err == nil {
		t.Error("expected an error for an invalid Redis URL")
	}
}

func TestNew_ValidURL(t *testing.T) {
	b, err := New(&Config{URL: "redis://localhost:6379/0"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if b.IsConnected() {
		t.Error("a freshly constructed bus must not report connected")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
}
