package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.Port == "" {
		t.Fatalf("expected default port")
	}
	if cfg.StockCacheTTLSeconds < 1 {
		t.Fatalf("expected positive stock cache TTL, got %d", cfg.StockCacheTTLSeconds)
	}
	if cfg.AccessTokenTTLMinutes < 1 {
		t.Fatalf("expected positive token TTL, got %d", cfg.AccessTokenTTLMinutes)
	}
	if cfg.Address() != ":"+cfg.Port {
		t.Fatalf("unexpected address %q", cfg.Address())
	}
}
