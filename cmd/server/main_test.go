package main

import (
	"strings"
	"testing"

	"gudangku/backend/internal/config"
)

func TestValidateSecurityConfig(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short"})
	if err == nil || !strings.Contains(err.Error(), "AUTH_SECRET") {
		t.Fatalf("expected AUTH_SECRET error, got %v", err)
	}

	ok := config.Config{AuthSecret: strings.Repeat("x", 32)}
	if err := validateSecurityConfig(ok); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}
