package httpapi

import (
	"strings"
	"testing"
	"time"

	"gudangku/backend/internal/domain"
)

func TestTokenRoundTrip(t *testing.T) {
	auth := NewAuthManager("round-trip-secret", time.Hour, nil)

	token, err := auth.sign("admin", domain.RoleAdmin, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	actor, err := auth.ParseToken(token)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if actor.Username != "admin" || actor.Role != domain.RoleAdmin {
		t.Fatalf("unexpected actor: %+v", actor)
	}
}

func TestTokenRejectedWithWrongSecret(t *testing.T) {
	signer := NewAuthManager("secret-one-padding-padding-pad", time.Hour, nil)
	verifier := NewAuthManager("secret-two-padding-padding-pad", time.Hour, nil)

	token, err := signer.sign("admin", domain.RoleAdmin, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if _, err := verifier.ParseToken(token); err == nil {
		t.Fatalf("expected parse to fail with wrong secret")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	auth := NewAuthManager("expired-token-secret", time.Hour, nil)

	token, err := auth.sign("admin", domain.RoleAdmin, time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if _, err := auth.ParseToken(token); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestCreateStaffValidation(t *testing.T) {
	auth := NewAuthManager("create-staff-secret", time.Hour, nil)

	cases := []struct {
		name string
		req  domain.StaffCreateRequest
	}{
		{"short username", domain.StaffCreateRequest{Username: "ab", Password: "secret123"}},
		{"username with spaces", domain.StaffCreateRequest{Username: "bad name", Password: "secret123"}},
		{"short password", domain.StaffCreateRequest{Username: "newstaff", Password: "123"}},
	}
	for _, tc := range cases {
		if _, err := auth.CreateStaff(tc.req); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}

	user, err := auth.CreateStaff(domain.StaffCreateRequest{Username: "NewStaff", Password: "secret123"})
	if err != nil {
		t.Fatalf("valid staff creation failed: %v", err)
	}
	if user.Username != "newstaff" {
		t.Fatalf("expected lowercased username, got %q", user.Username)
	}
	if user.Role != domain.RoleStaff {
		t.Fatalf("expected staff role, got %q", user.Role)
	}

	if _, err := auth.CreateStaff(domain.StaffCreateRequest{Username: "newstaff", Password: "secret123"}); err == nil || !strings.Contains(err.Error(), "exists") {
		t.Fatalf("expected duplicate username error, got %v", err)
	}
}
