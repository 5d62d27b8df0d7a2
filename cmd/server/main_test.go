package main

import (
	"context"
	"testing"
	"time"

	"pharmastock/backend/internal/config"
	"pharmastock/backend/internal/domain"
	"pharmastock/backend/internal/httpapi"
	"pharmastock/backend/internal/store/memory"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short"})
	if err == nil {
		t.Fatalf("expected weak security config to be rejected")
	}

	err = validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", BootstrapAdminPass: "admin"})
	if err == nil {
		t.Fatalf("expected short bootstrap password to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestBootstrapAdminCreatesAccountOnEmptyStore(t *testing.T) {
	ctx := context.Background()
	auth := httpapi.NewAuthManager("0123456789abcdef0123456789abcdef", time.Hour, memory.New(), nil)

	if err := bootstrapAdmin(ctx, auth, "correct-horse-battery"); err != nil {
		t.Fatalf("bootstrap admin: %v", err)
	}
	resp, err := auth.Login(ctx, domain.LoginRequest{Username: "admin", Password: "correct-horse-battery"})
	if err != nil {
		t.Fatalf("login as bootstrapped admin: %v", err)
	}
	if resp.Role != domain.RoleAdmin {
		t.Fatalf("expected admin role, got %s", resp.Role)
	}

	// A second run must not fail on the existing account.
	if err := bootstrapAdmin(ctx, auth, "correct-horse-battery"); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
}

func TestBootstrapAdminSkipsWhenUnset(t *testing.T) {
	ctx := context.Background()
	auth := httpapi.NewAuthManager("0123456789abcdef0123456789abcdef", time.Hour, memory.New(), nil)

	if err := bootstrapAdmin(ctx, auth, ""); err != nil {
		t.Fatalf("bootstrap admin: %v", err)
	}
	if users := auth.ListUsers(ctx); len(users) != 0 {
		t.Fatalf("expected no users, got %d", len(users))
	}
}
