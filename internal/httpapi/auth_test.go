package httpapi

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"pharmastock/backend/internal/domain"
	"pharmastock/backend/internal/store"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func seededStub() *userStoreStub {
	return &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:  "admin",
				Password:  "admin123",
				Role:      domain.RoleAdmin,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	users := seededStub()

	manager := NewAuthManager("test-secret", time.Hour, users, nil)
	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"}); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	stored, err := users.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("expected 1 user, got %d", len(stored))
	}
	if !strings.HasPrefix(stored[0].Password, "$2") {
		t.Fatalf("expected bcrypt password hash, got %s", stored[0].Password)
	}
	if users.updates != 1 {
		t.Fatalf("expected one password upgrade, got %d", users.updates)
	}
}

func TestTokenCarriesRoleAndBranch(t *testing.T) {
	users := seededStub()
	manager := NewAuthManager("test-secret", time.Hour, users, nil)

	_, err := manager.CreateUser(context.Background(), domain.UserCreateRequest{
		Username: "pharmacist",
		Password: "pass1234",
		Role:     domain.RoleStaff,
		BranchID: "branch-ikeja",
	})
	if err != nil {
		t.Fatalf("create user failed: %v", err)
	}

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "Pharmacist", Password: "pass1234"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.Role != domain.RoleStaff || resp.BranchID != "branch-ikeja" {
		t.Fatalf("unexpected login response %+v", resp)
	}

	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token failed: %v", err)
	}
	want := domain.Actor{ID: "pharmacist", Role: domain.RoleStaff, BranchID: "branch-ikeja"}
	if actor != want {
		t.Fatalf("expected %+v, got %+v", want, actor)
	}
}

func TestParseTokenRejectsForeignSignature(t *testing.T) {
	issuer := NewAuthManager("secret-a", time.Hour, seededStub(), nil)
	verifier := NewAuthManager("secret-b", time.Hour, seededStub(), nil)

	resp, err := issuer.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if _, err := verifier.ParseToken(resp.AccessToken); !errors.Is(err, errInvalidToken) {
		t.Fatalf("expected errInvalidToken, got %v", err)
	}
}

func TestCreateUserValidatesBranchAssignment(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, seededStub(), nil)
	ctx := context.Background()

	cases := []domain.UserCreateRequest{
		{Username: "ab", Password: "pass1234", Role: domain.RoleStaff, BranchID: "branch-ikeja"},
		{Username: "nobranch", Password: "pass1234", Role: domain.RoleManager},
		{Username: "adminx", Password: "pass1234", Role: domain.RoleAdmin, BranchID: "branch-ikeja"},
		{Username: "shortpw", Password: "123", Role: domain.RoleCustomer},
		{Username: "admin", Password: "pass1234", Role: domain.RoleAdmin},
		{Username: "weird", Password: "pass1234", Role: "cashier"},
	}
	for _, tc := range cases {
		if _, err := manager.CreateUser(ctx, tc); !errors.Is(err, store.ErrInvalidRequest) {
			t.Fatalf("%s: expected ErrInvalidRequest, got %v", tc.Username, err)
		}
	}
}

func TestRegisterCustomerStoresPasswordHash(t *testing.T) {
	users := seededStub()
	manager := NewAuthManager("test-secret", time.Hour, users, nil)

	user, err := manager.RegisterCustomer(context.Background(), domain.LoginRequest{Username: "amaka", Password: "pass1234"})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if user.Role != domain.RoleCustomer || user.Password != "" {
		t.Fatalf("unexpected account %+v", user)
	}

	stored := users.users["amaka"]
	if !strings.HasPrefix(stored.Password, "$2") {
		t.Fatalf("expected bcrypt hash prefix, got %s", stored.Password)
	}

	listed := manager.ListUsers(context.Background())
	if len(listed) != 2 || listed[0].Username != "admin" || listed[1].Username != "amaka" {
		t.Fatalf("unexpected user list %+v", listed)
	}
}
