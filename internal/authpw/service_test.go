package authpw

import (
	"context"
	"errors"
	"testing"

	"hearth/api/internal/store"
)

type mockUserStore struct {
	users      map[string]store.User
	emailIndex map[string]string
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{
		users:      make(map[string]store.User),
		emailIndex: make(map[string]string),
	}
}

func (m *mockUserStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if userID, ok := m.emailIndex[email]; ok {
		return m.users[userID], nil
	}
	return store.User{}, errors.New("user not found")
}

func (m *mockUserStore) CreateUser(ctx context.Context, user store.User) error {
	m.users[user.ID] = user
	m.emailIndex[user.Email] = user.ID
	return nil
}

func TestSignUp(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockUserStore()
	svc := NewService(mockStore)

	t.Run("successful sign up", func(t *testing.T) {
		id, err := svc.SignUp(ctx, SignUpRequest{
			Email:       "priya@example.com",
			Password:    "password123",
			DisplayName: "Priya",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if id == "" {
			t.Error("expected user id to be set")
		}
		user := mockStore.users[id]
		if user.PasswordHash == "password123" || user.PasswordHash == "" {
			t.Error("password must be stored hashed")
		}
	})

	t.Run("duplicate email", func(t *testing.T) {
		_, err := svc.SignUp(ctx, SignUpRequest{
			Email:       "priya@example.com",
			Password:    "password123",
			DisplayName: "Other Priya",
		})
		if err == nil {
			t.Error("expected error for duplicate email")
		}
	})

	t.Run("email is normalized", func(t *testing.T) {
		_, err := svc.SignUp(ctx, SignUpRequest{
			Email:       "  PRIYA@example.com ",
			Password:    "password123",
			DisplayName: "Priya Again",
		})
		if err == nil {
			t.Error("expected duplicate after normalization")
		}
	})

	t.Run("short password", func(t *testing.T) {
		_, err := svc.SignUp(ctx, SignUpRequest{
			Email:       "sam@example.com",
			Password:    "short",
			DisplayName: "Sam",
		})
		if err == nil {
			t.Error("expected error for short password")
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		if _, err := svc.SignUp(ctx, SignUpRequest{}); err == nil {
			t.Error("expected error for missing fields")
		}
	})
}

func TestSignIn(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockUserStore()
	svc := NewService(mockStore)

	if _, err := svc.SignUp(ctx, SignUpRequest{
		Email:       "priya@example.com",
		Password:    "password123",
		DisplayName: "Priya",
	}); err != nil {
		t.Fatal(err)
	}

	t.Run("successful sign in", func(t *testing.T) {
		user, err := svc.SignIn(ctx, "priya@example.com", "password123")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if user.Email != "priya@example.com" {
			t.Errorf("email = %q", user.Email)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		if _, err := svc.SignIn(ctx, "priya@example.com", "wrongpassword"); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("error = %v, want ErrInvalidCredentials", err)
		}
	})

	t.Run("non-existent user", func(t *testing.T) {
		if _, err := svc.SignIn(ctx, "nobody@example.com", "password123"); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("error = %v, want ErrInvalidCredentials", err)
		}
	})
}
