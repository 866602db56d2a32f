package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/rwaexchange/internal/memstore"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "test-secret"

func newService() (*AuthService, *memstore.Store) {
	store := memstore.New()
	return NewAuthService(store, testSecret, time.Hour), store
}

func TestAuthService_Register(t *testing.T) {
	tests := []struct {
		name        string
		username    string
		password    string
		expectError bool
	}{
		{
			name:     "Success",
			username: "alice",
			password: "password123",
		},
		{
			name:        "EmptyUsername",
			username:    "",
			password:    "password123",
			expectError: true,
		},
		{
			name:        "EmptyPassword",
			username:    "bob",
			password:    "",
			expectError: true,
		},
		{
			name:        "DuplicateUsername",
			username:    "alice",
			password:    "newpass",
			expectError: true,
		},
		{
			name:        "LongUsername",
			username:    strings.Repeat("a", 51),
			password:    "password123",
			expectError: true,
		},
		{
			name:        "LongPassword",
			username:    "carol",
			password:    strings.Repeat("p", 73),
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, store := newService()
			ctx := context.Background()

			if tt.name == "DuplicateUsername" {
				_, err := s.Register(ctx, "alice", "password123")
				require.NoError(t, err)
			}

			user, err := s.Register(ctx, tt.username, tt.password)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.username, user.Username)

			stored, err := store.GetUserByUsername(ctx, tt.username)
			require.NoError(t, err)
			assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte(tt.password)))
		})
	}
}

func TestAuthService_Login(t *testing.T) {
	s, _ := newService()
	_, err := s.Register(context.Background(), "alice", "password123")
	require.NoError(t, err)

	tests := []struct {
		name        string
		username    string
		password    string
		expectError bool
	}{
		{name: "Success", username: "alice", password: "password123"},
		{name: "WrongPassword", username: "alice", password: "wrongpass", expectError: true},
		{name: "NonExistentUser", username: "bob", password: "password123", expectError: true},
		{name: "LongPassword", username: "alice", password: strings.Repeat("p", 1000), expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := s.Login(context.Background(), tt.username, tt.password)
			if tt.expectError {
				assert.ErrorIs(t, err, ErrInvalidCredentials)
				return
			}
			require.NoError(t, err)

			parsed, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
				return []byte(testSecret), nil
			})
			require.NoError(t, err)
			claims, ok := parsed.Claims.(jwt.MapClaims)
			require.True(t, ok)
			assert.Equal(t, "alice", claims["username"])
		})
	}
}

func TestAuthService_GetUserFromToken(t *testing.T) {
	s, _ := newService()
	ctx := context.Background()
	user, err := s.Register(ctx, "alice", "password123")
	require.NoError(t, err)
	token, err := s.Login(ctx, "alice", "password123")
	require.NoError(t, err)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":  float64(user.ID),
		"username": "alice",
		"exp":      time.Now().Add(-time.Hour).Unix(),
	})
	expiredStr, _ := expired.SignedString([]byte(testSecret))
	wrongKey, _ := expired.SignedString([]byte("wrong-key"))

	noExp := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": float64(user.ID)})
	noExpStr, _ := noExp.SignedString([]byte(testSecret))

	tests := []struct {
		name         string
		token        string
		expectUserID int64
		expectError  bool
	}{
		{name: "Success", token: token, expectUserID: user.ID},
		{name: "ExpiredToken", token: expiredStr, expectError: true},
		{name: "InvalidSignature", token: wrongKey, expectError: true},
		{name: "MissingExpiry", token: noExpStr, expectError: true},
		{name: "EmptyToken", token: "", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			userID, err := s.GetUserFromToken(tt.token)
			if tt.expectError {
				assert.ErrorIs(t, err, ErrInvalidToken)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectUserID, userID)
		})
	}
}
