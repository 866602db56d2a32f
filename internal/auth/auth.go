package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xtrntr/rwaexchange/internal/models"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidInput       = errors.New("invalid credentials format")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid token")
)

const (
	maxUsername = 50
	maxPassword = 72 // bcrypt input limit
)

// UserStore persists users
type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
}

// AuthService handles user authentication
type AuthService struct {
	store  UserStore
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewAuthService creates a new auth service
func NewAuthService(store UserStore, secret string, ttl time.Duration) *AuthService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &AuthService{store: store, secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Register creates a new user with hashed password
func (s *AuthService) Register(ctx context.Context, username, password string) (*models.User, error) {
	if username == "" {
		return nil, fmt.Errorf("%w: username cannot be empty", ErrInvalidInput)
	}
	if password == "" {
		return nil, fmt.Errorf("%w: password cannot be empty", ErrInvalidInput)
	}
	if len(username) > maxUsername {
		return nil, fmt.Errorf("%w: username too long (max %d characters)", ErrInvalidInput, maxUsername)
	}
	if len(password) > maxPassword {
		return nil, fmt.Errorf("%w: password too long (max %d bytes)", ErrInvalidInput, maxPassword)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.store.CreateUser(ctx, username, string(hashedPassword))
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// Login verifies credentials and generates a JWT
func (s *AuthService) Login(ctx context.Context, username, password string) (string, error) {
	if len(password) > maxPassword {
		return "", ErrInvalidCredentials
	}
	user, err := s.store.GetUserByUsername(ctx, username)
	if errors.Is(err, models.ErrNotFound) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":  user.ID,
		"username": user.Username,
		"exp":      s.now().Add(s.ttl).Unix(),
	})
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// GetUserFromToken extracts user ID from JWT
func (s *AuthService) GetUserFromToken(tokenString string) (int64, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return 0, ErrInvalidToken
	}
	userID, ok := claims["user_id"].(float64)
	if !ok || userID <= 0 {
		return 0, fmt.Errorf("%w: missing user_id", ErrInvalidToken)
	}
	return int64(userID), nil
}
