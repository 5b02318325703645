// Package auth handles registration, login, and request identity.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/cameronalberg/stock-trader/internal/database"
)

var (
	ErrInvalidCredentials = errors.New("invalid username and/or password")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrEmptyField         = errors.New("username and password are required")
)

// dummyHash keeps bcrypt comparison time constant when the username does
// not exist.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// UserStore is the slice of the ledger store auth needs.
type UserStore interface {
	CreateUser(ctx context.Context, username, hash string, startCash decimal.Decimal) (int64, error)
	UserByUsername(ctx context.Context, username string) (*database.User, error)
	UserByID(ctx context.Context, id int64) (*database.User, error)
	UpdatePassword(ctx context.Context, userID int64, hash string) error
}

type Service struct {
	store     UserStore
	secret    []byte
	tokenTTL  time.Duration
	startCash decimal.Decimal
}

func NewService(store UserStore, secret []byte, startCash decimal.Decimal) *Service {
	return &Service{
		store:     store,
		secret:    secret,
		tokenTTL:  24 * time.Hour,
		startCash: startCash,
	}
}

// Register creates a user with a bcrypt-hashed password and starting cash.
func (s *Service) Register(ctx context.Context, username, password string) (int64, error) {
	if username == "" || password == "" {
		return 0, ErrEmptyField
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}
	id, err := s.store.CreateUser(ctx, username, string(hash), s.startCash)
	if err != nil {
		if errors.Is(err, database.ErrDuplicateUsername) {
			return 0, ErrUsernameTaken
		}
		return 0, err
	}
	return id, nil
}

// Login verifies the password and returns a signed token. The bcrypt
// comparison runs even for unknown usernames.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	if username == "" || password == "" {
		return "", ErrEmptyField
	}
	user, err := s.store.UserByUsername(ctx, username)

	hash := dummyHash
	if err == nil {
		hash = user.Hash
	}
	compareErr := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err != nil || compareErr != nil {
		return "", ErrInvalidCredentials
	}

	return s.GenerateToken(user.ID)
}

// ChangePassword verifies the current password before replacing it.
func (s *Service) ChangePassword(ctx context.Context, userID int64, current, next string) error {
	if current == "" || next == "" {
		return ErrEmptyField
	}
	user, err := s.store.UserByID(ctx, userID)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Hash), []byte(current)) != nil {
		return ErrInvalidCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.store.UpdatePassword(ctx, userID, string(hash))
}

// GenerateToken issues an HS256 token with the user ID as subject.
func (s *Service) GenerateToken(userID int64) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseToken validates a token and returns the user ID it carries.
func (s *Service) ParseToken(tokenString string) (int64, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return 0, ErrInvalidCredentials
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, ErrInvalidCredentials
	}
	return id, nil
}
