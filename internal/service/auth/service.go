package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/waterops/licensing-api/internal/model"
	"github.com/waterops/licensing-api/internal/repository"
	apperrors "github.com/waterops/licensing-api/pkg/errors"
	"github.com/waterops/licensing-api/pkg/security"
)

// Config holds JWT settings.
type Config struct {
	Secret      string
	ExpiryHours int
}

type Service struct {
	users  repository.UserRepository
	hasher security.PasswordHasher
	config Config
}

func NewService(users repository.UserRepository, hasher security.PasswordHasher, config Config) *Service {
	return &Service{
		users:  users,
		hasher: hasher,
		config: config,
	}
}

// Login verifies credentials and issues an access token.
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return "", apperrors.Unauthorized(err)
	}

	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		return "", apperrors.Unauthorized(err)
	}

	return s.generateToken(user)
}

func (s *Service) generateToken(user *model.User) (string, error) {
	claims := jwt.MapClaims{
		"user_id": user.ID.String(),
		"email":   user.Email,
		"exp":     time.Now().Add(time.Duration(s.config.ExpiryHours) * time.Hour).Unix(),
		"iat":     time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.Secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and verifies an access token and returns its claims.
func (s *Service) ValidateToken(tokenString string) (*model.TokenClaims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.config.Secret), nil
	})
	if err != nil {
		return nil, apperrors.Unauthorized(err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	userID, err := uuid.Parse(fmt.Sprint(claims["user_id"]))
	if err != nil {
		return nil, fmt.Errorf("invalid user id claim: %w", err)
	}

	return &model.TokenClaims{
		UserID: userID,
		Email:  fmt.Sprint(claims["email"]),
	}, nil
}
