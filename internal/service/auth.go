package service

import (
	"errors"
	"fmt"
	"time"

	"green-reward/pkg"

	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
)

type AuthService interface {
	Authenticate(username, password string) (string, error)
}

type authService struct {
	users     Directory
	password  string
	log       pkg.Logger
	jwtSecret string
}

// NewAuthService authenticates the demo users against one shared password.
func NewAuthService(users Directory, password string, logger pkg.Logger, jwtSecret string) AuthService {
	return &authService{
		users:     users,
		password:  password,
		log:       logger,
		jwtSecret: jwtSecret,
	}
}

func (s *authService) Authenticate(username, password string) (string, error) {
	if s.jwtSecret == "" {
		s.log.Error("auth: empty JWT secret key")
		return "", errors.New("could not generate token: empty secret key")
	}
	user, ok := s.users.Lookup(username)
	if !ok {
		s.log.Warn("invalid credentials: unknown user", zap.String("username", username))
		return "", fmt.Errorf("invalid credentials: %w", ErrUserNotFound)
	}
	if password != s.password {
		s.log.Warn("invalid credentials: password mismatch", zap.String("username", username))
		return "", fmt.Errorf("invalid credentials: password mismatch")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"username": user.Username,
		"role":     string(user.Role),
		"exp":      time.Now().Add(1 * time.Hour).Unix(),
	})
	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		s.log.Error("failed to generate token", zap.String("username", username), zap.Error(err))
		return "", fmt.Errorf("could not generate token: %w", err)
	}
	s.log.Info("User authenticated", zap.String("username", username), zap.String("role", string(user.Role)))
	return tokenString, nil
}
