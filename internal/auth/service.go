package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/roomcast/roomcast-server/internal/store"
)

var (
	// ErrInvalidCredentials is returned when username/password don't match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrIdentityExists is returned when registering an existing username.
	ErrIdentityExists = errors.New("identity already exists")
	// ErrInvalidUsername is returned when a username doesn't meet constraints.
	ErrInvalidUsername = errors.New("invalid username")
	// ErrInvalidPassword is returned when a password doesn't meet constraints.
	ErrInvalidPassword = errors.New("invalid password")
)

// Service provides authentication operations and supplies the verified
// identity snapshot consumed by the core at connection-handshake time.
type Service struct {
	store     store.IdentityStore
	jwtConfig *JWTConfig
}

// NewService creates a new authentication service.
func NewService(identityStore store.IdentityStore, jwtConfig *JWTConfig) *Service {
	return &Service{
		store:     identityStore,
		jwtConfig: jwtConfig,
	}
}

// Register creates a new identity with a hashed password and returns a JWT token.
func (s *Service) Register(ctx context.Context, username, password string) (string, error) {
	username = strings.TrimSpace(username)
	if len(username) < 3 || len(username) > 32 {
		return "", ErrInvalidUsername
	}
	if len(password) < 6 {
		return "", ErrInvalidPassword
	}

	existing, err := s.store.GetIdentityByUsername(ctx, username)
	if err == nil && existing != nil {
		return "", ErrIdentityExists
	}

	hashedPassword, err := HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	ident, err := s.store.CreateIdentity(ctx, username, hashedPassword)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return "", ErrIdentityExists
		}
		return "", fmt.Errorf("create identity: %w", err)
	}

	token, err := GenerateToken(s.jwtConfig, ident.ID, ident.Username, false)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	return token, nil
}

// Login validates credentials and returns a JWT token.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	ident, err := s.store.GetIdentityByUsername(ctx, username)
	if err != nil {
		return "", ErrInvalidCredentials
	}

	if errPwd := ComparePassword(ident.PasswordHash, password); errPwd != nil {
		return "", ErrInvalidCredentials
	}

	token, err := GenerateToken(s.jwtConfig, ident.ID, ident.Username, false)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	return token, nil
}

// CreateGuest creates a temporary guest identity and returns a JWT token.
func (s *Service) CreateGuest(ctx context.Context) (token, sessionID string, err error) {
	sessionID = uuid.NewString()

	ident, err := s.store.CreateGuestIdentity(ctx, sessionID)
	if err != nil {
		return "", "", fmt.Errorf("create guest identity: %w", err)
	}

	token, err = GenerateToken(s.jwtConfig, ident.ID, ident.Username, true)
	if err != nil {
		return "", "", fmt.Errorf("generate token: %w", err)
	}

	return token, sessionID, nil
}

// ValidateToken validates a JWT token and returns the claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	return ValidateToken(s.jwtConfig, tokenString)
}

// IdentityForToken validates the token and loads the full identity record.
// The core trusts this snapshot for the duration of the connection.
func (s *Service) IdentityForToken(ctx context.Context, tokenString string) (*store.Identity, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	ident, err := s.store.GetIdentityByID(ctx, claims.IdentityID)
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	return ident, nil
}
