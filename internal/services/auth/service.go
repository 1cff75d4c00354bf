// -----------------------------------------------------------------------
// Auth Service - bearer credentials and short-lived stream tokens
// -----------------------------------------------------------------------

package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/subfetch/subfetch/internal/interfaces"
	"github.com/subfetch/subfetch/internal/models"
)

// streamTokenTTL bounds how long a minted WebSocket token stays valid.
// Browsers cannot set Authorization headers on WebSocket upgrades, so
// clients fetch a token over the authenticated REST API and pass it as a
// query parameter.
const streamTokenTTL = 60 * time.Second

type streamToken struct {
	userID    string
	expiresAt time.Time
}

// Service implements the AuthService interface.
type Service struct {
	users  interfaces.UserStorage
	logger arbor.ILogger

	mu     sync.Mutex
	tokens map[string]streamToken
}

// NewService creates an auth service over the user store.
func NewService(users interfaces.UserStorage, logger arbor.ILogger) interfaces.AuthService {
	return &Service{
		users:  users,
		logger: logger,
		tokens: make(map[string]streamToken),
	}
}

// ResolveBearer resolves a long-lived API key to its user.
func (s *Service) ResolveBearer(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, models.ErrUnauthorized("missing credentials")
	}
	user, err := s.users.GetUserByAPIKey(ctx, token)
	if err != nil {
		return nil, models.ErrUnauthorized("invalid credentials")
	}
	return user, nil
}

// IssueStreamToken mints a random single-purpose token for the user.
func (s *Service) IssueStreamToken(ctx context.Context, user *models.User) (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate stream token: %w", err)
	}
	token := hex.EncodeToString(buf)

	s.mu.Lock()
	s.pruneLocked()
	s.tokens[token] = streamToken{userID: user.ID, expiresAt: time.Now().Add(streamTokenTTL)}
	s.mu.Unlock()

	return token, nil
}

// ResolveStreamToken validates a stream token and returns its user.
func (s *Service) ResolveStreamToken(ctx context.Context, token string) (*models.User, error) {
	s.mu.Lock()
	entry, ok := s.tokens[token]
	if ok && time.Now().After(entry.expiresAt) {
		delete(s.tokens, token)
		ok = false
	}
	s.mu.Unlock()

	if !ok {
		return nil, models.ErrUnauthorized("invalid or expired stream token")
	}
	user, err := s.users.GetUser(ctx, entry.userID)
	if err != nil {
		return nil, models.ErrUnauthorized("invalid or expired stream token")
	}
	return user, nil
}

// pruneLocked drops expired tokens. Caller holds s.mu.
func (s *Service) pruneLocked() {
	now := time.Now()
	for token, entry := range s.tokens {
		if now.After(entry.expiresAt) {
			delete(s.tokens, token)
		}
	}
}
