// Package credential issues and checks the access/refresh token pairs used
// to admit connections.
package credential

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/weiawesome/wes-io-live/messenger-service/internal/repository"
	"github.com/weiawesome/wes-io-live/messenger-service/pkg/jwt"
)

// Service validates tokens with a jwt.Manager and keeps the bcrypt hash of
// each user's current refresh token in a RefreshTokenStore.
type Service struct {
	tokens   *jwt.Manager
	store    repository.RefreshTokenStore
	hashCost int
}

// NewService creates a credential service.
func NewService(tokens *jwt.Manager, store repository.RefreshTokenStore) *Service {
	return &Service{tokens: tokens, store: store, hashCost: bcrypt.DefaultCost}
}

// ValidateAccessToken returns the user id of a valid access token.
func (s *Service) ValidateAccessToken(token string) (string, error) {
	claims, err := s.tokens.ValidateToken(token, jwt.TypeAccess)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}

// ValidateRefreshToken returns the user id of a valid refresh token. It
// does not check that the token is the user's current one.
func (s *Service) ValidateRefreshToken(token string) (string, error) {
	claims, err := s.tokens.ValidateToken(token, jwt.TypeRefresh)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}

// MintAccessToken mints a fresh access token for userID.
func (s *Service) MintAccessToken(ctx context.Context, userID string) (string, time.Time, error) {
	return s.tokens.MintAccessToken(userID)
}

// RefreshTokenMatches reports whether token is the refresh token last
// issued to userID.
func (s *Service) RefreshTokenMatches(ctx context.Context, userID, token string) (bool, error) {
	hash, err := s.store.GetRefreshTokenHash(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("load refresh token hash: %w", err)
	}
	if hash == "" {
		return false, nil
	}

	err = bcrypt.CompareHashAndPassword([]byte(hash), digest(token))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("compare refresh token hash: %w", err)
	}
	return true, nil
}

// IssuePair mints a token pair and makes its refresh token the user's
// current one, invalidating any earlier refresh token.
func (s *Service) IssuePair(ctx context.Context, userID string) (*jwt.TokenPair, error) {
	pair, err := s.tokens.GenerateTokenPair(userID)
	if err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword(digest(pair.RefreshToken), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("hash refresh token: %w", err)
	}
	if err := s.store.SetRefreshTokenHash(ctx, userID, string(hash)); err != nil {
		return nil, fmt.Errorf("store refresh token hash: %w", err)
	}
	return pair, nil
}

// Revoke invalidates every token issued to userID so far.
func (s *Service) Revoke(ctx context.Context, userID string) error {
	s.tokens.RevokeUserTokens(userID)
	if err := s.store.SetRefreshTokenHash(ctx, userID, ""); err != nil && !errors.Is(err, repository.ErrUserNotFound) {
		return fmt.Errorf("clear refresh token hash: %w", err)
	}
	return nil
}

// digest keeps bcrypt input under its 72 byte limit; JWTs are longer.
func digest(token string) []byte {
	sum := sha256.Sum256([]byte(token))
	return []byte(hex.EncodeToString(sum[:]))
}
