package repository

import (
	"context"
	"errors"
	"time"

	"github.com/weiawesome/wes-io-live/messenger-service/internal/domain"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrChatNotFound    = errors.New("chat not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrChatExists      = errors.New("chat already exists for pair")
)

// UserRepository is the identity store consulted by the engine.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	SetActive(ctx context.Context, id string, active bool) error
	UpdateDeviceToken(ctx context.Context, id, token string) error
}

// RefreshTokenStore keeps the hash of each user's current refresh token.
type RefreshTokenStore interface {
	GetRefreshTokenHash(ctx context.Context, userID string) (string, error)
	SetRefreshTokenHash(ctx context.Context, userID, hash string) error
}

// ChatRepository stores one chat per unordered participant pair.
type ChatRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Chat, error)
	// GetByPair returns ErrChatNotFound when the pair has no chat.
	GetByPair(ctx context.Context, a, b string) (*domain.Chat, error)
	// Create returns ErrChatExists when the pair already has a chat.
	Create(ctx context.Context, a, b string) (*domain.Chat, error)
	UpdateLastMessage(ctx context.Context, chatID, messageID string, at time.Time) error
	ListForUser(ctx context.Context, userID string, limit int) ([]*domain.Chat, error)
}

// MessageRepository stores chat messages.
type MessageRepository interface {
	Create(ctx context.Context, msg *domain.Message) error
	GetByID(ctx context.Context, id string) (*domain.Message, error)
	// MarkRead flips the read flag if it is still false and reports whether
	// this call did the transition.
	MarkRead(ctx context.Context, id string, at time.Time) (bool, error)
	// ListByChat returns up to limit messages older than the message before
	// (or the newest when before is empty), newest first.
	ListByChat(ctx context.Context, chatID, before string, limit int) ([]*domain.Message, error)
}

// CallHistoryRepository appends terminal call records.
type CallHistoryRepository interface {
	// Create is idempotent per channel id.
	Create(ctx context.Context, record *domain.CallHistory) error
	ExistsByChannel(ctx context.Context, channelID string) (bool, error)
	ListForUser(ctx context.Context, userID string, limit int) ([]*domain.CallHistory, error)
}

var (
	_ UserRepository        = (*GormUserRepository)(nil)
	_ RefreshTokenStore     = (*GormUserRepository)(nil)
	_ ChatRepository        = (*GormChatRepository)(nil)
	_ MessageRepository     = (*GormMessageRepository)(nil)
	_ CallHistoryRepository = (*GormCallHistoryRepository)(nil)
)
