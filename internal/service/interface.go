package service

import (
	"context"

	"github.com/weiawesome/wes-io-live/messenger-service/internal/domain"
)

// Page size bounds of the history API.
const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// MessagePage is one page of a chat, newest first.
type MessagePage struct {
	Messages   []*domain.Message `json:"messages"`
	NextCursor string            `json:"nextCursor,omitempty"`
	HasMore    bool              `json:"hasMore"`
}

// PresenceStatus reports whether a user has a live connection.
type PresenceStatus struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

// HistoryService answers the read-only HTTP queries.
type HistoryService interface {
	ListChats(ctx context.Context, userID string, limit int) ([]*domain.Chat, error)
	GetMessages(ctx context.Context, userID, chatID, before string, limit int) (*MessagePage, error)
	ListCalls(ctx context.Context, userID string, limit int) ([]*domain.CallHistory, error)
	Presence(ctx context.Context, userID string) (*PresenceStatus, error)
}
