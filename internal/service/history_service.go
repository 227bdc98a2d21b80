package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/weiawesome/wes-io-live/messenger-service/internal/domain"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/presence"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/registry"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/repository"
	"github.com/weiawesome/wes-io-live/messenger-service/pkg/log"
)

type historyServiceImpl struct {
	chats    repository.ChatRepository
	messages repository.MessageRepository
	calls    repository.CallHistoryRepository
	local    *presence.Registry
	mirror   registry.PresenceMirror
}

// NewHistoryService creates the query service. mirror may be nil, in which
// case presence is answered from the local registry only.
func NewHistoryService(
	chats repository.ChatRepository,
	messages repository.MessageRepository,
	calls repository.CallHistoryRepository,
	local *presence.Registry,
	mirror registry.PresenceMirror,
) HistoryService {
	return &historyServiceImpl{
		chats:    chats,
		messages: messages,
		calls:    calls,
		local:    local,
		mirror:   mirror,
	}
}

func (s *historyServiceImpl) ListChats(ctx context.Context, userID string, limit int) ([]*domain.Chat, error) {
	chats, err := s.chats.ListForUser(ctx, userID, pageSize(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	return chats, nil
}

func (s *historyServiceImpl) GetMessages(ctx context.Context, userID, chatID, before string, limit int) (*MessagePage, error) {
	chat, err := s.chats.GetByID(ctx, chatID)
	if err != nil {
		if errors.Is(err, repository.ErrChatNotFound) {
			return nil, domain.NotFound("chat %s not found", chatID)
		}
		return nil, fmt.Errorf("failed to load chat: %w", err)
	}
	if !chat.HasParticipant(userID) {
		return nil, domain.AccessDenied("not a participant of chat %s", chatID)
	}

	size := pageSize(limit)
	// One extra row tells whether another page exists.
	messages, err := s.messages.ListByChat(ctx, chatID, before, size+1)
	if err != nil {
		if errors.Is(err, repository.ErrMessageNotFound) {
			return nil, domain.Validation("unknown cursor %s", before)
		}
		return nil, fmt.Errorf("failed to get messages from repository: %w", err)
	}

	page := &MessagePage{Messages: messages}
	if len(messages) > size {
		page.Messages = messages[:size]
		page.HasMore = true
		page.NextCursor = page.Messages[size-1].ID
	}
	return page, nil
}

func (s *historyServiceImpl) ListCalls(ctx context.Context, userID string, limit int) ([]*domain.CallHistory, error) {
	calls, err := s.calls.ListForUser(ctx, userID, pageSize(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list calls: %w", err)
	}
	return calls, nil
}

func (s *historyServiceImpl) Presence(ctx context.Context, userID string) (*PresenceStatus, error) {
	if _, ok := s.local.Lookup(userID); ok {
		return &PresenceStatus{UserID: userID, Online: true}, nil
	}
	if s.mirror == nil {
		return &PresenceStatus{UserID: userID}, nil
	}

	online, err := s.mirror.IsOnline(ctx, userID)
	if err != nil {
		// Local registry already said offline; report that rather than fail.
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldUserID, userID).Msg("presence mirror unavailable")
		return &PresenceStatus{UserID: userID}, nil
	}
	return &PresenceStatus{UserID: userID, Online: online}, nil
}

func pageSize(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}
