// Package chat relays one-to-one chat messages, read receipts and typing
// indicators between live connections.
package chat

import (
	"context"

	"github.com/weiawesome/wes-io-live/messenger-service/internal/domain"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/kafka"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/presence"
)

// Relay handles messaging frames. Failures are reported to the originating
// connection as error frames and also returned.
type Relay interface {
	JoinChat(ctx context.Context, from presence.Conn, req *domain.ChatRoomMessage) error
	LeaveChat(ctx context.Context, from presence.Conn, req *domain.ChatRoomMessage) error
	SendMessage(ctx context.Context, from presence.Conn, req *domain.SendMessageRequest) error
	MarkRead(ctx context.Context, from presence.Conn, req *domain.MarkReadRequest) error
	Typing(ctx context.Context, from presence.Conn, req *domain.TypingRequest, typing bool) error
}

// Rooms tracks which connections joined which chat. Chat frames also reach
// the joined connections of the target that the presence registry no longer
// points at.
type Rooms interface {
	JoinRoom(chatID string, conn presence.Conn)
	LeaveRoom(chatID string, conn presence.Conn)
	RoomMembers(chatID string) []presence.Conn
}

// Users resolves receivers and sender display names.
type Users interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
}

// EventPublisher receives message.created events.
type EventPublisher interface {
	PublishMessageEvent(ctx context.Context, event *kafka.MessageEvent) error
}
