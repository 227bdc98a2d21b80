package kafka

import (
	"context"

	"github.com/weiawesome/wes-io-live/messenger-service/internal/domain"
)

// Event types
const (
	EventCallInvited    = "call.invited"
	EventCallAccepted   = "call.accepted"
	EventCallEnded      = "call.ended"
	EventMessageCreated = "message.created"
)

// CallEvent is a call lifecycle event, keyed by channel id.
type CallEvent struct {
	Type      string              `json:"type"`
	ChannelID string              `json:"channel_id"`
	CallerID  string              `json:"caller_id"`
	CalleeID  string              `json:"callee_id"`
	CallType  domain.CallType     `json:"call_type"`
	History   *domain.CallHistory `json:"history,omitempty"` // call.ended only
	Timestamp int64               `json:"timestamp"`
}

// MessageEvent announces a persisted message, keyed by chat id.
type MessageEvent struct {
	Type        string `json:"type"`
	ChatID      string `json:"chat_id"`
	MessageID   string `json:"message_id"`
	SenderID    string `json:"sender_id"`
	ReceiverID  string `json:"receiver_id"`
	MessageType string `json:"message_type"`
	Timestamp   int64  `json:"timestamp"`
}

// EventProducer defines the interface for producing engine events.
type EventProducer interface {
	PublishCallEvent(ctx context.Context, event *CallEvent) error
	PublishMessageEvent(ctx context.Context, event *MessageEvent) error
	// RecordCall publishes the terminal history record of a call as a
	// call.ended event.
	RecordCall(ctx context.Context, record *domain.CallHistory) error
	Close() error
}

// HistoryHandler persists call history records read from the stream.
type HistoryHandler interface {
	Create(ctx context.Context, record *domain.CallHistory) error
}
