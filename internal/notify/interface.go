// Package notify translates engine alerts into device push notifications.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/weiawesome/wes-io-live/messenger-service/internal/domain"
)

var (
	ErrNoDeviceToken     = errors.New("user has no device token")
	ErrUnregisteredToken = errors.New("device token is no longer registered")
)

// MessageAlert announces a new chat message.
type MessageAlert struct {
	ChatID      string
	MessageID   string
	SenderID    string
	SenderName  string
	ReceiverID  string
	Text        string
	MessageType string
}

// IncomingCallAlert wakes the callee's device for a ringing call.
type IncomingCallAlert struct {
	ChannelID  string
	CallerID   string
	CallerName string
	CalleeID   string
	CallType   domain.CallType
}

// MissedCallAlert tells the callee a call ended before being answered.
type MissedCallAlert struct {
	ChannelID  string
	CallerID   string
	CallerName string
	CalleeID   string
	CallType   domain.CallType
}

// Dispatcher is the notification collaborator of the relay and the call
// service. Calls are best-effort; callers log the error and move on.
type Dispatcher interface {
	SendMessageAlert(ctx context.Context, deviceToken string, alert MessageAlert) error
	SendIncomingCallAlert(ctx context.Context, deviceToken string, alert IncomingCallAlert) error
	SendMissedCallAlert(ctx context.Context, deviceToken string, alert MissedCallAlert) error
}

// Push is a provider-neutral push notification.
type Push struct {
	Token        string
	Title        string
	Body         string
	Data         map[string]string
	HighPriority bool
	// CollapseKey groups pushes so a newer one replaces an older one.
	CollapseKey string
	TTL         time.Duration
}

// Sender delivers a Push to a device.
type Sender interface {
	Send(ctx context.Context, push *Push) error
}
