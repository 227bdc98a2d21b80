package notify

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/weiawesome/wes-io-live/messenger-service/internal/domain"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/metrics"
)

// Push kinds, used as data["kind"] and as the metrics label.
const (
	KindMessage      = "message"
	KindIncomingCall = "incoming_call"
	KindMissedCall   = "missed_call"
)

const (
	maxBodyRunes = 120
	callPushTTL  = 60 * time.Second
)

// Notifier implements Dispatcher on top of a Sender.
type Notifier struct {
	sender  Sender
	metrics *metrics.Metrics
}

// NewNotifier creates a notifier. m may be nil.
func NewNotifier(sender Sender, m *metrics.Metrics) *Notifier {
	return &Notifier{sender: sender, metrics: m}
}

func (n *Notifier) SendMessageAlert(ctx context.Context, deviceToken string, alert MessageAlert) error {
	push := &Push{
		Token: deviceToken,
		Title: alert.SenderName,
		Body:  messageBody(alert),
		Data: map[string]string{
			"kind":       KindMessage,
			"chatId":     alert.ChatID,
			"messageId":  alert.MessageID,
			"senderId":   alert.SenderID,
			"senderName": alert.SenderName,
			"receiverId": alert.ReceiverID,
		},
		CollapseKey: "chat:" + alert.ChatID,
	}
	return n.send(ctx, KindMessage, push)
}

func (n *Notifier) SendIncomingCallAlert(ctx context.Context, deviceToken string, alert IncomingCallAlert) error {
	push := &Push{
		Token: deviceToken,
		Title: alert.CallerName,
		Body:  fmt.Sprintf("Incoming %s call", callTypeName(alert.CallType)),
		Data: map[string]string{
			"kind":       KindIncomingCall,
			"channelId":  alert.ChannelID,
			"callerId":   alert.CallerID,
			"callerName": alert.CallerName,
			"calleeId":   alert.CalleeID,
			"callType":   string(alert.CallType),
		},
		HighPriority: true,
		CollapseKey:  "call:" + alert.ChannelID,
		TTL:          callPushTTL,
	}
	return n.send(ctx, KindIncomingCall, push)
}

func (n *Notifier) SendMissedCallAlert(ctx context.Context, deviceToken string, alert MissedCallAlert) error {
	push := &Push{
		Token: deviceToken,
		Title: alert.CallerName,
		Body:  fmt.Sprintf("Missed %s call", callTypeName(alert.CallType)),
		Data: map[string]string{
			"kind":       KindMissedCall,
			"channelId":  alert.ChannelID,
			"callerId":   alert.CallerID,
			"callerName": alert.CallerName,
			"calleeId":   alert.CalleeID,
			"callType":   string(alert.CallType),
		},
		// Same key as the incoming push so the ringing notification is
		// replaced.
		CollapseKey: "call:" + alert.ChannelID,
	}
	return n.send(ctx, KindMissedCall, push)
}

func (n *Notifier) send(ctx context.Context, kind string, push *Push) error {
	if push.Token == "" {
		n.metrics.RecordNotification(kind, ErrNoDeviceToken)
		return ErrNoDeviceToken
	}
	err := n.sender.Send(ctx, push)
	n.metrics.RecordNotification(kind, err)
	if err != nil {
		return fmt.Errorf("send %s push: %w", kind, err)
	}
	return nil
}

func messageBody(alert MessageAlert) string {
	switch alert.MessageType {
	case domain.MessageTypeImage:
		return "Sent a photo"
	case domain.MessageTypeAudio:
		return "Sent a voice message"
	case domain.MessageTypeFile:
		return "Sent a file"
	}
	return truncate(alert.Text, maxBodyRunes)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}

func callTypeName(t domain.CallType) string {
	if t == domain.CallTypeVideo {
		return "video"
	}
	return "voice"
}

var _ Dispatcher = (*Notifier)(nil)
