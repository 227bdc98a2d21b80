package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"

	"github.com/weiawesome/wes-io-live/messenger-service/internal/audit"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/domain"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/kafka"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/metrics"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/notify"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/presence"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/repository"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/worker"
	"github.com/weiawesome/wes-io-live/messenger-service/pkg/log"
)

// MaxContentLength is the longest accepted message, in runes.
const MaxContentLength = 4000

// Options tunes a Relay.
type Options struct {
	Metrics *metrics.Metrics
	// Events receives message.created. Optional.
	Events EventPublisher
	Tasks  *worker.Group
}

type relay struct {
	registry *presence.Registry
	rooms    Rooms
	users    Users
	chats    repository.ChatRepository
	messages repository.MessageRepository
	notifier notify.Dispatcher
	events   EventPublisher
	tasks    *worker.Group
	metrics  *metrics.Metrics
	now      func() time.Time

	// pair key -> in-flight get-or-create
	pairs singleflight.Group
}

type resolvedChat struct {
	chat    *domain.Chat
	created bool
}

// NewRelay creates the message relay.
func NewRelay(
	registry *presence.Registry,
	rooms Rooms,
	users Users,
	chats repository.ChatRepository,
	messages repository.MessageRepository,
	notifier notify.Dispatcher,
	opts Options,
) Relay {
	if opts.Tasks == nil {
		opts.Tasks = worker.NewGroup(worker.DefaultTimeout)
	}
	return &relay{
		registry: registry,
		rooms:    rooms,
		users:    users,
		chats:    chats,
		messages: messages,
		notifier: notifier,
		events:   opts.Events,
		tasks:    opts.Tasks,
		metrics:  opts.Metrics,
		now:      time.Now,
	}
}

func (r *relay) JoinChat(ctx context.Context, from presence.Conn, req *domain.ChatRoomMessage) error {
	if req.ChatID == "" {
		return r.fail(from, domain.Validation("chatId is required"))
	}
	chat, err := r.participantChat(ctx, req.ChatID, from.UserID())
	if err != nil {
		return r.fail(from, err)
	}

	r.rooms.JoinRoom(chat.ID, from)
	from.Send(&domain.JoinChatAck{
		Type:         domain.MsgTypeJoinChat,
		ChatID:       chat.ID,
		Participants: chat.Participants,
	})
	return nil
}

func (r *relay) LeaveChat(ctx context.Context, from presence.Conn, req *domain.ChatRoomMessage) error {
	if req.ChatID == "" {
		return r.fail(from, domain.Validation("chatId is required"))
	}
	r.rooms.LeaveRoom(req.ChatID, from)
	return nil
}

func (r *relay) SendMessage(ctx context.Context, from presence.Conn, req *domain.SendMessageRequest) error {
	senderID := from.UserID()
	msgType := req.MessageType
	if msgType == "" {
		msgType = domain.MessageTypeText
	}
	if err := validateSend(senderID, req, msgType); err != nil {
		return r.fail(from, err)
	}

	receiver, err := r.users.GetByID(ctx, req.ReceiverID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return r.fail(from, domain.NotFound("user %s not found", req.ReceiverID))
		}
		return r.fail(from, fmt.Errorf("lookup receiver: %w", err))
	}
	if !receiver.IsActive {
		return r.fail(from, domain.NotFound("user %s not found", req.ReceiverID))
	}

	resolved, err := r.resolveChat(ctx, req.ChatID, senderID, req.ReceiverID)
	if err != nil {
		return r.fail(from, err)
	}
	chat := resolved.chat

	msg := &domain.Message{
		ID:         domain.NewMessageID(),
		ChatID:     chat.ID,
		SenderID:   senderID,
		ReceiverID: req.ReceiverID,
		Content:    req.Content,
		Type:       msgType,
		CreatedAt:  r.now().UTC(),
	}
	if err := r.messages.Create(ctx, msg); err != nil {
		return r.fail(from, fmt.Errorf("persist message: %w", err))
	}
	if err := r.chats.UpdateLastMessage(ctx, chat.ID, msg.ID, msg.CreatedAt); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldChatID, chat.ID).Msg("failed to update last message")
	}

	delivered := r.deliver(chat.ID, req.ReceiverID, &domain.NewMessageEvent{
		Type:    domain.MsgTypeNewMessage,
		ChatID:  chat.ID,
		Message: msg,
	})

	ack := &domain.MessageSentEvent{
		Type:    domain.MsgTypeMessageSent,
		ChatID:  chat.ID,
		TempID:  req.TempID,
		Message: msg,
	}
	if resolved.created {
		created := *chat
		created.LastMessageID = msg.ID
		created.LastMessageAt = &msg.CreatedAt
		ack.Chat = &created
	}
	from.Send(ack)
	if delivered {
		from.Send(&domain.MessageReceivedEvent{
			Type:       domain.MsgTypeMessageReceived,
			ChatID:     chat.ID,
			MessageID:  msg.ID,
			ReceiverID: msg.ReceiverID,
		})
	}

	r.pushMessage(msg, receiver.DeviceToken)
	r.publish(msg)
	r.metrics.RecordMessage(delivered)
	audit.LogTarget(ctx, audit.ActionMessageSend, senderID, msg.ID, "message sent")
	return nil
}

func (r *relay) MarkRead(ctx context.Context, from presence.Conn, req *domain.MarkReadRequest) error {
	if req.MessageID == "" {
		return r.fail(from, domain.Validation("messageId is required"))
	}
	userID := from.UserID()

	msg, err := r.messages.GetByID(ctx, req.MessageID)
	if err != nil {
		if errors.Is(err, repository.ErrMessageNotFound) {
			return r.fail(from, domain.NotFound("message %s not found", req.MessageID))
		}
		return r.fail(from, fmt.Errorf("load message: %w", err))
	}
	if req.ChatID != "" && msg.ChatID != req.ChatID {
		return r.fail(from, domain.NotFound("message %s not found", req.MessageID))
	}
	if msg.ReceiverID != userID {
		return r.fail(from, domain.AccessDenied("only the receiver can mark a message read"))
	}

	readAt := r.now().UTC()
	changed, err := r.messages.MarkRead(ctx, msg.ID, readAt)
	if err != nil {
		return r.fail(from, fmt.Errorf("mark read: %w", err))
	}
	if !changed {
		return nil
	}

	r.deliver(msg.ChatID, msg.SenderID, &domain.MessageReadEvent{
		Type:      domain.MsgTypeMessageRead,
		ChatID:    msg.ChatID,
		MessageID: msg.ID,
		ReadBy:    userID,
		ReadAt:    readAt,
	})
	audit.LogTarget(ctx, audit.ActionMessageRead, userID, msg.ID, "message read")
	return nil
}

func (r *relay) Typing(ctx context.Context, from presence.Conn, req *domain.TypingRequest, typing bool) error {
	userID := from.UserID()
	if req.ReceiverID == "" || req.ReceiverID == userID {
		return nil
	}
	event := &domain.UserTypingEvent{
		Type:     domain.MsgTypeUserTyping,
		ChatID:   req.ChatID,
		UserID:   userID,
		IsTyping: typing,
	}
	// The chat id is unchecked here, so only a joined sender reaches the room.
	if req.ChatID != "" && r.joined(req.ChatID, from) {
		r.deliver(req.ChatID, req.ReceiverID, event)
	} else {
		r.registry.Send(req.ReceiverID, event)
	}
	return nil
}

// deliver sends v to targetID's current connection and to every other
// connection of targetID that joined chatID. It reports whether the current
// connection took it.
func (r *relay) deliver(chatID, targetID string, v interface{}) bool {
	delivered := false
	current, online := r.registry.Lookup(targetID)
	if online {
		delivered = current.Send(v)
	}
	for _, conn := range r.rooms.RoomMembers(chatID) {
		if conn.UserID() != targetID || (online && conn.ID() == current.ID()) {
			continue
		}
		conn.Send(v)
	}
	return delivered
}

func (r *relay) joined(chatID string, conn presence.Conn) bool {
	for _, member := range r.rooms.RoomMembers(chatID) {
		if member.ID() == conn.ID() {
			return true
		}
	}
	return false
}

// resolveChat loads chatID and checks both parties take part in it, or
// finds or creates the chat of the pair when chatID is empty.
func (r *relay) resolveChat(ctx context.Context, chatID, senderID, receiverID string) (*resolvedChat, error) {
	if chatID != "" {
		chat, err := r.participantChat(ctx, chatID, senderID)
		if err != nil {
			return nil, err
		}
		if !chat.HasParticipant(receiverID) {
			return nil, domain.AccessDenied("receiver is not a participant of chat %s", chatID)
		}
		return &resolvedChat{chat: chat}, nil
	}

	// The shared lookup is detached from the leader's cancellation. Only the
	// leader reports a creation.
	leader := false
	v, err, _ := r.pairs.Do(domain.PairKey(senderID, receiverID), func() (interface{}, error) {
		leader = true
		return r.getOrCreate(context.WithoutCancel(ctx), senderID, receiverID)
	})
	if err != nil {
		return nil, err
	}
	resolved := v.(*resolvedChat)
	if !leader && resolved.created {
		return &resolvedChat{chat: resolved.chat}, nil
	}
	return resolved, nil
}

func (r *relay) getOrCreate(ctx context.Context, a, b string) (*resolvedChat, error) {
	chat, err := r.chats.GetByPair(ctx, a, b)
	if err == nil {
		return &resolvedChat{chat: chat}, nil
	}
	if !errors.Is(err, repository.ErrChatNotFound) {
		return nil, fmt.Errorf("lookup chat: %w", err)
	}

	chat, err = r.chats.Create(ctx, a, b)
	switch {
	case err == nil:
		audit.LogTarget(ctx, audit.ActionChatCreate, a, chat.ID, "chat created")
		return &resolvedChat{chat: chat, created: true}, nil
	case errors.Is(err, repository.ErrChatExists):
		// Lost the race to another instance or a reconnecting client.
		chat, err = r.chats.GetByPair(ctx, a, b)
		if err != nil {
			return nil, fmt.Errorf("lookup chat after conflict: %w", err)
		}
		return &resolvedChat{chat: chat}, nil
	default:
		return nil, fmt.Errorf("create chat: %w", err)
	}
}

func (r *relay) participantChat(ctx context.Context, chatID, userID string) (*domain.Chat, error) {
	chat, err := r.chats.GetByID(ctx, chatID)
	if err != nil {
		if errors.Is(err, repository.ErrChatNotFound) {
			return nil, domain.NotFound("chat %s not found", chatID)
		}
		return nil, fmt.Errorf("load chat: %w", err)
	}
	if !chat.HasParticipant(userID) {
		return nil, domain.AccessDenied("not a participant of chat %s", chatID)
	}
	return chat, nil
}

func (r *relay) pushMessage(msg *domain.Message, token string) {
	r.tasks.Go("push.message", func(ctx context.Context) error {
		senderName := msg.SenderID
		if sender, err := r.users.GetByID(ctx, msg.SenderID); err == nil && sender.DisplayName() != "" {
			senderName = sender.DisplayName()
		}
		err := r.notifier.SendMessageAlert(ctx, token, notify.MessageAlert{
			ChatID:      msg.ChatID,
			MessageID:   msg.ID,
			SenderID:    msg.SenderID,
			SenderName:  senderName,
			ReceiverID:  msg.ReceiverID,
			Text:        msg.Content,
			MessageType: msg.Type,
		})
		if errors.Is(err, notify.ErrNoDeviceToken) {
			return nil
		}
		return err
	})
}

func (r *relay) publish(msg *domain.Message) {
	if r.events == nil {
		return
	}
	event := &kafka.MessageEvent{
		Type:        kafka.EventMessageCreated,
		ChatID:      msg.ChatID,
		MessageID:   msg.ID,
		SenderID:    msg.SenderID,
		ReceiverID:  msg.ReceiverID,
		MessageType: msg.Type,
		Timestamp:   msg.CreatedAt.Unix(),
	}
	r.tasks.Go("event."+kafka.EventMessageCreated, func(ctx context.Context) error {
		return r.events.PublishMessageEvent(ctx, event)
	})
}

func (r *relay) fail(from presence.Conn, err error) error {
	from.Send(domain.NewErrorMessage(domain.CodeOf(err), domain.PublicMessage(err)))
	return err
}

func validateSend(senderID string, req *domain.SendMessageRequest, msgType string) error {
	if req.ReceiverID == "" {
		return domain.Validation("receiverId is required")
	}
	if req.ReceiverID == senderID {
		return domain.Validation("cannot send a message to yourself")
	}
	if strings.TrimSpace(req.Content) == "" {
		return domain.Validation("content is required")
	}
	if utf8.RuneCountInString(req.Content) > MaxContentLength {
		return domain.Validation("content exceeds %d characters", MaxContentLength)
	}
	if !domain.ValidMessageType(msgType) {
		return domain.Validation("unknown messageType %q", msgType)
	}
	return nil
}
