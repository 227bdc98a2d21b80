package domain

import (
	"encoding/json"
	"time"
)

// WebSocket message types from client.
const (
	MsgTypeJoinChat         = "join-chat"
	MsgTypeLeaveChat        = "leave-chat"
	MsgTypeSendMessage      = "send-message"
	MsgTypeMessageRead      = "message-read"
	MsgTypeTyping           = "typing"
	MsgTypeStopTyping       = "stop-typing"
	MsgTypeCallInvite       = "call-invite"
	MsgTypeCallAccept       = "call-accept"
	MsgTypeCallReject       = "call-reject"
	MsgTypeCallEnd          = "call-end"
	MsgTypeCallOfferRequest = "call-offer-request"
	MsgTypeICECandidate     = "ice-candidate"
	MsgTypeRefreshToken     = "refresh-token"
	MsgTypePing             = "ping"
)

// WebSocket message types to client. join-chat, message-read, call-invite
// and ice-candidate are shared with the client direction.
const (
	MsgTypeNewMessage      = "new-message"
	MsgTypeMessageSent     = "message-sent"
	MsgTypeMessageReceived = "message-received"
	MsgTypeUserTyping      = "user-typing"
	MsgTypeCallAccepted    = "call-accepted"
	MsgTypeCallRejected    = "call-rejected"
	MsgTypeCallEnded       = "call-ended"
	MsgTypeCallUnavailable = "call-unavailable"
	MsgTypeCallBusy        = "call-busy"
	MsgTypeCallError       = "call-error"
	MsgTypeCallOffer       = "call-offer"
	MsgTypeTokenRefreshed  = "token-refreshed"
	MsgTypeAuthError       = "auth-error"
	MsgTypeError           = "error"
	MsgTypePong            = "pong"
)

// BaseMessage is the base structure for all WebSocket messages.
type BaseMessage struct {
	Type string `json:"type"`
}

// Client -> Server messages

// ChatRoomMessage joins or leaves a chat room.
type ChatRoomMessage struct {
	Type   string `json:"type"`
	ChatID string `json:"chatId"`
}

// SendMessageRequest sends a message. ChatID is optional; when empty the
// chat between sender and receiver is resolved or created.
type SendMessageRequest struct {
	Type        string `json:"type"`
	ChatID      string `json:"chatId,omitempty"`
	ReceiverID  string `json:"receiverId"`
	Content     string `json:"content"`
	MessageType string `json:"messageType,omitempty"`
	TempID      string `json:"tempId,omitempty"`
}

// MarkReadRequest marks a received message as read.
type MarkReadRequest struct {
	Type      string `json:"type"`
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
}

// TypingRequest signals typing activity towards ReceiverID.
type TypingRequest struct {
	Type       string `json:"type"`
	ChatID     string `json:"chatId,omitempty"`
	ReceiverID string `json:"receiverId"`
}

// CallInviteRequest starts a call on a caller-chosen channel.
type CallInviteRequest struct {
	Type      string          `json:"type"`
	ChannelID string          `json:"channelId"`
	CallerID  string          `json:"callerId,omitempty"`
	CalleeID  string          `json:"calleeId"`
	CallType  CallType        `json:"callType"`
	Offer     json.RawMessage `json:"offer"`
}

// CallAcceptRequest answers an invite.
type CallAcceptRequest struct {
	Type      string          `json:"type"`
	ChannelID string          `json:"channelId"`
	CallerID  string          `json:"callerId,omitempty"`
	Answer    json.RawMessage `json:"answer"`
}

// CallChannelRequest is used by call-reject, call-end and
// call-offer-request.
type CallChannelRequest struct {
	Type      string `json:"type"`
	ChannelID string `json:"channelId"`
	CallerID  string `json:"callerId,omitempty"`
}

// ICECandidateRequest carries an opaque ICE candidate.
type ICECandidateRequest struct {
	Type      string          `json:"type"`
	ChannelID string          `json:"channelId"`
	Candidate json.RawMessage `json:"candidate"`
}

// RefreshTokenRequest asks for a new access token. RefreshToken is optional
// when the connection already holds one.
type RefreshTokenRequest struct {
	Type         string `json:"type"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// Server -> Client messages

// JoinChatAck confirms chat room membership.
type JoinChatAck struct {
	Type         string   `json:"type"`
	ChatID       string   `json:"chatId"`
	Participants []string `json:"participants"`
}

// NewMessageEvent delivers a message to its receiver.
type NewMessageEvent struct {
	Type    string   `json:"type"`
	ChatID  string   `json:"chatId"`
	Message *Message `json:"message"`
}

// MessageSentEvent confirms a send to the sender. Chat is set when the send
// created the chat.
type MessageSentEvent struct {
	Type    string   `json:"type"`
	ChatID  string   `json:"chatId"`
	TempID  string   `json:"tempId,omitempty"`
	Message *Message `json:"message"`
	Chat    *Chat    `json:"chat,omitempty"`
}

// MessageReceivedEvent tells the sender the receiver's connection got it.
type MessageReceivedEvent struct {
	Type       string `json:"type"`
	ChatID     string `json:"chatId"`
	MessageID  string `json:"messageId"`
	ReceiverID string `json:"receiverId"`
}

// MessageReadEvent tells the sender a message was read.
type MessageReadEvent struct {
	Type      string    `json:"type"`
	ChatID    string    `json:"chatId"`
	MessageID string    `json:"messageId"`
	ReadBy    string    `json:"readBy"`
	ReadAt    time.Time `json:"readAt"`
}

// UserTypingEvent relays typing state.
type UserTypingEvent struct {
	Type     string `json:"type"`
	ChatID   string `json:"chatId,omitempty"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// CallInviteEvent is relayed to the callee.
type CallInviteEvent struct {
	Type       string          `json:"type"`
	ChannelID  string          `json:"channelId"`
	CallType   CallType        `json:"callType"`
	CallerID   string          `json:"callerId"`
	CallerName string          `json:"callerName"`
	CalleeID   string          `json:"calleeId"`
	Offer      json.RawMessage `json:"offer"`
}

// CallAcceptedEvent is relayed to the caller.
type CallAcceptedEvent struct {
	Type      string          `json:"type"`
	ChannelID string          `json:"channelId"`
	CallerID  string          `json:"callerId"`
	Answer    json.RawMessage `json:"answer"`
}

// CallChannelEvent is the payload of call-rejected and call-ended.
type CallChannelEvent struct {
	Type      string `json:"type"`
	ChannelID string `json:"channelId"`
}

// CallPeerEvent is the payload of call-unavailable and call-busy.
type CallPeerEvent struct {
	Type      string `json:"type"`
	ChannelID string `json:"channelId"`
	CalleeID  string `json:"calleeId"`
}

// CallErrorEvent reports a failed call action to its initiator.
type CallErrorEvent struct {
	Type      string `json:"type"`
	ChannelID string `json:"channelId,omitempty"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message"`
}

// CallOfferEvent answers an offer re-request.
type CallOfferEvent struct {
	Type      string          `json:"type"`
	ChannelID string          `json:"channelId"`
	Offer     json.RawMessage `json:"offer"`
}

// ICECandidateEvent relays a candidate to the other participant.
type ICECandidateEvent struct {
	Type       string          `json:"type"`
	ChannelID  string          `json:"channelId"`
	Candidate  json.RawMessage `json:"candidate"`
	FromUserID string          `json:"fromUserId"`
}

// TokenRefreshedEvent pushes a freshly minted access token.
type TokenRefreshedEvent struct {
	Type        string    `json:"type"`
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// ErrorMessage is sent when an error occurs.
type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewErrorMessage creates a new error message.
func NewErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{Type: MsgTypeError, Code: code, Message: message}
}

// NewAuthError creates an auth-error frame.
func NewAuthError(message string) *ErrorMessage {
	return &ErrorMessage{Type: MsgTypeAuthError, Code: CodeUnauthorized, Message: message}
}

// NewCallEnded creates a call-ended frame.
func NewCallEnded(channelID string) *CallChannelEvent {
	return &CallChannelEvent{Type: MsgTypeCallEnded, ChannelID: channelID}
}

// NewCallRejected creates a call-rejected frame.
func NewCallRejected(channelID string) *CallChannelEvent {
	return &CallChannelEvent{Type: MsgTypeCallRejected, ChannelID: channelID}
}

// NewCallError creates a call-error frame from err.
func NewCallError(channelID string, err error) *CallErrorEvent {
	return &CallErrorEvent{
		Type:      MsgTypeCallError,
		ChannelID: channelID,
		Code:      CodeOf(err),
		Message:   PublicMessage(err),
	}
}
