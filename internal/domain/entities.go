package domain

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// User is the identity record consulted by the engine.
type User struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Phone       string    `json:"phone,omitempty"`
	DeviceToken string    `json:"-"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// DisplayName returns Name, falling back to the phone number.
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Phone
}

// Chat is the one-to-one conversation between two participants.
type Chat struct {
	ID            string     `json:"id"`
	Participants  []string   `json:"participants"`
	LastMessageID string     `json:"lastMessageId,omitempty"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// HasParticipant reports whether userID takes part in the chat.
func (c *Chat) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// PairKey returns the order-independent key of a participant pair.
func PairKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, ":")
}

// Message types.
const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeAudio = "audio"
	MessageTypeFile  = "file"
)

// ValidMessageType reports whether t is a known message type.
func ValidMessageType(t string) bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeAudio, MessageTypeFile:
		return true
	}
	return false
}

// NewMessageID returns a ULID. Ids minted by one process sort in creation
// order, which keeps the paging cursor stable for equal timestamps.
func NewMessageID() string {
	return ulid.Make().String()
}

// Message is a persisted chat message.
type Message struct {
	ID         string     `json:"id"`
	ChatID     string     `json:"chatId"`
	SenderID   string     `json:"senderId"`
	ReceiverID string     `json:"receiverId"`
	Content    string     `json:"content"`
	Type       string     `json:"messageType"`
	IsRead     bool       `json:"isRead"`
	ReadAt     *time.Time `json:"readAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// CallType is audio or video.
type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

// Valid reports whether t is a supported call type.
func (t CallType) Valid() bool {
	return t == CallTypeAudio || t == CallTypeVideo
}

// CallOutcome is the terminal outcome recorded in call history.
type CallOutcome string

const (
	OutcomeMissed   CallOutcome = "missed"
	OutcomeRejected CallOutcome = "rejected"
	OutcomeAnswered CallOutcome = "answered"
)

// CallHistory is written once per call at its terminal transition.
type CallHistory struct {
	ID              string      `json:"id"`
	ChannelID       string      `json:"channelId"`
	CallerID        string      `json:"callerId"`
	CalleeID        string      `json:"calleeId"`
	CallType        CallType    `json:"callType"`
	Outcome         CallOutcome `json:"outcome"`
	StartedAt       time.Time   `json:"startedAt"`
	EndedAt         time.Time   `json:"endedAt"`
	DurationSeconds int64       `json:"durationSeconds"`
}

// SessionDescription is the {type, sdp} shape of offers and answers.
// Payloads are relayed as the raw JSON received; this type is only used to
// inspect them.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ParseSessionDescription decodes raw without altering it.
func ParseSessionDescription(raw json.RawMessage) (SessionDescription, error) {
	var sd SessionDescription
	err := json.Unmarshal(raw, &sd)
	return sd, err
}
