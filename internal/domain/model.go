package domain

import "time"

// UserModel is the users table.
type UserModel struct {
	ID               string `gorm:"type:varchar(36);primaryKey"`
	Name             string `gorm:"type:varchar(100)"`
	Phone            string `gorm:"type:varchar(32);index"`
	DeviceToken      string `gorm:"type:varchar(512)"`
	RefreshTokenHash string `gorm:"type:varchar(100)"`
	IsActive         bool   `gorm:"not null;default:true"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (UserModel) TableName() string {
	return "users"
}

// ToDomain converts UserModel to User.
func (m *UserModel) ToDomain() *User {
	return &User{
		ID:          m.ID,
		Name:        m.Name,
		Phone:       m.Phone,
		DeviceToken: m.DeviceToken,
		IsActive:    m.IsActive,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

// UserToModel converts User to UserModel. The refresh hash is not part of
// the domain user and is left empty.
func UserToModel(u *User) *UserModel {
	return &UserModel{
		ID:          u.ID,
		Name:        u.Name,
		Phone:       u.Phone,
		DeviceToken: u.DeviceToken,
		IsActive:    u.IsActive,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

// ChatModel is the chats table. ParticipantA sorts before ParticipantB and
// PairKey is unique, so a pair maps to at most one row.
type ChatModel struct {
	ID            string `gorm:"type:varchar(36);primaryKey"`
	ParticipantA  string `gorm:"type:varchar(36);not null;index"`
	ParticipantB  string `gorm:"type:varchar(36);not null;index"`
	PairKey       string `gorm:"type:varchar(80);not null;uniqueIndex"`
	LastMessageID string `gorm:"type:varchar(36)"`
	LastMessageAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (ChatModel) TableName() string {
	return "chats"
}

// ToDomain converts ChatModel to Chat.
func (m *ChatModel) ToDomain() *Chat {
	return &Chat{
		ID:            m.ID,
		Participants:  []string{m.ParticipantA, m.ParticipantB},
		LastMessageID: m.LastMessageID,
		LastMessageAt: m.LastMessageAt,
		CreatedAt:     m.CreatedAt,
	}
}

// MessageModel is the messages table.
type MessageModel struct {
	ID         string `gorm:"type:varchar(36);primaryKey"`
	ChatID     string `gorm:"type:varchar(36);not null;index:idx_messages_chat_created,priority:1"`
	SenderID   string `gorm:"type:varchar(36);not null"`
	ReceiverID string `gorm:"type:varchar(36);not null"`
	Content    string `gorm:"type:text;not null"`
	Type       string `gorm:"type:varchar(16);not null;default:text"`
	IsRead     bool   `gorm:"not null;default:false"`
	ReadAt     *time.Time
	CreatedAt  time.Time `gorm:"index:idx_messages_chat_created,priority:2"`
}

func (MessageModel) TableName() string {
	return "messages"
}

// ToDomain converts MessageModel to Message.
func (m *MessageModel) ToDomain() *Message {
	return &Message{
		ID:         m.ID,
		ChatID:     m.ChatID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		Type:       m.Type,
		IsRead:     m.IsRead,
		ReadAt:     m.ReadAt,
		CreatedAt:  m.CreatedAt,
	}
}

// MessageToModel converts Message to MessageModel.
func MessageToModel(msg *Message) *MessageModel {
	return &MessageModel{
		ID:         msg.ID,
		ChatID:     msg.ChatID,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Content:    msg.Content,
		Type:       msg.Type,
		IsRead:     msg.IsRead,
		ReadAt:     msg.ReadAt,
		CreatedAt:  msg.CreatedAt,
	}
}

// CallHistoryModel is the call_history table.
type CallHistoryModel struct {
	ID              string `gorm:"type:varchar(36);primaryKey"`
	ChannelID       string `gorm:"type:varchar(128);not null;uniqueIndex"`
	CallerID        string `gorm:"type:varchar(36);not null;index"`
	CalleeID        string `gorm:"type:varchar(36);not null;index"`
	CallType        string `gorm:"type:varchar(8);not null"`
	Outcome         string `gorm:"type:varchar(16);not null"`
	StartedAt       time.Time
	EndedAt         time.Time `gorm:"index"`
	DurationSeconds int64
}

func (CallHistoryModel) TableName() string {
	return "call_history"
}

// ToDomain converts CallHistoryModel to CallHistory.
func (m *CallHistoryModel) ToDomain() *CallHistory {
	return &CallHistory{
		ID:              m.ID,
		ChannelID:       m.ChannelID,
		CallerID:        m.CallerID,
		CalleeID:        m.CalleeID,
		CallType:        CallType(m.CallType),
		Outcome:         CallOutcome(m.Outcome),
		StartedAt:       m.StartedAt,
		EndedAt:         m.EndedAt,
		DurationSeconds: m.DurationSeconds,
	}
}

// CallHistoryToModel converts CallHistory to CallHistoryModel.
func CallHistoryToModel(h *CallHistory) *CallHistoryModel {
	return &CallHistoryModel{
		ID:              h.ID,
		ChannelID:       h.ChannelID,
		CallerID:        h.CallerID,
		CalleeID:        h.CalleeID,
		CallType:        string(h.CallType),
		Outcome:         string(h.Outcome),
		StartedAt:       h.StartedAt,
		EndedAt:         h.EndedAt,
		DurationSeconds: h.DurationSeconds,
	}
}

// Models lists every table for auto-migration.
func Models() []interface{} {
	return []interface{}{&UserModel{}, &ChatModel{}, &MessageModel{}, &CallHistoryModel{}}
}
