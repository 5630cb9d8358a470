package chat

import "time"

type DirectMessage struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	SenderID    uint64    `gorm:"not null;index:idx_dm_pair,priority:1" json:"sender_id"`
	RecipientID uint64    `gorm:"not null;index:idx_dm_pair,priority:2;index:idx_dm_unread,priority:1" json:"recipient_id"`
	Content     string    `gorm:"type:text;not null" json:"content"`
	IsRead      bool      `gorm:"not null;default:false;index:idx_dm_unread,priority:2" json:"is_read"`
	CreatedAt   time.Time `gorm:"index" json:"sent_at"`
}

func (DirectMessage) TableName() string { return "direct_messages" }

type GroupChat struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"type:varchar(128);not null" json:"name"`
	CreatorID uint64    `gorm:"index;not null" json:"creator_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (GroupChat) TableName() string { return "group_chats" }

type GroupMember struct {
	GroupID  uint64    `gorm:"primaryKey;autoIncrement:false" json:"group_id"`
	UserID   uint64    `gorm:"primaryKey;autoIncrement:false;index" json:"user_id"`
	JoinedAt time.Time `gorm:"autoCreateTime" json:"joined_at"`
}

func (GroupMember) TableName() string { return "group_members" }

type GroupMessage struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	GroupID   uint64    `gorm:"not null;index" json:"group_id"`
	SenderID  uint64    `gorm:"not null;index" json:"sender_id"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"index" json:"sent_at"`
}

func (GroupMessage) TableName() string { return "group_messages" }

// GroupMessageRead is one entry of a message's read set. Rows are only inserted.
type GroupMessageRead struct {
	MessageID uint64    `gorm:"primaryKey;autoIncrement:false" json:"message_id"`
	UserID    uint64    `gorm:"primaryKey;autoIncrement:false;index" json:"user_id"`
	ReadAt    time.Time `gorm:"autoCreateTime" json:"read_at"`
}

func (GroupMessageRead) TableName() string { return "group_message_reads" }

// AllModels lists the tables owned by the messaging core, for AutoMigrate.
func AllModels() []any {
	return []any{
		&DirectMessage{},
		&GroupChat{},
		&GroupMember{},
		&GroupMessage{},
		&GroupMessageRead{},
		&Job{},
	}
}
