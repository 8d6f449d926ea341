package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID           string    `gorm:"primaryKey"`
	Role         string    `gorm:"not null"`
	PasswordHash string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (UserModel) TableName() string { return "users" }

type SettingModel struct {
	Key   string `gorm:"primaryKey"`
	Value string
}

func (SettingModel) TableName() string { return "settings" }

type AssignmentModel struct {
	ID        string    `gorm:"primaryKey"`
	Name      string    `gorm:"uniqueIndex;not null"`
	Prompt    string    `gorm:"type:text;not null"`
	Active    bool      `gorm:"not null;default:false;index"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (AssignmentModel) TableName() string { return "assignments" }

type ConversationModel struct {
	ID               string `gorm:"primaryKey"`
	UserID           string `gorm:"not null;index"`
	Title            string
	Model            string
	BasePrompt       string `gorm:"type:text"`
	AssignmentID     string `gorm:"index"`
	AssignmentName   string
	AssignmentPrompt string    `gorm:"type:text"`
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null;index"`
}

func (ConversationModel) TableName() string { return "conversations" }

// MessageModel rows are ordered by Seq; the composite unique index makes
// sequence collisions impossible even across concurrent processes.
type MessageModel struct {
	ID             string    `gorm:"primaryKey"`
	ConversationID string    `gorm:"not null;uniqueIndex:idx_conversation_seq,priority:1"`
	Seq            int       `gorm:"not null;uniqueIndex:idx_conversation_seq,priority:2"`
	Role           string    `gorm:"not null"`
	Content        string    `gorm:"type:text;not null"`
	CreatedAt      time.Time `gorm:"not null"`
}

func (MessageModel) TableName() string { return "messages" }

// AttachmentModel stores either inline bytes (Data) or an external object
// reference (Bucket/Key), depending on StorageVariant.
type AttachmentModel struct {
	ID             string `gorm:"primaryKey"`
	MessageID      string `gorm:"not null;index"`
	Kind           string `gorm:"not null"`
	Filename       string
	Mime           string
	SizeBytes      int64
	StorageVariant string `gorm:"not null"`
	Data           []byte
	Bucket         string
	Key            string `gorm:"column:object_key;index"`
	TextContent    string `gorm:"type:text"`
	Meta           datatypes.JSON
	CreatedAt      time.Time `gorm:"not null"`
}

func (AttachmentModel) TableName() string { return "attachments" }
