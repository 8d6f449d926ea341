package domain

import "time"

type UserRole string

const (
	RoleAdmin   UserRole = "admin"
	RoleStudent UserRole = "student"
)

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

type AttachmentKind string

const (
	KindImage    AttachmentKind = "image"
	KindDocument AttachmentKind = "document"
)

// StorageVariant records where an attachment's raw bytes live.
type StorageVariant string

const (
	// StorageInline keeps the bytes in the attachment row itself.
	StorageInline StorageVariant = "inline"
	// StorageExternal keeps the bytes in the object store under Bucket/Key.
	StorageExternal StorageVariant = "external"
)

type User struct {
	ID           string    `json:"id"`
	Role         UserRole  `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

type Assignment struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Prompt    string    `json:"prompt"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Conversation snapshots the prompt context that was active when it started,
// so transcripts stay reproducible after prompts or assignments change.
type Conversation struct {
	ID               string    `json:"id"`
	UserID           string    `json:"userId"`
	Title            string    `json:"title"`
	Model            string    `json:"model"`
	BasePrompt       string    `json:"-"`
	AssignmentID     string    `json:"assignmentId,omitempty"`
	AssignmentName   string    `json:"assignmentName,omitempty"`
	AssignmentPrompt string    `json:"-"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// ConversationSummary is the listing shape returned to the UI layer.
type ConversationSummary struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	Title          string    `json:"title"`
	Model          string    `json:"model"`
	AssignmentName string    `json:"assignmentName,omitempty"`
	MessageCount   int       `json:"messageCount"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	Role           MessageRole `json:"role"`
	Seq            int         `json:"seq"`
	Content        string      `json:"content"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// Attachment carries either inline bytes or an external object reference,
// never both. TextContent is populated for documents only.
type Attachment struct {
	ID             string            `json:"id"`
	MessageID      string            `json:"messageId"`
	Kind           AttachmentKind    `json:"kind"`
	Filename       string            `json:"filename"`
	Mime           string            `json:"mime"`
	SizeBytes      int64             `json:"sizeBytes"`
	StorageVariant StorageVariant    `json:"storageVariant"`
	Data           []byte            `json:"-"`
	Bucket         string            `json:"-"`
	Key            string            `json:"-"`
	TextContent    string            `json:"-"`
	Meta           map[string]string `json:"-"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// PromptContext is what the chat UI shows before the first message of a turn.
type PromptContext struct {
	BasePrompt       string `json:"basePrompt"`
	AssignmentID     string `json:"assignmentId,omitempty"`
	AssignmentLabel  string `json:"assignmentLabel,omitempty"`
	AssignmentPrompt string `json:"assignmentPrompt,omitempty"`
	ModelName        string `json:"modelName"`
}
