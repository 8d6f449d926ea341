package store

import (
	"errors"
	"time"

	"classchat/pkg/domain"
)

var (
	// ErrPersistenceUnavailable reports that the database could not be
	// reached after bounded retries. Fatal to the current turn only.
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
	// ErrSchemaBootstrap reports a failed schema bootstrap. Fatal at
	// startup, never retried.
	ErrSchemaBootstrap = errors.New("schema bootstrap failed")
	// ErrDuplicateSeq reports a sequence-number collision on append,
	// raised by the per-conversation unique index under concurrent writers.
	ErrDuplicateSeq = errors.New("duplicate message sequence")
)

// ConversationFilter narrows admin conversation listings.
type ConversationFilter struct {
	UserID       string // exact match when set
	AssignmentID string
	Model        string
	Limit        int
}

// Store defines persistence operations for users, assignments, prompts,
// conversations, messages, and attachment metadata.
//
// AppendMessage is atomic: the message and its attachments commit together
// or not at all, and the sequence number is assigned inside the same
// transaction so no two messages of one conversation ever share one.
type Store interface {
	// users
	SaveUser(u domain.User) error
	GetUser(id string) (domain.User, bool, error)
	ListUsers() ([]domain.User, error)
	UserCount() (int, error)

	// settings (base system prompt lives here)
	GetSetting(key string) (string, bool, error)
	SetSetting(key, value string) error

	// assignments
	CreateAssignment(a domain.Assignment) error
	UpdateAssignmentPrompt(id, prompt string) error
	ListAssignments() ([]domain.Assignment, error)
	GetAssignment(id string) (domain.Assignment, bool, error)
	GetActiveAssignment() (domain.Assignment, bool, error)
	// SetActiveAssignment clears the prior flag and sets the new one in a
	// single transaction, so exactly one assignment is active afterwards.
	SetActiveAssignment(id string) error

	// conversations
	CreateConversation(c domain.Conversation) error
	GetConversation(id string) (domain.Conversation, bool, error)
	TouchConversation(id, title, model string, at time.Time) error
	ListConversationsByUser(userID string, limit int) ([]domain.ConversationSummary, error)
	ListConversationsAdmin(f ConversationFilter) ([]domain.ConversationSummary, error)
	// DeleteConversation cascades to messages and attachments; it returns
	// the external object keys of deleted attachments so the caller can
	// best-effort delete the remote blobs afterwards.
	DeleteConversation(id string) ([]string, error)

	// messages and attachment metadata
	AppendMessage(msg domain.Message, atts []domain.Attachment) (domain.Message, error)
	ListMessages(conversationID string) ([]domain.Message, error)
	ListAttachments(messageIDs []string) (map[string][]domain.Attachment, error)
	UpdateMessageContent(messageID, content string) error
	// DeleteMessagesAfter removes all messages of the conversation with a
	// sequence number greater than seq, plus their attachments. Returns
	// external object keys of the removed attachments.
	DeleteMessagesAfter(conversationID string, seq int) ([]string, error)
	// ListExternalKeys returns every external object key referenced by any
	// attachment row. Used by the orphan-blob reconciliation sweep.
	ListExternalKeys() ([]string, error)
}

// SessionStore persists session tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}
