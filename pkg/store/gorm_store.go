package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"classchat/pkg/domain"
)

const (
	transientRetries = 3
	transientBackoff = 150 * time.Millisecond
	seqRetries       = 5
)

// GormStore implements Store using GORM.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens a Postgres database and bootstraps the schema.
// A malformed connection string fails here with a diagnostic, never a
// silent retry loop.
func NewGormStore(dsn string) (*GormStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("database connection string is empty")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open database (check connection string): %w", err)
	}
	return NewGormStoreFromDB(db)
}

// NewGormStoreFromDB bootstraps the schema on an already-opened database.
// AutoMigrate uses create-if-not-exists semantics, so bootstrap is safe on a
// populated store and under concurrent startup of multiple instances.
func NewGormStoreFromDB(db *gorm.DB) (*GormStore, error) {
	err := db.AutoMigrate(
		&UserModel{},
		&SettingModel{},
		&AssignmentModel{},
		&ConversationModel{},
		&MessageModel{},
		&AttachmentModel{},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaBootstrap, err)
	}
	return &GormStore{db: db}, nil
}

// withRetry runs fn, retrying transient failures a bounded number of times
// with backoff before surfacing ErrPersistenceUnavailable.
func withRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt < transientRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(transientBackoff << (attempt - 1))
		}
		err = fn()
		if err == nil || !isTransient(err) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
}

func isTransient(err error) bool {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound),
		errors.Is(err, gorm.ErrDuplicatedKey),
		errors.Is(err, gorm.ErrInvalidData),
		errors.Is(err, ErrDuplicateSeq):
		return false
	}
	// Unique violations are contention, not outage; the seq retry loop in
	// AppendMessage owns those.
	return !isUniqueViolation(err)
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}

// SaveUser creates or updates a user.
func (s *GormStore) SaveUser(u domain.User) error {
	return withRetry(func() error {
		model := userToModel(u)
		return s.db.Save(&model).Error
	})
}

// GetUser returns a user by ID.
func (s *GormStore) GetUser(id string) (domain.User, bool, error) {
	var model UserModel
	err := withRetry(func() error {
		return s.db.First(&model, "id = ?", id).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.User{}, false, nil
	}
	if err != nil {
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// ListUsers returns all users ordered by ID.
func (s *GormStore) ListUsers() ([]domain.User, error) {
	var models []UserModel
	err := withRetry(func() error {
		return s.db.Order("id ASC").Find(&models).Error
	})
	if err != nil {
		return nil, err
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res, nil
}

// UserCount returns the number of users.
func (s *GormStore) UserCount() (int, error) {
	var count int64
	err := withRetry(func() error {
		return s.db.Model(&UserModel{}).Count(&count).Error
	})
	return int(count), err
}

// GetSetting returns a settings value by key.
func (s *GormStore) GetSetting(key string) (string, bool, error) {
	var model SettingModel
	err := withRetry(func() error {
		return s.db.First(&model, "key = ?", key).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return model.Value, true, nil
}

// SetSetting upserts a settings value.
func (s *GormStore) SetSetting(key, value string) error {
	return withRetry(func() error {
		return s.db.Save(&SettingModel{Key: key, Value: value}).Error
	})
}

// CreateAssignment stores a new assignment.
func (s *GormStore) CreateAssignment(a domain.Assignment) error {
	return withRetry(func() error {
		model := assignmentToModel(a)
		return s.db.Create(&model).Error
	})
}

// UpdateAssignmentPrompt replaces an assignment's prompt text.
func (s *GormStore) UpdateAssignmentPrompt(id, prompt string) error {
	return withRetry(func() error {
		res := s.db.Model(&AssignmentModel{}).Where("id = ?", id).Updates(map[string]any{
			"prompt":     prompt,
			"updated_at": time.Now().UTC(),
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// ListAssignments returns all assignments ordered by creation time.
func (s *GormStore) ListAssignments() ([]domain.Assignment, error) {
	var models []AssignmentModel
	err := withRetry(func() error {
		return s.db.Order("created_at ASC").Find(&models).Error
	})
	if err != nil {
		return nil, err
	}
	res := make([]domain.Assignment, 0, len(models))
	for _, m := range models {
		res = append(res, assignmentFromModel(m))
	}
	return res, nil
}

// GetAssignment returns an assignment by ID.
func (s *GormStore) GetAssignment(id string) (domain.Assignment, bool, error) {
	var model AssignmentModel
	err := withRetry(func() error {
		return s.db.First(&model, "id = ?", id).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Assignment{}, false, nil
	}
	if err != nil {
		return domain.Assignment{}, false, err
	}
	return assignmentFromModel(model), true, nil
}

// GetActiveAssignment returns the single active assignment, if any.
func (s *GormStore) GetActiveAssignment() (domain.Assignment, bool, error) {
	var model AssignmentModel
	err := withRetry(func() error {
		return s.db.First(&model, "active = ?", true).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Assignment{}, false, nil
	}
	if err != nil {
		return domain.Assignment{}, false, err
	}
	return assignmentFromModel(model), true, nil
}

// SetActiveAssignment clears the prior active flag and sets the new one in
// one transaction, so concurrent processes always observe exactly one
// active assignment.
func (s *GormStore) SetActiveAssignment(id string) error {
	return withRetry(func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(&AssignmentModel{}).Where("active = ?", true).Update("active", false).Error; err != nil {
				return err
			}
			res := tx.Model(&AssignmentModel{}).Where("id = ?", id).Updates(map[string]any{
				"active":     true,
				"updated_at": time.Now().UTC(),
			})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return gorm.ErrRecordNotFound
			}
			return nil
		})
	})
}

// CreateConversation stores a new conversation.
func (s *GormStore) CreateConversation(c domain.Conversation) error {
	return withRetry(func() error {
		model := conversationToModel(c)
		return s.db.Create(&model).Error
	})
}

// GetConversation returns a conversation by ID.
func (s *GormStore) GetConversation(id string) (domain.Conversation, bool, error) {
	var model ConversationModel
	err := withRetry(func() error {
		return s.db.First(&model, "id = ?", id).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Conversation{}, false, nil
	}
	if err != nil {
		return domain.Conversation{}, false, err
	}
	return conversationFromModel(model), true, nil
}

// TouchConversation bumps updated_at and optionally replaces title/model.
// Snapshot prompt columns are never overwritten.
func (s *GormStore) TouchConversation(id, title, model string, at time.Time) error {
	updates := map[string]any{"updated_at": at.UTC()}
	if title != "" {
		updates["title"] = title
	}
	if model != "" {
		updates["model"] = model
	}
	return withRetry(func() error {
		res := s.db.Model(&ConversationModel{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

type summaryRow struct {
	ID             string
	UserID         string
	Title          string
	Model          string
	AssignmentName string
	MessageCount   int
	UpdatedAt      time.Time
}

func summariesFromRows(rows []summaryRow) []domain.ConversationSummary {
	res := make([]domain.ConversationSummary, 0, len(rows))
	for _, r := range rows {
		res = append(res, domain.ConversationSummary{
			ID:             r.ID,
			UserID:         r.UserID,
			Title:          r.Title,
			Model:          r.Model,
			AssignmentName: r.AssignmentName,
			MessageCount:   r.MessageCount,
			UpdatedAt:      r.UpdatedAt,
		})
	}
	return res
}

// ListConversationsByUser returns a user's conversations, newest first,
// with message counts.
func (s *GormStore) ListConversationsByUser(userID string, limit int) ([]domain.ConversationSummary, error) {
	if limit <= 0 {
		limit = 200
	}
	var rows []summaryRow
	err := withRetry(func() error {
		return s.db.Table("conversations c").
			Select("c.id, c.user_id, c.title, c.model, c.assignment_name, c.updated_at, COUNT(m.id) AS message_count").
			Joins("LEFT JOIN messages m ON m.conversation_id = c.id").
			Where("c.user_id = ?", userID).
			Group("c.id").
			Order("c.updated_at DESC").
			Limit(limit).
			Scan(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	return summariesFromRows(rows), nil
}

// ListConversationsAdmin returns conversations across users with optional
// filters, newest first.
func (s *GormStore) ListConversationsAdmin(f ConversationFilter) ([]domain.ConversationSummary, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 300
	}
	var rows []summaryRow
	err := withRetry(func() error {
		tx := s.db.Table("conversations c").
			Select("c.id, c.user_id, c.title, c.model, c.assignment_name, c.updated_at, COUNT(m.id) AS message_count").
			Joins("LEFT JOIN messages m ON m.conversation_id = c.id")
		if f.UserID != "" {
			tx = tx.Where("c.user_id = ?", f.UserID)
		}
		if f.AssignmentID != "" {
			tx = tx.Where("c.assignment_id = ?", f.AssignmentID)
		}
		if f.Model != "" {
			tx = tx.Where("c.model = ?", f.Model)
		}
		return tx.Group("c.id").Order("c.updated_at DESC").Limit(limit).Scan(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	return summariesFromRows(rows), nil
}

// DeleteConversation removes the conversation, its messages, and attachment
// rows in one transaction. It returns the external object keys that were
// referenced so the caller can best-effort delete the remote blobs; that
// cross-system cleanup is deliberately outside the transaction.
func (s *GormStore) DeleteConversation(id string) ([]string, error) {
	var keys []string
	err := withRetry(func() error {
		keys = keys[:0]
		return s.db.Transaction(func(tx *gorm.DB) error {
			var messageIDs []string
			if err := tx.Model(&MessageModel{}).Where("conversation_id = ?", id).Pluck("id", &messageIDs).Error; err != nil {
				return err
			}
			if len(messageIDs) > 0 {
				if err := tx.Model(&AttachmentModel{}).
					Where("message_id IN ? AND storage_variant = ?", messageIDs, string(domain.StorageExternal)).
					Pluck("object_key", &keys).Error; err != nil {
					return err
				}
				if err := tx.Delete(&AttachmentModel{}, "message_id IN ?", messageIDs).Error; err != nil {
					return err
				}
			}
			if err := tx.Delete(&MessageModel{}, "conversation_id = ?", id).Error; err != nil {
				return err
			}
			return tx.Delete(&ConversationModel{}, "id = ?", id).Error
		})
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// AppendMessage commits a message and its attachments atomically, assigning
// the next sequence number inside the transaction. Transient failures follow
// the same bounded backoff as every other store method; a collision on the
// (conversation_id, seq) unique index means two processes appended at once,
// and the append is retried with a freshly read sequence number.
func (s *GormStore) AppendMessage(msg domain.Message, atts []domain.Attachment) (domain.Message, error) {
	for attempt := 0; attempt < seqRetries; attempt++ {
		err := withRetry(func() error {
			return s.appendMessageTx(&msg, atts)
		})
		if err == nil {
			return msg, nil
		}
		if isUniqueViolation(err) {
			continue
		}
		return domain.Message{}, err
	}
	return domain.Message{}, ErrDuplicateSeq
}

// appendMessageTx runs one append attempt. The whole transaction rolls back
// on failure, so it is safe to retry.
func (s *GormStore) appendMessageTx(msg *domain.Message, atts []domain.Attachment) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var maxSeq int
		if err := tx.Model(&MessageModel{}).
			Where("conversation_id = ?", msg.ConversationID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&maxSeq).Error; err != nil {
			return err
		}
		msg.Seq = maxSeq + 1
		model := messageToModel(*msg)
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		for _, att := range atts {
			att.MessageID = msg.ID
			attModel, err := attachmentToModel(att)
			if err != nil {
				return err
			}
			if err := tx.Create(&attModel).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// ListMessages returns a conversation's messages in sequence order.
func (s *GormStore) ListMessages(conversationID string) ([]domain.Message, error) {
	var models []MessageModel
	err := withRetry(func() error {
		return s.db.Where("conversation_id = ?", conversationID).Order("seq ASC").Find(&models).Error
	})
	if err != nil {
		return nil, err
	}
	res := make([]domain.Message, 0, len(models))
	for _, m := range models {
		res = append(res, messageFromModel(m))
	}
	return res, nil
}

// ListAttachments returns attachment metadata grouped by message ID, in
// upload (creation) order within each message.
func (s *GormStore) ListAttachments(messageIDs []string) (map[string][]domain.Attachment, error) {
	out := make(map[string][]domain.Attachment)
	if len(messageIDs) == 0 {
		return out, nil
	}
	var models []AttachmentModel
	err := withRetry(func() error {
		return s.db.Where("message_id IN ?", messageIDs).Order("created_at ASC, id ASC").Find(&models).Error
	})
	if err != nil {
		return nil, err
	}
	for _, m := range models {
		att, err := attachmentFromModel(m)
		if err != nil {
			return nil, err
		}
		out[m.MessageID] = append(out[m.MessageID], att)
	}
	return out, nil
}

// UpdateMessageContent replaces a message's text content.
func (s *GormStore) UpdateMessageContent(messageID, content string) error {
	return withRetry(func() error {
		res := s.db.Model(&MessageModel{}).Where("id = ?", messageID).Update("content", content)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// DeleteMessagesAfter removes messages after seq plus their attachments,
// returning external keys of the removed attachments.
func (s *GormStore) DeleteMessagesAfter(conversationID string, seq int) ([]string, error) {
	var keys []string
	err := withRetry(func() error {
		keys = keys[:0]
		return s.db.Transaction(func(tx *gorm.DB) error {
			var messageIDs []string
			if err := tx.Model(&MessageModel{}).
				Where("conversation_id = ? AND seq > ?", conversationID, seq).
				Pluck("id", &messageIDs).Error; err != nil {
				return err
			}
			if len(messageIDs) == 0 {
				return nil
			}
			if err := tx.Model(&AttachmentModel{}).
				Where("message_id IN ? AND storage_variant = ?", messageIDs, string(domain.StorageExternal)).
				Pluck("object_key", &keys).Error; err != nil {
				return err
			}
			if err := tx.Delete(&AttachmentModel{}, "message_id IN ?", messageIDs).Error; err != nil {
				return err
			}
			return tx.Delete(&MessageModel{}, "id IN ?", messageIDs).Error
		})
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// ListExternalKeys returns every external object key currently referenced.
func (s *GormStore) ListExternalKeys() ([]string, error) {
	var keys []string
	err := withRetry(func() error {
		return s.db.Model(&AttachmentModel{}).
			Where("storage_variant = ?", string(domain.StorageExternal)).
			Pluck("object_key", &keys).Error
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// model conversions

func userToModel(u domain.User) UserModel {
	return UserModel{ID: u.ID, Role: string(u.Role), PasswordHash: u.PasswordHash, CreatedAt: u.CreatedAt}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{ID: m.ID, Role: domain.UserRole(m.Role), PasswordHash: m.PasswordHash, CreatedAt: m.CreatedAt}
}

func assignmentToModel(a domain.Assignment) AssignmentModel {
	return AssignmentModel{ID: a.ID, Name: a.Name, Prompt: a.Prompt, Active: a.Active, CreatedAt: a.CreatedAt, UpdatedAt: a.UpdatedAt}
}

func assignmentFromModel(m AssignmentModel) domain.Assignment {
	return domain.Assignment{ID: m.ID, Name: m.Name, Prompt: m.Prompt, Active: m.Active, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt}
}

func conversationToModel(c domain.Conversation) ConversationModel {
	return ConversationModel{
		ID:               c.ID,
		UserID:           c.UserID,
		Title:            c.Title,
		Model:            c.Model,
		BasePrompt:       c.BasePrompt,
		AssignmentID:     c.AssignmentID,
		AssignmentName:   c.AssignmentName,
		AssignmentPrompt: c.AssignmentPrompt,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}
}

func conversationFromModel(m ConversationModel) domain.Conversation {
	return domain.Conversation{
		ID:               m.ID,
		UserID:           m.UserID,
		Title:            m.Title,
		Model:            m.Model,
		BasePrompt:       m.BasePrompt,
		AssignmentID:     m.AssignmentID,
		AssignmentName:   m.AssignmentName,
		AssignmentPrompt: m.AssignmentPrompt,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func messageToModel(msg domain.Message) MessageModel {
	return MessageModel{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Seq:            msg.Seq,
		Role:           string(msg.Role),
		Content:        msg.Content,
		CreatedAt:      msg.CreatedAt,
	}
}

func messageFromModel(m MessageModel) domain.Message {
	return domain.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Seq:            m.Seq,
		Role:           domain.MessageRole(m.Role),
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
	}
}

func attachmentToModel(att domain.Attachment) (AttachmentModel, error) {
	var meta []byte
	if len(att.Meta) > 0 {
		var err error
		meta, err = json.Marshal(att.Meta)
		if err != nil {
			return AttachmentModel{}, fmt.Errorf("marshal attachment meta: %w", err)
		}
	}
	return AttachmentModel{
		ID:             att.ID,
		MessageID:      att.MessageID,
		Kind:           string(att.Kind),
		Filename:       att.Filename,
		Mime:           att.Mime,
		SizeBytes:      att.SizeBytes,
		StorageVariant: string(att.StorageVariant),
		Data:           att.Data,
		Bucket:         att.Bucket,
		Key:            att.Key,
		TextContent:    att.TextContent,
		Meta:           datatypes.JSON(meta),
		CreatedAt:      att.CreatedAt,
	}, nil
}

func attachmentFromModel(m AttachmentModel) (domain.Attachment, error) {
	var meta map[string]string
	if len(m.Meta) > 0 {
		if err := json.Unmarshal(m.Meta, &meta); err != nil {
			return domain.Attachment{}, fmt.Errorf("unmarshal attachment meta: %w", err)
		}
	}
	return domain.Attachment{
		ID:             m.ID,
		MessageID:      m.MessageID,
		Kind:           domain.AttachmentKind(m.Kind),
		Filename:       m.Filename,
		Mime:           m.Mime,
		SizeBytes:      m.SizeBytes,
		StorageVariant: domain.StorageVariant(m.StorageVariant),
		Data:           m.Data,
		Bucket:         m.Bucket,
		Key:            m.Key,
		TextContent:    m.TextContent,
		Meta:           meta,
		CreatedAt:      m.CreatedAt,
	}, nil
}
