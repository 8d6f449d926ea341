package store

import (
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"classchat/internal/util"
	"classchat/pkg/domain"
)

// MemoryStore keeps everything in-process. It backs tests and local
// development; production uses GormStore.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]domain.User
	settings      map[string]string
	assignments   map[string]domain.Assignment
	assignOrder   []string
	conversations map[string]domain.Conversation
	messages      map[string][]domain.Message    // conversation ID -> ordered messages
	attachments   map[string][]domain.Attachment // message ID -> ordered attachments
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]domain.User),
		settings:      make(map[string]string),
		assignments:   make(map[string]domain.Assignment),
		conversations: make(map[string]domain.Conversation),
		messages:      make(map[string][]domain.Message),
		attachments:   make(map[string][]domain.Attachment),
	}
}

func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	return nil
}

func (m *MemoryStore) GetUser(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) ListUsers() ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		res = append(res, u)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (m *MemoryStore) UserCount() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users), nil
}

func (m *MemoryStore) GetSetting(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.settings[key]
	return v, ok, nil
}

func (m *MemoryStore) SetSetting(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = value
	return nil
}

func (m *MemoryStore) CreateAssignment(a domain.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.assignments[a.ID]; !exists {
		m.assignOrder = append(m.assignOrder, a.ID)
	}
	m.assignments[a.ID] = a
	return nil
}

func (m *MemoryStore) UpdateAssignmentPrompt(id, prompt string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[id]
	if !ok {
		return nil
	}
	a.Prompt = prompt
	a.UpdatedAt = time.Now().UTC()
	m.assignments[id] = a
	return nil
}

func (m *MemoryStore) ListAssignments() ([]domain.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Assignment, 0, len(m.assignOrder))
	for _, id := range m.assignOrder {
		if a, ok := m.assignments[id]; ok {
			res = append(res, a)
		}
	}
	return res, nil
}

func (m *MemoryStore) GetAssignment(id string) (domain.Assignment, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assignments[id]
	return a, ok, nil
}

func (m *MemoryStore) GetActiveAssignment() (domain.Assignment, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.assignments {
		if a.Active {
			return a, true, nil
		}
	}
	return domain.Assignment{}, false, nil
}

func (m *MemoryStore) SetActiveAssignment(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	for key, prev := range m.assignments {
		if prev.Active {
			prev.Active = false
			m.assignments[key] = prev
		}
	}
	a.Active = true
	a.UpdatedAt = time.Now().UTC()
	m.assignments[id] = a
	return nil
}

func (m *MemoryStore) CreateConversation(c domain.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[c.ID] = c
	return nil
}

func (m *MemoryStore) GetConversation(id string) (domain.Conversation, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[id]
	return c, ok, nil
}

func (m *MemoryStore) TouchConversation(id, title, model string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return nil
	}
	if title != "" {
		c.Title = title
	}
	if model != "" {
		c.Model = model
	}
	c.UpdatedAt = at.UTC()
	m.conversations[id] = c
	return nil
}

func (m *MemoryStore) summarize(c domain.Conversation) domain.ConversationSummary {
	return domain.ConversationSummary{
		ID:             c.ID,
		UserID:         c.UserID,
		Title:          c.Title,
		Model:          c.Model,
		AssignmentName: c.AssignmentName,
		MessageCount:   len(m.messages[c.ID]),
		UpdatedAt:      c.UpdatedAt,
	}
}

func (m *MemoryStore) ListConversationsByUser(userID string, limit int) ([]domain.ConversationSummary, error) {
	if limit <= 0 {
		limit = 200
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.ConversationSummary
	for _, c := range m.conversations {
		if c.UserID == userID {
			res = append(res, m.summarize(c))
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].UpdatedAt.After(res[j].UpdatedAt) })
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (m *MemoryStore) ListConversationsAdmin(f ConversationFilter) ([]domain.ConversationSummary, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 300
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.ConversationSummary
	for _, c := range m.conversations {
		if f.UserID != "" && c.UserID != f.UserID {
			continue
		}
		if f.AssignmentID != "" && c.AssignmentID != f.AssignmentID {
			continue
		}
		if f.Model != "" && c.Model != f.Model {
			continue
		}
		res = append(res, m.summarize(c))
	}
	sort.Slice(res, func(i, j int) bool { return res[i].UpdatedAt.After(res[j].UpdatedAt) })
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (m *MemoryStore) DeleteConversation(id string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for _, msg := range m.messages[id] {
		for _, att := range m.attachments[msg.ID] {
			if att.StorageVariant == domain.StorageExternal {
				keys = append(keys, att.Key)
			}
		}
		delete(m.attachments, msg.ID)
	}
	delete(m.messages, id)
	delete(m.conversations, id)
	return keys, nil
}

func (m *MemoryStore) AppendMessage(msg domain.Message, atts []domain.Attachment) (domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing := m.messages[msg.ConversationID]
	maxSeq := 0
	for _, prev := range existing {
		if prev.Seq > maxSeq {
			maxSeq = prev.Seq
		}
	}
	msg.Seq = maxSeq + 1
	m.messages[msg.ConversationID] = append(existing, msg)
	for _, att := range atts {
		att.MessageID = msg.ID
		m.attachments[msg.ID] = append(m.attachments[msg.ID], att)
	}
	return msg, nil
}

func (m *MemoryStore) ListMessages(conversationID string) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.messages[conversationID]
	res := make([]domain.Message, len(msgs))
	copy(res, msgs)
	sort.Slice(res, func(i, j int) bool { return res[i].Seq < res[j].Seq })
	return res, nil
}

func (m *MemoryStore) ListAttachments(messageIDs []string) (map[string][]domain.Attachment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]domain.Attachment)
	for _, id := range messageIDs {
		if atts := m.attachments[id]; len(atts) > 0 {
			cp := make([]domain.Attachment, len(atts))
			copy(cp, atts)
			out[id] = cp
		}
	}
	return out, nil
}

func (m *MemoryStore) UpdateMessageContent(messageID, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for convID, msgs := range m.messages {
		for i, msg := range msgs {
			if msg.ID == messageID {
				msgs[i].Content = content
				m.messages[convID] = msgs
				return nil
			}
		}
	}
	return nil
}

func (m *MemoryStore) DeleteMessagesAfter(conversationID string, seq int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []domain.Message
	var keys []string
	for _, msg := range m.messages[conversationID] {
		if msg.Seq <= seq {
			kept = append(kept, msg)
			continue
		}
		for _, att := range m.attachments[msg.ID] {
			if att.StorageVariant == domain.StorageExternal {
				keys = append(keys, att.Key)
			}
		}
		delete(m.attachments, msg.ID)
	}
	m.messages[conversationID] = kept
	return keys, nil
}

func (m *MemoryStore) ListExternalKeys() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for _, atts := range m.attachments {
		for _, att := range atts {
			if att.StorageVariant == domain.StorageExternal {
				keys = append(keys, att.Key)
			}
		}
	}
	sort.Strings(keys)
	return keys, nil
}

var _ Store = (*MemoryStore)(nil)

// memory session store, for tests and single-process setups

// MemorySessionStore keeps session tokens in-process.
type MemorySessionStore struct {
	mu   sync.RWMutex
	sess map[string]string
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sess: make(map[string]string)}
}

func (m *MemorySessionStore) NewSession(userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token := util.NewID()
	m.sess[token] = userID
	return token, nil
}

func (m *MemorySessionStore) GetUserIDByToken(token string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.sess[token]
	return id, ok, nil
}

func (m *MemorySessionStore) DeleteSession(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sess, token)
	return nil
}
