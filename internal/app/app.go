// Package app orchestrates classroom chat turns: attachment processing and
// storage, prompt composition, the remote chat call, and persistence of the
// resulting exchange.
package app

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"classchat/internal/attach"
	"classchat/internal/events"
	"classchat/internal/prompt"
	"classchat/internal/ratelimit"
	"classchat/internal/transcript"
	"classchat/internal/util"
	"classchat/pkg/ai"
	"classchat/pkg/domain"
	"classchat/pkg/storage"
	"classchat/pkg/store"
)

// Settings keys in the persistence layer.
const (
	SettingBasePrompt = "base_system_prompt"
)

const (
	titleMaxLen       = 60
	defaultAssignment = "General"
)

// ChatClient is the remote chat API surface the app depends on.
type ChatClient interface {
	Chat(ctx context.Context, model string, messages []ai.ChatMessage) (ai.ChatMessage, error)
	ListModels(ctx context.Context) ([]string, error)
}

// Options wires the app's dependencies. Blobs, Events, and Limiter are
// optional.
type Options struct {
	Store    store.Store
	Sessions store.SessionStore
	Blobs    storage.BlobStore
	Chat     ChatClient
	Events   events.Publisher
	Limiter  *ratelimit.FixedWindowLimiter
	Logger   *slog.Logger

	DefaultModel  string
	AllowedModels []string
}

// App exposes the application operations behind the HTTP surface.
type App struct {
	store    store.Store
	sessions store.SessionStore
	blobs    storage.BlobStore
	resolver *storage.Resolver
	chat     ChatClient
	events   events.Publisher
	limiter  *ratelimit.FixedWindowLimiter
	logger   *slog.Logger

	defaultModel  string
	allowedModels map[string]bool
}

// New validates and assembles the app.
func New(opts Options) (*App, error) {
	if opts.Store == nil {
		return nil, errors.New("app: store required")
	}
	if opts.Sessions == nil {
		return nil, errors.New("app: session store required")
	}
	if opts.Chat == nil {
		return nil, errors.New("app: chat client required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("app: default model required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var allowed map[string]bool
	if len(opts.AllowedModels) > 0 {
		allowed = make(map[string]bool, len(opts.AllowedModels))
		for _, m := range opts.AllowedModels {
			allowed[m] = true
		}
	}
	return &App{
		store:         opts.Store,
		sessions:      opts.Sessions,
		blobs:         opts.Blobs,
		resolver:      storage.NewResolver(opts.Blobs),
		chat:          opts.Chat,
		events:        opts.Events,
		limiter:       opts.Limiter,
		logger:        logger,
		defaultModel:  opts.DefaultModel,
		allowedModels: allowed,
	}, nil
}

// Upload is one raw file from a multipart request.
type Upload struct {
	Filename string
	Mime     string
	Data     []byte
}

// AttachmentIssue reports a per-attachment failure that did not abort the
// turn: an unsupported file, or a blob upload that fell back to inline bytes.
type AttachmentIssue struct {
	Filename string `json:"filename"`
	Reason   string `json:"reason"`
}

// TurnResult is the outcome of one completed user/assistant exchange.
type TurnResult struct {
	Conversation     domain.Conversation `json:"conversation"`
	UserMessage      domain.Message      `json:"userMessage"`
	AssistantMessage domain.Message      `json:"assistantMessage"`
	AttachmentIssues []AttachmentIssue   `json:"attachmentIssues,omitempty"`
}

// SendTurn runs one full turn: ensure the conversation exists, process and
// store uploads, append the user message atomically with its attachments,
// call the chat API, and persist the assistant reply. Attachment failures
// are reported per file and never abort the turn.
func (a *App) SendTurn(ctx context.Context, userID, conversationID, text, model string, uploads []Upload) (TurnResult, error) {
	text = strings.TrimSpace(text)
	if text == "" && len(uploads) == 0 {
		return TurnResult{}, fmt.Errorf("%w: message text or attachments required", ErrValidation)
	}

	conv, err := a.ensureConversation(ctx, userID, conversationID, text, model)
	if err != nil {
		return TurnResult{}, err
	}

	history, err := a.store.ListMessages(conv.ID)
	if err != nil {
		return TurnResult{}, err
	}

	userMsgID := util.NewID()
	atts, imageBytes, issues := a.processUploads(ctx, conv.ID, userMsgID, uploads)

	histImages, err := a.historyImages(ctx, history)
	if err != nil {
		return TurnResult{}, err
	}
	composed := prompt.Compose(conv.BasePrompt, conv.AssignmentPrompt, history, text)
	prompt.AttachHistoryImages(composed, history, histImages)
	wire, err := prompt.BuildWireMessages(composed, atts, imageBytes)
	if err != nil {
		return TurnResult{}, err
	}
	// Persist exactly what goes over the wire so transcripts reproduce it.
	userContent := wire[len(wire)-1].Content

	userMsg, err := a.store.AppendMessage(domain.Message{
		ID:             userMsgID,
		ConversationID: conv.ID,
		Role:           domain.RoleUser,
		Content:        userContent,
		CreatedAt:      time.Now().UTC(),
	}, atts)
	if err != nil {
		return TurnResult{}, err
	}

	reply, err := a.chat.Chat(ctx, conv.Model, wire)
	if err != nil {
		if errors.Is(err, ai.ErrWireProtocol) {
			a.logger.Error("chat api rejected payload",
				"conversationId", conv.ID,
				"error", err,
			)
		}
		return TurnResult{}, err
	}

	assistantMsg, err := a.store.AppendMessage(domain.Message{
		ID:             util.NewID(),
		ConversationID: conv.ID,
		Role:           domain.RoleAssistant,
		Content:        reply.Content,
		CreatedAt:      time.Now().UTC(),
	}, nil)
	if err != nil {
		return TurnResult{}, err
	}

	if err := a.store.TouchConversation(conv.ID, conv.Title, conv.Model, time.Now().UTC()); err != nil {
		a.logger.Warn("touch conversation", "conversationId", conv.ID, "error", err)
	}

	if a.events != nil {
		a.events.PublishTurn(ctx, events.TurnEvent{
			ConversationID: conv.ID,
			UserID:         userID,
			AssignmentID:   conv.AssignmentID,
			Model:          conv.Model,
			UserSeq:        userMsg.Seq,
			AssistantSeq:   assistantMsg.Seq,
			Attachments:    len(atts),
			CompletedAt:    time.Now().UTC(),
		})
	}

	return TurnResult{
		Conversation:     conv,
		UserMessage:      userMsg,
		AssistantMessage: assistantMsg,
		AttachmentIssues: issues,
	}, nil
}

// ensureConversation loads an existing conversation (enforcing ownership) or
// creates one snapshotting the current prompt context and model.
func (a *App) ensureConversation(ctx context.Context, userID, conversationID, firstText, model string) (domain.Conversation, error) {
	if conversationID != "" {
		conv, ok, err := a.store.GetConversation(conversationID)
		if err != nil {
			return domain.Conversation{}, err
		}
		if !ok {
			return domain.Conversation{}, fmt.Errorf("%w: conversation %s", ErrNotFound, conversationID)
		}
		if conv.UserID != userID {
			return domain.Conversation{}, fmt.Errorf("%w: conversation %s", ErrForbidden, conversationID)
		}
		return conv, nil
	}

	if model == "" {
		model = a.defaultModel
	}
	if a.allowedModels != nil && !a.allowedModels[model] {
		return domain.Conversation{}, fmt.Errorf("%w: %s", ErrModelNotAllowed, model)
	}

	basePrompt, _, err := a.store.GetSetting(SettingBasePrompt)
	if err != nil {
		return domain.Conversation{}, err
	}

	conv := domain.Conversation{
		ID:         util.NewID(),
		UserID:     userID,
		Title:      deriveTitle(firstText),
		Model:      model,
		BasePrompt: basePrompt,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	active, ok, err := a.store.GetActiveAssignment()
	if err != nil {
		return domain.Conversation{}, err
	}
	if ok {
		conv.AssignmentID = active.ID
		conv.AssignmentName = active.Name
		conv.AssignmentPrompt = active.Prompt
	}
	if err := a.store.CreateConversation(conv); err != nil {
		return domain.Conversation{}, err
	}
	return conv, nil
}

// processUploads normalizes each upload and moves its bytes to the object
// store when one is configured. Uploads go in parallel; a failed upload falls
// back to inline bytes for that attachment only. Returned image bytes are in
// attachment order.
func (a *App) processUploads(ctx context.Context, conversationID, messageID string, uploads []Upload) ([]domain.Attachment, [][]byte, []AttachmentIssue) {
	var (
		atts   []domain.Attachment
		issues []AttachmentIssue
	)
	for _, up := range uploads {
		att, err := attach.Process(up.Filename, up.Mime, up.Data)
		if err != nil {
			a.logger.Warn("unsupported attachment", "filename", up.Filename, "error", err)
			issues = append(issues, AttachmentIssue{Filename: up.Filename, Reason: err.Error()})
			continue
		}
		att.MessageID = messageID
		atts = append(atts, att)
	}

	// Keep raw bytes for the payload builder before uploads may strip them.
	var imageBytes [][]byte
	for _, att := range atts {
		if att.Kind == domain.KindImage {
			imageBytes = append(imageBytes, att.Data)
		}
	}

	if a.blobs != nil && len(atts) > 0 {
		uploadFailed := make([]bool, len(atts))
		g, gctx := errgroup.WithContext(ctx)
		for i := range atts {
			g.Go(func() error {
				att := &atts[i]
				key := storage.ObjectKey(conversationID, messageID, att.Filename)
				if err := storage.PutBytes(gctx, a.blobs, key, att.Data, att.Mime); err != nil {
					a.logger.Warn("blob upload failed, keeping inline bytes",
						"filename", att.Filename,
						"error", err,
					)
					uploadFailed[i] = true
					return nil
				}
				att.StorageVariant = domain.StorageExternal
				att.Bucket = a.blobs.Bucket()
				att.Key = key
				att.Data = nil
				return nil
			})
		}
		g.Wait()
		for i, failed := range uploadFailed {
			if failed {
				issues = append(issues, AttachmentIssue{Filename: atts[i].Filename, Reason: storage.ErrStorageUnavailable.Error()})
			}
		}
	}
	return atts, imageBytes, issues
}

// historyImages re-encodes the stored image attachments of prior user
// messages so follow-up turns keep their image context. An image whose bytes
// cannot be resolved is skipped with a warning rather than failing the turn.
func (a *App) historyImages(ctx context.Context, history []domain.Message) (map[string][]string, error) {
	ids := make([]string, 0, len(history))
	for _, m := range history {
		if m.Role == domain.RoleUser {
			ids = append(ids, m.ID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	attsByMsg, err := a.store.ListAttachments(ids)
	if err != nil {
		return nil, err
	}
	images := make(map[string][]string)
	for id, atts := range attsByMsg {
		for _, att := range atts {
			if att.Kind != domain.KindImage {
				continue
			}
			data, err := a.resolver.Bytes(ctx, att)
			if err != nil {
				a.logger.Warn("resolve history image",
					"messageId", id,
					"attachmentId", att.ID,
					"error", err,
				)
				continue
			}
			images[id] = append(images[id], base64.StdEncoding.EncodeToString(data))
		}
	}
	return images, nil
}

// GetTranscript renders the plain-text export of a conversation. Students can
// only export their own conversations; admins can export any.
func (a *App) GetTranscript(ctx context.Context, user domain.User, conversationID string) (string, error) {
	conv, ok, err := a.store.GetConversation(conversationID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: conversation %s", ErrNotFound, conversationID)
	}
	if conv.UserID != user.ID && user.Role != domain.RoleAdmin {
		return "", fmt.Errorf("%w: conversation %s", ErrForbidden, conversationID)
	}
	msgs, err := a.store.ListMessages(conversationID)
	if err != nil {
		return "", err
	}
	return transcript.Render(msgs), nil
}

// ListConversations returns the caller's conversation summaries, newest first.
func (a *App) ListConversations(ctx context.Context, userID string) ([]domain.ConversationSummary, error) {
	return a.store.ListConversationsByUser(userID, 0)
}

// ActivePromptContext returns the prompt context a new conversation would
// snapshot right now.
func (a *App) ActivePromptContext(ctx context.Context) (domain.PromptContext, error) {
	basePrompt, _, err := a.store.GetSetting(SettingBasePrompt)
	if err != nil {
		return domain.PromptContext{}, err
	}
	pc := domain.PromptContext{
		BasePrompt: basePrompt,
		ModelName:  a.defaultModel,
	}
	active, ok, err := a.store.GetActiveAssignment()
	if err != nil {
		return domain.PromptContext{}, err
	}
	if ok {
		pc.AssignmentID = active.ID
		pc.AssignmentLabel = active.Name
		pc.AssignmentPrompt = active.Prompt
	}
	return pc, nil
}

// ListModels returns the models the remote API offers, filtered by the
// configured allow-list when one is set.
func (a *App) ListModels(ctx context.Context) ([]string, error) {
	models, err := a.chat.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	if a.allowedModels == nil {
		return models, nil
	}
	filtered := models[:0]
	for _, m := range models {
		if a.allowedModels[m] {
			filtered = append(filtered, m)
		}
	}
	sort.Strings(filtered)
	return filtered, nil
}

// EditAndRegenerate rewrites one of the caller's user messages, drops
// everything after it, and regenerates the assistant reply from the edited
// history.
func (a *App) EditAndRegenerate(ctx context.Context, userID, conversationID, messageID, newText string) (TurnResult, error) {
	newText = strings.TrimSpace(newText)
	if newText == "" {
		return TurnResult{}, fmt.Errorf("%w: message text required", ErrValidation)
	}
	conv, ok, err := a.store.GetConversation(conversationID)
	if err != nil {
		return TurnResult{}, err
	}
	if !ok {
		return TurnResult{}, fmt.Errorf("%w: conversation %s", ErrNotFound, conversationID)
	}
	if conv.UserID != userID {
		return TurnResult{}, fmt.Errorf("%w: conversation %s", ErrForbidden, conversationID)
	}

	msgs, err := a.store.ListMessages(conversationID)
	if err != nil {
		return TurnResult{}, err
	}
	var target domain.Message
	found := false
	for _, m := range msgs {
		if m.ID == messageID {
			target = m
			found = true
			break
		}
	}
	if !found || target.Role != domain.RoleUser {
		return TurnResult{}, fmt.Errorf("%w: user message %s", ErrNotFound, messageID)
	}

	removedKeys, err := a.store.DeleteMessagesAfter(conversationID, target.Seq)
	if err != nil {
		return TurnResult{}, err
	}
	a.deleteBlobs(ctx, removedKeys)

	history, err := a.store.ListMessages(conversationID)
	if err != nil {
		return TurnResult{}, err
	}
	// The edited message is the final user turn; everything before it is
	// history for composition purposes.
	if len(history) == 0 {
		return TurnResult{}, fmt.Errorf("%w: conversation %s has no messages", ErrNotFound, conversationID)
	}
	prior := history[:len(history)-1]

	// The edited message keeps its attachments, so its document text is
	// re-folded and its images are re-attached from stored bytes.
	attsByMsg, err := a.store.ListAttachments([]string{messageID})
	if err != nil {
		return TurnResult{}, err
	}
	targetAtts := attsByMsg[messageID]
	imageBytes := make([][]byte, 0, len(targetAtts))
	for _, att := range targetAtts {
		if att.Kind != domain.KindImage {
			continue
		}
		data, err := a.resolver.Bytes(ctx, att)
		if err != nil {
			return TurnResult{}, err
		}
		imageBytes = append(imageBytes, data)
	}
	histImages, err := a.historyImages(ctx, prior)
	if err != nil {
		return TurnResult{}, err
	}

	composed := prompt.Compose(conv.BasePrompt, conv.AssignmentPrompt, prior, newText)
	prompt.AttachHistoryImages(composed, prior, histImages)
	wire, err := prompt.BuildWireMessages(composed, targetAtts, imageBytes)
	if err != nil {
		return TurnResult{}, err
	}
	// Persist the re-folded content so it still matches the wire form.
	userContent := wire[len(wire)-1].Content
	if err := a.store.UpdateMessageContent(messageID, userContent); err != nil {
		return TurnResult{}, err
	}

	reply, err := a.chat.Chat(ctx, conv.Model, wire)
	if err != nil {
		return TurnResult{}, err
	}
	assistantMsg, err := a.store.AppendMessage(domain.Message{
		ID:             util.NewID(),
		ConversationID: conversationID,
		Role:           domain.RoleAssistant,
		Content:        reply.Content,
		CreatedAt:      time.Now().UTC(),
	}, nil)
	if err != nil {
		return TurnResult{}, err
	}
	if err := a.store.TouchConversation(conv.ID, conv.Title, conv.Model, time.Now().UTC()); err != nil {
		a.logger.Warn("touch conversation", "conversationId", conv.ID, "error", err)
	}

	target.Content = userContent
	return TurnResult{Conversation: conv, UserMessage: target, AssistantMessage: assistantMsg}, nil
}

// deleteBlobs removes external objects best-effort; failures are logged and
// left for the orphan sweep.
func (a *App) deleteBlobs(ctx context.Context, keys []string) {
	if a.blobs == nil {
		return
	}
	for _, key := range keys {
		if err := a.blobs.Delete(ctx, key); err != nil {
			a.logger.Warn("delete blob", "key", key, "error", err)
		}
	}
}

func deriveTitle(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return "New conversation"
	}
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	runes := []rune(text)
	if len(runes) > titleMaxLen {
		return string(runes[:titleMaxLen-1]) + "…"
	}
	return text
}
