package app

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"classchat/pkg/ai"
	"classchat/pkg/domain"
	"classchat/pkg/storage"
	"classchat/pkg/store"
)

// fakeChat records the last request and replies with a canned message.
type fakeChat struct {
	mu       sync.Mutex
	lastWire []ai.ChatMessage
	reply    string
	err      error
	models   []string
}

func (f *fakeChat) Chat(ctx context.Context, model string, messages []ai.ChatMessage) (ai.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastWire = append([]ai.ChatMessage(nil), messages...)
	if f.err != nil {
		return ai.ChatMessage{}, f.err
	}
	reply := f.reply
	if reply == "" {
		reply = "ok"
	}
	return ai.ChatMessage{Role: "assistant", Content: reply, Images: []string{}}, nil
}

func (f *fakeChat) ListModels(ctx context.Context) ([]string, error) {
	return f.models, nil
}

// fakeBlobStore keeps objects in memory; failPut simulates an outage.
type fakeBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	failPut bool
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: map[string][]byte{}}
}

func (f *fakeBlobStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if f.failPut {
		return fmt.Errorf("%w: put %s", storage.ErrStorageUnavailable, key)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return nil
}

func (f *fakeBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: get %s", storage.ErrStorageUnavailable, key)
	}
	return data, nil
}

func (f *fakeBlobStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *fakeBlobStore) List(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	return keys, nil
}

func (f *fakeBlobStore) Bucket() string { return "test-bucket" }

type appFixture struct {
	app   *App
	store *store.MemoryStore
	chat  *fakeChat
	blobs *fakeBlobStore
}

func newTestApp(t *testing.T, blobs *fakeBlobStore) appFixture {
	t.Helper()
	st := store.NewMemoryStore()
	chat := &fakeChat{}
	opts := Options{
		Store:        st,
		Sessions:     store.NewMemorySessionStore(),
		Chat:         chat,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		DefaultModel: "llama3",
	}
	if blobs != nil {
		opts.Blobs = blobs
	}
	a, err := New(opts)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return appFixture{app: a, store: st, chat: chat, blobs: blobs}
}

func seedPrompts(t *testing.T, f appFixture) domain.Assignment {
	t.Helper()
	ctx := context.Background()
	if err := f.app.SetBasePrompt(ctx, "You are a TA."); err != nil {
		t.Fatalf("set base prompt: %v", err)
	}
	assignment, err := f.app.CreateAssignment(ctx, "Python Lab", "Grade in Python.")
	if err != nil {
		t.Fatalf("create assignment: %v", err)
	}
	if err := f.app.ActivateAssignment(ctx, assignment.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	return assignment
}

func TestSendTurnComposesSystemPromptAndSnapshots(t *testing.T) {
	f := newTestApp(t, nil)
	assignment := seedPrompts(t, f)
	ctx := context.Background()

	res, err := f.app.SendTurn(ctx, "alice", "", "hi", "", nil)
	if err != nil {
		t.Fatalf("send turn: %v", err)
	}

	wire := f.chat.lastWire
	if len(wire) != 2 {
		t.Fatalf("wire message count = %d, want system+user", len(wire))
	}
	if wire[0].Role != "system" || wire[0].Content != "You are a TA.\n\nGrade in Python." {
		t.Fatalf("system message = %+v", wire[0])
	}
	if wire[1].Content != "hi" || len(wire[1].Images) != 0 || wire[1].Images == nil {
		t.Fatalf("user message = %+v", wire[1])
	}

	conv := res.Conversation
	if conv.BasePrompt != "You are a TA." || conv.AssignmentID != assignment.ID || conv.AssignmentPrompt != "Grade in Python." {
		t.Fatalf("conversation snapshot = %+v", conv)
	}
	if conv.Model != "llama3" {
		t.Fatalf("model = %q, want default", conv.Model)
	}
	if res.UserMessage.Seq != 1 || res.AssistantMessage.Seq != 2 {
		t.Fatalf("seqs = %d/%d, want 1/2", res.UserMessage.Seq, res.AssistantMessage.Seq)
	}
}

func TestSendTurnSecondMessageCarriesHistory(t *testing.T) {
	f := newTestApp(t, nil)
	seedPrompts(t, f)
	ctx := context.Background()
	f.chat.reply = "first reply"

	res, err := f.app.SendTurn(ctx, "alice", "", "first question", "", nil)
	if err != nil {
		t.Fatalf("first turn: %v", err)
	}
	f.chat.reply = "second reply"
	if _, err := f.app.SendTurn(ctx, "alice", res.Conversation.ID, "follow-up", "", nil); err != nil {
		t.Fatalf("second turn: %v", err)
	}

	wire := f.chat.lastWire
	contents := make([]string, len(wire))
	for i, m := range wire {
		contents[i] = m.Content
	}
	want := []string{"You are a TA.\n\nGrade in Python.", "first question", "first reply", "follow-up"}
	if len(contents) != len(want) {
		t.Fatalf("wire = %v, want %v", contents, want)
	}
	for i := range want {
		if contents[i] != want[i] {
			t.Fatalf("wire[%d] = %q, want %q", i, contents[i], want[i])
		}
	}
}

func TestSendTurnFoldsDocumentText(t *testing.T) {
	f := newTestApp(t, nil)
	seedPrompts(t, f)
	ctx := context.Background()

	uploads := []Upload{{Filename: "filename.txt", Mime: "text/plain", Data: []byte("printf hello")}}
	res, err := f.app.SendTurn(ctx, "alice", "", "what's wrong here", "", uploads)
	if err != nil {
		t.Fatalf("send turn: %v", err)
	}

	wantContent := "what's wrong here\n\n[Attachment: filename.txt]\nprintf hello"
	last := f.chat.lastWire[len(f.chat.lastWire)-1]
	if last.Content != wantContent {
		t.Fatalf("wire content = %q, want %q", last.Content, wantContent)
	}
	if len(last.Images) != 0 {
		t.Fatalf("document leaked into images: %#v", last.Images)
	}
	// Persisted content matches what went over the wire.
	if res.UserMessage.Content != wantContent {
		t.Fatalf("persisted content = %q, want wire content", res.UserMessage.Content)
	}
}

func TestSendTurnImageSideChannel(t *testing.T) {
	f := newTestApp(t, nil)
	seedPrompts(t, f)
	ctx := context.Background()

	uploads := []Upload{{Filename: "shot.png", Mime: "image/png", Data: []byte{1, 2, 3}}}
	if _, err := f.app.SendTurn(ctx, "alice", "", "see image", "", uploads); err != nil {
		t.Fatalf("send turn: %v", err)
	}
	last := f.chat.lastWire[len(f.chat.lastWire)-1]
	if len(last.Images) != 1 {
		t.Fatalf("images = %d, want 1", len(last.Images))
	}
	if last.Content != "see image" {
		t.Fatalf("content = %q, image must not alter text", last.Content)
	}
}

func TestSendTurnResendsHistoryImages(t *testing.T) {
	blobs := newFakeBlobStore()
	f := newTestApp(t, blobs)
	seedPrompts(t, f)
	ctx := context.Background()

	png := []byte{0x89, 0x50, 0x4e, 0x47, 1, 2, 3}
	uploads := []Upload{{Filename: "shot.png", Mime: "image/png", Data: png}}
	res, err := f.app.SendTurn(ctx, "alice", "", "what is in this image", "", uploads)
	if err != nil {
		t.Fatalf("first turn: %v", err)
	}
	if _, err := f.app.SendTurn(ctx, "alice", res.Conversation.ID, "what color is it", "", nil); err != nil {
		t.Fatalf("follow-up turn: %v", err)
	}

	wire := f.chat.lastWire
	if len(wire) != 4 {
		t.Fatalf("wire message count = %d, want system+user+assistant+user", len(wire))
	}
	// The first user turn went external; the follow-up must re-send its
	// stored image bytes, not an empty list.
	histUser := wire[1]
	if len(histUser.Images) != 1 {
		t.Fatalf("history user message images = %d, want 1", len(histUser.Images))
	}
	if histUser.Images[0] != base64.StdEncoding.EncodeToString(png) {
		t.Fatalf("history image differs from the stored upload bytes")
	}
	if len(wire[2].Images) != 0 || wire[2].Images == nil {
		t.Fatalf("assistant message images = %#v, want explicit empty list", wire[2].Images)
	}
	if len(wire[3].Images) != 0 || wire[3].Images == nil {
		t.Fatalf("new user message images = %#v, want explicit empty list", wire[3].Images)
	}
}

func TestSendTurnResendsInlineHistoryImages(t *testing.T) {
	f := newTestApp(t, nil)
	seedPrompts(t, f)
	ctx := context.Background()

	png := []byte{5, 6, 7}
	res, err := f.app.SendTurn(ctx, "alice", "", "see image", "", []Upload{{Filename: "a.png", Mime: "image/png", Data: png}})
	if err != nil {
		t.Fatalf("first turn: %v", err)
	}
	if _, err := f.app.SendTurn(ctx, "alice", res.Conversation.ID, "follow-up", "", nil); err != nil {
		t.Fatalf("follow-up turn: %v", err)
	}
	histUser := f.chat.lastWire[1]
	if len(histUser.Images) != 1 || histUser.Images[0] != base64.StdEncoding.EncodeToString(png) {
		t.Fatalf("inline history image not re-sent: %#v", histUser.Images)
	}
}

func TestSendTurnBlobUploadMovesBytesExternal(t *testing.T) {
	blobs := newFakeBlobStore()
	f := newTestApp(t, blobs)
	seedPrompts(t, f)
	ctx := context.Background()

	uploads := []Upload{{Filename: "shot.png", Mime: "image/png", Data: []byte{9, 9, 9}}}
	res, err := f.app.SendTurn(ctx, "alice", "", "look", "", uploads)
	if err != nil {
		t.Fatalf("send turn: %v", err)
	}
	atts, err := f.store.ListAttachments([]string{res.UserMessage.ID})
	if err != nil {
		t.Fatalf("list attachments: %v", err)
	}
	att := atts[res.UserMessage.ID][0]
	if att.StorageVariant != domain.StorageExternal {
		t.Fatalf("variant = %s, want external", att.StorageVariant)
	}
	if len(att.Data) != 0 {
		t.Fatalf("inline bytes kept alongside external key")
	}
	wantPrefix := res.Conversation.ID + "/" + res.UserMessage.ID + "/"
	if !strings.HasPrefix(att.Key, wantPrefix) {
		t.Fatalf("key = %q, want prefix %q", att.Key, wantPrefix)
	}
	if _, ok := blobs.objects[att.Key]; !ok {
		t.Fatalf("object not stored under key %q", att.Key)
	}
}

func TestSendTurnBlobFailureFallsBackInline(t *testing.T) {
	blobs := newFakeBlobStore()
	blobs.failPut = true
	f := newTestApp(t, blobs)
	seedPrompts(t, f)
	ctx := context.Background()

	uploads := []Upload{{Filename: "shot.png", Mime: "image/png", Data: []byte{7, 7}}}
	res, err := f.app.SendTurn(ctx, "alice", "", "look", "", uploads)
	if err != nil {
		t.Fatalf("turn must complete despite blob outage: %v", err)
	}
	atts, _ := f.store.ListAttachments([]string{res.UserMessage.ID})
	att := atts[res.UserMessage.ID][0]
	if att.StorageVariant != domain.StorageInline {
		t.Fatalf("variant = %s, want inline fallback", att.StorageVariant)
	}
	if len(att.Data) != 2 {
		t.Fatalf("inline bytes missing after fallback")
	}
	if len(res.AttachmentIssues) != 1 || !strings.Contains(res.AttachmentIssues[0].Reason, "unavailable") {
		t.Fatalf("issues = %+v, want storage unavailable report", res.AttachmentIssues)
	}
}

func TestSendTurnUnsupportedAttachmentDoesNotAbort(t *testing.T) {
	f := newTestApp(t, nil)
	seedPrompts(t, f)
	ctx := context.Background()

	uploads := []Upload{
		{Filename: "tool.exe", Mime: "application/octet-stream", Data: []byte{0x4d, 0x5a}},
		{Filename: "notes.txt", Mime: "text/plain", Data: []byte("fine")},
	}
	res, err := f.app.SendTurn(ctx, "alice", "", "mixed bag", "", uploads)
	if err != nil {
		t.Fatalf("send turn: %v", err)
	}
	if len(res.AttachmentIssues) != 1 || res.AttachmentIssues[0].Filename != "tool.exe" {
		t.Fatalf("issues = %+v, want tool.exe reported", res.AttachmentIssues)
	}
	atts, _ := f.store.ListAttachments([]string{res.UserMessage.ID})
	if len(atts[res.UserMessage.ID]) != 1 {
		t.Fatalf("attachment count = %d, want the supported one only", len(atts[res.UserMessage.ID]))
	}
}

func TestSendTurnOwnership(t *testing.T) {
	f := newTestApp(t, nil)
	seedPrompts(t, f)
	ctx := context.Background()

	res, err := f.app.SendTurn(ctx, "alice", "", "mine", "", nil)
	if err != nil {
		t.Fatalf("send turn: %v", err)
	}
	if _, err := f.app.SendTurn(ctx, "bob", res.Conversation.ID, "not mine", "", nil); !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
	if _, err := f.app.SendTurn(ctx, "alice", "missing", "hello", "", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSendTurnRejectsEmptyInput(t *testing.T) {
	f := newTestApp(t, nil)
	if _, err := f.app.SendTurn(context.Background(), "alice", "", "   ", "", nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestSendTurnModelAllowList(t *testing.T) {
	st := store.NewMemoryStore()
	a, err := New(Options{
		Store:         st,
		Sessions:      store.NewMemorySessionStore(),
		Chat:          &fakeChat{models: []string{"llama3", "mystery"}},
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		DefaultModel:  "llama3",
		AllowedModels: []string{"llama3"},
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	ctx := context.Background()
	if _, err := a.SendTurn(ctx, "alice", "", "hi", "mystery", nil); !errors.Is(err, ErrModelNotAllowed) {
		t.Fatalf("err = %v, want ErrModelNotAllowed", err)
	}
	models, err := a.ListModels(ctx)
	if err != nil {
		t.Fatalf("list models: %v", err)
	}
	if len(models) != 1 || models[0] != "llama3" {
		t.Fatalf("models = %v, want allow-list applied", models)
	}
}

func TestGetTranscriptAccess(t *testing.T) {
	f := newTestApp(t, nil)
	seedPrompts(t, f)
	ctx := context.Background()
	f.chat.reply = "Missing a semicolon."

	res, err := f.app.SendTurn(ctx, "alice", "", "what's wrong here", "", nil)
	if err != nil {
		t.Fatalf("send turn: %v", err)
	}

	owner := domain.User{ID: "alice", Role: domain.RoleStudent}
	text, err := f.app.GetTranscript(ctx, owner, res.Conversation.ID)
	if err != nil {
		t.Fatalf("transcript: %v", err)
	}
	want := "User: what's wrong here\n\nAssistant: Missing a semicolon.\n"
	if text != want {
		t.Fatalf("transcript = %q, want %q", text, want)
	}

	if _, err := f.app.GetTranscript(ctx, domain.User{ID: "bob", Role: domain.RoleStudent}, res.Conversation.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden for other student", err)
	}
	if _, err := f.app.GetTranscript(ctx, domain.User{ID: "teach", Role: domain.RoleAdmin}, res.Conversation.ID); err != nil {
		t.Fatalf("admin transcript: %v", err)
	}
}

func TestLoginAndSessionLifecycle(t *testing.T) {
	f := newTestApp(t, nil)
	ctx := context.Background()
	if _, err := f.app.CreateUser(ctx, "alice", "s3cret-pw", domain.RoleStudent); err != nil {
		t.Fatalf("create user: %v", err)
	}

	if _, _, err := f.app.Login(ctx, "alice", "wrong", "ip-1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	token, user, err := f.app.Login(ctx, "alice", "s3cret-pw", "ip-1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if user.ID != "alice" {
		t.Fatalf("user = %+v", user)
	}
	got, err := f.app.UserByToken(ctx, token)
	if err != nil || got.ID != "alice" {
		t.Fatalf("user by token = %+v, %v", got, err)
	}
	if err := f.app.Logout(ctx, token); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := f.app.UserByToken(ctx, token); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized after logout", err)
	}
}

func TestBootstrapProvisionsAdminAndDefaultAssignment(t *testing.T) {
	f := newTestApp(t, nil)
	ctx := context.Background()

	if err := f.app.Bootstrap(ctx, "teach", "first-admin-pw"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	admin, ok, err := f.store.GetUser("teach")
	if err != nil || !ok || admin.Role != domain.RoleAdmin {
		t.Fatalf("admin = %+v ok=%v err=%v", admin, ok, err)
	}
	active, ok, err := f.store.GetActiveAssignment()
	if err != nil || !ok || active.Name != "General" {
		t.Fatalf("active assignment = %+v ok=%v err=%v", active, ok, err)
	}

	// Re-running must not duplicate anything.
	if err := f.app.Bootstrap(ctx, "teach", "first-admin-pw"); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	users, _ := f.store.ListUsers()
	if len(users) != 1 {
		t.Fatalf("user count = %d after re-bootstrap", len(users))
	}
	assignments, _ := f.store.ListAssignments()
	if len(assignments) != 1 {
		t.Fatalf("assignment count = %d after re-bootstrap", len(assignments))
	}
}

func TestEditAndRegenerateTruncatesAndReplies(t *testing.T) {
	f := newTestApp(t, nil)
	seedPrompts(t, f)
	ctx := context.Background()

	f.chat.reply = "old answer"
	res, err := f.app.SendTurn(ctx, "alice", "", "original question", "", nil)
	if err != nil {
		t.Fatalf("first turn: %v", err)
	}
	if _, err := f.app.SendTurn(ctx, "alice", res.Conversation.ID, "second question", "", nil); err != nil {
		t.Fatalf("second turn: %v", err)
	}

	f.chat.reply = "new answer"
	edited, err := f.app.EditAndRegenerate(ctx, "alice", res.Conversation.ID, res.UserMessage.ID, "edited question")
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if edited.AssistantMessage.Content != "new answer" {
		t.Fatalf("assistant = %q", edited.AssistantMessage.Content)
	}

	msgs, err := f.store.ListMessages(res.Conversation.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("message count = %d, want edited user + new assistant", len(msgs))
	}
	if msgs[0].Content != "edited question" || msgs[1].Content != "new answer" {
		t.Fatalf("messages = %q / %q", msgs[0].Content, msgs[1].Content)
	}
}

func TestEditAndRegenerateKeepsAttachmentContext(t *testing.T) {
	f := newTestApp(t, nil)
	seedPrompts(t, f)
	ctx := context.Background()

	png := []byte{1, 2, 3}
	uploads := []Upload{
		{Filename: "notes.txt", Mime: "text/plain", Data: []byte("printf hello")},
		{Filename: "shot.png", Mime: "image/png", Data: png},
	}
	res, err := f.app.SendTurn(ctx, "alice", "", "first question", "", uploads)
	if err != nil {
		t.Fatalf("first turn: %v", err)
	}

	edited, err := f.app.EditAndRegenerate(ctx, "alice", res.Conversation.ID, res.UserMessage.ID, "edited question")
	if err != nil {
		t.Fatalf("edit: %v", err)
	}

	wantContent := "edited question\n\n[Attachment: notes.txt]\nprintf hello"
	last := f.chat.lastWire[len(f.chat.lastWire)-1]
	if last.Content != wantContent {
		t.Fatalf("wire content = %q, want document re-folded into %q", last.Content, wantContent)
	}
	if len(last.Images) != 1 || last.Images[0] != base64.StdEncoding.EncodeToString(png) {
		t.Fatalf("edited message images = %#v, want the stored image re-attached", last.Images)
	}
	if edited.UserMessage.Content != wantContent {
		t.Fatalf("persisted content = %q, want wire content", edited.UserMessage.Content)
	}
	msgs, err := f.store.ListMessages(res.Conversation.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if msgs[0].Content != wantContent {
		t.Fatalf("stored content = %q, want wire content", msgs[0].Content)
	}
}

func TestDeleteConversationRemovesBlobs(t *testing.T) {
	blobs := newFakeBlobStore()
	f := newTestApp(t, blobs)
	seedPrompts(t, f)
	ctx := context.Background()

	uploads := []Upload{{Filename: "shot.png", Mime: "image/png", Data: []byte{1}}}
	res, err := f.app.SendTurn(ctx, "alice", "", "look", "", uploads)
	if err != nil {
		t.Fatalf("send turn: %v", err)
	}
	if len(blobs.objects) != 1 {
		t.Fatalf("object count = %d before delete", len(blobs.objects))
	}
	if err := f.app.DeleteConversation(ctx, res.Conversation.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(blobs.objects) != 0 {
		t.Fatalf("blobs left behind: %v", blobs.objects)
	}
	if _, ok, _ := f.store.GetConversation(res.Conversation.ID); ok {
		t.Fatalf("conversation still present")
	}
}

func TestSweepOrphansRemovesUnreferencedOnly(t *testing.T) {
	blobs := newFakeBlobStore()
	f := newTestApp(t, blobs)
	seedPrompts(t, f)
	ctx := context.Background()

	uploads := []Upload{{Filename: "keep.png", Mime: "image/png", Data: []byte{1}}}
	if _, err := f.app.SendTurn(ctx, "alice", "", "keep this", "", uploads); err != nil {
		t.Fatalf("send turn: %v", err)
	}
	blobs.objects["orphaned/key"] = []byte{9}

	removed, err := f.app.SweepOrphans(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, ok := blobs.objects["orphaned/key"]; ok {
		t.Fatalf("orphan survived the sweep")
	}
	if len(blobs.objects) != 1 {
		t.Fatalf("referenced blob was removed: %v", blobs.objects)
	}
}

func TestActivePromptContext(t *testing.T) {
	f := newTestApp(t, nil)
	assignment := seedPrompts(t, f)
	pc, err := f.app.ActivePromptContext(context.Background())
	if err != nil {
		t.Fatalf("prompt context: %v", err)
	}
	if pc.BasePrompt != "You are a TA." || pc.AssignmentID != assignment.ID || pc.AssignmentPrompt != "Grade in Python." {
		t.Fatalf("prompt context = %+v", pc)
	}
	if pc.ModelName != "llama3" {
		t.Fatalf("model = %q", pc.ModelName)
	}
}
