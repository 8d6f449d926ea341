package transcript

import (
	"strings"
	"testing"

	"classchat/pkg/domain"
)

func TestRenderLabelsAndOrder(t *testing.T) {
	msgs := []domain.Message{
		{Role: domain.RoleUser, Seq: 1, Content: "what's wrong here"},
		{Role: domain.RoleAssistant, Seq: 2, Content: "Missing a semicolon."},
		{Role: domain.RoleUser, Seq: 3, Content: "thanks"},
	}
	got := Render(msgs)
	want := "User: what's wrong here\n\nAssistant: Missing a semicolon.\n\nUser: thanks\n"
	if got != want {
		t.Fatalf("render = %q, want %q", got, want)
	}
}

func TestRenderSkipsEmptyMessages(t *testing.T) {
	msgs := []domain.Message{
		{Role: domain.RoleUser, Seq: 1, Content: "hi"},
		{Role: domain.RoleAssistant, Seq: 2, Content: ""},
		{Role: domain.RoleUser, Seq: 3, Content: "still there?"},
	}
	got := Render(msgs)
	want := "User: hi\n\nUser: still there?\n"
	if got != want {
		t.Fatalf("render = %q, want %q", got, want)
	}
}

func TestRenderEmptyConversation(t *testing.T) {
	if got := Render(nil); got != "" {
		t.Fatalf("render = %q, want empty string", got)
	}
}

func TestRenderIncludesFoldedDocumentBlocks(t *testing.T) {
	msgs := []domain.Message{
		{Role: domain.RoleUser, Seq: 1, Content: "review this\n\n[Attachment: main.c]\nprintf hello"},
	}
	got := Render(msgs)
	if !strings.Contains(got, "[Attachment: main.c]\nprintf hello") {
		t.Fatalf("document text missing from transcript: %q", got)
	}
}
