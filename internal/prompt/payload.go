package prompt

import (
	"encoding/base64"
	"fmt"
	"strings"

	"classchat/pkg/ai"
	"classchat/pkg/domain"
)

// BuildWireMessages folds the turn's attachments into the last message of a
// composed list. imageBytes supplies the raw bytes for image attachments in
// the same order they appear in attachments (external-store bytes are
// resolved by the caller).
func BuildWireMessages(composed []ai.ChatMessage, attachments []domain.Attachment, imageBytes [][]byte) ([]ai.ChatMessage, error) {
	if len(composed) == 0 {
		return nil, fmt.Errorf("empty message list")
	}
	last := len(composed) - 1
	folded, err := FoldAttachments(composed[last], attachments, imageBytes)
	if err != nil {
		return nil, err
	}
	out := make([]ai.ChatMessage, len(composed))
	copy(out, composed)
	out[last] = folded
	return out, nil
}

// AttachHistoryImages restores the Images side channel on the history portion
// of a composed list. images maps a history message ID to its base64-encoded
// image attachments, in upload order; messages without an entry keep their
// explicit empty list. Document text needs no restoring because it is folded
// into the persisted content.
func AttachHistoryImages(composed []ai.ChatMessage, history []domain.Message, images map[string][]string) {
	// History occupies the slots between the optional system message and the
	// final user turn.
	offset := len(composed) - len(history) - 1
	if offset < 0 {
		return
	}
	for i, m := range history {
		if imgs := images[m.ID]; len(imgs) > 0 {
			composed[offset+i].Images = imgs
		}
	}
}

// FoldAttachments rewrites the final user message for the given attachments:
// document text is appended to the content under a labelled block, image
// bytes go base64-encoded into the Images side channel in upload order. The
// Images list is always non-nil so it serializes as an explicit empty list.
// The returned content is also what gets persisted for the user message, so
// transcripts reproduce exactly what was sent.
func FoldAttachments(msg ai.ChatMessage, attachments []domain.Attachment, imageBytes [][]byte) (ai.ChatMessage, error) {
	images := make([]string, 0, len(attachments))
	var content strings.Builder
	content.WriteString(msg.Content)

	imgIdx := 0
	for _, att := range attachments {
		switch att.Kind {
		case domain.KindImage:
			if imgIdx >= len(imageBytes) {
				return ai.ChatMessage{}, fmt.Errorf("missing bytes for image attachment %s", att.ID)
			}
			images = append(images, base64.StdEncoding.EncodeToString(imageBytes[imgIdx]))
			imgIdx++
		case domain.KindDocument:
			if att.TextContent == "" {
				continue
			}
			content.WriteString("\n\n[Attachment: ")
			content.WriteString(att.Filename)
			content.WriteString("]\n")
			content.WriteString(att.TextContent)
		}
	}

	msg.Content = content.String()
	msg.Images = images
	return msg, nil
}
