// Package transcript renders a conversation's persisted messages as a plain
// text export.
package transcript

import (
	"strings"

	"classchat/pkg/domain"
)

var roleLabels = map[domain.MessageRole]string{
	domain.RoleUser:      "User",
	domain.RoleAssistant: "Assistant",
}

// Render formats messages (already in seq order) as labelled blocks separated
// by a blank line, with a trailing newline. Messages with empty content are
// skipped. Only persisted text appears; image bytes never do, since they are
// not part of message content.
func Render(messages []domain.Message) string {
	var b strings.Builder
	for _, m := range messages {
		if m.Content == "" {
			continue
		}
		label, ok := roleLabels[m.Role]
		if !ok {
			label = string(m.Role)
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}
