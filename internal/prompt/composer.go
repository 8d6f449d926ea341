// Package prompt builds the message list sent to the chat API: a composed
// system prompt, the persisted history, and the new user turn with its
// attachments folded in.
package prompt

import (
	"classchat/pkg/ai"
	"classchat/pkg/domain"
)

// systemDelimiter joins the base prompt and the assignment prompt.
const systemDelimiter = "\n\n"

// Compose assembles the ordered message list for one turn. The system message
// is the base prompt followed by the assignment prompt when one is set;
// history must already be in seq order. No truncation happens here.
func Compose(basePrompt, assignmentPrompt string, history []domain.Message, userText string) []ai.ChatMessage {
	msgs := make([]ai.ChatMessage, 0, len(history)+2)

	system := basePrompt
	if assignmentPrompt != "" {
		if system != "" {
			system += systemDelimiter
		}
		system += assignmentPrompt
	}
	if system != "" {
		msgs = append(msgs, ai.ChatMessage{Role: "system", Content: system, Images: []string{}})
	}

	for _, m := range history {
		msgs = append(msgs, ai.ChatMessage{Role: string(m.Role), Content: m.Content, Images: []string{}})
	}

	msgs = append(msgs, ai.ChatMessage{Role: string(domain.RoleUser), Content: userText, Images: []string{}})
	return msgs
}
