package storage

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var filenameSafeRe = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// SafeFilename strips path components and replaces unsafe characters so the
// original filename can appear in object keys.
func SafeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "file"
	}
	name = strings.ReplaceAll(name, "\\", "/")
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	name = filenameSafeRe.ReplaceAllString(name, "_")
	if name == "" {
		name = "file"
	}
	if len(name) > 180 {
		name = name[:180]
	}
	return name
}

// ObjectKey builds the deterministic per-attachment key
// {conversationID}/{messageID}/{stem}_{filename}. The random stem keeps
// re-uploads of the same filename from colliding.
func ObjectKey(conversationID, messageID, filename string) string {
	stem := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%s/%s/%s_%s", conversationID, messageID, stem, SafeFilename(filename))
}
