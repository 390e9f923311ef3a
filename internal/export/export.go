// Package export renders conversation history for download.
package export

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mycelian/mycelian-chat/internal/model"
)

type Format string

const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "md"
)

// ParseFormat accepts "json", "md" and "markdown"; anything else is an error.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

// Extension returns the file extension without the dot.
func (f Format) Extension() string { return string(f) }

func (f Format) ContentType() string {
	if f == FormatMarkdown {
		return "text/markdown; charset=utf-8"
	}
	return "application/json"
}

// Render formats messages. exportedAt stamps the Markdown header.
func Render(messages []model.Message, f Format, exportedAt time.Time) ([]byte, error) {
	switch f {
	case FormatJSON:
		if messages == nil {
			messages = []model.Message{}
		}
		return json.MarshalIndent(messages, "", "  ")
	case FormatMarkdown:
		return []byte(markdown(messages, exportedAt)), nil
	}
	return nil, fmt.Errorf("unsupported export format %q", f)
}

func markdown(messages []model.Message, exportedAt time.Time) string {
	var b strings.Builder
	b.WriteString("# Chat History\n\n")
	fmt.Fprintf(&b, "*Exported on %s*\n\n", exportedAt.Format("2006-01-02 15:04:05"))
	for _, m := range messages {
		fmt.Fprintf(&b, "## %s\n", titleCase(string(m.Role)))
		if !m.Timestamp.IsZero() {
			fmt.Fprintf(&b, "*%s*\n\n", m.Timestamp.Format(time.RFC3339))
		}
		b.WriteString(m.Content)
		b.WriteString("\n\n---\n\n")
	}
	return b.String()
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

// FromRecords converts stored records to transcript messages.
func FromRecords(recs []model.MemoryRecord) []model.Message {
	out := make([]model.Message, 0, len(recs))
	for _, r := range recs {
		out = append(out, model.Message{Role: r.Role, Content: r.Content, Timestamp: r.CreatedAt})
	}
	return out
}

var (
	invalidFilenameChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	repeatedUnderscores  = regexp.MustCompile(`_+`)
)

// SanitizeFilename replaces characters invalid in file names with "_",
// collapses runs of "_", and trims them from both ends.
func SanitizeFilename(name string) string {
	name = invalidFilenameChars.ReplaceAllString(name, "_")
	name = repeatedUnderscores.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")
	if name == "" {
		return "chat_export"
	}
	return name
}

// NewConversationID returns a random UUIDv4 string.
func NewConversationID() string { return uuid.NewString() }
