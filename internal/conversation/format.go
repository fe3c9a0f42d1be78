// Package conversation renders the message history stored in an OpenWebUI
// chat JSON document as a readable markdown transcript.
package conversation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// millisecondThreshold separates epoch seconds from epoch milliseconds.
// Values above it would be past year 2065 if read as seconds, so they are
// assumed to be milliseconds. Ambiguous near the threshold; intentionally
// kept as-is.
const millisecondThreshold = 3_000_000_000

const missingTimestamp = "Timestamp N/A"

// Message is one entry of a chat document's "messages" array. Timestamp is
// kept raw because the source stores it inconsistently: absent, a number in
// seconds, a number in milliseconds, or occasionally something else
// entirely. Each shape degrades to a display string on its own.
type Message struct {
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

type chatDocument struct {
	Messages []Message `json:"messages"`
}

// ParseChat decodes the serialized chat column into its message list.
func ParseChat(raw []byte) ([]Message, error) {
	var doc chatDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc.Messages, nil
}

// Logger matches the subset of *log.Logger the formatter needs.
type Logger interface {
	Printf(format string, args ...any)
}

// Formatter renders messages. The zero value is usable; Logger may be nil.
type Formatter struct {
	Logger Logger
}

// Format renders messages in input order as
// "**Role** (Timestamp):\nContent\n\n---\n\n" entries, trimming trailing
// whitespace from the result. It never fails: a nil message list yields an
// empty string and a logged warning, and malformed timestamps degrade to
// placeholder text per message.
func (f Formatter) Format(messages []Message) string {
	if messages == nil {
		f.logf("warning: no message list to format")
		return ""
	}
	var b strings.Builder
	for _, msg := range messages {
		role := msg.Role
		if role == "" {
			role = "Unknown"
		}
		fmt.Fprintf(&b, "**%s** (%s):\n%s\n\n---\n\n", capitalize(role), f.displayTimestamp(msg.Timestamp), msg.Content)
	}
	return strings.TrimSpace(b.String())
}

// displayTimestamp resolves a raw timestamp value to display text. Numbers
// above millisecondThreshold are divided down to seconds before formatting
// as UTC. Anything non-numeric is shown as-is with a warning rather than
// failing the whole transcript.
func (f Formatter) displayTimestamp(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return missingTimestamp
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err == nil {
		epoch, err := num.Float64()
		if err != nil {
			f.logf("warning: could not format timestamp value %s: %v", num, err)
			return "Epoch: " + num.String()
		}
		if epoch > millisecondThreshold {
			epoch /= 1000.0
		}
		return time.Unix(int64(epoch), 0).UTC().Format("2006-01-02 15:04:05 MST")
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		f.logf("warning: unexpected string timestamp in message: %q", text)
		return text
	}
	f.logf("warning: unexpected timestamp shape in message: %s", trimmed)
	return trimmed
}

func (f Formatter) logf(format string, args ...any) {
	if f.Logger == nil {
		return
	}
	f.Logger.Printf(format, args...)
}

// capitalize upper-cases the first rune and lower-cases the rest, so both
// "user" and "ASSISTANT" render as display roles.
func capitalize(s string) string {
	runes := []rune(strings.ToLower(s))
	if len(runes) == 0 {
		return s
	}
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
