// Package titletag encodes an OpenWebUI chat identifier into a Karakeep
// bookmark title and extracts it back out. The tag is the only mapping
// between source chats and destination bookmarks; no mapping table is kept.
package titletag

import "regexp"

const (
	// Prefix and Suffix frame the chat id inside a bookmark title,
	// e.g. "My chat [OW_ID:3f2a-77]".
	Prefix = "[OW_ID:"
	Suffix = "]"

	// DefaultMaxLength is the Karakeep bookmark title limit.
	DefaultMaxLength = 255
)

// Only end-anchored tags count. A tag that ends up mid-string (for example
// after external edits) must not match, otherwise extraction is ambiguous.
var tagPattern = regexp.MustCompile(` \[OW_ID:([a-zA-Z0-9-]+)\]$`)

// Tag returns the identifier tag for id, including the leading space that
// separates it from the title body.
func Tag(id string) string {
	return " " + Prefix + id + Suffix
}

// Encode combines rawTitle with the identifier tag for id so that the result
// never exceeds maxLen characters. The tag is kept intact whenever it fits;
// the title body is what gets truncated, with a trailing "..." when at least
// three characters of budget remain. If the tag alone exceeds maxLen the tag
// itself is cut and the body dropped entirely; a truncated tag no longer
// decodes, so callers should log that case.
func Encode(rawTitle, id string, maxLen int) string {
	tag := Tag(id)
	if len(tag) > maxLen {
		if maxLen <= 0 {
			return ""
		}
		return tag[:maxLen]
	}
	budget := maxLen - len(tag)
	title := []rune(rawTitle)
	if len(title) > budget {
		if budget >= 3 {
			title = append(title[:budget-3:budget-3], '.', '.', '.')
		} else {
			title = title[:budget]
		}
	}
	return string(title) + tag
}

// Decode extracts the chat id from an encoded title. It reports false when
// the title carries no end-anchored identifier tag.
func Decode(title string) (string, bool) {
	match := tagPattern.FindStringSubmatch(title)
	if match == nil {
		return "", false
	}
	return match[1], true
}
