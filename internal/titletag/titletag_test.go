package titletag

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	ids := []string{"abc", "3f2a-77b0-11ee-be56", "A1-b2-C3", "0"}
	titles := []string{"", "Short", strings.Repeat("very long title ", 40), "unicode tïtlé ☃"}
	for _, id := range ids {
		for _, title := range titles {
			for _, maxLen := range []int{len(Tag(id)), len(Tag(id)) + 1, 40, 255} {
				if maxLen < len(Tag(id)) {
					continue
				}
				encoded := Encode(title, id, maxLen)
				got, ok := Decode(encoded)
				if !ok {
					t.Fatalf("Decode(%q) found no tag (id=%q title=%q maxLen=%d)", encoded, id, title, maxLen)
				}
				if got != id {
					t.Fatalf("round trip mismatch: got %q, want %q (encoded %q)", got, id, encoded)
				}
			}
		}
	}
}

func TestEncodeLengthBound(t *testing.T) {
	long := strings.Repeat("x", 1000)
	for _, maxLen := range []int{0, 1, 5, 12, 13, 40, 255} {
		encoded := Encode(long, "abc-123", maxLen)
		if got := utf8.RuneCountInString(encoded); got > maxLen {
			t.Fatalf("Encode result %d runes exceeds maxLen %d: %q", got, maxLen, encoded)
		}
	}
}

func TestEncodeTruncatesBodyWithEllipsis(t *testing.T) {
	got := Encode("My long chat title", "abc", 20)
	want := "My lo... [OW_ID:abc]"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestEncodeKeepsShortTitleIntact(t *testing.T) {
	got := Encode("Hello", "abc", 255)
	want := "Hello [OW_ID:abc]"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestEncodeHardTruncatesWithTinyBudget(t *testing.T) {
	// Tag is 12 chars, budget is 2: no room for an ellipsis.
	got := Encode("Hello", "abc", 14)
	want := "He [OW_ID:abc]"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestEncodeDegenerateTagTruncation(t *testing.T) {
	// maxLen smaller than the tag itself: the tag gets cut and no longer
	// decodes. Known limitation, the caller logs it.
	got := Encode("Hello", "abcdefgh", 10)
	if got != " [OW_ID:ab" {
		t.Fatalf("expected truncated tag, got %q", got)
	}
	if _, ok := Decode(got); ok {
		t.Fatalf("truncated tag %q should not decode", got)
	}
}

func TestDecodeRejectsMidStringTag(t *testing.T) {
	if _, ok := Decode("Foo [OW_ID:abc] trailing words"); ok {
		t.Fatalf("mid-string tag must not match")
	}
}

func TestDecodeRejectsMissingLeadingSpace(t *testing.T) {
	if _, ok := Decode("[OW_ID:abc]"); ok {
		t.Fatalf("tag without leading space must not match")
	}
}

func TestDecodeRejectsUnexpectedCharacters(t *testing.T) {
	for _, title := range []string{"Foo [OW_ID:ab_c]", "Foo [OW_ID:]", "Foo", ""} {
		if id, ok := Decode(title); ok {
			t.Fatalf("Decode(%q) unexpectedly matched %q", title, id)
		}
	}
}

func TestDecodeFindsEndAnchoredTag(t *testing.T) {
	id, ok := Decode("Foo [OW_ID:abc]")
	if !ok || id != "abc" {
		t.Fatalf("expected abc, got %q (ok=%v)", id, ok)
	}
}
