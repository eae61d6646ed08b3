package chunker

import (
	"strings"
	"testing"
)

func TestSplitEmpty(t *testing.T) {
	c := New(512, 64)
	if got := c.Split(""); len(got) != 0 {
		t.Errorf("expected no chunks for empty input, got %d", len(got))
	}
	if got := c.Split("   \n\t  "); len(got) != 0 {
		t.Errorf("expected no chunks for whitespace input, got %d", len(got))
	}
}

func TestSplitShortText(t *testing.T) {
	c := New(512, 64)
	got := c.Split("  hello world  ")
	if len(got) != 1 {
		t.Fatalf("expected one chunk, got %d", len(got))
	}
	if got[0] != "hello world" {
		t.Errorf("expected trimmed text, got %q", got[0])
	}
}

func TestSplitOverlap(t *testing.T) {
	c := New(10, 3)
	text := strings.Repeat("abcdefghij", 3)
	got := c.Split(text)

	if len(got) < 3 {
		t.Fatalf("expected at least 3 chunks, got %d", len(got))
	}
	// Window advances by size-overlap, so consecutive chunks share a
	// suffix/prefix of overlap runes.
	for i := 1; i < len(got); i++ {
		prev := []rune(got[i-1])
		tail := string(prev[len(prev)-3:])
		if !strings.HasPrefix(got[i], tail) {
			t.Errorf("chunk %d does not overlap previous: %q then %q", i, got[i-1], got[i])
		}
	}
}

func TestSplitCoversAllText(t *testing.T) {
	c := New(8, 2)
	text := "the quick brown fox jumps over the lazy dog"
	got := c.Split(text)

	joined := strings.Join(got, "")
	for _, word := range strings.Fields(text) {
		if !strings.Contains(joined, word[:1]) {
			t.Errorf("chunks lost content: %q missing", word)
		}
	}
	last := got[len(got)-1]
	if !strings.HasSuffix(text, last) {
		t.Errorf("final chunk %q is not a suffix of the input", last)
	}
}

func TestSplitMultibyte(t *testing.T) {
	c := New(4, 1)
	text := "日本語のテキストです"
	got := c.Split(text)
	for i, chunk := range got {
		for _, r := range chunk {
			if r == '�' {
				t.Errorf("chunk %d contains replacement rune: %q", i, chunk)
			}
		}
	}
}

func TestSplitDeterministic(t *testing.T) {
	c := New(16, 4)
	text := strings.Repeat("determinism matters ", 10)
	first := c.Split(text)
	second := c.Split(text)
	if len(first) != len(second) {
		t.Fatalf("chunk counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("chunk %d differs between runs", i)
		}
	}
}
