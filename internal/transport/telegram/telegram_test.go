package telegram

import (
	"strings"
	"testing"
)

func TestSplitTextShortPassthrough(t *testing.T) {
	t.Parallel()
	got := splitText("hello", 100)
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("splitText = %q", got)
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	t.Parallel()
	in := strings.Repeat("line one\n", 30)
	got := splitText(in, 100)
	if len(got) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(got))
	}
	for i, c := range got {
		if len([]rune(c)) > 100 {
			t.Fatalf("chunk %d over limit: %d runes", i, len([]rune(c)))
		}
		if strings.HasPrefix(c, "\n") || strings.HasSuffix(c, "\n") {
			t.Fatalf("chunk %d has dangling newline: %q", i, c)
		}
	}
	if strings.Join(got, "\n") != strings.TrimRight(in, "\n") {
		t.Fatal("content lost while splitting")
	}
}

func TestSplitTextHardBreakWithoutNewlines(t *testing.T) {
	t.Parallel()
	in := strings.Repeat("x", 250)
	got := splitText(in, 100)
	total := 0
	for _, c := range got {
		if len([]rune(c)) > 100 {
			t.Fatalf("chunk over limit: %d runes", len([]rune(c)))
		}
		total += len(c)
	}
	if total != 250 {
		t.Fatalf("lost characters: %d != 250", total)
	}
}
