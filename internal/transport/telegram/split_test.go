package telegram

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitTextShortIsSingleChunk(t *testing.T) {
	got := SplitText("Пн 9:00 Математика", 4000)
	if len(got) != 1 || got[0] != "Пн 9:00 Математика" {
		t.Fatalf("unexpected chunks: %q", got)
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	line := strings.Repeat("я", 30)
	text := strings.Join([]string{line, line, line, line}, "\n")

	got := SplitText(text, 70)
	if len(got) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %q", len(got), got)
	}
	for _, c := range got {
		if utf8.RuneCountInString(c) > 70 {
			t.Fatalf("chunk exceeds limit: %d runes", utf8.RuneCountInString(c))
		}
		if strings.HasPrefix(c, "\n") || strings.HasSuffix(c, "\n") {
			t.Fatalf("chunk has dangling newline: %q", c)
		}
	}
	if strings.Join(got, "\n") != text {
		t.Fatalf("rejoined text differs")
	}
}

func TestSplitTextHardCutWithoutNewlines(t *testing.T) {
	text := strings.Repeat("x", 250)
	got := SplitText(text, 100)
	if len(got) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(got))
	}
	if len(got[0]) != 100 || len(got[2]) != 50 {
		t.Fatalf("unexpected chunk sizes: %d %d", len(got[0]), len(got[2]))
	}
}
