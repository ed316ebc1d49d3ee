package ingest

import (
	"strings"
	"testing"
)

func TestSplitChunksEmpty(t *testing.T) {
	if got := SplitChunks("   \n\n  ", 100); got != nil {
		t.Errorf("SplitChunks = %v, want nil", got)
	}
}

func TestSplitChunksSmallTextSingleChunk(t *testing.T) {
	got := SplitChunks("short text", 100)
	if len(got) != 1 || got[0] != "short text" {
		t.Errorf("SplitChunks = %v", got)
	}
}

func TestSplitChunksPrefersParagraphBoundaries(t *testing.T) {
	a := strings.Repeat("a", 60)
	b := strings.Repeat("b", 60)
	text := a + "\n\n" + b

	got := SplitChunks(text, 100)
	if len(got) != 2 {
		t.Fatalf("got %d chunks, want 2", len(got))
	}
	if got[0] != a || got[1] != b {
		t.Errorf("chunks not split on paragraph boundary: %v", got)
	}
}

func TestSplitChunksPacksParagraphs(t *testing.T) {
	text := "one\n\ntwo\n\nthree"
	got := SplitChunks(text, 12)
	if len(got) != 2 {
		t.Fatalf("got %d chunks, want 2: %v", len(got), got)
	}
	if got[0] != "one\n\ntwo" || got[1] != "three" {
		t.Errorf("chunks = %q", got)
	}
}

func TestSplitChunksHardLimit(t *testing.T) {
	long := strings.Repeat("word ", 200)
	got := SplitChunks(long, 100)
	for i, c := range got {
		if len(c) > 100 {
			t.Errorf("chunk %d has %d chars, over the limit", i, len(c))
		}
	}
	// Nothing lost.
	joined := strings.Join(got, " ")
	if strings.Count(joined, "word") != 200 {
		t.Errorf("words lost in split: %d", strings.Count(joined, "word"))
	}
}

func TestSplitLongCutsAtSentence(t *testing.T) {
	text := "First sentence here. " + strings.Repeat("x", 50)
	got := splitLong(text, 40)
	if got[0] != "First sentence here." {
		t.Errorf("first piece = %q, want sentence cut", got[0])
	}
}
