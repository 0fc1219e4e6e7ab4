package channel

import (
	"strings"
	"testing"
)

func TestChunkLengthReproducesText(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("abcdefghij", 450)
	chunks := ChunkLength(text, 2000)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if runeLen(chunk) > 2000 {
			t.Fatalf("chunk %d has %d runes", i, runeLen(chunk))
		}
	}
	if strings.Join(chunks, "") != text {
		t.Fatalf("concatenated chunks differ from input")
	}
}

func TestChunkLengthCountsRunes(t *testing.T) {
	t.Parallel()

	chunks := ChunkLength("你好世界啊", 2)
	want := []string{"你好", "世界", "啊"}
	if len(chunks) != len(want) {
		t.Fatalf("unexpected chunks: %#v", chunks)
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Fatalf("chunk %d = %q, want %q", i, chunks[i], want[i])
		}
	}
	if got := ChunkLength("", 10); got != nil {
		t.Fatalf("expected nil for empty text, got %#v", got)
	}
	if got := ChunkLength("short", 0); len(got) != 1 || got[0] != "short" {
		t.Fatalf("expected no split without limit, got %#v", got)
	}
}

func TestChunkNewlinePrefersLineBoundaries(t *testing.T) {
	t.Parallel()

	text := "first line\nsecond line\nthird"
	chunks := ChunkNewline(text, 22)
	want := []string{"first line\nsecond line", "third"}
	if len(chunks) != len(want) {
		t.Fatalf("unexpected chunks: %#v", chunks)
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Fatalf("chunk %d = %q, want %q", i, chunks[i], want[i])
		}
	}
}

func TestChunkNewlineCutsLongLines(t *testing.T) {
	t.Parallel()

	chunks := ChunkNewline("ok\n"+strings.Repeat("x", 25), 10)
	want := []string{"ok", "xxxxxxxxxx", "xxxxxxxxxx", "xxxxx"}
	if len(chunks) != len(want) {
		t.Fatalf("unexpected chunks: %#v", chunks)
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Fatalf("chunk %d = %q, want %q", i, chunks[i], want[i])
		}
	}
}

func TestNormalizeOutboundPolicyDefaults(t *testing.T) {
	t.Parallel()

	policy := NormalizeOutboundPolicy(OutboundPolicy{})
	if policy.TextChunkLimit != DefaultTextChunkLimit {
		t.Fatalf("unexpected limit: %d", policy.TextChunkLimit)
	}
	if policy.ChunkMode != ChunkModeLength {
		t.Fatalf("unexpected mode: %s", policy.ChunkMode)
	}
	if got := policy.Chunk(strings.Repeat("a", 4500)); len(got) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(got))
	}
}

func TestParseChunkMode(t *testing.T) {
	t.Parallel()

	if ParseChunkMode(" Newline ") != ChunkModeNewline {
		t.Fatalf("expected newline mode")
	}
	if ParseChunkMode("markdown") != ChunkModeLength {
		t.Fatalf("expected fallback to length mode")
	}
}
