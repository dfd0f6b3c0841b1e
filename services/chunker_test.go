package services

import (
	"fmt"
	"strings"
	"testing"
)

func TestChunkShortText(t *testing.T) {
	c := NewChunker(1000, 150, 100)
	pieces := c.Chunk("just a short note")
	if len(pieces) != 1 {
		t.Fatalf("got %d pieces, want 1", len(pieces))
	}
	if pieces[0].Text != "just a short note" {
		t.Errorf("text = %q", pieces[0].Text)
	}
	if pieces[0].Ordinal != 0 || pieces[0].Page != 0 {
		t.Errorf("ordinal=%d page=%d", pieces[0].Ordinal, pieces[0].Page)
	}
	if pieces[0].ChunkID == "" {
		t.Error("missing chunk id")
	}
}

func TestChunkEmpty(t *testing.T) {
	c := NewChunker(1000, 150, 100)
	if pieces := c.Chunk(""); len(pieces) != 0 {
		t.Errorf("empty input produced %d pieces", len(pieces))
	}
	if pieces := c.Chunk("   \n\n  "); len(pieces) != 0 {
		t.Errorf("whitespace input produced %d pieces", len(pieces))
	}
}

func TestChunkSizeAndOrder(t *testing.T) {
	c := NewChunker(200, 40, 20)

	var sb strings.Builder
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&sb, "Sentence number %02d has a fixed amount of words in it. ", i)
	}

	pieces := c.Chunk(sb.String())
	if len(pieces) < 5 {
		t.Fatalf("expected several chunks, got %d", len(pieces))
	}
	for i, p := range pieces {
		if p.Ordinal != i {
			t.Errorf("piece %d has ordinal %d", i, p.Ordinal)
		}
		if len(p.Text) > 200+40 {
			t.Errorf("piece %d is %d chars", i, len(p.Text))
		}
	}
}

func TestChunkCoversAllContent(t *testing.T) {
	c := NewChunker(150, 30, 20)

	var sentences []string
	for i := 0; i < 25; i++ {
		sentences = append(sentences, fmt.Sprintf("Unique marker sentence %02d lives here.", i))
	}
	text := strings.Join(sentences, " ")

	pieces := c.Chunk(text)
	joined := ""
	for _, p := range pieces {
		joined += p.Text + "\n"
	}
	for i := range sentences {
		marker := fmt.Sprintf("marker sentence %02d", i)
		if !strings.Contains(joined, marker) {
			t.Errorf("content %q missing from chunks", marker)
		}
	}
}

func TestChunkOverlap(t *testing.T) {
	c := NewChunker(100, 30, 10)

	var sb strings.Builder
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&sb, "word%02d-a word%02d-b word%02d-c ", i, i, i)
	}

	pieces := c.Chunk(sb.String())
	if len(pieces) < 3 {
		t.Fatalf("expected multiple chunks, got %d", len(pieces))
	}

	overlapping := 0
	for i := 1; i < len(pieces); i++ {
		prevWords := strings.Fields(pieces[i-1].Text)
		if len(prevWords) == 0 {
			continue
		}
		if strings.Contains(pieces[i].Text, prevWords[len(prevWords)-1]) {
			overlapping++
		}
	}
	if overlapping == 0 {
		t.Error("no neighbouring chunks share overlap content")
	}
}

func TestChunkPageAttribution(t *testing.T) {
	c := NewChunker(1000, 150, 10)

	text := "[Page 1]\nIntro text on the first page.\n\n[Page 2]\nDetails on the second page.\n"
	pieces := c.Chunk(text)
	if len(pieces) != 2 {
		t.Fatalf("got %d pieces, want 2", len(pieces))
	}
	if pieces[0].Page != 1 || pieces[1].Page != 2 {
		t.Errorf("pages = %d, %d", pieces[0].Page, pieces[1].Page)
	}
	for _, p := range pieces {
		if strings.Contains(p.Text, "[Page") {
			t.Errorf("marker leaked into chunk text: %q", p.Text)
		}
	}
	if pieces[0].Ordinal != 0 || pieces[1].Ordinal != 1 {
		t.Error("ordinals must be continuous across pages")
	}
}

func TestChunkLongUnbrokenText(t *testing.T) {
	c := NewChunker(100, 20, 10)
	text := strings.Repeat("x", 950)

	pieces := c.Chunk(text)
	if len(pieces) == 0 {
		t.Fatal("no pieces for unbroken text")
	}
	total := 0
	for _, p := range pieces {
		if len(p.Text) > 120 {
			t.Errorf("piece exceeds bound: %d chars", len(p.Text))
		}
		total += len(p.Text)
	}
	if total < 950 {
		t.Errorf("content lost: %d of 950 chars", total)
	}
}

func TestChunkMergesTinyTrailer(t *testing.T) {
	c := NewChunker(100, 20, 30)

	// Two paragraphs where the second alone is under the minimum
	text := strings.Repeat("alpha beta gamma delta ", 6) + "\n\ntail."
	pieces := c.Chunk(text)
	last := pieces[len(pieces)-1]
	if len(pieces) > 1 && len(last.Text) < 30 {
		t.Errorf("undersized trailing chunk survived: %q", last.Text)
	}
	if !strings.Contains(pieces[len(pieces)-1].Text, "tail.") {
		t.Error("trailer content lost")
	}
}
