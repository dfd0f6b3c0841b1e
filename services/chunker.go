package services

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ChunkPiece is one chunker output unit before embedding: ordered text
// with its page attribution for paginated sources.
type ChunkPiece struct {
	ChunkID string
	Ordinal int
	Page    int
	Text    string
}

// Chunker splits extracted text into overlapping retrieval units. It
// prefers paragraph boundaries, then sentences, then words, and hard
// cuts only as a last resort.
type Chunker struct {
	maxChunkSize int
	overlap      int
	minChunkSize int
}

var pageMarkerRegex = regexp.MustCompile(`(?m)^\[Page (\d+)\]$`)

func NewChunker(maxChunkSize, overlap, minChunkSize int) *Chunker {
	if overlap >= maxChunkSize {
		overlap = maxChunkSize / 4
	}
	return &Chunker{
		maxChunkSize: maxChunkSize,
		overlap:      overlap,
		minChunkSize: minChunkSize,
	}
}

// Chunk splits the text into ordered pieces. "[Page N]" marker lines
// delimit page segments; markers are consumed for page attribution and
// never appear in chunk text. Ordinals run 0..n-1 across the whole
// document regardless of pages.
func (c *Chunker) Chunk(text string) []ChunkPiece {
	var pieces []ChunkPiece
	ordinal := 0

	for _, seg := range splitPages(text) {
		for _, chunkText := range c.splitSegment(seg.text) {
			chunkText = strings.TrimSpace(chunkText)
			if chunkText == "" {
				continue
			}
			pieces = append(pieces, ChunkPiece{
				ChunkID: uuid.New().String(),
				Ordinal: ordinal,
				Page:    seg.page,
				Text:    chunkText,
			})
			ordinal++
		}
	}

	// Fold an undersized trailing chunk into its predecessor when the
	// merge still fits
	if n := len(pieces); n > 1 && len(pieces[n-1].Text) < c.minChunkSize &&
		pieces[n-1].Page == pieces[n-2].Page &&
		len(pieces[n-2].Text)+len(pieces[n-1].Text)+1 <= c.maxChunkSize+c.overlap {
		pieces[n-2].Text = pieces[n-2].Text + "\n" + pieces[n-1].Text
		pieces = pieces[:n-1]
	}

	return pieces
}

type pageSegment struct {
	page int
	text string
}

// splitPages carves the text at "[Page N]" marker lines. Text before
// the first marker, or all of it when no markers exist, gets page 0.
func splitPages(text string) []pageSegment {
	locs := pageMarkerRegex.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return []pageSegment{{page: 0, text: text}}
	}

	var segments []pageSegment
	if head := text[:locs[0][0]]; strings.TrimSpace(head) != "" {
		segments = append(segments, pageSegment{page: 0, text: head})
	}
	for i, loc := range locs {
		page, _ := strconv.Atoi(text[loc[2]:loc[3]])
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		body := text[loc[1]:end]
		if strings.TrimSpace(body) == "" {
			continue
		}
		segments = append(segments, pageSegment{page: page, text: body})
	}
	return segments
}

var separators = []string{"\n\n", "\n", ". ", " "}

// splitSegment breaks one page segment into chunks of at most
// maxChunkSize characters with overlap carried between neighbours.
func (c *Chunker) splitSegment(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= c.maxChunkSize {
		return []string{text}
	}

	units := splitUnits(text, 0, c.maxChunkSize)

	var chunks []string
	var cur strings.Builder
	carried := 0 // length of the overlap prefix carried into cur
	for _, unit := range units {
		if cur.Len() > carried && cur.Len()+len(unit) > c.maxChunkSize {
			chunk := cur.String()
			chunks = append(chunks, chunk)
			cur.Reset()
			cur.WriteString(overlapTail(chunk, c.overlap))
			carried = cur.Len()
		} else if cur.Len() == carried && cur.Len()+len(unit) > c.maxChunkSize {
			// The carried overlap alone would push this unit over the
			// limit; drop it rather than emit an overlap-only chunk
			cur.Reset()
			carried = 0
		}
		cur.WriteString(unit)
	}
	if strings.TrimSpace(cur.String()) != "" {
		chunks = append(chunks, cur.String())
	}
	return chunks
}

// splitUnits recursively splits text with the separator hierarchy until
// every unit fits maxSize, keeping each separator attached to the unit
// before it so concatenation reproduces the input.
func splitUnits(text string, level, maxSize int) []string {
	if len(text) <= maxSize {
		return []string{text}
	}
	if level >= len(separators) {
		// Hard character cut
		var out []string
		for len(text) > maxSize {
			out = append(out, text[:maxSize])
			text = text[maxSize:]
		}
		if text != "" {
			out = append(out, text)
		}
		return out
	}

	sep := separators[level]
	parts := strings.SplitAfter(text, sep)
	if len(parts) == 1 {
		return splitUnits(text, level+1, maxSize)
	}

	var out []string
	for _, part := range parts {
		if part == "" {
			continue
		}
		out = append(out, splitUnits(part, level+1, maxSize)...)
	}
	return out
}

// overlapTail returns the last n characters of chunk, extended left to
// the nearest word boundary so the overlap never starts mid-word.
func overlapTail(chunk string, n int) string {
	if n <= 0 || chunk == "" {
		return ""
	}
	if len(chunk) <= n {
		return chunk
	}
	tail := chunk[len(chunk)-n:]
	if i := strings.IndexAny(tail, " \n"); i >= 0 {
		tail = tail[i+1:]
	}
	return tail
}
