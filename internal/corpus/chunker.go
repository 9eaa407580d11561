package corpus

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

const (
	defaultTargetChars    = 2500
	defaultOverlapPercent = 20
)

var (
	headingRe = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*$`)
	imageRe   = regexp.MustCompile(`^!\[[^\]]*\]\([^)]*\)\s*$`)
)

// Chunker splits chapter Markdown into retrieval-sized chunks. Prose is
// accumulated until the running length crosses the target size, then the
// chunk is closed and the next one re-includes a trailing overlap so no
// sentence is orphaned. Fenced code blocks, display math and tables flush
// the current prose and come out as single atomic chunks.
type Chunker struct {
	targetChars    int
	overlapPercent int
}

func NewChunker(targetChars, overlapPercent int) *Chunker {
	if targetChars <= 0 {
		targetChars = defaultTargetChars
	}
	if overlapPercent < 0 || overlapPercent >= 100 {
		overlapPercent = defaultOverlapPercent
	}
	return &Chunker{targetChars: targetChars, overlapPercent: overlapPercent}
}

// Split produces the ordered chunk sequence for one document. The output is
// deterministic for a given document and chunker parameters.
func (c *Chunker) Split(doc Document) []Chunk {
	w := &walker{
		chunker: c,
		doc:     doc,
	}
	w.run()
	return w.finish()
}

type walker struct {
	chunker *Chunker
	doc     Document

	headings []headingLevel
	prose    []string
	carry    string
	chunks   []Chunk
}

type headingLevel struct {
	level int
	title string
}

func (w *walker) run() {
	lines := strings.Split(w.doc.Text, "\n")
	for i := 0; i < len(lines); i++ {
		line := lines[i]

		switch {
		case strings.HasPrefix(line, "```"):
			end := findFenceEnd(lines, i)
			w.emitAtomic(strings.Join(lines[i:end+1], "\n"), KindCode)
			i = end

		case strings.TrimSpace(line) == "$$":
			end := findMathEnd(lines, i)
			w.emitAtomic(strings.Join(lines[i:end+1], "\n"), KindMath)
			i = end

		case isTableLine(line) && i+1 < len(lines) && isTableLine(lines[i+1]):
			end := i
			for end+1 < len(lines) && isTableLine(lines[end+1]) {
				end++
			}
			w.emitAtomic(strings.Join(lines[i:end+1], "\n"), KindTable)
			i = end

		case imageRe.MatchString(line):
			w.emitAtomic(line, KindDiagramCaption)

		default:
			if m := headingRe.FindStringSubmatch(line); m != nil {
				w.pushHeading(len(m[1]), m[2])
			}
			w.appendProse(line)
		}
	}
}

func (w *walker) pushHeading(level int, title string) {
	for len(w.headings) > 0 && w.headings[len(w.headings)-1].level >= level {
		w.headings = w.headings[:len(w.headings)-1]
	}
	w.headings = append(w.headings, headingLevel{level: level, title: title})
}

func (w *walker) headingPath() []string {
	if len(w.headings) == 0 {
		return nil
	}
	path := make([]string, len(w.headings))
	for i, h := range w.headings {
		path[i] = h.title
	}
	return path
}

func (w *walker) appendProse(line string) {
	w.prose = append(w.prose, line)
	if w.proseLen() >= w.chunker.targetChars {
		text := strings.Join(w.prose, "\n")
		w.closeChunk(text, KindProse)
		w.prose = nil
		w.carry = ""
		if tail := overlapTail(text, w.chunker.overlapPercent); tail != "" {
			w.prose = []string{tail}
			w.carry = tail
		}
	}
}

func (w *walker) proseLen() int {
	n := 0
	for _, l := range w.prose {
		n += len(l) + 1
	}
	return n
}

// emitAtomic flushes any buffered prose (even under target size) and then
// emits the block as its own chunk.
func (w *walker) emitAtomic(text string, kind Kind) {
	w.flushProse()
	w.closeChunk(text, kind)
}

func (w *walker) flushProse() {
	if len(w.prose) == 0 {
		return
	}
	text := strings.Join(w.prose, "\n")
	w.prose = nil
	if strings.TrimSpace(text) == "" || text == w.carry {
		// Nothing beyond the carried overlap accumulated; the content is
		// already fully covered by the previous chunk.
		return
	}
	w.closeChunk(text, KindProse)
}

func (w *walker) closeChunk(text string, kind Kind) {
	if strings.TrimSpace(text) == "" {
		return
	}
	w.chunks = append(w.chunks, Chunk{
		ChapterID:   w.doc.ChapterID,
		Text:        text,
		HeadingPath: w.headingPath(),
		Kind:        kind,
	})
}

// finish flushes the trailing prose buffer and assigns positions and
// content-addressed ids.
func (w *walker) finish() []Chunk {
	w.flushProse()

	seen := make(map[string]int)
	for i := range w.chunks {
		w.chunks[i].Position = i
		key := chunkDigest(w.chunks[i])
		n := seen[key]
		seen[key] = n + 1
		if n > 0 {
			// Same text appearing twice in one chapter still needs a
			// distinct, stable id.
			key = chunkDigest(w.chunks[i]) + fmt.Sprintf("-%d", n)
		}
		w.chunks[i].ID = key
	}
	return w.chunks
}

func chunkDigest(c Chunk) string {
	h := sha256.New()
	h.Write([]byte(c.ChapterID))
	h.Write([]byte{0})
	h.Write([]byte(c.Kind))
	h.Write([]byte{0})
	h.Write([]byte(c.Text))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// overlapTail returns the trailing ~percent of text, snapped forward to a
// word boundary so the next chunk starts on a whole word.
func overlapTail(text string, percent int) string {
	n := len(text) * percent / 100
	if n <= 0 {
		return ""
	}
	start := len(text) - n
	if idx := strings.IndexAny(text[start:], " \n"); idx >= 0 {
		start += idx + 1
	}
	return strings.TrimSpace(text[start:])
}

func findFenceEnd(lines []string, start int) int {
	for i := start + 1; i < len(lines); i++ {
		if strings.HasPrefix(lines[i], "```") {
			return i
		}
	}
	return len(lines) - 1
}

func findMathEnd(lines []string, start int) int {
	for i := start + 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "$$" {
			return i
		}
	}
	return len(lines) - 1
}

func isTableLine(line string) bool {
	t := strings.TrimSpace(line)
	return strings.HasPrefix(t, "|") && strings.HasSuffix(t, "|") && len(t) > 1
}
