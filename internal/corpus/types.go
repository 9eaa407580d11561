package corpus

// Kind classifies what a chunk holds. Code and math chunks are atomic:
// the chunker never splits them across chunk boundaries.
type Kind string

const (
	KindProse          Kind = "prose"
	KindCode           Kind = "code"
	KindMath           Kind = "math"
	KindTable          Kind = "table"
	KindDiagramCaption Kind = "diagram-caption"
)

// Document is one chapter's raw Markdown source.
type Document struct {
	ChapterID string
	Text      string
}

// Chunk is an independently retrievable slice of chapter text.
// ID is content-addressed, so re-chunking unchanged source yields
// identical ids and incremental re-indexing can skip them.
type Chunk struct {
	ID          string
	ChapterID   string
	Text        string
	HeadingPath []string
	Kind        Kind
	Position    int
}

// Section returns the heading path rendered for citation display,
// e.g. "Chapter 1 > What is Physical AI?".
func (c Chunk) Section() string {
	if len(c.HeadingPath) == 0 {
		return ""
	}
	s := c.HeadingPath[0]
	for _, h := range c.HeadingPath[1:] {
		s += " > " + h
	}
	return s
}
