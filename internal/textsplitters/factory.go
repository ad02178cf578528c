package textsplitters

import "fmt"

// Kind identifies a splitter strategy.
type Kind string

const (
	// KindFixed selects the fixed-length splitter.
	KindFixed Kind = "fixed"
	// KindSentences groups along sentence boundaries up to a target size.
	KindSentences Kind = "sentences"
	// KindParagraphs groups along paragraph boundaries up to a target size.
	KindParagraphs Kind = "paragraphs"
	// KindMarkdown splits by Markdown headings, then groups within sections.
	KindMarkdown Kind = "markdown"
	// KindHybrid merges sentences up to a target size at natural boundaries.
	KindHybrid Kind = "hybrid"
	// KindRecursive applies hierarchical splitting: headings -> paragraphs -> sentences -> fixed.
	KindRecursive Kind = "recursive"
)

// Unit indicates what a splitter measures when computing chunk sizes.
type Unit string

const (
	// UnitChars splits by Unicode characters (runes).
	UnitChars Unit = "chars"
	// UnitTokens splits by tokens, as defined by a Tokenizer implementation.
	UnitTokens Unit = "tokens"
)

// Config configures a splitter. The Kind selects the concrete strategy and the
// corresponding sub-config should be populated.
type Config struct {
	Kind      Kind
	Fixed     FixedConfig
	Boundary  BoundaryConfig
	Markdown  MarkdownConfig
	Recursive RecursiveConfig
}

// NewFromConfig constructs a Splitter from a Config.
func NewFromConfig(c Config) (Splitter, error) {
	switch c.Kind {
	case KindFixed:
		return newFixedSplitter(c.Fixed)
	case KindSentences:
		return newSentenceSplitter(c.Boundary)
	case KindParagraphs:
		return newParagraphSplitter(c.Boundary)
	case KindMarkdown:
		return newMarkdownSplitter(c.Markdown)
	case KindHybrid:
		return newHybridSplitter(c.Boundary)
	case KindRecursive:
		return newRecursiveSplitter(c.Recursive)
	default:
		return nil, fmt.Errorf("unknown splitter kind: %q", c.Kind)
	}
}

// NewRecursiveCascade builds the markdown -> paragraph -> sentence -> fixed
// cascade used by the RAG Engine, with the given target chunk size and
// overlap (both in characters).
func NewRecursiveCascade(chunkSize, overlap int) Splitter {
	s, _ := newRecursiveSplitter(RecursiveConfig{
		Markdown:   MarkdownConfig{Within: BoundaryConfig{Unit: UnitChars, Size: chunkSize}},
		Paragraphs: BoundaryConfig{Unit: UnitChars, Size: chunkSize},
		Sentences:  BoundaryConfig{Unit: UnitChars, Size: chunkSize},
		Fallback:   FixedConfig{Unit: UnitChars, Size: chunkSize, Overlap: overlap},
	})
	return s
}
