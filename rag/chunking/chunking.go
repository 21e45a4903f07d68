package chunking

import (
	"context"
	"fmt"
	"strings"

	"github.com/sweetpotato0/bookqa/rag/document"
)

// Chunker splits documents into chunks that can be embedded and indexed.
type Chunker interface {
	Chunk(ctx context.Context, doc document.Document) ([]document.Chunk, error)
}

type Options struct {
	ChunkSize   int
	Overlap     int
	Separator   string
	IncludeMeta bool
}

// SimpleChunker packs separator-delimited paragraphs into windows of at most
// ChunkSize characters; consecutive windows share Overlap characters.
type SimpleChunker struct {
	size    int
	overlap int
	sep     string
	addMeta bool
}

// Option customizes the simple chunker.
type Option func(*Options)

// WithChunkSize overrides the default chunk size (characters).
func WithChunkSize(size int) Option {
	return func(o *Options) {
		if size > 0 {
			o.ChunkSize = size
		}
	}
}

// WithOverlap configures overlap (characters) between consecutive chunks.
func WithOverlap(overlap int) Option {
	return func(o *Options) {
		if overlap >= 0 {
			o.Overlap = overlap
		}
	}
}

// WithSeparator sets the logical separator used before windowing.
func WithSeparator(sep string) Option {
	return func(o *Options) {
		if sep != "" {
			o.Separator = sep
		}
	}
}

// WithMetadataCopy toggles whether document metadata should be copied to chunks.
func WithMetadataCopy(enabled bool) Option {
	return func(o *Options) {
		o.IncludeMeta = enabled
	}
}

// NewSimpleChunker constructs a chunker sized for prose: 1000 characters with
// 200 characters of overlap.
func NewSimpleChunker(opts ...Option) *SimpleChunker {
	cfg := &Options{
		ChunkSize:   1000,
		Overlap:     200,
		Separator:   "\n\n",
		IncludeMeta: true,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Overlap >= cfg.ChunkSize {
		cfg.Overlap = cfg.ChunkSize / 5
	}
	return &SimpleChunker{
		size:    cfg.ChunkSize,
		overlap: cfg.Overlap,
		sep:     cfg.Separator,
		addMeta: cfg.IncludeMeta,
	}
}

// Chunk splits the document into bounded pieces. Sizes are counted in runes.
func (c *SimpleChunker) Chunk(ctx context.Context, doc document.Document) ([]document.Chunk, error) {
	document.EnsureDocumentID(&doc)

	var chunks []document.Chunk
	var current []rune
	pending := false
	flush := func() {
		text := strings.TrimSpace(string(current))
		if pending && text != "" {
			chunks = append(chunks, c.newChunk(doc, len(chunks)+1, text))
		}
		pending = false
		if c.overlap > 0 && len(current) > c.overlap {
			current = append([]rune(nil), current[len(current)-c.overlap:]...)
		} else {
			current = current[:0]
		}
	}

	sep := []rune(c.sep)
	for _, part := range strings.Split(doc.Content, c.sep) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		runes := []rune(part)
		if pending && len(current)+len(sep)+len(runes) > c.size {
			flush()
		}
		if len(current) > 0 {
			current = append(current, sep...)
		}
		for len(current)+len(runes) > c.size {
			take := c.size - len(current)
			if take <= 0 {
				current = current[:0]
				continue
			}
			current = append(current, runes[:take]...)
			runes = runes[take:]
			pending = true
			flush()
		}
		if len(runes) > 0 {
			current = append(current, runes...)
			pending = true
		}
	}
	flush()
	return chunks, nil
}

func (c *SimpleChunker) newChunk(doc document.Document, ordinal int, content string) document.Chunk {
	chunk := document.Chunk{
		ID:         fmt.Sprintf("%s_chunk_%d", doc.ID, ordinal),
		DocumentID: doc.ID,
		Content:    content,
		Ordinal:    ordinal,
	}
	if c.addMeta && doc.Metadata != nil {
		chunk.Metadata = make(map[string]any, len(doc.Metadata))
		for k, v := range doc.Metadata {
			chunk.Metadata[k] = v
		}
	}
	return chunk
}
