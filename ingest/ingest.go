// Package ingest turns book text into the two searchable collections of the
// knowledge store: overlapping passages, chapter summaries and verbatim
// quotations.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/sweetpotato0/bookqa/knowledge"
	"github.com/sweetpotato0/bookqa/pkg/logging"
	"github.com/sweetpotato0/bookqa/rag/chunking"
	"github.com/sweetpotato0/bookqa/rag/document"
	"github.com/sweetpotato0/bookqa/rag/preprocess"
	"github.com/sweetpotato0/bookqa/vector"
)

// Config controls chunking, quotation extraction and embedding batches.
type Config struct {
	ChunkSize      int
	ChunkOverlap   int
	MinQuoteLength int
	BatchSize      int

	// SummarySentences is the number of leading sentences kept as a
	// chapter's summary when the source supplies none. Zero disables them.
	SummarySentences int

	// Noise lists substrings of lines to drop, such as running page headers.
	Noise []string
}

// DefaultConfig returns the defaults used for prose.
func DefaultConfig() Config {
	return Config{
		ChunkSize:      1000,
		ChunkOverlap:   200,
		MinQuoteLength: 50,
		BatchSize:      10,
	}
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithConfig replaces the pipeline configuration. Non-positive values keep
// their defaults.
func WithConfig(cfg Config) Option {
	return func(p *Pipeline) {
		def := DefaultConfig()
		if cfg.ChunkSize <= 0 {
			cfg.ChunkSize = def.ChunkSize
		}
		if cfg.ChunkOverlap < 0 {
			cfg.ChunkOverlap = def.ChunkOverlap
		}
		if cfg.MinQuoteLength <= 0 {
			cfg.MinQuoteLength = def.MinQuoteLength
		}
		if cfg.BatchSize <= 0 {
			cfg.BatchSize = def.BatchSize
		}
		if cfg.SummarySentences < 0 {
			cfg.SummarySentences = 0
		}
		p.cfg = cfg
	}
}

// WithChunker overrides the passage chunker.
func WithChunker(c chunking.Chunker) Option {
	return func(p *Pipeline) { p.chunker = c }
}

// WithLogger overrides the pipeline logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// Source is one book or text to ingest.
type Source struct {
	ID       string
	Title    string
	Text     string
	HTML     bool
	Metadata map[string]any

	// Summaries holds chapter summaries by chapter number. They are indexed
	// into the structured collection next to the passages.
	Summaries map[int]string
}

// Report summarises one ingestion run.
type Report struct {
	Source   string
	Chapters int

	// Found counts the passages or quotations produced per collection.
	Found map[knowledge.Collection]int
	// Indexed counts the new entries written per collection.
	Indexed map[knowledge.Collection]int
	// Skipped counts entries whose content hash was already present.
	Skipped map[knowledge.Collection]int
	// Summaries counts the new chapter summaries written.
	Summaries int
}

// Pipeline cleans, chunks, embeds and indexes sources.
type Pipeline struct {
	embedder vector.Embedder
	catalog  *knowledge.Catalog
	chunker  chunking.Chunker
	cfg      Config
	logger   *slog.Logger
}

// New returns a pipeline writing into the structured and quotation
// collections of catalog.
func New(embedder vector.Embedder, catalog *knowledge.Catalog, opts ...Option) (*Pipeline, error) {
	if embedder == nil {
		return nil, errors.New("ingest: embedder is required")
	}
	if catalog == nil {
		return nil, errors.New("ingest: catalog is required")
	}
	for _, c := range []knowledge.Collection{knowledge.Structured, knowledge.Quotation} {
		if _, ok := catalog.Collection(c); !ok {
			return nil, fmt.Errorf("ingest: collection %q is not registered", c)
		}
	}
	p := &Pipeline{
		embedder: embedder,
		catalog:  catalog,
		cfg:      DefaultConfig(),
		logger:   logging.WithComponent("ingest"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.chunker == nil {
		p.chunker = chunking.NewSimpleChunker(
			chunking.WithChunkSize(p.cfg.ChunkSize),
			chunking.WithOverlap(p.cfg.ChunkOverlap),
		)
	}
	return p, nil
}

// IngestFile reads path and ingests it. Files ending in .html or .htm are
// run through HTML extraction first.
func (p *Pipeline) IngestFile(ctx context.Context, path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: read %s: %w", path, err)
	}
	base := filepath.Base(path)
	ext := strings.ToLower(filepath.Ext(base))
	return p.Ingest(ctx, Source{
		ID:       strings.TrimSuffix(base, filepath.Ext(base)),
		Title:    base,
		Text:     string(data),
		HTML:     ext == ".html" || ext == ".htm",
		Metadata: map[string]any{"source": path},
	})
}

type entry struct {
	text string
	meta map[string]any
}

// Ingest indexes src into both collections. Entries whose content hash is
// already stored are skipped, so running it twice is harmless.
func (p *Pipeline) Ingest(ctx context.Context, src Source) (*Report, error) {
	text := src.Text
	if src.HTML {
		extracted, err := preprocess.HTMLToText(text)
		if err != nil {
			return nil, fmt.Errorf("ingest: extract html: %w", err)
		}
		text = extracted
	}
	text = preprocess.Preprocess(text, p.cfg.Noise...)

	doc := document.Document{ID: src.ID, Title: src.Title, Metadata: src.Metadata}
	document.EnsureDocumentID(&doc)

	report := &Report{
		Source:  doc.ID,
		Found:   make(map[knowledge.Collection]int),
		Indexed: make(map[knowledge.Collection]int),
		Skipped: make(map[knowledge.Collection]int),
	}

	var passages, summaries, quotes []entry
	chapters := preprocess.SplitChapters(text)
	report.Chapters = len(chapters)
	for _, ch := range chapters {
		meta := map[string]any{
			"source":         doc.ID,
			"chapter_number": ch.Number,
			"chapter_title":  ch.Title,
		}
		if doc.Title != "" {
			meta["title"] = doc.Title
		}
		for k, v := range doc.Metadata {
			if _, ok := meta[k]; !ok {
				meta[k] = v
			}
		}

		chunks, err := p.chunker.Chunk(ctx, document.Document{
			ID:       fmt.Sprintf("%s_ch%d", doc.ID, ch.Number),
			Title:    ch.Title,
			Content:  ch.Content,
			Metadata: meta,
		})
		if err != nil {
			return nil, fmt.Errorf("ingest: chunk chapter %d: %w", ch.Number, err)
		}
		for _, c := range chunks {
			m := copyMeta(meta)
			m["chunk_index"] = c.Ordinal - 1
			m["data_type"] = "chunk"
			passages = append(passages, entry{text: c.Content, meta: m})
		}

		summary, ok := src.Summaries[ch.Number]
		if !ok {
			summary = preprocess.LeadSentences(ch.Content, p.cfg.SummarySentences)
		}
		if summary = strings.TrimSpace(summary); summary != "" {
			m := copyMeta(meta)
			m["data_type"] = "summary"
			m["original_length"] = len([]rune(ch.Content))
			m["summary_length"] = len([]rune(summary))
			summaries = append(summaries, entry{text: summary, meta: m})
		}

		for i, q := range preprocess.ExtractQuotations(ch.Content, p.cfg.MinQuoteLength) {
			m := copyMeta(meta)
			m["quote_index"] = i
			m["quote_length"] = len([]rune(q))
			m["data_type"] = "quote"
			quotes = append(quotes, entry{text: q, meta: m})
		}
	}

	for _, job := range []struct {
		collection knowledge.Collection
		entries    []entry
	}{
		{knowledge.Structured, passages},
		{knowledge.Quotation, quotes},
	} {
		report.Found[job.collection] = len(job.entries)
		indexed, skipped, err := p.index(ctx, job.collection, job.entries)
		report.Indexed[job.collection] = indexed
		report.Skipped[job.collection] = skipped
		if err != nil {
			return report, err
		}
	}

	if len(summaries) > 0 {
		indexed, _, err := p.index(ctx, knowledge.Structured, summaries)
		report.Summaries = indexed
		if err != nil {
			return report, err
		}
	}

	p.logger.Info("source ingested",
		"source", report.Source,
		"chapters", report.Chapters,
		"passages", report.Indexed[knowledge.Structured],
		"quotations", report.Indexed[knowledge.Quotation],
		"summaries", report.Summaries,
		"skipped", report.Skipped[knowledge.Structured]+report.Skipped[knowledge.Quotation],
	)
	return report, nil
}

func (p *Pipeline) index(ctx context.Context, collection knowledge.Collection, entries []entry) (int, int, error) {
	store, _ := p.catalog.Collection(collection)

	var pending []entry
	var ids []string
	seen := make(map[string]struct{}, len(entries))
	skipped := 0
	for _, e := range entries {
		id := document.ContentHash(e.text)
		if _, dup := seen[id]; dup {
			skipped++
			continue
		}
		seen[id] = struct{}{}

		_, err := store.GetEmbedding(ctx, id)
		switch {
		case err == nil:
			skipped++
			continue
		case !errors.Is(err, vector.ErrNotFound):
			return 0, skipped, fmt.Errorf("ingest: lookup %s in %s: %w", id, collection, err)
		}
		pending = append(pending, e)
		ids = append(ids, id)
	}

	indexed := 0
	for start := 0; start < len(pending); start += p.cfg.BatchSize {
		end := min(start+p.cfg.BatchSize, len(pending))
		batch := pending[start:end]
		texts := make([]string, len(batch))
		for i, e := range batch {
			texts[i] = e.text
		}

		vecs, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return indexed, skipped, fmt.Errorf("ingest: embed batch for %s: %w", collection, err)
		}
		if len(vecs) != len(batch) {
			return indexed, skipped, fmt.Errorf("ingest: expected %d vectors, got %d", len(batch), len(vecs))
		}
		for i, e := range batch {
			id := ids[start+i]
			e.meta["content_hash"] = id
			if err := store.AddEmbedding(ctx, &vector.Embedding{
				ID:       id,
				Vector:   vecs[i],
				Text:     e.text,
				Metadata: e.meta,
			}); err != nil {
				return indexed, skipped, fmt.Errorf("ingest: store %s in %s: %w", id, collection, err)
			}
			indexed++
		}
		p.logger.Debug("batch indexed", "collection", string(collection), "size", len(batch))
	}
	return indexed, skipped, nil
}

func copyMeta(in map[string]any) map[string]any {
	out := make(map[string]any, len(in)+4)
	for k, v := range in {
		out[k] = v
	}
	return out
}
