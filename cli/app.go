package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sweetpotato0/bookqa/config"
	"github.com/sweetpotato0/bookqa/contrib/chunking/token"
	"github.com/sweetpotato0/bookqa/contrib/embedder/cache"
	openaiembedder "github.com/sweetpotato0/bookqa/contrib/embedder/openai"
	"github.com/sweetpotato0/bookqa/contrib/provider/claude"
	"github.com/sweetpotato0/bookqa/contrib/provider/cohere"
	"github.com/sweetpotato0/bookqa/contrib/provider/gemini"
	"github.com/sweetpotato0/bookqa/contrib/provider/groq"
	"github.com/sweetpotato0/bookqa/contrib/provider/openai"
	cohererank "github.com/sweetpotato0/bookqa/contrib/reranker/cohere"
	"github.com/sweetpotato0/bookqa/contrib/reranker/mmr"
	"github.com/sweetpotato0/bookqa/contrib/tokenizer/tiktoken"
	"github.com/sweetpotato0/bookqa/contrib/vector/inmemory"
	"github.com/sweetpotato0/bookqa/contrib/vector/pg"
	"github.com/sweetpotato0/bookqa/ingest"
	"github.com/sweetpotato0/bookqa/knowledge"
	"github.com/sweetpotato0/bookqa/llm"
	"github.com/sweetpotato0/bookqa/pkg/logging"
	"github.com/sweetpotato0/bookqa/pkg/telemetry"
	"github.com/sweetpotato0/bookqa/rag/replan"
	"github.com/sweetpotato0/bookqa/rag/reranker"
	"github.com/sweetpotato0/bookqa/rag/tokenizer"
	"github.com/sweetpotato0/bookqa/transcript"
	"github.com/sweetpotato0/bookqa/transcript/store"
	"github.com/sweetpotato0/bookqa/vector"
)

// App holds every collaborator built from a configuration.
type App struct {
	Config      *config.Config
	Controller  *replan.Controller
	Answerer    replan.Answerer
	Catalog     *knowledge.Catalog
	Embedder    vector.Embedder
	Ingest      *ingest.Pipeline
	Transcripts transcript.Store

	closers []func(context.Context) error
}

// BuildOption overrides a collaborator, mainly for tests and demos.
type BuildOption func(*buildOptions)

type buildOptions struct {
	client   llm.Client
	embedder vector.Embedder
}

// WithLLM replaces the configured generation provider for every role.
func WithLLM(c llm.Client) BuildOption {
	return func(o *buildOptions) { o.client = c }
}

// WithEmbedder replaces the configured embedding model.
func WithEmbedder(e vector.Embedder) BuildOption {
	return func(o *buildOptions) { o.embedder = e }
}

// Build wires an App from cfg. Close releases what it opened.
func Build(ctx context.Context, cfg *config.Config, opts ...BuildOption) (_ *App, err error) {
	var bo buildOptions
	for _, opt := range opts {
		opt(&bo)
	}

	app := &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = app.Close(context.Background())
		}
	}()

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "bookqa",
		ServiceVersion: Version,
		Environment:    cfg.Telemetry.Environment,
		Disable:        !cfg.Telemetry.Enabled,
		Exporter:       cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	app.closers = append(app.closers, shutdown)

	clients, err := app.buildClients(ctx, bo.client)
	if err != nil {
		return nil, err
	}

	app.Embedder = bo.embedder
	if app.Embedder == nil {
		app.Embedder, err = app.buildEmbedder()
		if err != nil {
			return nil, err
		}
	}

	if app.Catalog, err = app.buildCatalog(ctx); err != nil {
		return nil, err
	}
	if app.Transcripts, err = app.buildTranscripts(ctx); err != nil {
		return nil, err
	}

	deps := replan.Dependencies{
		Clients:  clients,
		Embedder: app.Embedder,
		Store:    app.Catalog,
		Logger:   logging.WithComponent("replan_controller"),
	}
	switch cfg.Replan.Reranker {
	case "cosine":
		deps.Reranker = reranker.NewCosineReranker()
	case "mmr":
		deps.Reranker = mmr.New()
	case "cohere":
		deps.Reranker = cohererank.New(cfg.Replan.CohereAPIKey,
			cohererank.WithModel(cfg.Replan.CohereModel),
			cohererank.WithFallback(mmr.New()),
		)
	}
	switch cfg.Replan.Tokenizer {
	case "tiktoken":
		tok, err := tiktoken.New(cfg.Replan.TiktokenEncoding)
		if err != nil {
			return nil, fmt.Errorf("load tokenizer: %w", err)
		}
		deps.Tokenizer = tok
	default:
		deps.Tokenizer = tokenizer.NewWordTokenizer()
	}
	if cfg.Replan.Sufficiency == "min_evidence" {
		deps.Sufficiency = replan.MinEvidence(cfg.Replan.MinEvidence)
	}

	r := cfg.Replan
	app.Controller, err = replan.New(deps,
		replan.WithMaxPlanSteps(r.MaxPlanSteps),
		replan.WithRetryBudget(r.RetryBudget),
		replan.WithTopK(r.TopK),
		replan.WithOverfetch(r.Overfetch),
		replan.WithMinScore(float32(r.MinScore)),
		replan.WithPlanRefinement(r.RefinePlan),
		replan.WithAdapterTimeout(r.AdapterTimeout.Duration),
		replan.WithAdapterRetries(r.AdapterRetries),
		replan.WithRetryBackoff(r.RetryBackoff.Duration),
		replan.WithMaxFragmentTokens(r.MaxFragmentTokens),
		replan.WithNoAnswerMessage(r.NoAnswerMessage),
		replan.WithClassifierMode(r.Classifier),
		replan.WithLLMSufficiency(r.Sufficiency == "llm"),
	)
	if err != nil {
		return nil, fmt.Errorf("build controller: %w", err)
	}

	app.Answerer = app.Controller
	if app.Transcripts != nil {
		app.Answerer = transcript.NewRecorder(app.Controller, app.Transcripts)
	}

	in := cfg.Ingest
	ingestOpts := []ingest.Option{ingest.WithConfig(ingest.Config{
		ChunkSize:        in.ChunkSize,
		ChunkOverlap:     in.ChunkOverlap,
		MinQuoteLength:   in.MinQuoteLength,
		BatchSize:        in.BatchSize,
		Noise:            in.Noise,
		SummarySentences: in.SummarySentences,
	})}
	if in.Chunker == "tokens" {
		ingestOpts = append(ingestOpts, ingest.WithChunker(token.New(
			token.WithMaxTokens(in.ChunkSize),
			token.WithOverlapTokens(in.ChunkOverlap),
			token.WithTokenizer(deps.Tokenizer),
		)))
	}
	app.Ingest, err = ingest.New(app.Embedder, app.Catalog, ingestOpts...)
	if err != nil {
		return nil, fmt.Errorf("build ingest pipeline: %w", err)
	}
	return app, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) onClose(c io.Closer) {
	a.closers = append(a.closers, func(context.Context) error { return c.Close() })
}

func (a *App) buildClients(ctx context.Context, override llm.Client) (replan.Clients, error) {
	if override != nil {
		return replan.Clients{Default: override}, nil
	}
	c := a.Config.LLM
	if err := a.Config.RequireAPIKey(); err != nil {
		return replan.Clients{}, err
	}

	base, err := a.newProvider(ctx, c.Model)
	if err != nil {
		return replan.Clients{}, err
	}
	clients := replan.Clients{Default: llm.NewRateLimited(base, c.RateLimit, c.Burst)}
	if c.PlannerModel != "" && c.PlannerModel != c.Model {
		planner, err := a.newProvider(ctx, c.PlannerModel)
		if err != nil {
			return replan.Clients{}, err
		}
		clients.Planner = llm.NewRateLimited(planner, c.RateLimit, c.Burst)
	}
	if c.JudgeModel != "" && c.JudgeModel != c.Model {
		judge, err := a.newProvider(ctx, c.JudgeModel)
		if err != nil {
			return replan.Clients{}, err
		}
		clients.Judge = llm.NewRateLimited(judge, c.RateLimit, c.Burst)
	}
	return clients, nil
}

func (a *App) newProvider(ctx context.Context, model string) (llm.Client, error) {
	c := a.Config.LLM
	switch c.Provider {
	case "claude", "anthropic":
		pc := claude.DefaultConfig(c.APIKey, c.BaseURL)
		pc.Model = model
		pc.MaxTokens = int64(c.MaxTokens)
		pc.Temperature = c.Temperature
		return claude.New(pc), nil
	case "groq":
		pc := groq.DefaultConfig(c.APIKey)
		if c.BaseURL != "" {
			pc.BaseURL = c.BaseURL
		}
		pc.Model = model
		pc.MaxTokens = c.MaxTokens
		pc.Temperature = c.Temperature
		pc.Timeout = a.Config.Replan.AdapterTimeout.Duration
		return groq.New(pc), nil
	case "cohere":
		pc := cohere.DefaultConfig(c.APIKey)
		if c.BaseURL != "" {
			pc.BaseURL = c.BaseURL
		}
		pc.Model = model
		pc.MaxTokens = c.MaxTokens
		pc.Temperature = c.Temperature
		pc.Timeout = a.Config.Replan.AdapterTimeout.Duration
		return cohere.New(pc), nil
	case "gemini":
		pc := gemini.DefaultConfig(c.APIKey)
		pc.Model = model
		pc.MaxTokens = int32(c.MaxTokens)
		pc.Temperature = float32(c.Temperature)
		p, err := gemini.New(ctx, pc)
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		a.onClose(p)
		return p, nil
	default:
		pc := openai.DefaultConfig()
		pc.APIKey = c.APIKey
		pc.BaseURL = c.BaseURL
		pc.Model = model
		pc.MaxTokens = int64(c.MaxTokens)
		pc.Temperature = c.Temperature
		return openai.New(pc), nil
	}
}

func (a *App) buildEmbedder() (vector.Embedder, error) {
	e := a.Config.Embedding
	if e.APIKey == "" {
		return nil, errors.New("no embedding API key: set embedding.api_key or OPENAI_API_KEY")
	}
	var base vector.Embedder = openaiembedder.New(e.APIKey, e.BaseURL, e.Model, e.Dimension)

	switch e.Cache {
	case "memory":
		return cache.New(base, cache.NewMapCache(), e.Model), nil
	case "redis":
		r := a.Config.Redis
		rc := cache.NewRedisCache(&cache.RedisConfig{
			Addr:     r.Addr,
			Password: r.Password,
			DB:       r.DB,
			Prefix:   r.Prefix + "embedding:",
			TTL:      e.CacheTTL.Duration,
		})
		a.onClose(rc)
		return cache.New(base, rc, e.Model), nil
	}
	return base, nil
}

func (a *App) buildCatalog(ctx context.Context) (*knowledge.Catalog, error) {
	cat := knowledge.NewCatalog()
	s := a.Config.Store
	if s.Backend != "postgres" {
		cat.Register(knowledge.Structured, inmemory.New())
		cat.Register(knowledge.Quotation, inmemory.New())
		return cat, nil
	}

	db, err := pg.Open(ctx, a.pgConfig(s.StructuredTable))
	if err != nil {
		return nil, err
	}
	a.onClose(db)
	for collection, table := range map[knowledge.Collection]string{
		knowledge.Structured: s.StructuredTable,
		knowledge.Quotation:  s.QuotationTable,
	} {
		vs, err := pg.NewWithDB(ctx, db, table, a.Embedder.Dimension())
		if err != nil {
			return nil, fmt.Errorf("open %s collection: %w", collection, err)
		}
		cat.Register(collection, vs)
	}
	return cat, nil
}

func (a *App) pgConfig(table string) *pg.Config {
	p := a.Config.Postgres
	return &pg.Config{
		DSN:       p.DSN,
		Host:      p.Host,
		Port:      p.Port,
		User:      p.User,
		Password:  p.Password,
		DBName:    p.DBName,
		SSLMode:   p.SSLMode,
		Dimension: a.Config.Embedding.Dimension,
		TableName: table,
	}
}

func (a *App) buildTranscripts(ctx context.Context) (transcript.Store, error) {
	t := a.Config.Transcript
	switch t.Backend {
	case "memory":
		return transcript.NewMemoryStore(), nil
	case "sqlite":
		s, err := store.NewSQLiteStore(ctx, t.SQLitePath, t.Table)
		if err != nil {
			return nil, err
		}
		a.onClose(s)
		return s, nil
	case "postgres":
		p := a.Config.Postgres
		s, err := store.NewPostgresStore(ctx, &store.PostgresConfig{
			DSN:      p.DSN,
			Host:     p.Host,
			Port:     p.Port,
			User:     p.User,
			Password: p.Password,
			DBName:   p.DBName,
			SSLMode:  p.SSLMode,
			Table:    t.Table,
		})
		if err != nil {
			return nil, err
		}
		a.onClose(s)
		return s, nil
	case "mongo":
		m := a.Config.Mongo
		s, err := store.NewMongoStore(ctx, &store.MongoConfig{URI: m.URI, Database: m.Database, Collection: m.Collection})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	case "redis":
		r := a.Config.Redis
		s := store.NewRedisStore(&store.RedisConfig{
			Addr:     r.Addr,
			Password: r.Password,
			DB:       r.DB,
			Prefix:   r.Prefix + "transcript:",
			TTL:      t.TTL.Duration,
		})
		a.onClose(s)
		return s, nil
	}
	return nil, nil
}
