// Package config loads bookqa settings from a TOML file layered over
// defaults, then applies environment overrides and validates the result.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Duration is a time.Duration written as a string ("30s") in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the complete bookqa configuration.
type Config struct {
	Log        LogConfig        `toml:"log"`
	Telemetry  TelemetryConfig  `toml:"telemetry"`
	LLM        LLMConfig        `toml:"llm"`
	Embedding  EmbeddingConfig  `toml:"embedding"`
	Store      StoreConfig      `toml:"store"`
	Transcript TranscriptConfig `toml:"transcript"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	Mongo      MongoConfig      `toml:"mongo"`
	Replan     ReplanConfig     `toml:"replan"`
	Ingest     IngestConfig     `toml:"ingest"`
	Runner     RunnerConfig     `toml:"runner"`
	MCP        MCPConfig        `toml:"mcp"`
}

// LogConfig selects log level and format.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// TelemetryConfig toggles tracing.
type TelemetryConfig struct {
	Enabled     bool    `toml:"enabled"`
	Environment string  `toml:"environment"`
	Exporter    string  `toml:"exporter"`
	Endpoint    string  `toml:"endpoint"`
	SampleRatio float64 `toml:"sample_ratio"`
}

// LLMConfig selects the generation provider. PlannerModel and JudgeModel
// override Model for the planning and judging roles.
type LLMConfig struct {
	Provider     string  `toml:"provider"`
	Model        string  `toml:"model"`
	PlannerModel string  `toml:"planner_model"`
	JudgeModel   string  `toml:"judge_model"`
	APIKey       string  `toml:"api_key"`
	BaseURL      string  `toml:"base_url"`
	Temperature  float64 `toml:"temperature"`
	MaxTokens    int     `toml:"max_tokens"`

	// RateLimit caps generation calls per second; 0 disables limiting.
	RateLimit float64 `toml:"rate_limit"`
	Burst     int     `toml:"burst"`
}

// EmbeddingConfig selects the embedding model and its cache.
type EmbeddingConfig struct {
	Model     string   `toml:"model"`
	Dimension int      `toml:"dimension"`
	APIKey    string   `toml:"api_key"`
	BaseURL   string   `toml:"base_url"`
	Cache     string   `toml:"cache"`
	CacheTTL  Duration `toml:"cache_ttl"`
}

// StoreConfig selects the vector backend of the knowledge store.
type StoreConfig struct {
	Backend         string `toml:"backend"`
	StructuredTable string `toml:"structured_table"`
	QuotationTable  string `toml:"quotation_table"`
}

// TranscriptConfig selects where finished requests are recorded.
type TranscriptConfig struct {
	Backend    string   `toml:"backend"`
	SQLitePath string   `toml:"sqlite_path"`
	Table      string   `toml:"table"`
	TTL        Duration `toml:"ttl"`
}

// PostgresConfig holds PostgreSQL connection settings. DSN wins over the
// discrete fields.
type PostgresConfig struct {
	DSN      string `toml:"dsn"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	DBName   string `toml:"dbname"`
	SSLMode  string `toml:"sslmode"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Prefix   string `toml:"prefix"`
}

// MongoConfig holds MongoDB connection settings.
type MongoConfig struct {
	URI        string `toml:"uri"`
	Database   string `toml:"database"`
	Collection string `toml:"collection"`
}

// ReplanConfig tunes the question answering controller.
type ReplanConfig struct {
	MaxPlanSteps      int      `toml:"max_plan_steps"`
	RetryBudget       int      `toml:"retry_budget"`
	TopK              int      `toml:"top_k"`
	Overfetch         int      `toml:"overfetch"`
	MinScore          float64  `toml:"min_score"`
	RefinePlan        bool     `toml:"refine_plan"`
	AdapterTimeout    Duration `toml:"adapter_timeout"`
	AdapterRetries    int      `toml:"adapter_retries"`
	RetryBackoff      Duration `toml:"retry_backoff"`
	MaxFragmentTokens int      `toml:"max_fragment_tokens"`
	NoAnswerMessage   string   `toml:"no_answer_message"`
	Classifier        string   `toml:"classifier"`
	Sufficiency       string   `toml:"sufficiency"`
	MinEvidence       int      `toml:"min_evidence"`
	Reranker          string   `toml:"reranker"`
	CohereAPIKey      string   `toml:"cohere_api_key"`
	CohereModel       string   `toml:"cohere_model"`
	Tokenizer         string   `toml:"tokenizer"`
	TiktokenEncoding  string   `toml:"tiktoken_encoding"`
}

// IngestConfig tunes ingestion.
type IngestConfig struct {
	// Chunker is "characters" or "tokens"; it sets the unit of chunk_size
	// and chunk_overlap. Token windows use replan.tokenizer.
	Chunker        string   `toml:"chunker"`
	ChunkSize      int      `toml:"chunk_size"`
	ChunkOverlap   int      `toml:"chunk_overlap"`
	MinQuoteLength int      `toml:"min_quote_length"`
	BatchSize      int      `toml:"batch_size"`
	Noise          []string `toml:"noise"`
	// SummarySentences indexes the first sentences of each chapter as its
	// summary; 0 disables chapter summaries.
	SummarySentences int `toml:"summary_sentences"`
}

// RunnerConfig bounds batch answering.
type RunnerConfig struct {
	Concurrency int `toml:"concurrency"`
}

// MCPConfig selects the tool server transport.
type MCPConfig struct {
	Transport string `toml:"transport"`
	Addr      string `toml:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log:       LogConfig{Level: "info", Format: "json"},
		Telemetry: TelemetryConfig{Environment: "development"},
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			Temperature: 0,
			MaxTokens:   2000,
			Burst:       1,
		},
		Embedding: EmbeddingConfig{
			Model:     "text-embedding-3-small",
			Dimension: 1536,
			Cache:     "none",
			CacheTTL:  Duration{24 * time.Hour},
		},
		Store: StoreConfig{
			Backend:         "memory",
			StructuredTable: "book_chunks",
			QuotationTable:  "book_quotes",
		},
		Transcript: TranscriptConfig{
			Backend:    "none",
			SQLitePath: "bookqa.db",
			Table:      "transcripts",
		},
		Postgres: PostgresConfig{
			Host:    "127.0.0.1",
			Port:    5432,
			User:    "postgres",
			DBName:  "bookqa",
			SSLMode: "disable",
		},
		Redis: RedisConfig{Addr: "localhost:6379", Prefix: "bookqa:"},
		Mongo: MongoConfig{URI: "mongodb://localhost:27017", Database: "bookqa", Collection: "transcripts"},
		Replan: ReplanConfig{
			MaxPlanSteps:     5,
			RetryBudget:      6,
			TopK:             5,
			Overfetch:        2,
			RefinePlan:       true,
			AdapterTimeout:   Duration{60 * time.Second},
			AdapterRetries:   1,
			RetryBackoff:     Duration{500 * time.Millisecond},
			Classifier:       "chain",
			Sufficiency:      "none",
			Reranker:         "none",
			Tokenizer:        "word",
			TiktokenEncoding: "cl100k_base",
		},
		Ingest: IngestConfig{
			Chunker:        "characters",
			ChunkSize:      1000,
			ChunkOverlap:   200,
			MinQuoteLength: 50,
			BatchSize:      10,
		},
		Runner: RunnerConfig{Concurrency: 4},
		MCP:    MCPConfig{Transport: "stdio", Addr: ":8080"},
	}
}

// Load reads path over Default, applies environment overrides and validates.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes TOML data into cfg, keeping values the data does not set.
// Unknown keys are rejected.
func Parse(data []byte, cfg *Config) error {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return errors.New(strict.String())
		}
		return err
	}
	return nil
}

// Encode renders cfg as TOML.
func Encode(cfg *Config) ([]byte, error) {
	return toml.Marshal(cfg)
}

// ApplyEnv overrides settings from environment variables read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.Log.Level, "BOOKQA_LOG_LEVEL")
	set(&c.Log.Format, "BOOKQA_LOG_FORMAT")
	set(&c.LLM.Provider, "BOOKQA_LLM_PROVIDER")
	set(&c.LLM.Model, "BOOKQA_LLM_MODEL")
	set(&c.LLM.APIKey, "BOOKQA_LLM_API_KEY")
	set(&c.Postgres.DSN, "BOOKQA_POSTGRES_DSN")
	set(&c.Redis.Addr, "BOOKQA_REDIS_ADDR")
	set(&c.Mongo.URI, "BOOKQA_MONGO_URI")
	set(&c.Store.Backend, "BOOKQA_STORE_BACKEND")
	set(&c.Transcript.Backend, "BOOKQA_TRANSCRIPT_BACKEND")
	if v := getenv("BOOKQA_RETRY_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Replan.RetryBudget = n
		}
	}

	if c.LLM.APIKey == "" {
		c.LLM.APIKey = getenv(ProviderKeyEnv(c.LLM.Provider))
	}
	if c.Embedding.APIKey == "" {
		c.Embedding.APIKey = getenv("OPENAI_API_KEY")
	}
	if c.Replan.CohereAPIKey == "" {
		c.Replan.CohereAPIKey = getenv("COHERE_API_KEY")
	}
}

// ProviderKeyEnv names the conventional API key variable of a provider.
func ProviderKeyEnv(provider string) string {
	switch provider {
	case "claude", "anthropic":
		return "ANTHROPIC_API_KEY"
	case "groq":
		return "GROQ_API_KEY"
	case "cohere":
		return "COHERE_API_KEY"
	case "gemini":
		return "GEMINI_API_KEY"
	default:
		return "OPENAI_API_KEY"
	}
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	v := NewValidator()

	v.ValidateOneOf("log.level", strings.ToLower(c.Log.Level), "debug", "info", "warn", "warning", "error")
	v.ValidateOneOf("log.format", strings.ToLower(c.Log.Format), "json", "text")

	if c.Telemetry.Exporter != "" {
		v.ValidateOneOf("telemetry.exporter", c.Telemetry.Exporter, "stdout", "otlp")
	}
	v.ValidateFloatRange("telemetry.sample_ratio", c.Telemetry.SampleRatio, 0, 1)
	v.ValidateOneOf("llm.provider", c.LLM.Provider, "openai", "claude", "anthropic", "groq", "gemini", "cohere")
	v.RequireNonEmpty("llm.model", c.LLM.Model)
	v.ValidateFloatRange("llm.temperature", c.LLM.Temperature, 0.0, 2.0)
	v.RequirePositive("llm.max_tokens", c.LLM.MaxTokens)
	v.ValidateFloatRange("llm.rate_limit", c.LLM.RateLimit, 0, 1000)

	v.RequireNonEmpty("embedding.model", c.Embedding.Model)
	v.ValidateRange("embedding.dimension", c.Embedding.Dimension, 1, 65535)
	v.ValidateOneOf("embedding.cache", c.Embedding.Cache, "none", "memory", "redis")

	v.ValidateOneOf("store.backend", c.Store.Backend, "memory", "postgres")
	v.ValidateOneOf("transcript.backend", c.Transcript.Backend, "none", "memory", "sqlite", "postgres", "mongo", "redis")

	if c.Store.Backend == "postgres" || c.Transcript.Backend == "postgres" {
		c.validatePostgres(v)
	}
	if c.Embedding.Cache == "redis" || c.Transcript.Backend == "redis" {
		v.RequireNonEmpty("redis.addr", c.Redis.Addr)
		v.ValidateDBNumber("redis.db", c.Redis.DB)
		v.RequireNonEmpty("redis.prefix", c.Redis.Prefix)
	}
	if c.Transcript.Backend == "mongo" {
		v.RequireNonEmpty("mongo.uri", c.Mongo.URI)
		v.RequireNonEmpty("mongo.database", c.Mongo.Database)
		v.RequireNonEmpty("mongo.collection", c.Mongo.Collection)
	}
	if c.Transcript.Backend == "sqlite" {
		v.RequireNonEmpty("transcript.sqlite_path", c.Transcript.SQLitePath)
	}

	r := c.Replan
	v.ValidateRange("replan.max_plan_steps", r.MaxPlanSteps, 1, 20)
	v.RequireNonNegative("replan.retry_budget", r.RetryBudget)
	v.ValidateRange("replan.top_k", r.TopK, 1, 100)
	v.ValidateRange("replan.overfetch", r.Overfetch, 1, 20)
	v.ValidateFloatRange("replan.min_score", r.MinScore, 0, 1)
	v.RequireDuration("replan.adapter_timeout", r.AdapterTimeout.Duration)
	v.ValidateRange("replan.adapter_retries", r.AdapterRetries, 0, 5)
	v.RequireDuration("replan.retry_backoff", r.RetryBackoff.Duration)
	v.RequireNonNegative("replan.max_fragment_tokens", r.MaxFragmentTokens)
	v.ValidateOneOf("replan.classifier", r.Classifier, "rules", "llm", "chain")
	v.ValidateOneOf("replan.sufficiency", r.Sufficiency, "none", "min_evidence", "llm")
	if r.Sufficiency == "min_evidence" {
		v.RequirePositive("replan.min_evidence", r.MinEvidence)
	}
	v.ValidateOneOf("replan.reranker", r.Reranker, "none", "cosine", "mmr", "cohere")
	v.ValidateOneOf("replan.tokenizer", r.Tokenizer, "word", "tiktoken")

	in := c.Ingest
	v.ValidateOneOf("ingest.chunker", in.Chunker, "characters", "tokens")
	v.RequirePositive("ingest.chunk_size", in.ChunkSize)
	v.RequireNonNegative("ingest.chunk_overlap", in.ChunkOverlap)
	if in.ChunkOverlap >= in.ChunkSize && in.ChunkSize > 0 {
		v.errors = append(v.errors, ValidationError{
			Field:   "ingest.chunk_overlap",
			Message: fmt.Sprintf("overlap %d must be smaller than chunk_size %d", in.ChunkOverlap, in.ChunkSize),
		})
	}
	v.RequirePositive("ingest.min_quote_length", in.MinQuoteLength)
	v.RequirePositive("ingest.batch_size", in.BatchSize)
	v.RequireNonNegative("ingest.summary_sentences", in.SummarySentences)

	v.RequirePositive("runner.concurrency", c.Runner.Concurrency)
	v.ValidateOneOf("mcp.transport", c.MCP.Transport, "stdio", "http")
	if c.MCP.Transport == "http" {
		v.RequireNonEmpty("mcp.addr", c.MCP.Addr)
	}

	return v.Error()
}

func (c *Config) validatePostgres(v *Validator) {
	if c.Postgres.DSN != "" {
		return
	}
	p := c.Postgres
	v.RequireNonEmpty("postgres.host", p.Host)
	v.ValidatePort("postgres.port", p.Port)
	v.RequireNonEmpty("postgres.user", p.User)
	v.RequireNonEmpty("postgres.dbname", p.DBName)
	v.ValidateOneOf("postgres.sslmode", p.SSLMode, "disable", "require", "verify-ca", "verify-full")
}

// RequireAPIKey reports a missing generation key; it is checked only by
// commands that call the provider.
func (c *Config) RequireAPIKey() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("no API key for provider %q: set llm.api_key, BOOKQA_LLM_API_KEY or %s",
			c.LLM.Provider, ProviderKeyEnv(c.LLM.Provider))
	}
	return nil
}
