package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	"github.com/sweetpotato0/bookqa/vector"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// Store implements vector.VectorStore using PostgreSQL with the pgvector
// extension. Each knowledge collection lives in its own table.
type Store struct {
	db        *sql.DB
	ownsDB    bool
	dimension int
	tableName string
}

// Config holds pgvector configuration
type Config struct {
	DSN       string // takes precedence over the discrete fields below
	Host      string
	Port      int
	User      string
	Password  string
	DBName    string
	SSLMode   string
	Dimension int    // Embedding dimension (default: 1536 for OpenAI)
	TableName string // Table name (default: book_chunks)
}

// DefaultConfig returns default pgvector configuration
func DefaultConfig() *Config {
	return &Config{
		Host:      "127.0.0.1",
		Port:      5432,
		User:      "postgres",
		DBName:    "bookqa",
		SSLMode:   "disable",
		Dimension: 1536,
		TableName: "book_chunks",
	}
}

// ConnString renders the libpq connection string.
func (c *Config) ConnString() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// Open connects to PostgreSQL. The returned handle can back several stores.
func Open(ctx context.Context, config *Config) (*sql.DB, error) {
	if config == nil {
		config = DefaultConfig()
	}
	db, err := sql.Open("postgres", config.ConnString())
	if err != nil {
		return nil, fmt.Errorf("pg: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pg: ping: %w", err)
	}
	return db, nil
}

// New creates a store with its own connection.
func New(ctx context.Context, config *Config) (*Store, error) {
	if config == nil {
		config = DefaultConfig()
	}
	db, err := Open(ctx, config)
	if err != nil {
		return nil, err
	}
	store, err := NewWithDB(ctx, db, config.TableName, config.Dimension)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	store.ownsDB = true
	return store, nil
}

// NewWithDB creates a store over a shared connection, creating the table on
// first use.
func NewWithDB(ctx context.Context, db *sql.DB, table string, dimension int) (*Store, error) {
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("pg: invalid table name %q", table)
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("pg: dimension must be positive, got %d", dimension)
	}
	store := &Store{db: db, dimension: dimension, tableName: table}
	if err := store.setup(ctx); err != nil {
		return nil, fmt.Errorf("pg: setup %s: %w", table, err)
	}
	return store, nil
}

func (s *Store) setup(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}

	createTableSQL := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		id VARCHAR(255) PRIMARY KEY,
		text TEXT NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
		embedding vector(%d) NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`, s.tableName, s.dimension)
	if _, err := s.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	indexSQL := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING hnsw (embedding vector_cosine_ops)`,
		s.tableName, s.tableName)
	if _, err := s.db.ExecContext(ctx, indexSQL); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	return nil
}

// AddEmbedding upserts an embedding.
func (s *Store) AddEmbedding(ctx context.Context, embedding *vector.Embedding) error {
	if embedding == nil {
		return errors.New("embedding cannot be nil")
	}
	if embedding.ID == "" {
		return errors.New("embedding ID cannot be empty")
	}
	if len(embedding.Vector) != s.dimension {
		return fmt.Errorf("embedding dimension mismatch: expected %d, got %d", s.dimension, len(embedding.Vector))
	}

	meta, err := encodeMetadata(embedding.Metadata)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
	INSERT INTO %s (id, text, metadata, embedding)
	VALUES ($1, $2, $3::jsonb, $4::vector)
	ON CONFLICT (id) DO UPDATE SET
		text = EXCLUDED.text,
		metadata = EXCLUDED.metadata,
		embedding = EXCLUDED.embedding,
		created_at = CURRENT_TIMESTAMP
	`, s.tableName)

	if _, err := s.db.ExecContext(ctx, query, embedding.ID, embedding.Text, meta, formatVector(embedding.Vector)); err != nil {
		return fmt.Errorf("add embedding: %w", err)
	}
	return nil
}

// Search orders rows by cosine distance and reports 1 - distance as score.
func (s *Store) Search(ctx context.Context, queryVector []float32, topK int) ([]*vector.Embedding, error) {
	if len(queryVector) == 0 {
		return nil, errors.New("query vector cannot be empty")
	}
	if len(queryVector) != s.dimension {
		return nil, fmt.Errorf("query vector dimension mismatch: expected %d, got %d", s.dimension, len(queryVector))
	}
	if topK <= 0 {
		topK = 10
	}

	op := vector.CosineDistanceOperator()
	query := fmt.Sprintf(`
	SELECT id, text, metadata, embedding, 1 - (embedding %s $1::vector) AS score
	FROM %s
	ORDER BY embedding %s $1::vector, id
	LIMIT $2
	`, op, s.tableName, op)

	rows, err := s.db.QueryContext(ctx, query, formatVector(queryVector), topK)
	if err != nil {
		return nil, fmt.Errorf("search embeddings: %w", err)
	}
	defer rows.Close()

	embeddings := make([]*vector.Embedding, 0, topK)
	for rows.Next() {
		var (
			id, text, vecStr string
			meta             []byte
			score            float64
		)
		if err := rows.Scan(&id, &text, &meta, &vecStr, &score); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		emb, err := decodeRow(id, text, meta, vecStr)
		if err != nil {
			return nil, err
		}
		emb.Score = float32(score)
		embeddings = append(embeddings, emb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings: %w", err)
	}
	return embeddings, nil
}

// DeleteEmbedding removes an embedding by ID
func (s *Store) DeleteEmbedding(ctx context.Context, id string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", s.tableName)
	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete embedding: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("embedding %s: %w", id, vector.ErrNotFound)
	}
	return nil
}

// GetEmbedding retrieves a specific embedding by ID
func (s *Store) GetEmbedding(ctx context.Context, id string) (*vector.Embedding, error) {
	query := fmt.Sprintf(`SELECT id, text, metadata, embedding FROM %s WHERE id = $1`, s.tableName)

	var (
		embID, text, vecStr string
		meta                []byte
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(&embID, &text, &meta, &vecStr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("embedding %s: %w", id, vector.ErrNotFound)
		}
		return nil, fmt.Errorf("get embedding: %w", err)
	}
	return decodeRow(embID, text, meta, vecStr)
}

// Clear removes all embeddings
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE %s", s.tableName)); err != nil {
		return fmt.Errorf("clear embeddings: %w", err)
	}
	return nil
}

// Count returns the number of embeddings
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", s.tableName)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count embeddings: %w", err)
	}
	return count, nil
}

// Close closes the database connection when the store opened it.
func (s *Store) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

func decodeRow(id, text string, meta []byte, vecStr string) (*vector.Embedding, error) {
	vec, err := parseVector(vecStr)
	if err != nil {
		return nil, fmt.Errorf("parse vector for %s: %w", id, err)
	}
	emb := &vector.Embedding{ID: id, Text: text, Vector: vec}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &emb.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", id, err)
		}
	}
	return emb, nil
}

func encodeMetadata(meta map[string]any) (string, error) {
	if len(meta) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(b), nil
}

func formatVector(vec []float32) string {
	parts := make([]string, len(vec))
	for i, v := range vec {
		parts[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func parseVector(str string) ([]float32, error) {
	str = strings.TrimSpace(str)
	str = strings.TrimPrefix(str, "[")
	str = strings.TrimSuffix(str, "]")
	if str == "" {
		return nil, nil
	}
	parts := strings.Split(str, ",")
	vec := make([]float32, 0, len(parts))
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, fmt.Errorf("component %d: %w", i, err)
		}
		vec = append(vec, float32(v))
	}
	return vec, nil
}
