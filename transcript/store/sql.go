package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/sweetpotato0/bookqa/transcript"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// dialect captures the differences between the SQL backends.
type dialect struct {
	name        string
	payloadType string
	placeholder func(n int) string
}

var (
	postgresDialect = dialect{
		name:        "postgres",
		payloadType: "JSONB",
		placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	}
	sqliteDialect = dialect{
		name:        "sqlite",
		payloadType: "TEXT",
		placeholder: func(int) string { return "?" },
	}
)

// SQLStore implements transcript.Store on PostgreSQL or SQLite. The full
// record is kept as a JSON payload; the scalar columns exist for ad-hoc
// queries.
type SQLStore struct {
	db      *sql.DB
	table   string
	dialect dialect
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	DSN      string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	Table    string
}

// DefaultPostgresConfig returns default PostgreSQL configuration
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		Host:    "localhost",
		Port:    5432,
		User:    "postgres",
		DBName:  "bookqa",
		SSLMode: "disable",
		Table:   "transcripts",
	}
}

// NewPostgresStore connects to PostgreSQL and creates the table if needed.
func NewPostgresStore(ctx context.Context, config *PostgresConfig) (*SQLStore, error) {
	if config == nil {
		config = DefaultPostgresConfig()
	}
	dsn := config.DSN
	if dsn == "" {
		dsn = fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}
	return newSQLStore(ctx, db, config.Table, postgresDialect)
}

// NewSQLiteStore opens (or creates) a SQLite database file.
func NewSQLiteStore(ctx context.Context, path, table string) (*SQLStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}
	// SQLite serialises writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	return newSQLStore(ctx, db, table, sqliteDialect)
}

func newSQLStore(ctx context.Context, db *sql.DB, table string, d dialect) (*SQLStore, error) {
	if table == "" {
		table = "transcripts"
	}
	if !tableNamePattern.MatchString(table) {
		_ = db.Close()
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	s := &SQLStore{db: db, table: table, dialect: d}
	if err := s.createTable(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	return s, nil
}

func (s *SQLStore) createTable(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	question TEXT NOT NULL,
	response TEXT NOT NULL,
	grounded BOOLEAN NOT NULL,
	status TEXT NOT NULL,
	error_kind TEXT NOT NULL,
	payload %s NOT NULL,
	created_at BIGINT NOT NULL
)`, s.table, s.dialect.payloadType),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_created_at ON %s(created_at)`, s.table, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Save implements transcript.Store. Saving an existing id replaces it.
func (s *SQLStore) Save(ctx context.Context, rec *transcript.Record) error {
	if err := transcript.Prepare(rec); err != nil {
		return err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal transcript: %w", err)
	}

	p := s.dialect.placeholder
	query := fmt.Sprintf(`INSERT INTO %s (id, question, response, grounded, status, error_kind, payload, created_at)
VALUES (%s, %s, %s, %s, %s, %s, %s, %s)
ON CONFLICT (id) DO UPDATE SET
	question = excluded.question,
	response = excluded.response,
	grounded = excluded.grounded,
	status = excluded.status,
	error_kind = excluded.error_kind,
	payload = excluded.payload,
	created_at = excluded.created_at`,
		s.table, p(1), p(2), p(3), p(4), p(5), p(6), p(7), p(8))

	_, err = s.db.ExecContext(ctx, query,
		rec.ID,
		rec.Question,
		rec.Response,
		rec.Grounded,
		string(rec.Status),
		rec.ErrorKind,
		string(payload),
		rec.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save transcript to %s: %w", s.dialect.name, err)
	}
	return nil
}

// Get implements transcript.Store.
func (s *SQLStore) Get(ctx context.Context, id string) (*transcript.Record, error) {
	query := fmt.Sprintf(`SELECT payload FROM %s WHERE id = %s`, s.table, s.dialect.placeholder(1))
	var payload string
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("transcript %s: %w", id, transcript.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get transcript: %w", err)
	}
	return decodeRecord(payload)
}

// List implements transcript.Store.
func (s *SQLStore) List(ctx context.Context, limit int) ([]*transcript.Record, error) {
	query := fmt.Sprintf(`SELECT payload FROM %s ORDER BY created_at DESC, id ASC`, s.table)
	args := []any{}
	if limit > 0 {
		query += " LIMIT " + s.dialect.placeholder(1)
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transcripts: %w", err)
	}
	defer rows.Close()

	out := make([]*transcript.Record, 0)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan transcript: %w", err)
		}
		rec, err := decodeRecord(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transcripts: %w", err)
	}
	return out, nil
}

// Count returns the number of stored transcripts.
func (s *SQLStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", s.table)).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count transcripts: %w", err)
	}
	return count, nil
}

// Close closes the database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func decodeRecord(payload string) (*transcript.Record, error) {
	var rec transcript.Record
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transcript: %w", err)
	}
	return &rec, nil
}
