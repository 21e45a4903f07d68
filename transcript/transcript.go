// Package transcript persists one record per answered question: the final
// answer, its grounding verdict and the trail of steps and evidence that
// produced it.
package transcript

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sweetpotato0/bookqa/pkg/logging"
	"github.com/sweetpotato0/bookqa/rag/replan"
)

// ErrNotFound is returned by Get for an unknown record id.
var ErrNotFound = errors.New("transcript: record not found")

// Status is the terminal outcome of a request.
type Status string

const (
	StatusDone   Status = "done"
	StatusFailed Status = "failed"
)

// Record is the persisted form of one request.
type Record struct {
	ID              string            `json:"id"`
	Question        string            `json:"question"`
	Response        string            `json:"response"`
	Grounded        bool              `json:"grounded"`
	Status          Status            `json:"status"`
	ErrorKind       string            `json:"error_kind,omitempty"`
	Error           string            `json:"error,omitempty"`
	Steps           []replan.Step     `json:"steps"`
	PastSteps       []replan.PastStep `json:"past_steps"`
	Evidence        []replan.Fragment `json:"evidence"`
	Phases          []replan.Phase    `json:"phases"`
	Evaluations     int               `json:"evaluations"`
	Attempts        int               `json:"attempts"`
	BudgetRemaining int               `json:"budget_remaining"`
	BudgetExhausted bool              `json:"budget_exhausted"`
	CreatedAt       time.Time         `json:"created_at"`
	Duration        time.Duration     `json:"duration"`
}

// Store persists records.
type Store interface {
	Save(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	// List returns up to limit records, newest first. limit <= 0 returns all.
	List(ctx context.Context, limit int) ([]*Record, error)
}

// FromResult builds a record from the outcome of Answer. res may be nil.
func FromResult(question string, res *replan.Result, err error, started time.Time, took time.Duration) *Record {
	rec := &Record{
		Question:  question,
		Status:    StatusDone,
		CreatedAt: started.UTC(),
		Duration:  took,
	}
	if res != nil {
		rec.ID = res.RequestID
		rec.Response = res.Response
		rec.Grounded = res.Grounded
		rec.Steps = res.Plan
		rec.PastSteps = res.PastSteps
		rec.Evidence = res.Evidence
		rec.Phases = res.Phases
		rec.Evaluations = res.Evaluations
		rec.Attempts = res.Attempts
		rec.BudgetRemaining = res.BudgetRemaining
		rec.BudgetExhausted = res.BudgetExhausted
	}
	if err != nil {
		rec.Status = StatusFailed
		rec.ErrorKind = string(replan.KindOf(err))
		rec.Error = err.Error()
	}
	return rec
}

// Recorder wraps an Answerer and saves a record for every request that
// reached a terminal state. Cancelled requests leave no record.
type Recorder struct {
	next   replan.Answerer
	store  Store
	logger *slog.Logger
}

// NewRecorder returns an Answerer that records into store.
func NewRecorder(next replan.Answerer, store Store) *Recorder {
	return &Recorder{next: next, store: store, logger: logging.WithComponent("transcript")}
}

// Answer implements replan.Answerer. Persistence failures are logged and
// never change the outcome of the request.
func (r *Recorder) Answer(ctx context.Context, question string) (*replan.Result, error) {
	started := time.Now()
	res, err := r.next.Answer(ctx, question)
	if replan.KindOf(err) == replan.KindCancelled || errors.Is(err, replan.ErrEmptyQuestion) {
		return res, err
	}

	rec := FromResult(question, res, err, started, time.Since(started))
	if saveErr := r.store.Save(context.WithoutCancel(ctx), rec); saveErr != nil {
		r.logger.Warn("transcript save failed", "request_id", rec.ID, "error", saveErr)
	}
	return res, err
}

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Save implements Store.
func (s *MemoryStore) Save(ctx context.Context, rec *Record) error {
	if err := Prepare(rec); err != nil {
		return err
	}
	cp := *rec
	s.mu.Lock()
	s.records[rec.ID] = &cp
	s.mu.Unlock()
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// List implements Store.
func (s *MemoryStore) List(ctx context.Context, limit int) ([]*Record, error) {
	s.mu.RLock()
	out := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		cp := *rec
		out = append(out, &cp)
	}
	s.mu.RUnlock()
	SortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Prepare validates rec and fills in the id and timestamp when missing.
func Prepare(rec *Record) error {
	if rec == nil {
		return errors.New("transcript: record cannot be nil")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return nil
}

// SortNewestFirst orders records by creation time, newest first, breaking
// ties by id.
func SortNewestFirst(recs []*Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.After(recs[j].CreatedAt)
		}
		return recs[i].ID < recs[j].ID
	})
}
