package config

import (
	"strings"
	"testing"
	"time"
)

func TestValidatorRules(t *testing.T) {
	tests := []struct {
		name      string
		check     func(v *Validator)
		wantError bool
	}{
		{"non-empty model", func(v *Validator) { v.RequireNonEmpty("llm.model", "gpt-4o-mini") }, false},
		{"empty model", func(v *Validator) { v.RequireNonEmpty("llm.model", "") }, true},
		{"positive top_k", func(v *Validator) { v.RequirePositive("replan.top_k", 5) }, false},
		{"zero batch size", func(v *Validator) { v.RequirePositive("ingest.batch_size", 0) }, true},
		{"negative concurrency", func(v *Validator) { v.RequirePositive("runner.concurrency", -1) }, true},
		{"zero retry budget", func(v *Validator) { v.RequireNonNegative("replan.retry_budget", 0) }, false},
		{"negative retry budget", func(v *Validator) { v.RequireNonNegative("replan.retry_budget", -1) }, true},
		{"positive timeout", func(v *Validator) { v.RequireDuration("replan.adapter_timeout", time.Second) }, false},
		{"zero timeout", func(v *Validator) { v.RequireDuration("replan.adapter_timeout", 0) }, true},
		{"range lower bound", func(v *Validator) { v.ValidateRange("replan.top_k", 1, 1, 100) }, false},
		{"range upper bound", func(v *Validator) { v.ValidateRange("replan.top_k", 100, 1, 100) }, false},
		{"range below", func(v *Validator) { v.ValidateRange("replan.top_k", 0, 1, 100) }, true},
		{"range above", func(v *Validator) { v.ValidateRange("replan.top_k", 101, 1, 100) }, true},
		{"temperature in range", func(v *Validator) { v.ValidateFloatRange("llm.temperature", 0.7, 0, 2) }, false},
		{"temperature above", func(v *Validator) { v.ValidateFloatRange("llm.temperature", 2.1, 0, 2) }, true},
		{"min score below", func(v *Validator) { v.ValidateFloatRange("replan.min_score", -0.1, 0, 1) }, true},
		{"postgres port", func(v *Validator) { v.ValidatePort("postgres.port", 5432) }, false},
		{"port zero", func(v *Validator) { v.ValidatePort("postgres.port", 0) }, true},
		{"port too large", func(v *Validator) { v.ValidatePort("postgres.port", 65536) }, true},
		{"redis db", func(v *Validator) { v.ValidateDBNumber("redis.db", 15) }, false},
		{"redis db out of range", func(v *Validator) { v.ValidateDBNumber("redis.db", 16) }, true},
		{"known backend", func(v *Validator) { v.ValidateOneOf("store.backend", "postgres", "memory", "postgres") }, false},
		{"unknown backend", func(v *Validator) { v.ValidateOneOf("store.backend", "sqlite", "memory", "postgres") }, true},
		{"case sensitive", func(v *Validator) { v.ValidateOneOf("store.backend", "Memory", "memory", "postgres") }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewValidator()
			tt.check(v)
			if got := v.HasErrors(); got != tt.wantError {
				t.Errorf("HasErrors() = %v, want %v (errors: %v)", got, tt.wantError, v.Errors())
			}
			if tt.wantError && v.Error() == nil {
				t.Error("Error() returned nil despite recorded errors")
			}
		})
	}
}

func TestValidatorMultipleErrors(t *testing.T) {
	v := NewValidator()
	v.RequireNonEmpty("llm.model", "").
		RequirePositive("replan.top_k", 0).
		ValidateRange("replan.max_plan_steps", 50, 1, 20).
		ValidateOneOf("llm.provider", "openai", "openai", "claude")

	if len(v.Errors()) != 3 {
		t.Fatalf("expected 3 errors, got %d: %v", len(v.Errors()), v.Errors())
	}
	err := v.Error()
	if err == nil {
		t.Fatal("expected combined error")
	}
	for _, field := range []string{"llm.model", "replan.top_k", "replan.max_plan_steps"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("combined error %q does not mention %s", err.Error(), field)
		}
	}
	if strings.Contains(err.Error(), "llm.provider") {
		t.Errorf("valid field reported: %q", err.Error())
	}
}

func TestValidatorNoErrors(t *testing.T) {
	v := NewValidator()
	v.RequireNonEmpty("mongo.uri", "mongodb://localhost:27017")
	if v.Error() != nil || v.HasErrors() || len(v.Errors()) != 0 {
		t.Fatalf("expected no errors, got %v", v.Errors())
	}
}

func TestValidationErrorMessage(t *testing.T) {
	err := ValidationError{Field: "redis.addr", Message: "value cannot be empty"}
	want := `config validation failed for field "redis.addr": value cannot be empty`
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}
