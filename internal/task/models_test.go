package task

import (
	"errors"
	"testing"
)

func TestNewValidation(t *testing.T) {
	cases := []struct {
		name       string
		source     string
		languages  []string
		iterations int
		threshold  float64
		wantErr    error
	}{
		{"empty source", "  ", []string{"de"}, 3, 3.5, ErrEmptySourceText},
		{"no languages", "text", nil, 3, 3.5, ErrNoLanguages},
		{"blank languages", "text", []string{" ", ""}, 3, 3.5, ErrNoLanguages},
		{"zero iterations", "text", []string{"de"}, 0, 3.5, ErrInvalidIterations},
		{"threshold too low", "text", []string{"de"}, 3, 0.5, ErrInvalidThreshold},
		{"threshold too high", "text", []string{"de"}, 3, 5.5, ErrInvalidThreshold},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.source, "en", tc.languages, EditorialContext{}, tc.iterations, tc.threshold)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestNewCanonicalizesAndDeduplicatesLanguages(t *testing.T) {
	job, err := New("text", "EN", []string{"DE", "pt-br", "de"}, EditorialContext{}, 3, 3.5)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	want := []string{"de", "pt-BR"}
	if len(job.Languages) != len(want) {
		t.Fatalf("languages = %v, want %v", job.Languages, want)
	}
	for i := range want {
		if job.Languages[i] != want[i] {
			t.Fatalf("languages = %v, want %v", job.Languages, want)
		}
	}
	if job.SourceLanguage != "en" {
		t.Fatalf("source language = %q, want en", job.SourceLanguage)
	}
	for _, lang := range want {
		sub, ok := job.SubTasks[lang]
		if !ok {
			t.Fatalf("missing sub-task for %s", lang)
		}
		if sub.Status != SubTaskPending || sub.CurrentIteration != 1 || len(sub.Iterations) != 1 {
			t.Fatalf("sub-task %s not initialized: %+v", lang, sub)
		}
	}
}

func TestNewRejectsInvalidLanguage(t *testing.T) {
	if _, err := New("text", "en", []string{"not a language"}, EditorialContext{}, 3, 3.5); err == nil {
		t.Fatal("expected error for invalid language tag")
	}
}

func TestNormalizeScore(t *testing.T) {
	cases := []struct {
		in, want float64
	}{
		{4.2, 4.2},
		{85, 4.25},
		{100, 5},
		{120, 5},
		{-1, 0},
		{5, 5},
	}
	for _, tc := range cases {
		if got := NormalizeScore(tc.in); got != tc.want {
			t.Errorf("NormalizeScore(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestPendingEventBookkeeping(t *testing.T) {
	sub := &LanguageSubTask{}
	sub.AddPendingEvent("evt-1")
	sub.AddPendingEvent("evt-2")
	sub.AddPendingEvent("evt-1")
	if len(sub.PendingEvents) != 2 {
		t.Fatalf("pending events = %v", sub.PendingEvents)
	}
	sub.RemovePendingEvent("evt-1")
	if len(sub.PendingEvents) != 1 || sub.PendingEvents[0] != "evt-2" {
		t.Fatalf("pending events = %v", sub.PendingEvents)
	}
	sub.RemovePendingEvent("missing")
	if len(sub.PendingEvents) != 1 {
		t.Fatalf("pending events = %v", sub.PendingEvents)
	}
}
