package task

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"
)

// EditorialContext carries the editorial constraints applied to a task's
// translations. Its normalized fields also feed the review-batch fingerprint.
type EditorialContext struct {
	Tone       string `json:"tone,omitempty"`
	Audience   string `json:"audience,omitempty"`
	Style      string `json:"style,omitempty"`
	StyleGuide string `json:"style_guide,omitempty"`
}

// AutomatedScore is the result of one automated quality scoring pass.
type AutomatedScore struct {
	Score      float64   `json:"score"`
	Feedback   []string  `json:"feedback,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	ScoredAt   time.Time `json:"scored_at"`
}

// HumanReview is the result collected from the crowd-review platform for one
// sub-task within one iteration.
type HumanReview struct {
	StudyID     string    `json:"study_id"`
	Score       float64   `json:"score"`
	Feedback    string    `json:"feedback,omitempty"`
	ReviewerIDs []string  `json:"reviewer_ids,omitempty"`
	ReviewedAt  time.Time `json:"reviewed_at"`
}

// ReviewIteration records one pass of automated score, optional human review,
// and re-score for a sub-task. Iterations are append-only: once a sub-task
// moves past an iteration the record never changes.
type ReviewIteration struct {
	Number                int             `json:"number"`
	StartedAt             time.Time       `json:"started_at"`
	CompletedAt           time.Time       `json:"completed_at,omitzero"`
	Automated             *AutomatedScore `json:"automated,omitempty"`
	Human                 *HumanReview    `json:"human,omitempty"`
	ReScore               *AutomatedScore `json:"re_score,omitempty"`
	CombinedScore         float64         `json:"combined_score,omitempty"`
	NeedsAnotherIteration bool            `json:"needs_another_iteration,omitempty"`
	FinalReason           FinalReason     `json:"final_reason,omitempty"`
}

// LanguageSubTask is the per-language unit of work within a Task.
type LanguageSubTask struct {
	TaskID              uuid.UUID         `json:"task_id"`
	Language            string            `json:"language"`
	Status              SubTaskStatus     `json:"status"`
	CurrentIteration    int               `json:"current_iteration"`
	MaxIterations       int               `json:"max_iterations"`
	ConfidenceThreshold float64           `json:"confidence_threshold"`
	Iterations          []ReviewIteration `json:"iterations"`
	TranslatedText      string            `json:"translated_text,omitempty"`
	BatchIDs            []string          `json:"batch_ids,omitempty"`
	PendingEvents       []string          `json:"pending_events,omitempty"`
	ErrorMessage        string            `json:"error_message,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
	Revision            int64             `json:"revision"`
}

// Task is one submitted translation-and-review job spanning multiple
// destination languages.
type Task struct {
	ID                  uuid.UUID                   `json:"id"`
	Status              Status                      `json:"status"`
	SourceText          string                      `json:"source_text"`
	SourceLanguage      string                      `json:"source_language,omitempty"`
	Editorial           EditorialContext            `json:"editorial"`
	Languages           []string                    `json:"languages"`
	SubTasks            map[string]*LanguageSubTask `json:"sub_tasks"`
	MaxReviewIterations int                         `json:"max_review_iterations"`
	ConfidenceThreshold float64                     `json:"confidence_threshold"`
	StudyIDs            map[string]string           `json:"study_ids,omitempty"`
	ResultJSON          string                      `json:"result,omitempty"`
	ErrorMessage        string                      `json:"error_message,omitempty"`
	CreatedAt           time.Time                   `json:"created_at"`
	UpdatedAt           time.Time                   `json:"updated_at"`
	Revision            int64                       `json:"revision"`
}

// Common validation errors for task construction.
var (
	ErrEmptySourceText   = errors.New("source text must not be empty")
	ErrNoLanguages       = errors.New("at least one destination language is required")
	ErrInvalidIterations = errors.New("max review iterations must be at least 1")
	ErrInvalidThreshold  = errors.New("confidence threshold must be between 1 and 5")
)

// New constructs a Task with one pending sub-task per destination language.
// Language codes are validated and canonicalized as BCP 47 tags; duplicates
// collapse after normalization.
func New(sourceText, sourceLang string, languages []string, editorial EditorialContext, maxIterations int, threshold float64) (*Task, error) {
	if strings.TrimSpace(sourceText) == "" {
		return nil, ErrEmptySourceText
	}
	if maxIterations < 1 {
		return nil, ErrInvalidIterations
	}
	if threshold < 1 || threshold > 5 {
		return nil, ErrInvalidThreshold
	}

	normalized, err := NormalizeLanguages(languages)
	if err != nil {
		return nil, err
	}
	if len(normalized) == 0 {
		return nil, ErrNoLanguages
	}

	if sourceLang = strings.TrimSpace(sourceLang); sourceLang != "" {
		tag, err := language.Parse(sourceLang)
		if err != nil {
			return nil, fmt.Errorf("invalid source language %q: %w", sourceLang, err)
		}
		sourceLang = tag.String()
	}

	now := time.Now().UTC()
	t := &Task{
		ID:                  uuid.New(),
		Status:              StatusPending,
		SourceText:          sourceText,
		SourceLanguage:      sourceLang,
		Editorial:           editorial,
		Languages:           normalized,
		SubTasks:            make(map[string]*LanguageSubTask, len(normalized)),
		MaxReviewIterations: maxIterations,
		ConfidenceThreshold: threshold,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	for _, lang := range normalized {
		t.SubTasks[lang] = &LanguageSubTask{
			TaskID:              t.ID,
			Language:            lang,
			Status:              SubTaskPending,
			CurrentIteration:    1,
			MaxIterations:       maxIterations,
			ConfidenceThreshold: threshold,
			Iterations:          []ReviewIteration{{Number: 1, StartedAt: now}},
			CreatedAt:           now,
			UpdatedAt:           now,
		}
	}
	return t, nil
}

// NormalizeLanguages validates and canonicalizes destination language codes,
// dropping duplicates while preserving first-seen order.
func NormalizeLanguages(languages []string) ([]string, error) {
	seen := make(map[string]struct{}, len(languages))
	normalized := make([]string, 0, len(languages))
	for _, raw := range languages {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		tag, err := language.Parse(trimmed)
		if err != nil {
			return nil, fmt.Errorf("invalid destination language %q: %w", trimmed, err)
		}
		canonical := tag.String()
		if _, ok := seen[canonical]; ok {
			continue
		}
		seen[canonical] = struct{}{}
		normalized = append(normalized, canonical)
	}
	return normalized, nil
}

// CurrentIterationRecord returns the mutable record for the sub-task's
// current iteration.
func (s *LanguageSubTask) CurrentIterationRecord() *ReviewIteration {
	if len(s.Iterations) == 0 {
		return nil
	}
	return &s.Iterations[len(s.Iterations)-1]
}

// AddPendingEvent records a webhook event identifier awaiting delivery.
func (s *LanguageSubTask) AddPendingEvent(eventID string) {
	for _, id := range s.PendingEvents {
		if id == eventID {
			return
		}
	}
	s.PendingEvents = append(s.PendingEvents, eventID)
}

// RemovePendingEvent clears a delivered webhook event identifier.
func (s *LanguageSubTask) RemovePendingEvent(eventID string) {
	for i, id := range s.PendingEvents {
		if id == eventID {
			s.PendingEvents = append(s.PendingEvents[:i], s.PendingEvents[i+1:]...)
			return
		}
	}
}

// NormalizeScore maps provider scores onto the 1–5 scale used throughout the
// pipeline. Providers that report on a 1–100 scale are divided by 20.
func NormalizeScore(value float64) float64 {
	if value > 5 {
		value = value / 20
	}
	if value < 0 {
		return 0
	}
	if value > 5 {
		return 5
	}
	return value
}
