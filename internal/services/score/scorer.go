// Package score grades translations on a 1 to 5 quality scale through the
// configured model provider.
package score

import (
	"context"
	"fmt"
	"strings"
	"time"

	"glossa/internal/services"
	"glossa/internal/services/provider"
	"glossa/internal/task"
)

const systemPrompt = `You are a translation quality evaluator. Grade the translation of the source text.
Judge accuracy, fluency, and adherence to the stated editorial constraints.
Respond with JSON only:
{"score": <number 1-5>, "confidence": <number 0-1>, "feedback": ["<specific issue>", ...]}
Use an empty feedback array when the translation has no notable issues.`

// Request describes one scoring unit.
type Request struct {
	SourceText     string
	TranslatedText string
	SourceLanguage string
	TargetLanguage string
	Editorial      task.EditorialContext
	// HumanFeedback carries reviewer comments during a post-review re-score
	// so the grader weighs them against the translation.
	HumanFeedback string
}

// Scorer grades translations through the configured model provider.
type Scorer struct {
	client *provider.Client
}

// New constructs a Scorer backed by the given provider client.
func New(client *provider.Client) *Scorer {
	return &Scorer{client: client}
}

// Score grades one translation and returns a normalized automated score.
func (s *Scorer) Score(ctx context.Context, req Request) (task.AutomatedScore, error) {
	var empty task.AutomatedScore
	if strings.TrimSpace(req.TranslatedText) == "" {
		return empty, services.Wrap(services.ErrValidation, "score", "grade", "translated text required", nil)
	}

	content, err := s.client.CompleteJSON(ctx, systemPrompt, buildUserPrompt(req))
	if err != nil {
		marker := services.ErrExternalService
		if provider.IsClientError(err) {
			marker = services.ErrConfiguration
		}
		return empty, services.Wrap(marker, "score", "grade", "scoring request failed", err)
	}

	var parsed struct {
		Score      float64  `json:"score"`
		Confidence float64  `json:"confidence"`
		Feedback   []string `json:"feedback"`
	}
	if err := provider.DecodeModelJSON(content, &parsed); err != nil {
		return empty, services.Wrap(services.ErrExternalService, "score", "grade", "parse score payload", err)
	}
	if parsed.Score <= 0 {
		return empty, services.Wrap(services.ErrExternalService, "score", "grade", "provider returned no score", nil)
	}
	if parsed.Confidence < 0 {
		parsed.Confidence = 0
	}
	if parsed.Confidence > 1 {
		parsed.Confidence = 1
	}
	return task.AutomatedScore{
		Score:      task.NormalizeScore(parsed.Score),
		Feedback:   trimFeedback(parsed.Feedback),
		Confidence: parsed.Confidence,
		ScoredAt:   time.Now().UTC(),
	}, nil
}

// HealthCheck verifies the provider connection.
func (s *Scorer) HealthCheck(ctx context.Context) error {
	return s.client.HealthCheck(ctx)
}

func buildUserPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Target language: %s\n", req.TargetLanguage)
	if req.SourceLanguage != "" {
		fmt.Fprintf(&b, "Source language: %s\n", req.SourceLanguage)
	}
	if req.Editorial.Tone != "" {
		fmt.Fprintf(&b, "Required tone: %s\n", req.Editorial.Tone)
	}
	if req.Editorial.Audience != "" {
		fmt.Fprintf(&b, "Audience: %s\n", req.Editorial.Audience)
	}
	if req.Editorial.Style != "" {
		fmt.Fprintf(&b, "Style: %s\n", req.Editorial.Style)
	}
	if req.HumanFeedback != "" {
		fmt.Fprintf(&b, "Human reviewer comments:\n%s\n", req.HumanFeedback)
	}
	b.WriteString("\nSource text:\n")
	b.WriteString(req.SourceText)
	b.WriteString("\n\nTranslation:\n")
	b.WriteString(req.TranslatedText)
	return b.String()
}

func trimFeedback(feedback []string) []string {
	var cleaned []string
	for _, item := range feedback {
		if item = strings.TrimSpace(item); item != "" {
			cleaned = append(cleaned, item)
		}
	}
	return cleaned
}
