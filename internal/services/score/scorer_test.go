package score

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"glossa/internal/services"
	"glossa/internal/services/provider"
)

func newTestScorer(t *testing.T, content string) *Scorer {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": content}},
			},
		})
	}))
	t.Cleanup(server.Close)
	client := provider.NewClient(
		provider.Config{APIKey: "key", BaseURL: server.URL, Model: "test-model"},
		provider.WithRetryMaxAttempts(1),
	)
	return New(client)
}

func TestScoreParsesPayload(t *testing.T) {
	scorer := newTestScorer(t, `{"score": 4.2, "confidence": 0.9, "feedback": ["minor phrasing", " "]}`)
	got, err := scorer.Score(context.Background(), Request{
		SourceText:     "hello",
		TranslatedText: "hallo",
		TargetLanguage: "de",
	})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if got.Score != 4.2 || got.Confidence != 0.9 {
		t.Fatalf("score = %+v", got)
	}
	if len(got.Feedback) != 1 || got.Feedback[0] != "minor phrasing" {
		t.Fatalf("feedback = %v", got.Feedback)
	}
	if got.ScoredAt.IsZero() {
		t.Fatal("scored_at not set")
	}
}

func TestScoreNormalizesHundredPointScale(t *testing.T) {
	scorer := newTestScorer(t, `{"score": 85, "confidence": 1.4, "feedback": []}`)
	got, err := scorer.Score(context.Background(), Request{
		SourceText:     "hello",
		TranslatedText: "hallo",
		TargetLanguage: "de",
	})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if got.Score != 4.25 {
		t.Fatalf("score = %v, want 4.25", got.Score)
	}
	if got.Confidence != 1 {
		t.Fatalf("confidence = %v, want 1", got.Confidence)
	}
}

func TestScoreRejectsMissingScore(t *testing.T) {
	scorer := newTestScorer(t, `{"feedback": ["no score"]}`)
	_, err := scorer.Score(context.Background(), Request{
		SourceText:     "hello",
		TranslatedText: "hallo",
		TargetLanguage: "de",
	})
	if !errors.Is(err, services.ErrExternalService) {
		t.Fatalf("err = %v, want ErrExternalService", err)
	}
}

func TestScoreValidation(t *testing.T) {
	scorer := newTestScorer(t, `{}`)
	_, err := scorer.Score(context.Background(), Request{SourceText: "hello"})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}
