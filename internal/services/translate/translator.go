// Package translate produces translations of source text into a destination
// language under the task's editorial constraints.
package translate

import (
	"context"
	"fmt"
	"strings"

	"glossa/internal/services"
	"glossa/internal/services/provider"
	"glossa/internal/task"
)

const systemPrompt = `You are a professional translator. Translate the source text into the requested language.
Honor the editorial constraints exactly. Preserve meaning, formatting, and placeholders.
Respond with JSON only: {"translation": "<translated text>"}`

// Request describes one translation unit.
type Request struct {
	SourceText     string
	SourceLanguage string
	TargetLanguage string
	Editorial      task.EditorialContext
	// ReviewerFeedback carries accumulated human feedback when a new
	// iteration requests a fresh translation.
	ReviewerFeedback []string
}

// Translator converts source text through the configured model provider.
type Translator struct {
	client *provider.Client
}

// New constructs a Translator backed by the given provider client.
func New(client *provider.Client) *Translator {
	return &Translator{client: client}
}

// Translate returns the translated text for one language.
func (t *Translator) Translate(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.SourceText) == "" {
		return "", services.Wrap(services.ErrValidation, "translate", "translate", "source text required", nil)
	}
	if strings.TrimSpace(req.TargetLanguage) == "" {
		return "", services.Wrap(services.ErrValidation, "translate", "translate", "target language required", nil)
	}

	content, err := t.client.CompleteJSON(ctx, systemPrompt, buildUserPrompt(req))
	if err != nil {
		marker := services.ErrExternalService
		if provider.IsClientError(err) {
			marker = services.ErrConfiguration
		}
		return "", services.Wrap(marker, "translate", "translate", "translation request failed", err)
	}

	var parsed struct {
		Translation string `json:"translation"`
	}
	if err := provider.DecodeModelJSON(content, &parsed); err != nil {
		return "", services.Wrap(services.ErrExternalService, "translate", "translate", "parse translation payload", err)
	}
	translation := strings.TrimSpace(parsed.Translation)
	if translation == "" {
		return "", services.Wrap(services.ErrExternalService, "translate", "translate", "provider returned empty translation", nil)
	}
	return translation, nil
}

// HealthCheck verifies the provider connection.
func (t *Translator) HealthCheck(ctx context.Context) error {
	return t.client.HealthCheck(ctx)
}

func buildUserPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Target language: %s\n", req.TargetLanguage)
	if req.SourceLanguage != "" {
		fmt.Fprintf(&b, "Source language: %s\n", req.SourceLanguage)
	}
	writeEditorial(&b, req.Editorial)
	if len(req.ReviewerFeedback) > 0 {
		b.WriteString("Reviewer feedback to address:\n")
		for _, feedback := range req.ReviewerFeedback {
			if feedback = strings.TrimSpace(feedback); feedback != "" {
				fmt.Fprintf(&b, "- %s\n", feedback)
			}
		}
	}
	b.WriteString("\nSource text:\n")
	b.WriteString(req.SourceText)
	return b.String()
}

func writeEditorial(b *strings.Builder, editorial task.EditorialContext) {
	if editorial.Tone != "" {
		fmt.Fprintf(b, "Tone: %s\n", editorial.Tone)
	}
	if editorial.Audience != "" {
		fmt.Fprintf(b, "Audience: %s\n", editorial.Audience)
	}
	if editorial.Style != "" {
		fmt.Fprintf(b, "Style: %s\n", editorial.Style)
	}
	if editorial.StyleGuide != "" {
		fmt.Fprintf(b, "Style guide:\n%s\n", editorial.StyleGuide)
	}
}
