package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"glossa/internal/api"
	"glossa/internal/task"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var (
		text          string
		textFile      string
		sourceLang    string
		languages     []string
		tone          string
		audience      string
		style         string
		styleGuide    string
		maxIterations int
		threshold     float64
		jsonOutput    bool
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit content for translation and review",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			sourceText := text
			if textFile != "" {
				if text != "" {
					return errors.New("use either --text or --file, not both")
				}
				raw, err := os.ReadFile(textFile)
				if err != nil {
					return fmt.Errorf("read source file: %w", err)
				}
				sourceText = string(raw)
			}
			if strings.TrimSpace(sourceText) == "" {
				return errors.New("source text required (--text or --file)")
			}
			if len(languages) == 0 {
				return errors.New("at least one --lang required")
			}

			created, err := client.Submit(cmd.Context(), api.SubmitRequest{
				SourceText:     sourceText,
				SourceLanguage: sourceLang,
				Languages:      languages,
				Editorial: task.EditorialContext{
					Tone:       tone,
					Audience:   audience,
					Style:      style,
					StyleGuide: styleGuide,
				},
				MaxReviewIterations: maxIterations,
				ConfidenceThreshold: threshold,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return json.NewEncoder(out).Encode(created)
			}
			fmt.Fprintf(out, "Submitted task %s for %s\n",
				created.ID, strings.Join(created.Languages, ", "))
			return nil
		},
	}

	cmd.Flags().StringVar(&text, "text", "", "Source text to translate")
	cmd.Flags().StringVar(&textFile, "file", "", "Read source text from a file")
	cmd.Flags().StringVar(&sourceLang, "from", "", "Source language code")
	cmd.Flags().StringArrayVarP(&languages, "lang", "l", nil, "Destination language code (repeatable)")
	cmd.Flags().StringVar(&tone, "tone", "", "Editorial tone guidance")
	cmd.Flags().StringVar(&audience, "audience", "", "Intended audience")
	cmd.Flags().StringVar(&style, "style", "", "Style guidance")
	cmd.Flags().StringVar(&styleGuide, "style-guide", "", "Style guide reference")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "Maximum review iterations (0 = daemon default)")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Confidence threshold on a 1-5 scale (0 = daemon default)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit the created task as JSON")
	return cmd
}
