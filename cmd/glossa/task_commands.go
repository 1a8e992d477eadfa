package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status <task-id>",
		Short: "Show a task and its per-language progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			got, err := client.Task(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return json.NewEncoder(out).Encode(got)
			}

			fmt.Fprintf(out, "Task %s  status=%s  created=%s\n",
				got.ID, got.Status, got.CreatedAt.Local().Format(time.RFC3339))
			if got.ErrorMessage != "" {
				fmt.Fprintf(out, "Error: %s\n", got.ErrorMessage)
			}

			rows := make([][]string, 0, len(got.Languages))
			for _, lang := range got.Languages {
				sub := got.SubTasks[lang]
				if sub == nil {
					continue
				}
				score := ""
				reason := ""
				if iter := sub.CurrentIterationRecord(); iter != nil {
					if iter.CombinedScore > 0 {
						score = strconv.FormatFloat(iter.CombinedScore, 'f', 2, 64)
					} else if iter.Automated != nil {
						score = strconv.FormatFloat(iter.Automated.Score, 'f', 2, 64)
					}
					reason = string(iter.FinalReason)
				}
				rows = append(rows, []string{
					lang,
					string(sub.Status),
					fmt.Sprintf("%d/%d", sub.CurrentIteration, sub.MaxIterations),
					score,
					reason,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Language", "Status", "Iteration", "Score", "Outcome"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit the task as JSON")
	return cmd
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var statusFilter string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			tasks, err := client.Tasks(cmd.Context(), statusFilter)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return json.NewEncoder(out).Encode(tasks)
			}
			if len(tasks) == 0 {
				fmt.Fprintln(out, "No tasks.")
				return nil
			}

			rows := make([][]string, 0, len(tasks))
			for _, t := range tasks {
				rows = append(rows, []string{
					t.ID.String(),
					string(t.Status),
					strings.Join(t.Languages, ","),
					summarize(t.SourceText, 40),
					t.CreatedAt.Local().Format("2006-01-02 15:04"),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Status", "Languages", "Source", "Created"},
				rows,
				nil,
			))
			return nil
		},
	}
	cmd.Flags().StringVar(&statusFilter, "status", "", "Comma-separated status filter")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit tasks as JSON")
	return cmd
}

func newDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete a task and its queued work",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			if err := client.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted task %s\n", args[0])
			return nil
		},
	}
}

func newWebhooksCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "webhooks <task-id>",
		Short: "Show webhook delivery attempts for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			attempts, err := client.WebhookAttempts(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(attempts) == 0 {
				fmt.Fprintln(out, "No webhook attempts recorded.")
				return nil
			}
			rows := make([][]string, 0, len(attempts))
			for _, a := range attempts {
				rows = append(rows, []string{
					a.EventType,
					a.Mode,
					strconv.Itoa(a.Attempt),
					strconv.Itoa(a.StatusCode),
					a.Outcome,
					a.AttemptedAt.Local().Format("15:04:05"),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Event", "Mode", "Attempt", "HTTP", "Outcome", "At"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}
}

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check daemon and stage readiness",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			report, err := client.Health(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Daemon running: %v\n", report.Running)
			for _, stage := range report.Stages {
				state := "ready"
				if !stage.Ready {
					state = "not ready: " + stage.Detail
				}
				fmt.Fprintf(out, "  %-10s %s\n", stage.Name, state)
			}
			return nil
		},
	}
}

func summarize(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= limit {
		return text
	}
	return text[:limit-3] + "..."
}
