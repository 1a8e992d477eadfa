package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"glossa/internal/api"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Work queue inspection",
	}
	queueCmd.AddCommand(newQueueStatsCommand(ctx))
	return queueCmd
}

func newQueueStatsCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show queue depths, task counts, and worker activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			stats, err := client.QueueStats(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return json.NewEncoder(out).Encode(stats)
			}

			fmt.Fprintln(out, "Queue depth by stage:")
			fmt.Fprintln(out, renderTable([]string{"Stage", "Messages"},
				sortedCountRows(stats.Queue),
				[]columnAlignment{alignLeft, alignRight}))

			fmt.Fprintln(out, "Tasks by status:")
			fmt.Fprintln(out, renderTable([]string{"Status", "Count"},
				sortedCountRows(stats.Tasks),
				[]columnAlignment{alignLeft, alignRight}))

			fmt.Fprintf(out, "Dead letters: %d\n", stats.DeadLetters)
			fmt.Fprintf(out, "Workers: %d  processed=%d retried=%d dead-lettered=%d reclaimed=%d\n",
				stats.Workers.Workers, stats.Workers.Processed, stats.Workers.Retried,
				stats.Workers.DeadLettered, stats.Workers.Reclaimed)
			if len(stats.Workers.PerWorker) > 0 {
				rows := make([][]string, 0, len(stats.Workers.PerWorker))
				for _, counters := range stats.Workers.PerWorker {
					rows = append(rows, []string{
						counters.Worker,
						strconv.FormatInt(counters.Processed, 10),
						strconv.FormatInt(counters.Failed, 10),
						strconv.FormatInt(counters.InFlight, 10),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Worker", "Processed", "Failed", "In flight"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignRight, alignRight},
				))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit stats as JSON")
	return cmd
}

func newDeadLetterCommand(ctx *commandContext) *cobra.Command {
	deadCmd := &cobra.Command{
		Use:   "deadletter",
		Short: "Dead-lettered message management",
	}
	deadCmd.AddCommand(newDeadLetterListCommand(ctx))
	deadCmd.AddCommand(newDeadLetterRetryCommand(ctx))
	return deadCmd
}

func newDeadLetterListCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var fromRelay bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			if fromRelay {
				return listRelayDeadLetters(cmd, client)
			}
			letters, err := client.DeadLetters(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(letters) == 0 {
				fmt.Fprintln(out, "No dead letters.")
				return nil
			}
			rows := make([][]string, 0, len(letters))
			for _, letter := range letters {
				rows = append(rows, []string{
					strconv.FormatInt(letter.ID, 10),
					letter.TaskID,
					letter.Language,
					string(letter.Stage),
					strconv.Itoa(letter.Attempts),
					summarize(letter.LastError, 50),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Task", "Language", "Stage", "Attempts", "Last error"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum entries to show")
	cmd.Flags().BoolVar(&fromRelay, "relay", false, "List relay-service dead letters instead of queue dead letters")
	return cmd
}

func listRelayDeadLetters(cmd *cobra.Command, client *api.Client) error {
	letters, err := client.RelayDeadLetters(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(letters) == 0 {
		fmt.Fprintln(out, "No relay dead letters.")
		return nil
	}
	rows := make([][]string, 0, len(letters))
	for _, letter := range letters {
		rows = append(rows, []string{
			letter.ID,
			letter.Name,
			summarize(letter.URL, 40),
			summarize(letter.LastError, 50),
			letter.FailedAt.Format(time.RFC3339),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"ID", "Event", "Target", "Last error", "Failed at"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
	))
	return nil
}

func newDeadLetterRetryCommand(ctx *commandContext) *cobra.Command {
	var fromRelay bool

	cmd := &cobra.Command{
		Use:   "retry <id>",
		Short: "Put a dead-lettered message back on the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			if fromRelay {
				if err := client.RetryRelayDeadLetter(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Requeued relay dead letter %s\n", args[0])
				return nil
			}
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid dead letter id %q", args[0])
			}
			if err := client.RetryDeadLetter(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Requeued dead letter %d\n", id)
			return nil
		},
	}
	cmd.Flags().BoolVar(&fromRelay, "relay", false, "Retry a relay-service dead letter instead of a queue dead letter")
	return cmd
}

func sortedCountRows(counts map[string]int) [][]string {
	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, []string{key, strconv.Itoa(counts[key])})
	}
	return rows
}
