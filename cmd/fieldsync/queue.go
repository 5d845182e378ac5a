package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"fieldsync/internal/app"
	"fieldsync/internal/models"

	"github.com/spf13/cobra"
)

func newQueueCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect or clear the offline action queue",
	}
	cmd.AddCommand(newQueueListCommand(opts))
	cmd.AddCommand(newQueueClearCommand(opts))
	return cmd
}

func newQueueListCommand(opts *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print pending actions, oldest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(a *app.App) error {
				return printActions(cmd.OutOrStdout(), a.Queue.List(), asJSON)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func newQueueClearCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Drop every pending action without sending it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(a *app.App) error {
				n := a.Queue.Len()
				a.Queue.Clear(cmd.Context())
				fmt.Fprintf(cmd.OutOrStdout(), "cleared %d actions\n", n)
				return nil
			})
		},
	}
}

func printActions(w io.Writer, actions []models.QueuedAction, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(actions)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tENQUEUED\tRETRIES")
	for _, a := range actions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", a.ID, a.Kind, a.EnqueuedAt.UTC().Format(time.RFC3339), a.RetryCount)
	}
	return tw.Flush()
}
