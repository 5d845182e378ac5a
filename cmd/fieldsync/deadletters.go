package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fieldsync/internal/app"
	"fieldsync/internal/export"

	"github.com/spf13/cobra"
)

var errDeadLettersDisabled = errors.New("dead letters are disabled (sync.dead_letter.enabled)")

func newDeadLettersCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deadletters",
		Short: "Inspect actions dropped without a successful sync",
	}
	cmd.AddCommand(newDeadLettersListCommand(opts))
	cmd.AddCommand(newDeadLettersExportCommand(opts))
	return cmd
}

func newDeadLettersListCommand(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print dead letters as JSON, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(a *app.App) error {
				if a.DeadLetters == nil {
					return errDeadLettersDisabled
				}
				entries, err := a.DeadLetters.List(cmd.Context(), limit)
				if err != nil {
					return fmt.Errorf("list dead letters: %w", err)
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum entries to print, 0 for all")
	return cmd
}

func newDeadLettersExportCommand(opts *rootOptions) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write all dead letters to an XLSX file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(a *app.App) error {
				if a.DeadLetters == nil {
					return errDeadLettersDisabled
				}
				entries, err := a.DeadLetters.List(cmd.Context(), 0)
				if err != nil {
					return fmt.Errorf("list dead letters: %w", err)
				}

				target := dir
				if target == "" {
					target = a.Config.Exports.Path
				}
				path, err := export.SaveDeadLetters(target, entries, time.Now())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "exported %d dead letters to %s\n", len(entries), path)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "output directory (default exports.path)")
	return cmd
}
