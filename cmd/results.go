package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abhisek/sheetsolver/internal/export"
	"github.com/abhisek/sheetsolver/internal/worksheet"
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Inspect stored worksheet results",
}

var resultsShowCmd = &cobra.Command{
	Use:   "show <worksheet-id>",
	Short: "Print the stored results of a worksheet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		s, err := openStore(cmd, cfg, log)
		if err != nil {
			return err
		}
		defer s.Close()

		stored, err := s.ResultRepo().Results(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("query results: %w", err)
		}
		if len(stored) == 0 {
			return fmt.Errorf("no results stored for worksheet %q", args[0])
		}

		out := cmd.OutOrStdout()
		if table, _ := cmd.Flags().GetBool("table"); !table {
			records := make([]worksheet.ResultRecord, len(stored))
			for i, r := range stored {
				records[i] = r.Record
			}
			return export.WriteJSON(out, records)
		}

		first := stored[0]
		fmt.Fprintf(out, "Worksheet: %s\n", first.WorksheetID)
		if first.LessonSlug != "" {
			fmt.Fprintf(out, "Lesson:    %s\n", first.LessonSlug)
		}
		if len(first.Metadata) > 0 {
			meta, _ := json.Marshal(first.Metadata)
			fmt.Fprintf(out, "Metadata:  %s\n", meta)
		}
		fmt.Fprintln(out)

		fmt.Fprintf(out, "%-5s  %-4s  %-40s  %-24s  %-19s\n", "Index", "Page", "Problem", "Answer", "Updated")
		fmt.Fprintln(out, strings.Repeat("─", 100))
		for _, r := range stored {
			answer := "-"
			switch {
			case r.Record.Error != nil:
				answer = "error: " + *r.Record.Error
			case r.Record.Answer != nil:
				answer = *r.Record.Answer
			}
			fmt.Fprintf(out, "%-5d  %-4d  %-40s  %-24s  %-19s\n",
				r.Record.Index,
				r.Record.Page,
				truncate(oneLine(r.Record.Text), 40),
				truncate(oneLine(answer), 24),
				r.UpdatedAt.Local().Format("2006-01-02 15:04:05"),
			)
		}
		return nil
	},
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func init() {
	resultsShowCmd.Flags().Bool("table", false, "Print a summary table instead of JSON")

	resultsCmd.AddCommand(resultsShowCmd)
}
