package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/FranksOps/gleaner/internal/report"
	"github.com/FranksOps/gleaner/internal/storage"
	"github.com/spf13/cobra"
)

func init() {
	reportCmd.Flags().String("source", "", "only runs of this source")
	reportCmd.Flags().String("query", "", "only runs with this query")
	reportCmd.Flags().Duration("since", 0, "only runs newer than this (e.g. 24h)")
	reportCmd.Flags().Int("limit", 50, "maximum runs to include")
	reportCmd.Flags().String("output", "text", "text, json or html")

	rootCmd.AddCommand(reportCmd)
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarise the runs recorded in the archive.",
	RunE: func(cmd *cobra.Command, args []string) error {
		archive, err := openArchive(cmd.Context())
		if err != nil {
			return err
		}
		if archive == nil {
			return errors.New("report needs an archive: set --archive")
		}
		defer archive.Close()

		filter := storage.Filter{
			Source: v.GetString("source"),
			Query:  v.GetString("query"),
			Limit:  v.GetInt("limit"),
		}
		if d := v.GetDuration("since"); d > 0 {
			since := time.Now().Add(-d)
			filter.Since = &since
		}

		exports, err := archive.Query(cmd.Context(), filter)
		if err != nil {
			return err
		}
		summary := report.GenerateSummary(exports)

		switch out := v.GetString("output"); out {
		case "text":
			return report.WriteText(os.Stdout, summary)
		case "json":
			return report.WriteJSON(os.Stdout, summary)
		case "html":
			return report.WriteHTML(os.Stdout, summary)
		default:
			return fmt.Errorf("unknown output %q", out)
		}
	},
}
