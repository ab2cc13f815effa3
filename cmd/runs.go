package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/forecast-cli/internal/model"
	"github.com/sells-group/forecast-cli/internal/monitoring"
	"github.com/sells-group/forecast-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect forecast run history",
	Long:  "Commands for listing, viewing, and summarizing forecast runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List forecast runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		country, _ := cmd.Flags().GetString("country")
		indicator, _ := cmd.Flags().GetString("indicator")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Country:   country,
			Indicator: indicator,
			Status:    model.RunStatus(status),
			Limit:     limit,
			Offset:    offset,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			_, _ = fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run with its output rows",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		rows, err := st.RunRows(ctx, run.ID)
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(runDetail{Run: run, Rows: rows})
	},
}

// runDetail is the JSON shape printed by runs show.
type runDetail struct {
	*model.Run
	Rows []model.Entry `json:"rows"`
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		since, _ := cmd.Flags().GetDuration("since")
		hours := int(since.Hours())
		if hours <= 0 {
			hours = 24
		}

		snap, err := monitoring.NewCollector(st).Collect(ctx, hours)
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}
		formatRunStats(os.Stdout, snap)
		return nil
	},
}

func openStore(cmd *cobra.Command) (store.Store, error) {
	st, err := initStore(cmd.Context())
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, eris.New("run history requires a store driver (sqlite or postgres)")
	}
	return st, nil
}

func addListFlags(c *cobra.Command) {
	c.Flags().String("country", "", "filter by country code")
	c.Flags().String("indicator", "", "filter by indicator code")
	c.Flags().String("status", "", "filter by run status (complete, failed)")
	c.Flags().Int("limit", 50, "max number of runs to display")
	c.Flags().Int("offset", 0, "number of runs to skip")
}

func init() {
	// Bare "runs" lists, like "runs list".
	runsCmd.RunE = runsListCmd.RunE
	addListFlags(runsCmd)
	addListFlags(runsListCmd)

	runsStatsCmd.Flags().Duration("since", 24*time.Hour, "time window for stats (e.g. 24h, 72h, 168h)")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSERIES\tCUT-OFF\tHORIZON\tSTATUS\tCREATED\tERROR")
	_, _ = fmt.Fprintln(w, "--\t------\t-------\t-------\t------\t-------\t-----")

	for _, r := range runs {
		_, _ = fmt.Fprintf(w, "%s\t%s/%s\t%d\t%d\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.Country, r.Indicator,
			r.CutOffYear,
			r.Horizon,
			r.Status,
			r.CreatedAt.Format("2006-01-02 15:04"),
			truncate(firstErrorLine(r.Error), 40),
		)
	}
	_ = w.Flush()
}

// formatRunStats writes aggregate stats to w.
func formatRunStats(out io.Writer, s *monitoring.MetricsSnapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Window:\t%dh\n", s.LookbackHours)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.RunsTotal)
	_, _ = fmt.Fprintf(w, "Complete:\t%d\n", s.RunsComplete)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.RunsFailed)
	_, _ = fmt.Fprintf(w, "Failure rate:\t%.1f%%\n", s.FailRate*100)
	if s.RunsComplete > 0 {
		_, _ = fmt.Fprintf(w, "Avg horizon:\t%.1f years\n", s.AvgHorizon)
		_, _ = fmt.Fprintf(w, "Avg resampled share:\t%.1f%%\n", s.AvgFilledShare*100)
	}
	for _, key := range s.FailedSeries {
		_, _ = fmt.Fprintf(w, "  Failed series:\t%s\n", key)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}

func firstErrorLine(s string) string {
	for i, c := range s {
		if c == '\n' {
			return s[:i]
		}
	}
	return s
}
