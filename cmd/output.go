package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/forecast-cli/internal/model"
	"github.com/sells-group/forecast-cli/internal/normalize"
	"github.com/sells-group/forecast-cli/internal/pipeline"
)

// report is the stdout view of a forecast result.
type report struct {
	Country    string          `json:"country" yaml:"country"`
	Indicator  string          `json:"indicator" yaml:"indicator"`
	CutOffYear int             `json:"cut_off_year" yaml:"cut_off_year"`
	Horizon    int             `json:"horizon" yaml:"horizon"`
	Stats      normalize.Stats `json:"stats" yaml:"stats"`
	Summary    model.Summary   `json:"summary" yaml:"summary"`
}

func newReport(res *pipeline.Result) report {
	return report{
		Country:    res.Request.Country,
		Indicator:  res.Request.Indicator,
		CutOffYear: res.CutOffYear,
		Horizon:    res.Horizon,
		Stats:      res.Stats,
		Summary:    res.Summary,
	}
}

var printer = message.NewPrinter(language.English)

// writeResult renders a forecast result as table, json or yaml.
func writeResult(out io.Writer, format string, res *pipeline.Result) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(newReport(res)), "encode json")
	case "yaml":
		enc := yaml.NewEncoder(out)
		defer enc.Close() //nolint:errcheck
		return eris.Wrap(enc.Encode(newReport(res)), "encode yaml")
	case "table", "":
		writeTable(out, res)
		return nil
	default:
		return eris.Errorf("unknown format %q (want table, json or yaml)", format)
	}
}

func writeTable(out io.Writer, res *pipeline.Result) {
	s := res.Summary
	_, _ = fmt.Fprintf(out, "%s / %s  cut-off %d  horizon %d\n",
		res.Request.Country, res.Request.Indicator, res.CutOffYear, res.Horizon)
	_, _ = printer.Fprintf(out, "World Bank rows: %d  Resampled rows: %d  Forecast rows: %d\n",
		s.HistoricalRowCount, s.ResampledRowCount, s.ForecastRowCount)
	_, _ = fmt.Fprintf(out, "Historical data end: %s  Forecast start: %s\n\n", s.HistoricalDataEnd, s.ForecastStart)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	_, _ = fmt.Fprintln(w, "DATE\tVALUE\tSOURCE\t")
	for _, e := range res.Output.Entries() {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t\n", model.FormatDate(e.Date), formatValue(e.Value), e.Tag.Label())
	}
	_ = w.Flush()
}

// formatValue groups thousands and keeps two decimals.
func formatValue(v float64) string {
	return printer.Sprintf("%.2f", v)
}
