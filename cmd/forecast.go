package main

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/forecast-cli/internal/export"
	"github.com/sells-group/forecast-cli/internal/monitoring"
	"github.com/sells-group/forecast-cli/internal/pipeline"
)

var forecastCmd = &cobra.Command{
	Use:   "forecast",
	Short: "Forecast one indicator series to the cut-off year",
	Long: `Fetches the series for a country and indicator, carries the last
observation forward over missing years, forecasts to the cut-off year with
two models, averages them and writes data.csv and forecast.json.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("forecast"); err != nil {
			return err
		}

		country, _ := cmd.Flags().GetString("country")
		indicator, _ := cmd.Flags().GetString("indicator")
		cutOff, _ := cmd.Flags().GetInt("cut-off")
		input, _ := cmd.Flags().GetString("input")
		outDir, _ := cmd.Flags().GetString("output")
		format, _ := cmd.Flags().GetString("format")
		noStore, _ := cmd.Flags().GetBool("no-store")
		xlsx, _ := cmd.Flags().GetBool("xlsx")

		if country == "" {
			country = cfg.CountryCode
		}
		if indicator == "" {
			indicator = cfg.SeriesCode
		}
		outCfg := cfg.Output
		if outDir != "" {
			outCfg.Dir = outDir
		}
		if xlsx {
			outCfg.XLSX = true
		}

		ctx := cmd.Context()
		p, err := pipeline.FromConfig(cfg.Forecast, cutOff, initSource(input, false),
			pipeline.WithReporter(monitoring.NewLogReporter(nil)))
		if err != nil {
			return err
		}

		res, runErr := runForecast(ctx, p, pipeline.Request{Country: country, Indicator: indicator})

		if !noStore {
			st, err := initStore(ctx)
			if err != nil {
				zap.L().Warn("run history disabled", zap.Error(err))
			}
			if st != nil {
				defer st.Close() //nolint:errcheck
			}
			run, rows := newRun(pipeline.Request{Country: country, Indicator: indicator}, p.CutOffYear(), res, runErr)
			recordRun(ctx, st, monitoring.NewAlerter(cfg.Monitoring), run, rows)
		}

		if runErr != nil {
			return eris.Wrap(runErr, "forecast")
		}

		if _, err := export.NewWriter(outCfg).Write(res); err != nil {
			return err
		}
		return writeResult(os.Stdout, format, res)
	},
}

func runForecast(ctx context.Context, p *pipeline.Pipeline, req pipeline.Request) (*pipeline.Result, error) {
	if secs := cfg.Forecast.TimeoutSecs; secs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(secs)*time.Second)
		defer cancel()
	}
	return p.Run(ctx, req)
}

func init() {
	forecastCmd.Flags().String("country", "", "ISO3 country code (default from config country_code)")
	forecastCmd.Flags().String("indicator", "", "World Bank indicator code (default from config series_code)")
	forecastCmd.Flags().Int("cut-off", 0, "last year to forecast (default from config)")
	forecastCmd.Flags().String("input", "", "read observations from a local .csv or .json file instead of the API")
	forecastCmd.Flags().String("output", "", "output directory (default from config)")
	forecastCmd.Flags().String("format", "table", "stdout format: table, json or yaml")
	forecastCmd.Flags().Bool("no-store", false, "do not record the run in the store")
	forecastCmd.Flags().Bool("xlsx", false, "also write forecast.xlsx")
	rootCmd.AddCommand(forecastCmd)
}
