package source

import (
	"context"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/forecast-cli/internal/fetcher"
	"github.com/sells-group/forecast-cli/internal/model"
)

// CSVFile reads observations from a local "date,value" file. A header row is
// optional and extra columns are ignored, so an exported data.csv can be read
// back. Rows whose date or value does not parse are skipped.
type CSVFile struct {
	path string
}

// NewCSVFile creates a CSV file source.
func NewCSVFile(path string) *CSVFile {
	return &CSVFile{path: path}
}

// Observations implements Source. The file holds a single series, so country
// and indicator are only used in log fields.
func (c *CSVFile) Observations(ctx context.Context, country, indicator string) ([]model.Observation, error) {
	f, err := os.Open(c.path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: open %s", c.path)
	}
	defer f.Close() //nolint:errcheck

	var out []model.Observation
	var skipped []int
	err = fetcher.ReadCSV(ctx, f, fetcher.CSVOptions{Comment: '#', TrimSpace: true}, func(rec fetcher.CSVRecord) error {
		obs, ok := parseCSVRow(rec.Fields)
		if !ok {
			skipped = append(skipped, rec.Line)
			return nil
		}
		out = append(out, obs)
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "source: read %s", c.path)
	}

	zap.L().Debug("source: read csv",
		zap.String("path", c.path),
		zap.String("country", country),
		zap.String("indicator", indicator),
		zap.Int("observations", len(out)),
		zap.Ints("skipped_lines", skipped),
	)
	return out, nil
}

// parseCSVRow reads date and value from the first two columns. A third
// column tagged Forecast marks a modeled row from an earlier export, which is
// not history and is dropped.
func parseCSVRow(rec []string) (model.Observation, bool) {
	if len(rec) < 2 {
		return model.Observation{}, false
	}
	if len(rec) > 2 {
		if tag, err := model.ParseTag(rec[2]); err == nil && tag == model.Forecast {
			return model.Observation{}, false
		}
	}
	date, err := parseDate(rec[0])
	if err != nil {
		return model.Observation{}, false
	}
	raw := strings.TrimSpace(rec[1])
	if raw == "" {
		return model.Observation{}, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return model.Observation{}, false
	}
	return model.Observation{Date: date, Value: v}, true
}
