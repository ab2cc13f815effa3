package source

import (
	"context"
	"math"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/forecast-cli/internal/fetcher"
	"github.com/sells-group/forecast-cli/internal/model"
)

// JSONFile reads observations from a local JSON array of
// {"date": "2020", "value": 1.5} objects. Null values and unparseable dates
// are skipped.
type JSONFile struct {
	path string
}

// NewJSONFile creates a JSON file source.
func NewJSONFile(path string) *JSONFile {
	return &JSONFile{path: path}
}

type jsonRow struct {
	Date  string   `json:"date"`
	Value *float64 `json:"value"`
}

// Observations implements Source.
func (j *JSONFile) Observations(ctx context.Context, country, indicator string) ([]model.Observation, error) {
	f, err := os.Open(j.path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: open %s", j.path)
	}
	defer f.Close() //nolint:errcheck

	var out []model.Observation
	var skipped int
	err = fetcher.EachJSONElement(ctx, f, func(_ int, r jsonRow) error {
		if r.Value == nil || math.IsNaN(*r.Value) || math.IsInf(*r.Value, 0) {
			skipped++
			return nil
		}
		date, err := parseDate(r.Date)
		if err != nil {
			skipped++
			return nil
		}
		out = append(out, model.Observation{Date: date, Value: *r.Value})
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "source: read %s", j.path)
	}

	zap.L().Debug("source: read json",
		zap.String("path", j.path),
		zap.String("country", country),
		zap.String("indicator", indicator),
		zap.Int("observations", len(out)),
		zap.Int("skipped", skipped),
	)
	return out, nil
}
