// Package source provides the observation sources the forecast pipeline
// reads from: the World Bank API and local CSV or JSON files.
package source

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/forecast-cli/internal/model"
	"github.com/sells-group/forecast-cli/pkg/worldbank"
)

// Source yields the raw observations of one indicator for one country.
type Source interface {
	Observations(ctx context.Context, country, indicator string) ([]model.Observation, error)
}

// WorldBank adapts a worldbank.Client to Source.
type WorldBank struct {
	client worldbank.Client
}

// NewWorldBank creates a World Bank backed source.
func NewWorldBank(client worldbank.Client) *WorldBank {
	return &WorldBank{client: client}
}

// Observations implements Source.
func (w *WorldBank) Observations(ctx context.Context, country, indicator string) ([]model.Observation, error) {
	rows, err := w.client.Indicator(ctx, country, indicator)
	if err != nil {
		return nil, eris.Wrapf(err, "source: world bank %s/%s", country, indicator)
	}
	out := make([]model.Observation, len(rows))
	for i, r := range rows {
		out[i] = model.Observation{Date: r.Date, Value: r.Value}
	}
	return out, nil
}

// FromFile picks the file source by extension: .json reads a JSON array,
// anything else is read as CSV.
func FromFile(path string) Source {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return NewJSONFile(path)
	}
	return NewCSVFile(path)
}

// parseDate accepts a bare year, an ISO date, or an RFC 3339 timestamp.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) == 4 {
		y, err := strconv.Atoi(s)
		if err != nil {
			return time.Time{}, eris.Errorf("invalid year %q", s)
		}
		return model.YearStart(y), nil
	}
	for _, layout := range []string{model.DateLayout, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, eris.Errorf("invalid date %q", s)
}
