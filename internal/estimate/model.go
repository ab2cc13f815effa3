// Package estimate provides the forecasting models fitted to a normalized
// annual series: an autoregressive model with automatic order selection and an
// additive piecewise-linear trend model.
package estimate

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/forecast-cli/internal/config"
	"github.com/sells-group/forecast-cli/internal/model"
)

// MinPoints is the shortest series either model will fit.
const MinPoints = 2

// Model names accepted by Build.
const (
	ModelARIMA = "arima"
	ModelTrend = "trend"
)

// Model fits a forecaster to a series.
type Model interface {
	Name() string
	Fit(ctx context.Context, s *model.Series) (Fitted, error)
}

// Fitted is a model fitted to one series. Predict is deterministic for a given
// horizon.
type Fitted interface {
	Predict(horizon int) (*model.ForecastResult, error)
	Params() map[string]any
}

// Build constructs the named model from configuration. "prophet" is accepted
// as an alias for the trend model.
func Build(name string, cfg config.ForecastConfig) (Model, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case ModelARIMA, "auto_arima":
		return NewARIMA(cfg.ARIMA), nil
	case ModelTrend, "prophet":
		return NewTrend(cfg.Trend), nil
	default:
		return nil, eris.Errorf("estimate: unknown model %q", name)
	}
}

func fitError(name string, points int, err error) *model.ModelFitError {
	return &model.ModelFitError{Model: name, Points: points, Err: err}
}
