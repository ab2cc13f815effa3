package estimate

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/sells-group/forecast-cli/internal/config"
	"github.com/sells-group/forecast-cli/internal/horizon"
	"github.com/sells-group/forecast-cli/internal/model"
)

// seasonalityPenalty is the ridge penalty applied to Fourier coefficients.
const seasonalityPenalty = 0.1

// Trend is an additive model: a piecewise-linear trend with evenly spaced
// changepoints plus optional Fourier seasonality. Coefficients are estimated
// by ridge-regularized least squares on the date/value pairs.
type Trend struct {
	changepoints     int
	changepointRange float64
	changepointPrior float64
	seasonalPeriod   float64
	fourierOrder     int
}

// NewTrend creates a Trend model from configuration.
func NewTrend(cfg config.TrendConfig) *Trend {
	t := &Trend{
		changepoints:     max(cfg.Changepoints, 0),
		changepointRange: cfg.ChangepointRange,
		changepointPrior: cfg.ChangepointPrior,
		seasonalPeriod:   cfg.SeasonalPeriod,
		fourierOrder:     max(cfg.FourierOrder, 0),
	}
	if t.changepointRange <= 0 || t.changepointRange > 1 {
		t.changepointRange = 0.8
	}
	if t.changepointPrior <= 0 {
		t.changepoints = 0
	}
	if t.seasonalPeriod <= 0 {
		t.fourierOrder = 0
	}
	return t
}

// Name implements Model.
func (t *Trend) Name() string { return ModelTrend }

// Fit implements Model. It uses the dated points of the series.
func (t *Trend) Fit(ctx context.Context, s *model.Series) (Fitted, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "estimate: trend fit")
	}
	pts := s.Points()
	n := len(pts)
	if n < MinPoints {
		return nil, fitError(ModelTrend, n, eris.Errorf("need at least %d points", MinPoints))
	}

	f := &trendFit{
		start:          fractionalYear(pts[0].Date),
		seasonalPeriod: t.seasonalPeriod,
		fourierOrder:   t.fourierOrder,
		lastYear:       s.LastYear(),
		points:         n,
	}
	f.span = fractionalYear(pts[n-1].Date) - f.start
	if f.span <= 0 {
		return nil, fitError(ModelTrend, n, eris.New("series spans no time"))
	}

	ys := make([]float64, n)
	for i, p := range pts {
		ys[i] = p.Value
	}
	f.yScale = floats.Max(absAll(ys))
	if f.yScale == 0 {
		f.yScale = 1
	}

	ts := make([]float64, n)
	for i, p := range pts {
		ts[i] = f.scaled(p.Date)
	}
	f.changepoints = changepointLocations(ts, t.changepoints, t.changepointRange)

	k := f.width()
	penalties := make([]float64, k)
	for j := range f.changepoints {
		penalties[2+j] = 1 / t.changepointPrior
	}
	for j := 2 + len(f.changepoints); j < k; j++ {
		penalties[j] = seasonalityPenalty
	}
	var penalized int
	for _, p := range penalties {
		if p > 0 {
			penalized++
		}
	}

	// Ridge as an augmented least-squares system: sqrt(lambda) rows below the data.
	rows := n + penalized
	x := mat.NewDense(rows, k, nil)
	target := mat.NewVecDense(rows, nil)
	for i, p := range pts {
		x.SetRow(i, f.features(p.Date))
		target.SetVec(i, ys[i]/f.yScale)
	}
	r := n
	for j, p := range penalties {
		if p == 0 {
			continue
		}
		x.Set(r, j, math.Sqrt(p))
		r++
	}

	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "estimate: trend fit")
	}
	var beta mat.VecDense
	if err := beta.SolveVec(x, target); err != nil {
		return nil, fitError(ModelTrend, n, eris.Wrap(err, "solve least squares"))
	}
	f.coef = make([]float64, k)
	for j := range f.coef {
		f.coef[j] = beta.AtVec(j)
	}
	return f, nil
}

type trendFit struct {
	start          float64
	span           float64
	yScale         float64
	changepoints   []float64
	seasonalPeriod float64
	fourierOrder   int
	coef           []float64
	lastYear       int
	points         int
}

// width is the design matrix column count: intercept, slope, one column per
// changepoint and a sin/cos pair per Fourier order.
func (f *trendFit) width() int {
	return 2 + len(f.changepoints) + 2*f.fourierOrder
}

func (f *trendFit) scaled(d time.Time) float64 {
	return (fractionalYear(d) - f.start) / f.span
}

func (f *trendFit) features(d time.Time) []float64 {
	t := f.scaled(d)
	row := make([]float64, 0, f.width())
	row = append(row, 1, t)
	for _, c := range f.changepoints {
		row = append(row, math.Max(0, t-c))
	}
	years := fractionalYear(d) - f.start
	for k := 1; k <= f.fourierOrder; k++ {
		arg := 2 * math.Pi * float64(k) * years / f.seasonalPeriod
		row = append(row, math.Sin(arg), math.Cos(arg))
	}
	return row
}

// Predict implements Fitted. Points are evaluated at January 1 of each of the
// h years after the fitted series.
func (f *trendFit) Predict(h int) (*model.ForecastResult, error) {
	if h <= 0 {
		return nil, fitError(ModelTrend, f.points, eris.Errorf("horizon must be positive, got %d", h))
	}
	dates := horizon.ForecastDates(f.lastYear, h)
	out := &model.ForecastResult{Model: ModelTrend, Points: make([]model.Point, h)}
	for i, d := range dates {
		v := floats.Dot(f.coef, f.features(d)) * f.yScale
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fitError(ModelTrend, f.points, eris.Errorf("non-finite prediction for %d", d.Year()))
		}
		out.Points[i] = model.Point{Date: d, Value: v}
	}
	return out, nil
}

// Params implements Fitted.
func (f *trendFit) Params() map[string]any {
	coef := make([]float64, len(f.coef))
	copy(coef, f.coef)
	cps := make([]float64, len(f.changepoints))
	for i, c := range f.changepoints {
		cps[i] = f.start + c*f.span
	}
	return map[string]any{
		"changepoints":  cps,
		"fourier_order": f.fourierOrder,
		"y_scale":       f.yScale,
		"coef":          coef,
	}
}

// changepointLocations places up to n changepoints at evenly spaced indexes
// within the first rangeFrac of ts, excluding the first point.
func changepointLocations(ts []float64, n int, rangeFrac float64) []float64 {
	histSize := int(math.Floor(float64(len(ts)) * rangeFrac))
	if n+1 > histSize {
		n = histSize - 1
	}
	if n <= 0 {
		return nil
	}
	out := make([]float64, n)
	step := float64(histSize-1) / float64(n)
	for i := range out {
		idx := int(math.Round(step * float64(i+1)))
		out[i] = ts[idx]
	}
	return out
}

// fractionalYear converts a date to a year with the elapsed fraction of the
// year as the decimal part.
func fractionalYear(d time.Time) float64 {
	d = d.UTC()
	start := time.Date(d.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(1, 0, 0)
	return float64(d.Year()) + d.Sub(start).Seconds()/end.Sub(start).Seconds()
}

func absAll(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = math.Abs(v)
	}
	return out
}
