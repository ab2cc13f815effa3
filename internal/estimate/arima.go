package estimate

import (
	"context"
	"math"
	"math/cmplx"
	"strings"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/forecast-cli/internal/config"
	"github.com/sells-group/forecast-cli/internal/horizon"
	"github.com/sells-group/forecast-cli/internal/model"
)

// minVariance floors the residual variance so a perfect fit still has a
// finite likelihood.
const minVariance = 1e-12

// ARIMA is an autoregressive integrated model with drift. Fit selects the
// differencing order d by variance reduction and the AR order p by an
// information criterion, estimating coefficients by least squares.
type ARIMA struct {
	maxP      int
	maxD      int
	criterion string
}

// NewARIMA creates an ARIMA model. Negative orders are treated as zero and an
// empty criterion selects aicc.
func NewARIMA(cfg config.ARIMAConfig) *ARIMA {
	c := strings.ToLower(cfg.Criterion)
	if c == "" {
		c = "aicc"
	}
	return &ARIMA{
		maxP:      max(cfg.MaxP, 0),
		maxD:      max(cfg.MaxD, 0),
		criterion: c,
	}
}

// Name implements Model.
func (a *ARIMA) Name() string { return ModelARIMA }

// Fit implements Model. It uses only the series values.
func (a *ARIMA) Fit(ctx context.Context, s *model.Series) (Fitted, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "estimate: arima fit")
	}
	y := s.Values()
	if len(y) < MinPoints {
		return nil, fitError(ModelARIMA, len(y), eris.Errorf("need at least %d points", MinPoints))
	}

	levels := [][]float64{y}
	cur := y
	for range a.maxD {
		next := difference(cur)
		if len(next) < MinPoints || stat.Variance(next, nil) >= stat.Variance(cur, nil) {
			break
		}
		levels = append(levels, next)
		cur = next
	}

	var best *arFit
	for p := 0; p <= a.maxP; p++ {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "estimate: arima fit")
		}
		f, ok := fitAR(cur, p)
		if !ok {
			continue
		}
		f.score = f.criterion(a.criterion)
		if best == nil || f.score < best.score {
			best = f
		}
	}
	if best == nil {
		return nil, fitError(ModelARIMA, len(y), eris.New("no autoregressive order could be estimated"))
	}

	return &arimaFit{
		ar:        best,
		d:         len(levels) - 1,
		levels:    levels,
		lastYear:  s.LastYear(),
		criterion: a.criterion,
		points:    len(y),
	}, nil
}

// arFit is an AR(p) with intercept fitted to one (possibly differenced) series.
type arFit struct {
	p     int
	coef  []float64 // intercept followed by lag 1..p
	m     int       // observations used
	rss   float64
	score float64
}

// fitAR regresses w[t] on an intercept and w[t-1..t-p]. It reports false when
// there are too few observations, the design matrix is singular or the lag
// coefficients are not stationary, whose forecasts diverge.
func fitAR(w []float64, p int) (*arFit, bool) {
	k := p + 1
	m := len(w) - p
	if m <= k {
		return nil, false
	}

	x := mat.NewDense(m, k, nil)
	target := mat.NewVecDense(m, nil)
	for i := range m {
		t := i + p
		x.Set(i, 0, 1)
		for j := 1; j <= p; j++ {
			x.Set(i, j, w[t-j])
		}
		target.SetVec(i, w[t])
	}

	var beta mat.VecDense
	if err := beta.SolveVec(x, target); err != nil {
		return nil, false
	}
	coef := make([]float64, k)
	for j := range coef {
		coef[j] = beta.AtVec(j)
		if math.IsNaN(coef[j]) || math.IsInf(coef[j], 0) {
			return nil, false
		}
	}

	if !stationary(coef[1:]) {
		return nil, false
	}

	var rss float64
	for i := range m {
		pred := coef[0]
		for j := 1; j < k; j++ {
			pred += coef[j] * x.At(i, j)
		}
		r := target.AtVec(i) - pred
		rss += r * r
	}
	return &arFit{p: p, coef: coef, m: m, rss: rss}, true
}

// criterion scores the fit; lower is better. The parameter count includes the
// residual variance.
func (f *arFit) criterion(name string) float64 {
	n := float64(f.m)
	params := float64(len(f.coef) + 1)
	sigma2 := math.Max(f.rss/n, minVariance)
	logLik := -n / 2 * (math.Log(2*math.Pi*sigma2) + 1)
	aic := -2*logLik + 2*params

	switch name {
	case "aic":
		return aic
	case "bic":
		return -2*logLik + params*math.Log(n)
	default:
		if n-params-1 <= 0 {
			return math.Inf(1)
		}
		return aic + 2*params*(params+1)/(n-params-1)
	}
}

type arimaFit struct {
	ar        *arFit
	d         int
	levels    [][]float64
	lastYear  int
	criterion string
	points    int
}

// Predict implements Fitted.
func (f *arimaFit) Predict(h int) (*model.ForecastResult, error) {
	if h <= 0 {
		return nil, fitError(ModelARIMA, f.points, eris.Errorf("horizon must be positive, got %d", h))
	}

	base := f.levels[f.d]
	hist := make([]float64, len(base), len(base)+h)
	copy(hist, base)

	preds := make([]float64, h)
	for i := range preds {
		v := f.ar.coef[0]
		for j := 1; j <= f.ar.p; j++ {
			v += f.ar.coef[j] * hist[len(hist)-j]
		}
		hist = append(hist, v)
		preds[i] = v
	}

	// Undo differencing, one level at a time.
	for l := f.d - 1; l >= 0; l-- {
		last := f.levels[l][len(f.levels[l])-1]
		for i := range preds {
			last += preds[i]
			preds[i] = last
		}
	}

	dates := horizon.ForecastDates(f.lastYear, h)
	out := &model.ForecastResult{Model: ModelARIMA, Points: make([]model.Point, h)}
	for i, v := range preds {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fitError(ModelARIMA, f.points, eris.Errorf("non-finite prediction for %d", dates[i].Year()))
		}
		out.Points[i] = model.Point{Date: dates[i], Value: v}
	}
	return out, nil
}

// Params implements Fitted.
func (f *arimaFit) Params() map[string]any {
	coef := make([]float64, len(f.ar.coef))
	copy(coef, f.ar.coef)
	return map[string]any{
		"p":         f.ar.p,
		"d":         f.d,
		"criterion": f.criterion,
		"score":     f.ar.score,
		"coef":      coef,
	}
}

func difference(x []float64) []float64 {
	if len(x) < 2 {
		return nil
	}
	out := make([]float64, len(x)-1)
	for i := 1; i < len(x); i++ {
		out[i-1] = x[i] - x[i-1]
	}
	return out
}

// stationary reports whether every root of the AR lag polynomial
// 1 - phi1 z - ... - phip z^p lies outside the unit circle, equivalently
// whether every eigenvalue of the companion matrix lies strictly inside it.
func stationary(phi []float64) bool {
	switch len(phi) {
	case 0:
		return true
	case 1:
		return math.Abs(phi[0]) < 1
	}

	p := len(phi)
	companion := mat.NewDense(p, p, nil)
	companion.SetRow(0, phi)
	for i := 1; i < p; i++ {
		companion.Set(i, i-1, 1)
	}
	var eig mat.Eigen
	if !eig.Factorize(companion, mat.EigenNone) {
		return false
	}
	for _, v := range eig.Values(nil) {
		if cmplx.Abs(v) >= 1 {
			return false
		}
	}
	return true
}
