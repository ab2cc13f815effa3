package model

import "time"

// ForecastResult holds one model's point forecasts over the horizon.
// It is not yet blended with any other model.
type ForecastResult struct {
	Model  string  `json:"model"`
	Points []Point `json:"points"`
}

// Len returns the number of forecast points.
func (r *ForecastResult) Len() int {
	return len(r.Points)
}

// Dates returns the forecast dates in order.
func (r *ForecastResult) Dates() []time.Time {
	out := make([]time.Time, len(r.Points))
	for i, p := range r.Points {
		out[i] = p.Date
	}
	return out
}

// Values returns the forecast values in order.
func (r *ForecastResult) Values() []float64 {
	out := make([]float64, len(r.Points))
	for i, p := range r.Points {
		out[i] = p.Value
	}
	return out
}
