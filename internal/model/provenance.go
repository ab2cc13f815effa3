package model

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// Tag records where a series entry came from. Every entry carries exactly one.
type Tag int

const (
	// Observed entries were reported by the data source for that year.
	Observed Tag = iota + 1
	// Synthesized entries fill a missing year by carrying the prior value forward.
	Synthesized
	// Forecast entries were produced by the model ensemble.
	Forecast
)

// Tags lists all provenance tags in output order.
var Tags = []Tag{Observed, Synthesized, Forecast}

// String returns the machine-readable tag name.
func (t Tag) String() string {
	switch t {
	case Observed:
		return "observed"
	case Synthesized:
		return "synthesized"
	case Forecast:
		return "forecast"
	default:
		return "unknown"
	}
}

// Label returns the source label written to the persisted row table.
func (t Tag) Label() string {
	switch t {
	case Observed:
		return "World Bank"
	case Synthesized:
		return "Resampled"
	case Forecast:
		return "Forecast"
	default:
		return "Unknown"
	}
}

// Historical reports whether the tag belongs to the history side of a series.
func (t Tag) Historical() bool {
	return t == Observed || t == Synthesized
}

// ParseTag accepts either the tag name or its persisted label.
func ParseTag(s string) (Tag, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "observed", "world bank":
		return Observed, nil
	case "synthesized", "resampled":
		return Synthesized, nil
	case "forecast":
		return Forecast, nil
	default:
		return 0, eris.Errorf("model: unknown provenance tag %q", s)
	}
}

// MarshalJSON encodes the tag as its label.
func (t Tag) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Label())
}

// UnmarshalJSON decodes a tag from its name or label.
func (t *Tag) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return eris.Wrap(err, "model: decode tag")
	}
	parsed, err := ParseTag(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalYAML encodes the tag as its label.
func (t Tag) MarshalYAML() (any, error) {
	return t.Label(), nil
}
