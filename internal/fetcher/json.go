package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/rotisserie/eris"
)

// EachJSONElement decodes a top-level JSON array one element at a time and
// passes each to fn, so large files are never held in memory. Empty input
// counts as an empty array.
func EachJSONElement[T any](ctx context.Context, r io.Reader, fn func(int, T) error) error {
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return eris.Wrap(err, "json: read opening token")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return eris.Errorf("json: expected '[', got %v", tok)
	}

	for i := 0; dec.More(); i++ {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "json: context cancelled")
		}
		var item T
		if err := dec.Decode(&item); err != nil {
			return eris.Wrapf(err, "json: decode element %d", i)
		}
		if err := fn(i, item); err != nil {
			return err
		}
	}

	if _, err := dec.Token(); err != nil {
		return eris.Wrap(err, "json: read closing token")
	}
	return nil
}

// DecodeJSONTuple decodes a top-level JSON array whose elements have
// different shapes, such as the World Bank [meta, rows] envelope. Elements
// are returned undecoded.
func DecodeJSONTuple(r io.Reader) ([]json.RawMessage, error) {
	var parts []json.RawMessage
	if err := json.NewDecoder(r).Decode(&parts); err != nil {
		return nil, eris.Wrap(err, "json: decode tuple")
	}
	return parts, nil
}

// DecodeJSONObject decodes a single JSON value from a reader.
func DecodeJSONObject[T any](r io.Reader) (*T, error) {
	var obj T
	if err := json.NewDecoder(r).Decode(&obj); err != nil {
		return nil, eris.Wrap(err, "json: decode object")
	}
	return &obj, nil
}
