package fetcher

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// CSVOptions configures ReadCSV.
type CSVOptions struct {
	Delimiter  rune // default ','
	Comment    rune // 0 = none
	LazyQuotes bool
	TrimSpace  bool
}

// CSVRecord is one row and the input line it started on.
type CSVRecord struct {
	Line   int
	Fields []string
}

// ReadCSV calls fn for each record in r. Records may have any number of
// fields. A leading byte order mark selects UTF-8 or UTF-16 decoding, which
// spreadsheet exports often carry. Reading stops at the first error returned
// by the parser or by fn, or when ctx is done.
func ReadCSV(ctx context.Context, r io.Reader, opts CSVOptions, fn func(CSVRecord) error) error {
	reader := csv.NewReader(transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder())))
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	reader.Comment = opts.Comment
	reader.LazyQuotes = opts.LazyQuotes
	reader.FieldsPerRecord = -1

	for {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "csv: context cancelled")
		}

		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return eris.Wrap(err, "csv: read row")
		}
		line, _ := reader.FieldPos(0)

		if opts.TrimSpace {
			for i, f := range fields {
				fields[i] = strings.TrimSpace(f)
			}
		}
		if err := fn(CSVRecord{Line: line, Fields: fields}); err != nil {
			return err
		}
	}
}
