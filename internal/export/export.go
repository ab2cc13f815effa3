// Package export writes a forecast result to the output directory.
package export

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/forecast-cli/internal/config"
	"github.com/sells-group/forecast-cli/internal/model"
	"github.com/sells-group/forecast-cli/internal/pipeline"
)

// Output file names.
const (
	DataFile    = "data.csv"
	SummaryFile = "forecast.json"
	XLSXFile    = "forecast.xlsx"
	sheetName   = "forecast"
)

var dataColumns = []string{"date", "value", "source"}

// Writer writes result files into a directory.
type Writer struct {
	dir  string
	xlsx bool
}

// NewWriter creates a Writer from output configuration.
func NewWriter(cfg config.OutputConfig) *Writer {
	dir := cfg.Dir
	if dir == "" {
		dir = "_output"
	}
	return &Writer{dir: dir, xlsx: cfg.XLSX}
}

// Dir returns the output directory.
func (w *Writer) Dir() string { return w.dir }

// Write creates the output directory and writes the row table, the summary
// and, when enabled, the workbook. It returns the paths written.
func (w *Writer) Write(res *pipeline.Result) ([]string, error) {
	if res == nil || res.Output == nil {
		return nil, eris.New("export: empty result")
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "export: create dir %s", w.dir)
	}

	entries := res.Output.Entries()
	paths := []string{filepath.Join(w.dir, DataFile), filepath.Join(w.dir, SummaryFile)}

	if err := writeCSV(paths[0], entries); err != nil {
		return nil, err
	}
	if err := writeSummary(paths[1], res.Summary); err != nil {
		return nil, err
	}
	if w.xlsx {
		p := filepath.Join(w.dir, XLSXFile)
		if err := writeXLSX(p, entries); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}

	zap.L().Info("export: results written",
		zap.String("dir", w.dir),
		zap.Int("rows", len(entries)),
	)
	return paths, nil
}

func writeCSV(path string, entries []model.Entry) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "export: create csv")
	}
	defer f.Close() //nolint:errcheck

	cw := csv.NewWriter(f)
	if err := cw.Write(dataColumns); err != nil {
		return eris.Wrap(err, "export: write header")
	}
	for _, e := range entries {
		if err := cw.Write(Record(e)); err != nil {
			return eris.Wrap(err, "export: write row")
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "export: flush csv")
	}
	return eris.Wrap(f.Close(), "export: close csv")
}

// Record formats an entry as a date,value,source row.
func Record(e model.Entry) []string {
	return []string{
		model.FormatDate(e.Date),
		strconv.FormatFloat(e.Value, 'f', -1, 64),
		e.Tag.Label(),
	}
}

func writeSummary(path string, s model.Summary) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "export: create summary")
	}
	defer f.Close() //nolint:errcheck

	enc := json.NewEncoder(f)
	enc.SetIndent("", "    ")
	if err := enc.Encode(s); err != nil {
		return eris.Wrap(err, "export: encode summary")
	}
	return eris.Wrap(f.Close(), "export: close summary")
}

func writeXLSX(path string, entries []model.Entry) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, col := range dataColumns {
		header.AddCell().SetString(col)
	}
	for _, e := range entries {
		row := sheet.AddRow()
		row.AddCell().SetString(model.FormatDate(e.Date))
		row.AddCell().SetFloat(e.Value)
		row.AddCell().SetString(e.Tag.Label())
	}

	return eris.Wrap(f.Save(path), "export: save workbook")
}
