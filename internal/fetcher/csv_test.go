package fetcher

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, ctx context.Context, input string, opts CSVOptions) ([]CSVRecord, error) {
	t.Helper()
	var out []CSVRecord
	err := ReadCSV(ctx, strings.NewReader(input), opts, func(rec CSVRecord) error {
		out = append(out, rec)
		return nil
	})
	return out, err
}

func fieldsOf(recs []CSVRecord) [][]string {
	out := make([][]string, len(recs))
	for i, r := range recs {
		out[i] = r.Fields
	}
	return out
}

func TestReadCSV_Observations(t *testing.T) {
	input := "2019,37769499\n2020,38972230\n2021,40099462\n"
	recs, err := readAll(t, context.Background(), input, CSVOptions{})
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"2019", "37769499"},
		{"2020", "38972230"},
		{"2021", "40099462"},
	}, fieldsOf(recs))
	assert.Equal(t, 3, recs[2].Line)
}

func TestReadCSV_DelimiterAndComment(t *testing.T) {
	input := "# exported series\ndate;value\n2020-01-01;1.5\n2021-01-01;2.5\n"
	recs, err := readAll(t, context.Background(), input, CSVOptions{Delimiter: ';', Comment: '#'})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"date", "value"}, {"2020-01-01", "1.5"}, {"2021-01-01", "2.5"}}, fieldsOf(recs))
	assert.Equal(t, 2, recs[0].Line)
	assert.Equal(t, 4, recs[2].Line)
}

func TestReadCSV_TrimSpaceAndVariableFields(t *testing.T) {
	input := " 2020 , 10 \n2021,11,extra\n"
	recs, err := readAll(t, context.Background(), input, CSVOptions{TrimSpace: true})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"2020", "10"}, {"2021", "11", "extra"}}, fieldsOf(recs))
}

func TestReadCSV_ByteOrderMark(t *testing.T) {
	recs, err := readAll(t, context.Background(), "\ufeffdate,value\n2020,1\n", CSVOptions{})
	require.NoError(t, err)
	assert.Equal(t, "date", recs[0].Fields[0])

	// UTF-16LE with BOM, as written by some spreadsheet tools.
	utf16 := string([]byte{0xff, 0xfe, '2', 0, '0', 0, '2', 0, '0', 0, ',', 0, '5', 0, '\n', 0})
	recs, err = readAll(t, context.Background(), utf16, CSVOptions{})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"2020", "5"}}, fieldsOf(recs))
}

func TestReadCSV_LazyQuotes(t *testing.T) {
	input := "2020,\"12\"3\n"
	_, err := readAll(t, context.Background(), input, CSVOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "csv: read row")

	recs, err := readAll(t, context.Background(), input, CSVOptions{LazyQuotes: true})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestReadCSV_Empty(t *testing.T) {
	recs, err := readAll(t, context.Background(), "", CSVOptions{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestReadCSV_CallbackError(t *testing.T) {
	stop := errors.New("stop")
	var seen int
	err := ReadCSV(context.Background(), strings.NewReader("a\nb\nc\n"), CSVOptions{}, func(CSVRecord) error {
		seen++
		if seen == 2 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 2, seen)
}

func TestReadCSV_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var seen int
	err := ReadCSV(ctx, strings.NewReader("2020,1\n2021,2\n2022,3\n"), CSVOptions{}, func(CSVRecord) error {
		seen++
		cancel()
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context cancelled")
	assert.Equal(t, 1, seen)
}
