package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var latestCfg = UpsertConfig{
	Table:        "latest_points",
	Columns:      []string{"country", "indicator", "date", "value", "source", "run_id"},
	ConflictKeys: []string{"country", "indicator", "date"},
}

func beginMock(t *testing.T) (pgxmock.PgxPoolIface, pgx.Tx) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	mock.ExpectBegin()
	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)
	return mock, tx
}

func TestUpsertTx_EmptyRows(t *testing.T) {
	n, err := UpsertTx(context.TODO(), nil, latestCfg, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestUpsertTx_InvalidConfig(t *testing.T) {
	_, err := UpsertTx(context.TODO(), nil, UpsertConfig{
		Table:        "latest_points",
		ConflictKeys: []string{"date"},
	}, [][]any{{1, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")

	_, err = UpsertTx(context.TODO(), nil, UpsertConfig{
		Table:   "latest_points",
		Columns: []string{"date", "value"},
	}, [][]any{{1, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestUpsertTx_Success(t *testing.T) {
	mock, tx := beginMock(t)
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_latest_points"}, latestCfg.Columns).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "latest_points" .* ON CONFLICT \("country", "indicator", "date"\) DO UPDATE SET "value" = EXCLUDED."value"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	rows := [][]any{
		{"AFG", "SP.POP.TOTL", "2023-01-01", 1.0, "Forecast", "r1"},
		{"AFG", "SP.POP.TOTL", "2024-01-01", 2.0, "Forecast", "r1"},
	}
	n, err := UpsertTx(context.Background(), tx, latestCfg, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertTx_CreateTempError(t *testing.T) {
	mock, tx := beginMock(t)
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnError(errors.New("permission denied"))

	_, err := UpsertTx(context.Background(), tx, latestCfg, [][]any{{"AFG"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create temp table for latest_points")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertTx_InsertError(t *testing.T) {
	mock, tx := beginMock(t)
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_latest_points"}, latestCfg.Columns).WillReturnResult(1)
	mock.ExpectExec("INSERT INTO").WillReturnError(errors.New("constraint violation"))

	_, err := UpsertTx(context.Background(), tx, latestCfg, [][]any{{"AFG", "SP.POP.TOTL", "2023-01-01", 1.0, "Forecast", "r1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INSERT ON CONFLICT for latest_points")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertConfig_UpdateCols(t *testing.T) {
	assert.Equal(t, []string{"value", "source", "run_id"}, latestCfg.updateCols())

	explicit := latestCfg
	explicit.UpdateCols = []string{"value"}
	assert.Equal(t, []string{"value"}, explicit.updateCols())
}

func TestIdentifier(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"forecast.latest_points", `"forecast"."latest_points"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, identifier(tt.input).Sanitize())
		})
	}
}

func TestTempTableName(t *testing.T) {
	assert.Equal(t, "_tmp_upsert_forecast_latest_points", TempTableName("forecast.latest_points"))
}

func TestQuoteAndJoin(t *testing.T) {
	assert.Equal(t, `"country", "indicator", "date"`, quoteAndJoin([]string{"country", "indicator", "date"}))
}
