package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scems-network/scems/internal/domain"
)

const sampleCSV = `timestamp,building_id,consumption_kwh
2025-11-22 00:00:00,Building-A,40.0
2025-11-22 13:00:00,Building-A,70.5
2025-11-22 14:00:00,Building-A,70.5
2025-11-22 15:00:00,Building-A,19.0
2025-11-22 14:00:00,Building-B,99.0
2025-11-23T01:00:00Z,Building-A,10.0
not-a-time,Building-A,5.0
`

func writeSample(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, SampleDataFile), []byte(sampleCSV), 0o644))
	return dir
}

func TestCSVSource_DailyConsumption(t *testing.T) {
	src := NewCSVSource(writeSample(t))

	sum, ok, err := src.DailyConsumption("Building-A", "2025-11-22")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 200.0, sum.TotalKWh)
	assert.Equal(t, 50.0, sum.AverageKWh)
	assert.Equal(t, 13, sum.PeakHour, "first maximum wins")
	assert.Equal(t, 4, sum.Readings)

	_, ok, err = src.DailyConsumption("Building-Z", "2025-11-22")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCSVSource_MissingFile(t *testing.T) {
	src := NewCSVSource(t.TempDir())
	_, ok, err := src.DailyConsumption("Building-A", "2025-11-22")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCSVSource_BadHeader(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, SampleDataFile), []byte("when,kwh\n1,2\n"), 0o644))
	_, _, err := NewCSVSource(dir).DailyConsumption("Building-A", "2025-11-22")
	assert.Error(t, err)
}

func TestAnalysis_UsesSampleData(t *testing.T) {
	x := newTestExecutor(t, &fakeClock{now: base}, NewCSVSource(writeSample(t)))
	r, err := x.Execute(context.Background(), string(domain.CapBuildingEnergyAnalysis), map[string]any{"date": "2025-11-22"})
	require.NoError(t, err)

	m := decode(t, r.Data)
	assert.Equal(t, 200.0, m["total_consumption_kwh"])
	assert.Equal(t, 13.0, m["peak_hour"])
	assert.Equal(t, "sample_data", m["source"])
}

func TestHeuristicForecaster(t *testing.T) {
	f := HeuristicForecaster{}
	assert.InDelta(t, 50.0, f.Predict(domain.ForecastFeatures{Hour: 6}), 1e-9)
	assert.InDelta(t, 65.0, f.Predict(domain.ForecastFeatures{Hour: 12}), 1e-9)
	assert.InDelta(t, 35.0, f.Predict(domain.ForecastFeatures{Hour: 0}), 1e-9)
}
