package worker

import (
	"math"

	"github.com/scems-network/scems/internal/domain"
)

// baseLoadKWh is the heuristic forecaster's hourly base load.
const baseLoadKWh = 50.0

// HeuristicForecaster is the untrained forecasting collaborator: a daily
// sine wave around the base load peaking mid-afternoon.
type HeuristicForecaster struct{}

// Predict implements domain.Forecaster.
func (HeuristicForecaster) Predict(f domain.ForecastFeatures) float64 {
	factor := 1.0 + 0.3*math.Sin(2*math.Pi*float64(f.Hour-6)/24)
	return baseLoadKWh * factor
}
