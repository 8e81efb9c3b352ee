package domain

import "context"

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// AgentStore persists the registry snapshot across restarts.
// Implemented by infra/sqlite.DB.
type AgentStore interface {
	UpsertAgent(rec AgentRecord) error
	ListAgents() ([]AgentRecord, error)
	DeleteAgent(name string) error
}

// Prober checks a worker's health endpoint. A nil error means healthy.
// Implemented by health.HTTPProber.
type Prober interface {
	Probe(ctx context.Context, healthURL string) error
}

// Forecaster is the opaque statistical forecasting collaborator.
type Forecaster interface {
	Predict(f ForecastFeatures) float64
}

// ForecastFeatures are the inputs of one hourly load prediction.
type ForecastFeatures struct {
	Hour            int     // 0-23
	DayOfWeek       int     // 0=Monday .. 6=Sunday
	PrevConsumption float64 // kWh of the previous hour
}

// ConsumptionSource is the opaque sample-data collaborator.
type ConsumptionSource interface {
	// DailyConsumption returns the summary for building on date (YYYY-MM-DD).
	// ok is false when no readings exist.
	DailyConsumption(buildingID, date string) (summary DailyConsumption, ok bool, err error)
}

// DailyConsumption summarizes one building-day of meter readings.
type DailyConsumption struct {
	TotalKWh   float64
	AverageKWh float64
	PeakHour   int
	Readings   int
}
