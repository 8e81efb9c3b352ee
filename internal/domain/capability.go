package domain

import "time"

// Capability is a named unit of work a worker can perform.
type Capability string

const (
	CapBuildingEnergyAnalysis      Capability = "building_energy_analysis"
	CapApplianceEnergyBreakdown    Capability = "appliance_energy_breakdown"
	CapPeakLoadForecasting         Capability = "peak_load_forecasting"
	CapEnergySavingRecommendations Capability = "energy_saving_recommendations"
	CapSolarEnergyEstimation       Capability = "solar_energy_estimation"
	CapCostEstimation              Capability = "cost_estimation"
)

// AllCapabilities returns every known capability in declared priority order.
// The order breaks routing ties.
func AllCapabilities() []Capability {
	return []Capability{
		CapBuildingEnergyAnalysis,
		CapApplianceEnergyBreakdown,
		CapPeakLoadForecasting,
		CapEnergySavingRecommendations,
		CapSolarEnergyEstimation,
		CapCostEstimation,
	}
}

// IsKnownCapability reports whether name is one of the declared capabilities.
func IsKnownCapability(name string) bool {
	for _, c := range AllCapabilities() {
		if string(c) == name {
			return true
		}
	}
	return false
}

// CapabilityTTL returns how long a cached result for c stays fresh.
// Unknown capabilities get fallback.
func CapabilityTTL(c Capability, fallback time.Duration) time.Duration {
	switch c {
	case CapBuildingEnergyAnalysis, CapApplianceEnergyBreakdown, CapCostEstimation:
		return 24 * time.Hour
	case CapPeakLoadForecasting:
		return time.Hour
	case CapEnergySavingRecommendations:
		return 6 * time.Hour
	case CapSolarEnergyEstimation:
		return 7 * 24 * time.Hour
	default:
		return fallback
	}
}
