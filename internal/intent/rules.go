package intent

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/scems-network/scems/internal/domain"
)

// Prompt is the routing input handed to extractors.
type Prompt struct {
	Raw   string
	Lower string
	Now   time.Time
}

// Extractor derives task parameters from a prompt. It returns an error only
// when a required parameter is present but unusable and has no default.
type Extractor func(p Prompt) (map[string]any, error)

// Rule binds a capability to its trigger terms and parameter extractor.
type Rule struct {
	Capability domain.Capability
	Triggers   []string
	Extract    Extractor
}

// DefaultRules is the campus energy rule table, in tie-break priority order.
func DefaultRules() []Rule {
	return []Rule{
		{
			// "building" is not a trigger: most prompts name one as a parameter.
			Capability: domain.CapBuildingEnergyAnalysis,
			Triggers:   []string{"energy", "consumption", "analyze", "analysis", "usage", "consumed"},
			Extract:    chain(buildingParam, dateParam(true)),
		},
		{
			Capability: domain.CapApplianceEnergyBreakdown,
			Triggers:   []string{"appliance", "breakdown", "by type", "hvac", "lighting", "computers", "equipment"},
			Extract:    chain(buildingParam, dateParam(true)),
		},
		{
			Capability: domain.CapPeakLoadForecasting,
			Triggers:   []string{"forecast", "predict", "peak", "load", "future", "tomorrow", "next week", "demand"},
			Extract:    chain(buildingParam, dateParam(false), forecastHoursParam),
		},
		{
			Capability: domain.CapEnergySavingRecommendations,
			Triggers:   []string{"recommend", "saving", "save", "efficiency", "optimize", "reduce", "suggestions", "tips"},
			Extract:    chain(buildingParam, consumptionParam("current_consumption")),
		},
		{
			Capability: domain.CapSolarEnergyEstimation,
			Triggers:   []string{"solar", "renewable", "generation", "panel", "pv", "photovoltaic"},
			Extract:    chain(buildingParam, panelCapacityParam),
		},
		{
			Capability: domain.CapCostEstimation,
			Triggers:   []string{"cost", "price", "bill", "expense", "money", "dollar", "usd"},
			Extract:    chain(buildingParam, consumptionParam("consumption_kwh"), rateParam),
		},
	}
}

// ─── Extractors ─────────────────────────────────────────────────────────────

const defaultBuilding = "Building-A"

var (
	buildingRe = regexp.MustCompile(`\bbuilding(?:[\s_-]+([a-z])|[\s_-]*(\d+))\b`)
	isoDateRe  = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	hoursRe    = regexp.MustCompile(`\b(\d+)\s*(?:hours?|hrs?|h)\b`)
	daysRe     = regexp.MustCompile(`\b(\d+)\s*days?\b`)
	kwRe       = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*kw\b`)
	kwhRe      = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*kwh\b`)
	rateRe     = regexp.MustCompile(`\$\s*(\d+(?:\.\d+)?)`)
	numberRe   = regexp.MustCompile(`\d+(?:\.\d+)?`)
)

func chain(extractors ...Extractor) Extractor {
	return func(p Prompt) (map[string]any, error) {
		params := make(map[string]any)
		for _, x := range extractors {
			got, err := x(p)
			if err != nil {
				return nil, err
			}
			for k, v := range got {
				params[k] = v
			}
		}
		return params, nil
	}
}

func buildingParam(p Prompt) (map[string]any, error) {
	id := defaultBuilding
	if m := buildingRe.FindStringSubmatch(p.Lower); m != nil {
		id = "Building-" + strings.ToUpper(m[1]+m[2])
	}
	return map[string]any{"building_id": id}, nil
}

// dateParam resolves relative dates against the router clock. With
// defaultToday unset, the date is only emitted when the prompt names one.
func dateParam(defaultToday bool) Extractor {
	return func(p Prompt) (map[string]any, error) {
		day := p.Now
		switch {
		case isoDateRe.MatchString(p.Lower):
			raw := isoDateRe.FindStringSubmatch(p.Lower)[1]
			if _, err := time.Parse("2006-01-02", raw); err != nil {
				return nil, fmt.Errorf("date %q is not a valid calendar date", raw)
			}
			return map[string]any{"date": raw}, nil
		case strings.Contains(p.Lower, "yesterday"):
			day = day.AddDate(0, 0, -1)
		case strings.Contains(p.Lower, "tomorrow"):
			day = day.AddDate(0, 0, 1)
		case strings.Contains(p.Lower, "today"):
		default:
			if !defaultToday {
				return nil, nil
			}
		}
		return map[string]any{"date": day.Format("2006-01-02")}, nil
	}
}

func forecastHoursParam(p Prompt) (map[string]any, error) {
	hours := 24
	switch {
	case hoursRe.MatchString(p.Lower):
		n, _ := strconv.Atoi(hoursRe.FindStringSubmatch(p.Lower)[1])
		hours = n
	case daysRe.MatchString(p.Lower):
		n, _ := strconv.Atoi(daysRe.FindStringSubmatch(p.Lower)[1])
		hours = n * 24
	case strings.Contains(p.Lower, "week"):
		hours = 168
	}
	return map[string]any{"forecast_hours": clamp(hours, 1, 168)}, nil
}

func panelCapacityParam(p Prompt) (map[string]any, error) {
	capacity := 100.0
	if m := kwRe.FindStringSubmatch(p.Lower); m != nil {
		capacity, _ = strconv.ParseFloat(m[1], 64)
	} else if n := firstNumber(p); n > 0 {
		capacity = n
	}
	return map[string]any{"panel_capacity_kw": capacity}, nil
}

func consumptionParam(key string) Extractor {
	return func(p Prompt) (map[string]any, error) {
		kwh := 1250.0
		if m := kwhRe.FindStringSubmatch(p.Lower); m != nil {
			kwh, _ = strconv.ParseFloat(m[1], 64)
		}
		return map[string]any{key: kwh}, nil
	}
}

func rateParam(p Prompt) (map[string]any, error) {
	rate := 0.12
	if m := rateRe.FindStringSubmatch(p.Lower); m != nil {
		rate, _ = strconv.ParseFloat(m[1], 64)
	}
	if rate <= 0 {
		return nil, fmt.Errorf("electricity rate must be positive")
	}
	return map[string]any{"rate_per_kwh": rate}, nil
}

// firstNumber ignores digits that belong to a building id or a date.
func firstNumber(p Prompt) float64 {
	s := buildingRe.ReplaceAllString(p.Lower, " ")
	s = isoDateRe.ReplaceAllString(s, " ")
	m := numberRe.FindString(s)
	if m == "" {
		return 0
	}
	n, _ := strconv.ParseFloat(m, 64)
	return n
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
