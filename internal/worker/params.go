package worker

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/scems-network/scems/internal/domain"
)

// params wraps a task's parameter payload with typed, defaulting accessors.
// The first conversion error sticks and is reported by Err.
type params struct {
	raw map[string]any
	err error
}

func newParams(raw map[string]any) *params {
	if raw == nil {
		raw = map[string]any{}
	}
	return &params{raw: raw}
}

func (p *params) Err() error { return p.err }

func (p *params) fail(field, reason string) {
	if p.err == nil {
		p.err = domain.Invalid(field, reason)
	}
}

func (p *params) String(key, def string) string {
	v, ok := p.raw[key]
	if !ok || v == nil {
		return def
	}
	s, ok := v.(string)
	if !ok {
		p.fail(key, "must be a string")
		return def
	}
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}

func (p *params) Float(key string, def float64) float64 {
	v, ok := p.raw[key]
	if !ok || v == nil {
		return def
	}
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			p.fail(key, "must be a number")
			return def
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			p.fail(key, "must be a number")
			return def
		}
		f = n
	default:
		p.fail(key, "must be a number")
		return def
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		p.fail(key, "must be finite")
		return def
	}
	return f
}

func (p *params) Int(key string, def int) int {
	f := p.Float(key, float64(def))
	if f != math.Trunc(f) {
		p.fail(key, "must be a whole number")
		return def
	}
	return int(f)
}

// Range checks lo <= v <= hi.
func (p *params) Range(key string, v, lo, hi float64) {
	if v < lo || v > hi {
		p.fail(key, fmt.Sprintf("must be between %g and %g", lo, hi))
	}
}

// Positive checks v > 0.
func (p *params) Positive(key string, v float64) {
	if v <= 0 {
		p.fail(key, "must be positive")
	}
}

// Date resolves "today" (or absence) against now and validates YYYY-MM-DD.
func (p *params) Date(key string, now time.Time) string {
	s := p.String(key, "today")
	switch strings.ToLower(s) {
	case "today":
		return now.Format("2006-01-02")
	case "yesterday":
		return now.AddDate(0, 0, -1).Format("2006-01-02")
	case "tomorrow":
		return now.AddDate(0, 0, 1).Format("2006-01-02")
	}
	if _, err := time.Parse("2006-01-02", s); err != nil {
		p.fail(key, "must be YYYY-MM-DD or today")
		return now.Format("2006-01-02")
	}
	return s
}

// StartTime resolves "now" (or absence) to now truncated to the hour.
func (p *params) StartTime(key string, now time.Time) time.Time {
	s := p.String(key, "now")
	if strings.EqualFold(s, "now") {
		return now.UTC().Truncate(time.Hour)
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	p.fail(key, "must be RFC 3339 or now")
	return now.UTC().Truncate(time.Hour)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
