// Package domain holds the pure types shared by the supervisor and the workers:
// agent records, capabilities, health snapshots and the error taxonomy.
package domain

import (
	"slices"
	"strings"
	"time"
)

// HealthStatus is the liveness verdict of the last probe.
type HealthStatus string

const (
	HealthUnknown   HealthStatus = "unknown" // never probed
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// AgentRecord is the identity and capability advertisement of one worker.
type AgentRecord struct {
	Name         string       `json:"name"`
	BaseURL      string       `json:"base_url"`
	HealthURL    string       `json:"health_url"`
	Capabilities []string     `json:"capabilities"`
	LastSeen     time.Time    `json:"last_seen"`
	Status       HealthStatus `json:"status,omitempty"`
}

// Offers reports whether the agent advertises capability c.
func (a *AgentRecord) Offers(c Capability) bool {
	return slices.Contains(a.Capabilities, string(c))
}

// Clone returns a deep copy so callers never share the capabilities slice.
func (a AgentRecord) Clone() AgentRecord {
	a.Capabilities = slices.Clone(a.Capabilities)
	return a
}

// Validate checks the registration invariants and normalizes URLs in place.
// Capabilities are trimmed and de-duplicated; order is preserved.
func (a *AgentRecord) Validate() error {
	a.Name = strings.TrimSpace(a.Name)
	if a.Name == "" {
		return Invalid("name", "must not be empty")
	}

	seen := make(map[string]bool, len(a.Capabilities))
	caps := make([]string, 0, len(a.Capabilities))
	for _, c := range a.Capabilities {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		caps = append(caps, c)
	}
	if len(caps) == 0 {
		return Invalid("capabilities", "must contain at least one capability")
	}
	a.Capabilities = caps

	a.BaseURL = NormalizeURL(a.BaseURL)
	a.HealthURL = NormalizeURL(a.HealthURL)
	if a.HealthURL == "" && a.BaseURL != "" {
		a.HealthURL = strings.TrimRight(a.BaseURL, "/") + "/health"
	}
	return nil
}

// NormalizeURL ensures a scheme prefix: http for loopback hosts, https otherwise.
func NormalizeURL(raw string) string {
	u := strings.TrimSpace(raw)
	if u == "" {
		return u
	}
	if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
		return u
	}
	if strings.Contains(u, "localhost") || strings.Contains(u, "127.0.0.1") {
		return "http://" + u
	}
	return "https://" + u
}

// AgentHealth is one row of the aggregate health report.
type AgentHealth struct {
	Name           string       `json:"name"`
	Status         HealthStatus `json:"status"`
	ResponseTimeMS *float64     `json:"response_time_ms"`
	LastSeen       time.Time    `json:"last_seen"`
	Error          string       `json:"error,omitempty"`
}

// AggregateHealth summarizes every registered agent.
type AggregateHealth struct {
	SupervisorStatus string        `json:"supervisor_status"` // "ok" or "degraded"
	Agents           []AgentHealth `json:"agents"`
	TotalAgents      int           `json:"total_agents"`
	HealthyAgents    int           `json:"healthy_agents"`
}
