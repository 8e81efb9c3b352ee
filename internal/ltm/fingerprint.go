package ltm

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Fingerprint derives the cache key for a capability invocation:
//
//	<capability>:<building_id or _>:<16 hex chars of sha256(canonical params)>
//
// Canonical params are JSON with sorted object keys and trimmed string
// values, so whitespace and map ordering never split the cache.
func Fingerprint(capability string, params map[string]any) (string, error) {
	norm, _ := normalize(params).(map[string]any)
	if norm == nil {
		norm = map[string]any{}
	}
	canonical, err := json.Marshal(norm)
	if err != nil {
		return "", fmt.Errorf("canonicalize parameters: %w", err)
	}
	sum := sha256.Sum256(canonical)

	building := "_"
	if b, ok := norm["building_id"].(string); ok && b != "" {
		building = b
	}
	return capability + ":" + building + ":" + hex.EncodeToString(sum[:8]), nil
}

// CapabilityPrefix is the key prefix shared by every entry of capability.
func CapabilityPrefix(capability string) string {
	return capability + ":"
}

func normalize(v any) any {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	default:
		return v
	}
}
