package dispatch

import "github.com/bottletopbil/agent-network-sub002/envelope"

// Payload fields arrive either as Go-native values (tests building
// envelopes directly) or as the float64/string/bool/[]any/map[string]any
// shapes encoding/json produces when an envelope comes off the wire; these
// accessors tolerate both.

func strField(e *envelope.Envelope, key string) string {
	v, ok := e.Payload[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func int64Field(e *envelope.Envelope, key string) int64 {
	v, ok := e.Payload[key]
	if !ok {
		return 0
	}
	return toInt64(v)
}

func intField(e *envelope.Envelope, key string) int {
	return int(int64Field(e, key))
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func boolField(e *envelope.Envelope, key string) bool {
	v, ok := e.Payload[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

func sliceField(e *envelope.Envelope, key string) []any {
	v, ok := e.Payload[key]
	if !ok {
		return nil
	}
	s, _ := v.([]any)
	return s
}

func stringSliceField(e *envelope.Envelope, key string) []string {
	raw := sliceField(e, key)
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}
