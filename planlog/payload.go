package planlog

import "encoding/json"

func decodePayload(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func extractString(raw []byte, key string) string {
	m, err := decodePayload(raw)
	if err != nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func encodeValue(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// EncodePayload canonically encodes a payload map for storage in a PlanOp.
func EncodePayload(m map[string]any) ([]byte, error) {
	return json.Marshal(m)
}
