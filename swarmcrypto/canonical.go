// Package swarmcrypto implements Ed25519 signing/verification and the
// canonical-JSON encoding the wire protocol signs over, plus per-agent
// keypair persistence. The teacher's own crypto package signs with
// secp256k1 (go-ethereum), which is the wrong curve here — see DESIGN.md
// for why that dependency isn't carried forward.
package swarmcrypto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Canonicalize encodes v as canonical JSON: sorted object keys, minimal
// separators, UTF-8. It round-trips through encoding/json so any JSON-
// marshalable value (struct, map, slice) is accepted.
func Canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("swarmcrypto: marshal for canonicalization: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("swarmcrypto: decode for canonicalization: %w", err)
	}
	var buf bytes.Buffer
	if err := encodeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyBytes, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(keyBytes)
			buf.WriteByte(':')
			if err := encodeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	default:
		encoded, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(encoded)
		return nil
	}
}

// CanonicalMapExcluding canonicalizes a map after deleting the given keys —
// used to rebuild a signed record's body before verification.
func CanonicalMapExcluding(m map[string]any, exclude ...string) ([]byte, error) {
	clone := make(map[string]any, len(m))
	for k, v := range m {
		clone[k] = v
	}
	for _, k := range exclude {
		delete(clone, k)
	}
	return Canonicalize(clone)
}
