package swarmcrypto

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// SignRecord canonicalizes obj, signs it with kp, and returns a new JSON
// object equal to obj merged with {sig_pk, sig}.
func SignRecord(kp *KeyPair, obj any) (map[string]any, error) {
	body, err := toMap(obj)
	if err != nil {
		return nil, err
	}
	canon, err := Canonicalize(body)
	if err != nil {
		return nil, err
	}
	sig := ed25519.Sign(kp.Private, canon)
	body["sig_pk"] = kp.PublicKeyB64()
	body["sig"] = base64.StdEncoding.EncodeToString(sig)
	return body, nil
}

// VerifyRecord rebuilds the body of a signed record (excluding sig/sig_pk),
// canonicalizes it, and verifies the Ed25519 signature against sig_pk.
func VerifyRecord(signed map[string]any) (bool, error) {
	pkB64, _ := signed["sig_pk"].(string)
	sigB64, _ := signed["sig"].(string)
	if pkB64 == "" || sigB64 == "" {
		return false, fmt.Errorf("swarmcrypto: signed record missing sig/sig_pk")
	}
	pk, err := base64.StdEncoding.DecodeString(pkB64)
	if err != nil {
		return false, fmt.Errorf("swarmcrypto: decode sig_pk: %w", err)
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false, fmt.Errorf("swarmcrypto: decode sig: %w", err)
	}
	canon, err := CanonicalMapExcluding(signed, "sig", "sig_pk")
	if err != nil {
		return false, err
	}
	return ed25519.Verify(ed25519.PublicKey(pk), canon, sig), nil
}

func toMap(obj any) (map[string]any, error) {
	if m, ok := obj.(map[string]any); ok {
		clone := make(map[string]any, len(m))
		for k, v := range m {
			clone[k] = v
		}
		return clone, nil
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("swarmcrypto: marshal record: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("swarmcrypto: decode record as object: %w", err)
	}
	return m, nil
}
