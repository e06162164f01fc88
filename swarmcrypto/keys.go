package swarmcrypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// KeyPair is an agent's Ed25519 signing key.
type KeyPair struct {
	AgentID string
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKeyPair creates a fresh Ed25519 keypair for agentID.
func GenerateKeyPair(agentID string) (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("swarmcrypto: generate keypair: %w", err)
	}
	return &KeyPair{AgentID: agentID, Public: pub, Private: priv}, nil
}

// PublicKeyB64 returns the standard-base64 encoding of the public key, the
// wire representation used in sender_pk_b64 / sig_pk_b64.
func (k *KeyPair) PublicKeyB64() string {
	return base64.StdEncoding.EncodeToString(k.Public)
}

type keyFile struct {
	AgentID string `json:"agent_id"`
	Public  string `json:"public_key_b64"`
	Private string `json:"private_key_b64"`
}

// keyDirFor returns the path of an agent's persisted key file.
func keyDirFor(keysDir, agentID string) string {
	return filepath.Join(keysDir, agentID+".json")
}

// Save persists the keypair under <keysDir>/<agent_id>.json, atomically
// (stage to temp file, fsync, rename), mirroring the teacher's keystore
// write pattern in crypto/keystore.go.
func (k *KeyPair) Save(keysDir string) error {
	if err := os.MkdirAll(keysDir, 0o700); err != nil {
		return fmt.Errorf("swarmcrypto: create keys dir: %w", err)
	}
	path := keyDirFor(keysDir, k.AgentID)
	payload := keyFile{
		AgentID: k.AgentID,
		Public:  base64.StdEncoding.EncodeToString(k.Public),
		Private: base64.StdEncoding.EncodeToString(k.Private),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("swarmcrypto: marshal keyfile: %w", err)
	}

	tmp, err := os.CreateTemp(keysDir, "key-*.tmp")
	if err != nil {
		return fmt.Errorf("swarmcrypto: create temp keyfile: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("swarmcrypto: write temp keyfile: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("swarmcrypto: fsync temp keyfile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("swarmcrypto: close temp keyfile: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("swarmcrypto: rename keyfile: %w", err)
	}
	return os.Chmod(path, 0o600)
}

// LoadKeyPair reads an agent's persisted keypair. New code MUST pass
// agentID; there is no process-wide fallback keypair in this module (the
// teacher's legacy fallback pair is explicitly not carried forward — see
// DESIGN.md).
func LoadKeyPair(keysDir, agentID string) (*KeyPair, error) {
	if agentID == "" {
		return nil, errors.New("swarmcrypto: empty agent_id")
	}
	path := keyDirFor(keysDir, agentID)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("swarmcrypto: read keyfile: %w", err)
	}
	var kf keyFile
	if err := json.Unmarshal(raw, &kf); err != nil {
		return nil, fmt.Errorf("swarmcrypto: decode keyfile: %w", err)
	}
	pub, err := base64.StdEncoding.DecodeString(kf.Public)
	if err != nil {
		return nil, fmt.Errorf("swarmcrypto: decode public key: %w", err)
	}
	priv, err := base64.StdEncoding.DecodeString(kf.Private)
	if err != nil {
		return nil, fmt.Errorf("swarmcrypto: decode private key: %w", err)
	}
	return &KeyPair{AgentID: kf.AgentID, Public: ed25519.PublicKey(pub), Private: ed25519.PrivateKey(priv)}, nil
}

// LoadOrGenerate loads an agent's keypair, generating and persisting one on
// first use.
func LoadOrGenerate(keysDir, agentID string) (*KeyPair, error) {
	if _, err := os.Stat(keyDirFor(keysDir, agentID)); err == nil {
		return LoadKeyPair(keysDir, agentID)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("swarmcrypto: stat keyfile: %w", err)
	}

	kp, err := GenerateKeyPair(agentID)
	if err != nil {
		return nil, err
	}
	if err := kp.Save(keysDir); err != nil {
		return nil, err
	}
	return kp, nil
}

// SignWithKey signs raw bytes with an explicit private key, the low-level
// primitive names as sign_with_key.
func SignWithKey(priv ed25519.PrivateKey, msg []byte) []byte {
	return ed25519.Sign(priv, msg)
}

// Sum256Hex returns the lowercase hex SHA-256 digest of data — the CAS/
// payload hash function used throughout the wire protocol.
func Sum256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
