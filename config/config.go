// Package config resolves where this coordination core keeps its state and
// which optional subsystems (clustered consensus, IPFS-backed CAS) it talks
// to. Every setting is driven by the environment variables spec.md §6
// names; an optional TOML file supplies the same fields' defaults for a
// static deployment, the way the teacher's own file-based Config did,
// before the environment is consulted to override them.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// bypassVars are the knobs an operator might set to skip policy validation
// in a dev loop. They must never reach a running process: StripBypassVars
// removes them before Load ever consults the environment.
var bypassVars = []string{
	"SKIP_POLICY_VALIDATION",
	"DISABLE_POLICY",
	"BYPASS_VALIDATION",
	"NO_VALIDATION",
}

// StripBypassVars unsets every bypass variable from the process
// environment. Call it once, as early as possible in main, before Load.
func StripBypassVars() {
	for _, v := range bypassVars {
		os.Unsetenv(v)
	}
}

// fileOverlay is the optional on-disk defaults file, named by
// SWARM_CONFIG_FILE (falling back to ./swarm.toml if that file exists).
// Every field is optional; a missing file is not an error.
type fileOverlay struct {
	StateDir      string `toml:"StateDir"`
	CASDir        string `toml:"CASDir"`
	LogDir        string `toml:"LogDir"`
	KeysDir       string `toml:"KeysDir"`
	IPFSCAS       string `toml:"IPFSCAS"`
	RaftConsensus bool   `toml:"RaftConsensus"`
	P2PPrimary    string `toml:"P2PPrimary"`
}

// Config is the coordination core's resolved runtime layout: where durable
// state lives, which optional backends are active, and the signing
// identity used for self-originated envelopes (lease scavenging, the
// RECONCILE epoch bump).
type Config struct {
	StateDir string // SWARM_STATE_DIR — Plan Log, Register, Ledger, Lamport clock
	CASDir   string // SWARM_CAS_DIR — filesystem CAS root
	LogDir   string // SWARM_LOG_DIR — rotating audit JSONL
	KeysDir  string // SWARM_KEYS_DIR — persisted agent keypairs

	// SigningSKB64/VerifyPKB64 let an operator inject a signing identity
	// directly rather than reading it off disk; VerifyPKB64 is accepted
	// for backward compatibility with deployments that only ever pinned
	// the public half and is otherwise unused by this process.
	SigningSKB64 string
	VerifyPKB64  string

	IPFSCAS       string // IPFS_CAS — HTTP API base; empty disables IPFS and falls back to the filesystem CAS
	RaftConsensus bool   // RAFT_CONSENSUS — true selects the clustered goleveldb register, false the bootstrap bbolt one
	P2PPrimary    string // P2P_PRIMARY — address of the transport's primary peer, passed through untouched (P2P is an external collaborator)
}

// Load resolves a Config: an optional TOML overlay supplies defaults,
// environment variables named in spec.md §6 override them, and the
// resulting state directories are created if missing. Call
// StripBypassVars before Load so a dev-loop bypass variable can never leak
// into the resolved configuration.
func Load() (*Config, error) {
	overlay, err := loadOverlay()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		StateDir:      firstNonEmpty(os.Getenv("SWARM_STATE_DIR"), overlay.StateDir, "./swarm-data"),
		CASDir:        firstNonEmpty(os.Getenv("SWARM_CAS_DIR"), overlay.CASDir, "./swarm-data/cas"),
		LogDir:        firstNonEmpty(os.Getenv("SWARM_LOG_DIR"), overlay.LogDir, "./swarm-data/audit"),
		KeysDir:       firstNonEmpty(os.Getenv("SWARM_KEYS_DIR"), overlay.KeysDir, "./swarm-data/keys"),
		SigningSKB64:  os.Getenv("SWARM_SIGNING_SK_B64"),
		VerifyPKB64:   os.Getenv("SWARM_VERIFY_PK_B64"),
		IPFSCAS:       firstNonEmpty(os.Getenv("IPFS_CAS"), overlay.IPFSCAS, ""),
		RaftConsensus: envBool("RAFT_CONSENSUS", overlay.RaftConsensus),
		P2PPrimary:    firstNonEmpty(os.Getenv("P2P_PRIMARY"), overlay.P2PPrimary, ""),
	}
	for _, dir := range []string{cfg.StateDir, cfg.CASDir, cfg.LogDir, cfg.KeysDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func loadOverlay() (fileOverlay, error) {
	var overlay fileOverlay
	path := os.Getenv("SWARM_CONFIG_FILE")
	if path == "" {
		path = "./swarm.toml"
	}
	if _, err := os.Stat(path); err != nil {
		return overlay, nil
	}
	if _, err := toml.DecodeFile(path, &overlay); err != nil {
		return overlay, err
	}
	return overlay, nil
}

// UseIPFS reports whether IPFS_CAS was set, the signal cas.GetCASStore
// uses to pick the HTTP-backed store over the filesystem one.
func (c *Config) UseIPFS() bool { return c.IPFSCAS != "" }

// LedgerStateDir, RegisterStateDir, PlanLogStateDir, and LamportStateDir
// namespace the shared SWARM_STATE_DIR so each durable component owns a
// distinct subdirectory rather than contending over one.
func (c *Config) LedgerStateDir() string   { return filepath.Join(c.StateDir, "ledger") }
func (c *Config) RegisterStateDir() string { return filepath.Join(c.StateDir, "register") }
func (c *Config) LamportStateDir() string  { return filepath.Join(c.StateDir, "lamport") }
func (c *Config) PlanLogStateDir() string  { return filepath.Join(c.StateDir, "plan") }

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v == "true" || v == "1"
}
