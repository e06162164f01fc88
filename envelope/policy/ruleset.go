package policy

import (
	"fmt"
	"os"

	"github.com/bottletopbil/agent-network-sub002/swarmcrypto"
	"gopkg.in/yaml.v3"
)

// ruleDoc is the on-disk YAML shape of the policy rule set. The hash of its
// canonical re-encoding becomes policy_engine_hash, pinning the active
// policy version.
type ruleDoc struct {
	RequiredFields []string `yaml:"required_fields"`
	MaxPayloadKiB  int      `yaml:"max_payload_kib"`
	GasLimit       int      `yaml:"gas_limit"`
}

// LoadRuleset reads a YAML policy rule set from path and computes its
// policy_engine_hash.
func LoadRuleset(path string) (*Ruleset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read ruleset: %w", err)
	}
	var doc ruleDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("policy: decode ruleset: %w", err)
	}
	return rulesetFromDoc(doc)
}

// DefaultRuleset returns the built-in rule set's enumerated rules, useful
// when no policy file is configured.
func DefaultRuleset() *Ruleset {
	rs, _ := rulesetFromDoc(ruleDoc{
		RequiredFields: []string{"thread_id", "lamport", "actor_id"},
		MaxPayloadKiB:  64,
		GasLimit:       DefaultGasLimit,
	})
	return rs
}

func rulesetFromDoc(doc ruleDoc) (*Ruleset, error) {
	canon, err := swarmcrypto.Canonicalize(doc)
	if err != nil {
		return nil, fmt.Errorf("policy: canonicalize ruleset: %w", err)
	}
	return &Ruleset{
		Hash:           swarmcrypto.Sum256Hex(canon),
		RequiredFields: doc.RequiredFields,
	}, nil
}
