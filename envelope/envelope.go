// Package envelope implements the signed message envelope: construction
// with sensible defaults, Ed25519 signing, and the structural (non-policy)
// checks verify_envelope performs.
package envelope

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bottletopbil/agent-network-sub002/lamport"
	"github.com/bottletopbil/agent-network-sub002/swarmcrypto"
	"github.com/google/uuid"
)

// Kind enumerates the allowed envelope verbs.
type Kind string

const (
	KindNeed        Kind = "NEED"
	KindPropose     Kind = "PROPOSE"
	KindClaim       Kind = "CLAIM"
	KindClaimExt    Kind = "CLAIM_EXTENDED"
	KindCommit      Kind = "COMMIT"
	KindAttest      Kind = "ATTEST"
	KindDecide      Kind = "DECIDE"
	KindFinalize    Kind = "FINALIZE"
	KindYield       Kind = "YIELD"
	KindRelease     Kind = "RELEASE"
	KindChallenge   Kind = "CHALLENGE"
	KindInvalidate  Kind = "INVALIDATE"
	KindReconcile   Kind = "RECONCILE"
	KindCheckpoint  Kind = "CHECKPOINT"
	KindUpdatePlan  Kind = "UPDATE_PLAN"
	KindAttestPlan  Kind = "ATTEST_PLAN"
)

// AllowedKinds is the closed set of valid envelope kinds.
var AllowedKinds = map[Kind]struct{}{
	KindNeed: {}, KindPropose: {}, KindClaim: {}, KindClaimExt: {},
	KindCommit: {}, KindAttest: {}, KindDecide: {}, KindFinalize: {},
	KindYield: {}, KindRelease: {}, KindChallenge: {}, KindInvalidate: {},
	KindReconcile: {}, KindCheckpoint: {}, KindUpdatePlan: {}, KindAttestPlan: {},
}

// MaxPayloadBytes is the canonical-payload size ceiling.
const MaxPayloadBytes = 64 * 1024

// Envelope is the signed message unit carried over the transport. SigPK/Sig are populated by Sign.
type Envelope struct {
	V               int            `json:"v"`
	ID              string         `json:"id"`
	ThreadID        string         `json:"thread_id"`
	Kind            Kind           `json:"kind"`
	Lamport         int64          `json:"lamport"`
	TsNs            int64          `json:"ts_ns"`
	SenderPKB64     string         `json:"sender_pk_b64"`
	PayloadHash     string         `json:"payload_hash"`
	Payload         map[string]any `json:"payload"`
	PolicyEngineHash string        `json:"policy_engine_hash"`
	Nonce           string         `json:"nonce"`
	SigPKB64        string         `json:"sig_pk_b64,omitempty"`
	SigB64          string         `json:"sig_b64,omitempty"`
}

// Builder fills in envelope defaults before signing.
type Builder struct {
	Clock            *lamport.Clock
	PolicyEngineHash string
}

// New constructs an envelope with defaults filled: v=1, fresh id/nonce,
// ts_ns=now, lamport from the shared clock, and the active policy hash.
func (b *Builder) New(threadID string, kind Kind, senderPKB64 string, payload map[string]any) (*Envelope, error) {
	if _, ok := AllowedKinds[kind]; !ok {
		return nil, fmt.Errorf("envelope: unknown kind %q", kind)
	}
	canonPayload, err := swarmcrypto.Canonicalize(payload)
	if err != nil {
		return nil, fmt.Errorf("envelope: canonicalize payload: %w", err)
	}
	if len(canonPayload) > MaxPayloadBytes {
		return nil, fmt.Errorf("envelope: payload %d bytes exceeds %d byte limit", len(canonPayload), MaxPayloadBytes)
	}
	lamportVal, err := b.Clock.Tick()
	if err != nil {
		return nil, fmt.Errorf("envelope: tick clock: %w", err)
	}
	return &Envelope{
		V:                1,
		ID:               uuid.NewString(),
		ThreadID:         threadID,
		Kind:             kind,
		Lamport:          lamportVal,
		TsNs:             time.Now().UnixNano(),
		SenderPKB64:      senderPKB64,
		PayloadHash:      swarmcrypto.Sum256Hex(canonPayload),
		Payload:          payload,
		PolicyEngineHash: b.PolicyEngineHash,
		Nonce:            uuid.NewString(),
	}, nil
}

// signingBody returns the canonical JSON signed over: every field except
// sig_pk_b64/sig_b64.
func (e *Envelope) signingBody() (map[string]any, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	delete(m, "sig_pk_b64")
	delete(m, "sig_b64")
	return m, nil
}

// Sign appends an Ed25519 signature over the canonical encoding of every
// non-signature field.
func Sign(kp *swarmcrypto.KeyPair, e *Envelope) error {
	body, err := e.signingBody()
	if err != nil {
		return fmt.Errorf("envelope: build signing body: %w", err)
	}
	signed, err := swarmcrypto.SignRecord(kp, body)
	if err != nil {
		return err
	}
	e.SigPKB64, _ = signed["sig_pk"].(string)
	e.SigB64, _ = signed["sig"].(string)
	return nil
}

// Verify checks structural invariants: a valid
// signature, lamport > 0, and payload_hash matching the canonical payload.
// It does NOT evaluate policy rules — that's envelope/policy.
func Verify(e *Envelope) (bool, error) {
	if e.Lamport <= 0 {
		return false, nil
	}
	canonPayload, err := swarmcrypto.Canonicalize(e.Payload)
	if err != nil {
		return false, fmt.Errorf("envelope: canonicalize payload: %w", err)
	}
	if swarmcrypto.Sum256Hex(canonPayload) != e.PayloadHash {
		return false, nil
	}
	body, err := e.signingBody()
	if err != nil {
		return false, fmt.Errorf("envelope: build signing body: %w", err)
	}
	body["sig_pk"] = e.SigPKB64
	body["sig"] = e.SigB64
	return swarmcrypto.VerifyRecord(body)
}
