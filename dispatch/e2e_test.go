package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bottletopbil/agent-network-sub002/cas"
	"github.com/bottletopbil/agent-network-sub002/challenge"
	"github.com/bottletopbil/agent-network-sub002/consensus"
	"github.com/bottletopbil/agent-network-sub002/econ"
	"github.com/bottletopbil/agent-network-sub002/envelope"
	"github.com/bottletopbil/agent-network-sub002/envelope/policy"
	"github.com/bottletopbil/agent-network-sub002/lamport"
	"github.com/bottletopbil/agent-network-sub002/lease"
	"github.com/bottletopbil/agent-network-sub002/planlog"
	"github.com/bottletopbil/agent-network-sub002/quorum"
	"github.com/bottletopbil/agent-network-sub002/swarmcrypto"
)

// harness wires a full Dispatcher out of real (tempdir-backed or in-memory)
// component instances, mirroring how a production process would assemble
// one, minus the bus/transport layer.
type harness struct {
	t       *testing.T
	d       *Dispatcher
	builder *envelope.Builder
	signer  *swarmcrypto.KeyPair
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	planLog, err := planlog.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { planLog.Close() })

	register, err := consensus.Open(dir+"/register", false)
	require.NoError(t, err)
	t.Cleanup(func() { register.Close() })

	ledger, err := econ.Open(dir, econ.DefaultMaxSupply, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })

	casStore, err := cas.NewFileStore(dir + "/cas")
	require.NoError(t, err)

	clock, err := lamport.Open(dir + "/lamport")
	require.NoError(t, err)
	t.Cleanup(func() { clock.Close() })

	signer, err := swarmcrypto.GenerateKeyPair("system")
	require.NoError(t, err)

	builder := &envelope.Builder{Clock: clock, PolicyEngineHash: "test-policy-hash"}
	gate := &policy.Gate{Rules: &policy.Ruleset{Hash: "test-policy-hash"}, CAS: casStore}

	d := New(
		planLog, register, quorum.NewTracker(), lease.NewStore(nil),
		challenge.NewQueue(nil), challenge.NewWindowStore(), challenge.NewReputationTracker(), challenge.NewAbuseDetector(nil),
		ledger, casStore, gate, nil, clock, signer, builder,
	)

	require.NoError(t, ledger.CreateAccount(context.Background(), "system", econ.DefaultMaxSupply, "system"))

	return &harness{t: t, d: d, builder: builder, signer: signer}
}

func (h *harness) send(kind envelope.Kind, threadID string, payload map[string]any) (string, error) {
	h.t.Helper()
	e, err := h.builder.New(threadID, kind, h.signer.PublicKeyB64(), payload)
	require.NoError(h.t, err)
	require.NoError(h.t, envelope.Sign(h.signer, e))
	return h.d.Dispatch(context.Background(), e)
}

func (h *harness) sendAs(kind envelope.Kind, threadID string, payload map[string]any, signer *swarmcrypto.KeyPair) (string, error) {
	h.t.Helper()
	e, err := h.builder.New(threadID, kind, signer.PublicKeyB64(), payload)
	require.NoError(h.t, err)
	require.NoError(h.t, envelope.Sign(signer, e))
	return h.d.Dispatch(context.Background(), e)
}

// TestS1HappyPathKEquals1 walks NEED -> PROPOSE -> CLAIM -> COMMIT -> ATTEST
// through a single verifier quorum of one, and checks the task reaches
// DECIDED then FINAL and the register records the winning proposal.
func TestS1HappyPathKEquals1(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	needStatus, err := h.send(envelope.KindNeed, "T1", map[string]any{"task": "classify", "data": "x"})
	require.NoError(t, err)
	require.Equal(t, "handled", needStatus)

	// The NEED's own envelope id doubles as need_id for every later verb;
	// re-derive it by looking up the DRAFT task the handler created under T1.
	needTask := onlyDraftTask(t, h.d, "T1")

	_, err = h.send(envelope.KindPropose, "T1", map[string]any{
		"need_id": needTask, "proposal_id": "P1",
		"plan": []any{map[string]any{"task_id": "W1", "type": "worker"}},
	})
	require.NoError(t, err)

	_, err = h.send(envelope.KindClaim, "T1", map[string]any{"task_id": "W1", "lease_ttl": int64(30)})
	require.NoError(t, err)

	hash, err := h.d.CAS.PutJSON(ctx, map[string]any{"status": "success", "output": "x"})
	require.NoError(t, err)

	_, err = h.send(envelope.KindCommit, "T1", map[string]any{"task_id": "W1", "artifact_hash": hash, "commit_id": "C1"})
	require.NoError(t, err)

	verifier, err := swarmcrypto.GenerateKeyPair("verifier-1")
	require.NoError(t, err)
	status, err := h.sendAs(envelope.KindAttest, "T1", map[string]any{
		"commit_id": "C1", "task_id": "W1", "proposal_id": "P1", "need_id": needTask,
		"verdict": "approved", "k_plan": int64(1),
	}, verifier)
	require.NoError(t, err)
	require.Equal(t, "handled", status)

	rec, err := h.d.Register.GetDecide(needTask)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, "P1", rec.ProposalID)

	task, err := h.d.PlanLog.GetTask(ctx, "W1")
	require.NoError(t, err)
	require.Equal(t, planlog.StateDecided, task.State)

	_, err = h.send(envelope.KindFinalize, "T1", map[string]any{"task_id": "W1"})
	require.NoError(t, err)

	task, err = h.d.PlanLog.GetTask(ctx, "W1")
	require.NoError(t, err)
	require.Equal(t, planlog.StateFinal, task.State)
}

// TestS2ConflictingDecideSameEpoch simulates two coordinators racing
// try_decide for the same need on two different proposals; exactly one
// must win and the register must agree on the survivor.
func TestS2ConflictingDecideSameEpoch(t *testing.T) {
	h := newHarness(t)

	rec1, err1 := h.d.Register.TryDecide("N1", "P1", 1, 10, 1, "coordinator-a", 1000)
	rec2, err2 := h.d.Register.TryDecide("N1", "P2", 1, 10, 1, "coordinator-b", 1000)
	require.NoError(t, err1)
	require.NoError(t, err2)

	oneWon := (rec1 != nil) != (rec2 != nil)
	require.True(t, oneWon, "exactly one of the two try_decide calls must win")

	final, err := h.d.Register.GetDecide("N1")
	require.NoError(t, err)
	require.NotNil(t, final)
	if rec1 != nil {
		require.Equal(t, "P1", final.ProposalID)
	} else {
		require.Equal(t, "P2", final.ProposalID)
	}
}

// TestS3PartitionHeal decides (N1,P1) at epoch 1 on one register and
// (N1,P2) at epoch 2 on a peer register, then reconciles through the
// dispatcher's RECONCILE handler and checks the loser gets orphaned.
func TestS3PartitionHeal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	peerDir := t.TempDir()
	peer, err := consensus.Open(peerDir, false)
	require.NoError(t, err)
	t.Cleanup(func() { peer.Close() })

	_, err = h.d.Register.TryDecide("N1", "P1", 1, 5, 1, "partition-a", 1000)
	require.NoError(t, err)
	_, err = peer.TryDecide("N1", "P2", 2, 5, 1, "partition-b", 2000)
	require.NoError(t, err)

	_, err = h.d.PlanLog.AppendOp(ctx, planlog.PlanOp{
		OpID: "op-losing-task", ThreadID: "T1", Lamport: 1, ActorID: "a",
		OpType: planlog.OpAddTask, TaskID: "W1-local", Payload: mustEncode(t, map[string]any{"task_type": "worker"}),
	})
	require.NoError(t, err)
	h.d.recordProposalTask("P1", "W1-local")

	// Bring local's own fencing epoch to 2 — matching partition B's
	// decide epoch — so the single RECONCILE-driven AdvanceEpoch call
	// below lands on 3 exactly as the scenario expects. Done after the
	// TryDecide calls above: TryDecide itself rejects an epoch argument
	// below the register's current fencing epoch as stale, so advancing
	// first would have broken the (N1,P1,epoch=1) decide.
	_, err = h.d.Register.AdvanceEpoch("bootstrap")
	require.NoError(t, err)
	_, err = h.d.Register.AdvanceEpoch("bootstrap")
	require.NoError(t, err)

	h.d.PeerRegister = peer
	_, err = h.send(envelope.KindReconcile, "T1", map[string]any{"need_ids": []any{"N1"}, "reason": "partition_heal"})
	require.NoError(t, err)

	epoch, err := h.d.Register.CurrentEpoch()
	require.NoError(t, err)
	require.Equal(t, int64(3), epoch)

	winner, err := h.d.Register.GetDecide("N1")
	require.NoError(t, err)
	require.Equal(t, "P2", winner.ProposalID)
	require.Equal(t, int64(2), winner.Epoch)

	orphanedNote, ok, err := h.d.PlanLog.GetAnnotation(ctx, "W1-local", "orphaned")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "true", orphanedNote)
}

// TestS4ChallengeUpheld exercises the bond/slash/reward path: a challenge
// is escrowed and queued directly (not through the CHALLENGE verb), then
// invalidated as upheld.
func TestS4ChallengeUpheld(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.d.Ledger.CreateAccount(ctx, "verifier-v1", 0, "system"))
	require.NoError(t, h.d.Ledger.Transfer(ctx, "system", "verifier-v1", 10000, true))
	require.NoError(t, h.d.Ledger.Escrow(ctx, "verifier-v1", 10000, "v1-self-stake"))

	require.NoError(t, h.d.Ledger.CreateAccount(ctx, "challenger-c", 100, "system"))

	err := h.d.PlanLog.AppendOp(ctx, planlog.PlanOp{
		OpID: "op-w1", ThreadID: "T1", Lamport: 1, ActorID: "a",
		OpType: planlog.OpAddTask, TaskID: "W1", Payload: mustEncode(t, map[string]any{"task_type": "worker"}),
	})
	require.NoError(t, err)
	_, err = h.send(envelope.KindFinalize, "T1", map[string]any{"task_id": "W1"})
	require.NoError(t, err)

	// Bond the scenario's concrete 100, bypassing the proof-type/complexity
	// formula so the expected 100+200=300 payout lines up exactly.
	require.NoError(t, h.d.Ledger.Escrow(ctx, "challenger-c", 100, "CH1"))
	h.d.Challenges.Push(&challenge.QueuedChallenge{
		ChallengeID: "CH1", TaskID: "W1", CommitID: "C1", ChallengerID: "challenger-c",
		ProofType: challenge.ProofSchemaViolation, Complexity: challenge.ComplexitySimple,
		EvidenceHash: "deadbeef", Bond: 100, CreatedAtNs: 60_000_000_000,
	})

	_, err = h.send(envelope.KindInvalidate, "T1", map[string]any{
		"task_id": "W1", "challenge_id": "CH1", "challenger_id": "challenger-c",
		"dishonest_verifiers": []any{"verifier-v1"},
	})
	require.NoError(t, err)

	challengerAcct, err := h.d.Ledger.GetAccount(ctx, "challenger-c")
	require.NoError(t, err)
	require.Equal(t, int64(300), challengerAcct.Balance) // bond returned (100) + 2x reward (200)

	verifierAcct, err := h.d.Ledger.GetAccount(ctx, "verifier-v1")
	require.NoError(t, err)
	require.Equal(t, int64(5000), verifierAcct.Locked)

	task, err := h.d.PlanLog.GetTask(ctx, "W1")
	require.NoError(t, err)
	require.Equal(t, planlog.StateDecided, task.State)

	blocked, ok, err := h.d.PlanLog.GetAnnotation(ctx, "W1", "payout_blocked")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "true", blocked)
}

// TestS5EscrowDoubleSpendRace bonds 500 of a 1000-balance account and
// races two concurrent releases; exactly one must succeed.
func TestS5EscrowDoubleSpendRace(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.d.Ledger.CreateAccount(ctx, "account-a", 1000, "system"))
	require.NoError(t, h.d.Ledger.Escrow(ctx, "account-a", 500, "esc1"))

	type result struct{ err error }
	results := make(chan result, 2)
	release := func() {
		results <- result{err: h.d.Ledger.ReleaseEscrow(ctx, "esc1", "account-b")}
	}
	go release()
	go release()

	var successes, failures int
	for i := 0; i < 2; i++ {
		r := <-results
		if r.err == nil {
			successes++
		} else {
			failures++
		}
	}
	require.Equal(t, 1, successes)
	require.Equal(t, 1, failures)

	acctB, err := h.d.Ledger.GetAccount(ctx, "account-b")
	require.NoError(t, err)
	require.Equal(t, int64(500), acctB.Balance)

	acctA, err := h.d.Ledger.GetAccount(ctx, "account-a")
	require.NoError(t, err)
	require.Equal(t, int64(0), acctA.Locked)
	require.Equal(t, int64(500), acctA.Balance)
}

// TestS6CommitWithoutCASArtifact asserts a COMMIT naming an artifact_hash
// never stored in CAS is rejected at ingress, before any handler or Plan
// Log write runs.
func TestS6CommitWithoutCASArtifact(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	err := h.d.PlanLog.AppendOp(ctx, planlog.PlanOp{
		OpID: "op-w1", ThreadID: "T1", Lamport: 1, ActorID: "a",
		OpType: planlog.OpAddTask, TaskID: "W1", Payload: mustEncode(t, map[string]any{"task_type": "worker"}),
	})
	require.NoError(t, err)

	missingHash := "0000000000000000000000000000000000000000000000000000000000000000"
	_, err = h.send(envelope.KindCommit, "T1", map[string]any{"task_id": "W1", "artifact_hash": missingHash})
	require.Error(t, err)

	task, err := h.d.PlanLog.GetTask(ctx, "W1")
	require.NoError(t, err)
	require.Equal(t, planlog.StateDraft, task.State)
}

func onlyDraftTask(t *testing.T, d *Dispatcher, threadID string) string {
	t.Helper()
	ops, err := d.PlanLog.GetOpsForThread(context.Background(), threadID)
	require.NoError(t, err)
	for _, op := range ops {
		if op.OpType == planlog.OpAddTask {
			return op.TaskID
		}
	}
	t.Fatalf("no ADD_TASK op found for thread %q", threadID)
	return ""
}

func mustEncode(t *testing.T, m map[string]any) []byte {
	t.Helper()
	raw, err := planlog.EncodePayload(m)
	require.NoError(t, err)
	return raw
}

