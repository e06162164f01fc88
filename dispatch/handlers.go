package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/bottletopbil/agent-network-sub002/challenge"
	"github.com/bottletopbil/agent-network-sub002/consensus"
	"github.com/bottletopbil/agent-network-sub002/econ"
	"github.com/bottletopbil/agent-network-sub002/envelope"
	"github.com/bottletopbil/agent-network-sub002/lease"
	"github.com/bottletopbil/agent-network-sub002/planlog"
	"github.com/bottletopbil/agent-network-sub002/quorum"
	"github.com/bottletopbil/agent-network-sub002/swarmerr"
)

// DefaultWindowExtensionSeconds is how far a valid challenge arrival pushes
// out its task's still-open ChallengeWindow.
const DefaultWindowExtensionSeconds = 3600

func newOp(e *envelope.Envelope, opType planlog.OpType, taskID string, payload map[string]any) (planlog.PlanOp, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return planlog.PlanOp{}, fmt.Errorf("dispatch: encode op payload: %w", err)
	}
	return planlog.PlanOp{
		OpID: uuid.NewString(), ThreadID: e.ThreadID, Lamport: e.Lamport, ActorID: e.SenderPKB64,
		OpType: opType, TaskID: taskID, Payload: raw, TsNs: e.TsNs,
	}, nil
}

func appendOp(ctx context.Context, d *Dispatcher, e *envelope.Envelope, opType planlog.OpType, taskID string, payload map[string]any) (planlog.PlanOp, error) {
	op, err := newOp(e, opType, taskID, payload)
	if err != nil {
		return op, err
	}
	if err := d.PlanLog.AppendOp(ctx, op); err != nil {
		return op, fmt.Errorf("dispatch: append %s: %w", opType, err)
	}
	return op, nil
}

// handleNeed validates the payload carries a task type and records the
// need itself as a fresh DRAFT task, keyed by the NEED envelope's own id —
// every later verb (PROPOSE, ATTEST, DECIDE, RECONCILE) refers back to this
// id as need_id.
func handleNeed(ctx context.Context, d *Dispatcher, e *envelope.Envelope) ([]planlog.PlanOp, error) {
	taskType := strField(e, "task")
	if taskType == "" {
		return nil, fmt.Errorf("dispatch: NEED missing task field")
	}
	op, err := appendOp(ctx, d, e, planlog.OpAddTask, e.ID, map[string]any{"task_type": taskType})
	if err != nil {
		return nil, err
	}
	return []planlog.PlanOp{op}, nil
}

// handlePropose materializes each plan step as an ADD_TASK + LINK pair
// (nothing else introduces worker tasks into the tasks/edges views) and
// then records the proposal intent itself as an ANNOTATE on the need.
func handlePropose(ctx context.Context, d *Dispatcher, e *envelope.Envelope) ([]planlog.PlanOp, error) {
	proposalID := strField(e, "proposal_id")
	if proposalID == "" {
		return nil, fmt.Errorf("dispatch: PROPOSE missing proposal_id")
	}
	needID := strField(e, "need_id")
	plan := sliceField(e, "plan")

	var ops []planlog.PlanOp
	for _, item := range plan {
		step := asMap(item)
		taskID, _ := step["task_id"].(string)
		if taskID == "" {
			continue
		}
		taskType, _ := step["type"].(string)
		addOp, err := appendOp(ctx, d, e, planlog.OpAddTask, taskID, map[string]any{"task_type": taskType})
		if err != nil {
			return ops, err
		}
		ops = append(ops, addOp)
		if needID != "" {
			linkOp, err := appendOp(ctx, d, e, planlog.OpLink, taskID, map[string]any{"parent_id": needID, "child_id": taskID})
			if err != nil {
				return ops, err
			}
			ops = append(ops, linkOp)
		}
		d.recordProposalTask(proposalID, taskID)
	}

	annotateTarget := needID
	if annotateTarget == "" {
		annotateTarget = proposalID
	}
	annotateOp, err := appendOp(ctx, d, e, planlog.OpAnnotate, annotateTarget, map[string]any{"proposal_id": proposalID, "plan": plan})
	if err != nil {
		return ops, err
	}
	return append(ops, annotateOp), nil
}

// handleClaim opens the worker's lease and records a claim annotation.
// Plain CLAIM never writes STATE — only the DECIDE handler does that.
func handleClaim(ctx context.Context, d *Dispatcher, e *envelope.Envelope) ([]planlog.PlanOp, error) {
	taskID := strField(e, "task_id")
	if taskID == "" {
		return nil, fmt.Errorf("dispatch: CLAIM missing task_id")
	}
	ttl := intField(e, "lease_ttl")
	if ttl <= 0 {
		ttl = lease.DefaultTTLSeconds
	}
	workerID := strField(e, "worker_id")
	if workerID == "" {
		workerID = e.SenderPKB64
	}
	leaseID := uuid.NewString()
	if _, err := d.Leases.Open(leaseID, taskID, workerID, ttl, intField(e, "heartbeat_interval_seconds")); err != nil {
		return nil, fmt.Errorf("dispatch: CLAIM: %w", err)
	}
	op, err := appendOp(ctx, d, e, planlog.OpAnnotate, taskID, map[string]any{
		"claim": true, "worker_id": workerID, "lease_id": leaseID, "lease_ttl": ttl,
	})
	if err != nil {
		return nil, err
	}
	return []planlog.PlanOp{op}, nil
}

// handleClaimExtended opens the lease like CLAIM, but — closing the
// consensus-bypass this verb exists to guard against — it never writes
// STATE itself. It requires a prior PROPOSE for proposal_id and routes a
// DECIDE through the consensus register; only that DECIDE's own success
// produces STATE=DECIDED.
func handleClaimExtended(ctx context.Context, d *Dispatcher, e *envelope.Envelope) ([]planlog.PlanOp, error) {
	proposalID := strField(e, "proposal_id")
	if proposalID == "" {
		return nil, fmt.Errorf("dispatch: CLAIM_EXTENDED missing proposal_id")
	}
	taskFromProposal, known := d.taskForProposal(proposalID)
	if !known {
		return nil, swarmerr.ErrNoSuchProposal
	}
	taskID := strField(e, "task_id")
	if taskID == "" {
		taskID = taskFromProposal
	}
	ttl := intField(e, "lease_ttl")
	if ttl <= 0 {
		ttl = lease.DefaultTTLSeconds
	}
	workerID := strField(e, "worker_id")
	if workerID == "" {
		workerID = e.SenderPKB64
	}
	leaseID := uuid.NewString()
	if _, err := d.Leases.Open(leaseID, taskID, workerID, ttl, intField(e, "heartbeat_interval_seconds")); err != nil {
		return nil, fmt.Errorf("dispatch: CLAIM_EXTENDED: %w", err)
	}

	needID := strField(e, "need_id")
	epoch := int64Field(e, "epoch")
	if epoch == 0 {
		cur, err := d.Register.CurrentEpoch()
		if err != nil {
			return nil, fmt.Errorf("dispatch: CLAIM_EXTENDED: current epoch: %w", err)
		}
		epoch = cur
	}
	kPlan := intField(e, "k_plan")
	if kPlan <= 0 {
		kPlan = quorum.BootstrapKPlan
	}
	deciderID := strField(e, "decider_id")
	if deciderID == "" {
		deciderID = e.SenderPKB64
	}
	return tryDecideAndMark(ctx, d, e, needID, proposalID, taskID, epoch, kPlan, deciderID)
}

// handleCommit re-checks artifact presence (the ingress policy gate
// already enforces this, but a handler must never trust that its caller
// always routes through Dispatch) and records the commit annotation.
func handleCommit(ctx context.Context, d *Dispatcher, e *envelope.Envelope) ([]planlog.PlanOp, error) {
	taskID := strField(e, "task_id")
	artifactHash := strField(e, "artifact_hash")
	if artifactHash == "" {
		return nil, swarmerr.ErrArtifactMissing
	}
	has, err := d.CAS.Has(ctx, artifactHash)
	if err != nil {
		return nil, fmt.Errorf("dispatch: COMMIT: check CAS: %w", err)
	}
	if !has {
		return nil, swarmerr.ErrArtifactMissing
	}
	commitID := strField(e, "commit_id")
	if commitID == "" {
		commitID = e.ID
	}
	op, err := appendOp(ctx, d, e, planlog.OpAnnotate, taskID, map[string]any{"commit_id": commitID, "artifact_hash": artifactHash})
	if err != nil {
		return nil, err
	}
	return []planlog.PlanOp{op}, nil
}

// handleAttest records the attestation and, the instant it completes
// K_plan for this (need, proposal), attempts the one DECIDE that
// attestation triggers. Quorum.Attest's exactly-once "reachedNow" signal
// keeps a flood of duplicate/late attestations from retriggering it.
func handleAttest(ctx context.Context, d *Dispatcher, e *envelope.Envelope) ([]planlog.PlanOp, error) {
	taskID := strField(e, "task_id")
	proposalID := strField(e, "proposal_id")
	needID := strField(e, "need_id")
	verdict := strField(e, "verdict")
	verifierID := e.SenderPKB64
	d.observeVerifier(verifierID)

	annotateOp, err := appendOp(ctx, d, e, planlog.OpAnnotate, taskID, map[string]any{
		"attested_by": verifierID, "verdict": verdict, "commit_id": strField(e, "commit_id"),
	})
	if err != nil {
		return nil, err
	}
	ops := []planlog.PlanOp{annotateOp}

	if verdict != "approved" {
		return ops, nil
	}
	kPlan := intField(e, "k_plan")
	if kPlan <= 0 {
		kPlan = quorum.KPlan(d.activeVerifierCount())
	}
	reachedNow, _ := d.Quorum.Attest(needID, proposalID, verifierID, kPlan)
	if !reachedNow {
		return ops, nil
	}

	epoch := int64Field(e, "epoch")
	if epoch == 0 {
		cur, err := d.Register.CurrentEpoch()
		if err != nil {
			return ops, fmt.Errorf("dispatch: ATTEST: current epoch: %w", err)
		}
		epoch = cur
	}
	decideOps, err := tryDecideAndMark(ctx, d, e, needID, proposalID, taskID, epoch, kPlan, verifierID)
	if err != nil {
		return ops, err
	}
	return append(ops, decideOps...), nil
}

// handleDecide is the explicit DECIDE verb: an operator, coordinator, or
// replay path asking directly for an at-most-once decision, rather than
// one arriving indirectly via a completed ATTEST quorum.
func handleDecide(ctx context.Context, d *Dispatcher, e *envelope.Envelope) ([]planlog.PlanOp, error) {
	needID := strField(e, "need_id")
	proposalID := strField(e, "proposal_id")
	taskID := strField(e, "task_id")
	epoch := int64Field(e, "epoch")
	if epoch == 0 {
		cur, err := d.Register.CurrentEpoch()
		if err != nil {
			return nil, fmt.Errorf("dispatch: DECIDE: current epoch: %w", err)
		}
		epoch = cur
	}
	kPlan := intField(e, "k_plan")
	if kPlan <= 0 {
		kPlan = quorum.BootstrapKPlan
	}
	deciderID := strField(e, "decider_id")
	if deciderID == "" {
		deciderID = e.SenderPKB64
	}
	return tryDecideAndMark(ctx, d, e, needID, proposalID, taskID, epoch, kPlan, deciderID)
}

// tryDecideAndMark is the shared at-most-once decide path: ATTEST (on
// quorum), CLAIM_EXTENDED, and the explicit DECIDE verb all fence through
// it so STATE=DECIDED is produced exactly once, and only by a genuine
// register success.
func tryDecideAndMark(ctx context.Context, d *Dispatcher, e *envelope.Envelope, needID, proposalID, taskID string, epoch int64, kPlan int, deciderID string) ([]planlog.PlanOp, error) {
	if needID == "" || proposalID == "" {
		return nil, fmt.Errorf("dispatch: decide: need_id and proposal_id are required")
	}
	rec, err := d.Register.TryDecide(needID, proposalID, epoch, e.Lamport, kPlan, deciderID, e.TsNs)
	if err != nil {
		d.auditDecideAttempt(needID, proposalID, false)
		return nil, err
	}
	success := rec != nil && rec.ProposalID == proposalID
	d.auditDecideAttempt(needID, proposalID, success)
	if !success {
		// Either a genuine conflict (another proposal already won) or a
		// transient miss; try_decide's own contract says this is not an
		// error the caller should surface as a handler failure.
		return nil, nil
	}

	if taskID == "" {
		taskID, _ = d.taskForProposal(proposalID)
	}
	if taskID == "" {
		return nil, nil
	}
	d.recordProposalTask(proposalID, taskID)

	stateOp, err := appendOp(ctx, d, e, planlog.OpState, taskID, map[string]any{"state": string(planlog.StateDecided)})
	if err != nil {
		return nil, err
	}
	annotateOp, err := appendOp(ctx, d, e, planlog.OpAnnotate, taskID, map[string]any{
		"decide": true, "need_id": needID, "proposal_id": proposalID, "epoch": epoch,
	})
	if err != nil {
		return []planlog.PlanOp{stateOp}, err
	}
	return []planlog.PlanOp{stateOp, annotateOp}, nil
}

// handleFinalize marks the task FINAL (idempotent — re-FINALIZE just adds
// another annotation, the monotonic-lamport STATE rule handles the rest)
// and opens its challenge window.
func handleFinalize(ctx context.Context, d *Dispatcher, e *envelope.Envelope) ([]planlog.PlanOp, error) {
	taskID := strField(e, "task_id")
	if taskID == "" {
		return nil, fmt.Errorf("dispatch: FINALIZE missing task_id")
	}
	stateOp, err := appendOp(ctx, d, e, planlog.OpState, taskID, map[string]any{"state": string(planlog.StateFinal)})
	if err != nil {
		return nil, err
	}
	if d.Windows != nil {
		d.Windows.Open(taskID, e.TsNs)
	}
	annotateOp, err := appendOp(ctx, d, e, planlog.OpAnnotate, taskID, map[string]any{"finalized_at_ns": e.TsNs})
	if err != nil {
		return []planlog.PlanOp{stateOp}, err
	}
	return []planlog.PlanOp{stateOp, annotateOp}, nil
}

// handleYield releases a worker's own claim without completing the task.
func handleYield(ctx context.Context, d *Dispatcher, e *envelope.Envelope) ([]planlog.PlanOp, error) {
	taskID := strField(e, "task_id")
	if taskID != "" && d.Leases != nil {
		d.Leases.Delete(taskID)
	}
	op, err := appendOp(ctx, d, e, planlog.OpAnnotate, taskID, map[string]any{"yielded": true, "reason": strField(e, "reason")})
	if err != nil {
		return nil, err
	}
	return []planlog.PlanOp{op}, nil
}

// handleRelease is the lease monitor's own verb: a scavenged, non-renewed
// lease terminates the same way a worker's own YIELD would.
func handleRelease(ctx context.Context, d *Dispatcher, e *envelope.Envelope) ([]planlog.PlanOp, error) {
	taskID := strField(e, "task_id")
	if taskID != "" && d.Leases != nil {
		d.Leases.Delete(taskID)
	}
	op, err := appendOp(ctx, d, e, planlog.OpAnnotate, taskID, map[string]any{"released": true, "reason": strField(e, "reason")})
	if err != nil {
		return nil, err
	}
	return []planlog.PlanOp{op}, nil
}

// handleChallenge validates the window is open, the challenger isn't
// rate-limited or spamming, escrows the bond, and enqueues the challenge.
func handleChallenge(ctx context.Context, d *Dispatcher, e *envelope.Envelope) ([]planlog.PlanOp, error) {
	taskID := strField(e, "task_id")
	win, ok := d.Windows.Get(taskID)
	if !ok || !win.IsOpen(e.TsNs) {
		return nil, swarmerr.ErrWindowClosed
	}
	challengerID := strField(e, "challenger_id")
	if challengerID == "" {
		challengerID = e.SenderPKB64
	}
	if allowed, reason := d.Abuse.Allow(challengerID); !allowed {
		if reason == "spam" {
			return nil, &swarmerr.SpamDetected{Challenger: challengerID, Count: challenge.SpamCount, Within: challenge.SpamWindow}
		}
		return nil, &swarmerr.RateLimitExceeded{Challenger: challengerID, Window: reason}
	}

	proofType := challenge.ProofType(strField(e, "proof_type"))
	complexity := challenge.Complexity(strField(e, "complexity"))
	reputation := d.Reputation.Score(challengerID)
	bond, err := challenge.ComputeBond(proofType, complexity, reputation)
	if err != nil {
		return nil, fmt.Errorf("dispatch: CHALLENGE: %w", err)
	}
	challengeID := strField(e, "challenge_id")
	if challengeID == "" {
		challengeID = e.ID
	}
	if err := d.Ledger.Escrow(ctx, challengerID, bond, challengeID); err != nil {
		return nil, fmt.Errorf("dispatch: CHALLENGE: escrow bond: %w", err)
	}
	d.Challenges.Push(&challenge.QueuedChallenge{
		ChallengeID: challengeID, TaskID: taskID, CommitID: strField(e, "commit_id"),
		ChallengerID: challengerID, ProofType: proofType, Complexity: complexity,
		EvidenceHash: strField(e, "evidence_hash"), Bond: bond, CreatedAtNs: e.TsNs,
	})
	win.Extend(DefaultWindowExtensionSeconds)

	op, err := appendOp(ctx, d, e, planlog.OpAnnotate, taskID, map[string]any{
		"challenge_id": challengeID, "bond": bond, "challenger_id": challengerID,
	})
	if err != nil {
		return nil, err
	}
	return []planlog.PlanOp{op}, nil
}

// handleInvalidate applies an upheld challenge's full consequence: return
// the bond and pay the challenger a 2x reward, slash every named dishonest
// verifier by half their locked stake, split that slashed total 50/40/10
// (challenger-bucket/honest-verifiers/burn — the challenger-bucket is left
// unpaid here since the bond+2x reward already compensates the challenger;
// see DESIGN.md), block payout, and re-open the task with K_result
// escalated.
//
// The ledger has no dedicated slash-pool escrow, so the 2x reward and the
// honest-verifier shares are re-minted from the "system" treasury account
// via Transfer rather than moved out of the slashed stake directly.
func handleInvalidate(ctx context.Context, d *Dispatcher, e *envelope.Envelope) ([]planlog.PlanOp, error) {
	taskID := strField(e, "task_id")
	challengeID := strField(e, "challenge_id")
	challengerID := strField(e, "challenger_id")
	bond := int64Field(e, "bond")
	if qc, ok := d.Challenges.Get(challengeID); ok {
		challengerID = qc.ChallengerID
		bond = qc.Bond
		if taskID == "" {
			taskID = qc.TaskID
		}
	}
	if challengerID != "" && bond > 0 {
		if err := d.Ledger.ReleaseEscrow(ctx, challengeID, challengerID); err != nil {
			return nil, fmt.Errorf("dispatch: INVALIDATE: return bond: %w", err)
		}
		if err := d.Ledger.Transfer(ctx, "system", challengerID, bond*2, true); err != nil {
			return nil, fmt.Errorf("dispatch: INVALIDATE: pay challenger reward: %w", err)
		}
	}

	dishonestIDs := stringSliceField(e, "dishonest_verifiers")
	honestIDs := stringSliceField(e, "honest_verifiers")

	var totalSlashed int64
	for _, vid := range dishonestIDs {
		acct, err := d.Ledger.GetAccount(ctx, vid)
		if err != nil {
			return nil, fmt.Errorf("dispatch: INVALIDATE: look up verifier %q: %w", vid, err)
		}
		slash := acct.Locked / 2
		if slash <= 0 {
			continue
		}
		if err := d.Ledger.SlashStake(ctx, vid, slash); err != nil {
			return nil, fmt.Errorf("dispatch: INVALIDATE: slash %q: %w", vid, err)
		}
		d.auditSlash(vid, slash, "challenge_upheld")
		totalSlashed += slash
	}

	_, honestShare, _ := challenge.SlashDistribution(totalSlashed)
	if honestShare > 0 && len(honestIDs) > 0 {
		for vid, amt := range econ.DistributeWeighted(honestShare, equalWeights(len(honestIDs)), honestIDs) {
			if amt <= 0 {
				continue
			}
			if err := d.Ledger.Transfer(ctx, "system", vid, amt, true); err != nil {
				return nil, fmt.Errorf("dispatch: INVALIDATE: pay honest verifier %q: %w", vid, err)
			}
		}
	}
	if challengerID != "" {
		d.Reputation.RecordUpheld(challengerID)
	}

	annotateOp, err := appendOp(ctx, d, e, planlog.OpAnnotate, taskID, map[string]any{
		"invalidated": true, "payout_blocked": true,
		"challenge_id": challengeID, "slashed_total": totalSlashed,
	})
	if err != nil {
		return nil, err
	}
	ops := []planlog.PlanOp{annotateOp}

	kPlanSeed := intField(e, "k_plan_seed")
	if kPlanSeed <= 0 {
		kPlanSeed = quorum.BootstrapKPlan
	}
	newKResult := d.Quorum.EscalateTaskKResult(taskID, 1, d.activeVerifierCount(), kPlanSeed)

	reopenOp, err := appendOp(ctx, d, e, planlog.OpState, taskID, map[string]any{"state": string(planlog.StateDecided)})
	if err != nil {
		return ops, err
	}
	ops = append(ops, reopenOp)

	kresultOp, err := appendOp(ctx, d, e, planlog.OpAnnotate, taskID, map[string]any{"k_result": newKResult})
	if err != nil {
		return ops, err
	}
	return append(ops, kresultOp), nil
}

func equalWeights(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1
	}
	return w
}

// handleReconcile runs merge_on_heal against the configured peer register,
// advances the epoch, and annotates every task whose local decision lost
// as orphaned.
func handleReconcile(ctx context.Context, d *Dispatcher, e *envelope.Envelope) ([]planlog.PlanOp, error) {
	if d.PeerRegister == nil {
		return nil, fmt.Errorf("dispatch: RECONCILE: no peer register configured")
	}
	needIDs := stringSliceField(e, "need_ids")
	preMerge := make(map[string]*consensus.DecideRecord, len(needIDs))
	for _, nid := range needIDs {
		rec, err := d.Register.GetDecide(nid)
		if err != nil {
			return nil, fmt.Errorf("dispatch: RECONCILE: get local decide: %w", err)
		}
		preMerge[nid] = rec
	}

	overwritten, err := consensus.MergeOnHeal(d.Register, d.PeerRegister, needIDs)
	if err != nil {
		return nil, fmt.Errorf("dispatch: RECONCILE: merge_on_heal: %w", err)
	}
	newEpoch, err := d.Register.AdvanceEpoch(strField(e, "reason"))
	if err != nil {
		return nil, fmt.Errorf("dispatch: RECONCILE: advance epoch: %w", err)
	}

	var ops []planlog.PlanOp
	for _, nid := range overwritten {
		localRec := preMerge[nid]
		if localRec == nil {
			continue
		}
		taskID, ok := d.taskForProposal(localRec.ProposalID)
		if !ok {
			continue
		}
		op, err := appendOp(ctx, d, e, planlog.OpAnnotate, taskID, map[string]any{
			"orphaned": true, "orphaned_by_epoch": newEpoch,
		})
		if err != nil {
			return ops, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// handleCheckpoint records a lightweight progress marker; it carries no
// state-machine weight of its own.
func handleCheckpoint(ctx context.Context, d *Dispatcher, e *envelope.Envelope) ([]planlog.PlanOp, error) {
	taskID := strField(e, "task_id")
	op, err := appendOp(ctx, d, e, planlog.OpAnnotate, taskID, map[string]any{
		"checkpoint": strField(e, "label"), "lamport": e.Lamport,
	})
	if err != nil {
		return nil, err
	}
	return []planlog.PlanOp{op}, nil
}

// handleUpdatePlan records a plan delta against a need or task as an
// annotation; it does not itself materialize new tasks (PROPOSE owns
// that).
func handleUpdatePlan(ctx context.Context, d *Dispatcher, e *envelope.Envelope) ([]planlog.PlanOp, error) {
	target := strField(e, "task_id")
	if target == "" {
		target = strField(e, "need_id")
	}
	op, err := appendOp(ctx, d, e, planlog.OpAnnotate, target, map[string]any{"plan_update": e.Payload["delta"]})
	if err != nil {
		return nil, err
	}
	return []planlog.PlanOp{op}, nil
}

// handleAttestPlan records a verifier's attestation of the plan itself
// (distinct from ATTEST, which attests a COMMIT's result).
func handleAttestPlan(ctx context.Context, d *Dispatcher, e *envelope.Envelope) ([]planlog.PlanOp, error) {
	target := strField(e, "task_id")
	if target == "" {
		target = strField(e, "need_id")
	}
	d.observeVerifier(e.SenderPKB64)
	op, err := appendOp(ctx, d, e, planlog.OpAnnotate, target, map[string]any{
		"plan_attested_by": e.SenderPKB64, "proposal_id": strField(e, "proposal_id"), "verdict": strField(e, "verdict"),
	})
	if err != nil {
		return nil, err
	}
	return []planlog.PlanOp{op}, nil
}
