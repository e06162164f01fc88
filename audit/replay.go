package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/google/uuid"

	"github.com/bottletopbil/agent-network-sub002/planlog"
	"github.com/bottletopbil/agent-network-sub002/swarmcrypto"
)

// embeddedOp is the shape a PlanOp-carrying audit payload takes inside a
// BUS_PUBLISH record, when the published envelope produced a Plan Log
// mutation.
type embeddedOp struct {
	OpID    string          `json:"op_id"`
	Lamport int64           `json:"lamport"`
	ActorID string          `json:"actor_id"`
	OpType  string          `json:"op_type"`
	TaskID  string          `json:"task_id"`
	Payload json.RawMessage `json:"op_payload"`
}

// Replay reconstructs threadID's derived Plan Log views from a signed
// JSONL audit stream at logPath, rejecting the replay if any line fails
// signature verification. It returns true once every record for the
// thread has been verified and applied in lamport order.
func Replay(threadID, logPath string) (bool, error) {
	f, err := os.Open(logPath)
	if err != nil {
		return false, fmt.Errorf("audit: open log: %w", err)
	}
	defer f.Close()

	stateDir, err := os.MkdirTemp("", "swarm-replay-*")
	if err != nil {
		return false, fmt.Errorf("audit: make replay state dir: %w", err)
	}
	defer os.RemoveAll(stateDir)

	log, err := planlog.Open(stateDir)
	if err != nil {
		return false, fmt.Errorf("audit: open replay plan log: %w", err)
	}
	defer log.Close()

	ctx := context.Background()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var ops []planlog.PlanOp
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var signed map[string]any
		if err := json.Unmarshal(line, &signed); err != nil {
			return false, fmt.Errorf("audit: malformed record: %w", err)
		}
		ok, err := swarmcrypto.VerifyRecord(signed)
		if err != nil {
			return false, fmt.Errorf("audit: signature verification failed: %w", err)
		}
		if !ok {
			return false, fmt.Errorf("audit: invalid signature on record %v", signed["record_id"])
		}
		if tid, _ := signed["thread_id"].(string); tid != threadID {
			continue
		}
		kind, _ := signed["kind"].(string)
		if kind != string(KindBusPublish) {
			continue
		}
		payloadRaw, err := json.Marshal(signed["payload"])
		if err != nil {
			return false, err
		}
		var op embeddedOp
		if err := json.Unmarshal(payloadRaw, &op); err != nil || op.OpType == "" {
			continue // not every bus publish carries a Plan Log mutation
		}
		if op.OpID == "" {
			op.OpID = uuid.NewString()
		}
		ops = append(ops, planlog.PlanOp{
			OpID: op.OpID, ThreadID: threadID, Lamport: op.Lamport, ActorID: op.ActorID,
			OpType: planlog.OpType(op.OpType), TaskID: op.TaskID, Payload: op.Payload,
		})
	}
	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("audit: scan log: %w", err)
	}
	sort.SliceStable(ops, func(i, j int) bool { return ops[i].Lamport < ops[j].Lamport })
	for _, op := range ops {
		if err := log.AppendOp(ctx, op); err != nil {
			return false, fmt.Errorf("audit: apply replayed op: %w", err)
		}
	}
	return true, nil
}
