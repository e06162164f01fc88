package planlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// AppendOp appends op (idempotent on duplicate op_id) and applies it to the
// derived views in a single transaction.
func (l *Log) AppendOp(ctx context.Context, op PlanOp) error {
	_, err := l.submit(ctx, func(tx *sql.Tx) (any, error) {
		res, err := tx.Exec(
			`INSERT OR IGNORE INTO ops (op_id, thread_id, lamport, actor_id, op_type, task_id, payload, ts_ns)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			op.OpID, op.ThreadID, op.Lamport, op.ActorID, string(op.OpType), op.TaskID, string(op.Payload), op.TsNs,
		)
		if err != nil {
			return nil, fmt.Errorf("planlog: insert op: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			// Duplicate op_id: idempotent no-op, the view is already applied.
			return nil, nil
		}
		return nil, applyOp(tx, op)
	})
	return err
}

func applyOp(tx *sql.Tx, op PlanOp) error {
	switch op.OpType {
	case OpAddTask:
		taskType := extractString(op.Payload, "task_type")
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO tasks (task_id, thread_id, task_type, state, last_lamport)
			 VALUES (?, ?, ?, 'DRAFT', ?)`, op.TaskID, op.ThreadID, taskType, op.Lamport); err != nil {
			return fmt.Errorf("planlog: apply ADD_TASK: %w", err)
		}
		return nil

	case OpState:
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO tasks (task_id, thread_id, task_type, state, last_lamport)
			 VALUES (?, ?, '', 'DRAFT', 0)`, op.TaskID, op.ThreadID); err != nil {
			return fmt.Errorf("planlog: seed task for STATE: %w", err)
		}
		newState := extractString(op.Payload, "state")
		if newState == "" {
			return fmt.Errorf("planlog: STATE op missing state payload field")
		}
		if _, err := tx.Exec(
			`UPDATE tasks SET state = ?, last_lamport = ? WHERE task_id = ? AND last_lamport < ?`,
			newState, op.Lamport, op.TaskID, op.Lamport); err != nil {
			return fmt.Errorf("planlog: apply STATE: %w", err)
		}
		return nil

	case OpLink:
		parent := extractString(op.Payload, "parent_id")
		child := extractString(op.Payload, "child_id")
		if parent == "" || child == "" {
			return fmt.Errorf("planlog: LINK op missing parent_id/child_id")
		}
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO edges (parent_id, child_id) VALUES (?, ?)`, parent, child); err != nil {
			return fmt.Errorf("planlog: apply LINK: %w", err)
		}
		return nil

	case OpRequires, OpProduces, OpAnnotate:
		// Recorded as ops; each payload key is upserted into the annotations
		// table (read by GetAnnotation), keeping the highest-lamport value.
		m, err := decodePayload(op.Payload)
		if err != nil {
			return fmt.Errorf("planlog: decode annotate payload: %w", err)
		}
		for k, v := range m {
			encoded, err := encodeValue(v)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(
				`INSERT INTO annotations (task_id, key, value, lamport) VALUES (?, ?, ?, ?)
				 ON CONFLICT(task_id, key) DO UPDATE SET value = excluded.value, lamport = excluded.lamport
				 WHERE excluded.lamport > annotations.lamport`,
				op.TaskID, k, encoded, op.Lamport); err != nil {
				return fmt.Errorf("planlog: apply annotation: %w", err)
			}
		}
		return nil

	default:
		return fmt.Errorf("planlog: unknown op_type %q", op.OpType)
	}
}

// GetTask returns the derived view of a single task.
func (l *Log) GetTask(ctx context.Context, taskID string) (*Task, error) {
	v, err := l.submit(ctx, func(tx *sql.Tx) (any, error) {
		row := tx.QueryRow(`SELECT task_id, thread_id, task_type, state, last_lamport FROM tasks WHERE task_id = ?`, taskID)
		var t Task
		var state string
		if err := row.Scan(&t.TaskID, &t.ThreadID, &t.TaskType, &state, &t.LastLamport); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil
			}
			return nil, err
		}
		t.State = TaskState(state)
		return &t, nil
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.(*Task), nil
}

// GetOpsForThread returns every op for a thread ordered by lamport ASC —
// the basis for deterministic replay.
func (l *Log) GetOpsForThread(ctx context.Context, threadID string) ([]PlanOp, error) {
	v, err := l.submit(ctx, func(tx *sql.Tx) (any, error) {
		rows, err := tx.Query(
			`SELECT op_id, thread_id, lamport, actor_id, op_type, task_id, payload, ts_ns
			 FROM ops WHERE thread_id = ? ORDER BY lamport ASC`, threadID)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		var ops []PlanOp
		for rows.Next() {
			var op PlanOp
			var opType, payload string
			if err := rows.Scan(&op.OpID, &op.ThreadID, &op.Lamport, &op.ActorID, &opType, &op.TaskID, &payload, &op.TsNs); err != nil {
				return nil, err
			}
			op.OpType = OpType(opType)
			op.Payload = []byte(payload)
			ops = append(ops, op)
		}
		return ops, rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return v.([]PlanOp), nil
}

// AnnotateTask records an ANNOTATE op carrying the given key/value pairs.
func (l *Log) AnnotateTask(ctx context.Context, op PlanOp) error {
	op.OpType = OpAnnotate
	return l.AppendOp(ctx, op)
}

// GetEdges returns every derived edge for diagnostics/tests.
func (l *Log) GetEdges(ctx context.Context) ([]Edge, error) {
	v, err := l.submit(ctx, func(tx *sql.Tx) (any, error) {
		rows, err := tx.Query(`SELECT parent_id, child_id FROM edges`)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		var edges []Edge
		for rows.Next() {
			var e Edge
			if err := rows.Scan(&e.ParentID, &e.ChildID); err != nil {
				return nil, err
			}
			edges = append(edges, e)
		}
		return edges, rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return v.([]Edge), nil
}

// GetAnnotation returns the latest value recorded for (taskID, key).
func (l *Log) GetAnnotation(ctx context.Context, taskID, key string) (string, bool, error) {
	v, err := l.submit(ctx, func(tx *sql.Tx) (any, error) {
		row := tx.QueryRow(`SELECT value FROM annotations WHERE task_id = ? AND key = ?`, taskID, key)
		var val string
		if err := row.Scan(&val); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil
			}
			return nil, err
		}
		return val, nil
	})
	if err != nil {
		return "", false, err
	}
	if v == nil {
		return "", false, nil
	}
	return v.(string), true, nil
}
