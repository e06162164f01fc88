// Package planlog implements the append-only CRDT plan log:
// PlanOps are never deleted, and three derived views (tasks, edges,
// annotations) are folded from them with monotonic-STATE semantics. Writes
// are serialized through a single writer goroutine — an "async-aware lock"
// so synchronous SQL never blocks concurrent async-style callers and no
// cross-goroutine mutex is ever held across I/O.
package planlog

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// OpType enumerates the closed set of PlanOp kinds.
type OpType string

const (
	OpAddTask  OpType = "ADD_TASK"
	OpRequires OpType = "REQUIRES"
	OpProduces OpType = "PRODUCES"
	OpState    OpType = "STATE"
	OpLink     OpType = "LINK"
	OpAnnotate OpType = "ANNOTATE"
)

// TaskState enumerates the derived task lifecycle.
type TaskState string

const (
	StateDraft    TaskState = "DRAFT"
	StateDecided  TaskState = "DECIDED"
	StateVerified TaskState = "VERIFIED"
	StateFinal    TaskState = "FINAL"
)

// PlanOp is a single CRDT operation.
type PlanOp struct {
	OpID    string
	ThreadID string
	Lamport int64
	ActorID string
	OpType  OpType
	TaskID  string
	Payload []byte // canonical JSON
	TsNs    int64
}

// Task is the derived per-task view.
type Task struct {
	TaskID      string
	ThreadID    string
	TaskType    string
	State       TaskState
	LastLamport int64
}

// Edge is a derived parent→child DAG edge.
type Edge struct {
	ParentID string
	ChildID  string
}

// cmd is a unit of work executed serially on the writer goroutine.
type cmd struct {
	run  func(*sql.Tx) (any, error)
	resp chan cmdResult
}

type cmdResult struct {
	val any
	err error
}

// Log is the append-only plan log, backed by SQLite at <stateDir>/plan.db.
type Log struct {
	db     *sql.DB
	cmds   chan cmd
	done   chan struct{}
}

// Open opens (creating if needed) the plan log at <stateDir>/plan.db and
// starts its single writer goroutine.
func Open(stateDir string) (*Log, error) {
	path := filepath.Join(stateDir, "plan.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("planlog: open db: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer goroutine owns all access
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	l := &Log{db: db, cmds: make(chan cmd), done: make(chan struct{})}
	go l.loop()
	return l, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ops (
			op_id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			lamport INTEGER NOT NULL,
			actor_id TEXT NOT NULL,
			op_type TEXT NOT NULL,
			task_id TEXT NOT NULL,
			payload TEXT NOT NULL,
			ts_ns INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ops_thread_lamport ON ops(thread_id, lamport)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			task_id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			task_type TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL DEFAULT 'DRAFT',
			last_lamport INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS edges (
			parent_id TEXT NOT NULL,
			child_id TEXT NOT NULL,
			PRIMARY KEY (parent_id, child_id)
		)`,
		`CREATE TABLE IF NOT EXISTS annotations (
			task_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			lamport INTEGER NOT NULL,
			PRIMARY KEY (task_id, key)
		)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("planlog: migrate: %w", err)
		}
	}
	return nil
}

func (l *Log) loop() {
	for c := range l.cmds {
		tx, err := l.db.Begin()
		if err != nil {
			c.resp <- cmdResult{err: fmt.Errorf("planlog: begin tx: %w", err)}
			continue
		}
		val, err := c.run(tx)
		if err != nil {
			tx.Rollback()
			c.resp <- cmdResult{err: err}
			continue
		}
		if err := tx.Commit(); err != nil {
			c.resp <- cmdResult{err: fmt.Errorf("planlog: commit tx: %w", err)}
			continue
		}
		c.resp <- cmdResult{val: val}
	}
	close(l.done)
}

func (l *Log) submit(ctx context.Context, run func(*sql.Tx) (any, error)) (any, error) {
	resp := make(chan cmdResult, 1)
	select {
	case l.cmds <- cmd{run: run, resp: resp}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-resp:
		return r.val, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the writer goroutine and closes the database.
func (l *Log) Close() error {
	close(l.cmds)
	<-l.done
	return l.db.Close()
}
