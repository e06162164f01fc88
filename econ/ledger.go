// Package econ implements the ACID ledger: accounts, escrow, staking with
// an unbonding queue, slash distribution, payout eligibility, and
// verifier-selection/sybil-resistance helpers.
package econ

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DefaultMaxSupply is used when a ledger isn't configured with an explicit
// cap.
const DefaultMaxSupply = int64(1_000_000_000_000)

type cmd struct {
	run  func(*sql.Tx) (any, error)
	resp chan cmdResult
}

type cmdResult struct {
	val any
	err error
}

// Ledger is the ACID account/escrow/staking ledger, backed by SQLite at
// <stateDir>/ledger.db. All mutating operations run through a single
// writer goroutine, which is also how this module realizes "escrow release
// is serialized by a row-level lock": the goroutine never interleaves two
// transactions, so no second release can observe a half-applied first one.
type Ledger struct {
	db        *sql.DB
	cmds      chan cmd
	done      chan struct{}
	maxSupply int64
	minters   map[string]bool
}

// Open opens (creating if needed) the ledger at <stateDir>/ledger.db.
// authorizedMinters is the minter allow-list beyond the implicit "system"
// account.
func Open(stateDir string, maxSupply int64, authorizedMinters []string) (*Ledger, error) {
	if maxSupply <= 0 {
		maxSupply = DefaultMaxSupply
	}
	path := filepath.Join(stateDir, "ledger.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("econ: open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	minters := map[string]bool{"system": true}
	for _, m := range authorizedMinters {
		minters[m] = true
	}
	l := &Ledger{db: db, cmds: make(chan cmd), done: make(chan struct{}), maxSupply: maxSupply, minters: minters}
	go l.loop()
	return l, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			account_id TEXT PRIMARY KEY,
			balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
			locked INTEGER NOT NULL DEFAULT 0 CHECK (locked >= 0),
			unbonding INTEGER NOT NULL DEFAULT 0 CHECK (unbonding >= 0)
		)`,
		`CREATE TABLE IF NOT EXISTS escrows (
			escrow_id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			amount INTEGER NOT NULL,
			state TEXT NOT NULL CHECK (state IN ('held','released','cancelled'))
		)`,
		`CREATE TABLE IF NOT EXISTS unbonding_queue (
			unbonding_id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			amount INTEGER NOT NULL,
			completes_at_ns INTEGER NOT NULL,
			completed INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS supply (
			id INTEGER PRIMARY KEY CHECK (id = 0),
			total_minted INTEGER NOT NULL DEFAULT 0
		)`,
		`INSERT OR IGNORE INTO supply (id, total_minted) VALUES (0, 0)`,
		`CREATE TABLE IF NOT EXISTS operations (
			op_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			account_id TEXT,
			amount INTEGER,
			ts_ns INTEGER NOT NULL
		)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("econ: migrate: %w", err)
		}
	}
	return nil
}

func (l *Ledger) loop() {
	for c := range l.cmds {
		tx, err := l.db.Begin()
		if err != nil {
			c.resp <- cmdResult{err: fmt.Errorf("econ: begin tx: %w", err)}
			continue
		}
		val, err := c.run(tx)
		if err != nil {
			tx.Rollback()
			c.resp <- cmdResult{err: err}
			continue
		}
		if err := tx.Commit(); err != nil {
			c.resp <- cmdResult{err: fmt.Errorf("econ: commit tx: %w", err)}
			continue
		}
		c.resp <- cmdResult{val: val}
	}
	close(l.done)
}

func (l *Ledger) submit(ctx context.Context, run func(*sql.Tx) (any, error)) (any, error) {
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
func (l *Ledger) Close() error {
	close(l.cmds)
	<-l.done
	return l.db.Close()
}
