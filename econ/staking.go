package econ

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/bottletopbil/agent-network-sub002/swarmerr"
)

// DefaultUnbondingDuration is 7 days in nanoseconds.
const DefaultUnbondingDuration = int64(7 * 24 * 60 * 60 * 1_000_000_000)

// Stake moves amount from balance to locked.
func (l *Ledger) Stake(ctx context.Context, accountID string, amount int64) error {
	_, err := l.submit(ctx, func(tx *sql.Tx) (any, error) {
		var balance int64
		if err := tx.QueryRow(`SELECT balance FROM accounts WHERE account_id = ?`, accountID).Scan(&balance); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("econ: stake: account %q not found", accountID)
			}
			return nil, err
		}
		if balance < amount {
			return nil, &swarmerr.InsufficientBalance{Account: accountID, Have: balance, Need: amount}
		}
		_, err := tx.Exec(`UPDATE accounts SET balance = balance - ?, locked = locked + ? WHERE account_id = ?`, amount, amount, accountID)
		return nil, err
	})
	return err
}

// Unstake moves amount from locked to unbonding, queued for release at
// nowNs + unbondingDurationNs (DefaultUnbondingDuration if zero).
func (l *Ledger) Unstake(ctx context.Context, accountID string, amount, nowNs, unbondingDurationNs int64) (string, int64, error) {
	if unbondingDurationNs <= 0 {
		unbondingDurationNs = DefaultUnbondingDuration
	}
	unbondingID := uuid.NewString()
	completesAt := nowNs + unbondingDurationNs
	_, err := l.submit(ctx, func(tx *sql.Tx) (any, error) {
		var locked int64
		if err := tx.QueryRow(`SELECT locked FROM accounts WHERE account_id = ?`, accountID).Scan(&locked); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("econ: unstake: account %q not found", accountID)
			}
			return nil, err
		}
		if locked < amount {
			return nil, &swarmerr.InsufficientStake{Account: accountID, Have: locked, Need: amount}
		}
		if _, err := tx.Exec(`UPDATE accounts SET locked = locked - ?, unbonding = unbonding + ? WHERE account_id = ?`, amount, amount, accountID); err != nil {
			return nil, err
		}
		if _, err := tx.Exec(
			`INSERT INTO unbonding_queue (unbonding_id, account_id, amount, completes_at_ns) VALUES (?, ?, ?, ?)`,
			unbondingID, accountID, amount, completesAt); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return "", 0, err
	}
	return unbondingID, completesAt, nil
}

// CompleteUnbonding scavenges every eligible (completed == false,
// completes_at_ns <= nowNs) unbonding row for accountID exactly once,
// moving unbonding -> balance, and returns the unbonding_ids completed so
// the caller can write COMPLETE_UNBONDING audit lines.
func (l *Ledger) CompleteUnbonding(ctx context.Context, accountID string, nowNs int64) ([]string, error) {
	v, err := l.submit(ctx, func(tx *sql.Tx) (any, error) {
		rows, err := tx.Query(
			`SELECT unbonding_id, amount FROM unbonding_queue WHERE account_id = ? AND completed = 0 AND completes_at_ns <= ?`,
			accountID, nowNs)
		if err != nil {
			return nil, err
		}
		type due struct {
			id     string
			amount int64
		}
		var dues []due
		for rows.Next() {
			var d due
			if err := rows.Scan(&d.id, &d.amount); err != nil {
				rows.Close()
				return nil, err
			}
			dues = append(dues, d)
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
		rows.Close()

		var completed []string
		for _, d := range dues {
			res, err := tx.Exec(`UPDATE unbonding_queue SET completed = 1 WHERE unbonding_id = ? AND completed = 0`, d.id)
			if err != nil {
				return nil, err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return nil, err
			}
			if n == 0 {
				continue // already completed by a concurrent scavenge pass
			}
			if _, err := tx.Exec(`UPDATE accounts SET unbonding = unbonding - ?, balance = balance + ? WHERE account_id = ?`, d.amount, d.amount, accountID); err != nil {
				return nil, err
			}
			completed = append(completed, d.id)
		}
		return completed, nil
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.([]string), nil
}
