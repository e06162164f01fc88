package econ

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bottletopbil/agent-network-sub002/swarmerr"
)

// Account is the derived view of a ledger account.
type Account struct {
	AccountID string
	Balance   int64
	Locked    int64
	Unbonding int64
}

// CreateAccount creates accountID with initialBalance, requiring minterID
// to be on the allow-list whenever initialBalance > 0 (a mint).
func (l *Ledger) CreateAccount(ctx context.Context, accountID string, initialBalance int64, minterID string) error {
	_, err := l.submit(ctx, func(tx *sql.Tx) (any, error) {
		if initialBalance > 0 {
			if !l.minters[minterID] {
				return nil, fmt.Errorf("econ: create_account: %w: %s", swarmerr.ErrUnauthorizedMinter, minterID)
			}
			var totalMinted int64
			if err := tx.QueryRow(`SELECT total_minted FROM supply WHERE id = 0`).Scan(&totalMinted); err != nil {
				return nil, err
			}
			if totalMinted+initialBalance > l.maxSupply {
				return nil, fmt.Errorf("econ: mint of %d would exceed max supply %d", initialBalance, l.maxSupply)
			}
			if _, err := tx.Exec(`UPDATE supply SET total_minted = total_minted + ? WHERE id = 0`, initialBalance); err != nil {
				return nil, err
			}
		}
		if _, err := tx.Exec(
			`INSERT INTO accounts (account_id, balance) VALUES (?, ?)`, accountID, initialBalance); err != nil {
			return nil, fmt.Errorf("econ: create_account: %w", err)
		}
		return nil, nil
	})
	return err
}

// Transfer moves amount from -> to. The recipient must already exist
// unless allowCreateRecipient is set.
func (l *Ledger) Transfer(ctx context.Context, from, to string, amount int64, allowCreateRecipient bool) error {
	_, err := l.submit(ctx, func(tx *sql.Tx) (any, error) {
		var fromBalance int64
		if err := tx.QueryRow(`SELECT balance FROM accounts WHERE account_id = ?`, from).Scan(&fromBalance); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("econ: transfer: sender %q not found", from)
			}
			return nil, err
		}
		if fromBalance < amount {
			return nil, &swarmerr.InsufficientBalance{Account: from, Have: fromBalance, Need: amount}
		}

		var toExists bool
		if err := tx.QueryRow(`SELECT EXISTS(SELECT 1 FROM accounts WHERE account_id = ?)`, to).Scan(&toExists); err != nil {
			return nil, err
		}
		if !toExists {
			if !allowCreateRecipient {
				return nil, swarmerr.ErrRecipientMissing
			}
			if _, err := tx.Exec(`INSERT INTO accounts (account_id, balance) VALUES (?, 0)`, to); err != nil {
				return nil, err
			}
		}

		if _, err := tx.Exec(`UPDATE accounts SET balance = balance - ? WHERE account_id = ?`, amount, from); err != nil {
			return nil, err
		}
		if _, err := tx.Exec(`UPDATE accounts SET balance = balance + ? WHERE account_id = ?`, amount, to); err != nil {
			return nil, err
		}
		return nil, nil
	})
	return err
}

// Escrow moves amount from balance to locked under escrowID. Idempotent on
// a duplicate escrow_id with the same (account, amount); a conflicting
// duplicate is rejected.
func (l *Ledger) Escrow(ctx context.Context, accountID string, amount int64, escrowID string) error {
	_, err := l.submit(ctx, func(tx *sql.Tx) (any, error) {
		var existingAccount string
		var existingAmount int64
		err := tx.QueryRow(`SELECT account_id, amount FROM escrows WHERE escrow_id = ?`, escrowID).Scan(&existingAccount, &existingAmount)
		if err == nil {
			if existingAccount == accountID && existingAmount == amount {
				return nil, nil // idempotent retry
			}
			return nil, fmt.Errorf("econ: escrow %q already exists with different (account, amount)", escrowID)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		var balance int64
		if err := tx.QueryRow(`SELECT balance FROM accounts WHERE account_id = ?`, accountID).Scan(&balance); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("econ: escrow: account %q not found", accountID)
			}
			return nil, err
		}
		if balance < amount {
			return nil, &swarmerr.InsufficientBalance{Account: accountID, Have: balance, Need: amount}
		}

		if _, err := tx.Exec(`UPDATE accounts SET balance = balance - ?, locked = locked + ? WHERE account_id = ?`, amount, amount, accountID); err != nil {
			return nil, err
		}
		if _, err := tx.Exec(`INSERT INTO escrows (escrow_id, account_id, amount, state) VALUES (?, ?, ?, 'held')`, escrowID, accountID, amount); err != nil {
			return nil, err
		}
		return nil, nil
	})
	return err
}

// ReleaseEscrow releases escrowID to recipient "to", crediting their
// balance. A second concurrent release raises ErrEscrowAlreadyReleased.
func (l *Ledger) ReleaseEscrow(ctx context.Context, escrowID, to string) error {
	_, err := l.submit(ctx, func(tx *sql.Tx) (any, error) {
		var accountID, state string
		var amount int64
		if err := tx.QueryRow(`SELECT account_id, amount, state FROM escrows WHERE escrow_id = ?`, escrowID).Scan(&accountID, &amount, &state); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("econ: release_escrow: %q not found", escrowID)
			}
			return nil, err
		}
		if state != "held" {
			return nil, swarmerr.ErrEscrowAlreadyReleased
		}

		if _, err := tx.Exec(`UPDATE escrows SET state = 'released' WHERE escrow_id = ?`, escrowID); err != nil {
			return nil, err
		}
		if _, err := tx.Exec(`UPDATE accounts SET locked = locked - ? WHERE account_id = ?`, amount, accountID); err != nil {
			return nil, err
		}
		var toExists bool
		if err := tx.QueryRow(`SELECT EXISTS(SELECT 1 FROM accounts WHERE account_id = ?)`, to).Scan(&toExists); err != nil {
			return nil, err
		}
		if !toExists {
			if _, err := tx.Exec(`INSERT INTO accounts (account_id, balance) VALUES (?, 0)`, to); err != nil {
				return nil, err
			}
		}
		if _, err := tx.Exec(`UPDATE accounts SET balance = balance + ? WHERE account_id = ?`, amount, to); err != nil {
			return nil, err
		}
		return nil, nil
	})
	return err
}

// SlashStake subtracts amount from accountID's locked stake.
func (l *Ledger) SlashStake(ctx context.Context, accountID string, amount int64) error {
	_, err := l.submit(ctx, func(tx *sql.Tx) (any, error) {
		var locked int64
		if err := tx.QueryRow(`SELECT locked FROM accounts WHERE account_id = ?`, accountID).Scan(&locked); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("econ: slash_stake: account %q not found", accountID)
			}
			return nil, err
		}
		if locked < amount {
			return nil, &swarmerr.InsufficientStake{Account: accountID, Have: locked, Need: amount}
		}
		if _, err := tx.Exec(`UPDATE accounts SET locked = locked - ? WHERE account_id = ?`, amount, accountID); err != nil {
			return nil, err
		}
		return nil, nil
	})
	return err
}

// GetAccount returns the current view of accountID.
func (l *Ledger) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	v, err := l.submit(ctx, func(tx *sql.Tx) (any, error) {
		var a Account
		a.AccountID = accountID
		if err := tx.QueryRow(`SELECT balance, locked, unbonding FROM accounts WHERE account_id = ?`, accountID).Scan(&a.Balance, &a.Locked, &a.Unbonding); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, swarmerr.ErrNotFound
			}
			return nil, err
		}
		return &a, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Account), nil
}
