package store

import (
	"database/sql"
	"fmt"

	"copytrade-engine/internal/model"
)

// Tx is the transaction-scoped handle ApplyLedgerOnce hands to its callback:
// the same holding/subscription writes DB exposes, scoped to one
// transaction so a Position Ledger apply commits atomically.
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) UpsertHolding(h *model.Holding) error { return upsertHolding(t.tx, h) }

func (t *Tx) DeleteHolding(leaderWallet, mint string, subscriptionPK int64) error {
	return deleteHolding(t.tx, leaderWallet, mint, subscriptionPK)
}

func (t *Tx) ApplySubscriptionDelta(pk int64, delta SubscriptionDelta) error {
	return applySubscriptionDelta(t.tx, pk, delta)
}

// ApplyLedgerOnce guarantees a Position Ledger mutation runs at most once per
// (signature, direction, leaderWallet, mint, subscriptionPK), per spec.md
// §5's idempotency requirement. It opens a transaction and inserts the
// dedupe marker first; a UNIQUE-constraint no-op (RowsAffected == 0) means
// this tuple was already applied, so it rolls back and returns
// applied=false without calling fn. Otherwise it runs fn against the same
// transaction and commits.
func (d *DB) ApplyLedgerOnce(signature, direction, leaderWallet, mint string, subscriptionPK int64, fn func(*Tx) error) (applied bool, err error) {
	tx, err := d.db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin ledger apply: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.Exec(`
		INSERT OR IGNORE INTO ledger_applies (signature, direction, leader_wallet, mint, subscription_pk, applied_at)
		VALUES (?,?,?,?,?,?)`,
		signature, direction, leaderWallet, mint, subscriptionPK, Now())
	if err != nil {
		return false, fmt.Errorf("insert ledger marker: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check ledger marker: %w", err)
	}
	if n == 0 {
		return false, tx.Rollback()
	}

	if err = fn(&Tx{tx: tx}); err != nil {
		return false, err
	}
	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("commit ledger apply: %w", err)
	}
	return true, nil
}
