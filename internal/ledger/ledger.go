// Package ledger is the Position Ledger: it folds one settled SwapRecord
// onto a subscription's running totals and its per-(leader, mint) Holding.
// The create/add-on/reduce arithmetic is a direct port of original_source's
// solbot_services/holding.py update_holding_tokens, including the reduce
// path's critical detail that the position-rescale divisor is the PRIOR
// my_amount, read before any field is mutated. Applies are idempotent on
// (signature, direction, leader, mint, subscription) via
// store.DB.ApplyLedgerOnce, and run under the same lock.KeyedMutex the
// Admission Filter serializes subscription mutations with.
package ledger

import (
	"context"

	"copytrade-engine/internal/lock"
	"copytrade-engine/internal/metrics"
	"copytrade-engine/internal/model"
	"copytrade-engine/internal/store"
)

// Store is the State Store surface the ledger needs.
type Store interface {
	GetHolding(leaderWallet, mint string, subscriptionPK int64) (*model.Holding, error)
	ApplyLedgerOnce(signature, direction, leaderWallet, mint string, subscriptionPK int64, fn func(*store.Tx) error) (bool, error)
}

// Ledger applies settled swaps to holdings and subscription running totals.
type Ledger struct {
	store Store
	locks *lock.KeyedMutex
}

func New(store Store, locks *lock.KeyedMutex) *Ledger {
	return &Ledger{store: store, locks: locks}
}

// Apply folds record onto sub's holding for ev.Mint. Only a Success record
// moves money -- build/submit/on-chain failures are no-ops, and so is a
// copy-sell against a holding that doesn't exist (the leader sold before a
// buy was ever recorded), mirroring holding.py's trailing `else: pass`.
// applied reports whether this call actually mutated state (false both on
// a legitimate no-op and on a replay of an already-applied signature).
func (l *Ledger) Apply(ctx context.Context, sub *model.Subscription, ev *model.LeaderTxEvent, record *model.SwapRecord) (applied bool, err error) {
	if record.Status != model.StatusSuccess {
		return false, nil
	}

	unlock := l.locks.Lock(sub.PK)
	defer unlock()

	holding, err := l.store.GetHolding(sub.LeaderWallet, ev.Mint, sub.PK)
	if err != nil {
		return false, err
	}

	return l.store.ApplyLedgerOnce(record.Signature, record.Direction.String(), sub.LeaderWallet, ev.Mint, sub.PK, func(tx *store.Tx) error {
		switch {
		case holding == nil && record.Direction == model.Buy:
			return create(tx, sub, ev, record)
		case holding != nil && record.Direction == model.Sell:
			return reduce(tx, sub, ev, record, holding)
		case holding != nil && record.Direction == model.Buy:
			return addOn(tx, sub, ev, record, holding)
		default:
			return nil
		}
	})
}

// create opens a new Holding on a first copy-buy.
func create(tx *store.Tx, sub *model.Subscription, ev *model.LeaderTxEvent, record *model.SwapRecord) error {
	h := &model.Holding{
		LeaderWallet:    sub.LeaderWallet,
		Mint:            ev.Mint,
		Decimals:        ev.ToDecimals,
		SubscriptionPK:  sub.PK,
		MyAmount:        record.OutputAmount,
		TargetAmount:    ev.ToAmount,
		CurrentPosition: record.InputAmount,
		MaxPosition:     sub.MaxPosition,
		BuyTimes:        1,
		MaxBuyTimes:     sub.MaxBuyTimes,
		SolSold:         record.InputAmount,
		SolEarned:       0,
		LatestTradeTS:   ev.Timestamp,
	}
	if err := tx.UpsertHolding(h); err != nil {
		return err
	}
	metrics.OpenHoldings.Inc()
	return tx.ApplySubscriptionDelta(sub.PK, store.SubscriptionDelta{
		CurrentPosition: int64(record.InputAmount),
		SolSold:         int64(record.InputAmount),
		TokenNumber:     1,
	})
}

// addOn folds a copy-buy into an already-open holding. holding.MyAmount can
// be zero here -- a rebuy into a mint the subscription fully exited -- since
// reduce() retains the zero-balance row rather than deleting it; BuyTimes
// keeps accumulating across that cycle rather than resetting, per the
// per-mint buy_times cap.
func addOn(tx *store.Tx, sub *model.Subscription, ev *model.LeaderTxEvent, record *model.SwapRecord, holding *model.Holding) error {
	reopening := holding.MyAmount == 0

	h := *holding
	h.MyAmount = holding.MyAmount + record.OutputAmount
	h.TargetAmount = holding.TargetAmount + ev.ToAmount
	h.BuyTimes = holding.BuyTimes + 1
	h.SolSold = holding.SolSold + record.InputAmount
	h.CurrentPosition = holding.CurrentPosition + record.InputAmount
	h.LatestTradeTS = ev.Timestamp

	if err := tx.UpsertHolding(&h); err != nil {
		return err
	}
	if reopening {
		metrics.OpenHoldings.Inc()
	}
	return tx.ApplySubscriptionDelta(sub.PK, store.SubscriptionDelta{
		CurrentPosition: int64(record.InputAmount),
		SolSold:         int64(record.InputAmount),
	})
}

// reduce folds a copy-sell into an open holding. The rescale divisor is
// holding.MyAmount as it stood BEFORE this sell -- reading it first and
// computing off a copy (h) rather than mutating holding in place is what
// keeps that ordering correct. A full exit (MyAmount reaching zero) retains
// the Holding row rather than deleting it, so historical totals and the
// per-mint buy_times cap survive a sell-then-rebuy cycle into the same mint.
func reduce(tx *store.Tx, sub *model.Subscription, ev *model.LeaderTxEvent, record *model.SwapRecord, holding *model.Holding) error {
	priorMyAmount := holding.MyAmount

	h := *holding
	h.TargetAmount = satSub(holding.TargetAmount, ev.FromAmount)
	h.MyAmount = satSub(holding.MyAmount, record.InputAmount)
	h.SolEarned = holding.SolEarned + record.OutputAmount
	h.LatestTradeTS = ev.Timestamp

	var positionRemoved uint64
	if priorMyAmount > 0 {
		scale := 1 - float64(record.InputAmount)/float64(priorMyAmount)
		if scale < 0 {
			scale = 0
		}
		newPosition := uint64(float64(holding.CurrentPosition) * scale)
		positionRemoved = satSub(holding.CurrentPosition, newPosition)
		h.CurrentPosition = newPosition
	} else {
		h.CurrentPosition = 0
		positionRemoved = holding.CurrentPosition
	}

	if err := tx.UpsertHolding(&h); err != nil {
		return err
	}
	if priorMyAmount > 0 && h.MyAmount == 0 {
		metrics.OpenHoldings.Dec()
	}

	return tx.ApplySubscriptionDelta(sub.PK, store.SubscriptionDelta{
		CurrentPosition: -int64(positionRemoved),
		SolEarned:       int64(record.OutputAmount),
	})
}

func satSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}
