// Package admission is the Admission Filter: for each (subscription,
// LeaderTxEvent) it decides whether to replicate, enforcing position caps,
// per-token buy-count caps, the minimum-size filter, and anti-fast-trade
// throttling, all under the per-subscription logical lock. Grounded on the
// locking idiom of internal/trading/position.go (sync.RWMutex-guarded maps)
// generalized to KeyedMutex, and on original_source's
// solbot_services/holding.py check_swap_permission, which confirms the
// buy/sell predicate is a plain conjunction (spec.md §9 Open Question #2).
package admission

import (
	"copytrade-engine/internal/ingress"
	"copytrade-engine/internal/lock"
	"copytrade-engine/internal/model"
)

// HoldingStore is the subset of the State Store the filter needs.
type HoldingStore interface {
	GetHolding(leaderWallet, mint string, subscriptionPK int64) (*model.Holding, error)
	UpsertSubscription(s *model.Subscription) (int64, error)
}

// Decision is the filter's verdict for one candidate.
type Decision struct {
	Accept  bool
	Reason  model.ErrorKind
	Holding *model.Holding // nil when none existed yet
}

// Filter applies the admission policy under the per-subscription logical lock.
type Filter struct {
	store HoldingStore
	locks *lock.KeyedMutex
	now   func() int64
}

func New(store HoldingStore, locks *lock.KeyedMutex, now func() int64) *Filter {
	return &Filter{store: store, locks: locks, now: now}
}

// Decide evaluates c.Subscription against c.Event and c.SellFraction,
// mutating the subscription's fast-trade counters and filtered_times as a
// side effect (persisted before Decide returns), and returns the verdict.
func (f *Filter) Decide(c ingress.Candidate) (Decision, error) {
	var decision Decision
	var persistErr error

	unlock := f.locks.Lock(c.Subscription.PK)
	defer unlock()

	sub := c.Subscription
	holding, err := f.store.GetHolding(sub.LeaderWallet, c.Event.Mint, sub.PK)
	if err != nil {
		return Decision{}, err
	}

	f.updateFastTradeCounters(sub, c.Event, holding)

	if c.Event.Direction == model.Buy {
		decision = f.decideBuy(sub, c.Event, holding)
	} else {
		decision = f.decideSell(sub, c.SellFraction, holding)
	}
	decision.Holding = holding

	if !decision.Accept {
		sub.FilteredTimes++
	}
	if _, err := f.store.UpsertSubscription(sub); err != nil {
		persistErr = err
	}

	return decision, persistErr
}

func (f *Filter) decideBuy(sub *model.Subscription, ev *model.LeaderTxEvent, holding *model.Holding) Decision {
	if !sub.Active || !sub.AutoBuy {
		return Decision{Accept: false, Reason: model.ErrFilteredOut}
	}

	underSubCap := sub.CurrentPosition < sub.MaxPosition
	underNetSpendCap := (sub.SolSold - sub.SolEarned) < sub.MaxPosition
	underFastTradeCap := !sub.AntiFastTrade || sub.FastTradeCount < sub.FastTradeSleepThreshold
	meetsMinBuy := ev.FromAmount >= sub.FilterMinBuy

	if !(underSubCap && underNetSpendCap && underFastTradeCap && meetsMinBuy) {
		return Decision{Accept: false, Reason: model.ErrFilteredOut}
	}

	if holding != nil && holding.BuyTimes >= holding.MaxBuyTimes {
		return Decision{Accept: false, Reason: model.ErrFilteredOut}
	}

	return Decision{Accept: true}
}

func (f *Filter) decideSell(sub *model.Subscription, sellFraction float64, holding *model.Holding) Decision {
	if !sub.Active || !sub.AutoSell || sellFraction < sub.MinSellRatio {
		return Decision{Accept: false, Reason: model.ErrFilteredOut}
	}
	if sub.AntiFastTrade && sub.FastTradeCount >= sub.FastTradeSleepThreshold {
		return Decision{Accept: false, Reason: model.ErrFilteredOut}
	}
	if holding == nil || holding.MyAmount == 0 {
		return Decision{Accept: false, Reason: model.ErrBalanceMissing}
	}
	return Decision{Accept: true}
}

// updateFastTradeCounters realizes spec.md §4.2's anti-fast-trade rule. The
// window and count are subscription-wide per spec.md §9 Open Question #4,
// even though the observation that drives it comes from one holding. It
// mutates sub's counters only; decideBuy/decideSell read the updated
// FastTradeCount to decide whether the throttle currently rejects.
//
// FastTradeWindowStart == 0 is the "never initialized" sentinel: callers
// must supply event timestamps as real (nonzero) unix seconds.
func (f *Filter) updateFastTradeCounters(sub *model.Subscription, ev *model.LeaderTxEvent, holding *model.Holding) {
	if !sub.AntiFastTrade {
		return
	}

	now := ev.Timestamp

	if sub.FastTradeWindowStart == 0 {
		sub.FastTradeWindowStart = now
	}

	if sub.FastTradeCount >= sub.FastTradeSleepThreshold {
		if now-sub.FastTradeWindowStart >= sub.FastTradeSleepTime {
			sub.FastTradeWindowStart = now
			sub.FastTradeCount = 0
		} else {
			// Still within the sleep lockout: leave the counters as-is so
			// decideBuy/decideSell keep rejecting.
			return
		}
	}

	if now-sub.FastTradeWindowStart >= sub.FastTradeDuration {
		sub.FastTradeWindowStart = now
		sub.FastTradeCount = 1
		return
	}

	var lastTradeTS int64
	if holding != nil {
		lastTradeTS = holding.LatestTradeTS
	}
	if lastTradeTS != 0 && now-lastTradeTS < sub.FastTradeThreshold {
		sub.FastTradeCount++
	}
}
