// Package shaper is the Order Shaper: it converts an accepted leader swap
// plus a subscription's settings into a FollowerSwap order intent, computing
// sizing, slippage, priority fee, the target-price guard floor, and the
// route hint. Grounded on original_source's trading/copytrade.py
// _process_copytrade sizing/slippage branch (auto_buy_ratio clamp,
// anti_sandwich/auto_slippage/custom_slippage selection, sell-side forced
// slippage) and the teacher's trade-sizing arithmetic style in
// internal/trading/executor.go.
package shaper

import (
	"context"
	"math"

	"copytrade-engine/internal/model"
)

const (
	minAutoSlippageBps = 250
	maxAutoSlippageBps = 3000
	sellSlippageBps    = 9900 // "get-me-out" policy, forced on every sell
)

// SlippageSource resolves the two collaborator-backed slippage inputs the
// shaper cannot compute on its own: a follower's configured sandwich
// slippage, and the token-metadata collaborator's adaptive auto-slippage.
type SlippageSource interface {
	SandwichSlippageBps(ctx context.Context, followerWallet string) (int, error)
	AutoSlippageBps(ctx context.Context, inputMint, outputMint string, amount uint64) (int, error)
}

// Shaper holds the collaborators needed to size and price a FollowerSwap.
type Shaper struct {
	slippage SlippageSource
}

func New(slippage SlippageSource) *Shaper {
	return &Shaper{slippage: slippage}
}

// Shape builds the FollowerSwap intent for an accepted (subscription, event)
// pair. holding may be nil on a first buy; it is required (and non-nil, with
// MyAmount > 0) for a sell, which the Admission Filter already guarantees.
func (s *Shaper) Shape(ctx context.Context, sub *model.Subscription, ev *model.LeaderTxEvent, sellFraction float64, holding *model.Holding) (*model.FollowerSwap, error) {
	if ev.Direction == model.Buy {
		return s.shapeBuy(ctx, sub, ev)
	}
	return s.shapeSell(ctx, sub, holding, sellFraction)
}

func (s *Shaper) shapeBuy(ctx context.Context, sub *model.Subscription, ev *model.LeaderTxEvent) (*model.FollowerSwap, error) {
	raw := float64(ev.FromAmount) * sub.AutoBuyRatio / 100
	amount := clamp(raw, float64(sub.MinBuySol), float64(sub.MaxBuySol))

	remainingCap := float64(sub.MaxPosition) - float64(sub.CurrentPosition)
	if remainingCap < 0 {
		remainingCap = 0
	}
	if amount > remainingCap {
		amount = remainingCap
	}
	amountLamports := uint64(amount)

	slippageBps, err := s.buySlippageBps(ctx, sub, ev.Mint, amountLamports)
	if err != nil {
		return nil, err
	}

	swap := &model.FollowerSwap{
		FollowerWallet: sub.FollowerWallet,
		Direction:      model.Buy,
		InputMint:      wrappedSOLMint,
		OutputMint:     ev.Mint,
		Amount:         amountLamports,
		UIAmount:       lamportsToSOL(amountLamports),
		SlippageBps:    slippageBps,
		PriorityFee:    sub.PriorityFee,
		ProgramIDHint:  ev.ProgramID,
		SwapInType:     model.Qty,
		By:             model.ByCopytrade,
	}
	swap.MinOutFloor = targetPriceFloor(ev, swap.UIAmount, slippageBps)
	return swap, nil
}

func (s *Shaper) shapeSell(_ context.Context, sub *model.Subscription, holding *model.Holding, sellFraction float64) (*model.FollowerSwap, error) {
	swap := &model.FollowerSwap{
		FollowerWallet: sub.FollowerWallet,
		Direction:      model.Sell,
		InputMint:      holding.Mint,
		OutputMint:     wrappedSOLMint,
		SlippageBps:    sellSlippageBps,
		PriorityFee:    sub.PriorityFee,
		SwapInType:     model.Pct,
		AmountPct:      sellFraction,
		By:             model.ByCopytrade,
		MinOutFloor:    0, // forced "get-me-out": no floor on the sell path
	}
	return swap, nil
}

// buySlippageBps implements spec.md §4.3's three-way branch: anti_sandwich
// takes priority over auto_slippage, which takes priority over the static
// custom_slippage fraction.
func (s *Shaper) buySlippageBps(ctx context.Context, sub *model.Subscription, mint string, amount uint64) (int, error) {
	if sub.AntiSandwich {
		return s.slippage.SandwichSlippageBps(ctx, sub.FollowerWallet)
	}
	if sub.AutoSlippage {
		bps, err := s.slippage.AutoSlippageBps(ctx, wrappedSOLMint, mint, amount)
		if err != nil {
			return 0, err
		}
		return clampInt(bps, minAutoSlippageBps, maxAutoSlippageBps), nil
	}
	return int(sub.CustomSlippage * 10000), nil
}

// targetPriceFloor computes the buy-path minimum-out floor: the leader's
// effective execution price p* = to_amount_ui / from_amount_ui, projected
// onto the follower's own spend and slippage tolerance. Each route builder
// fails with ErrSlippageFloorViolated if its quoted output falls below this
// floor; the Route Registry reports that, once its retries are spent, as
// ErrBuildFailed.
func targetPriceFloor(ev *model.LeaderTxEvent, followerUIAmount float64, slippageBps int) uint64 {
	fromUI := float64(ev.FromAmount) / math.Pow(10, float64(ev.FromDecimals))
	if fromUI == 0 {
		return 0
	}
	toUI := float64(ev.ToAmount) / math.Pow(10, float64(ev.ToDecimals))
	pStar := toUI / fromUI

	slippage := float64(slippageBps) / 10000
	minOutUI := followerUIAmount * pStar * (1 - slippage)
	if minOutUI <= 0 {
		return 0
	}
	return uint64(math.Floor(minOutUI * math.Pow(10, float64(ev.ToDecimals))))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func lamportsToSOL(lamports uint64) float64 {
	return float64(lamports) / 1e9
}

const wrappedSOLMint = "So11111111111111111111111111111111111111112"
