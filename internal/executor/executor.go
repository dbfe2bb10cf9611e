// Package executor is the Executor: it turns a shaped FollowerSwap into a
// submitted transaction. It resolves the Pct-vs-Qty sizing the Order Shaper
// left open for sells (spec.md §4.3: "the executor later computes amount =
// floor(holding.my_amount x amount_pct)"), hands the swap to the Route
// Registry to build and sign, and submits the result through the RPC
// collaborator.
//
// Grounded on internal/trading/executor.go's ProcessSignal/executeBuy
// build->sign->submit->callback orchestration (the mutex-per-call shape is
// dropped here since internal/engine already runs each subscription's swaps
// one at a time on that subscription's own worker goroutine) and
// internal/blockchain/rpc.go's SendTransaction, whose
// circuit breaker is what makes a submit failure here retryable rather than
// fatal.
package executor

import (
	"context"
	"encoding/base64"
	"math"

	"copytrade-engine/internal/model"
	"copytrade-engine/internal/route"
)

// Submitter is the RPC collaborator's submit capability.
// blockchain.RPCClient.SendTransaction satisfies this without modification.
type Submitter interface {
	SendTransaction(ctx context.Context, signedTxBase64 string, skipPreflight bool) (string, error)
}

// Result is the Executor's successful outcome for one FollowerSwap.
type Result struct {
	Signature string
	QuotedOut uint64
}

// Executor resolves a route, builds+signs a transaction, and submits it.
type Executor struct {
	registry      *route.Registry
	signer        route.Signer
	submitter     Submitter
	skipPreflight bool
	submitRetries int
}

// New builds an Executor. submitRetries mirrors the Route Registry's
// build-retry bound (spec.md §4.5: "a submit exception is retried up to the
// same bound"); skipPreflight matches the teacher's SendTransaction(ctx,
// signedTx, true) call, trading simulation safety for submission speed.
func New(registry *route.Registry, signer route.Signer, submitter Submitter, submitRetries int, skipPreflight bool) *Executor {
	if submitRetries < 1 {
		submitRetries = 1
	}
	return &Executor{
		registry:      registry,
		signer:        signer,
		submitter:     submitter,
		skipPreflight: skipPreflight,
		submitRetries: submitRetries,
	}
}

// Execute resolves swap's route, resolves a Pct sell into a concrete Qty
// against holdingMyAmount, builds and signs a transaction, and submits it. A
// build failure returns (nil, model.PipelineError{Kind: ErrBuildFailed, ...})
// with no signature, per spec.md §4.5/§7 -- it never panics or crashes the
// pipeline. holdingMyAmount is ignored when swap.SwapInType is Qty.
func (e *Executor) Execute(ctx context.Context, swap *model.FollowerSwap, holdingMyAmount uint64, flags route.RuntimeFlags) (*Result, error) {
	resolved := *swap
	if resolved.SwapInType == model.Pct {
		resolved.Amount = uint64(math.Floor(float64(holdingMyAmount) * resolved.AmountPct))
	}

	r := e.registry.Resolve(resolved.ProgramIDHint)
	built, err := e.registry.Build(ctx, r, e.signer, &resolved, flags)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for i := 0; i < e.submitRetries; i++ {
		if ctx.Err() != nil {
			return nil, model.PipelineError{Kind: model.ErrExpired, Msg: ctx.Err().Error()}
		}
		sig, err := e.submitter.SendTransaction(ctx, encodeTx(built.SignedTransaction), e.skipPreflight)
		if err == nil {
			return &Result{Signature: sig, QuotedOut: built.QuotedOut}, nil
		}
		lastErr = err
	}
	return nil, model.PipelineError{Kind: model.ErrSubmitFailed, Msg: lastErr.Error()}
}

func encodeTx(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}
