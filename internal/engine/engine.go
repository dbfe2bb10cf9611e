// Package engine is the orchestrator wiring the Admission Filter, Order
// Shaper, Executor, Settlement Processor, Position Ledger, and Notifier
// Dispatch into one pipeline over the Leader Event Ingress's candidate
// stream. Grounded on the teacher's cmd/bot/main.go runHeadless loop
// (ProcessSignal dispatch over a channel of parsed signals), generalized
// from one global worker to one sequential worker per subscription: spec.md
// §5 requires in-order effects within a subscription while allowing
// different subscriptions to progress concurrently, and every stage already
// below this one (admission.Filter.Decide, ledger.Ledger.Apply) takes the
// subscription's lock.KeyedMutex itself, so the orchestrator must not also
// hold it across the pipeline -- it only has to preserve per-subscription
// FIFO order, which a dedicated channel-fed goroutine per subscription does
// without any lock of its own.
package engine

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"copytrade-engine/internal/admission"
	"copytrade-engine/internal/executor"
	"copytrade-engine/internal/ingress"
	"copytrade-engine/internal/ledger"
	"copytrade-engine/internal/metrics"
	"copytrade-engine/internal/model"
	"copytrade-engine/internal/notifier"
	"copytrade-engine/internal/route"
	"copytrade-engine/internal/settlement"
	"copytrade-engine/internal/shaper"
)

// Store is the State Store surface the orchestrator needs directly, beyond
// what its collaborator stages already use.
type Store interface {
	IncrementFailedTimes(subscriptionPK int64) error
}

// queueSize bounds how many candidates may back up behind a slow
// subscription before Submit blocks its caller (the Ingress Run loop).
const queueSize = 64

// Engine drains ingress.Candidate values and runs each through
// admission -> shaper -> executor -> settlement -> ledger -> notifier,
// preserving per-subscription order.
type Engine struct {
	admission  *admission.Filter
	shaper     *shaper.Shaper
	executor   *executor.Executor
	settlement *settlement.Processor
	ledger     *ledger.Ledger
	notifier   *notifier.Notifier
	store      Store

	mu     sync.Mutex
	queues map[int64]chan ingress.Candidate
	wg     sync.WaitGroup
}

func New(
	admissionFilter *admission.Filter,
	shaperStage *shaper.Shaper,
	executorStage *executor.Executor,
	settlementStage *settlement.Processor,
	ledgerStage *ledger.Ledger,
	notifierStage *notifier.Notifier,
	store Store,
) *Engine {
	return &Engine{
		admission:  admissionFilter,
		shaper:     shaperStage,
		executor:   executorStage,
		settlement: settlementStage,
		ledger:     ledgerStage,
		notifier:   notifierStage,
		store:      store,
		queues:     make(map[int64]chan ingress.Candidate),
	}
}

// Run drains ing until ctx is cancelled, feeding every candidate into this
// engine's per-subscription workers.
func (e *Engine) Run(ctx context.Context, ing *ingress.Ingress) error {
	return ing.Run(ctx, func(c ingress.Candidate) {
		e.Submit(ctx, c)
	})
}

// Submit hands one candidate to its subscription's worker, spawning the
// worker on first use. It never blocks on pipeline work, only on a full
// per-subscription queue.
func (e *Engine) Submit(ctx context.Context, c ingress.Candidate) {
	e.mu.Lock()
	q, ok := e.queues[c.Subscription.PK]
	if !ok {
		q = make(chan ingress.Candidate, queueSize)
		e.queues[c.Subscription.PK] = q
		e.wg.Add(1)
		go e.worker(ctx, c.Subscription.PK, q)
	}
	e.mu.Unlock()

	select {
	case q <- c:
	case <-ctx.Done():
	}
}

// Wait blocks until every spawned worker has drained and exited, used by
// callers shutting down after their context is cancelled.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) worker(ctx context.Context, subscriptionPK int64, q chan ingress.Candidate) {
	defer e.wg.Done()
	logger := log.With().Int64("subscription_pk", subscriptionPK).Logger()
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-q:
			if !ok {
				return
			}
			e.process(ctx, c, logger)
		}
	}
}

// process runs one candidate end to end. Every stage past admission reports
// failure by incrementing failed_times rather than propagating the error
// further, per spec.md §7's "counter increment plus a logged record"
// alternative for outcomes that never produce a signature, and settlement's
// own InsertSwapRecord already covers the signature-bearing outcomes
// (Expired/OnChainFailed).
func (e *Engine) process(ctx context.Context, c ingress.Candidate, logger zerolog.Logger) {
	sub, ev := c.Subscription, c.Event

	decision, err := e.admission.Decide(c)
	if err != nil {
		logger.Warn().Err(err).Msg("admission decide failed")
		return
	}
	metrics.ObserveAdmissionDecision(ev.Direction, decision.Accept)
	if !decision.Accept {
		logger.Debug().Str("reason", decision.Reason.String()).Msg("candidate rejected by admission filter")
		return
	}

	swap, err := e.shaper.Shape(ctx, sub, ev, c.SellFraction, decision.Holding)
	if err != nil {
		e.fail(sub.PK, logger, "order shaper failed", err)
		return
	}

	var holdingMyAmount uint64
	if decision.Holding != nil {
		holdingMyAmount = decision.Holding.MyAmount
	}

	flags := route.RuntimeFlags{PriorityFee: sub.PriorityFee}
	result, err := e.executor.Execute(ctx, swap, holdingMyAmount, flags)
	if err != nil {
		e.fail(sub.PK, logger, "executor failed", err)
		return
	}

	record, settleErr := e.settlement.Settle(ctx, result.Signature, swap)
	metrics.ObserveSettlement(record.Status)
	if settleErr != nil {
		e.fail(sub.PK, logger, "settlement did not reach success", settleErr)
	}

	applied, err := e.ledger.Apply(ctx, sub, ev, record)
	if err != nil {
		logger.Error().Err(err).Str("signature", record.Signature).Msg("position ledger apply failed")
		return
	}
	if !applied {
		return
	}

	if err := e.notifier.Notify(ctx, sub, ev.Mint, record); err != nil {
		logger.Warn().Err(err).Str("signature", record.Signature).Msg("notifier publish failed")
	}
}

func (e *Engine) fail(subscriptionPK int64, logger zerolog.Logger, msg string, err error) {
	logger.Warn().Err(err).Msg(msg)
	if kindErr, ok := err.(model.PipelineError); ok {
		logger = logger.With().Str("error_kind", kindErr.Kind.String()).Logger()
	}
	if incErr := e.store.IncrementFailedTimes(subscriptionPK); incErr != nil {
		logger.Error().Err(incErr).Msg("failed to increment failed_times")
	}
}
