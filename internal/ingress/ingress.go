// Package ingress is the Leader Event Ingress: it consumes leader_tx,
// classifies each event, computes the sell-fraction tail rule, drops ignored
// mints, and fans out one follower_candidate work item per matching active
// subscription. Grounded on the teacher's websocket subscriber-loop shape
// (internal/websocket/wallet_monitor.go's callback-registration idiom),
// adapted to consume already-parsed events off the Event Bus rather than a
// raw chain feed, since the upstream watcher is an external collaborator.
package ingress

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"copytrade-engine/internal/bus"
	"copytrade-engine/internal/model"
)

const consumerGroup = "ingress"

// Wrapped-SOL mint, the universal base asset on the input/output side of
// every buy/sell the engine replicates.
const WrappedSOLMint = "So11111111111111111111111111111111111111112"

// SubscriptionLookup returns every active subscription following leaderWallet.
type SubscriptionLookup interface {
	GetActiveSubscriptionsForLeader(leaderWallet string) ([]*model.Subscription, error)
}

// IgnoredMints reports whether a mint is in the configured ignore set.
type IgnoredMints interface {
	IsIgnoredMint(mint string) bool
}

// FilteredCounter records a filtered_times increment for a subscription,
// persisted by the owning Admission Filter / State Store so the counter
// survives restarts.
type FilteredCounter interface {
	IncrementFilteredTimes(subscriptionPK int64) error
}

// Candidate is one (subscription, event) pairing handed to the Admission Filter.
type Candidate struct {
	Subscription *model.Subscription
	Event        *model.LeaderTxEvent
	SellFraction float64
}

// Ingress consumes leader_tx and publishes follower_candidate work items.
type Ingress struct {
	bus     *bus.Bus
	lookup  SubscriptionLookup
	ignored IgnoredMints
	counter FilteredCounter
}

func New(b *bus.Bus, lookup SubscriptionLookup, ignored IgnoredMints, counter FilteredCounter) *Ingress {
	return &Ingress{bus: b, lookup: lookup, ignored: ignored, counter: counter}
}

// Run drains leader_tx until ctx is cancelled, publishing one Candidate per
// matching active subscription for each accepted event.
func (i *Ingress) Run(ctx context.Context, emit func(Candidate)) error {
	ch := i.bus.Subscribe(bus.TopicLeaderTx, consumerGroup)
	if _, err := i.bus.Recover(ctx, bus.TopicLeaderTx, consumerGroup, 1000); err != nil {
		log.Warn().Err(err).Msg("leader_tx recovery replay failed")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case row := <-ch:
			i.handle(row, emit)
			if err := i.bus.Ack(bus.TopicLeaderTx, consumerGroup, row.ID); err != nil {
				log.Error().Err(err).Int64("row_id", row.ID).Msg("failed to ack leader_tx row")
			}
		}
	}
}

func (i *Ingress) handle(row bus.OutboxRow, emit func(Candidate)) {
	var ev model.LeaderTxEvent
	if err := json.Unmarshal(row.Payload, &ev); err != nil {
		log.Error().Err(err).Msg("failed to decode leader_tx payload")
		return
	}

	inputMint, outputMint := classifyMints(&ev)
	if i.ignored != nil && (i.ignored.IsIgnoredMint(inputMint) || i.ignored.IsIgnoredMint(outputMint)) {
		i.dropSilently(ev.LeaderWallet)
		return
	}

	subs, err := i.lookup.GetActiveSubscriptionsForLeader(ev.LeaderWallet)
	if err != nil {
		log.Error().Err(err).Str("leader", ev.LeaderWallet).Msg("failed to load subscriptions for leader")
		return
	}

	sellFraction := ev.SellFraction()
	for _, sub := range subs {
		emit(Candidate{Subscription: sub, Event: &ev, SellFraction: sellFraction})
	}
}

// dropSilently increments filtered_times for every active subscription
// following leaderWallet, per spec.md §4.1's "dropped silently ... with
// filtered_times incremented for each affected subscription".
func (i *Ingress) dropSilently(leaderWallet string) {
	subs, err := i.lookup.GetActiveSubscriptionsForLeader(leaderWallet)
	if err != nil {
		return
	}
	for _, sub := range subs {
		if i.counter != nil {
			if err := i.counter.IncrementFilteredTimes(sub.PK); err != nil {
				log.Warn().Err(err).Int64("pk", sub.PK).Msg("failed to increment filtered_times on ignored mint")
			}
		}
	}
}

// classifyMints assigns input/output mints so a buy has wrapped-SOL as
// input and a sell has wrapped-SOL as output.
func classifyMints(ev *model.LeaderTxEvent) (inputMint, outputMint string) {
	if ev.Direction == model.Buy {
		return WrappedSOLMint, ev.Mint
	}
	return ev.Mint, WrappedSOLMint
}
