// Package notifier is the Notifier Dispatch: a thin producer that publishes
// one CopySettled event per settled FollowerSwap onto the bus's
// "copy_settled" topic, so downstream chat/webhook consumers (outside this
// module's scope) learn of a fill without coupling to the Settlement
// Processor directly. Grounded on original_source's trading/copytrade.py
// dual-producer pattern (swap_event_producer publishes the raw event while
// notify_copytrade_producer separately announces it to chat) -- here
// realized as two independent bus topics rather than two message queues.
package notifier

import (
	"context"

	"github.com/rs/zerolog/log"

	"copytrade-engine/internal/bus"
	"copytrade-engine/internal/model"
	"copytrade-engine/internal/token"
)

// CopySettled is the payload published to bus.TopicCopySettled.
type CopySettled struct {
	SubscriptionPK int64              `json:"subscription_pk"`
	FollowerChat   int64              `json:"follower_chat"`
	LeaderAlias    string             `json:"leader_alias"`
	Direction      model.SwapDirection `json:"direction"`
	Mint           string             `json:"mint"`
	Symbol         string             `json:"symbol,omitempty"`
	Signature      string             `json:"signature"`
	Status         model.SwapStatus   `json:"status"`
	InputAmount    uint64             `json:"input_amount"`
	OutputAmount   uint64             `json:"output_amount"`
	Timestamp      int64              `json:"timestamp"`
}

// SymbolResolver looks up a mint's human-readable symbol for chat-facing
// notifications. internal/token.Cache satisfies this without modification.
type SymbolResolver interface {
	Get(ctx context.Context, mint string) (token.Info, error)
}

// Notifier publishes settlement outcomes onto the copy_settled topic.
type Notifier struct {
	bus     *bus.Bus
	symbols SymbolResolver // nil disables symbol enrichment
}

func New(b *bus.Bus) *Notifier {
	return &Notifier{bus: b}
}

// WithSymbolResolver enables best-effort symbol enrichment on every
// published event; a lookup failure never blocks the notification.
func (n *Notifier) WithSymbolResolver(resolver SymbolResolver) *Notifier {
	n.symbols = resolver
	return n
}

// Notify publishes one CopySettled event, idempotency-keyed on the
// signature so a settlement retried through the pipeline never produces a
// duplicate notification.
func (n *Notifier) Notify(ctx context.Context, sub *model.Subscription, mint string, record *model.SwapRecord) error {
	event := CopySettled{
		SubscriptionPK: sub.PK,
		FollowerChat:   sub.FollowerChat,
		LeaderAlias:    sub.LeaderAlias,
		Direction:      record.Direction,
		Mint:           mint,
		Signature:      record.Signature,
		Status:         record.Status,
		InputAmount:    record.InputAmount,
		OutputAmount:   record.OutputAmount,
		Timestamp:      record.Timestamp,
	}
	if n.symbols != nil {
		if info, err := n.symbols.Get(ctx, mint); err == nil {
			event.Symbol = info.Symbol
		} else {
			log.Debug().Err(err).Str("mint", mint).Msg("symbol lookup failed, notifying without it")
		}
	}
	return bus.Publish(ctx, n.bus, bus.TopicCopySettled, record.Signature, event)
}
