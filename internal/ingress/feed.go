package ingress

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"copytrade-engine/internal/bus"
	"copytrade-engine/internal/model"
)

// WSFeed is a fallback leader-feed transport: it dials a Shyft-style
// transaction-stream websocket directly and republishes parsed leader
// transactions onto the Event Bus's leader_tx topic, for deployments with
// no upstream collaborator posting to the httpapi webhook. Grounded on the
// reconnect-loop shape in the retrieval pack's websocket-feed workers
// (dial, read loop, reconnect with a fixed delay on any read/dial error)
// and the Shyft-URL construction the teacher's config.Manager already
// carries (GetShyftWSURL), which this feed is the first actual consumer of.
type WSFeed struct {
	bus              *bus.Bus
	url              string
	reconnectDelay   time.Duration
	pingInterval     time.Duration
}

// NewWSFeed builds a feed dialing url, publishing decoded events onto b.
func NewWSFeed(b *bus.Bus, url string, reconnectDelayMs, pingIntervalMs int) *WSFeed {
	if reconnectDelayMs <= 0 {
		reconnectDelayMs = 5000
	}
	if pingIntervalMs <= 0 {
		pingIntervalMs = 30000
	}
	return &WSFeed{
		bus:            b,
		url:            url,
		reconnectDelay: time.Duration(reconnectDelayMs) * time.Millisecond,
		pingInterval:   time.Duration(pingIntervalMs) * time.Millisecond,
	}
}

// shyftTxMessage is the subset of a Shyft transaction-stream notification
// this feed needs to build a model.LeaderTxEvent.
type shyftTxMessage struct {
	LeaderWallet    string `json:"leader_wallet"`
	Mint            string `json:"mint"`
	Direction       int    `json:"direction"`
	ProgramID       string `json:"program_id"`
	FromAmount      uint64 `json:"from_amount"`
	FromDecimals    uint8  `json:"from_decimals"`
	ToAmount        uint64 `json:"to_amount"`
	ToDecimals      uint8  `json:"to_decimals"`
	PreTokenAmount  uint64 `json:"pre_token_amount"`
	PostTokenAmount uint64 `json:"post_token_amount"`
	TxType          int    `json:"tx_type"`
	Timestamp       int64  `json:"timestamp"`
	Signature       string `json:"signature"`
}

// Run connects and republishes until ctx is cancelled, reconnecting on any
// dial or read error after reconnectDelay.
func (f *WSFeed) Run(ctx context.Context) error {
	if f.url == "" {
		log.Info().Msg("websocket feed url is empty, skipping fallback leader feed")
		return nil
	}
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := f.runOnce(ctx); err != nil {
			log.Warn().Err(err).Msg("leader feed websocket disconnected, reconnecting")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.reconnectDelay):
		}
	}
}

func (f *WSFeed) runOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	log.Info().Str("url", f.url).Msg("connected to leader feed websocket")

	done := make(chan struct{})
	go f.pingLoop(ctx, conn, done)
	defer close(done)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		f.handleMessage(ctx, message)
	}
}

func (f *WSFeed) pingLoop(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(f.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (f *WSFeed) handleMessage(ctx context.Context, raw []byte) {
	var msg shyftTxMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Warn().Err(err).Msg("failed to decode leader feed websocket message")
		return
	}
	if msg.LeaderWallet == "" || msg.Mint == "" {
		return
	}

	ev := model.LeaderTxEvent{
		LeaderWallet:    msg.LeaderWallet,
		Mint:            msg.Mint,
		Direction:       model.SwapDirection(msg.Direction),
		ProgramID:       msg.ProgramID,
		FromAmount:      msg.FromAmount,
		FromDecimals:    msg.FromDecimals,
		ToAmount:        msg.ToAmount,
		ToDecimals:      msg.ToDecimals,
		PreTokenAmount:  msg.PreTokenAmount,
		PostTokenAmount: msg.PostTokenAmount,
		TxType:          model.TxType(msg.TxType),
		Timestamp:       msg.Timestamp,
		Signature:       msg.Signature,
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().Unix()
	}

	idempotencyKey := ev.Signature
	if idempotencyKey == "" {
		idempotencyKey = ev.LeaderWallet + "-" + ev.Mint + "-" + time.Now().String()
	}
	if err := bus.Publish(ctx, f.bus, bus.TopicLeaderTx, idempotencyKey, &ev); err != nil {
		log.Error().Err(err).Str("leader", ev.LeaderWallet).Msg("failed to publish leader_tx from websocket feed")
	}
}
