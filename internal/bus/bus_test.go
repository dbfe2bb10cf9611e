package bus

import (
	"context"
	"sync"
	"testing"
	"time"
)

// memStore is an in-memory Store fake for testing the channel fan-out and
// offset/replay semantics without a real sqlite file.
type memStore struct {
	mu      sync.Mutex
	rows    []OutboxRow
	seen    map[string]int64 // topic|key -> id
	offsets map[string]int64 // topic|group -> id
	nextID  int64
}

func newMemStore() *memStore {
	return &memStore{seen: make(map[string]int64), offsets: make(map[string]int64)}
}

func (m *memStore) AppendOutbox(topic, key string, payload []byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := topic + "|" + key
	if id, ok := m.seen[k]; ok {
		return id, nil
	}
	m.nextID++
	id := m.nextID
	m.seen[k] = id
	m.rows = append(m.rows, OutboxRow{ID: id, Topic: topic, IdempotencyKey: key, Payload: payload})
	return id, nil
}

func (m *memStore) OutboxAfter(topic string, afterID int64, limit int) ([]OutboxRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []OutboxRow
	for _, r := range m.rows {
		if r.Topic == topic && r.ID > afterID {
			out = append(out, r)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memStore) GetOffset(topic, group string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offsets[topic+"|"+group], nil
}

func (m *memStore) SetOffset(topic, group string, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offsets[topic+"|"+group] = id
	return nil
}

func TestPublishSubscribeDelivers(t *testing.T) {
	store := newMemStore()
	b := New(store, 8)
	ch := b.Subscribe(TopicLeaderTx, "ingress")

	if err := Publish(context.Background(), b, TopicLeaderTx, "key-1", map[string]string{"mint": "abc"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case row := <-ch:
		if row.Topic != TopicLeaderTx {
			t.Errorf("unexpected topic: %s", row.Topic)
		}
	case <-time.After(time.Second):
		t.Fatal("expected message on subscriber channel")
	}
}

func TestPublishIdempotentKeyIsNoOp(t *testing.T) {
	store := newMemStore()
	b := New(store, 8)

	if err := Publish(context.Background(), b, TopicSwapSettled, "dup-key", "a"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := Publish(context.Background(), b, TopicSwapSettled, "dup-key", "b"); err != nil {
		t.Fatalf("Publish (dup): %v", err)
	}
	rows, _ := store.OutboxAfter(TopicSwapSettled, 0, 10)
	if len(rows) != 1 {
		t.Errorf("expected one outbox row for duplicate idempotency key, got %d", len(rows))
	}
}

func TestRecoverReplaysUnacked(t *testing.T) {
	store := newMemStore()
	b := New(store, 8)
	ch := b.Subscribe(TopicFollowerSwap, "executor")

	// Publish before the subscriber drains, simulating a crash: the message
	// lands in the outbox but is never Acked.
	if err := Publish(context.Background(), b, TopicFollowerSwap, "", "payload-1"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	<-ch // drain live delivery, but do not Ack

	n, err := b.Recover(context.Background(), TopicFollowerSwap, "executor", 10)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row replayed, got %d", n)
	}

	select {
	case row := <-ch:
		if err := b.Ack(TopicFollowerSwap, "executor", row.ID); err != nil {
			t.Fatalf("Ack: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected replayed message on channel")
	}

	n, err = b.Recover(context.Background(), TopicFollowerSwap, "executor", 10)
	if err != nil {
		t.Fatalf("Recover (post-ack): %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no further replay after ack, got %d", n)
	}
}
