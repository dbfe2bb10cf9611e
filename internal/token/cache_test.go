package token

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeSource struct {
	calls int
	err   error
}

func (f *fakeSource) FetchTokenInfo(ctx context.Context, mint string) (string, uint8, string, error) {
	f.calls++
	if f.err != nil {
		return "", 0, "", f.err
	}
	return "PEPE", 6, "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA", nil
}

func TestCache_HotHitAvoidsSourceFetch(t *testing.T) {
	src := &fakeSource{}
	c := NewCache(time.Hour, src, nil)

	info1, err := c.Get(context.Background(), "Mint1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	info2, err := c.Get(context.Background(), "Mint1")
	if err != nil {
		t.Fatalf("Get (second): %v", err)
	}
	if info1 != info2 {
		t.Errorf("expected identical cached info, got %+v vs %+v", info1, info2)
	}
	if src.calls != 1 {
		t.Errorf("expected exactly 1 source fetch, got %d", src.calls)
	}
}

func TestCache_ExpiryTriggersRefetch(t *testing.T) {
	src := &fakeSource{}
	c := NewCache(time.Millisecond, src, nil)
	fixed := time.Now()
	c.now = func() time.Time { return fixed }

	if _, err := c.Get(context.Background(), "Mint1"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	c.now = func() time.Time { return fixed.Add(time.Hour) }
	if _, err := c.Get(context.Background(), "Mint1"); err != nil {
		t.Fatalf("Get after expiry: %v", err)
	}
	if src.calls != 2 {
		t.Errorf("expected 2 fetches across TTL expiry, got %d", src.calls)
	}
}

func TestCache_SourceErrorPropagates(t *testing.T) {
	src := &fakeSource{err: errors.New("rpc down")}
	c := NewCache(time.Hour, src, nil)
	if _, err := c.Get(context.Background(), "Mint1"); err == nil {
		t.Fatal("expected error from failing source")
	}
}

func TestIsMintAddress(t *testing.T) {
	if !IsMintAddress("So11111111111111111111111111111111111111112") {
		t.Error("expected wrapped-SOL mint to validate as mint address")
	}
	if IsMintAddress("not-base58!!") {
		t.Error("expected invalid characters to fail validation")
	}
}
