package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"copytrade-engine/internal/admission"
	"copytrade-engine/internal/bus"
	"copytrade-engine/internal/executor"
	"copytrade-engine/internal/ingress"
	"copytrade-engine/internal/ledger"
	"copytrade-engine/internal/lock"
	"copytrade-engine/internal/model"
	"copytrade-engine/internal/notifier"
	"copytrade-engine/internal/route"
	"copytrade-engine/internal/settlement"
	"copytrade-engine/internal/shaper"
	"copytrade-engine/internal/store"
)

// fakeSlippage satisfies shaper.SlippageSource with fixed values, mirroring
// the shaper package's own test fake.
type fakeSlippage struct{}

func (fakeSlippage) SandwichSlippageBps(ctx context.Context, followerWallet string) (int, error) {
	return 500, nil
}

func (fakeSlippage) AutoSlippageBps(ctx context.Context, inputMint, outputMint string, amount uint64) (int, error) {
	return 500, nil
}

// fakeSigner satisfies route.Signer.
type fakeSigner struct{ address string }

func (s fakeSigner) Address() string          { return s.address }
func (s fakeSigner) Sign(msg []byte) []byte   { return make([]byte, 64) }

func (s fakeSigner) SignSerializedTransaction(serializedTxBase64 string) (string, error) {
	return serializedTxBase64, nil
}

// fakeAggregator satisfies route.AggregatorClient, always quoting 1:1 and
// returning a base64 transaction the fakeSigner round-trips unchanged.
type fakeAggregator struct{ outAmount uint64 }

func (f *fakeAggregator) Quote(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int, minOutFloor uint64) (route.Quote, error) {
	return route.Quote{OutAmount: f.outAmount}, nil
}

func (f *fakeAggregator) Swap(ctx context.Context, quote route.Quote, userPubkey string, fee route.PriorityFeeSpec) (string, error) {
	return "AQ==", nil
}

// fakeSubmitter satisfies executor.Submitter, always succeeding with a
// fixed signature.
type fakeSubmitter struct{ signature string }

func (f *fakeSubmitter) SendTransaction(ctx context.Context, signedTxBase64 string, skipPreflight bool) (string, error) {
	return f.signature, nil
}

// fakeStatusChecker satisfies settlement.StatusChecker, confirming
// immediately with no on-chain error.
type fakeStatusChecker struct{}

func (fakeStatusChecker) GetSignatureStatus(ctx context.Context, signature string) (*settlement.SignatureStatus, error) {
	return &settlement.SignatureStatus{Confirmed: true, Slot: 42}, nil
}

// fakeAnalyzer satisfies settlement.Analyzer with a fixed delta: the
// follower spent exactly what it quoted and received the quoted output.
type fakeAnalyzer struct {
	solSpent    int64
	tokensGot   int64
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, signature, userAccount, mint string) (settlement.Delta, error) {
	return settlement.Delta{SwapSolChange: -f.solSpent, TokenChange: f.tokensGot}, nil
}

func newTestEngine(t *testing.T, aggOut uint64, analyzer *fakeAnalyzer) (*Engine, *store.DB, *bus.Bus) {
	t.Helper()
	db, err := store.NewDB(filepath.Join(t.TempDir(), "engine.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	b := bus.New(db, 64)
	locks := lock.NewKeyedMutex()

	admissionFilter := admission.New(db, locks, func() int64 { return time.Now().Unix() })
	shaperStage := shaper.New(fakeSlippage{})

	signer := fakeSigner{address: "Follower1"}
	aggBuilder := route.NewAggregatorBuilder(&fakeAggregator{outAmount: aggOut}, signer)
	registry := route.NewRegistry(3, "BondingCurveProgram", "ConstantProductProgram", aggBuilder)
	executorStage := executor.New(registry, signer, &fakeSubmitter{signature: "sig-e2e"}, 3, true)

	settlementStage := settlement.New(fakeStatusChecker{}, analyzer, db, 5, 5, 1)

	ledgerStage := ledger.New(db, locks)
	notifierStage := notifier.New(b)

	e := New(admissionFilter, shaperStage, executorStage, settlementStage, ledgerStage, notifierStage, db)
	return e, db, b
}

func TestEngineProcessesFirstBuyEndToEnd(t *testing.T) {
	e, db, b := newTestEngine(t, 2_000_000, &fakeAnalyzer{solSpent: 1_000_000_000, tokensGot: 1_800_000})

	sub := &model.Subscription{
		LeaderWallet: "Leader1",
		FollowerWallet: "Follower1",
		FollowerChat:   1,
		Active:         true,
		AutoBuy:        true,
		AutoSell:       true,
		FilterMinBuy:   100_000_000,
		MaxBuyTimes:    5,
		MaxPosition:    10_000_000_000,
		AutoBuyRatio:   100,
		MinSellRatio:   0.02,
		MinBuySol:      10_000_000,
		MaxBuySol:      5_000_000_000,
	}
	pk, err := db.UpsertSubscription(sub)
	if err != nil {
		t.Fatalf("UpsertSubscription: %v", err)
	}
	sub.PK = pk

	ev := &model.LeaderTxEvent{
		LeaderWallet: "Leader1",
		Mint:         "Mint1",
		Direction:    model.Buy,
		FromAmount:   1_000_000_000,
		FromDecimals: 9,
		ToAmount:     2_000_000,
		ToDecimals:   6,
		Timestamp:    time.Now().Unix(),
		TxType:       model.TxOpen,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	e.Submit(ctx, ingress.Candidate{Subscription: sub, Event: ev, SellFraction: 0})

	// Submit is async (per-subscription worker); drain the copy_settled
	// topic, which only gets published after the whole pipeline commits.
	ch := b.Subscribe(bus.TopicCopySettled, "test")
	select {
	case row := <-ch:
		if row.Topic != bus.TopicCopySettled {
			t.Fatalf("unexpected topic %s", row.Topic)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for copy_settled notification")
	}

	holding, err := db.GetHolding("Leader1", "Mint1", pk)
	if err != nil {
		t.Fatalf("GetHolding: %v", err)
	}
	if holding == nil {
		t.Fatal("expected a holding to have been created")
	}
	if holding.MyAmount != 1_800_000 {
		t.Fatalf("expected MyAmount 1_800_000, got %d", holding.MyAmount)
	}

	refreshed, err := db.GetSubscription(pk)
	if err != nil {
		t.Fatalf("GetSubscription: %v", err)
	}
	if refreshed.CurrentPosition != 1_000_000_000 {
		t.Fatalf("expected CurrentPosition 1_000_000_000, got %d", refreshed.CurrentPosition)
	}
}

func TestEngineIncrementsFailedTimesOnSlippageFloorViolation(t *testing.T) {
	// Quoting far below the target-price floor trips ErrSlippageFloorViolated
	// inside the aggregator builder, which the Registry retries and then
	// gives up on as ErrBuildFailed -- failed_times should bump once, no
	// holding should be created.
	e, db, _ := newTestEngine(t, 1, &fakeAnalyzer{})

	sub := &model.Subscription{
		LeaderWallet:   "Leader1",
		FollowerWallet: "Follower1",
		FollowerChat:   1,
		Active:         true,
		AutoBuy:        true,
		FilterMinBuy:   100_000_000,
		MaxBuyTimes:    5,
		MaxPosition:    10_000_000_000,
		AutoBuyRatio:   100,
		MinBuySol:      10_000_000,
		MaxBuySol:      5_000_000_000,
	}
	pk, err := db.UpsertSubscription(sub)
	if err != nil {
		t.Fatalf("UpsertSubscription: %v", err)
	}
	sub.PK = pk

	ev := &model.LeaderTxEvent{
		LeaderWallet: "Leader1",
		Mint:         "Mint1",
		Direction:    model.Buy,
		FromAmount:   1_000_000_000,
		FromDecimals: 9,
		ToAmount:     2_000_000,
		ToDecimals:   6,
		Timestamp:    time.Now().Unix(),
		TxType:       model.TxOpen,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	e.Submit(ctx, ingress.Candidate{Subscription: sub, Event: ev, SellFraction: 0})

	// Wait for the worker to process; with no bus event to block on, poll
	// failed_times briefly instead.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		refreshed, err := db.GetSubscription(pk)
		if err != nil {
			t.Fatalf("GetSubscription: %v", err)
		}
		if refreshed.FailedTimes > 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("expected failed_times to be incremented after a build failure")
}
