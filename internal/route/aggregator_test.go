package route

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"copytrade-engine/internal/model"
)

type fakeAggClient struct {
	quote        Quote
	quoteErr     error
	swapTx       string
	swapErr      error
	gotFee       PriorityFeeSpec
	gotMinOut    uint64
	gotSlippage  int
}

func (f *fakeAggClient) Quote(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int, minOutFloor uint64) (Quote, error) {
	f.gotSlippage = slippageBps
	f.gotMinOut = minOutFloor
	return f.quote, f.quoteErr
}

func (f *fakeAggClient) Swap(ctx context.Context, quote Quote, userPubkey string, fee PriorityFeeSpec) (string, error) {
	f.gotFee = fee
	return f.swapTx, f.swapErr
}

type fakeTxSigner struct {
	signed string
	err    error
}

func (f *fakeTxSigner) SignSerializedTransaction(serializedTxBase64 string) (string, error) {
	return f.signed, f.err
}

func TestAggregatorBuild_HappyPath(t *testing.T) {
	raw := []byte{1, 2, 3, 4}
	signedB64 := base64.StdEncoding.EncodeToString(raw)
	client := &fakeAggClient{quote: Quote{OutAmount: 500_000}, swapTx: "unsigned-tx"}
	signer := &fakeTxSigner{signed: signedB64}
	b := NewAggregatorBuilder(client, signer)

	swap := &model.FollowerSwap{Direction: model.Buy, InputMint: "So11111111111111111111111111111111111111112", OutputMint: "Mint1", Amount: 1_000_000_000, SlippageBps: 500}
	res, err := b.Build(context.Background(), &fakeSigner{address: "11111111111111111111111111111111"}, swap, RuntimeFlags{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if res.QuotedOut != 500_000 {
		t.Errorf("expected quoted out 500000, got %d", res.QuotedOut)
	}
	if string(res.SignedTransaction) != string(raw) {
		t.Errorf("signed transaction mismatch")
	}
	if client.gotFee.PriorityLevel != "veryHigh" {
		t.Errorf("expected default priority level veryHigh, got %q", client.gotFee.PriorityLevel)
	}
}

func TestAggregatorBuild_BundleRelayUsesTipLamports(t *testing.T) {
	raw := []byte{9}
	client := &fakeAggClient{quote: Quote{OutAmount: 500_000}, swapTx: "unsigned-tx"}
	signer := &fakeTxSigner{signed: base64.StdEncoding.EncodeToString(raw)}
	b := NewAggregatorBuilder(client, signer)

	swap := &model.FollowerSwap{Direction: model.Buy, OutputMint: "Mint1", Amount: 1_000_000_000, SlippageBps: 500, PriorityFee: 7777}
	_, err := b.Build(context.Background(), &fakeSigner{address: "11111111111111111111111111111111"}, swap, RuntimeFlags{UseBundleRelay: true})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if client.gotFee.BundleTipLamports != 7777 {
		t.Errorf("expected bundle tip 7777, got %d", client.gotFee.BundleTipLamports)
	}
	if client.gotFee.PriorityLevel != "" {
		t.Errorf("expected no priority level set on bundle relay, got %q", client.gotFee.PriorityLevel)
	}
}

func TestAggregatorBuild_QuoteBelowFloorRejected(t *testing.T) {
	client := &fakeAggClient{quote: Quote{OutAmount: 100}}
	signer := &fakeTxSigner{}
	b := NewAggregatorBuilder(client, signer)

	swap := &model.FollowerSwap{Direction: model.Buy, OutputMint: "Mint1", Amount: 1_000_000_000, SlippageBps: 500, MinOutFloor: 999_999}
	_, err := b.Build(context.Background(), &fakeSigner{address: "11111111111111111111111111111111"}, swap, RuntimeFlags{})
	if err == nil {
		t.Fatal("expected floor violation error")
	}
	pe, ok := err.(model.PipelineError)
	if !ok || pe.Kind != model.ErrSlippageFloorViolated {
		t.Errorf("expected ErrSlippageFloorViolated, got %v", err)
	}
}

func TestAggregatorBuild_FloorThreadedIntoQuoteRequest(t *testing.T) {
	client := &fakeAggClient{quote: Quote{OutAmount: 500_000}, swapTx: "unsigned-tx"}
	signer := &fakeTxSigner{signed: base64.StdEncoding.EncodeToString([]byte{1})}
	b := NewAggregatorBuilder(client, signer)

	swap := &model.FollowerSwap{Direction: model.Buy, OutputMint: "Mint1", Amount: 1_000_000_000, SlippageBps: 500, MinOutFloor: 400_000}
	_, err := b.Build(context.Background(), &fakeSigner{address: "11111111111111111111111111111111"}, swap, RuntimeFlags{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if client.gotMinOut != 400_000 {
		t.Errorf("expected the floor to be forwarded into the quote request, got %d", client.gotMinOut)
	}
}

func TestAggregatorBuild_SellDoesNotForwardFloor(t *testing.T) {
	client := &fakeAggClient{quote: Quote{OutAmount: 500_000}, swapTx: "unsigned-tx"}
	signer := &fakeTxSigner{signed: base64.StdEncoding.EncodeToString([]byte{1})}
	b := NewAggregatorBuilder(client, signer)

	swap := &model.FollowerSwap{Direction: model.Sell, InputMint: "Mint1", Amount: 1_000_000_000, SlippageBps: 500, MinOutFloor: 400_000}
	_, err := b.Build(context.Background(), &fakeSigner{address: "11111111111111111111111111111111"}, swap, RuntimeFlags{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if client.gotMinOut != 0 {
		t.Errorf("expected no floor forwarded on a sell, got %d", client.gotMinOut)
	}
}

func TestAggregatorBuild_QuoteErrorWrapped(t *testing.T) {
	client := &fakeAggClient{quoteErr: errors.New("rpc down")}
	b := NewAggregatorBuilder(client, &fakeTxSigner{})
	swap := &model.FollowerSwap{Direction: model.Buy, OutputMint: "Mint1", Amount: 1_000_000_000, SlippageBps: 500}
	_, err := b.Build(context.Background(), &fakeSigner{address: "11111111111111111111111111111111"}, swap, RuntimeFlags{})
	pe, ok := err.(model.PipelineError)
	if !ok || pe.Kind != model.ErrRouteUnavailable {
		t.Errorf("expected ErrRouteUnavailable, got %v", err)
	}
}
