package route

import (
	"context"
	"encoding/base64"
	"fmt"

	"copytrade-engine/internal/model"
)

// Quote is an opaque aggregator quote plus the one field builders need to
// apply the target-price guard.
type Quote struct {
	OutAmount uint64
	Raw       any // passed back into Swap unmodified (e.g. Jupiter's QuoteResponse)
}

// PriorityFeeSpec mirrors spec.md §4.4: a normal submission expresses
// priority as {PriorityLevel, MaxLamports}; a bundle relay submission
// expresses it as {BundleTipLamports}. The two are mutually exclusive.
type PriorityFeeSpec struct {
	PriorityLevel     string
	MaxLamports       uint64
	BundleTipLamports uint64
}

// AggregatorClient is the external aggregator collaborator: quote, then
// swap. Grounded on internal/jupiter/client.go's GetQuote/GetSwapTransaction,
// generalized away from Jupiter-specific types. minOutFloor, when nonzero,
// is not just checked against the returned quote -- Quote itself tightens
// the slippage it requests from the aggregator so the floor is substituted
// into the request rather than only gated on afterward, mirroring how the
// bonding-curve builder clamps its exact instruction argument to the floor.
type AggregatorClient interface {
	Quote(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int, minOutFloor uint64) (Quote, error)
	Swap(ctx context.Context, quote Quote, userPubkey string, fee PriorityFeeSpec) (serializedTxBase64 string, err error)
}

// SerializedTxSigner signs an aggregator-supplied serialized transaction.
// blockchain.TransactionBuilder.SignSerializedTransaction satisfies this
// without modification.
type SerializedTxSigner interface {
	SignSerializedTransaction(serializedTxBase64 string) (string, error)
}

// AggregatorBuilder builds swaps via an external aggregator (quote ->
// swap_transaction -> sign), grounded directly on internal/jupiter/client.go.
type AggregatorBuilder struct {
	client AggregatorClient
	signer SerializedTxSigner
}

func NewAggregatorBuilder(client AggregatorClient, signer SerializedTxSigner) *AggregatorBuilder {
	return &AggregatorBuilder{client: client, signer: signer}
}

func (b *AggregatorBuilder) Route() model.Route { return model.RouteAggregator }

func (b *AggregatorBuilder) Build(ctx context.Context, signer Signer, swap *model.FollowerSwap, flags RuntimeFlags) (*BuildResult, error) {
	var minOutFloor uint64
	if swap.Direction == model.Buy {
		minOutFloor = swap.MinOutFloor
	}
	quote, err := b.client.Quote(ctx, swap.InputMint, swap.OutputMint, swap.Amount, swap.SlippageBps, minOutFloor)
	if err != nil {
		return nil, model.PipelineError{Kind: model.ErrRouteUnavailable, Msg: fmt.Sprintf("aggregator quote: %v", err)}
	}

	// Quote already tightened its requested slippage to try to guarantee
	// the floor; this still catches the case the floor is unreachable at
	// any slippage (the market quote itself falls short of it).
	if minOutFloor > 0 && quote.OutAmount < minOutFloor {
		return nil, model.PipelineError{Kind: model.ErrSlippageFloorViolated, Msg: "aggregator quote below target-price floor"}
	}

	priorityFee := swap.PriorityFee
	if flags.PriorityFee != 0 {
		priorityFee = flags.PriorityFee
	}
	var fee PriorityFeeSpec
	if flags.UseBundleRelay {
		fee = PriorityFeeSpec{BundleTipLamports: priorityFee}
	} else {
		fee = PriorityFeeSpec{PriorityLevel: "veryHigh", MaxLamports: priorityFee}
	}

	txBase64, err := b.client.Swap(ctx, quote, signer.Address(), fee)
	if err != nil {
		return nil, model.PipelineError{Kind: model.ErrBuildFailed, Msg: fmt.Sprintf("aggregator swap: %v", err)}
	}

	signedBase64, err := b.signer.SignSerializedTransaction(txBase64)
	if err != nil {
		return nil, model.PipelineError{Kind: model.ErrBuildFailed, Msg: fmt.Sprintf("sign aggregator transaction: %v", err)}
	}
	raw, err := base64.StdEncoding.DecodeString(signedBase64)
	if err != nil {
		return nil, model.PipelineError{Kind: model.ErrBuildFailed, Msg: fmt.Sprintf("decode signed transaction: %v", err)}
	}

	return &BuildResult{SignedTransaction: raw, QuotedOut: quote.OutAmount}, nil
}
