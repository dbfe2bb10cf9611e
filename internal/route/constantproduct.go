package route

import (
	"context"

	"copytrade-engine/internal/model"
)

// ConstantProductPool is a pool's current reserves and fee, on the (input,
// output) pairing a given swap observes them in.
type ConstantProductPool struct {
	ReserveIn  uint64
	ReserveOut uint64
	FeeBps     int
}

// ConstantProductAccounts are the pool/vault accounts a constant-product
// swap instruction references.
type ConstantProductAccounts struct {
	PoolState    string
	VaultIn      string
	VaultOut     string
	UserATAIn    string
	UserATAOut   string
	AuthorityPDA string
}

// ConstantProductSource supplies live reserves and accounts for a pool.
type ConstantProductSource interface {
	GetPool(ctx context.Context, inputMint, outputMint string) (ConstantProductPool, error)
	GetAccounts(ctx context.Context, inputMint, outputMint, owner string) (ConstantProductAccounts, error)
}

// ConstantProductBuilder builds direct-pool swaps against an x*y=k AMM.
// Kept as a structurally-analogous sibling of BondingCurveBuilder rather
// than delegated to the aggregator (spec.md §9 Open Question #3): same
// builder contract and account-assembly scaffolding, swap math replaced
// with the standard constant-product-with-fee formula since no pack repo
// carries a dedicated constant-product reference.
type ConstantProductBuilder struct {
	source           ConstantProductSource
	blockhash        BlockhashSource
	programID        string
	computeUnitLimit uint32
}

func NewConstantProductBuilder(source ConstantProductSource, blockhash BlockhashSource, programID string) *ConstantProductBuilder {
	return &ConstantProductBuilder{source: source, blockhash: blockhash, programID: programID, computeUnitLimit: 200_000}
}

func (b *ConstantProductBuilder) Route() model.Route { return model.RouteConstantProduct }

func (b *ConstantProductBuilder) Build(ctx context.Context, signer Signer, swap *model.FollowerSwap, flags RuntimeFlags) (*BuildResult, error) {
	pool, err := b.source.GetPool(ctx, swap.InputMint, swap.OutputMint)
	if err != nil {
		return nil, model.PipelineError{Kind: model.ErrRouteUnavailable, Msg: err.Error()}
	}
	if pool.ReserveIn == 0 || pool.ReserveOut == 0 {
		return nil, model.PipelineError{Kind: model.ErrRouteUnavailable, Msg: "pool has zero reserves"}
	}
	accts, err := b.source.GetAccounts(ctx, swap.InputMint, swap.OutputMint, signer.Address())
	if err != nil {
		return nil, model.PipelineError{Kind: model.ErrRouteUnavailable, Msg: err.Error()}
	}

	priorityFee := swap.PriorityFee
	if flags.PriorityFee != 0 {
		priorityFee = flags.PriorityFee
	}

	amountOut := constantProductAmountOut(swap.Amount, pool.ReserveIn, pool.ReserveOut, pool.FeeBps)

	slippageBps := swap.SlippageBps
	if swap.Direction == model.Sell {
		slippageBps = sellForcedSlippageBps
	}
	minOut := subSlippage(amountOut, slippageBps)

	if swap.Direction == model.Buy && swap.MinOutFloor > 0 {
		if amountOut < swap.MinOutFloor {
			return nil, model.PipelineError{Kind: model.ErrSlippageFloorViolated, Msg: "quoted output below target-price floor"}
		}
		minOut = swap.MinOutFloor
	}

	data := encodeCPSwapArgs(swap.Amount, minOut)
	accounts := []account{
		{pubkey: accts.PoolState, isWritable: true},
		{pubkey: accts.AuthorityPDA},
		{pubkey: accts.VaultIn, isWritable: true},
		{pubkey: accts.VaultOut, isWritable: true},
		{pubkey: accts.UserATAIn, isWritable: true},
		{pubkey: accts.UserATAOut, isWritable: true},
		{pubkey: signer.Address(), isSigner: true, isWritable: true},
		{pubkey: tokenProgramID},
	}

	raw, err := assembleTransaction(signer, b.blockhash, b.programID, accounts, data, b.computeUnitLimit, priorityFee)
	if err != nil {
		return nil, model.PipelineError{Kind: model.ErrBuildFailed, Msg: err.Error()}
	}
	return &BuildResult{SignedTransaction: raw, QuotedOut: amountOut}, nil
}

// constantProductAmountOut is the standard x*y=k swap-with-fee formula:
// amountIn is first reduced by the pool fee, then the constant-product
// invariant gives the output.
func constantProductAmountOut(amountIn, reserveIn, reserveOut uint64, feeBps int) uint64 {
	amountInAfterFee := amountIn - amountIn*uint64(feeBps)/10000
	return amountInAfterFee * reserveOut / (reserveIn + amountInAfterFee)
}

func encodeCPSwapArgs(amountIn, minimumOut uint64) []byte {
	return encodeSwapArgs("swap", amountIn, minimumOut)
}
