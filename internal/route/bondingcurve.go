package route

import (
	"context"
	"crypto/sha256"
	"encoding/binary"

	"copytrade-engine/internal/model"
)

// Well-known Solana program/sysvar addresses referenced by the bonding-curve
// instruction's account list.
const (
	systemProgramID          = "11111111111111111111111111111111"
	tokenProgramID            = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	rentSysvarID              = "SysvarRent111111111111111111111111111111111"
	associatedTokenProgramID  = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
)

// sellForcedSlippageBps is pump.py's hardcoded "get-me-out" sell slippage,
// independent of whatever slippage the caller requested.
const sellForcedSlippageBps = 9900

// BondingCurveAccounts are the PDAs and token accounts a bonding-curve swap
// instruction references, resolved by an external collaborator (account
// derivation isn't pure arithmetic: it depends on on-chain PDA seeds and ATA
// existence checks, exactly as original_source's get_bonding_curve_account/
// get_global_account/has_ata helpers do).
type BondingCurveAccounts struct {
	BondingCurve           string
	AssociatedBondingCurve string
	FeeRecipient           string
	Global                 string
	EventAuthority         string
	UserATA                string
}

// BondingCurveSource supplies the live reserves and account set for a mint's
// bonding curve.
type BondingCurveSource interface {
	GetReserves(ctx context.Context, mint string) (virtualSolReserves, virtualTokenReserves uint64, err error)
	GetAccounts(ctx context.Context, mint, owner string) (BondingCurveAccounts, error)
}

// BondingCurveBuilder builds swaps against the bonding-curve AMM, grounded
// on original_source's builders/pump.py reserve math and account layout.
type BondingCurveBuilder struct {
	source           BondingCurveSource
	blockhash        BlockhashSource
	programID        string
	computeUnitLimit uint32
}

func NewBondingCurveBuilder(source BondingCurveSource, blockhash BlockhashSource, programID string) *BondingCurveBuilder {
	return &BondingCurveBuilder{source: source, blockhash: blockhash, programID: programID, computeUnitLimit: 200_000}
}

func (b *BondingCurveBuilder) Route() model.Route { return model.RouteBondingCurve }

func (b *BondingCurveBuilder) Build(ctx context.Context, signer Signer, swap *model.FollowerSwap, flags RuntimeFlags) (*BuildResult, error) {
	mint := swap.OutputMint
	if swap.Direction == model.Sell {
		mint = swap.InputMint
	}

	vSol, vToken, err := b.source.GetReserves(ctx, mint)
	if err != nil {
		return nil, model.PipelineError{Kind: model.ErrRouteUnavailable, Msg: err.Error()}
	}
	if vSol == 0 || vToken == 0 {
		return nil, model.PipelineError{Kind: model.ErrRouteUnavailable, Msg: "bonding curve has zero reserves"}
	}
	accts, err := b.source.GetAccounts(ctx, mint, signer.Address())
	if err != nil {
		return nil, model.PipelineError{Kind: model.ErrRouteUnavailable, Msg: err.Error()}
	}

	priorityFee := swap.PriorityFee
	if flags.PriorityFee != 0 {
		priorityFee = flags.PriorityFee
	}

	var methodName string
	var tokenAmount, solThreshold, quotedOut uint64

	switch swap.Direction {
	case model.Buy:
		methodName = "buy"
		tokenAmount = swap.Amount * vToken / vSol
		if swap.MinOutFloor > 0 {
			if tokenAmount < swap.MinOutFloor {
				return nil, model.PipelineError{Kind: model.ErrSlippageFloorViolated, Msg: "quoted token output below target-price floor"}
			}
			tokenAmount = swap.MinOutFloor
		}
		solThreshold = addSlippage(swap.Amount, swap.SlippageBps)
		quotedOut = tokenAmount
	case model.Sell:
		methodName = "sell"
		solOut := swap.Amount * vSol / vToken
		solThreshold = subSlippage(solOut, sellForcedSlippageBps)
		tokenAmount = swap.Amount
		quotedOut = solOut
	default:
		return nil, model.PipelineError{Kind: model.ErrBuildFailed, Msg: "unknown swap direction"}
	}

	data := encodeSwapArgs(methodName, tokenAmount, solThreshold)
	accounts := bondingCurveAccountList(swap.Direction, mint, accts, signer.Address())

	raw, err := assembleTransaction(signer, b.blockhash, b.programID, accounts, data, b.computeUnitLimit, priorityFee)
	if err != nil {
		return nil, model.PipelineError{Kind: model.ErrBuildFailed, Msg: err.Error()}
	}
	return &BuildResult{SignedTransaction: raw, QuotedOut: quotedOut}, nil
}

// bondingCurveAccountList lays out accounts per original_source's
// builders/pump.py input_accounts dict for each direction; the sell path
// additionally lists the associated-token-program per that builder's
// accounts map.
func bondingCurveAccountList(direction model.SwapDirection, mint string, accts BondingCurveAccounts, owner string) []account {
	base := []account{
		{pubkey: accts.FeeRecipient, isWritable: true},
		{pubkey: mint},
		{pubkey: accts.BondingCurve, isWritable: true},
		{pubkey: accts.AssociatedBondingCurve, isWritable: true},
		{pubkey: accts.UserATA, isWritable: true},
		{pubkey: owner, isSigner: true, isWritable: true},
		{pubkey: accts.Global},
		{pubkey: systemProgramID},
		{pubkey: tokenProgramID},
	}
	if direction == model.Sell {
		base = append(base, account{pubkey: associatedTokenProgramID})
	}
	base = append(base,
		account{pubkey: rentSysvarID},
		account{pubkey: accts.EventAuthority},
	)
	return base
}

// addSlippage/subSlippage mirror original_source's
// trading.utils.max_amount_with_slippage / min_amount_with_slippage.
func addSlippage(amount uint64, slippageBps int) uint64 {
	return amount + amount*uint64(slippageBps)/10000
}

func subSlippage(amount uint64, slippageBps int) uint64 {
	reduction := amount * uint64(slippageBps) / 10000
	if reduction > amount {
		return 0
	}
	return amount - reduction
}

// encodeSwapArgs lays out an Anchor-style instruction payload: an 8-byte
// sighash discriminator (sha256("global:<method>")[:8], the same scheme
// anchorpy computes for original_source's PumpFunInterface) followed by the
// two u64 little-endian arguments every pump-style buy/sell method takes.
func encodeSwapArgs(method string, tokenAmount, solThreshold uint64) []byte {
	disc := anchorDiscriminator(method)
	buf := make([]byte, 8+8+8)
	copy(buf[0:8], disc)
	binary.LittleEndian.PutUint64(buf[8:16], tokenAmount)
	binary.LittleEndian.PutUint64(buf[16:24], solThreshold)
	return buf
}

func anchorDiscriminator(method string) []byte {
	sum := sha256.Sum256([]byte("global:" + method))
	return sum[:8]
}
