package blockchain

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	solana "github.com/gagliardetto/solana-go"

	"copytrade-engine/internal/route"
)

// Pump.fun program and seed constants, grounded on original_source's
// solbot_common/constants.py and utils.get_bonding_curve_account /
// get_global_account (PDA derivation) and the IDL's BondingCurve account
// layout (discriminator + five u64 fields + a bool).
const (
	PumpFunProgramID = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"

	bondingCurveSeed = "bonding-curve"
	globalSeed       = "global"

	bondingCurveAccountLen = 8 + 8*5 + 1
)

// BondingCurveAccount mirrors the pump.fun BondingCurve account's on-chain
// layout, decoded straight off getAccountInfo.
type BondingCurveAccount struct {
	VirtualTokenReserves uint64
	VirtualSolReserves   uint64
	RealTokenReserves    uint64
	RealSolReserves      uint64
	TokenTotalSupply     uint64
	Complete             bool
}

// globalAccount mirrors pump.fun's Global account, only as far as the
// fee_recipient field the swap instruction's account list needs.
type globalAccount struct {
	FeeRecipient solana.PublicKey
}

// BondingCurveSource implements route.BondingCurveSource against live
// pump.fun accounts, grounded on original_source's
// trading/transaction/builders/pump.py: bonding_curve and
// associated_bonding_curve are derived from the mint, fee_recipient comes off
// the (also PDA-derived) global account, the event authority is its own
// program PDA, and the associated user token account is the ordinary ATA.
type BondingCurveSource struct {
	rpc       *RPCClient
	programID solana.PublicKey
}

func NewBondingCurveSource(rpc *RPCClient) (*BondingCurveSource, error) {
	programID, err := solana.PublicKeyFromBase58(PumpFunProgramID)
	if err != nil {
		return nil, fmt.Errorf("parse pump.fun program id: %w", err)
	}
	return &BondingCurveSource{rpc: rpc, programID: programID}, nil
}

var _ route.BondingCurveSource = (*BondingCurveSource)(nil)

// GetReserves fetches and decodes the mint's bonding-curve account.
func (s *BondingCurveSource) GetReserves(ctx context.Context, mint string) (virtualSolReserves, virtualTokenReserves uint64, err error) {
	mintPK, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return 0, 0, fmt.Errorf("parse mint: %w", err)
	}

	bondingCurve, _, err := solana.FindProgramAddress([][]byte{[]byte(bondingCurveSeed), mintPK.Bytes()}, s.programID)
	if err != nil {
		return 0, 0, fmt.Errorf("derive bonding curve pda: %w", err)
	}

	account, err := s.getBondingCurveAccount(ctx, bondingCurve)
	if err != nil {
		return 0, 0, err
	}
	return account.VirtualSolReserves, account.VirtualTokenReserves, nil
}

// GetAccounts resolves the full PDA/account set a bonding-curve swap
// instruction references for mint, on behalf of owner.
func (s *BondingCurveSource) GetAccounts(ctx context.Context, mint, owner string) (route.BondingCurveAccounts, error) {
	mintPK, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return route.BondingCurveAccounts{}, fmt.Errorf("parse mint: %w", err)
	}
	ownerPK, err := solana.PublicKeyFromBase58(owner)
	if err != nil {
		return route.BondingCurveAccounts{}, fmt.Errorf("parse owner: %w", err)
	}

	bondingCurve, _, err := solana.FindProgramAddress([][]byte{[]byte(bondingCurveSeed), mintPK.Bytes()}, s.programID)
	if err != nil {
		return route.BondingCurveAccounts{}, fmt.Errorf("derive bonding curve pda: %w", err)
	}
	associatedBondingCurve, _, err := solana.FindAssociatedTokenAddress(bondingCurve, mintPK)
	if err != nil {
		return route.BondingCurveAccounts{}, fmt.Errorf("derive associated bonding curve ata: %w", err)
	}
	global, _, err := solana.FindProgramAddress([][]byte{[]byte(globalSeed)}, s.programID)
	if err != nil {
		return route.BondingCurveAccounts{}, fmt.Errorf("derive global pda: %w", err)
	}
	eventAuthority, _, err := solana.FindProgramAddress([][]byte{[]byte("__event_authority")}, s.programID)
	if err != nil {
		return route.BondingCurveAccounts{}, fmt.Errorf("derive event authority pda: %w", err)
	}

	g, err := s.getGlobalAccount(ctx, global)
	if err != nil {
		return route.BondingCurveAccounts{}, err
	}

	userATA, _, err := solana.FindAssociatedTokenAddress(ownerPK, mintPK)
	if err != nil {
		return route.BondingCurveAccounts{}, fmt.Errorf("derive user ata: %w", err)
	}

	return route.BondingCurveAccounts{
		BondingCurve:           bondingCurve.String(),
		AssociatedBondingCurve: associatedBondingCurve.String(),
		FeeRecipient:           g.FeeRecipient.String(),
		Global:                 global.String(),
		EventAuthority:         eventAuthority.String(),
		UserATA:                userATA.String(),
	}, nil
}

func (s *BondingCurveSource) getBondingCurveAccount(ctx context.Context, addr solana.PublicKey) (*BondingCurveAccount, error) {
	data, err := s.getAccountData(ctx, addr.String())
	if err != nil {
		return nil, err
	}
	if len(data) < bondingCurveAccountLen {
		return nil, fmt.Errorf("bonding curve account %s: short read (%d bytes)", addr, len(data))
	}

	body := data[8:]
	return &BondingCurveAccount{
		VirtualTokenReserves: binary.LittleEndian.Uint64(body[0:8]),
		VirtualSolReserves:   binary.LittleEndian.Uint64(body[8:16]),
		RealTokenReserves:    binary.LittleEndian.Uint64(body[16:24]),
		RealSolReserves:      binary.LittleEndian.Uint64(body[24:32]),
		TokenTotalSupply:     binary.LittleEndian.Uint64(body[32:40]),
		Complete:             body[40] != 0,
	}, nil
}

// getGlobalAccount decodes only the fee_recipient field off pump.fun's
// Global account: discriminator(8) + initialized(1) + authority(32) +
// fee_recipient(32) + ... -- the rest of the layout isn't needed here.
func (s *BondingCurveSource) getGlobalAccount(ctx context.Context, addr solana.PublicKey) (*globalAccount, error) {
	data, err := s.getAccountData(ctx, addr.String())
	if err != nil {
		return nil, err
	}
	const feeRecipientOffset = 8 + 1 + 32
	if len(data) < feeRecipientOffset+32 {
		return nil, fmt.Errorf("global account %s: short read (%d bytes)", addr, len(data))
	}
	return &globalAccount{FeeRecipient: solana.PublicKeyFromBytes(data[feeRecipientOffset : feeRecipientOffset+32])}, nil
}

func (s *BondingCurveSource) getAccountData(ctx context.Context, address string) ([]byte, error) {
	req := RPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getAccountInfo",
		Params: []interface{}{
			address,
			map[string]interface{}{"encoding": "base64", "commitment": "confirmed"},
		},
	}

	var result struct {
		Value *struct {
			Data []string `json:"data"`
		} `json:"value"`
	}
	if err := s.rpc.call(ctx, req, &result); err != nil {
		return nil, fmt.Errorf("getAccountInfo %s: %w", address, err)
	}
	if result.Value == nil || len(result.Value.Data) == 0 {
		return nil, fmt.Errorf("account %s not found", address)
	}
	data, err := base64.StdEncoding.DecodeString(result.Value.Data[0])
	if err != nil {
		return nil, fmt.Errorf("decode account data: %w", err)
	}
	return data, nil
}
