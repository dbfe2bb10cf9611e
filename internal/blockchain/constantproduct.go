package blockchain

import (
	"context"
	"fmt"

	"copytrade-engine/internal/route"
	"copytrade-engine/internal/store"
)

// PoolRegistry is the State Store surface ConstantProductSource needs: a
// static per-(input,output) account set, administratively populated since
// there is no on-chain pool-discovery stage in this engine.
type PoolRegistry interface {
	GetPoolRegistry(inputMint, outputMint string) (*store.PoolRegistryEntry, error)
}

// ConstantProductSource implements route.ConstantProductSource by reading a
// pool's static accounts out of the registry and its live reserves off the
// two vault accounts via getTokenAccountBalance, the same RPC call
// BalanceTracker uses for a wallet's own token balance.
type ConstantProductSource struct {
	rpc      *RPCClient
	registry PoolRegistry
}

func NewConstantProductSource(rpc *RPCClient, registry PoolRegistry) *ConstantProductSource {
	return &ConstantProductSource{rpc: rpc, registry: registry}
}

var _ route.ConstantProductSource = (*ConstantProductSource)(nil)

func (s *ConstantProductSource) GetPool(ctx context.Context, inputMint, outputMint string) (route.ConstantProductPool, error) {
	entry, err := s.registry.GetPoolRegistry(inputMint, outputMint)
	if err != nil {
		return route.ConstantProductPool{}, fmt.Errorf("pool registry lookup: %w", err)
	}
	if entry == nil {
		return route.ConstantProductPool{}, fmt.Errorf("no registered pool for %s -> %s", inputMint, outputMint)
	}

	reserveIn, _, err := s.rpc.GetTokenAccountBalance(ctx, entry.VaultIn)
	if err != nil {
		return route.ConstantProductPool{}, fmt.Errorf("vault in balance: %w", err)
	}
	reserveOut, _, err := s.rpc.GetTokenAccountBalance(ctx, entry.VaultOut)
	if err != nil {
		return route.ConstantProductPool{}, fmt.Errorf("vault out balance: %w", err)
	}

	return route.ConstantProductPool{ReserveIn: reserveIn, ReserveOut: reserveOut, FeeBps: entry.FeeBps}, nil
}

func (s *ConstantProductSource) GetAccounts(ctx context.Context, inputMint, outputMint, owner string) (route.ConstantProductAccounts, error) {
	entry, err := s.registry.GetPoolRegistry(inputMint, outputMint)
	if err != nil {
		return route.ConstantProductAccounts{}, fmt.Errorf("pool registry lookup: %w", err)
	}
	if entry == nil {
		return route.ConstantProductAccounts{}, fmt.Errorf("no registered pool for %s -> %s", inputMint, outputMint)
	}

	return route.ConstantProductAccounts{
		PoolState:    entry.PoolState,
		VaultIn:      entry.VaultIn,
		VaultOut:     entry.VaultOut,
		UserATAIn:    entry.UserATAIn,
		UserATAOut:   entry.UserATAOut,
		AuthorityPDA: entry.AuthorityPDA,
	}, nil
}
