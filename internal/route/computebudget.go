package route

import (
	"encoding/binary"

	solana "github.com/gagliardetto/solana-go"
)

// computeBudgetProgramID matches blockchain.ComputeBudgetProgramID; kept as
// its own constant so this package doesn't need to import internal/blockchain
// just for one string.
const computeBudgetProgramID = "ComputeBudget111111111111111111111111111111"

// computeUnitLimitInstruction and computeUnitPriceInstruction reproduce the
// wire layout from the teacher's internal/blockchain/transaction.go
// BuildComputeBudgetInstructions (instruction-type byte + little-endian
// argument), now wrapped as a solana.Instruction so it composes with
// solana-go's TransactionBuilder instead of a hand-assembled byte slice.
func computeUnitLimitInstruction(limit uint32) solana.Instruction {
	data := make([]byte, 5)
	data[0] = 2 // SetComputeUnitLimit
	binary.LittleEndian.PutUint32(data[1:], limit)
	return solana.NewInstruction(mustProgramID(computeBudgetProgramID), solana.AccountMetaSlice{}, data)
}

func computeUnitPriceInstruction(computeUnitLimit uint32, priorityFeeLamports uint64) solana.Instruction {
	if computeUnitLimit == 0 {
		computeUnitLimit = 1
	}
	microLamportsPerCU := (priorityFeeLamports * 1_000_000) / uint64(computeUnitLimit)

	data := make([]byte, 9)
	data[0] = 3 // SetComputeUnitPrice
	binary.LittleEndian.PutUint64(data[1:], microLamportsPerCU)
	return solana.NewInstruction(mustProgramID(computeBudgetProgramID), solana.AccountMetaSlice{}, data)
}

func mustProgramID(id string) solana.PublicKey {
	pk, err := solana.PublicKeyFromBase58(id)
	if err != nil {
		panic("route: invalid hardcoded program id " + id)
	}
	return pk
}
