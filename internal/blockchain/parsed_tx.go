package blockchain

import (
	"context"
	"encoding/json"

	"copytrade-engine/internal/settlement"
)

// GetParsedTransaction fetches a confirmed transaction with jsonParsed
// encoding and reduces it to the token/native transfer shape the Settlement
// Processor's analyzer needs (spec.md §6's get_parsed_transaction). Unlike a
// Helius-style enriched fetch, this walks the standard Solana RPC
// getTransaction response (top-level instructions plus meta.innerInstructions)
// for parsed "transfer"/"transferChecked" instructions, using the same
// call() dispatch every other RPCClient method goes through.
func (c *RPCClient) GetParsedTransaction(ctx context.Context, signature string) (*settlement.ParsedTransaction, error) {
	req := RPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getTransaction",
		Params: []interface{}{
			signature,
			map[string]interface{}{
				"encoding":                       "jsonParsed",
				"commitment":                     "confirmed",
				"maxSupportedTransactionVersion": 0,
			},
		},
	}

	var raw rawParsedTransaction
	if err := c.call(ctx, req, &raw); err != nil {
		return nil, err
	}

	out := &settlement.ParsedTransaction{
		Fee:       raw.Meta.Fee,
		Slot:      raw.Slot,
		Timestamp: raw.BlockTime,
		Type:      "SWAP",
	}

	var allInstructions []rawParsedInstruction
	allInstructions = append(allInstructions, raw.Transaction.Message.Instructions...)
	for _, inner := range raw.Meta.InnerInstructions {
		allInstructions = append(allInstructions, inner.Instructions...)
	}

	for _, ix := range allInstructions {
		if ix.Parsed == nil {
			continue
		}
		switch ix.Program {
		case "system":
			if ix.Parsed.Type != "transfer" {
				continue
			}
			out.NativeTransfers = append(out.NativeTransfers, settlement.NativeTransfer{
				FromUserAccount: ix.Parsed.Info.Source,
				ToUserAccount:   ix.Parsed.Info.Destination,
				Amount:          ix.Parsed.Info.Lamports,
			})
		case "spl-token":
			switch ix.Parsed.Type {
			case "transfer", "transferChecked":
				amount := ix.Parsed.Info.Amount
				if amount == "" && ix.Parsed.Info.TokenAmount != nil {
					amount = ix.Parsed.Info.TokenAmount.Amount
				}
				amt, _ := parseUint(amount)
				mint := ix.Parsed.Info.Mint
				out.TokenTransfers = append(out.TokenTransfers, settlement.TokenTransfer{
					FromUserAccount: ix.Parsed.Info.Authority,
					ToUserAccount:   tokenAccountOwner(raw, ix.Parsed.Info.Destination),
					Mint:            mint,
					Amount:          amt,
				})
			}
		}
	}

	return out, nil
}

// tokenAccountOwner resolves a token-account pubkey to its owning wallet via
// the transaction's postTokenBalances, the same way Helius' enriched API
// reports a transfer's "toUserAccount" as a wallet rather than a token
// account.
func tokenAccountOwner(raw rawParsedTransaction, tokenAccount string) string {
	for i, acct := range raw.Transaction.Message.AccountKeys {
		if acct.Pubkey == tokenAccount {
			for _, bal := range raw.Meta.PostTokenBalances {
				if bal.AccountIndex == i {
					return bal.Owner
				}
			}
		}
	}
	return tokenAccount
}

func parseUint(s string) (uint64, error) {
	var v uint64
	if s == "" {
		return 0, nil
	}
	if err := json.Unmarshal([]byte(`"`+s+`"`), &v); err == nil {
		return v, nil
	}
	return 0, nil
}

type rawParsedTransaction struct {
	Slot        uint64 `json:"slot"`
	BlockTime   int64  `json:"blockTime"`
	Transaction struct {
		Message struct {
			AccountKeys  []rawAccountKey        `json:"accountKeys"`
			Instructions []rawParsedInstruction `json:"instructions"`
		} `json:"message"`
	} `json:"transaction"`
	Meta struct {
		Fee               uint64                  `json:"fee"`
		InnerInstructions []rawInnerInstructionSet `json:"innerInstructions"`
		PostTokenBalances []rawTokenBalance        `json:"postTokenBalances"`
	} `json:"meta"`
}

type rawAccountKey struct {
	Pubkey string `json:"pubkey"`
}

type rawInnerInstructionSet struct {
	Index        int                    `json:"index"`
	Instructions []rawParsedInstruction `json:"instructions"`
}

type rawParsedInstruction struct {
	Program string                `json:"program"`
	Parsed  *rawParsedInstrBody   `json:"parsed"`
}

type rawParsedInstrBody struct {
	Type string          `json:"type"`
	Info rawParsedInfo   `json:"info"`
}

type rawParsedInfo struct {
	Source      string          `json:"source"`
	Destination string          `json:"destination"`
	Lamports    uint64          `json:"lamports"`
	Authority   string          `json:"authority"`
	Mint        string          `json:"mint"`
	Amount      string          `json:"amount"`
	TokenAmount *rawTokenAmount `json:"tokenAmount"`
}

type rawTokenAmount struct {
	Amount string `json:"amount"`
}

type rawTokenBalance struct {
	AccountIndex int    `json:"accountIndex"`
	Owner        string `json:"owner"`
	Mint         string `json:"mint"`
}
