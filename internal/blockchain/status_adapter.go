package blockchain

import (
	"context"
	"encoding/json"

	"copytrade-engine/internal/settlement"
)

// GetSignatureStatus adapts CheckTransaction to the Settlement Processor's
// polling-collaborator shape (settlement.StatusChecker): NOT_FOUND/PENDING
// read as unconfirmed so the processor keeps polling, SUCCESS/FAILED as
// confirmed with or without an on-chain error.
func (c *RPCClient) GetSignatureStatus(ctx context.Context, signature string) (*settlement.SignatureStatus, error) {
	result, err := c.CheckTransaction(ctx, signature)
	if err != nil {
		return nil, err
	}

	switch result.Status {
	case "SUCCESS":
		return &settlement.SignatureStatus{Confirmed: true, Slot: result.Slot}, nil
	case "FAILED":
		errDetails, _ := json.Marshal(result.ErrorDetails)
		return &settlement.SignatureStatus{Confirmed: true, Slot: result.Slot, Err: string(errDetails)}, nil
	default:
		return &settlement.SignatureStatus{Confirmed: false}, nil
	}
}
