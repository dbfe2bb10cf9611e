// Package settlement is the Settlement Processor: given a just-submitted
// signature, it polls for a terminal on-chain status bounded by spec.md
// §4.6's rule (up to 10 attempts or 10 seconds of wall clock, whichever
// comes first, sleeping 500ms between attempts -- config.SettlementConfig's
// defaults), then on success asks the on-chain analyzer to derive actual
// SOL/token deltas, and writes exactly one SwapRecord per signature.
//
// The poll loop itself has no original_source counterpart to transliterate
// (original_source/src/trading/settlement/ only ships analyzer.py, no
// processor.py); it is built directly from spec.md §4.6's textual bound and
// the teacher's blockchain.RPCClient.GetSignatureStatuses polling idiom. The
// delta-attribution logic in Analyze is a direct port of analyzer.py's
// analyze_transaction loop over tokenTransfers/nativeTransfers.
package settlement

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"copytrade-engine/internal/model"
)

// WrappedSOLMint is the wrapped-SOL mint address every token-transfer delta
// is checked against.
const WrappedSOLMint = "So11111111111111111111111111111111111111112"

// SignatureStatus is the subset of an RPC signature-status response the
// poll loop needs.
type SignatureStatus struct {
	Confirmed bool
	Err       string // non-empty means the transaction landed but failed on-chain
	Slot      uint64
}

// StatusChecker is the RPC collaborator's confirmation-polling capability.
type StatusChecker interface {
	GetSignatureStatus(ctx context.Context, signature string) (*SignatureStatus, error)
}

// ParsedTransaction mirrors the external metadata collaborator's
// get_parsed_transaction shape (spec.md §6): fee/slot/timestamp/type plus
// the token and native transfers analyze_transaction attributes deltas from.
type ParsedTransaction struct {
	Fee             uint64
	Slot            uint64
	Timestamp       int64
	Type            string
	TokenTransfers  []TokenTransfer
	NativeTransfers []NativeTransfer
}

// TokenTransfer is one SPL token movement inside a parsed transaction, in
// raw base units.
type TokenTransfer struct {
	FromUserAccount string
	ToUserAccount   string
	Mint            string
	Amount          uint64
}

// NativeTransfer is one lamport movement inside a parsed transaction.
type NativeTransfer struct {
	FromUserAccount string
	ToUserAccount   string
	Amount          uint64
}

// TransactionFetcher is the external metadata collaborator's
// get_parsed_transaction capability.
type TransactionFetcher interface {
	GetParsedTransaction(ctx context.Context, signature string) (*ParsedTransaction, error)
}

// Delta is analyze_transaction's derived result: fee/slot/timestamp plus
// the SOL and token amounts attributable to the swap itself.
type Delta struct {
	Fee            uint64
	Slot           uint64
	Timestamp      int64
	SolChange      int64
	SwapSolChange  int64
	OtherSolChange int64
	TokenChange    int64 // positive: user received; negative: user spent
}

// Analyzer derives a Delta for one settled signature.
type Analyzer interface {
	Analyze(ctx context.Context, signature, userAccount, mint string) (Delta, error)
}

// TxAnalyzer is the concrete on-chain analyzer, grounded on
// original_source's TransactionAnalyzer.analyze_transaction.
type TxAnalyzer struct {
	fetcher TransactionFetcher
}

func NewTxAnalyzer(fetcher TransactionFetcher) *TxAnalyzer {
	return &TxAnalyzer{fetcher: fetcher}
}

// Analyze fetches the parsed transaction and attributes deltas exactly as
// analyzer.py's tokenTransfers/nativeTransfers loop does: a buy spends
// wrapped SOL and receives mint, a sell spends mint and receives wrapped
// SOL, and any other native-lamport movement (fees, rent) falls out as
// other_sol_change.
func (a *TxAnalyzer) Analyze(ctx context.Context, signature, userAccount, mint string) (Delta, error) {
	tx, err := a.fetcher.GetParsedTransaction(ctx, signature)
	if err != nil {
		return Delta{}, err
	}

	var solChange, swapSolChange, tokenChange int64
	for _, tt := range tx.TokenTransfers {
		if tt.FromUserAccount == userAccount && tt.Mint == WrappedSOLMint {
			swapSolChange -= int64(tt.Amount)
		}
		if tt.ToUserAccount == userAccount && tt.Mint == mint {
			tokenChange += int64(tt.Amount)
		}
		if tt.FromUserAccount == userAccount && tt.Mint == mint {
			tokenChange -= int64(tt.Amount)
		}
		if tt.ToUserAccount == userAccount && tt.Mint == WrappedSOLMint {
			swapSolChange += int64(tt.Amount)
		}
	}
	for _, nt := range tx.NativeTransfers {
		if nt.FromUserAccount == userAccount {
			solChange -= int64(nt.Amount)
		}
		if nt.ToUserAccount == userAccount {
			solChange += int64(nt.Amount)
		}
	}

	return Delta{
		Fee:            tx.Fee,
		Slot:           tx.Slot,
		Timestamp:      tx.Timestamp,
		SolChange:      solChange,
		SwapSolChange:  swapSolChange,
		OtherSolChange: solChange - swapSolChange,
		TokenChange:    tokenChange,
	}, nil
}

// Store is the State Store's idempotent settlement-record sink.
type Store interface {
	InsertSwapRecord(r *model.SwapRecord) error
}

// Processor polls for confirmation and writes a SwapRecord.
type Processor struct {
	checker      StatusChecker
	analyzer     Analyzer
	store        Store
	maxAttempts  int
	maxWait      time.Duration
	pollInterval time.Duration
	sleep        func(time.Duration)
	now          func() time.Time
}

// New builds a Processor from config.SettlementConfig's three bounds.
func New(checker StatusChecker, analyzer Analyzer, store Store, maxAttempts, maxWaitSeconds, pollIntervalMs int) *Processor {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Processor{
		checker:      checker,
		analyzer:     analyzer,
		store:        store,
		maxAttempts:  maxAttempts,
		maxWait:      time.Duration(maxWaitSeconds) * time.Second,
		pollInterval: time.Duration(pollIntervalMs) * time.Millisecond,
		sleep:        time.Sleep,
		now:          time.Now,
	}
}

// Settle polls signature for a terminal status, bounded by whichever of
// maxAttempts or maxWait is hit first (spec.md §4.6), derives a SwapRecord,
// writes it exactly once via Store.InsertSwapRecord (which is itself
// idempotent on signature), and returns it. swap.FollowerWallet and the
// swap's non-wrapped-SOL mint are the analyzer's (userAccount, mint) pair.
func (p *Processor) Settle(ctx context.Context, signature string, swap *model.FollowerSwap) (*model.SwapRecord, error) {
	deadline := p.now().Add(p.maxWait)
	mint := swap.OutputMint
	if swap.Direction == model.Sell {
		mint = swap.InputMint
	}

	status := model.StatusExpired
	var slot uint64
	var onChainFailed bool

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			break
		}
		st, err := p.checker.GetSignatureStatus(ctx, signature)
		if err != nil {
			log.Warn().Err(err).Str("signature", signature).Int("attempt", attempt).Msg("settlement: status poll failed")
		} else if st.Confirmed {
			slot = st.Slot
			if st.Err != "" {
				status = model.StatusFailed
				onChainFailed = true
			} else {
				status = model.StatusSuccess
			}
			break
		}

		if attempt == p.maxAttempts || p.now().After(deadline) {
			break
		}
		p.sleep(p.pollInterval)
	}

	record := &model.SwapRecord{
		Signature: signature,
		Direction: swap.Direction,
		InputMint: swap.InputMint,
		OutputMint: swap.OutputMint,
		Slot:       slot,
		Status:     status,
	}

	if status == model.StatusSuccess {
		delta, err := p.analyzer.Analyze(ctx, signature, swap.FollowerWallet, mint)
		if err != nil {
			log.Warn().Err(err).Str("signature", signature).Msg("settlement: analyzed_partial, amounts left at zero")
		} else {
			applyDelta(record, swap.Direction, delta)
		}
	}

	if err := p.store.InsertSwapRecord(record); err != nil {
		return record, err
	}

	if onChainFailed {
		return record, model.PipelineError{Kind: model.ErrOnChainFailed, Msg: "transaction landed but failed on-chain"}
	}
	if status == model.StatusExpired {
		return record, model.PipelineError{Kind: model.ErrExpired, Msg: "settlement poll exhausted without a terminal status"}
	}
	return record, nil
}

// applyDelta folds an analyzer Delta into a SwapRecord's fee/timing/amount
// fields. A buy's input is the SOL it spent and its output is the token it
// received; a sell is the mirror.
func applyDelta(record *model.SwapRecord, direction model.SwapDirection, delta Delta) {
	record.Fee = delta.Fee
	record.Timestamp = delta.Timestamp
	if record.Slot == 0 {
		record.Slot = delta.Slot
	}
	record.SolChange = delta.SolChange
	record.SwapSolChange = delta.SwapSolChange
	record.OtherSolChange = delta.OtherSolChange

	if direction == model.Buy {
		record.InputAmount = absUint64(delta.SwapSolChange)
		record.OutputAmount = absUint64(delta.TokenChange)
	} else {
		record.InputAmount = absUint64(delta.TokenChange)
		record.OutputAmount = absUint64(delta.SwapSolChange)
	}
}

func absUint64(v int64) uint64 {
	if v < 0 {
		return uint64(-v)
	}
	return uint64(v)
}
