package jupiter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"copytrade-engine/internal/route"
)

// RouteAdapter satisfies route.AggregatorClient by wrapping Client, translating
// route.Quote/route.PriorityFeeSpec to and from Jupiter's own QuoteResponse
// and swap request shapes. This is the AGG builder's one external
// collaborator, generalized from Jupiter-specific naming per spec.md §4.4.
type RouteAdapter struct {
	client *Client
}

func NewRouteAdapter(client *Client) *RouteAdapter {
	return &RouteAdapter{client: client}
}

// Quote fetches a Jupiter quote at slippageBps. When minOutFloor is set, a
// quote whose market output can support it is re-requested at a tightened
// slippageBps computed so the floor becomes the aggregator's own
// otherAmountThreshold -- the floor is substituted into the request sent to
// Jupiter, not just checked against whatever the original slippage quoted.
func (a *RouteAdapter) Quote(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int, minOutFloor uint64) (route.Quote, error) {
	q, err := a.quoteWithSlippage(ctx, inputMint, outputMint, amount, slippageBps)
	if err != nil {
		return route.Quote{}, err
	}
	outAmount, err := strconv.ParseUint(q.OutAmount, 10, 64)
	if err != nil {
		return route.Quote{}, fmt.Errorf("parse outAmount: %w", err)
	}

	if minOutFloor > 0 && outAmount > 0 {
		floorBps := int((1 - float64(minOutFloor)/float64(outAmount)) * 10000)
		if floorBps < 0 {
			floorBps = 0
		}
		if floorBps < slippageBps {
			q, err = a.quoteWithSlippage(ctx, inputMint, outputMint, amount, floorBps)
			if err != nil {
				return route.Quote{}, err
			}
			outAmount, err = strconv.ParseUint(q.OutAmount, 10, 64)
			if err != nil {
				return route.Quote{}, fmt.Errorf("parse outAmount: %w", err)
			}
		}
	}

	return route.Quote{OutAmount: outAmount, Raw: q}, nil
}

func (a *RouteAdapter) quoteWithSlippage(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int) (*QuoteResponse, error) {
	prevSlippage := a.client.slippageBps
	a.client.slippageBps = slippageBps
	q, err := a.client.GetQuote(ctx, inputMint, outputMint, amount)
	a.client.slippageBps = prevSlippage
	return q, err
}

func (a *RouteAdapter) Swap(ctx context.Context, quote route.Quote, userPubkey string, fee route.PriorityFeeSpec) (string, error) {
	q, ok := quote.Raw.(*QuoteResponse)
	if !ok {
		return "", fmt.Errorf("route adapter: quote.Raw is not a *jupiter.QuoteResponse")
	}
	return a.client.swapFromQuote(ctx, q, userPubkey, fee)
}

// AutoSlippageBps gives the Order Shaper's SlippageSource its adaptive-
// slippage half: a quote's own price-impact percentage, scaled to bps.
// shaper.Shape clamps the result into its configured auto-slippage range.
func (a *RouteAdapter) AutoSlippageBps(ctx context.Context, inputMint, outputMint string, amount uint64) (int, error) {
	q, err := a.client.GetQuote(ctx, inputMint, outputMint, amount)
	if err != nil {
		return 0, err
	}
	impactPct, err := strconv.ParseFloat(q.PriceImpactPct, 64)
	if err != nil {
		impactPct = 0
	}
	return int(impactPct * 10000), nil
}

// swapFromQuote is GetSwapTransaction's request-building logic adapted to
// take an already-fetched quote and a generic PriorityFeeSpec (normal
// priority-level submission or bundle-relay tip) instead of re-quoting and
// hardcoding "veryHigh" every call.
func (c *Client) swapFromQuote(ctx context.Context, quote *QuoteResponse, userPubkey string, fee route.PriorityFeeSpec) (string, error) {
	c.simMu.RLock()
	isSim := c.simMode
	c.simMu.RUnlock()
	if isSim {
		return "AQAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAABAA==", nil
	}

	reqBody := struct {
		QuoteResponse            *QuoteResponse                 `json:"quoteResponse"`
		UserPublicKey             string                         `json:"userPublicKey"`
		WrapAndUnwrapSol          bool                           `json:"wrapAndUnwrapSol"`
		DynamicComputeUnitLimit   bool                           `json:"dynamicComputeUnitLimit"`
		SkipUserAccountsRpcCalls  bool                           `json:"skipUserAccountsRpcCalls"`
		PrioritizationFeeLamports *PriorityLevelWithMaxLamports  `json:"prioritizationFeeLamports,omitempty"`
		PriorityFeeLamports       uint64                         `json:"priorityFeeLamports,omitempty"`
	}{
		QuoteResponse:            quote,
		UserPublicKey:             userPubkey,
		WrapAndUnwrapSol:          true,
		DynamicComputeUnitLimit:   true,
		SkipUserAccountsRpcCalls:  true,
	}

	if fee.BundleTipLamports > 0 {
		reqBody.PriorityFeeLamports = fee.BundleTipLamports
	} else {
		level := fee.PriorityLevel
		if level == "" {
			level = "veryHigh"
		}
		spec := &PriorityLevelWithMaxLamports{}
		spec.PriorityLevelWithMaxLamports.PriorityLevel = level
		spec.PriorityLevelWithMaxLamports.MaxLamports = fee.MaxLamports
		reqBody.PrioritizationFeeLamports = spec
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/swap", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.getAPIKey())

	client := c.clientPool.Get()
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("swap failed (%d): %s", resp.StatusCode, string(respBody))
	}

	var swapResp SwapResponse
	if err := json.NewDecoder(resp.Body).Decode(&swapResp); err != nil {
		return "", fmt.Errorf("decode swap response: %w", err)
	}

	log.Info().
		Uint64("priorityFee", swapResp.PrioritizationFeeLamports).
		Msg("jupiter swap tx (route adapter)")

	return swapResp.SwapTransaction, nil
}
