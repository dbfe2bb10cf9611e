package blockchain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// MetadataClient implements token.MetadataSource against a Helius-style
// token-metadata HTTP endpoint, grounded on original_source's
// solbot_common/utils/helius.py HeliusAPI (the Token Info Cache's real
// source before its 24h TTL layer), mirroring jupiter.Client's plain
// net/http idiom rather than that client's connection-pool/HTTP2 setup since
// metadata lookups aren't hot-path latency sensitive.
type MetadataClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewMetadataClient(baseURL, apiKey string, timeout time.Duration) *MetadataClient {
	return &MetadataClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type heliusTokenMetadataRequest struct {
	MintAccounts []string `json:"mintAccounts"`
}

type heliusTokenMetadataEntry struct {
	Account      string `json:"account"`
	OnChainData  struct {
		Decimals int `json:"decimals"`
	} `json:"onChainAccountInfo,omitempty"`
	OffChainMetadata struct {
		Metadata struct {
			Symbol string `json:"symbol"`
		} `json:"metadata"`
	} `json:"offChainMetadata"`
	TokenStandard string `json:"onChainMetadata,omitempty"`
	LegacyMetadata struct {
		Symbol   string `json:"symbol"`
		Decimals int    `json:"decimals"`
	} `json:"legacyMetadata"`
}

// FetchTokenInfo asks the metadata endpoint for mint's symbol and decimals.
// Helius's token-metadata response shape has shifted across versions, so
// this reads from whichever of legacyMetadata or offChainMetadata carries a
// non-empty symbol rather than assuming one path. The returned tokenProgram
// is always SPLTokenProgramID: the mint's owning program is not looked up,
// so a Token-2022 mint is reported as an SPL Token mint.
func (c *MetadataClient) FetchTokenInfo(ctx context.Context, mint string) (symbol string, decimals uint8, tokenProgram string, err error) {
	url := fmt.Sprintf("%s/token-metadata?api-key=%s", c.baseURL, c.apiKey)

	reqBody, err := json.Marshal(heliusTokenMetadataRequest{MintAccounts: []string{mint}})
	if err != nil {
		return "", 0, "", fmt.Errorf("marshal metadata request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(reqBody)))
	if err != nil {
		return "", 0, "", fmt.Errorf("create metadata request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", 0, "", fmt.Errorf("metadata request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, "", fmt.Errorf("metadata request failed (%d)", resp.StatusCode)
	}

	var entries []heliusTokenMetadataEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return "", 0, "", fmt.Errorf("decode metadata response: %w", err)
	}
	if len(entries) == 0 {
		return "", 0, "", fmt.Errorf("no metadata returned for mint %s", mint)
	}

	entry := entries[0]
	symbol = entry.LegacyMetadata.Symbol
	if symbol == "" {
		symbol = entry.OffChainMetadata.Metadata.Symbol
	}
	decimals = uint8(entry.LegacyMetadata.Decimals)
	if decimals == 0 {
		decimals = uint8(entry.OnChainData.Decimals)
	}

	log.Debug().Str("mint", mint).Str("symbol", symbol).Msg("fetched token metadata")
	return symbol, decimals, SPLTokenProgramID, nil
}

// SPLTokenProgramID is the canonical SPL Token program, the owning program
// for the overwhelming majority of mints this engine trades. Token-2022
// mints would need a real on-chain owner lookup, out of scope here.
const SPLTokenProgramID = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
