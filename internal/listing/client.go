// Package listing queries the market indexer for open markets.
package listing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"liquidityAgent/internal/model"
)

const defaultPageSize = 100

const openMarketsQuery = `
	query OpenMarkets($cursor: BigInt!, $first: Int!) {
		markets(
			first: $first
			orderBy: createdAt
			orderDirection: asc
			where: { settled: false, createdAt_gt: $cursor }
		) {
			marketId
			claimStatement
			endTimestamp
			createdAt
			marketGroup {
				address
				collateralAsset
			}
		}
	}
`

// Client is a GraphQL client for the market indexer.
type Client struct {
	graphqlURL string
	apiKey     string
	pageSize   int
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a listing client for graphqlURL.
func NewClient(graphqlURL, apiKey string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		graphqlURL: graphqlURL,
		apiKey:     strings.TrimSpace(apiKey),
		pageSize:   defaultPageSize,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type marketEntry struct {
	MarketID       json.Number `json:"marketId"`
	ClaimStatement string      `json:"claimStatement"`
	EndTimestamp   json.Number `json:"endTimestamp"`
	CreatedAt      json.Number `json:"createdAt"`
	MarketGroup    *struct {
		Address         string `json:"address"`
		CollateralAsset string `json:"collateralAsset"`
	} `json:"marketGroup"`
}

// OpenMarkets returns every unsettled market created after cursor, paging in
// createdAt order. Malformed entries are logged and skipped.
func (c *Client) OpenMarkets(ctx context.Context, cursor int64) ([]model.MarketSummary, error) {
	var out []model.MarketSummary
	for {
		page, last, n, err := c.fetchPage(ctx, cursor)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if n < c.pageSize || last <= cursor {
			return out, nil
		}
		cursor = last
	}
}

func (c *Client) fetchPage(ctx context.Context, cursor int64) ([]model.MarketSummary, int64, int, error) {
	data, err := c.doQuery(ctx, openMarketsQuery, map[string]any{
		"cursor": strconv.FormatInt(cursor, 10),
		"first":  c.pageSize,
	})
	if err != nil {
		return nil, 0, 0, fmt.Errorf("listing: open markets: %w", err)
	}

	var result struct {
		Markets []marketEntry `json:"markets"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, 0, 0, fmt.Errorf("listing: decode markets: %w", err)
	}

	last := cursor
	out := make([]model.MarketSummary, 0, len(result.Markets))
	for _, entry := range result.Markets {
		summary, err := decodeMarket(entry)
		if err != nil {
			var decodeErr *model.DecodeError
			if errors.As(err, &decodeErr) {
				c.logger.Warn("skip malformed market entry", zap.Error(err))
				if created, err := entry.CreatedAt.Int64(); err == nil && created > last {
					last = created
				}
				continue
			}
			return nil, 0, 0, err
		}
		if summary.CreatedAt > last {
			last = summary.CreatedAt
		}
		out = append(out, summary)
	}
	return out, last, len(result.Markets), nil
}

func decodeMarket(entry marketEntry) (model.MarketSummary, error) {
	const source = "markets"
	id, err := strconv.ParseUint(entry.MarketID.String(), 10, 64)
	if err != nil {
		return model.MarketSummary{}, model.NewDecodeError(source, "marketId", "%q: %v", entry.MarketID, err)
	}
	endTime, err := entry.EndTimestamp.Int64()
	if err != nil {
		return model.MarketSummary{}, model.NewDecodeError(source, "endTimestamp", "%q: %v", entry.EndTimestamp, err)
	}
	createdAt, err := entry.CreatedAt.Int64()
	if err != nil {
		return model.MarketSummary{}, model.NewDecodeError(source, "createdAt", "%q: %v", entry.CreatedAt, err)
	}
	if entry.MarketGroup == nil {
		return model.MarketSummary{}, model.NewDecodeError(source, "marketGroup", "missing")
	}
	if !common.IsHexAddress(entry.MarketGroup.Address) {
		return model.MarketSummary{}, model.NewDecodeError(source, "marketGroup.address", "%q is not an address", entry.MarketGroup.Address)
	}
	if !common.IsHexAddress(entry.MarketGroup.CollateralAsset) {
		return model.MarketSummary{}, model.NewDecodeError(source, "marketGroup.collateralAsset", "%q is not an address", entry.MarketGroup.CollateralAsset)
	}
	return model.MarketSummary{
		ID:              id,
		GroupAddress:    common.HexToAddress(entry.MarketGroup.Address),
		CollateralAsset: common.HexToAddress(entry.MarketGroup.CollateralAsset),
		Claim:           strings.TrimSpace(entry.ClaimStatement),
		EndTime:         endTime,
		CreatedAt:       createdAt,
	}, nil
}

func (c *Client) doQuery(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	reqBody := graphqlRequest{
		Query:     query,
		Variables: variables,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var gqlResp graphqlResponse
	if err := json.Unmarshal(body, &gqlResp); err != nil {
		return nil, fmt.Errorf("decode graphql response: %w", err)
	}

	if len(gqlResp.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", gqlResp.Errors[0].Message)
	}

	return gqlResp.Data, nil
}
