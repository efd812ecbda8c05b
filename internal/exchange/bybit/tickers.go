package bybit

import (
	"context"
	"encoding/json"
	"fmt"

	"fundingarb/internal/apperrors"
	"fundingarb/internal/core"

	"github.com/shopspring/decimal"
)

type tickersResponse struct {
	retCodeEnvelope
	Result struct {
		List []tickerEntry `json:"list"`
	} `json:"result"`
}

// tickerEntry covers both linear and spot shapes; funding fields are
// empty strings on spot tickers and parsed to zero.
type tickerEntry struct {
	Symbol               string `json:"symbol"`
	LastPrice            string `json:"lastPrice"`
	IndexPrice           string `json:"indexPrice"`
	MarkPrice            string `json:"markPrice"`
	FundingRate          string `json:"fundingRate"`
	NextFundingTime      string `json:"nextFundingTime"`
	Volume24h            string `json:"volume24h"`
}

func parseDecimalOrZero(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (t tickerEntry) toCoreTicker() core.Ticker {
	nextFunding := int64(0)
	if t.NextFundingTime != "" {
		if d, err := decimal.NewFromString(t.NextFundingTime); err == nil {
			nextFunding = d.IntPart()
		}
	}
	return core.Ticker{
		Symbol:              t.Symbol,
		LastPrice:           parseDecimalOrZero(t.LastPrice),
		FundingRate:         parseDecimalOrZero(t.FundingRate),
		NextFundingTimeMs:   nextFunding,
		FundingIntervalHour: 8, // not read from the response; every ticker reports 8 hours.
		IndexPrice:          parseDecimalOrZero(t.IndexPrice),
		MarkPrice:           parseDecimalOrZero(t.MarkPrice),
		Volume24h:           parseDecimalOrZero(t.Volume24h),
	}
}

// GetTicker fetches a normalized snapshot for one symbol.
func (c *Client) GetTicker(ctx context.Context, category core.Category, symbol string) (core.Ticker, error) {
	path := fmt.Sprintf("/v5/market/tickers?category=%s&symbol=%s", categoryParam(category), symbol)
	body, err := c.doRetried(ctx, "GET", path, nil)
	if err != nil {
		return core.Ticker{}, err
	}

	var resp tickersResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.Ticker{}, fmt.Errorf("decode ticker response: %w", err)
	}
	if resp.RetCode != 0 {
		return core.Ticker{}, c.parseError(200, body)
	}
	if len(resp.Result.List) == 0 {
		return core.Ticker{}, fmt.Errorf("symbol %s: %w", symbol, apperrors.ErrInvalidSymbol)
	}
	return resp.Result.List[0].toCoreTicker(), nil
}

// GetTickers fetches normalized snapshots for every active symbol in a category.
func (c *Client) GetTickers(ctx context.Context, category core.Category) ([]core.Ticker, error) {
	path := fmt.Sprintf("/v5/market/tickers?category=%s", categoryParam(category))
	body, err := c.doRetried(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}

	var resp tickersResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode tickers response: %w", err)
	}
	if resp.RetCode != 0 {
		return nil, c.parseError(200, body)
	}

	tickers := make([]core.Ticker, 0, len(resp.Result.List))
	for _, raw := range resp.Result.List {
		tickers = append(tickers, raw.toCoreTicker())
	}
	return tickers, nil
}
