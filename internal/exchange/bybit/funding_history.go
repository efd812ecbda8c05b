package bybit

import (
	"context"
	"encoding/json"
	"fmt"

	"fundingarb/internal/core"

	"github.com/shopspring/decimal"
)

type fundingHistoryResponse struct {
	retCodeEnvelope
	Result struct {
		List []struct {
			Symbol      string `json:"symbol"`
			FundingRate string `json:"fundingRate"`
			Timestamp   string `json:"fundingRateTimestamp"`
		} `json:"list"`
	} `json:"result"`
}

// GetFundingRateHistory fetches funding samples in [startMs, endMs).
// Bybit returns newest-first; this normalizes to ascending before
// returning, so no caller ever has to know about the venue's ordering.
// Interval hours is not carried in this endpoint's payload; every returned
// record is stamped with 8 hours, whatever the pair's actual interval.
func (c *Client) GetFundingRateHistory(ctx context.Context, symbol string, startMs, endMs int64, limit int) ([]core.HistoricalFundingRate, error) {
	if endMs == 0 {
		return nil, fmt.Errorf("bybit funding history: end_ms is required, start-only queries are rejected by the venue")
	}
	if limit <= 0 || limit > 200 {
		limit = 200
	}

	path := fmt.Sprintf("/v5/market/funding/history?category=linear&symbol=%s&endTime=%d&limit=%d", symbol, endMs, limit)
	body, err := c.doRetried(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}

	var resp fundingHistoryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode funding history response: %w", err)
	}
	if resp.RetCode != 0 {
		return nil, c.parseError(200, body)
	}

	out := make([]core.HistoricalFundingRate, 0, len(resp.Result.List))
	for _, raw := range resp.Result.List {
		rate, _ := decimal.NewFromString(raw.FundingRate)
		ts, _ := decimal.NewFromString(raw.Timestamp)
		tsMs := ts.IntPart()
		if startMs > 0 && tsMs < startMs {
			continue
		}
		out = append(out, core.HistoricalFundingRate{
			Symbol:        raw.Symbol,
			TimestampMs:   tsMs,
			Rate:          rate,
			IntervalHours: 8,
		})
	}
	reverseFundingRates(out)
	return out, nil
}

func reverseFundingRates(s []core.HistoricalFundingRate) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
