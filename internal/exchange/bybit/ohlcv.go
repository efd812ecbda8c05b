package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"fundingarb/internal/core"

	"github.com/shopspring/decimal"
)

type klineResponse struct {
	retCodeEnvelope
	Result struct {
		List [][]string `json:"list"`
	} `json:"result"`
}

// intervalMinutesToBybit maps a candle size in minutes to Bybit's kline
// interval string, which uses "D"/"W"/"M" above 1 day rather than minutes.
func intervalMinutesToBybit(intervalMinutes int) string {
	switch intervalMinutes {
	case 60 * 24 * 7:
		return "W"
	case 60 * 24:
		return "D"
	default:
		return strconv.Itoa(intervalMinutes)
	}
}

// GetOHLCV fetches candles in [startMs, endMs), ordered ascending. Bybit
// returns rows reverse-chronological as
// [start, open, high, low, close, volume, turnover]; this reverses before
// returning, same discipline as GetFundingRateHistory.
func (c *Client) GetOHLCV(ctx context.Context, symbol string, intervalMinutes int, startMs, endMs int64, limit int) ([]core.OHLCVCandle, error) {
	if endMs == 0 {
		return nil, fmt.Errorf("bybit kline history: end_ms is required, start-only queries are rejected by the venue")
	}
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	path := fmt.Sprintf("/v5/market/kline?category=linear&symbol=%s&interval=%s&end=%d&limit=%d",
		symbol, intervalMinutesToBybit(intervalMinutes), endMs, limit)
	body, err := c.doRetried(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}

	var resp klineResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode kline response: %w", err)
	}
	if resp.RetCode != 0 {
		return nil, c.parseError(200, body)
	}

	out := make([]core.OHLCVCandle, 0, len(resp.Result.List))
	for _, row := range resp.Result.List {
		if len(row) < 6 {
			continue
		}
		tsMs, _ := strconv.ParseInt(row[0], 10, 64)
		if startMs > 0 && tsMs < startMs {
			continue
		}
		open, _ := decimal.NewFromString(row[1])
		high, _ := decimal.NewFromString(row[2])
		low, _ := decimal.NewFromString(row[3])
		closePrice, _ := decimal.NewFromString(row[4])
		volume, _ := decimal.NewFromString(row[5])

		out = append(out, core.OHLCVCandle{
			Symbol:      symbol,
			TimestampMs: tsMs,
			Open:        open,
			High:        high,
			Low:         low,
			Close:       closePrice,
			Volume:      volume,
		})
	}
	reverseCandles(out)
	return out, nil
}

func reverseCandles(s []core.OHLCVCandle) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
