package bybit

import (
	"context"
	"encoding/json"
	"fmt"

	"fundingarb/internal/core"

	"github.com/shopspring/decimal"
)

type instrumentsResponse struct {
	retCodeEnvelope
	Result struct {
		List []struct {
			Symbol     string `json:"symbol"`
			BaseCoin   string `json:"baseCoin"`
			QuoteCoin  string `json:"quoteCoin"`
			Status     string `json:"status"`
			LotSizeFilter struct {
				MinOrderQty string `json:"minOrderQty"`
				MaxOrderQty string `json:"maxOrderQty"`
				QtyStep     string `json:"qtyStep"`
			} `json:"lotSizeFilter"`
			PriceFilter struct {
				TickSize string `json:"tickSize"`
			} `json:"priceFilter"`
		} `json:"list"`
	} `json:"result"`
}

// GetMarkets fetches the instrument catalog for one category.
func (c *Client) GetMarkets(ctx context.Context, category core.Category) ([]core.Market, error) {
	path := fmt.Sprintf("/v5/market/instruments-info?category=%s", categoryParam(category))
	body, err := c.doRetried(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}

	var resp instrumentsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode instruments response: %w", err)
	}
	if resp.RetCode != 0 {
		return nil, c.parseError(200, body)
	}

	markets := make([]core.Market, 0, len(resp.Result.List))
	for _, raw := range resp.Result.List {
		minQty, _ := decimal.NewFromString(raw.LotSizeFilter.MinOrderQty)
		maxQty, _ := decimal.NewFromString(raw.LotSizeFilter.MaxOrderQty)
		tickSize, _ := decimal.NewFromString(raw.PriceFilter.TickSize)

		markets = append(markets, core.Market{
			Symbol:      raw.Symbol,
			Base:        raw.BaseCoin,
			Quote:       raw.QuoteCoin,
			IsSpot:      category == core.CategorySpot,
			Active:      raw.Status == "Trading",
			MinQty:      minQty,
			MaxQty:      maxQty,
			MinNotional: decimal.Zero,
			QtyPrecision: decimalPlaces(tickSize),
		})
	}
	return markets, nil
}

// decimalPlaces counts the fractional digits of a step/tick value, e.g.
// "0.001" -> 3. GetMarkets stores the price tick's count in
// Market.QtyPrecision, from which the position manager derives the
// quantity step it rounds order sizes to.
func decimalPlaces(step decimal.Decimal) int32 {
	return -step.Exponent()
}
