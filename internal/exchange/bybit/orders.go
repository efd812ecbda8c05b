package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fundingarb/internal/core"

	"github.com/shopspring/decimal"
)

type placeOrderResponse struct {
	retCodeEnvelope
	Result struct {
		OrderID string `json:"orderId"`
	} `json:"result"`
}

type orderStateResponse struct {
	retCodeEnvelope
	Result struct {
		List []struct {
			OrderID     string `json:"orderId"`
			AvgPrice    string `json:"avgPrice"`
			CumExecQty  string `json:"cumExecQty"`
			CumExecFee  string `json:"cumExecFee"`
			OrderStatus string `json:"orderStatus"`
		} `json:"list"`
	} `json:"result"`
}

func sideString(side core.Side) string {
	if side == core.SideSell {
		return "Sell"
	}
	return "Buy"
}

func orderTypeString(t core.OrderType) string {
	if t == core.OrderTypeLimit {
		return "Limit"
	}
	return "Market"
}

// PlaceOrder submits an order and polls once for its fill, converting the
// venue's string decimals into core.OrderResult. decimal->float never
// happens; every numeric field stays a decimal.Decimal string round-trip.
func (c *Client) PlaceOrder(ctx context.Context, req core.OrderRequest) (core.OrderResult, error) {
	body := map[string]interface{}{
		"category":    categoryParam(req.Category),
		"symbol":      req.Symbol,
		"side":        sideString(req.Side),
		"orderType":   orderTypeString(req.Type),
		"qty":         req.Quantity.String(),
		"timeInForce": "GTC",
	}
	if req.Type == core.OrderTypeLimit {
		body["price"] = req.Price.String()
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return core.OrderResult{}, fmt.Errorf("encode order request: %w", err)
	}

	respBody, err := c.doRetried(ctx, "POST", "/v5/order/create", jsonBody)
	if err != nil {
		return core.OrderResult{}, err
	}

	var resp placeOrderResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return core.OrderResult{}, fmt.Errorf("decode place-order response: %w", err)
	}
	if resp.RetCode != 0 {
		return core.OrderResult{}, c.parseError(200, respBody)
	}

	fill, err := c.fetchOrderFill(ctx, req.Category, req.Symbol, resp.Result.OrderID)
	if err != nil {
		return core.OrderResult{}, err
	}
	return fill, nil
}

func (c *Client) fetchOrderFill(ctx context.Context, category core.Category, symbol, orderID string) (core.OrderResult, error) {
	path := fmt.Sprintf("/v5/order/realtime?category=%s&symbol=%s&orderId=%s", categoryParam(category), symbol, orderID)
	body, err := c.doRetried(ctx, "GET", path, nil)
	if err != nil {
		return core.OrderResult{}, err
	}

	var resp orderStateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.OrderResult{}, fmt.Errorf("decode order-state response: %w", err)
	}
	if resp.RetCode != 0 {
		return core.OrderResult{}, c.parseError(200, body)
	}
	if len(resp.Result.List) == 0 {
		return core.OrderResult{}, fmt.Errorf("order %s: no state returned", orderID)
	}

	raw := resp.Result.List[0]
	avgPrice := parseDecimalOrZero(raw.AvgPrice)
	filledQty := parseDecimalOrZero(raw.CumExecQty)
	fee := parseDecimalOrZero(raw.CumExecFee)

	return core.OrderResult{
		OrderID:     raw.OrderID,
		Symbol:      symbol,
		FilledQty:   filledQty,
		FilledPrice: avgPrice,
		Fee:         fee,
		TimestampMs: time.Now().UnixMilli(),
		IsSimulated: false,
	}, nil
}

type balanceResponse struct {
	retCodeEnvelope
	Result struct {
		List []struct {
			TotalEquity           string `json:"totalEquity"`
			TotalAvailableBalance string `json:"totalAvailableBalance"`
			AccountMMRate         string `json:"accountMMRate"`
		} `json:"list"`
	} `json:"result"`
}

// GetBalance reads the account's current margin/equity snapshot. Always
// a fresh call, never cached -- the risk manager depends on that (§4.L).
func (c *Client) GetBalance(ctx context.Context) (core.Balance, error) {
	body, err := c.doRetried(ctx, "GET", "/v5/account/wallet-balance?accountType=UNIFIED", nil)
	if err != nil {
		return core.Balance{}, err
	}

	var resp balanceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.Balance{}, fmt.Errorf("decode balance response: %w", err)
	}
	if resp.RetCode != 0 {
		return core.Balance{}, c.parseError(200, body)
	}
	if len(resp.Result.List) == 0 {
		return core.Balance{}, fmt.Errorf("bybit balance: empty account list")
	}

	raw := resp.Result.List[0]
	return core.Balance{
		AccountMMRate:         parseDecimalOrZero(raw.AccountMMRate),
		TotalEquity:           parseDecimalOrZero(raw.TotalEquity),
		TotalAvailableBalance: parseDecimalOrZero(raw.TotalAvailableBalance),
	}, nil
}

type feeRateResponse struct {
	retCodeEnvelope
	Result struct {
		List []struct {
			TakerFeeRate string `json:"takerFeeRate"`
			MakerFeeRate string `json:"makerFeeRate"`
		} `json:"list"`
	} `json:"result"`
}

// GetFeeSettings reads the account's linear and spot fee schedules via two
// calls to Bybit's account/fee-rate endpoint.
func (c *Client) GetFeeSettings(ctx context.Context) (core.FeeSettings, error) {
	perp, err := c.fetchFeeRate(ctx, core.CategoryLinear)
	if err != nil {
		return core.FeeSettings{}, err
	}
	spot, err := c.fetchFeeRate(ctx, core.CategorySpot)
	if err != nil {
		return core.FeeSettings{}, err
	}
	return core.FeeSettings{
		SpotTaker: spot.taker,
		SpotMaker: spot.maker,
		PerpTaker: perp.taker,
		PerpMaker: perp.maker,
	}, nil
}

type feeRate struct{ taker, maker decimal.Decimal }

func (c *Client) fetchFeeRate(ctx context.Context, category core.Category) (feeRate, error) {
	path := fmt.Sprintf("/v5/account/fee-rate?category=%s", categoryParam(category))
	body, err := c.doRetried(ctx, "GET", path, nil)
	if err != nil {
		return feeRate{}, err
	}

	var resp feeRateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return feeRate{}, fmt.Errorf("decode fee-rate response: %w", err)
	}
	if resp.RetCode != 0 {
		return feeRate{}, c.parseError(200, body)
	}
	if len(resp.Result.List) == 0 {
		return feeRate{}, fmt.Errorf("bybit fee-rate: empty list for category %s", categoryParam(category))
	}

	raw := resp.Result.List[0]
	return feeRate{taker: parseDecimalOrZero(raw.TakerFeeRate), maker: parseDecimalOrZero(raw.MakerFeeRate)}, nil
}
