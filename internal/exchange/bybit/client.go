// Package bybit implements core.Exchange against Bybit's V5 unified REST API.
package bybit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"fundingarb/internal/apperrors"
	"fundingarb/internal/core"
	"fundingarb/internal/exchange"
	"fundingarb/internal/retry"

	"github.com/shopspring/decimal"
)

const defaultBaseURL = "https://api.bybit.com"

// Client implements core.Exchange for Bybit V5.
type Client struct {
	*exchange.BaseAdapter
	apiKey    string
	secretKey string
}

// NewClient builds a Bybit client. requestsPerSecond/burst guard the
// client side of Bybit's own rate limits, independently of the
// historical fetcher's own inter-batch delay.
func NewClient(baseURL, apiKey, secretKey string, requestsPerSecond float64, burst int, logger core.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	c := &Client{apiKey: apiKey, secretKey: secretKey}
	c.BaseAdapter = exchange.NewBaseAdapter("bybit", baseURL, requestsPerSecond, burst, logger)
	c.BaseAdapter.Sign = c.signRequest
	c.BaseAdapter.ParseError = c.parseError
	return c
}

// signRequest implements Bybit's HMAC-SHA256 request signing:
// signature = HMAC_SHA256(timestamp + apiKey + recvWindow + body, secret).
func (c *Client) signRequest(req *http.Request, body []byte) error {
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	recvWindow := "5000"

	payload := timestamp + c.apiKey + recvWindow + string(body)
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(payload))
	signature := hex.EncodeToString(mac.Sum(nil))

	req.Header.Set("X-BAPI-API-KEY", c.apiKey)
	req.Header.Set("X-BAPI-SIGN", signature)
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	req.Header.Set("X-BAPI-RECV-WINDOW", recvWindow)
	return nil
}

type retCodeEnvelope struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
}

// parseError maps Bybit's retCode taxonomy onto the engine's sentinel errors.
// See https://bybit-exchange.github.io/docs/v5/error.
func (c *Client) parseError(statusCode int, body []byte) error {
	var env retCodeEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("bybit error (unparseable body, status %d): %s", statusCode, string(body))
	}
	switch env.RetCode {
	case 0:
		return nil
	case 10001, 10002, 130006:
		return apperrors.ErrInvalidOrderParameter
	case 10003, 10004:
		return apperrors.ErrAuthenticationFailed
	case 10006:
		return apperrors.ErrRateLimitExceeded
	case 10016:
		return apperrors.ErrExchangeMaintenance
	case 110007:
		return apperrors.ErrInsufficientFunds
	case 110001:
		return apperrors.ErrOrderNotFound
	case 110067:
		return apperrors.ErrDuplicateOrder
	default:
		return fmt.Errorf("bybit error: %s (retCode %d)", env.RetMsg, env.RetCode)
	}
}

func (c *Client) isTransient(err error) bool {
	return errors.Is(err, apperrors.ErrRateLimitExceeded) ||
		errors.Is(err, apperrors.ErrNetwork) ||
		errors.Is(err, apperrors.ErrExchangeMaintenance) ||
		errors.Is(err, apperrors.ErrSystemOverload)
}

// doRetried wraps BaseAdapter.Do with the 3x-multiplier rate-limit backoff
// policy when the error is rate-limit shaped, else the default policy.
func (c *Client) doRetried(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var respBody []byte
	err := retry.Do(ctx, retry.DefaultPolicy, c.isTransient, func() error {
		b, err := c.BaseAdapter.Do(ctx, method, path, body)
		if err != nil {
			if errors.Is(err, apperrors.ErrRateLimitExceeded) {
				return retry.Do(ctx, retry.RateLimitPolicy, c.isTransient, func() error {
					b2, err2 := c.BaseAdapter.Do(ctx, method, path, body)
					if err2 == nil {
						respBody = b2
					}
					return err2
				})
			}
			return err
		}
		respBody = b
		return nil
	})
	return respBody, err
}

func categoryParam(cat core.Category) string {
	if cat == core.CategorySpot {
		return "spot"
	}
	return "linear"
}

var _ core.Exchange = (*Client)(nil)
