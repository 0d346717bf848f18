package bybit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"fundarb/internal/application/port"
	"fundarb/internal/infrastructure/exchange"
)

// APIError Bybit 返回的业务/HTTP 错误
type APIError struct {
	HTTPStatus int
	RetCode    int
	RetMsg     string
}

func (e *APIError) Error() string {
	if e.RetCode != 0 {
		return fmt.Sprintf("bybit api error: http %d [%d] %s", e.HTTPStatus, e.RetCode, e.RetMsg)
	}
	return fmt.Sprintf("bybit http %d: %s", e.HTTPStatus, e.RetMsg)
}

// Is maps a missing endpoint to port.ErrUnsupported.
func (e *APIError) Is(target error) bool {
	return target == port.ErrUnsupported && e.HTTPStatus == http.StatusNotFound
}

// envelope v5 统一响应结构
type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
	Time    int64           `json:"time"`
}

// publicGet 发送公共行情请求并解出 result；返回服务器时间（毫秒）
func (c *Client) publicGet(ctx context.Context, path string, params url.Values, out interface{}) (int64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	endpoint, err := exchange.BuildQueryURL(c.baseURL, path, params)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return 0, &APIError{HTTPStatus: resp.StatusCode, RetMsg: string(body)}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return 0, fmt.Errorf("decode %s: %w", path, err)
	}
	if env.RetCode != 0 {
		return 0, &APIError{HTTPStatus: resp.StatusCode, RetCode: env.RetCode, RetMsg: env.RetMsg}
	}
	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return 0, fmt.Errorf("decode %s result: %w", path, err)
		}
	}
	return env.Time, nil
}

// IsAPIError reports whether err carries a Bybit retCode.
func IsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
