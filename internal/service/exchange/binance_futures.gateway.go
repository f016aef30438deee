package exchange

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/krobus00/futures-engine/internal/config"
	"github.com/krobus00/futures-engine/internal/entity"
	"github.com/krobus00/futures-engine/internal/util"
	"github.com/sirupsen/logrus"
)

const (
	defaultBinanceFuturesBaseURL    = "https://fapi.binance.com"
	defaultBinanceFuturesRecvWindow = int64(5000)
	maxBinanceFuturesRecvWindow     = int64(60000)
	maxBinanceFuturesTimeout        = 10 * time.Second
)

type BinanceFuturesGateway struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	recvWindow int64
	httpClient *http.Client
	clock      util.Clock
	logger     logrus.FieldLogger
}

type GatewayOption func(*BinanceFuturesGateway)

func WithHTTPClient(client *http.Client) GatewayOption {
	return func(g *BinanceFuturesGateway) {
		if client != nil {
			g.httpClient = client
		}
	}
}

func WithClock(clock util.Clock) GatewayOption {
	return func(g *BinanceFuturesGateway) {
		if clock != nil {
			g.clock = clock
		}
	}
}

func WithLogger(logger logrus.FieldLogger) GatewayOption {
	return func(g *BinanceFuturesGateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func NewBinanceFuturesGateway(cfg config.ExchangeConfig, opts ...GatewayOption) *BinanceFuturesGateway {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBinanceFuturesBaseURL
	}

	recvWindow := cfg.RecvWindow
	if recvWindow <= 0 || recvWindow > maxBinanceFuturesRecvWindow {
		recvWindow = defaultBinanceFuturesRecvWindow
	}

	g := &BinanceFuturesGateway{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		apiSecret:  strings.TrimSpace(cfg.APISecret),
		baseURL:    strings.TrimRight(baseURL, "/"),
		recvWindow: recvWindow,
		httpClient: &http.Client{Timeout: clampTimeout(cfg.Timeout)},
		clock:      util.RealClock{},
		logger:     logrus.StandardLogger(),
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

func clampTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 || timeout > maxBinanceFuturesTimeout {
		return maxBinanceFuturesTimeout
	}
	return timeout
}

// Request performs one HTTP call and returns the raw 2xx body.
// Signed requests get timestamp, recvWindow and an HMAC-SHA256 signature over the encoded params.
func (g *BinanceFuturesGateway) Request(ctx context.Context, method, path string, params url.Values, signed bool) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	query := url.Values{}
	for key, values := range params {
		query[key] = append([]string(nil), values...)
	}

	if signed {
		if g.apiKey == "" || g.apiSecret == "" {
			return nil, entity.ErrCredentialsMissing
		}

		query.Set("timestamp", strconv.FormatInt(g.clock.Now().UnixMilli(), 10))
		query.Set("recvWindow", strconv.FormatInt(g.recvWindow, 10))
	}

	payload := query.Encode()
	if signed {
		payload += "&signature=" + hmacSHA256Hex(g.apiSecret, payload)
	}

	endpoint := g.baseURL + path
	var body io.Reader
	switch method {
	case http.MethodGet, http.MethodDelete:
		if payload != "" {
			endpoint += "?" + payload
		}
	default:
		body = strings.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, &entity.TransportError{Method: method, Path: path, Err: err}
	}

	if g.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", g.apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, &entity.TransportError{Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &entity.TransportError{Method: method, Path: path, Err: err}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		httpErr := &entity.HTTPError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
		}

		var apiErr entity.BinanceFuturesErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil {
			httpErr.Code = apiErr.Code
			httpErr.Message = apiErr.Msg
		}

		g.logger.WithFields(logrus.Fields{
			"method": method,
			"path":   path,
			"status": resp.StatusCode,
			"code":   httpErr.Code,
		}).Warnf("binance futures request failed: %s", httpErr.Message)

		return nil, httpErr
	}

	return respBody, nil
}

func (g *BinanceFuturesGateway) requestJSON(ctx context.Context, method, path string, params url.Values, signed bool, out any) error {
	body, err := g.Request(ctx, method, path, params, signed)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}

	return nil
}
