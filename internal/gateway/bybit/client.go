package bybit

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tradegate/internal/logger"
	"tradegate/internal/pkg/circuit"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

var bybitLog = logger.Named("bybit")

const (
	MainnetURL       = "https://api.bybit.com"
	TestnetURL       = "https://api-testnet.bybit.com"
	MainnetStreamURL = "wss://stream.bybit.com/v5/public/linear"
	TestnetStreamURL = "wss://stream-testnet.bybit.com/v5/public/linear"

	categoryLinear = "linear"
)

// ErrMissingCredentials 表示私有接口缺少 API key/secret。
var ErrMissingCredentials = errors.New("bybit credentials not configured")

// APIError 对应 retCode != 0 的响应。
type APIError struct {
	Code int64
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bybit api error %d: %s", e.Code, e.Msg)
}

type Config struct {
	APIKey             string
	APISecret          string
	Testnet            bool
	BaseURL            string
	RecvWindow         int
	Timeout            time.Duration
	RateLimitPerSecond float64
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = MainnetURL
		if c.Testnet {
			c.BaseURL = TestnetURL
		}
	}
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.RecvWindow <= 0 {
		c.RecvWindow = 5000
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.RateLimitPerSecond <= 0 {
		c.RateLimitPerSecond = 10
	}
	return c
}

// Client 是 Bybit v5 REST 客户端。
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	breaker *circuit.Breaker
	now     func() time.Time
}

func New(cfg Config) *Client {
	cfg = cfg.withDefaults()
	burst := int(cfg.RateLimitPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), burst),
		breaker: circuit.New("bybit", 5, 30*time.Second),
		now:     time.Now,
	}
}

// WithHTTPClient 替换底层 http.Client，测试用。
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	if hc != nil {
		c.http = hc
	}
	return c
}

func (c *Client) Name() string { return "bybit" }

func (c *Client) BaseURL() string { return c.cfg.BaseURL }

func (c *Client) hasCredentials() bool {
	return strings.TrimSpace(c.cfg.APIKey) != "" && strings.TrimSpace(c.cfg.APISecret) != ""
}

// Sign 计算 HMAC-SHA256(secret, timestamp+apiKey+recvWindow) 的十六进制串。
func Sign(secret, timestamp, apiKey, recvWindow string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + apiKey + recvWindow))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) signHeaders(h http.Header) {
	ts := strconv.FormatInt(c.now().UnixMilli(), 10)
	recv := strconv.Itoa(c.cfg.RecvWindow)
	h.Set("X-BAPI-API-KEY", c.cfg.APIKey)
	h.Set("X-BAPI-SIGN", Sign(c.cfg.APISecret, ts, c.cfg.APIKey, recv))
	h.Set("X-BAPI-SIGN-TYPE", "2")
	h.Set("X-BAPI-TIMESTAMP", ts)
	h.Set("X-BAPI-RECV-WINDOW", recv)
}

// do 发起请求并返回 result 字段。retCode != 0 的业务错误不计入熔断。
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, signed bool) (gjson.Result, error) {
	if signed && !c.hasCredentials() {
		return gjson.Result{}, ErrMissingCredentials
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return gjson.Result{}, err
	}
	var (
		result gjson.Result
		apiErr error
	)
	err := c.breaker.Do(func() error {
		res, err := c.roundTrip(ctx, method, path, query, body, signed)
		var ae *APIError
		if errors.As(err, &ae) {
			apiErr = err
			return nil
		}
		result = res
		return err
	})
	if err != nil {
		return gjson.Result{}, err
	}
	if apiErr != nil {
		return gjson.Result{}, apiErr
	}
	return result, nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, query url.Values, body any, signed bool) (gjson.Result, error) {
	endpoint := c.cfg.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return gjson.Result{}, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if signed {
		c.signHeaders(req.Header)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, fmt.Errorf("%s %s: http %d", method, path, resp.StatusCode)
	}
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, fmt.Errorf("%s %s: invalid json response", method, path)
	}
	doc := gjson.ParseBytes(raw)
	if code := doc.Get("retCode").Int(); code != 0 {
		return gjson.Result{}, &APIError{Code: code, Msg: doc.Get("retMsg").String()}
	}
	return doc.Get("result"), nil
}
