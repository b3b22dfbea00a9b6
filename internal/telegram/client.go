package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

const DefaultAPIURL = "https://api.telegram.org"

// Client calls the Bot API over fasthttp. Idempotent calls are retried on transport errors
// and 5xx replies; 429 is returned to the caller as an *APIError with RetryAfter set.
type Client struct {
	baseURL string
	token   string
	http    *fasthttp.Client

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) {
		if strings.TrimSpace(u) != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithMaxConnsPerHost(n int) Option {
	return func(c *Client) { c.http.MaxConnsPerHost = n }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		baseURL:        DefaultAPIURL,
		token:          strings.TrimSpace(token),
		http:           &fasthttp.Client{ReadTimeout: 75 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 64},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type envelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var u User
	if err := c.call(ctx, "getMe", nil, &u, true); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) SendMessage(ctx context.Context, p SendMessageParams) (*Message, error) {
	var m Message
	if err := c.call(ctx, "sendMessage", p, &m, false); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Client) EditMessageText(ctx context.Context, p EditMessageTextParams) error {
	return c.call(ctx, "editMessageText", p, nil, true)
}

func (c *Client) AnswerCallbackQuery(ctx context.Context, p AnswerCallbackQueryParams) error {
	return c.call(ctx, "answerCallbackQuery", p, nil, true)
}

func (c *Client) CopyMessage(ctx context.Context, p CopyMessageParams) (*MessageRef, error) {
	var ref MessageRef
	if err := c.call(ctx, "copyMessage", p, &ref, false); err != nil {
		return nil, err
	}
	return &ref, nil
}

func (c *Client) ForwardMessage(ctx context.Context, p CopyMessageParams) (*Message, error) {
	var m Message
	if err := c.call(ctx, "forwardMessage", p, &m, false); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Client) DeleteMessage(ctx context.Context, p DeleteMessageParams) error {
	return c.call(ctx, "deleteMessage", p, nil, true)
}

func (c *Client) SetWebhook(ctx context.Context, p SetWebhookParams) error {
	return c.call(ctx, "setWebhook", p, nil, true)
}

func (c *Client) DeleteWebhook(ctx context.Context, dropPending bool) error {
	return c.call(ctx, "deleteWebhook", map[string]bool{"drop_pending_updates": dropPending}, nil, true)
}

func (c *Client) GetWebhookInfo(ctx context.Context) (*WebhookInfo, error) {
	var info WebhookInfo
	if err := c.call(ctx, "getWebhookInfo", nil, &info, true); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetUpdates long-polls for updates. The request deadline is extended by the poll timeout.
func (c *Client) GetUpdates(ctx context.Context, p GetUpdatesParams) ([]Update, error) {
	var out []Update
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.defaultTimeout+time.Duration(p.Timeout)*time.Second)
		defer cancel()
	}
	if err := c.doRequest(ctx, "getUpdates", "application/json", mustJSON(p), &out, false, time.Duration(p.Timeout)*time.Second); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) call(ctx context.Context, method string, in any, out any, retry bool) error {
	var body []byte
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", method, err)
		}
		body = payload
	}
	return c.doRequest(ctx, method, "application/json", body, out, retry, 0)
}

func mustJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

func (c *Client) methodURL(method string) string {
	return c.baseURL + "/bot" + c.token + "/" + method
}

func (c *Client) doRequest(ctx context.Context, method, contentType string, body []byte, out any, retry bool, extra time.Duration) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(c.methodURL(method))
	req.Header.SetContentType(contentType)
	if body != nil {
		req.SetBody(body)
	}

	attempts := 1
	if retry && c.retryMax > 1 {
		attempts = c.retryMax
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx, extra))
		if err != nil {
			lastErr = fmt.Errorf("telegram %s: request failed: %w", method, err)
			if attempt == attempts {
				return lastErr
			}
			if sleepErr := c.sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		status := resp.StatusCode()
		var env envelope
		if jerr := json.Unmarshal(resp.Body(), &env); jerr != nil {
			lastErr = fmt.Errorf("telegram %s: status=%d body=%s", method, status, truncate(string(resp.Body()), 512))
			if attempt == attempts || !shouldRetryStatus(status) {
				return lastErr
			}
			if sleepErr := c.sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}
		if !env.OK {
			ae := &APIError{Method: method, Code: env.ErrorCode, Description: env.Description}
			if ae.Code == 0 {
				ae.Code = status
			}
			if env.Parameters != nil {
				ae.RetryAfter = env.Parameters.RetryAfter
			}
			lastErr = ae
			if attempt == attempts || !shouldRetryStatus(ae.Code) {
				return ae
			}
			if sleepErr := c.sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}
		if out != nil && len(env.Result) > 0 {
			if err := json.Unmarshal(env.Result, out); err != nil {
				return fmt.Errorf("telegram %s: decode result: %w", method, err)
			}
		}
		return nil
	}

	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

func (c *Client) computeDeadline(ctx context.Context, extra time.Duration) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout + extra)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func (c *Client) sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	base := 100 * time.Millisecond
	return time.Duration(1<<uint(attempt-1)) * base // 100ms, 200ms ...
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
