package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"CycleOracle/internal/model"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// StatusError 非 2xx 响应
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d: %s", e.StatusCode, e.Body)
}

// Retryable 429 与 5xx 可重试
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Observer 每次请求结束后回调（endpoint 为调用方给的逻辑名，status 为 HTTP 状态码或 0 表示网络错误）
type Observer func(endpoint string, status int)

// Getter 共享限流器 + 指数退避的 JSON GET
type Getter struct {
	client     *http.Client
	limiter    *rate.Limiter
	maxRetries uint64
	baseDelay  time.Duration
	observe    Observer
	logger     *logrus.Logger
}

// NewGetter 创建 Getter；limiter 在所有调用方之间共享
func NewGetter(client *http.Client, limiter *rate.Limiter, maxRetries uint64, observe Observer, logger *logrus.Logger) *Getter {
	if observe == nil {
		observe = func(string, int) {}
	}
	return &Getter{
		client:     client,
		limiter:    limiter,
		maxRetries: maxRetries,
		baseDelay:  500 * time.Millisecond,
		observe:    observe,
		logger:     logger,
	}
}

// GetJSON 请求 rawURL 并解码到 out。
// 404 → model.ErrNotFound；429 遵守 Retry-After；5xx / 网络错误重试，耗尽后为 model.ErrTransient
func (g *Getter) GetJSON(ctx context.Context, endpoint, rawURL string, out interface{}) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.baseDelay
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, g.maxRetries), ctx)

	var body []byte
	op := func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		data, err := g.do(ctx, endpoint, rawURL)
		if err == nil {
			body = data
			return nil
		}
		var se *StatusError
		if errors.As(err, &se) {
			if !se.Retryable() {
				return backoff.Permanent(err)
			}
			if se.RetryAfter > 0 {
				if werr := sleepCtx(ctx, se.RetryAfter); werr != nil {
					return backoff.Permanent(werr)
				}
			}
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		g.logger.WithError(err).WithFields(logrus.Fields{
			"endpoint": endpoint,
			"wait":     wait.String(),
		}).Warn("体育数据请求失败，准备重试")
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%s: %w", endpoint, errors.Join(model.ErrNotFound, err))
		}
		if errors.As(err, &se) && !se.Retryable() {
			return fmt.Errorf("%s: %w", endpoint, err)
		}
		return model.Transient(fmt.Errorf("%s: %w", endpoint, err))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return model.Transient(fmt.Errorf("%s: decode response: %w", endpoint, err))
	}
	return nil
}

func (g *Getter) do(ctx context.Context, endpoint, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		g.observe(endpoint, 0)
		return nil, err
	}
	defer resp.Body.Close()
	g.observe(endpoint, resp.StatusCode)

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(data)
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       snippet,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return data, nil
}

// parseRetryAfter 支持秒数与 HTTP 日期两种格式，上限 60s
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	var d time.Duration
	if secs, err := strconv.Atoi(v); err == nil {
		d = time.Duration(secs) * time.Second
	} else if t, err := http.ParseTime(v); err == nil {
		d = time.Until(t)
	}
	if d < 0 {
		return 0
	}
	if d > time.Minute {
		return time.Minute
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
