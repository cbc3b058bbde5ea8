package request

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"vasset/crawler/internal/utils"
)

// 默认请求间隔
const (
	DefaultMinDelay = 1 * time.Second
	DefaultMaxDelay = 3 * time.Second
)

// 错误响应体最多保留的字节数
const maxErrorBody = 512

// ProxySource 提供当前代理地址
type ProxySource interface {
	Current() (string, bool)
}

type proxyKey struct{}

// Options 请求管理器配置
type Options struct {
	MinDelay  time.Duration
	MaxDelay  time.Duration
	Timeout   time.Duration
	UserAgent string
	Headers   map[string]string // 每个请求都带上的默认头
	Proxy     ProxySource
}

// Manager 限速 HTTP 客户端
//
// 每个实例维护一个全局的请求间隔闸门: 距上次发出请求不足 MinDelay 时,
// 先随机等待 [MinDelay, MaxDelay] 再发出。闸门由互斥锁串行化。
type Manager struct {
	client    *http.Client
	transport *http.Transport
	opts      Options
	logger    *zap.Logger

	mu       sync.Mutex
	lastSent time.Time
	rnd      *rand.Rand

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewManager 创建请求管理器
func NewManager(opts Options, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MinDelay < 0 {
		opts.MinDelay = 0
	}
	if opts.MaxDelay < opts.MinDelay {
		opts.MaxDelay = opts.MinDelay
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = proxyFromContext

	return &Manager{
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
		transport: transport,
		opts:      opts,
		logger:    logger,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
		now:       time.Now,
		sleep:     sleepContext,
	}
}

// proxyFromContext 读取本次请求选定的代理
func proxyFromContext(req *http.Request) (*url.URL, error) {
	raw, _ := req.Context().Value(proxyKey{}).(string)
	if raw == "" {
		return nil, nil
	}
	return url.Parse(raw)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get 发送 GET 请求并把 JSON 响应解码到 out
func (m *Manager) Get(ctx context.Context, rawURL string, headers map[string]string, params url.Values, out any) error {
	if len(params) > 0 {
		u, err := url.Parse(rawURL)
		if err != nil {
			return &utils.RequestError{URL: rawURL, Err: fmt.Errorf("%w: %v", utils.ErrInvalidURL, err)}
		}
		q := u.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
		rawURL = u.String()
	}
	return m.do(ctx, http.MethodGet, rawURL, nil, headers, out)
}

// Post 发送 JSON POST 请求并把 JSON 响应解码到 out
func (m *Manager) Post(ctx context.Context, rawURL string, body any, headers map[string]string, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return &utils.RequestError{URL: rawURL, Err: fmt.Errorf("failed to encode body: %w", err)}
		}
	}
	merged := map[string]string{"Content-Type": "application/json"}
	for k, v := range headers {
		merged[k] = v
	}
	return m.do(ctx, http.MethodPost, rawURL, payload, merged, out)
}

func (m *Manager) do(ctx context.Context, method, rawURL string, payload []byte, headers map[string]string, out any) error {
	if err := m.wait(ctx); err != nil {
		return &utils.RequestError{URL: rawURL, Err: err}
	}

	if m.opts.Proxy != nil {
		if proxy, ok := m.opts.Proxy.Current(); ok {
			ctx = context.WithValue(ctx, proxyKey{}, proxy)
		}
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return &utils.RequestError{URL: rawURL, Err: fmt.Errorf("%w: %v", utils.ErrInvalidURL, err)}
	}

	req.Header.Set("Accept", "application/json")
	if m.opts.UserAgent != "" {
		req.Header.Set("User-Agent", m.opts.UserAgent)
	}
	for k, v := range m.opts.Headers {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return &utils.RequestError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &utils.RequestError{
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			Body:       snippet,
			Err:        utils.ErrUnexpectedStatus,
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &utils.RequestError{
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%w: %v", utils.ErrMalformedResponse, err),
		}
	}
	return nil
}

// wait 请求间隔闸门
func (m *Manager) wait(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.lastSent.IsZero() && m.now().Sub(m.lastSent) < m.opts.MinDelay {
		delay := m.opts.MinDelay
		if span := m.opts.MaxDelay - m.opts.MinDelay; span > 0 {
			delay += time.Duration(m.rnd.Int63n(int64(span) + 1))
		}
		m.logger.Debug("Rate limit gate", zap.Duration("delay", delay))
		if err := m.sleep(ctx, delay); err != nil {
			return err
		}
	}

	m.lastSent = m.now()
	return nil
}

// Close 释放连接池
func (m *Manager) Close() error {
	m.transport.CloseIdleConnections()
	return nil
}
