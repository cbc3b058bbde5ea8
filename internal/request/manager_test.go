package request

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vasset/crawler/internal/utils"
)

type staticProxy string

func (p staticProxy) Current() (string, bool) {
	return string(p), p != ""
}

func TestGetDecodesJSONAndSendsHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "crawler-test", r.Header.Get("User-Agent"))
		assert.Equal(t, "https://www.bilibili.com", r.Header.Get("Referer"))
		assert.Equal(t, "go", r.URL.Query().Get("keyword"))
		assert.Equal(t, "video", r.URL.Query().Get("search_type"))
		_, _ = w.Write([]byte(`{"code":0,"data":{"n":3}}`))
	}))
	defer srv.Close()

	m := NewManager(Options{UserAgent: "crawler-test", Headers: map[string]string{"Referer": "https://www.bilibili.com"}}, nil)
	defer m.Close()

	var out struct {
		Code int `json:"code"`
		Data struct {
			N int `json:"n"`
		} `json:"data"`
	}
	err := m.Get(context.Background(), srv.URL+"/search?search_type=video", nil, url.Values{"keyword": {"go"}}, &out)
	require.NoError(t, err)
	assert.Equal(t, 3, out.Data.N)
}

func TestPostSendsJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": body["q"]})
	}))
	defer srv.Close()

	m := NewManager(Options{}, nil)
	defer m.Close()

	var out map[string]string
	require.NoError(t, m.Post(context.Background(), srv.URL, map[string]string{"q": "hi"}, nil, &out))
	assert.Equal(t, "hi", out["echo"])
}

func TestNon2xxReturnsRequestError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	m := NewManager(Options{}, nil)
	err := m.Get(context.Background(), srv.URL, nil, nil, nil)

	var reqErr *utils.RequestError
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, http.StatusTooManyRequests, reqErr.StatusCode)
	assert.Equal(t, "slow down", string(reqErr.Body))
	assert.ErrorIs(t, err, utils.ErrUnexpectedStatus)
}

func TestMalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>"))
	}))
	defer srv.Close()

	m := NewManager(Options{}, nil)
	var out map[string]any
	err := m.Get(context.Background(), srv.URL, nil, nil, &out)
	assert.ErrorIs(t, err, utils.ErrMalformedResponse)
}

func TestTransportFailure(t *testing.T) {
	m := NewManager(Options{Timeout: time.Second}, nil)
	err := m.Get(context.Background(), "http://127.0.0.1:1/", nil, nil, nil)

	var reqErr *utils.RequestError
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, 0, reqErr.StatusCode)
}

func TestRateLimitGate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	m := NewManager(Options{MinDelay: time.Second, MaxDelay: 3 * time.Second}, nil)
	now := time.Unix(1_700_000_000, 0)
	m.now = func() time.Time { return now }

	var slept []time.Duration
	m.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		now = now.Add(d)
		return nil
	}

	// 第一次请求不等待
	require.NoError(t, m.Get(context.Background(), srv.URL, nil, nil, nil))
	assert.Empty(t, slept)

	// 紧接着的请求等待 [1s, 3s]
	require.NoError(t, m.Get(context.Background(), srv.URL, nil, nil, nil))
	require.Len(t, slept, 1)
	assert.GreaterOrEqual(t, slept[0], time.Second)
	assert.LessOrEqual(t, slept[0], 3*time.Second)

	// 间隔足够时不等待
	now = now.Add(5 * time.Second)
	require.NoError(t, m.Get(context.Background(), srv.URL, nil, nil, nil))
	assert.Len(t, slept, 1)
}

func TestRateLimitGateHonoursCancellation(t *testing.T) {
	m := NewManager(Options{MinDelay: time.Hour, MaxDelay: time.Hour}, nil)
	m.lastSent = time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := m.Get(ctx, "http://127.0.0.1:1/", nil, nil, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProxyApplied(t *testing.T) {
	seen := make(chan string, 1)
	proxySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.URL.Host
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer proxySrv.Close()

	m := NewManager(Options{Proxy: staticProxy(proxySrv.URL)}, nil)
	defer m.Close()

	var out map[string]bool
	require.NoError(t, m.Get(context.Background(), "http://upstream.test/api", nil, nil, &out))
	assert.True(t, out["ok"])
	assert.Equal(t, "upstream.test", <-seen)
}
