package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"vasset/crawler/internal/config"
	"vasset/crawler/internal/utils"
)

// Source 代理来源, 刷新时返回一批代理地址
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]string, error)
}

// StaticSource 配置文件中的静态代理
type StaticSource struct {
	endpoints []string
}

// NewStaticSource 创建静态代理来源
func NewStaticSource(endpoints []string) *StaticSource {
	return &StaticSource{endpoints: endpoints}
}

func (s *StaticSource) Name() string { return "static" }

// Fetch 返回静态代理列表
func (s *StaticSource) Fetch(ctx context.Context) ([]string, error) {
	return append([]string(nil), s.endpoints...), nil
}

// ProxyResponse 代理 API 响应
type ProxyResponse struct {
	IP       string `json:"ip"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	ExpireAt string `json:"expire_at"`
}

// URL 格式化代理地址
func (r *ProxyResponse) URL() string {
	if r.Username != "" && r.Password != "" {
		return fmt.Sprintf("http://%s:%s@%s:%d", r.Username, r.Password, r.IP, r.Port)
	}
	return fmt.Sprintf("http://%s:%d", r.IP, r.Port)
}

// Provider 代理 API 提供者
type Provider struct {
	apiKey     string
	endpoint   string
	client     *http.Client
	retryCount int
	count      int
	retryBase  time.Duration
	logger     *zap.Logger
}

// NewProvider 创建代理提供者
func NewProvider(cfg *config.ProxyProviderConf, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	retryCount := cfg.RetryCount
	if retryCount < 1 {
		retryCount = 1
	}
	count := cfg.Count
	if count < 1 {
		count = 1
	}
	return &Provider{
		apiKey:   cfg.APIKey,
		endpoint: cfg.APIEndpoint,
		client: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		retryCount: retryCount,
		count:      count,
		retryBase:  time.Second,
		logger:     logger,
	}
}

func (p *Provider) Name() string { return "api" }

// GetProxy 获取代理 IP
func (p *Provider) GetProxy(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("proxy API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("proxy API returned %d: %w", resp.StatusCode, utils.ErrUnexpectedStatus)
	}

	var proxyResp ProxyResponse
	if err := json.NewDecoder(resp.Body).Decode(&proxyResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if proxyResp.IP == "" || proxyResp.Port == 0 {
		return "", utils.ErrNoProxy
	}

	p.logger.Debug("Got proxy from API", zap.String("ip", proxyResp.IP))
	return proxyResp.URL(), nil
}

// GetProxyWithRetry 带重试的获取代理
func (p *Provider) GetProxyWithRetry(ctx context.Context) (string, error) {
	var lastErr error

	for i := 0; i < p.retryCount; i++ {
		proxy, err := p.GetProxy(ctx)
		if err == nil {
			return proxy, nil
		}

		lastErr = err
		p.logger.Warn("Failed to get proxy",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", p.retryCount),
			zap.Error(err))

		if i == p.retryCount-1 {
			break
		}

		// 指数退避
		waitTime := time.Duration(math.Pow(2, float64(i))) * p.retryBase
		select {
		case <-time.After(waitTime):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	return "", fmt.Errorf("failed to get proxy after %d attempts: %w", p.retryCount, lastErr)
}

// Fetch 拉取 count 个代理, 部分失败时返回已获取的部分
func (p *Provider) Fetch(ctx context.Context) ([]string, error) {
	var (
		proxies []string
		lastErr error
	)
	for i := 0; i < p.count; i++ {
		proxy, err := p.GetProxyWithRetry(ctx)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		proxies = append(proxies, proxy)
	}
	if len(proxies) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return proxies, nil
}

// RedisSource 从 Redis set 读取代理池, 由外部进程维护
type RedisSource struct {
	client *redis.Client
	key    string
}

// NewRedisSource 创建 Redis 代理来源
func NewRedisSource(client *redis.Client, key string) *RedisSource {
	return &RedisSource{client: client, key: key}
}

func (s *RedisSource) Name() string { return "redis" }

// Fetch 读取 set 中的全部代理
func (s *RedisSource) Fetch(ctx context.Context) ([]string, error) {
	members, err := s.client.SMembers(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read proxy set %s: %w", s.key, err)
	}
	return members, nil
}
