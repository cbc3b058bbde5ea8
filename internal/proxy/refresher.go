package proxy

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"vasset/crawler/internal/utils"
)

// Checker 代理健康检查
type Checker struct {
	testURL string
	timeout time.Duration
}

// NewChecker 创建健康检查器
func NewChecker(testURL string, timeout time.Duration) *Checker {
	return &Checker{testURL: testURL, timeout: timeout}
}

// CheckHealth 通过代理请求测试地址, 2xx/3xx 认为健康
func (c *Checker) CheckHealth(ctx context.Context, proxyURL string) (bool, error) {
	parsedProxyURL, err := url.Parse(proxyURL)
	if err != nil {
		return false, fmt.Errorf("invalid proxy URL: %w", err)
	}

	// 创建使用代理的 HTTP 客户端
	transport := &http.Transport{
		Proxy: http.ProxyURL(parsedProxyURL),
	}
	defer transport.CloseIdleConnections()
	client := &http.Client{
		Transport: transport,
		Timeout:   c.timeout,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.testURL, nil)
	if err != nil {
		return false, fmt.Errorf("create request failed: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return false, fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 400, nil
}

// Refresher 定时从各来源刷新代理池
type Refresher struct {
	manager *Manager
	sources []Source
	checker *Checker
	cron    *cron.Cron
	logger  *zap.Logger
}

// NewRefresher 创建代理刷新器, checker 为 nil 时跳过健康检查
func NewRefresher(manager *Manager, sources []Source, checker *Checker, logger *zap.Logger) *Refresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refresher{
		manager: manager,
		sources: sources,
		checker: checker,
		cron:    cron.New(),
		logger:  logger,
	}
}

// Refresh 立即刷新一次, 所有来源都为空时保留现有代理池
func (r *Refresher) Refresh(ctx context.Context) int {
	var collected []string
	for _, src := range r.sources {
		endpoints, err := src.Fetch(ctx)
		if err != nil {
			r.logger.Warn("Proxy source failed", zap.String("source", src.Name()), zap.Error(err))
			continue
		}
		for _, ep := range endpoints {
			if !slices.Contains(collected, ep) {
				collected = append(collected, ep)
			}
		}
	}

	if r.checker != nil {
		collected = r.healthy(ctx, collected)
	}

	if len(collected) == 0 {
		r.logger.Warn("No proxies collected, keeping current pool", zap.Int("pool_size", r.manager.Len()))
		return r.manager.Len()
	}

	r.manager.Replace(collected)
	r.logger.Info("Proxy pool refreshed", zap.Int("pool_size", r.manager.Len()))
	return r.manager.Len()
}

// healthy 并发检查代理, 保持原有顺序
func (r *Refresher) healthy(ctx context.Context, endpoints []string) []string {
	ok := make([]bool, len(endpoints))
	var wg sync.WaitGroup
	for i, ep := range endpoints {
		wg.Add(1)
		go func(i int, ep string) {
			defer wg.Done()
			healthy, err := r.checker.CheckHealth(ctx, ep)
			if err != nil {
				r.logger.Debug("Proxy health check failed", zap.String("proxy", utils.MaskProxy(ep)), zap.Error(err))
			}
			ok[i] = healthy
		}(i, ep)
	}
	wg.Wait()

	var result []string
	for i, ep := range endpoints {
		if ok[i] {
			result = append(result, ep)
		}
	}
	return result
}

// Start 立即刷新一次并按 cron 表达式定时刷新
func (r *Refresher) Start(ctx context.Context, schedule string) error {
	r.Refresh(ctx)

	_, err := r.cron.AddFunc(schedule, func() {
		r.Refresh(ctx)
	})
	if err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", schedule, err)
	}

	r.cron.Start()
	r.logger.Info("Proxy refresher started", zap.String("schedule", schedule))
	return nil
}

// Stop 停止定时刷新, 等待进行中的任务结束
func (r *Refresher) Stop() {
	<-r.cron.Stop().Done()
	r.logger.Info("Proxy refresher stopped")
}
