package proxy

import (
	"math/rand"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"vasset/crawler/internal/utils"
)

// DefaultSwitchInterval 默认代理切换间隔
const DefaultSwitchInterval = 300 * time.Second

// Manager 代理池, 按时间间隔轮换当前代理
//
// 池内容、当前代理和上次切换时间由同一把锁保护, 并发的搜索任务同时调用
// Current 时最多发生一次轮换。
type Manager struct {
	mu         sync.Mutex
	endpoints  []string
	current    string
	lastSwitch time.Time
	interval   time.Duration

	now    func() time.Time
	rnd    *rand.Rand
	logger *zap.Logger
}

// Option 代理池选项
type Option func(*Manager)

// WithClock 替换时钟(测试用)
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithRand 替换随机源(测试用)
func WithRand(r *rand.Rand) Option {
	return func(m *Manager) { m.rnd = r }
}

// NewManager 创建代理池, interval<=0 时使用默认间隔
func NewManager(interval time.Duration, logger *zap.Logger, opts ...Option) *Manager {
	if interval <= 0 {
		interval = DefaultSwitchInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		interval: interval,
		now:      time.Now,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Add 添加代理, 非法或重复的地址被忽略
func (m *Manager) Add(endpoint string) {
	if !utils.IsValidProxyURL(endpoint) {
		m.logger.Warn("Ignoring invalid proxy endpoint", zap.String("endpoint", utils.MaskProxy(endpoint)))
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if slices.Contains(m.endpoints, endpoint) {
		return
	}
	m.endpoints = append(m.endpoints, endpoint)
}

// Remove 移除代理, 不存在时无操作
func (m *Manager) Remove(endpoint string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := slices.Index(m.endpoints, endpoint)
	if idx < 0 {
		return
	}
	m.endpoints = slices.Delete(m.endpoints, idx, idx+1)
	if m.current == endpoint {
		m.current = ""
	}
}

// Clear 清空代理池
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endpoints = nil
	m.current = ""
}

// Replace 整体替换代理池, 当前代理仍在新池中时保持不变
func (m *Manager) Replace(endpoints []string) {
	valid := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		if utils.IsValidProxyURL(ep) && !slices.Contains(valid, ep) {
			valid = append(valid, ep)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.endpoints = valid
	if !slices.Contains(valid, m.current) {
		m.current = ""
	}
}

// Len 代理数量
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.endpoints)
}

// Endpoints 返回代理池快照
func (m *Manager) Endpoints() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.endpoints)
}

// Current 返回当前代理, 池为空时返回 false
func (m *Manager) Current() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.endpoints) == 0 {
		return "", false
	}

	now := m.now()
	switch {
	case m.current == "":
		m.current = m.endpoints[m.rnd.Intn(len(m.endpoints))]
		m.lastSwitch = now
	case len(m.endpoints) > 1 && now.Sub(m.lastSwitch) >= m.interval:
		m.current = m.pickOther()
		m.lastSwitch = now
		m.logger.Debug("Rotated proxy", zap.String("proxy", utils.MaskProxy(m.current)))
	}
	return m.current, true
}

// pickOther 在当前代理之外均匀随机选择一个, 调用方持有锁
func (m *Manager) pickOther() string {
	candidates := make([]string, 0, len(m.endpoints)-1)
	for _, ep := range m.endpoints {
		if ep != m.current {
			candidates = append(candidates, ep)
		}
	}
	return candidates[m.rnd.Intn(len(candidates))]
}
