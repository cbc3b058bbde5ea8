package adapter

import (
	"io"
	"sort"
	"sync"

	"go.uber.org/zap"

	"vasset/crawler/internal/config"
	"vasset/crawler/internal/models"
	"vasset/crawler/internal/request"
)

// Constructor 适配器构造函数
type Constructor func(deps Dependencies) (Adapter, error)

// builtins 内置平台
var builtins = map[string]Constructor{
	youtubeName:  NewYouTube,
	bilibiliName: NewBilibili,
	tiktokName:   NewTikTok,
	weiboName:    NewWeibo,
	facebookName: NewFacebook,
}

// Factory 平台名到适配器的注册表
//
// 实例按平台缓存, 同一平台的限速状态在多次搜索之间保持。
type Factory struct {
	mu           sync.Mutex
	constructors map[string]Constructor
	instances    map[string]Adapter
	deps         map[string]Dependencies
	defaults     Dependencies
	logger       *zap.Logger
}

// NewFactory 创建空的适配器工厂
func NewFactory(reqCfg config.RequestConfig, proxy request.ProxySource, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{
		constructors: make(map[string]Constructor),
		instances:    make(map[string]Adapter),
		deps:         make(map[string]Dependencies),
		defaults:     Dependencies{Request: reqCfg, Proxy: proxy, Logger: logger},
		logger:       logger,
	}
}

// NewDefaultFactory 按配置注册启用的内置平台
func NewDefaultFactory(cfg *config.Config, proxy request.ProxySource, logger *zap.Logger) *Factory {
	f := NewFactory(cfg.Request, proxy, logger)
	for name, pc := range cfg.Platforms {
		name = models.NormalizePlatform(name)
		ctor, ok := builtins[name]
		if !ok {
			f.logger.Warn("Unknown platform in config", zap.String("platform", name))
			continue
		}
		if !pc.Enabled {
			continue
		}
		f.RegisterWithConfig(name, ctor, pc)
	}
	return f
}

// Register 注册平台, 名称为空或构造函数为 nil 时拒绝
func (f *Factory) Register(name string, ctor Constructor) bool {
	return f.RegisterWithConfig(name, ctor, config.PlatformConfig{Enabled: true})
}

// RegisterWithConfig 注册平台并指定平台配置
func (f *Factory) RegisterWithConfig(name string, ctor Constructor, pc config.PlatformConfig) bool {
	key := models.NormalizePlatform(name)
	if key == "" || ctor == nil {
		f.logger.Warn("Rejected adapter registration", zap.String("platform", name))
		return false
	}

	deps := f.defaults
	deps.Platform = pc

	f.mu.Lock()
	defer f.mu.Unlock()

	if old, ok := f.instances[key]; ok {
		closeAdapter(old)
		delete(f.instances, key)
	}
	f.constructors[key] = ctor
	f.deps[key] = deps
	return true
}

// Create 按平台名(不区分大小写)获取适配器, 未知平台或构造失败时返回 nil
func (f *Factory) Create(name string) Adapter {
	key := models.NormalizePlatform(name)

	f.mu.Lock()
	defer f.mu.Unlock()

	if a, ok := f.instances[key]; ok {
		return a
	}

	ctor, ok := f.constructors[key]
	if !ok {
		f.logger.Warn("Unsupported platform", zap.String("platform", name))
		return nil
	}

	a, err := ctor(f.deps[key])
	if err != nil {
		f.logger.Error("Failed to create adapter", zap.String("platform", key), zap.Error(err))
		return nil
	}
	if a == nil {
		f.logger.Error("Adapter constructor returned nil", zap.String("platform", key))
		return nil
	}

	f.instances[key] = a
	return a
}

// SupportedPlatforms 已注册平台(排序)
func (f *Factory) SupportedPlatforms() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	names := make([]string, 0, len(f.constructors))
	for name := range f.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close 释放所有已创建适配器的会话
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for key, a := range f.instances {
		closeAdapter(a)
		delete(f.instances, key)
	}
	return nil
}

func closeAdapter(a Adapter) {
	if c, ok := a.(io.Closer); ok {
		_ = c.Close()
	}
}
