package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config 应用配置
type Config struct {
	Server    ServerConfig              `yaml:"server"`
	Redis     RedisConfig               `yaml:"redis"`
	Logging   LoggingConfig             `yaml:"logging"`
	Proxy     ProxyConfig               `yaml:"proxy"`
	Request   RequestConfig             `yaml:"request"`
	Search    SearchConfig              `yaml:"search"`
	Download  DownloadConfig            `yaml:"download"`
	Analysis  AnalysisConfig            `yaml:"analysis"`
	RateLimit RateLimitConfig           `yaml:"rate_limit"`
	CORS      CORSConfig                `yaml:"cors"`
	Platforms map[string]PlatformConfig `yaml:"platforms"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port         int    `yaml:"port"`
	Mode         string `yaml:"mode"`          // debug, release
	ReadTimeout  int    `yaml:"read_timeout"`  // 秒
	WriteTimeout int    `yaml:"write_timeout"` // 秒
}

// RedisConfig Redis配置, Addr 为空时禁用
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, console
}

// ProxyConfig 代理池配置
type ProxyConfig struct {
	SwitchInterval  int               `yaml:"switch_interval"` // 秒
	Endpoints       []string          `yaml:"endpoints"`       // 静态代理
	RedisKey        string            `yaml:"redis_key"`       // Redis set 形式的代理池
	RefreshSchedule string            `yaml:"refresh_schedule"`
	Provider        ProxyProviderConf `yaml:"provider"`
	HealthCheck     HealthCheckConfig `yaml:"health_check"`
}

// ProxyProviderConf 代理 API 提供者
type ProxyProviderConf struct {
	APIEndpoint string `yaml:"api_endpoint"`
	APIKey      string `yaml:"api_key"`
	Timeout     int    `yaml:"timeout"` // 秒
	RetryCount  int    `yaml:"retry_count"`
	Count       int    `yaml:"count"` // 每次刷新拉取的代理数
}

// HealthCheckConfig 代理健康检查
type HealthCheckConfig struct {
	Enabled bool   `yaml:"enabled"`
	TestURL string `yaml:"test_url"`
	Timeout int    `yaml:"timeout"` // 秒
}

// RequestConfig 请求层默认配置
type RequestConfig struct {
	MinDelayMs int    `yaml:"min_delay_ms"`
	MaxDelayMs int    `yaml:"max_delay_ms"`
	Timeout    int    `yaml:"timeout"` // 秒
	UserAgent  string `yaml:"user_agent"`
}

// SearchConfig 搜索编排配置
type SearchConfig struct {
	MaxResultsPerPlatform int `yaml:"max_results_per_platform"`
	AdapterTimeout        int `yaml:"adapter_timeout"` // 秒, 0 表示不限制
}

// DownloadConfig 下载配置
type DownloadConfig struct {
	OutputDir        string        `yaml:"output_dir"`
	Concurrent       int           `yaml:"concurrent"`
	MaxRetries       int           `yaml:"max_retries"`
	ChunkSize        int           `yaml:"chunk_size"`
	InitialBackoffMs int           `yaml:"initial_backoff_ms"`
	MaxBackoffMs     int           `yaml:"max_backoff_ms"`
	Timeout          int           `yaml:"timeout"` // 单次传输超时(秒)
	Cleanup          CleanupConfig `yaml:"cleanup"`
}

// CleanupConfig 残留临时文件清理配置
type CleanupConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"` // cron 表达式
	MaxAge   int    `yaml:"max_age"`  // 秒
}

// AnalysisConfig 内容分析配置
type AnalysisConfig struct {
	Enabled      bool   `yaml:"enabled"`
	GeminiAPIKey string `yaml:"gemini_api_key"`
	Model        string `yaml:"model"`
	Concurrency  int    `yaml:"concurrency"`
}

// RateLimitConfig 接口限流配置
type RateLimitConfig struct {
	GlobalRPS int `yaml:"global_rps"`
	IPRPS     int `yaml:"ip_rps"`
	Burst     int `yaml:"burst"`
}

// CORSConfig CORS 配置
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// PlatformConfig 平台特定配置, 在构造适配器时只读使用
type PlatformConfig struct {
	Enabled       bool              `yaml:"enabled"`
	BaseURL       string            `yaml:"base_url"`
	SearchURL     string            `yaml:"search_url"`
	Headers       map[string]string `yaml:"headers"`
	APIKey        string            `yaml:"api_key"`
	EnrichDetails *bool             `yaml:"enrich_details"` // nil 时使用适配器默认值
	RateLimit     PlatformRateLimit `yaml:"rate_limit"`
}

// PlatformRateLimit 平台请求间隔
type PlatformRateLimit struct {
	MinDelayMs int `yaml:"min_delay_ms"`
	MaxDelayMs int `yaml:"max_delay_ms"`
}

// LoadConfig 加载配置文件, configPath 为空时只使用默认值和环境变量
func LoadConfig(configPath string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Default 返回仅包含默认值的配置
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// applyEnv 从环境变量覆盖配置
func (c *Config) applyEnv() {
	// Redis 配置
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		c.Redis.Addr = redisAddr
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		c.Redis.Password = redisPassword
	}

	// 代理配置
	if proxyAPIKey := os.Getenv("PROXY_API_KEY"); proxyAPIKey != "" {
		c.Proxy.Provider.APIKey = proxyAPIKey
	}
	if proxies := os.Getenv("PROXY_ENDPOINTS"); proxies != "" {
		for _, p := range strings.Split(proxies, ",") {
			if p = strings.TrimSpace(p); p != "" {
				c.Proxy.Endpoints = append(c.Proxy.Endpoints, p)
			}
		}
	}

	// 平台密钥
	if c.Platforms == nil {
		c.Platforms = make(map[string]PlatformConfig)
	}
	setPlatformKey := func(platform, env string) {
		if key := os.Getenv(env); key != "" {
			p := c.Platforms[platform]
			p.APIKey = key
			c.Platforms[platform] = p
		}
	}
	setPlatformKey("youtube", "YOUTUBE_API_KEY")
	setPlatformKey("facebook", "FACEBOOK_ACCESS_TOKEN")

	// 内容分析
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Analysis.GeminiAPIKey = key
	}
}

// applyDefaults 设置默认值
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 300
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 10
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Proxy.SwitchInterval == 0 {
		c.Proxy.SwitchInterval = 300
	}
	if c.Proxy.RefreshSchedule == "" {
		c.Proxy.RefreshSchedule = "@every 10m"
	}
	if c.Proxy.Provider.Timeout == 0 {
		c.Proxy.Provider.Timeout = 10
	}
	if c.Proxy.Provider.RetryCount == 0 {
		c.Proxy.Provider.RetryCount = 3
	}
	if c.Proxy.HealthCheck.TestURL == "" {
		c.Proxy.HealthCheck.TestURL = "https://www.google.com/generate_204"
	}
	if c.Proxy.HealthCheck.Timeout == 0 {
		c.Proxy.HealthCheck.Timeout = 5
	}

	if c.Request.MinDelayMs == 0 && c.Request.MaxDelayMs == 0 {
		c.Request.MinDelayMs = 1000
		c.Request.MaxDelayMs = 3000
	}
	if c.Request.Timeout == 0 {
		c.Request.Timeout = 30
	}

	if c.Search.MaxResultsPerPlatform == 0 {
		c.Search.MaxResultsPerPlatform = 10
	}

	if c.Download.OutputDir == "" {
		c.Download.OutputDir = "downloads"
	}
	if c.Download.Concurrent == 0 {
		c.Download.Concurrent = 3
	}
	if c.Download.MaxRetries == 0 {
		c.Download.MaxRetries = 3
	}
	if c.Download.ChunkSize == 0 {
		c.Download.ChunkSize = 8 * 1024
	}
	if c.Download.InitialBackoffMs == 0 {
		c.Download.InitialBackoffMs = 1000
	}
	if c.Download.MaxBackoffMs == 0 {
		c.Download.MaxBackoffMs = 10000
	}
	if c.Download.Timeout == 0 {
		c.Download.Timeout = 600
	}
	if c.Download.Cleanup.Schedule == "" {
		c.Download.Cleanup.Schedule = "@every 1h"
	}
	if c.Download.Cleanup.MaxAge == 0 {
		c.Download.Cleanup.MaxAge = 86400
	}

	if c.Analysis.Model == "" {
		c.Analysis.Model = "gemini-2.5-flash"
	}
	if c.Analysis.Concurrency == 0 {
		c.Analysis.Concurrency = 4
	}

	if c.RateLimit.GlobalRPS == 0 {
		c.RateLimit.GlobalRPS = 50
	}
	if c.RateLimit.IPRPS == 0 {
		c.RateLimit.IPRPS = 5
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 10
	}

	// 未配置任何平台时默认全部启用
	if len(c.Platforms) == 0 {
		c.Platforms = make(map[string]PlatformConfig)
		for _, name := range []string{"youtube", "bilibili", "tiktok", "weibo", "facebook"} {
			c.Platforms[name] = PlatformConfig{Enabled: true}
		}
	}
}

func (c *Config) validate() error {
	if c.Request.MinDelayMs < 0 || c.Request.MaxDelayMs < c.Request.MinDelayMs {
		return fmt.Errorf("request delay range [%d, %d] is invalid", c.Request.MinDelayMs, c.Request.MaxDelayMs)
	}
	for name, p := range c.Platforms {
		if p.RateLimit.MaxDelayMs != 0 && p.RateLimit.MaxDelayMs < p.RateLimit.MinDelayMs {
			return fmt.Errorf("platform %s: rate_limit max_delay_ms < min_delay_ms", name)
		}
	}
	if c.Download.Concurrent < 1 {
		return fmt.Errorf("download.concurrent must be >= 1")
	}
	if c.Download.MaxRetries < 1 {
		return fmt.Errorf("download.max_retries must be >= 1")
	}
	if c.Download.ChunkSize < 1 {
		return fmt.Errorf("download.chunk_size must be >= 1")
	}
	return nil
}

// GetSwitchInterval 代理切换间隔
func (c *ProxyConfig) GetSwitchInterval() time.Duration {
	return time.Duration(c.SwitchInterval) * time.Second
}

// GetTimeout 获取超时时间
func (c *RequestConfig) GetTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// GetAdapterTimeout 单个平台搜索超时
func (c *SearchConfig) GetAdapterTimeout() time.Duration {
	return time.Duration(c.AdapterTimeout) * time.Second
}

// GetTimeout 单次下载超时
func (c *DownloadConfig) GetTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// Delays 返回平台生效的请求间隔, 未配置时回落到全局请求配置
func (p PlatformConfig) Delays(fallback RequestConfig) (time.Duration, time.Duration) {
	minMs, maxMs := p.RateLimit.MinDelayMs, p.RateLimit.MaxDelayMs
	if minMs == 0 && maxMs == 0 {
		minMs, maxMs = fallback.MinDelayMs, fallback.MaxDelayMs
	}
	if maxMs < minMs {
		maxMs = minMs
	}
	return time.Duration(minMs) * time.Millisecond, time.Duration(maxMs) * time.Millisecond
}

// Enrich 是否对搜索结果逐条拉取详情
func (p PlatformConfig) Enrich(def bool) bool {
	if p.EnrichDetails == nil {
		return def
	}
	return *p.EnrichDetails
}
