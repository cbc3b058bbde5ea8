package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"vasset/crawler/internal/adapter"
	"vasset/crawler/internal/analysis"
	"vasset/crawler/internal/download"
	"vasset/crawler/internal/models"
	"vasset/crawler/internal/scorer"
	"vasset/crawler/internal/utils"
)

// State 单次搜索所处阶段
type State int

const (
	StateIdle State = iota
	StateDispatching
	StateCollecting
	StateScoring
	StateFiltering
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDispatching:
		return "dispatching"
	case StateCollecting:
		return "collecting"
	case StateScoring:
		return "scoring"
	case StateFiltering:
		return "filtering"
	case StateDone:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Resolver 平台名到适配器的解析
type Resolver interface {
	Create(name string) adapter.Adapter
	SupportedPlatforms() []string
}

// Downloader 下载阶段
type Downloader interface {
	DownloadVideos(ctx context.Context, videos []*models.Video, outputDir string) (*download.Result, error)
}

// Options 搜索编排配置
type Options struct {
	AdapterTimeout      time.Duration // 单个平台超时, 0 表示不限制
	AnalysisConcurrency int
}

// Manager 多平台搜索编排
type Manager struct {
	resolver   Resolver
	analyzer   analysis.Analyzer
	downloader Downloader
	opts       Options
	onState    func(State)
	logger     *zap.Logger
}

// NewManager 创建搜索管理器, analyzer 和 downloader 可以为 nil
func NewManager(resolver Resolver, analyzer analysis.Analyzer, downloader Downloader, opts Options, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.AnalysisConcurrency < 1 {
		opts.AnalysisConcurrency = 4
	}
	return &Manager{
		resolver:   resolver,
		analyzer:   analyzer,
		downloader: downloader,
		opts:       opts,
		logger:     logger,
	}
}

// OnState 注册阶段变化回调, 需在开始搜索前设置; 并发搜索时回调需自行保证线程安全
func (m *Manager) OnState(fn func(State)) {
	m.onState = fn
}

func (m *Manager) enter(s State) {
	if m.onState != nil {
		m.onState(s)
	}
}

// slot 单个平台的分发结果
type slot struct {
	platform string
	videos   []*models.Video
}

// Search 并发搜索所有目标平台, 返回去重并按相关度排序的结果
//
// 只有请求本身不合法时返回错误; 单个平台失败只记录日志。
func (m *Manager) Search(ctx context.Context, req models.SearchRequest) ([]*models.Video, error) {
	return m.search(ctx, req, nil)
}

// search Filtering 阶段先去重, filter 不为 nil 时再按条件过滤
func (m *Manager) search(ctx context.Context, req models.SearchRequest, filter *models.Filter) ([]*models.Video, error) {
	m.enter(StateIdle)
	if err := req.Validate(); err != nil {
		return nil, err
	}

	// 1. 解析平台
	m.enter(StateDispatching)
	adapters := m.resolve(req.Platforms)
	if len(adapters) == 0 {
		m.logger.Warn("No resolvable platforms", zap.Strings("requested", req.Platforms))
		m.enter(StateDone)
		return []*models.Video{}, nil
	}

	// 2. 并发分发, 结果按分发顺序落槽
	slots := make([]slot, len(adapters))
	var g errgroup.Group
	for i, a := range adapters {
		g.Go(func() error {
			slots[i] = slot{platform: a.Name(), videos: m.dispatch(ctx, a, req)}
			return nil
		})
	}

	// 3. 收集
	m.enter(StateCollecting)
	_ = g.Wait()

	var merged []*models.Video
	for _, s := range slots {
		merged = append(merged, s.videos...)
	}

	// 4. 可选内容分析
	var analyses []*analysis.Result
	if req.AnalyzeContent && m.analyzer != nil && len(merged) > 0 {
		analyses = m.analyze(ctx, merged, req.Query)
	}

	// 5. 打分
	m.enter(StateScoring)
	for i, v := range merged {
		score := scorer.Score(v, req.Query)
		if analyses != nil && analyses[i] != nil && analyses[i].RelevanceScore != nil {
			score = scorer.Blend(score, *analyses[i].RelevanceScore)
		}
		v.SetScore(score)
	}

	// 6. 排序: 分数降序, 播放量降序, 其余保持分发顺序
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Score() != merged[j].Score() {
			return merged[i].Score() > merged[j].Score()
		}
		return merged[i].ViewCount > merged[j].ViewCount
	})

	// 7. 跨平台去重与条件过滤
	m.enter(StateFiltering)
	result := dedupe(merged)
	if filter != nil {
		result = FilterVideos(result, *filter)
	}

	m.enter(StateDone)
	m.logger.Info("Search completed",
		zap.String("query", req.Query),
		zap.Int("platforms", len(adapters)),
		zap.Int("results", len(result)))
	return result, nil
}

// resolve 按请求顺序解析平台, 未知平台跳过
func (m *Manager) resolve(requested []string) []adapter.Adapter {
	names := requested
	if len(names) == 0 {
		names = m.resolver.SupportedPlatforms()
	}

	seen := make(map[string]bool, len(names))
	adapters := make([]adapter.Adapter, 0, len(names))
	for _, name := range names {
		key := models.NormalizePlatform(name)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true

		a := m.resolver.Create(key)
		if a == nil {
			m.logger.Warn("Skipping unresolvable platform", zap.String("platform", name))
			continue
		}
		adapters = append(adapters, a)
	}
	return adapters
}

// dispatch 调用单个平台, 错误和 panic 都被隔离
func (m *Manager) dispatch(ctx context.Context, a adapter.Adapter, req models.SearchRequest) (videos []*models.Video) {
	platform := a.Name()
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Adapter panicked", zap.String("platform", platform), zap.Any("panic", r))
			videos = nil
		}
	}()

	if m.opts.AdapterTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.AdapterTimeout)
		defer cancel()
	}

	videos, err := a.SearchVideos(ctx, req.Query, req.MaxResultsPerPlatform)
	if err != nil {
		// 超时或取消时保留已归一化的部分结果
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			m.logger.Warn("Adapter interrupted, keeping partial results",
				zap.String("platform", platform),
				zap.Int("partial", len(videos)),
				zap.Error(err))
		} else {
			m.logger.Error("Adapter failed",
				zap.String("platform", platform),
				zap.Int("status", utils.StatusCode(err)),
				zap.Error(err))
			return nil
		}
	}

	// 丢弃 nil 记录, 之后的分析、打分和排序不再判空
	kept := make([]*models.Video, 0, len(videos))
	for _, v := range videos {
		if v == nil {
			continue
		}
		if v.Platform == "" {
			v.Platform = platform
		}
		kept = append(kept, v)
	}
	videos = kept
	if len(videos) > req.MaxResultsPerPlatform {
		videos = videos[:req.MaxResultsPerPlatform]
	}

	m.logger.Debug("Adapter finished",
		zap.String("platform", platform),
		zap.Int("videos", len(videos)),
		zap.Duration("elapsed", time.Since(start)))
	return videos
}

// analyze 并发执行内容分析, 失败只记录日志
func (m *Manager) analyze(ctx context.Context, videos []*models.Video, query string) []*analysis.Result {
	results := make([]*analysis.Result, len(videos))

	var g errgroup.Group
	g.SetLimit(m.opts.AnalysisConcurrency)
	for i, v := range videos {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("Analyzer panicked", zap.String("video", v.Key()), zap.Any("panic", r))
				}
			}()
			res, err := m.analyzer.Analyze(ctx, v, query)
			if err != nil {
				m.logger.Warn("Content analysis failed", zap.String("video", v.Key()), zap.Error(err))
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// dedupe 保留每个 (platform,id) 的第一次出现, 同时丢弃缺少平台或 ID 的记录
func dedupe(videos []*models.Video) []*models.Video {
	seen := make(map[string]struct{}, len(videos))
	result := make([]*models.Video, 0, len(videos))
	for _, v := range videos {
		if v == nil || v.Platform == "" || v.ID == "" {
			continue
		}
		if _, ok := seen[v.Key()]; ok {
			continue
		}
		seen[v.Key()] = struct{}{}
		result = append(result, v)
	}
	return result
}

// Run 执行一次完整查询: 搜索、过滤、可选下载
func (m *Manager) Run(ctx context.Context, q models.Query) (*models.Outcome, error) {
	if err := q.Filter.Validate(); err != nil {
		return nil, err
	}
	if q.Download && m.downloader == nil {
		return nil, &utils.InvalidRequestError{Field: "download", Reason: "is not available"}
	}

	videos, err := m.search(ctx, q.Request, &q.Filter)
	if err != nil {
		return nil, err
	}

	outcome := &models.Outcome{Videos: videos}
	if !q.Download || len(videos) == 0 {
		return outcome, nil
	}

	res, err := m.downloader.DownloadVideos(ctx, videos, q.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("download stage failed: %w", err)
	}
	outcome.BatchID = res.BatchID
	outcome.Downloads = res.Paths
	if len(res.Failed) > 0 {
		outcome.Failed = make(map[string]string, len(res.Failed))
		for key, ferr := range res.Failed {
			outcome.Failed[key] = ferr.Error()
		}
	}
	return outcome, nil
}
