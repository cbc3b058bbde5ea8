package search

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vasset/crawler/internal/adapter"
	"vasset/crawler/internal/analysis"
	"vasset/crawler/internal/download"
	"vasset/crawler/internal/models"
	"vasset/crawler/internal/utils"
)

type fakeAdapter struct {
	name   string
	videos []*models.Video
	err    error
	delay  time.Duration
	panics bool
	block  bool

	calls  *atomic.Int32
	active *atomic.Int32
	peak   *atomic.Int32
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) SearchVideos(ctx context.Context, query string, max int) ([]*models.Video, error) {
	if f.calls != nil {
		f.calls.Add(1)
	}
	if f.active != nil {
		n := f.active.Add(1)
		defer f.active.Add(-1)
		for {
			p := f.peak.Load()
			if n <= p || f.peak.CompareAndSwap(p, n) {
				break
			}
		}
	}
	if f.panics {
		panic("adapter exploded")
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	out := make([]*models.Video, 0, len(f.videos))
	for _, v := range f.videos {
		if v == nil {
			out = append(out, nil)
			continue
		}
		out = append(out, v.Clone())
	}
	if f.block {
		<-ctx.Done()
		return out, ctx.Err()
	}
	if len(out) > max {
		out = out[:max]
	}
	return out, f.err
}

func (f *fakeAdapter) GetVideoInfo(context.Context, string) (*models.VideoDetail, error) {
	return &models.VideoDetail{}, nil
}

type fakeResolver struct {
	adapters map[string]adapter.Adapter
}

func (r *fakeResolver) Create(name string) adapter.Adapter {
	a, ok := r.adapters[models.NormalizePlatform(name)]
	if !ok {
		return nil
	}
	return a
}

func (r *fakeResolver) SupportedPlatforms() []string {
	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func resolverOf(adapters ...*fakeAdapter) *fakeResolver {
	r := &fakeResolver{adapters: map[string]adapter.Adapter{}}
	for _, a := range adapters {
		r.adapters[a.name] = a
	}
	return r
}

func video(platform, id, title string, views int64) *models.Video {
	return &models.Video{Platform: platform, ID: id, Title: title, ViewCount: views}
}

func keys(videos []*models.Video) []string {
	out := make([]string, len(videos))
	for i, v := range videos {
		out[i] = v.Key()
	}
	return out
}

func TestSearchPythonTutorialScenario(t *testing.T) {
	yt := &fakeAdapter{name: "youtube"}
	bl := &fakeAdapter{name: "bilibili"}
	for i := 0; i < 8; i++ {
		yt.videos = append(yt.videos, video("youtube", string(rune('a'+i)), "Python tutorial part", int64(i*1000)))
		bl.videos = append(bl.videos, video("bilibili", string(rune('a'+i)), "python 教程", int64(i*500)))
	}
	other := &fakeAdapter{name: "weibo", videos: []*models.Video{video("weibo", "w", "python tutorial", 1)}}

	m := NewManager(resolverOf(yt, bl, other), nil, nil, Options{}, nil)
	req := models.NewSearchRequest("python tutorial", "youtube", "bilibili")
	req.MaxResultsPerPlatform = 5

	videos, err := m.Search(context.Background(), req)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(videos), 10)
	assert.NotEmpty(t, videos)
	for _, v := range videos {
		assert.Contains(t, []string{"youtube", "bilibili"}, v.Platform)
		require.NotNil(t, v.RelevanceScore)
		assert.GreaterOrEqual(t, *v.RelevanceScore, 0.0)
		assert.LessOrEqual(t, *v.RelevanceScore, 1.0)
	}
}

func TestSearchIsolatesFailingAdapter(t *testing.T) {
	good := &fakeAdapter{name: "youtube", videos: []*models.Video{video("youtube", "1", "go", 10)}}
	bad := &fakeAdapter{name: "tiktok", err: &utils.AdapterError{Platform: "tiktok", Op: "search", Err: errors.New("down")}}
	boom := &fakeAdapter{name: "weibo", panics: true}

	m := NewManager(resolverOf(good, bad, boom), nil, nil, Options{}, nil)
	videos, err := m.Search(context.Background(), models.NewSearchRequest("go"))
	require.NoError(t, err)
	assert.Equal(t, []string{"youtube:1"}, keys(videos))
}

func TestSearchRejectsInvalidRequestBeforeDispatch(t *testing.T) {
	var calls atomic.Int32
	a := &fakeAdapter{name: "youtube", calls: &calls}
	m := NewManager(resolverOf(a), nil, nil, Options{}, nil)

	_, err := m.Search(context.Background(), models.NewSearchRequest("   "))
	assert.ErrorIs(t, err, utils.ErrInvalidRequest)

	req := models.NewSearchRequest("go")
	req.MaxResultsPerPlatform = 0
	_, err = m.Search(context.Background(), req)
	var invalid *utils.InvalidRequestError
	assert.True(t, errors.As(err, &invalid))
	assert.Equal(t, int32(0), calls.Load())
}

func TestSearchNoResolvablePlatforms(t *testing.T) {
	m := NewManager(resolverOf(), nil, nil, Options{}, nil)
	videos, err := m.Search(context.Background(), models.NewSearchRequest("go", "myspace"))
	require.NoError(t, err)
	assert.Empty(t, videos)
}

func TestSearchOrderIndependentOfCompletionTiming(t *testing.T) {
	build := func(ytDelay, blDelay time.Duration) *Manager {
		yt := &fakeAdapter{name: "youtube", delay: ytDelay, videos: []*models.Video{
			video("youtube", "1", "go", 100),
			video("youtube", "2", "go", 100),
			video("youtube", "3", "rust", 5000),
		}}
		bl := &fakeAdapter{name: "bilibili", delay: blDelay, videos: []*models.Video{
			video("bilibili", "1", "go", 100),
			video("bilibili", "2", "go", 900),
		}}
		return NewManager(resolverOf(yt, bl), nil, nil, Options{}, nil)
	}
	req := models.NewSearchRequest("go", "youtube", "bilibili")

	fast, err := build(0, 30*time.Millisecond).Search(context.Background(), req)
	require.NoError(t, err)
	slow, err := build(30*time.Millisecond, 0).Search(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, keys(fast), keys(slow))
	// 分数相同按播放量, 再按分发顺序
	assert.Equal(t, []string{"bilibili:2", "youtube:1", "youtube:2", "bilibili:1", "youtube:3"}, keys(fast))
}

func TestSearchDeduplicatesAndBoundsDispatch(t *testing.T) {
	var active, peak atomic.Int32
	dup := &fakeAdapter{name: "youtube", active: &active, peak: &peak, delay: 10 * time.Millisecond, videos: []*models.Video{
		video("youtube", "1", "go", 1),
		video("youtube", "1", "go", 1),
	}}
	other := &fakeAdapter{name: "bilibili", active: &active, peak: &peak, delay: 10 * time.Millisecond, videos: []*models.Video{
		video("bilibili", "1", "go", 1),
	}}

	m := NewManager(resolverOf(dup, other), nil, nil, Options{}, nil)
	videos, err := m.Search(context.Background(), models.NewSearchRequest("go", "YouTube", "youtube", "bilibili"))
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"youtube:1", "bilibili:1"}, keys(videos))
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestSearchTimeoutKeepsPartialResults(t *testing.T) {
	slow := &fakeAdapter{name: "facebook", block: true, videos: []*models.Video{video("facebook", "p", "go", 1)}}
	m := NewManager(resolverOf(slow), nil, nil, Options{AdapterTimeout: 20 * time.Millisecond}, nil)

	videos, err := m.Search(context.Background(), models.NewSearchRequest("go"))
	require.NoError(t, err)
	assert.Equal(t, []string{"facebook:p"}, keys(videos))
}

func TestSearchCallerCancellation(t *testing.T) {
	slow := &fakeAdapter{name: "facebook", block: true, videos: []*models.Video{video("facebook", "p", "go", 1)}}
	m := NewManager(resolverOf(slow), nil, nil, Options{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	videos, err := m.Search(ctx, models.NewSearchRequest("go"))
	require.NoError(t, err)
	assert.Len(t, videos, 1)
}

type fakeAnalyzer struct {
	scores map[string]float64
	fail   bool
}

func (a *fakeAnalyzer) Analyze(_ context.Context, v *models.Video, _ string) (*analysis.Result, error) {
	if a.fail {
		return nil, errors.New("model unavailable")
	}
	s, ok := a.scores[v.Key()]
	if !ok {
		return &analysis.Result{}, nil
	}
	return &analysis.Result{RelevanceScore: &s}, nil
}

func TestSearchBlendsContentAnalysis(t *testing.T) {
	yt := &fakeAdapter{name: "youtube", videos: []*models.Video{
		video("youtube", "1", "go", 0),
		video("youtube", "2", "nothing", 0),
	}}
	req := models.NewSearchRequest("go")
	req.AnalyzeContent = true

	m := NewManager(resolverOf(yt), &fakeAnalyzer{scores: map[string]float64{"youtube:2": 1}}, nil, Options{}, nil)
	videos, err := m.Search(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, videos, 2)
	assert.Equal(t, "youtube:2", videos[0].Key())
	assert.InDelta(t, 0.5, videos[0].Score(), 1e-9)
	assert.InDelta(t, 0.4, videos[1].Score(), 1e-9)

	m = NewManager(resolverOf(yt), &fakeAnalyzer{fail: true}, nil, Options{}, nil)
	videos, err = m.Search(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "youtube:1", videos[0].Key())
	assert.InDelta(t, 0.4, videos[0].Score(), 1e-9)
}

func TestSearchStateSequence(t *testing.T) {
	m := NewManager(resolverOf(&fakeAdapter{name: "youtube"}), nil, nil, Options{}, nil)
	var mu sync.Mutex
	var states []State
	m.OnState(func(s State) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s)
	})

	_, err := m.Search(context.Background(), models.NewSearchRequest("go"))
	require.NoError(t, err)
	assert.Equal(t, []State{StateIdle, StateDispatching, StateCollecting, StateScoring, StateFiltering, StateDone}, states)
	assert.Equal(t, "collecting", StateCollecting.String())
}

func TestSearchDropsNilVideos(t *testing.T) {
	good := &fakeAdapter{name: "youtube", videos: []*models.Video{video("youtube", "1", "go tips", 10)}}
	broken := &fakeAdapter{name: "bilibili", videos: []*models.Video{nil, video("bilibili", "2", "go", 5), nil}}
	m := NewManager(resolverOf(good, broken), &fakeAnalyzer{scores: map[string]float64{"bilibili:2": 0.5}}, nil, Options{}, nil)

	req := models.NewSearchRequest("go")
	req.AnalyzeContent = true
	videos, err := m.Search(context.Background(), req)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"youtube:1", "bilibili:2"}, keys(videos))
	for _, v := range videos {
		require.NotNil(t, v.RelevanceScore)
	}
}

func TestRunFiltersInsideFilteringState(t *testing.T) {
	yt := &fakeAdapter{name: "youtube", videos: []*models.Video{
		{Platform: "youtube", ID: "short", Title: "go", DurationSeconds: 30},
		{Platform: "youtube", ID: "long", Title: "go", DurationSeconds: 300},
	}}
	m := NewManager(resolverOf(yt), nil, nil, Options{}, nil)

	var states []State
	m.OnState(func(s State) { states = append(states, s) })

	minD := int64(60)
	out, err := m.Run(context.Background(), models.Query{
		Request: models.NewSearchRequest("go"),
		Filter:  models.Filter{MinDuration: &minD},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"youtube:long"}, keys(out.Videos))
	assert.Equal(t, []State{StateIdle, StateDispatching, StateCollecting, StateScoring, StateFiltering, StateDone}, states)
}

type fakeDownloader struct {
	got []*models.Video
	dir string
}

func (d *fakeDownloader) DownloadVideos(_ context.Context, videos []*models.Video, outputDir string) (*download.Result, error) {
	d.got = videos
	d.dir = outputDir
	res := &download.Result{BatchID: "b1", Paths: map[string]string{}, Failed: map[string]*utils.DownloadError{}}
	for i, v := range videos {
		if i == 0 {
			res.Paths[v.Key()] = outputDir + "/" + v.ID + ".mp4"
			continue
		}
		res.Failed[v.Key()] = &utils.DownloadError{Key: v.Key(), Attempts: 3, Err: errors.New("503")}
	}
	return res, nil
}

func TestRunFiltersAndDownloads(t *testing.T) {
	yt := &fakeAdapter{name: "youtube", videos: []*models.Video{
		{Platform: "youtube", ID: "short", Title: "go", DurationSeconds: 30},
		{Platform: "youtube", ID: "ok", Title: "go", DurationSeconds: 120, ViewCount: 10},
		{Platform: "youtube", ID: "ok2", Title: "go", DurationSeconds: 600},
	}}
	dl := &fakeDownloader{}
	m := NewManager(resolverOf(yt), nil, dl, Options{}, nil)

	minD, maxD := int64(60), int64(600)
	out, err := m.Run(context.Background(), models.Query{
		Request:   models.NewSearchRequest("go"),
		Filter:    models.Filter{MinDuration: &minD, MaxDuration: &maxD},
		Download:  true,
		OutputDir: "/tmp/out",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"youtube:ok", "youtube:ok2"}, keys(out.Videos))
	assert.Equal(t, "b1", out.BatchID)
	assert.Equal(t, "/tmp/out", dl.dir)
	assert.Len(t, out.Downloads, 1)
	assert.Contains(t, out.Failed["youtube:ok2"], "after 3 attempt(s)")
}

func TestRunWithoutDownloaderRejectsDownload(t *testing.T) {
	m := NewManager(resolverOf(), nil, nil, Options{}, nil)
	_, err := m.Run(context.Background(), models.Query{Request: models.NewSearchRequest("go"), Download: true})
	assert.ErrorIs(t, err, utils.ErrInvalidRequest)
}
