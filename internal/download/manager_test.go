package download

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vasset/crawler/internal/models"
	"vasset/crawler/internal/utils"
)

// countingTransport 记录同时在途的传输数, 响应体关闭时才算结束
type countingTransport struct {
	inFlight atomic.Int32
	peak     atomic.Int32
	calls    atomic.Int32
	payload  []byte
	delay    time.Duration
	status   func(req *http.Request, call int32) int
}

func (t *countingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	call := t.calls.Add(1)
	status := http.StatusOK
	if t.status != nil {
		status = t.status(req, call)
	}
	if status != http.StatusOK {
		return &http.Response{
			StatusCode: status,
			Body:       io.NopCloser(strings.NewReader("")),
			Header:     make(http.Header),
			Request:    req,
		}, nil
	}

	n := t.inFlight.Add(1)
	for {
		peak := t.peak.Load()
		if n <= peak || t.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	time.Sleep(t.delay)
	return &http.Response{
		StatusCode:    http.StatusOK,
		Body:          &trackedBody{Reader: bytes.NewReader(t.payload), done: func() { t.inFlight.Add(-1) }},
		ContentLength: int64(len(t.payload)),
		Header:        make(http.Header),
		Request:       req,
	}, nil
}

type trackedBody struct {
	io.Reader
	once sync.Once
	done func()
}

func (b *trackedBody) Close() error {
	b.once.Do(b.done)
	return nil
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []*models.ProgressMessage
}

func (p *recordingPublisher) Publish(_ context.Context, msg *models.ProgressMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *recordingPublisher) byStatus(status string) []*models.ProgressMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*models.ProgressMessage
	for _, m := range p.msgs {
		if m.Status == status {
			out = append(out, m)
		}
	}
	return out
}

func testVideos(n int) []*models.Video {
	videos := make([]*models.Video, n)
	for i := range videos {
		id := fmt.Sprintf("v%d", i)
		videos[i] = &models.Video{
			Platform:    "youtube",
			ID:          id,
			Title:       "clip " + id,
			URL:         "https://www.youtube.com/watch?v=" + id,
			DownloadURL: "https://media.test/" + id + ".mp4",
		}
	}
	return videos
}

func testOptions(dir string) Options {
	return Options{
		OutputDir:      dir,
		Concurrent:     3,
		MaxRetries:     3,
		ChunkSize:      1024,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func TestDownloadVideosRespectsConcurrencyBound(t *testing.T) {
	rt := &countingTransport{payload: bytes.Repeat([]byte("x"), 32*1024), delay: 30 * time.Millisecond}
	dir := t.TempDir()
	m := NewManager(testOptions(dir), &http.Client{Transport: rt}, nil, nil)

	videos := testVideos(5)
	res, err := m.DownloadVideos(context.Background(), videos, "")
	require.NoError(t, err)

	assert.Len(t, res.Paths, 5)
	assert.Empty(t, res.Failed)
	assert.NotEmpty(t, res.BatchID)
	assert.LessOrEqual(t, rt.peak.Load(), int32(3))
	assert.GreaterOrEqual(t, rt.peak.Load(), int32(1))
	assert.Equal(t, int32(0), rt.inFlight.Load())

	for _, v := range videos {
		path := res.Paths[v.Key()]
		assert.Equal(t, path, v.LocalPath)
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, int64(32*1024), info.Size())
		assert.NoFileExists(t, path+".part")
	}
}

func TestDownloadRetriesThenSucceeds(t *testing.T) {
	rt := &countingTransport{
		payload: []byte("payload"),
		status: func(_ *http.Request, call int32) int {
			if call < 3 {
				return http.StatusServiceUnavailable
			}
			return http.StatusOK
		},
	}
	pub := &recordingPublisher{}
	m := NewManager(testOptions(t.TempDir()), &http.Client{Transport: rt}, pub, nil)

	res, err := m.DownloadVideos(context.Background(), testVideos(1), "")
	require.NoError(t, err)
	require.Len(t, res.Paths, 1)
	assert.Equal(t, int32(3), rt.calls.Load())

	completed := pub.byStatus(models.ProgressCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, "youtube:v0", completed[0].VideoKey)
	assert.NotEmpty(t, completed[0].FileHash)
	assert.Equal(t, res.BatchID, completed[0].BatchID)
}

func TestDownloadFailureIsIsolated(t *testing.T) {
	rt := &countingTransport{
		payload: []byte("ok"),
		status: func(req *http.Request, _ int32) int {
			switch {
			case strings.HasSuffix(req.URL.Path, "/v1.mp4"):
				return http.StatusNotFound
			case strings.HasSuffix(req.URL.Path, "/v2.mp4"):
				return http.StatusBadGateway
			}
			return http.StatusOK
		},
	}
	pub := &recordingPublisher{}
	dir := t.TempDir()
	m := NewManager(testOptions(dir), &http.Client{Transport: rt}, pub, nil)

	videos := testVideos(4)
	res, err := m.DownloadVideos(context.Background(), videos, filepath.Join(dir, "nested", "out"))
	require.NoError(t, err)

	assert.Len(t, res.Paths, 2)
	require.Len(t, res.Failed, 2)

	// 404 不重试
	assert.Equal(t, 1, res.Failed["youtube:v1"].Attempts)
	assert.Equal(t, http.StatusNotFound, utils.StatusCode(res.Failed["youtube:v1"]))
	// 502 重试到上限
	assert.Equal(t, 3, res.Failed["youtube:v2"].Attempts)

	assert.Empty(t, videos[1].LocalPath)
	assert.NotEmpty(t, videos[0].LocalPath)
	assert.DirExists(t, filepath.Join(dir, "nested", "out", "youtube"))
	assert.Len(t, pub.byStatus(models.ProgressFailed), 2)

	done := pub.byStatus(models.ProgressBatchDone)
	require.Len(t, done, 1)
	assert.Equal(t, "2 succeeded, 2 failed", done[0].Message)
}

func TestDownloadInvalidURL(t *testing.T) {
	m := NewManager(testOptions(t.TempDir()), &http.Client{Transport: &countingTransport{}}, nil, nil)
	res, err := m.DownloadVideos(context.Background(), []*models.Video{{Platform: "weibo", ID: "1", DownloadURL: "not a url"}}, "")
	require.NoError(t, err)
	assert.ErrorIs(t, res.Failed["weibo:1"], utils.ErrInvalidURL)
}

func TestDownloadWithoutMediaURLFails(t *testing.T) {
	rt := &countingTransport{payload: []byte("x")}
	dir := t.TempDir()
	m := NewManager(testOptions(dir), &http.Client{Transport: rt}, nil, nil)

	v := &models.Video{Platform: "youtube", ID: "abc", Title: "t", URL: "https://www.youtube.com/watch?v=abc"}
	res, err := m.DownloadVideos(context.Background(), []*models.Video{v}, "")
	require.NoError(t, err)

	assert.Empty(t, res.Paths)
	assert.ErrorIs(t, res.Failed["youtube:abc"], utils.ErrNoMediaURL)
	assert.Equal(t, int32(0), rt.calls.Load())
	assert.Empty(t, v.LocalPath)
	assert.NoDirExists(t, filepath.Join(dir, "youtube"))
}

func TestDownloadRejectsHTMLResponse(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body>watch page</body></html>"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	m := NewManager(testOptions(dir), srv.Client(), nil, nil)
	v := &models.Video{Platform: "youtube", ID: "abc", Title: "t", DownloadURL: srv.URL + "/abc.mp4"}
	res, err := m.DownloadVideos(context.Background(), []*models.Video{v}, "")
	require.NoError(t, err)

	assert.Empty(t, res.Paths)
	failed := res.Failed["youtube:abc"]
	require.NotNil(t, failed)
	assert.ErrorIs(t, failed, utils.ErrNotMedia)
	assert.Equal(t, 1, failed.Attempts)
	assert.Equal(t, int32(1), hits.Load())
	assert.NoFileExists(t, filepath.Join(dir, "youtube", "t_abc.mp4"))
	assert.NoFileExists(t, filepath.Join(dir, "youtube", "t_abc.mp4.part"))
}

func TestDownloadCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rt := &countingTransport{payload: []byte("x")}
	m := NewManager(testOptions(t.TempDir()), &http.Client{Transport: rt}, nil, nil)
	res, err := m.DownloadVideos(ctx, testVideos(3), "")
	require.NoError(t, err)
	assert.Empty(t, res.Paths)
	assert.Len(t, res.Failed, 3)
}

func TestDownloadPublishesChunkProgress(t *testing.T) {
	rt := &countingTransport{payload: bytes.Repeat([]byte("y"), 10*1024)}
	pub := &recordingPublisher{}
	m := NewManager(testOptions(t.TempDir()), &http.Client{Transport: rt}, pub, nil)

	_, err := m.DownloadVideos(context.Background(), testVideos(1), "")
	require.NoError(t, err)

	progress := pub.byStatus(models.ProgressDownloading)
	assert.NotEmpty(t, progress)
	for _, p := range progress {
		assert.Less(t, p.Percent, 100.0)
		assert.Equal(t, int64(10*1024), p.TotalBytes)
	}
}

func TestRedisPublisher(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	sub := client.Subscribe(ctx, ProgressChannel("batch-1"))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	pub := NewRedisPublisher(client, nil)
	require.NoError(t, pub.Publish(ctx, &models.ProgressMessage{
		BatchID:  "batch-1",
		VideoKey: "youtube:abc",
		Status:   models.ProgressCompleted,
		Percent:  100,
	}))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var got models.ProgressMessage
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, "youtube:abc", got.VideoKey)
	assert.True(t, got.Terminal())
}
