package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"vasset/crawler/internal/models"
	"vasset/crawler/internal/request"
	"vasset/crawler/internal/storage"
	"vasset/crawler/internal/utils"
)

// 默认值
const (
	DefaultConcurrent = 3
	DefaultMaxRetries = 3
	DefaultChunkSize  = 8 * 1024
)

// Options 下载配置
type Options struct {
	OutputDir      string
	Concurrent     int
	MaxRetries     int // 总尝试次数
	ChunkSize      int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration // 单次传输超时, 0 表示不限制
	UserAgent      string
	DiskThreshold  float64 // 磁盘使用率上限(%), 0 表示不检查
	Proxy          request.ProxySource
}

// Result 一批下载的结果
type Result struct {
	BatchID string                          `json:"batch_id"`
	Paths   map[string]string               `json:"paths"`
	Failed  map[string]*utils.DownloadError `json:"-"`
}

// Manager 限制并发的视频下载器
type Manager struct {
	client    *http.Client
	limiter   *utils.ConcurrencyLimiter
	paths     *storage.PathGenerator
	files     *storage.FileManager
	publisher ProgressPublisher
	opts      Options
	logger    *zap.Logger
}

// NewManager 创建下载管理器, client 为 nil 时使用带代理的默认客户端
func NewManager(opts Options, client *http.Client, publisher ProgressPublisher, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Concurrent < 1 {
		opts.Concurrent = DefaultConcurrent
	}
	if opts.MaxRetries < 1 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.ChunkSize < 1 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = time.Second
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = 10 * opts.InitialBackoff
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "downloads"
	}
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if client == nil {
		client = newClient(opts.Proxy)
	}

	return &Manager{
		client:    client,
		limiter:   utils.NewConcurrencyLimiter(opts.Concurrent),
		paths:     storage.NewPathGenerator(opts.OutputDir),
		files:     storage.NewFileManager(logger),
		publisher: publisher,
		opts:      opts,
		logger:    logger,
	}
}

func newClient(proxy request.ProxySource) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxy != nil {
		transport.Proxy = func(*http.Request) (*url.URL, error) {
			p, ok := proxy.Current()
			if !ok {
				return nil, nil
			}
			return url.Parse(p)
		}
	}
	return &http.Client{Transport: transport}
}

// DownloadVideos 下载一批视频, 返回 key 到本地路径的映射
func (m *Manager) DownloadVideos(ctx context.Context, videos []*models.Video, outputDir string) (*Result, error) {
	return m.DownloadBatch(ctx, uuid.NewString(), videos, outputDir)
}

// DownloadBatch 以指定批次号下载, 单个视频失败不影响其他视频
func (m *Manager) DownloadBatch(ctx context.Context, batchID string, videos []*models.Video, outputDir string) (*Result, error) {
	if outputDir == "" {
		outputDir = m.opts.OutputDir
	}
	if err := m.files.EnsureDir(outputDir); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	if m.opts.DiskThreshold > 0 {
		ok, err := m.files.HasRoom(outputDir, m.opts.DiskThreshold)
		if err != nil {
			m.logger.Warn("Disk space check failed", zap.Error(err))
		} else if !ok {
			return nil, fmt.Errorf("insufficient disk space in %s", outputDir)
		}
	}

	result := &Result{
		BatchID: batchID,
		Paths:   make(map[string]string),
		Failed:  make(map[string]*utils.DownloadError),
	}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		seen = make(map[string]bool, len(videos))
	)
	for _, v := range videos {
		if v == nil || seen[v.Key()] {
			continue
		}
		seen[v.Key()] = true

		wg.Add(1)
		go func(v *models.Video) {
			defer wg.Done()

			path, err := m.downloadGated(ctx, batchID, v, outputDir)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				var dlErr *utils.DownloadError
				if !errors.As(err, &dlErr) {
					dlErr = &utils.DownloadError{Key: v.Key(), Err: err}
				}
				result.Failed[v.Key()] = dlErr
				return
			}
			v.LocalPath = path
			result.Paths[v.Key()] = path
		}(v)
	}
	wg.Wait()

	m.publish(&models.ProgressMessage{
		BatchID: batchID,
		Status:  models.ProgressBatchDone,
		Percent: 100,
		Message: fmt.Sprintf("%d succeeded, %d failed", len(result.Paths), len(result.Failed)),
	})
	m.logger.Info("Download batch finished",
		zap.String("batch_id", batchID),
		zap.Int("succeeded", len(result.Paths)),
		zap.Int("failed", len(result.Failed)))
	return result, nil
}

// downloadGated 在并发限制内下载单个视频
func (m *Manager) downloadGated(ctx context.Context, batchID string, v *models.Video, outputDir string) (string, error) {
	if err := m.limiter.Acquire(ctx); err != nil {
		m.publishFailed(batchID, v, err)
		return "", &utils.DownloadError{Key: v.Key(), Err: err}
	}
	defer m.limiter.Release()

	return m.download(ctx, batchID, v, outputDir)
}

// download 带重试地下载单个视频
func (m *Manager) download(ctx context.Context, batchID string, v *models.Video, outputDir string) (string, error) {
	key := v.Key()
	// 观看页不是媒体文件, 没有直链的视频直接失败
	src := v.DownloadURL
	if src == "" {
		err := &utils.DownloadError{Key: key, Err: utils.ErrNoMediaURL}
		m.logger.Warn("Download skipped", zap.String("video", key), zap.Error(err))
		m.publishFailed(batchID, v, err)
		return "", err
	}
	if !utils.IsValidURL(src) {
		err := &utils.DownloadError{Key: key, Err: utils.ErrInvalidURL}
		m.publishFailed(batchID, v, err)
		return "", err
	}

	path, err := m.paths.GeneratePath(outputDir, v)
	if err != nil {
		dlErr := &utils.DownloadError{Key: key, Err: err}
		m.publishFailed(batchID, v, dlErr)
		return "", dlErr
	}

	attempts := 0
	operation := func() (struct{}, error) {
		attempts++
		return struct{}{}, m.fetch(ctx, batchID, v, src, path)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.opts.InitialBackoff
	bo.MaxInterval = m.opts.MaxBackoff

	_, err = backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(m.opts.MaxRetries)),
		backoff.WithNotify(func(err error, next time.Duration) {
			m.logger.Warn("Download attempt failed, retrying",
				zap.String("video", key),
				zap.Int("attempt", attempts),
				zap.Duration("next", next),
				zap.Error(err))
		}),
	)
	if err != nil {
		_ = m.files.DeleteFile(path + ".part")
		dlErr := &utils.DownloadError{Key: key, Attempts: attempts, Err: err}
		m.logger.Error("Download failed", zap.String("video", key), zap.Error(dlErr))
		m.publishFailed(batchID, v, dlErr)
		return "", dlErr
	}

	var hash string
	var size int64
	if fp, err := m.files.Fingerprint(path); err != nil {
		m.logger.Warn("Failed to fingerprint file", zap.String("path", path), zap.Error(err))
	} else {
		hash, size = fp.MD5, fp.Size
	}

	m.logger.Info("Video downloaded",
		zap.String("video", key),
		zap.String("path", path),
		zap.Int64("bytes", size),
		zap.Int("attempts", attempts))
	m.publish(&models.ProgressMessage{
		BatchID:         batchID,
		VideoKey:        key,
		Status:          models.ProgressCompleted,
		Percent:         100,
		DownloadedBytes: size,
		TotalBytes:      size,
		LocalPath:       path,
		FileHash:        hash,
	})
	return path, nil
}

// fetch 单次传输: 分块写入 .part 文件, 完成后重命名
func (m *Manager) fetch(ctx context.Context, batchID string, v *models.Video, src, path string) error {
	if m.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("%w: %v", utils.ErrInvalidURL, err))
	}
	if m.opts.UserAgent != "" {
		req.Header.Set("User-Agent", m.opts.UserAgent)
	}
	if v.URL != "" && v.URL != src {
		req.Header.Set("Referer", v.URL)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return &utils.RequestError{URL: src, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reqErr := &utils.RequestError{URL: src, StatusCode: resp.StatusCode, Err: utils.ErrUnexpectedStatus}
		if isRetryableStatus(resp.StatusCode) {
			return reqErr
		}
		return backoff.Permanent(reqErr)
	}
	if isPageContent(resp.Header.Get("Content-Type")) {
		return backoff.Permanent(&utils.RequestError{URL: src, StatusCode: resp.StatusCode, Err: utils.ErrNotMedia})
	}

	partPath := path + ".part"
	file, err := os.Create(partPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	written, err := m.copyChunks(ctx, file, resp.Body, resp.ContentLength, batchID, v.Key())
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	if resp.ContentLength > 0 && written != resp.ContentLength {
		return fmt.Errorf("short download: got %d of %d bytes", written, resp.ContentLength)
	}

	if err := os.Rename(partPath, path); err != nil {
		return fmt.Errorf("failed to finalize file: %w", err)
	}
	return nil
}

// copyChunks 固定大小缓冲区拷贝, 每前进 10% 发布一次进度
func (m *Manager) copyChunks(ctx context.Context, dst io.Writer, src io.Reader, total int64, batchID, key string) (int64, error) {
	buf := make([]byte, m.opts.ChunkSize)
	var (
		written     int64
		lastPercent float64
	)
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return written, fmt.Errorf("failed to write file: %w", err)
			}
			written += int64(n)

			if total > 0 {
				percent := float64(written) / float64(total) * 100
				if percent-lastPercent >= 10 && percent < 100 {
					lastPercent = percent
					m.publish(&models.ProgressMessage{
						BatchID:         batchID,
						VideoKey:        key,
						Status:          models.ProgressDownloading,
						Percent:         percent,
						DownloadedBytes: written,
						TotalBytes:      total,
					})
				}
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, fmt.Errorf("failed to read body: %w", readErr)
		}
	}
}

func (m *Manager) publish(msg *models.ProgressMessage) {
	// 进度发布不受下载 ctx 取消影响
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.publisher.Publish(ctx, msg); err != nil {
		m.logger.Debug("Failed to publish progress", zap.String("video", msg.VideoKey), zap.Error(err))
	}
}

func (m *Manager) publishFailed(batchID string, v *models.Video, err error) {
	m.publish(&models.ProgressMessage{
		BatchID:  batchID,
		VideoKey: v.Key(),
		Status:   models.ProgressFailed,
		Message:  err.Error(),
	})
}

// isPageContent 网页类响应说明直链已失效或被重定向到了登录/观看页
func isPageContent(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

// isRetryableStatus 5xx、408 和 429 值得重试
func isRetryableStatus(code int) bool {
	return code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}
