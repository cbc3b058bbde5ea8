package storage

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// partSuffix 传输中的临时文件后缀
const partSuffix = ".part"

// CleanupResult 一次清理的统计
type CleanupResult struct {
	Deleted int
	Failed  int
}

// Cleaner 定时清理下载目录下中断残留的 .part 文件
type Cleaner struct {
	root        string
	maxAge      time.Duration
	fileManager *FileManager
	cron        *cron.Cron
	now         func() time.Time
	logger      *zap.Logger
}

// NewCleaner 创建清理器
func NewCleaner(root string, maxAge time.Duration, fileManager *FileManager, logger *zap.Logger) *Cleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if fileManager == nil {
		fileManager = NewFileManager(logger)
	}
	return &Cleaner{
		root:        root,
		maxAge:      maxAge,
		fileManager: fileManager,
		cron:        cron.New(),
		now:         time.Now,
		logger:      logger,
	}
}

// Start 启动时先清理一次, 之后按 schedule 执行
func (c *Cleaner) Start(ctx context.Context, schedule string) error {
	c.Cleanup(ctx)

	if _, err := c.cron.AddFunc(schedule, func() { c.Cleanup(ctx) }); err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}
	c.cron.Start()
	c.logger.Info("Cleanup scheduler started",
		zap.String("root", c.root),
		zap.String("schedule", schedule),
		zap.Duration("max_age", c.maxAge))
	return nil
}

// Stop 停止调度, 等待进行中的清理结束
func (c *Cleaner) Stop() {
	<-c.cron.Stop().Done()
	c.logger.Info("Cleanup scheduler stopped")
}

// Cleanup 删除修改时间早于 maxAge 的 .part 文件, 正在写入的文件不受影响
func (c *Cleaner) Cleanup(ctx context.Context) CleanupResult {
	var result CleanupResult
	if !c.fileManager.FileExists(c.root) {
		return result
	}

	startTime := c.now()
	cutoff := startTime.Add(-c.maxAge)

	err := filepath.WalkDir(c.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			c.logger.Warn("Walk failed", zap.String("path", path), zap.Error(err))
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), partSuffix) {
			return nil
		}

		info, err := d.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			return nil
		}

		if err := c.fileManager.DeleteFile(path); err != nil {
			c.logger.Warn("Failed to delete stale file", zap.String("path", path), zap.Error(err))
			result.Failed++
			return nil
		}
		result.Deleted++
		return nil
	})
	if err != nil {
		c.logger.Info("Cleanup interrupted", zap.Error(err))
	}

	if result.Deleted > 0 || result.Failed > 0 {
		c.logger.Info("Cleanup completed",
			zap.Duration("elapsed", c.now().Sub(startTime)),
			zap.Int("deleted", result.Deleted),
			zap.Int("failed", result.Failed))
	}
	return result
}
