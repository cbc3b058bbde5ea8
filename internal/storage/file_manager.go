package storage

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"syscall"

	"go.uber.org/zap"
)

// FileManager 下载目录下的文件操作
type FileManager struct {
	logger *zap.Logger
}

// NewFileManager 创建文件管理器
func NewFileManager(logger *zap.Logger) *FileManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileManager{logger: logger}
}

// Fingerprint 已完成文件的校验信息
type Fingerprint struct {
	MD5  string
	Size int64
}

// Fingerprint 单次读取同时得到 MD5 和字节数
func (m *FileManager) Fingerprint(path string) (*Fingerprint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	hash := md5.New()
	n, err := io.Copy(hash, file)
	if err != nil {
		return nil, fmt.Errorf("hash %s: %w", path, err)
	}
	return &Fingerprint{MD5: hex.EncodeToString(hash.Sum(nil)), Size: n}, nil
}

// DeleteFile 删除文件, 不存在时不报错
func (m *FileManager) DeleteFile(path string) error {
	err := os.Remove(path)
	if err == nil {
		m.logger.Debug("Deleted file", zap.String("path", path))
		return nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("delete %s: %w", path, err)
}

// FileExists 检查路径是否存在
func (m *FileManager) FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// EnsureDir 确保目录存在
func (m *FileManager) EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// DiskUsage 磁盘使用情况(字节)
type DiskUsage struct {
	Total     uint64
	Available uint64
}

// UsedPercent 已用百分比
func (u DiskUsage) UsedPercent() float64 {
	if u.Total == 0 {
		return 0
	}
	return float64(u.Total-u.Available) / float64(u.Total) * 100
}

// Usage 读取 path 所在文件系统的容量
func (m *FileManager) Usage(path string) (DiskUsage, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return DiskUsage{}, fmt.Errorf("statfs %s: %w", path, err)
	}
	return DiskUsage{
		Total:     stat.Blocks * uint64(stat.Bsize),
		Available: stat.Bavail * uint64(stat.Bsize),
	}, nil
}

// HasRoom 使用率不超过 threshold(%) 时返回 true
func (m *FileManager) HasRoom(path string, threshold float64) (bool, error) {
	usage, err := m.Usage(path)
	if err != nil {
		return false, err
	}
	if used := usage.UsedPercent(); used > threshold {
		m.logger.Warn("Disk usage above threshold",
			zap.String("path", path),
			zap.Float64("used_percent", used),
			zap.Uint64("available", usage.Available),
			zap.Float64("threshold", threshold))
		return false, nil
	}
	return true, nil
}
