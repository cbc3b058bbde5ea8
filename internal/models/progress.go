package models

// 下载进度状态
const (
	ProgressDownloading = "downloading"
	ProgressCompleted   = "completed"
	ProgressFailed      = "failed"
	ProgressBatchDone   = "batch_done" // 整批结束, VideoKey 为空
)

// ProgressMessage 下载进度消息
type ProgressMessage struct {
	BatchID         string  `json:"batch_id"`
	VideoKey        string  `json:"video_key"`
	Status          string  `json:"status"`
	Percent         float64 `json:"percent"`
	DownloadedBytes int64   `json:"downloaded_bytes,omitempty"`
	TotalBytes      int64   `json:"total_bytes,omitempty"`
	LocalPath       string  `json:"local_path,omitempty"`
	FileHash        string  `json:"file_hash,omitempty"`
	Message         string  `json:"message,omitempty"`
}

// BatchDone 是否为整批结束消息
func (m *ProgressMessage) BatchDone() bool {
	return m.Status == ProgressBatchDone
}

// Terminal 是否为单个视频的终态消息
func (m *ProgressMessage) Terminal() bool {
	return m.Status == ProgressCompleted || m.Status == ProgressFailed
}
