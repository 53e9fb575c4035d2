// Package tasks 定义了管道与消息队列之间共享的事件载荷类型。
package tasks

import "time"

// FileProcessedEvent 是一个文件被成功摄取后发布的事件。
// 下游（看板、归档统计）据此增量刷新，无需轮询数据库。
type FileProcessedEvent struct {
	FileName     string    `json:"fileName"`
	FileType     string    `json:"fileType"` // metadata | rawdata
	Rows         int       `json:"rows"`
	ArchivedPath string    `json:"archivedPath"`
	ProcessedAt  time.Time `json:"processedAt"`
}

// NewFileProcessedEvent 构造一个处理完成事件，时间戳取当前 UTC 时间。
func NewFileProcessedEvent(fileName, fileType string, rows int, archivedPath string) FileProcessedEvent {
	return FileProcessedEvent{
		FileName:     fileName,
		FileType:     fileType,
		Rows:         rows,
		ArchivedPath: archivedPath,
		ProcessedAt:  time.Now().UTC(),
	}
}
