// internal/models/export.go
package models

import (
	"time"
)

// ExportResult 导出结果
type ExportResult struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Format      string    `json:"format"` // json | markdown
	Content     string    `json:"content"`
	FilePath    string    `json:"file_path"` // 相对数据目录的路径
	FileSize    int64     `json:"file_size"`
	GeneratedAt time.Time `json:"generated_at"`
}
