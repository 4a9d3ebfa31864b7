// internal/services/export_service.go
package services

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	apperrors "github.com/Corphon/TubeAgentMCP/internal/errors"
	"github.com/Corphon/TubeAgentMCP/internal/models"
	"github.com/Corphon/TubeAgentMCP/internal/storage"
	"github.com/google/uuid"
)

// ExportService 将当前脚本结果导出为文件
type ExportService struct {
	Storage *storage.FileStorage
}

// exportPayload 导出文件中的完整内容
type exportPayload struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Tags        []string  `json:"tags"`
	Script      string    `json:"script"`
	AudioURL    string    `json:"audio_url,omitempty"`
	ExportedAt  time.Time `json:"exported_at"`
}

func NewExportService(fileStorage *storage.FileStorage) *ExportService {
	return &ExportService{
		Storage: fileStorage,
	}
}

// ExportScriptResult 按指定格式导出脚本结果。
// 文件写入数据目录下的 exports/ 子目录，返回相对路径与内容。
func (s *ExportService) ExportScriptResult(result *models.ScriptResult, audioURL, format string) (*models.ExportResult, error) {
	// 1. 验证输入参数
	if result == nil || result.Script == "" {
		return nil, apperrors.NewValidationError("没有可导出的脚本结果", nil)
	}

	format = strings.ToLower(format)
	if format != "json" && format != "markdown" {
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("不支持的导出格式: %s，支持的格式: [json markdown]", format), nil)
	}

	// 2. 根据格式生成内容
	payload := exportPayload{
		Title:       result.Title,
		Description: result.Description,
		Tags:        result.Tags,
		Script:      result.Script,
		AudioURL:    audioURL,
		ExportedAt:  time.Now(),
	}

	content, err := s.formatContent(payload, format)
	if err != nil {
		return nil, apperrors.NewStorageError("格式化导出内容失败", err)
	}

	// 3. 保存到 exports 目录，文件名带唯一后缀避免覆盖
	exportID := uuid.New().String()
	ext := "json"
	if format == "markdown" {
		ext = "md"
	}
	filename := fmt.Sprintf("script_%s_%s.%s",
		time.Now().Format("20060102_150405"), exportID[:8], ext)

	if err := s.Storage.SaveTextFile("exports", filename, []byte(content)); err != nil {
		return nil, apperrors.NewStorageError("保存导出文件失败", err)
	}

	return &models.ExportResult{
		ID:          exportID,
		Title:       result.Title,
		Format:      format,
		Content:     content,
		FilePath:    filepath.Join("exports", filename),
		FileSize:    int64(len(content)),
		GeneratedAt: payload.ExportedAt,
	}, nil
}

// formatContent 生成指定格式的导出内容
func (s *ExportService) formatContent(payload exportPayload, format string) (string, error) {
	if format == "json" {
		data, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return "", fmt.Errorf("序列化导出内容失败: %w", err)
		}
		return string(data), nil
	}

	return s.formatMarkdown(payload), nil
}

// formatMarkdown 生成 Markdown 文档：标题、元数据表、标签与脚本正文
func (s *ExportService) formatMarkdown(payload exportPayload) string {
	var builder strings.Builder

	title := payload.Title
	if title == "" {
		title = "未命名脚本"
	}

	builder.WriteString(fmt.Sprintf("# %s\n\n", title))

	builder.WriteString("| 项目 | 内容 |\n")
	builder.WriteString("|------|------|\n")
	builder.WriteString(fmt.Sprintf("| 导出时间 | %s |\n", payload.ExportedAt.Format("2006-01-02 15:04:05")))
	if payload.Description != "" {
		builder.WriteString(fmt.Sprintf("| 描述 | %s |\n", payload.Description))
	}
	if payload.AudioURL != "" {
		builder.WriteString(fmt.Sprintf("| 旁白音频 | %s |\n", payload.AudioURL))
	}
	builder.WriteString("\n")

	if len(payload.Tags) > 0 {
		builder.WriteString("**标签**: ")
		for i, tag := range payload.Tags {
			if i > 0 {
				builder.WriteString(", ")
			}
			builder.WriteString(fmt.Sprintf("`%s`", tag))
		}
		builder.WriteString("\n\n")
	}

	builder.WriteString("## 脚本\n\n")
	builder.WriteString(payload.Script)
	builder.WriteString("\n")

	return builder.String()
}
