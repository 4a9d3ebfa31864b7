// internal/models/generation.go
package models

import (
	"time"
)

// SourceType 表示用户输入内容的来源类型
type SourceType string

const (
	SourceTopic  SourceType = "topic"  // 主题提示词
	SourceGithub SourceType = "github" // GitHub 仓库引用
	SourceScript SourceType = "script" // 用户已写好的脚本
	SourceFile   SourceType = "file"   // 上传文件集合
)

// IsValid 检查来源类型是否为已知值
func (s SourceType) IsValid() bool {
	switch s {
	case SourceTopic, SourceGithub, SourceScript, SourceFile:
		return true
	}
	return false
}

// GenerationRequest 表示一次脚本生成请求
type GenerationRequest struct {
	SourceType SourceType `json:"source_type"`
	Content    string     `json:"content"`
}

// ScriptResult 表示后端生成的脚本及发布元数据
type ScriptResult struct {
	Script      string    `json:"script"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Tags        []string  `json:"tags"`
	GeneratedAt time.Time `json:"generated_at,omitempty"`
}

// AudioResult 表示已合成旁白的可播放引用
type AudioResult struct {
	URL         string    `json:"url"` // 相对于后端地址解析后的绝对 URL
	GeneratedAt time.Time `json:"generated_at,omitempty"`
}

// StudioState 工作台状态快照
type StudioState struct {
	ScriptLoading bool          `json:"script_loading"`
	AudioLoading  bool          `json:"audio_loading"`
	Error         string        `json:"error,omitempty"`
	Script        *ScriptResult `json:"script,omitempty"`
	Audio         *AudioResult  `json:"audio,omitempty"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// GenerationRecord is a minimal history item for quick UI review.
// Only a small recent window is kept in memory.
type GenerationRecord struct {
	ID         string        `json:"id"`
	SourceType SourceType    `json:"source_type"`
	Excerpt    string        `json:"excerpt"`
	Result     *ScriptResult `json:"result,omitempty"`
	AudioURL   string        `json:"audio_url,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	ElapsedMS  int64         `json:"elapsed_ms"`
}

// ClassifyPreview 分类预览结果
type ClassifyPreview struct {
	SourceType SourceType `json:"source_type"`
	Tokens     int        `json:"tokens"`
}
