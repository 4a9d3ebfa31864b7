// internal/services/studio_service.go
package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/Corphon/TubeAgentMCP/internal/backend"
	"github.com/Corphon/TubeAgentMCP/internal/config"
	apperrors "github.com/Corphon/TubeAgentMCP/internal/errors"
	"github.com/Corphon/TubeAgentMCP/internal/models"
	"github.com/Corphon/TubeAgentMCP/internal/utils"
	"github.com/google/uuid"
)

// 后端不可用或未返回 detail 时面向用户的兜底错误信息
const (
	FallbackScriptError = "Failed to generate script."
	FallbackAudioError  = "Failed to generate audio."
)

// excerptMaxLen 历史记录中输入摘录的最大长度
const excerptMaxLen = 120

// ScriptBackend 生成后端能力接口
type ScriptBackend interface {
	GenerateScript(ctx context.Context, sourceType models.SourceType, content string) (*models.ScriptResult, error)
	GenerateAudio(ctx context.Context, script string) (string, error)
	ResolveAudioURL(raw string) (string, error)
}

// StateBroadcaster 状态快照推送接口（WebSocket 管理器实现）
type StateBroadcaster interface {
	BroadcastState(state models.StudioState)
}

// StudioService 是请求编排器：负责输入分类、文件聚合、
// 脚本与音频两条生成链路，以及工作台状态的维护与推送。
type StudioService struct {
	Backend  ScriptBackend
	Progress *ProgressService
	Stats    *StatsService

	broadcaster StateBroadcaster

	mu           sync.Mutex
	state        models.StudioState
	history      []models.GenerationRecord // 最新在前
	historyLimit int

	metrics *utils.APIMetrics
}

// NewStudioService 创建工作台服务
func NewStudioService(scriptBackend ScriptBackend, progress *ProgressService, stats *StatsService, historyLimit int) *StudioService {
	if historyLimit <= 0 {
		historyLimit = config.DefaultHistoryLimit
	}

	return &StudioService{
		Backend:      scriptBackend,
		Progress:     progress,
		Stats:        stats,
		historyLimit: historyLimit,
		state:        models.StudioState{UpdatedAt: time.Now()},
		metrics:      utils.NewAPIMetrics(),
	}
}

// SetBroadcaster 设置状态推送器（路由装配时注入）
func (s *StudioService) SetBroadcaster(b StateBroadcaster) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcaster = b
}

// Snapshot 返回当前状态快照的副本
func (s *StudioService) Snapshot() models.StudioState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *StudioService) snapshotLocked() models.StudioState {
	snapshot := s.state
	if s.state.Script != nil {
		scriptCopy := *s.state.Script
		snapshot.Script = &scriptCopy
	}
	if s.state.Audio != nil {
		audioCopy := *s.state.Audio
		snapshot.Audio = &audioCopy
	}
	return snapshot
}

// touchAndBroadcastLocked 更新时间戳并推送快照（调用方需持有锁）
func (s *StudioService) touchAndBroadcastLocked() {
	s.state.UpdatedAt = time.Now()
	if s.broadcaster != nil {
		s.broadcaster.BroadcastState(s.snapshotLocked())
	}
}

// failValidation 记录校验错误到状态并返回
func (s *StudioService) failValidation(message string) error {
	s.mu.Lock()
	s.state.Error = message
	s.touchAndBroadcastLocked()
	s.mu.Unlock()

	return apperrors.NewValidationError(message, nil)
}

// GenerateFromInput 对自由文本输入完成分类后发起脚本生成
func (s *StudioService) GenerateFromInput(ctx context.Context, input string) (*models.ScriptResult, error) {
	if strings.TrimSpace(input) == "" {
		return nil, s.failValidation("请输入主题、仓库地址或脚本内容")
	}

	return s.GenerateScript(ctx, ClassifySource(input), input)
}

// GenerateFromFiles 聚合上传文件后发起脚本生成。
// 聚合结果一律按 file 来源处理，与文件内容无关。
func (s *StudioService) GenerateFromFiles(ctx context.Context, files []UploadedFile) (*models.ScriptResult, error) {
	if len(files) == 0 {
		return nil, s.failValidation("请至少选择一个文件")
	}

	for _, f := range files {
		if err := ValidateUploadName(f.Name); err != nil {
			return nil, s.failValidation(err.Error())
		}
	}

	payload, err := AggregateFiles(files)
	if err != nil {
		return nil, s.failValidation(err.Error())
	}

	return s.GenerateScript(ctx, models.SourceFile, payload)
}

// GenerateScript 执行脚本生成生命周期。
// 进入时清空上一次的错误、脚本与音频结果并置起加载标志；
// 结束时无论成败都复位加载标志。加载中收到的重复触发被直接
// 丢弃并返回冲突错误，不触碰任何状态。
func (s *StudioService) GenerateScript(ctx context.Context, sourceType models.SourceType, content string) (*models.ScriptResult, error) {
	if strings.TrimSpace(content) == "" {
		return nil, s.failValidation("生成内容不能为空")
	}
	if !sourceType.IsValid() {
		return nil, s.failValidation("未知的来源类型: " + string(sourceType))
	}

	s.mu.Lock()
	if s.state.ScriptLoading {
		s.mu.Unlock()
		return nil, apperrors.NewConflictError("脚本生成进行中，重复触发已忽略", nil)
	}

	// 新请求开始：旧结果与错误立即失效
	s.state.Error = ""
	s.state.Script = nil
	s.state.Audio = nil
	s.state.ScriptLoading = true
	s.touchAndBroadcastLocked()
	s.mu.Unlock()

	s.Progress.Publish(StageScriptStart, "脚本生成已开始 ("+string(sourceType)+")")

	start := time.Now()
	result, err := s.Backend.GenerateScript(ctx, sourceType, content)
	elapsed := time.Since(start)

	s.mu.Lock()
	s.state.ScriptLoading = false

	if err != nil {
		message := backendErrorMessage(err, FallbackScriptError)
		s.state.Error = message
		s.touchAndBroadcastLocked()
		s.mu.Unlock()

		s.Progress.Publish(StageScriptError, message)
		s.recordScriptOutcome(false, elapsed)
		return nil, apperrors.NewBackendError(message, err)
	}

	s.state.Script = result
	s.appendHistoryLocked(models.GenerationRecord{
		ID:         uuid.New().String(),
		SourceType: sourceType,
		Excerpt:    excerpt(content),
		Result:     result,
		CreatedAt:  time.Now(),
		ElapsedMS:  elapsed.Milliseconds(),
	})
	s.touchAndBroadcastLocked()
	s.mu.Unlock()

	s.Progress.Publish(StageScriptDone, "脚本生成完成: "+result.Title)
	s.recordScriptOutcome(true, elapsed)
	return result, nil
}

// GenerateAudio 执行音频生成生命周期。
// 前置条件：已存在非空脚本结果；否则立即返回校验错误且不发起网络调用。
func (s *StudioService) GenerateAudio(ctx context.Context) (*models.AudioResult, error) {
	s.mu.Lock()
	if s.state.Script == nil || s.state.Script.Script == "" {
		s.mu.Unlock()
		return nil, s.failValidation("请先生成脚本")
	}
	if s.state.AudioLoading {
		s.mu.Unlock()
		return nil, apperrors.NewConflictError("音频生成进行中，重复触发已忽略", nil)
	}

	script := s.state.Script.Script

	// 新请求开始：清空旧错误与旧音频
	s.state.Error = ""
	s.state.Audio = nil
	s.state.AudioLoading = true
	s.touchAndBroadcastLocked()
	s.mu.Unlock()

	s.Progress.Publish(StageAudioStart, "旁白合成已开始")

	start := time.Now()
	rawPath, err := s.Backend.GenerateAudio(ctx, script)
	var resolved string
	if err == nil {
		resolved, err = s.Backend.ResolveAudioURL(rawPath)
	}
	elapsed := time.Since(start)

	s.mu.Lock()
	s.state.AudioLoading = false

	if err != nil {
		message := backendErrorMessage(err, FallbackAudioError)
		s.state.Error = message
		s.touchAndBroadcastLocked()
		s.mu.Unlock()

		s.Progress.Publish(StageAudioError, message)
		s.recordAudioOutcome(false, elapsed)
		return nil, apperrors.NewBackendError(message, err)
	}

	audio := &models.AudioResult{
		URL:         resolved,
		GeneratedAt: time.Now(),
	}
	s.state.Audio = audio

	// 把音频结果挂到最近一条历史记录上
	if len(s.history) > 0 {
		s.history[0].AudioURL = resolved
	}
	s.touchAndBroadcastLocked()
	s.mu.Unlock()

	s.Progress.Publish(StageAudioDone, "旁白合成完成")
	s.recordAudioOutcome(true, elapsed)

	audioCopy := *audio
	return &audioCopy, nil
}

// RecentGenerations 返回最近的生成历史（最新在前）
func (s *StudioService) RecentGenerations() []models.GenerationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]models.GenerationRecord, len(s.history))
	copy(records, s.history)
	return records
}

// CurrentScript 返回当前脚本结果（可能为 nil）
func (s *StudioService) CurrentScript() *models.ScriptResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Script == nil {
		return nil
	}
	scriptCopy := *s.state.Script
	return &scriptCopy
}

// CurrentAudioURL 返回当前音频地址（可能为空）
func (s *StudioService) CurrentAudioURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Audio == nil {
		return ""
	}
	return s.state.Audio.URL
}

// OnConfigChanged 实现 ConfigChangeSubscriber，热更新历史窗口大小
func (s *StudioService) OnConfigChanged(oldConfig, newConfig *config.AppConfig) {
	if newConfig == nil || newConfig.HistoryLimit <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.historyLimit = newConfig.HistoryLimit
	if len(s.history) > s.historyLimit {
		s.history = s.history[:s.historyLimit]
	}
}

// appendHistoryLocked 追加历史记录并裁剪窗口（调用方需持有锁）
func (s *StudioService) appendHistoryLocked(record models.GenerationRecord) {
	s.history = append([]models.GenerationRecord{record}, s.history...)
	if len(s.history) > s.historyLimit {
		s.history = s.history[:s.historyLimit]
	}
}

func (s *StudioService) recordScriptOutcome(success bool, elapsed time.Duration) {
	if s.Stats != nil {
		s.Stats.RecordScriptAttempt(success)
	}
	if s.metrics != nil {
		s.metrics.RecordGeneration("script", success, elapsed)
	}
}

func (s *StudioService) recordAudioOutcome(success bool, elapsed time.Duration) {
	if s.Stats != nil {
		s.Stats.RecordAudioAttempt(success)
	}
	if s.metrics != nil {
		s.metrics.RecordGeneration("audio", success, elapsed)
	}
}

// backendErrorMessage 面向用户的错误信息：优先取后端 {detail}，否则用兜底文案
func backendErrorMessage(err error, fallback string) string {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		return apiErr.Detail
	}
	return fallback
}

// excerpt 截取输入内容的摘录用于历史记录
func excerpt(content string) string {
	content = strings.TrimSpace(content)
	runes := []rune(content)
	if len(runes) <= excerptMaxLen {
		return content
	}
	return string(runes[:excerptMaxLen]) + "…"
}
