package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/Corphon/TubeAgentMCP/internal/backend"
	apperrors "github.com/Corphon/TubeAgentMCP/internal/errors"
	"github.com/Corphon/TubeAgentMCP/internal/models"
)

// mockBackend 模拟生成后端
type mockBackend struct {
	scriptResult *models.ScriptResult
	scriptErr    error
	audioPath    string
	audioErr     error

	scriptCalls int
	audioCalls  int
}

func (m *mockBackend) GenerateScript(ctx context.Context, sourceType models.SourceType, content string) (*models.ScriptResult, error) {
	m.scriptCalls++
	if m.scriptErr != nil {
		return nil, m.scriptErr
	}
	return m.scriptResult, nil
}

func (m *mockBackend) GenerateAudio(ctx context.Context, script string) (string, error) {
	m.audioCalls++
	if m.audioErr != nil {
		return "", m.audioErr
	}
	return m.audioPath, nil
}

func (m *mockBackend) ResolveAudioURL(raw string) (string, error) {
	return "http://localhost:8000" + raw, nil
}

// mockBroadcaster 记录收到的状态快照
type mockBroadcaster struct {
	mu     sync.Mutex
	states []models.StudioState
}

func (m *mockBroadcaster) BroadcastState(state models.StudioState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, state)
}

func (m *mockBroadcaster) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states)
}

func newTestStudio(b ScriptBackend) *StudioService {
	return NewStudioService(b, NewProgressService(), nil, 5)
}

func sampleResult() *models.ScriptResult {
	return &models.ScriptResult{
		Script:      "这是生成的脚本正文",
		Title:       "测试标题",
		Description: "测试描述",
		Tags:        []string{"go", "测试"},
	}
}

func TestGenerateScript_Success(t *testing.T) {
	mock := &mockBackend{scriptResult: sampleResult()}
	studio := newTestStudio(mock)

	result, err := studio.GenerateScript(context.Background(), models.SourceTopic, "量子计算入门")
	if err != nil {
		t.Fatalf("脚本生成失败: %v", err)
	}
	if result.Title != "测试标题" {
		t.Errorf("标题不正确: %s", result.Title)
	}

	state := studio.Snapshot()
	if state.ScriptLoading {
		t.Error("生成结束后加载标志应该复位")
	}
	if state.Error != "" {
		t.Errorf("成功后不应该有错误信息: %s", state.Error)
	}
	if state.Script == nil || state.Script.Script != "这是生成的脚本正文" {
		t.Error("状态中应该保存脚本结果")
	}
}

func TestGenerateScript_EmptyInput(t *testing.T) {
	mock := &mockBackend{scriptResult: sampleResult()}
	studio := newTestStudio(mock)

	_, err := studio.GenerateFromInput(context.Background(), "   ")
	if err == nil {
		t.Fatal("空输入应该返回错误")
	}
	if !apperrors.IsValidationError(err) {
		t.Errorf("应该返回验证错误，实际: %v", err)
	}
	if mock.scriptCalls != 0 {
		t.Error("空输入不应该调用后端")
	}

	state := studio.Snapshot()
	if state.Error != "请输入主题、仓库地址或脚本内容" {
		t.Errorf("验证错误应该记录到状态，实际: %q", state.Error)
	}
}

func TestGenerateScript_ClearsPriorResults(t *testing.T) {
	mock := &mockBackend{scriptResult: sampleResult(), audioPath: "/audio/1.mp3"}
	studio := newTestStudio(mock)

	// 第一轮：脚本 + 音频
	if _, err := studio.GenerateScript(context.Background(), models.SourceTopic, "第一轮"); err != nil {
		t.Fatalf("第一轮脚本生成失败: %v", err)
	}
	if _, err := studio.GenerateAudio(context.Background()); err != nil {
		t.Fatalf("第一轮音频生成失败: %v", err)
	}

	if studio.Snapshot().Audio == nil {
		t.Fatal("音频结果应该已保存")
	}

	// 第二轮：新的脚本生成应该清空旧音频
	if _, err := studio.GenerateScript(context.Background(), models.SourceTopic, "第二轮"); err != nil {
		t.Fatalf("第二轮脚本生成失败: %v", err)
	}

	state := studio.Snapshot()
	if state.Audio != nil {
		t.Error("新的脚本生成应该清空旧的音频结果")
	}
	if state.Error != "" {
		t.Error("新的脚本生成应该清空旧的错误信息")
	}
}

func TestGenerateScript_BackendDetailSurfaces(t *testing.T) {
	mock := &mockBackend{
		scriptErr: &backend.APIError{StatusCode: 422, Detail: "bad topic"},
	}
	studio := newTestStudio(mock)

	_, err := studio.GenerateScript(context.Background(), models.SourceTopic, "无效主题")
	if err == nil {
		t.Fatal("后端失败应该返回错误")
	}

	state := studio.Snapshot()
	if state.Error != "bad topic" {
		t.Errorf("应该原样显示后端 detail，实际: %q", state.Error)
	}
	if state.ScriptLoading {
		t.Error("失败后加载标志应该复位")
	}
}

func TestGenerateScript_GenericFallback(t *testing.T) {
	mock := &mockBackend{scriptErr: fmt.Errorf("connection refused")}
	studio := newTestStudio(mock)

	_, err := studio.GenerateScript(context.Background(), models.SourceTopic, "主题")
	if err == nil {
		t.Fatal("网络错误应该返回错误")
	}

	state := studio.Snapshot()
	if state.Error != FallbackScriptError {
		t.Errorf("网络错误应该显示兜底文案，实际: %q", state.Error)
	}
}

func TestGenerateScript_ConflictLeavesStateUntouched(t *testing.T) {
	mock := &mockBackend{scriptResult: sampleResult()}
	studio := newTestStudio(mock)

	// 手工置起加载标志模拟进行中的生成
	studio.mu.Lock()
	studio.state.ScriptLoading = true
	studio.state.Error = "之前的错误"
	studio.mu.Unlock()

	_, err := studio.GenerateScript(context.Background(), models.SourceTopic, "主题")
	if err == nil {
		t.Fatal("加载中重复触发应该返回错误")
	}
	if !apperrors.IsConflictError(err) {
		t.Errorf("应该返回冲突错误，实际: %v", err)
	}
	if mock.scriptCalls != 0 {
		t.Error("重复触发不应该调用后端")
	}

	state := studio.Snapshot()
	if state.Error != "之前的错误" {
		t.Error("重复触发不应该修改状态")
	}
	if !state.ScriptLoading {
		t.Error("重复触发不应该复位加载标志")
	}
}

func TestGenerateAudio_RequiresScript(t *testing.T) {
	mock := &mockBackend{audioPath: "/audio/1.mp3"}
	studio := newTestStudio(mock)

	_, err := studio.GenerateAudio(context.Background())
	if err == nil {
		t.Fatal("没有脚本时音频生成应该返回错误")
	}
	if !apperrors.IsValidationError(err) {
		t.Errorf("应该返回验证错误，实际: %v", err)
	}
	if mock.audioCalls != 0 {
		t.Error("没有脚本时不应该调用后端")
	}

	if studio.Snapshot().Error != "请先生成脚本" {
		t.Error("前置条件错误应该记录到状态")
	}
}

func TestGenerateAudio_Success(t *testing.T) {
	mock := &mockBackend{scriptResult: sampleResult(), audioPath: "/audio/1.mp3"}
	studio := newTestStudio(mock)

	if _, err := studio.GenerateScript(context.Background(), models.SourceTopic, "主题"); err != nil {
		t.Fatalf("脚本生成失败: %v", err)
	}

	audio, err := studio.GenerateAudio(context.Background())
	if err != nil {
		t.Fatalf("音频生成失败: %v", err)
	}
	if audio.URL != "http://localhost:8000/audio/1.mp3" {
		t.Errorf("音频地址解析不正确: %s", audio.URL)
	}

	state := studio.Snapshot()
	if state.AudioLoading {
		t.Error("音频生成结束后加载标志应该复位")
	}
	if state.Script == nil {
		t.Error("音频生成不应该影响脚本结果")
	}

	// 音频地址应该挂到最新一条历史记录上
	records := studio.RecentGenerations()
	if len(records) == 0 || records[0].AudioURL != "http://localhost:8000/audio/1.mp3" {
		t.Error("音频地址应该挂到最近的历史记录上")
	}
}

func TestGenerateAudio_FailureFallback(t *testing.T) {
	mock := &mockBackend{scriptResult: sampleResult(), audioErr: fmt.Errorf("timeout")}
	studio := newTestStudio(mock)

	if _, err := studio.GenerateScript(context.Background(), models.SourceTopic, "主题"); err != nil {
		t.Fatalf("脚本生成失败: %v", err)
	}

	_, err := studio.GenerateAudio(context.Background())
	if err == nil {
		t.Fatal("音频生成失败应该返回错误")
	}

	state := studio.Snapshot()
	if state.Error != FallbackAudioError {
		t.Errorf("音频失败应该显示兜底文案，实际: %q", state.Error)
	}
	if state.Script == nil {
		t.Error("音频失败不应该清空脚本结果")
	}
}

func TestLoadingFlagsIndependent(t *testing.T) {
	mock := &mockBackend{scriptResult: sampleResult(), audioPath: "/audio/1.mp3"}
	studio := newTestStudio(mock)

	if _, err := studio.GenerateScript(context.Background(), models.SourceTopic, "主题"); err != nil {
		t.Fatalf("脚本生成失败: %v", err)
	}

	// 音频加载中不影响脚本加载标志
	studio.mu.Lock()
	studio.state.AudioLoading = true
	studio.mu.Unlock()

	state := studio.Snapshot()
	if state.ScriptLoading {
		t.Error("音频加载不应该影响脚本加载标志")
	}

	// 音频加载中重复触发音频返回冲突
	if _, err := studio.GenerateAudio(context.Background()); err == nil || !apperrors.IsConflictError(err) {
		t.Errorf("音频加载中重复触发应该返回冲突错误，实际: %v", err)
	}
}

func TestGenerateFromFiles(t *testing.T) {
	mock := &mockBackend{scriptResult: sampleResult()}
	studio := newTestStudio(mock)

	files := []UploadedFile{
		memFile("a.txt", "first"),
		memFile("b.md", "second"),
	}

	if _, err := studio.GenerateFromFiles(context.Background(), files); err != nil {
		t.Fatalf("文件生成失败: %v", err)
	}

	records := studio.RecentGenerations()
	if len(records) != 1 {
		t.Fatalf("历史记录数量不正确: %d", len(records))
	}
	if records[0].SourceType != models.SourceFile {
		t.Errorf("上传文件应该按 file 来源处理，实际: %s", records[0].SourceType)
	}
}

func TestGenerateFromFiles_InvalidName(t *testing.T) {
	mock := &mockBackend{scriptResult: sampleResult()}
	studio := newTestStudio(mock)

	files := []UploadedFile{memFile("virus.exe", "nope")}

	if _, err := studio.GenerateFromFiles(context.Background(), files); err == nil {
		t.Fatal("非法文件类型应该返回错误")
	}
	if mock.scriptCalls != 0 {
		t.Error("非法文件不应该调用后端")
	}
}

func TestHistoryLimit(t *testing.T) {
	mock := &mockBackend{scriptResult: sampleResult()}
	studio := NewStudioService(mock, NewProgressService(), nil, 3)

	for i := 0; i < 5; i++ {
		if _, err := studio.GenerateScript(context.Background(), models.SourceTopic, fmt.Sprintf("主题%d", i)); err != nil {
			t.Fatalf("第%d轮脚本生成失败: %v", i, err)
		}
	}

	records := studio.RecentGenerations()
	if len(records) != 3 {
		t.Fatalf("历史记录应该被裁剪到3条，实际: %d", len(records))
	}
	// 最新在前
	if records[0].Excerpt != "主题4" {
		t.Errorf("最新记录应该在最前，实际: %s", records[0].Excerpt)
	}
}

func TestBroadcastOnStateChanges(t *testing.T) {
	mock := &mockBackend{scriptResult: sampleResult()}
	studio := newTestStudio(mock)
	broadcaster := &mockBroadcaster{}
	studio.SetBroadcaster(broadcaster)

	if _, err := studio.GenerateScript(context.Background(), models.SourceTopic, "主题"); err != nil {
		t.Fatalf("脚本生成失败: %v", err)
	}

	// 开始（置起加载标志）和完成（写入结果）各推送一次
	if broadcaster.count() != 2 {
		t.Errorf("一次完整生成应该推送2次状态，实际: %d", broadcaster.count())
	}

	last := broadcaster.states[len(broadcaster.states)-1]
	if last.Script == nil || last.ScriptLoading {
		t.Error("最后一次推送应该包含完成后的状态")
	}
}
