package services

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/Corphon/TubeAgentMCP/internal/config"
	apperrors "github.com/Corphon/TubeAgentMCP/internal/errors"
)

// changeRecorder 记录收到的配置变更通知
type changeRecorder struct {
	notified chan *config.AppConfig
}

func newChangeRecorder() *changeRecorder {
	return &changeRecorder{notified: make(chan *config.AppConfig, 4)}
}

func (r *changeRecorder) OnConfigChanged(oldConfig, newConfig *config.AppConfig) {
	r.notified <- newConfig
}

func newTestConfigService(t *testing.T) *ConfigService {
	t.Helper()

	tempDir := t.TempDir()
	t.Setenv("DATA_DIR", tempDir)
	t.Setenv("LOG_DIR", tempDir)
	t.Setenv("STATIC_DIR", tempDir)
	t.Setenv("TEMPLATES_DIR", tempDir)

	if err := config.InitConfig(tempDir); err != nil {
		t.Fatalf("初始化配置失败: %v", err)
	}

	return NewConfigService()
}

func TestUpdateStudioSettings(t *testing.T) {
	service := newTestConfigService(t)

	recorder := newChangeRecorder()
	service.SubscribeToChanges(recorder)

	if err := service.UpdateStudioSettings(false, 7, "tester"); err != nil {
		t.Fatalf("更新设置失败: %v", err)
	}

	cfg := service.GetCurrentConfig()
	if cfg.DebugMode {
		t.Error("调试模式应该已关闭")
	}
	if cfg.HistoryLimit != 7 {
		t.Errorf("历史条数不正确: %d", cfg.HistoryLimit)
	}

	// 订阅者应该收到通知
	select {
	case newConfig := <-recorder.notified:
		if newConfig.HistoryLimit != 7 {
			t.Errorf("通知中的历史条数不正确: %d", newConfig.HistoryLimit)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("订阅者应该收到配置变更通知")
	}
}

func TestUpdateStudioSettings_InvalidLimit(t *testing.T) {
	service := newTestConfigService(t)

	err := service.UpdateStudioSettings(true, 0, "tester")
	if err == nil {
		t.Fatal("历史条数为0应该返回错误")
	}
	if !apperrors.IsValidationError(err) {
		t.Errorf("应该返回验证错误，实际: %v", err)
	}
}

func TestRejectBackendChange(t *testing.T) {
	service := newTestConfigService(t)

	err := service.RejectBackendChange()
	if err == nil {
		t.Fatal("后端地址变更应该被拒绝")
	}
	if !apperrors.IsValidationError(err) {
		t.Errorf("应该返回验证错误，实际: %v", err)
	}
}

func TestGetChangeHistory(t *testing.T) {
	service := newTestConfigService(t)

	if err := service.UpdateStudioSettings(true, 10, "tester"); err != nil {
		t.Fatalf("更新设置失败: %v", err)
	}

	// 一次更新产生两条记录（调试模式+历史条数）
	history := service.GetChangeHistory(0)
	if len(history) != 2 {
		t.Fatalf("变更历史条数不正确: %d", len(history))
	}
	if history[0].ChangedBy != "tester" {
		t.Errorf("变更人不正确: %s", history[0].ChangedBy)
	}

	// limit截断返回最近的记录
	latest := service.GetChangeHistory(1)
	if len(latest) != 1 {
		t.Fatalf("限制条数不生效: %d", len(latest))
	}
	if latest[0].Section != "历史条数" {
		t.Errorf("应该返回最近的一条记录，实际: %s", latest[0].Section)
	}
}

func TestStartFileWatcher_ExternalEdit(t *testing.T) {
	service := newTestConfigService(t)

	recorder := newChangeRecorder()
	service.SubscribeToChanges(recorder)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := service.StartFileWatcher(ctx); err != nil {
		t.Fatalf("启动配置监听失败: %v", err)
	}

	// 模拟外部编辑：修改历史条数，同时尝试篡改后端地址
	oldConfig := service.GetCurrentConfig()
	edited := *oldConfig
	edited.HistoryLimit = 42
	edited.BackendURL = "http://other-backend:9999"

	data, err := json.MarshalIndent(&edited, "", "  ")
	if err != nil {
		t.Fatalf("序列化配置失败: %v", err)
	}
	if err := os.WriteFile(config.ConfigFilePath(), data, 0644); err != nil {
		t.Fatalf("写入配置文件失败: %v", err)
	}

	// 可变字段热加载生效，后端地址保持进程内固定值
	select {
	case newConfig := <-recorder.notified:
		if newConfig.HistoryLimit != 42 {
			t.Errorf("热加载后历史条数不正确: %d", newConfig.HistoryLimit)
		}
		if newConfig.BackendURL != oldConfig.BackendURL {
			t.Errorf("磁盘上的后端地址改动不应该生效: %s", newConfig.BackendURL)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("外部编辑后应该收到热加载通知")
	}

	// 一次编辑只通知一次：热加载绝不能回写文件再次触发监听
	select {
	case <-recorder.notified:
		t.Error("一次外部编辑不应该产生多次通知")
	case <-time.After(700 * time.Millisecond):
	}

	if got := service.GetCurrentConfig().HistoryLimit; got != 42 {
		t.Errorf("服务缓存应该同步热加载结果: %d", got)
	}
}

func TestStartFileWatcher_OwnSaveDoesNotLoop(t *testing.T) {
	service := newTestConfigService(t)

	recorder := newChangeRecorder()
	service.SubscribeToChanges(recorder)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := service.StartFileWatcher(ctx); err != nil {
		t.Fatalf("启动配置监听失败: %v", err)
	}

	// 设置更新会落盘并触发监听事件，但内容已是最新，不应该重复通知
	if err := service.UpdateStudioSettings(false, 9, "tester"); err != nil {
		t.Fatalf("更新设置失败: %v", err)
	}

	select {
	case newConfig := <-recorder.notified:
		if newConfig.HistoryLimit != 9 {
			t.Errorf("通知中的历史条数不正确: %d", newConfig.HistoryLimit)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("更新设置应该通知订阅者")
	}

	select {
	case <-recorder.notified:
		t.Error("进程自身落盘不应该再经由监听触发第二次通知")
	case <-time.After(700 * time.Millisecond):
	}
}

func TestUnsubscribeFromChanges(t *testing.T) {
	service := newTestConfigService(t)

	recorder := newChangeRecorder()
	service.SubscribeToChanges(recorder)
	service.UnsubscribeFromChanges(recorder)

	if err := service.UpdateStudioSettings(true, 5, "tester"); err != nil {
		t.Fatalf("更新设置失败: %v", err)
	}

	select {
	case <-recorder.notified:
		t.Error("取消订阅后不应该再收到通知")
	case <-time.After(200 * time.Millisecond):
	}
}
