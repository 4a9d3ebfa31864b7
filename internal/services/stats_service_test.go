package services

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStatsService_RecordScriptAttempt(t *testing.T) {
	tempDir := t.TempDir()
	service := NewStatsService(tempDir)
	defer service.Close()

	if err := service.RecordScriptAttempt(true); err != nil {
		t.Fatalf("记录脚本统计失败: %v", err)
	}
	if err := service.RecordScriptAttempt(false); err != nil {
		t.Fatalf("记录脚本统计失败: %v", err)
	}

	stats := service.GetUsageStats()
	if stats.ScriptSuccess != 1 {
		t.Errorf("脚本成功次数不正确: %d", stats.ScriptSuccess)
	}
	if stats.ScriptFailure != 1 {
		t.Errorf("脚本失败次数不正确: %d", stats.ScriptFailure)
	}
	if stats.TodayRequests != 2 {
		t.Errorf("今日请求次数不正确: %d", stats.TodayRequests)
	}
}

func TestStatsService_RecordAudioAttempt(t *testing.T) {
	tempDir := t.TempDir()
	service := NewStatsService(tempDir)
	defer service.Close()

	service.RecordAudioAttempt(true)
	service.RecordAudioAttempt(true)
	service.RecordAudioAttempt(false)

	stats := service.GetUsageStats()
	if stats.AudioSuccess != 2 {
		t.Errorf("音频成功次数不正确: %d", stats.AudioSuccess)
	}
	if stats.AudioFailure != 1 {
		t.Errorf("音频失败次数不正确: %d", stats.AudioFailure)
	}
}

func TestStatsService_PeriodCounters(t *testing.T) {
	tempDir := t.TempDir()
	service := NewStatsService(tempDir)
	defer service.Close()

	service.RecordScriptAttempt(true)

	stats := service.GetUsageStats()
	today := time.Now().Format("2006-01-02")
	month := time.Now().Format("2006-01")

	if stats.DailyStats[today] != 1 {
		t.Errorf("每日计数不正确: %d", stats.DailyStats[today])
	}
	if stats.MonthlyStats[month] != 1 {
		t.Errorf("每月计数不正确: %d", stats.MonthlyStats[month])
	}
}

func TestStatsService_PersistsOnClose(t *testing.T) {
	tempDir := t.TempDir()
	service := NewStatsService(tempDir)

	service.RecordScriptAttempt(true)
	if err := service.Close(); err != nil {
		t.Fatalf("关闭统计服务失败: %v", err)
	}

	statsFile := filepath.Join(tempDir, "stats", "usage_stats.json")
	if _, err := os.Stat(statsFile); os.IsNotExist(err) {
		t.Fatal("关闭后统计文件应该存在")
	}

	// 新实例应该加载已保存的数据
	reloaded := NewStatsService(tempDir)
	defer reloaded.Close()

	stats := reloaded.GetUsageStats()
	if stats.ScriptSuccess != 1 {
		t.Errorf("重新加载后统计数据不正确: %d", stats.ScriptSuccess)
	}
}

func TestStatsService_GetReturnsCopy(t *testing.T) {
	tempDir := t.TempDir()
	service := NewStatsService(tempDir)
	defer service.Close()

	service.RecordScriptAttempt(true)

	stats := service.GetUsageStats()
	stats.ScriptSuccess = 999
	stats.DailyStats["2099-01-01"] = 42

	fresh := service.GetUsageStats()
	if fresh.ScriptSuccess == 999 {
		t.Error("修改返回的副本不应该影响内部数据")
	}
	if _, exists := fresh.DailyStats["2099-01-01"]; exists {
		t.Error("修改返回的映射不应该影响内部数据")
	}
}

func TestStatsService_Reset(t *testing.T) {
	tempDir := t.TempDir()
	service := NewStatsService(tempDir)
	defer service.Close()

	service.RecordScriptAttempt(true)
	if err := service.ResetStats(); err != nil {
		t.Fatalf("重置统计失败: %v", err)
	}

	stats := service.GetUsageStats()
	if stats.ScriptSuccess != 0 || stats.TodayRequests != 0 {
		t.Error("重置后统计应该清零")
	}
}
