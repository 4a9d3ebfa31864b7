// internal/services/stats_service.go
package services

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// UsageStats 表示生成链路的使用统计
type UsageStats struct {
	TodayRequests int            `json:"today_requests"` // 今日生成请求次数
	ScriptSuccess int            `json:"script_success"`
	ScriptFailure int            `json:"script_failure"`
	AudioSuccess  int            `json:"audio_success"`
	AudioFailure  int            `json:"audio_failure"`
	DailyStats    map[string]int `json:"daily_stats"`   // 日期 -> 请求次数
	MonthlyStats  map[string]int `json:"monthly_stats"` // 月份 -> 请求次数
	LastUpdated   time.Time      `json:"last_updated"`
}

// StatsService 提供生成使用统计功能
type StatsService struct {
	BasePath    string      // 统计数据存储路径
	statsFile   string      // 统计文件名
	mutex       sync.Mutex  // 用于数据访问的互斥锁
	cachedStats *UsageStats // 缓存的统计数据

	// 批量保存控制
	isDirty      bool
	lastSaveTime time.Time
	saveInterval time.Duration
}

// NewStatsService 创建统计服务实例
func NewStatsService(dataDir string) *StatsService {
	basePath := filepath.Join(dataDir, "stats")

	// 确保统计数据目录存在
	if err := os.MkdirAll(basePath, 0755); err != nil {
		fmt.Printf("警告: 创建统计目录失败: %v\n", err)
	}

	service := &StatsService{
		BasePath:     basePath,
		statsFile:    filepath.Join(basePath, "usage_stats.json"),
		saveInterval: 30 * time.Second,
	}

	service.startPeriodicSave()

	return service
}

// initStatsUnlocked 初始化统计数据（无锁版本）
func (s *StatsService) initStatsUnlocked() {
	// 尝试加载现有数据
	if loadedStats, err := s.loadStats(); err == nil {
		s.resetExpiredPeriods(loadedStats)
		s.cachedStats = loadedStats
		return
	}

	// 加载失败或文件不存在，创建新的统计数据
	s.cachedStats = newEmptyStats()

	if err := s.saveStats(s.cachedStats); err != nil {
		fmt.Printf("警告: 保存初始统计数据失败: %v\n", err)
	}
}

func newEmptyStats() *UsageStats {
	return &UsageStats{
		DailyStats:   make(map[string]int),
		MonthlyStats: make(map[string]int),
		LastUpdated:  time.Now(),
	}
}

// resetExpiredPeriods 跨天后重置每日计数
func (s *StatsService) resetExpiredPeriods(stats *UsageStats) {
	today := time.Now().Format("2006-01-02")
	lastDate := stats.LastUpdated.Format("2006-01-02")

	if today != lastDate {
		stats.TodayRequests = 0
		stats.LastUpdated = time.Now()
		if err := s.saveStats(stats); err != nil {
			fmt.Printf("警告: 重置每日统计失败: %v\n", err)
		}
	}
}

// loadStats 从文件加载统计数据
func (s *StatsService) loadStats() (*UsageStats, error) {
	data, err := os.ReadFile(s.statsFile)
	if err != nil {
		return nil, fmt.Errorf("读取统计文件失败: %w", err)
	}

	var stats UsageStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("解析统计数据失败: %w", err)
	}

	// 确保映射已初始化
	if stats.DailyStats == nil {
		stats.DailyStats = make(map[string]int)
	}
	if stats.MonthlyStats == nil {
		stats.MonthlyStats = make(map[string]int)
	}

	return &stats, nil
}

// saveStats 保存统计数据到文件
func (s *StatsService) saveStats(stats *UsageStats) error {
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化统计数据失败: %w", err)
	}

	// 使用临时文件确保原子性写入
	tempFile := s.statsFile + ".tmp"

	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("写入临时统计文件失败: %w", err)
	}

	if err := os.Rename(tempFile, s.statsFile); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("替换统计文件失败: %w", err)
	}

	return nil
}

// GetUsageStats 获取使用统计
func (s *StatsService) GetUsageStats() *UsageStats {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.cachedStats == nil {
		s.initStatsUnlocked()
	}

	s.resetExpiredPeriods(s.cachedStats)

	// 返回深度副本
	return &UsageStats{
		TodayRequests: s.cachedStats.TodayRequests,
		ScriptSuccess: s.cachedStats.ScriptSuccess,
		ScriptFailure: s.cachedStats.ScriptFailure,
		AudioSuccess:  s.cachedStats.AudioSuccess,
		AudioFailure:  s.cachedStats.AudioFailure,
		DailyStats:    copyIntMap(s.cachedStats.DailyStats),
		MonthlyStats:  copyIntMap(s.cachedStats.MonthlyStats),
		LastUpdated:   s.cachedStats.LastUpdated,
	}
}

func copyIntMap(original map[string]int) map[string]int {
	if original == nil {
		return make(map[string]int)
	}

	clone := make(map[string]int, len(original))
	maps.Copy(clone, original)
	return clone
}

// RecordScriptAttempt 记录一次脚本生成尝试
func (s *StatsService) RecordScriptAttempt(success bool) error {
	return s.record(func(stats *UsageStats) {
		if success {
			stats.ScriptSuccess++
		} else {
			stats.ScriptFailure++
		}
	})
}

// RecordAudioAttempt 记录一次音频生成尝试
func (s *StatsService) RecordAudioAttempt(success bool) error {
	return s.record(func(stats *UsageStats) {
		if success {
			stats.AudioSuccess++
		} else {
			stats.AudioFailure++
		}
	})
}

// record 更新统计并标记待保存
func (s *StatsService) record(apply func(*UsageStats)) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.cachedStats == nil {
		s.initStatsUnlocked()
	}

	now := time.Now()
	today := now.Format("2006-01-02")
	month := now.Format("2006-01")

	s.cachedStats.TodayRequests++
	s.cachedStats.DailyStats[today]++
	s.cachedStats.MonthlyStats[month]++
	s.cachedStats.LastUpdated = now
	apply(s.cachedStats)

	// 标记为需要保存，但不立即保存
	s.isDirty = true

	if now.Sub(s.lastSaveTime) > s.saveInterval {
		return s.saveStatsImmediate()
	}

	return nil
}

// saveStatsImmediate 立即保存（调用方需持有锁）
func (s *StatsService) saveStatsImmediate() error {
	if !s.isDirty {
		return nil
	}

	err := s.saveStats(s.cachedStats)
	if err == nil {
		s.isDirty = false
		s.lastSaveTime = time.Now()
	}
	return err
}

// startPeriodicSave 定时保存机制
func (s *StatsService) startPeriodicSave() {
	go func() {
		ticker := time.NewTicker(s.saveInterval)
		defer ticker.Stop()

		for range ticker.C {
			s.mutex.Lock()
			if s.isDirty {
				if err := s.saveStatsImmediate(); err != nil {
					fmt.Printf("警告: 定时保存统计数据失败: %v\n", err)
				}
			}
			s.mutex.Unlock()
		}
	}()
}

// ResetStats 重置统计数据（仅用于测试或管理目的）
func (s *StatsService) ResetStats() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	newStats := newEmptyStats()

	if err := s.saveStats(newStats); err != nil {
		return err
	}

	s.cachedStats = newStats
	return nil
}

// Close 关闭服务，确保数据保存
func (s *StatsService) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.isDirty {
		return s.saveStatsImmediate()
	}
	return nil
}
