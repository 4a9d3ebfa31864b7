// internal/services/config_service.go
package services

import (
	"context"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/Corphon/TubeAgentMCP/internal/config"
	apperrors "github.com/Corphon/TubeAgentMCP/internal/errors"
	"github.com/fsnotify/fsnotify"
)

// ConfigService 提供配置管理功能
type ConfigService struct {
	// 缓存最近获取的配置，减少反复访问底层存储
	cachedConfig *config.AppConfig

	// 配置更新时间
	lastUpdated time.Time

	// 配置变更事件订阅者
	subscribers []ConfigChangeSubscriber

	// 配置历史记录
	changeHistory []ConfigChangeRecord

	// 互斥锁保护内部状态
	mu sync.RWMutex

	// 配置文件监听
	watcher *fsnotify.Watcher
}

// ConfigChangeSubscriber 配置变更订阅者接口
type ConfigChangeSubscriber interface {
	OnConfigChanged(oldConfig, newConfig *config.AppConfig)
}

// ConfigChangeRecord 配置变更记录
type ConfigChangeRecord struct {
	Timestamp time.Time
	ChangedBy string
	Section   string
	OldValue  interface{}
	NewValue  interface{}
}

// NewConfigService 创建配置服务实例
func NewConfigService() *ConfigService {
	service := &ConfigService{
		lastUpdated:   time.Now(),
		subscribers:   make([]ConfigChangeSubscriber, 0),
		changeHistory: make([]ConfigChangeRecord, 0, 100), // 预分配容量
	}

	// 初始化时加载配置到缓存
	service.cachedConfig = config.GetCurrentConfig()

	return service
}

// GetCurrentConfig 获取当前配置
func (s *ConfigService) GetCurrentConfig() *config.AppConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// 如果缓存为空，从底层获取
	if s.cachedConfig == nil {
		s.cachedConfig = config.GetCurrentConfig()
	}

	return s.cachedConfig
}

// UpdateStudioSettings 更新工作台可变设置（调试开关与历史条数）。
// 后端地址在进程生命周期内固定，这里不接受它的变更。
func (s *ConfigService) UpdateStudioSettings(debugMode bool, historyLimit int, changedBy string) error {
	oldConfig := s.GetCurrentConfig()

	if historyLimit <= 0 {
		return apperrors.NewValidationError("历史条数必须大于0", nil)
	}

	// 调用底层配置更新函数
	if err := config.UpdateStudioConfig(debugMode, historyLimit); err != nil {
		return apperrors.NewConfigError("保存配置失败", err)
	}

	// 更新缓存
	s.mu.Lock()
	s.cachedConfig = config.GetCurrentConfig()
	s.lastUpdated = time.Now()
	newConfig := s.cachedConfig
	s.mu.Unlock()

	// 记录变更
	s.recordChange("调试模式", oldConfig.DebugMode, debugMode, changedBy)
	s.recordChange("历史条数", oldConfig.HistoryLimit, historyLimit, changedBy)

	// 通知订阅者
	s.notifySubscribers(oldConfig, newConfig)

	return nil
}

// RejectBackendChange 统一的后端地址变更拒绝（设置接口使用）
func (s *ConfigService) RejectBackendChange() error {
	return apperrors.NewValidationError("后端地址在运行期间固定，修改后需重启生效", nil)
}

// SaveConfig 保存当前配置
func (s *ConfigService) SaveConfig() error {
	return config.SaveConfig()
}

// SubscribeToChanges 订阅配置变更事件
func (s *ConfigService) SubscribeToChanges(subscriber ConfigChangeSubscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscribers = append(s.subscribers, subscriber)
}

// UnsubscribeFromChanges 取消配置变更订阅
func (s *ConfigService) UnsubscribeFromChanges(subscriber ConfigChangeSubscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sub := range s.subscribers {
		if sub == subscriber {
			// 从订阅列表中移除
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			break
		}
	}
}

// notifySubscribers 通知所有订阅者配置已变更
func (s *ConfigService) notifySubscribers(oldConfig, newConfig *config.AppConfig) {
	s.mu.RLock()
	subscribers := make([]ConfigChangeSubscriber, len(s.subscribers))
	copy(subscribers, s.subscribers)
	s.mu.RUnlock()

	for _, subscriber := range subscribers {
		go subscriber.OnConfigChanged(oldConfig, newConfig)
	}
}

// GetChangeHistory 获取配置变更历史
func (s *ConfigService) GetChangeHistory(limit int) []ConfigChangeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.changeHistory) {
		limit = len(s.changeHistory)
	}

	// 返回最近的变更记录
	history := make([]ConfigChangeRecord, limit)
	startIdx := len(s.changeHistory) - limit
	copy(history, s.changeHistory[startIdx:])

	return history
}

// recordChange 记录配置变更
func (s *ConfigService) recordChange(section string, oldValue, newValue interface{}, changedBy string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := ConfigChangeRecord{
		Timestamp: time.Now(),
		ChangedBy: changedBy,
		Section:   section,
		OldValue:  oldValue,
		NewValue:  newValue,
	}

	// 限制历史记录数量，避免无限增长
	if len(s.changeHistory) >= 1000 {
		// 移除最旧的记录
		s.changeHistory = s.changeHistory[1:]
	}

	s.changeHistory = append(s.changeHistory, record)
}

// StartFileWatcher 监听配置文件的外部修改并热加载可变字段。
// 后端地址的磁盘修改会被忽略，重启后才生效。
func (s *ConfigService) StartFileWatcher(ctx context.Context) error {
	configPath := config.ConfigFilePath()
	if configPath == "" {
		return apperrors.NewConfigError("配置文件路径未初始化", nil)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return apperrors.NewConfigError("创建配置监听器失败", err)
	}

	// 监听所在目录，编辑器的原子替换会让单文件监听失效
	if err := watcher.Add(filepath.Dir(configPath)); err != nil {
		watcher.Close()
		return apperrors.NewConfigError("监听配置目录失败", err)
	}

	s.mu.Lock()
	s.watcher = watcher
	s.mu.Unlock()

	go func() {
		defer watcher.Close()

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(configPath) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				s.reloadFromDisk()

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("⚠️ 配置监听错误: %v", err)

			case <-ctx.Done():
				return
			}
		}
	}()

	log.Printf("👀 已开启配置文件监听: %s", configPath)
	return nil
}

// reloadFromDisk 从磁盘重新读取配置并把可变字段同步到缓存。
// 走只读路径：这里绝不能回写配置文件，否则会再次触发监听事件。
func (s *ConfigService) reloadFromDisk() {
	oldConfig := s.GetCurrentConfig()

	// 进程自身落盘也会产生监听事件，内容无变化时不通知
	reloaded, changed, err := config.ReloadFromDisk()
	if err != nil {
		log.Printf("⚠️ 配置热加载失败: %v", err)
		return
	}
	if !changed {
		return
	}

	s.mu.Lock()
	s.cachedConfig = reloaded
	s.lastUpdated = time.Now()
	s.mu.Unlock()

	s.recordChange("配置文件", "磁盘热加载", reloaded, "file_watcher")
	s.notifySubscribers(oldConfig, reloaded)
	log.Printf("🔄 配置已从磁盘热加载")
}

// StartCacheRefresher 启动一个后台goroutine定期刷新配置缓存
func (s *ConfigService) StartCacheRefresher(refreshInterval time.Duration) {
	go func() {
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()

		for range ticker.C {
			s.mu.Lock()
			s.cachedConfig = config.GetCurrentConfig()
			s.lastUpdated = time.Now()
			s.mu.Unlock()
		}
	}()
}
