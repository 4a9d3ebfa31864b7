// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/joho/godotenv"
)

// 当前配置的单例实例
var (
	currentConfig *AppConfig
	configMutex   sync.RWMutex
	configFile    string
)

// DefaultBackendURL 生成后端的默认地址
const DefaultBackendURL = "http://localhost:8000"

// DefaultHistoryLimit 内存中保留的生成历史条数
const DefaultHistoryLimit = 20

// AppConfig 包含应用程序的所有配置
type AppConfig struct {
	// 基础配置
	Port         string `json:"port"`
	DataDir      string `json:"data_dir"`
	StaticDir    string `json:"static_dir"`
	TemplatesDir string `json:"templates_dir"`
	LogDir       string `json:"log_dir"`
	DebugMode    bool   `json:"debug_mode"`

	// 生成后端配置（进程生命周期内固定，仅启动时读取）
	BackendURL string `json:"backend_url"`

	// 工作台配置
	HistoryLimit int `json:"history_limit"`
}

// Config 存储应用配置
type Config struct {
	Port         string
	BackendURL   string
	DataDir      string
	StaticDir    string
	TemplatesDir string
	LogDir       string
	DebugMode    bool
	HistoryLimit int
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	// 尝试加载.env文件（可选）
	godotenv.Load()

	// 创建配置
	config := &Config{
		Port:         getEnv("PORT", "8080"),
		BackendURL:   getEnv("BACKEND_URL", DefaultBackendURL),
		DataDir:      getEnvPath("DATA_DIR", "data"),
		StaticDir:    getEnvPath("STATIC_DIR", "web/static"),
		TemplatesDir: getEnvPath("TEMPLATES_DIR", "web/templates"),
		LogDir:       getEnvPath("LOG_DIR", "logs"),
		DebugMode:    getEnvBool("DEBUG_MODE", true),
		HistoryLimit: getEnvInt("HISTORY_LIMIT", DefaultHistoryLimit),
	}

	// 验证后端地址
	if _, err := url.Parse(config.BackendURL); err != nil {
		return nil, fmt.Errorf("无效的后端地址 %q: %w", config.BackendURL, err)
	}
	if config.BackendURL == DefaultBackendURL {
		log.Println("提示: 未设置BACKEND_URL，使用默认生成后端地址", DefaultBackendURL)
	}

	return config, nil
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvPath 获取环境变量表示的路径，如果不存在则返回默认值
func getEnvPath(key, defaultValue string) string {
	path := getEnv(key, defaultValue)

	// 确保目录存在
	if _, err := os.Stat(path); os.IsNotExist(err) {
		err = os.MkdirAll(path, 0755)
		if err != nil {
			fmt.Printf("警告: 创建目录失败 %s: %v\n", path, err)
		}
	}

	return path
}

// getEnvBool 获取布尔类型环境变量
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt 获取整数类型环境变量
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	n, err := strconv.Atoi(value)
	if err != nil {
		fmt.Printf("警告: 环境变量 %s=%q 不是整数，使用默认值 %d\n", key, value, defaultValue)
		return defaultValue
	}
	return n
}

// InitConfig 初始化配置管理器
func InitConfig(dataDir string) error {
	configFile = filepath.Join(dataDir, "config.json")

	// 加载基础配置
	baseConfig, err := Load()
	if err != nil {
		return err
	}

	// 创建初始配置
	configMutex.Lock()
	defer configMutex.Unlock()

	currentConfig = &AppConfig{
		Port:         baseConfig.Port,
		DataDir:      baseConfig.DataDir,
		StaticDir:    baseConfig.StaticDir,
		TemplatesDir: baseConfig.TemplatesDir,
		LogDir:       baseConfig.LogDir,
		DebugMode:    baseConfig.DebugMode,
		BackendURL:   baseConfig.BackendURL,
		HistoryLimit: baseConfig.HistoryLimit,
	}

	// 尝试从文件加载已保存的配置
	if _, err := os.Stat(configFile); !os.IsNotExist(err) {
		data, err := os.ReadFile(configFile)
		if err == nil {
			var savedConfig AppConfig
			if json.Unmarshal(data, &savedConfig) == nil {
				// 合并配置：环境变量优先于文件中的基础路径
				savedConfig.Port = baseConfig.Port
				savedConfig.DataDir = baseConfig.DataDir
				savedConfig.StaticDir = baseConfig.StaticDir
				savedConfig.TemplatesDir = baseConfig.TemplatesDir
				savedConfig.LogDir = baseConfig.LogDir

				// 后端地址：环境变量显式设置时以环境变量为准
				if os.Getenv("BACKEND_URL") != "" {
					savedConfig.BackendURL = baseConfig.BackendURL
				}
				if savedConfig.BackendURL == "" {
					savedConfig.BackendURL = baseConfig.BackendURL
				}
				if savedConfig.HistoryLimit <= 0 {
					savedConfig.HistoryLimit = baseConfig.HistoryLimit
				}

				currentConfig = &savedConfig
			}
		}
	}

	// 保存初始配置到文件
	return saveConfigLocked()
}

// ReloadFromDisk 重新读取已保存的配置文件并更新内存配置，
// 返回的布尔值表示磁盘内容相对内存配置是否有实际变化。
// 只读不写：热加载路径回写文件会再次触发文件监听，形成自激循环；
// 进程自身落盘产生的事件也借助变化标记被识别为无操作。
func ReloadFromDisk() (*AppConfig, bool, error) {
	configMutex.Lock()
	defer configMutex.Unlock()

	if configFile == "" || currentConfig == nil {
		return nil, false, fmt.Errorf("配置系统未初始化")
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, false, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var savedConfig AppConfig
	if err := json.Unmarshal(data, &savedConfig); err != nil {
		return nil, false, fmt.Errorf("解析配置文件失败: %w", err)
	}

	// 基础路径与端口以进程启动时的值为准
	savedConfig.Port = currentConfig.Port
	savedConfig.DataDir = currentConfig.DataDir
	savedConfig.StaticDir = currentConfig.StaticDir
	savedConfig.TemplatesDir = currentConfig.TemplatesDir
	savedConfig.LogDir = currentConfig.LogDir
	if savedConfig.HistoryLimit <= 0 {
		savedConfig.HistoryLimit = currentConfig.HistoryLimit
	}

	// 后端地址为进程内固定值，磁盘上的改动只提示不生效
	if savedConfig.BackendURL != "" && savedConfig.BackendURL != currentConfig.BackendURL {
		log.Printf("⚠️ 检测到 backend_url 变更 (%s → %s)，重启后生效", currentConfig.BackendURL, savedConfig.BackendURL)
	}
	savedConfig.BackendURL = currentConfig.BackendURL

	changed := savedConfig != *currentConfig
	currentConfig = &savedConfig

	configCopy := savedConfig
	return &configCopy, changed, nil
}

// GetCurrentConfig 返回当前配置的副本
func GetCurrentConfig() *AppConfig {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if currentConfig == nil {
		// 紧急情况，返回一个基本配置
		baseConfig, _ := Load()
		return &AppConfig{
			Port:         baseConfig.Port,
			DataDir:      baseConfig.DataDir,
			StaticDir:    baseConfig.StaticDir,
			TemplatesDir: baseConfig.TemplatesDir,
			LogDir:       baseConfig.LogDir,
			DebugMode:    baseConfig.DebugMode,
			BackendURL:   baseConfig.BackendURL,
			HistoryLimit: baseConfig.HistoryLimit,
		}
	}

	// 返回配置的副本
	configCopy := *currentConfig
	return &configCopy
}

// UpdateStudioConfig 更新工作台可变配置（后端地址不在其中）
func UpdateStudioConfig(debugMode bool, historyLimit int) error {
	configMutex.Lock()
	defer configMutex.Unlock()

	if currentConfig == nil {
		return fmt.Errorf("配置系统未初始化")
	}

	if historyLimit <= 0 {
		return fmt.Errorf("历史条数必须大于0")
	}

	currentConfig.DebugMode = debugMode
	currentConfig.HistoryLimit = historyLimit

	return saveConfigLocked()
}

// SaveConfig 保存当前配置到文件
func SaveConfig() error {
	configMutex.Lock()
	defer configMutex.Unlock()
	return saveConfigLocked()
}

func saveConfigLocked() error {
	if currentConfig == nil {
		return fmt.Errorf("没有配置可保存")
	}

	// 确保目录存在
	dir := filepath.Dir(configFile)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建配置目录失败: %w", err)
		}
	}

	// 序列化并保存
	data, err := json.MarshalIndent(currentConfig, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	return os.WriteFile(configFile, data, 0644)
}

// ConfigFilePath 返回配置文件路径（初始化后有效）
func ConfigFilePath() string {
	configMutex.RLock()
	defer configMutex.RUnlock()
	return configFile
}
