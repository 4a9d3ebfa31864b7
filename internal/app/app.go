// internal/app/app.go
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Corphon/TubeAgentMCP/internal/api"
	"github.com/Corphon/TubeAgentMCP/internal/backend"
	"github.com/Corphon/TubeAgentMCP/internal/config"
	"github.com/Corphon/TubeAgentMCP/internal/di"
	"github.com/Corphon/TubeAgentMCP/internal/services"
	"github.com/Corphon/TubeAgentMCP/internal/storage"
	"github.com/Corphon/TubeAgentMCP/internal/utils"
)

// httpServer 抽象HTTP服务器，便于测试替换
type httpServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// App 应用核心结构
type App struct {
	config   *config.AppConfig
	router   http.Handler
	server   httpServer
	stopChan chan os.Signal
}

// 全局应用实例
var instance *App

// GetApp 获取应用单例
func GetApp() *App {
	if instance == nil {
		instance = &App{
			stopChan: make(chan os.Signal, 1),
		}
	}
	return instance
}

// Initialize 初始化应用：配置、日志、服务和路由
func Initialize(configPath string) error {
	app := GetApp()

	// 初始化配置
	if err := config.InitConfig(configPath); err != nil {
		return fmt.Errorf("初始化配置失败: %w", err)
	}

	cfg := config.GetCurrentConfig()
	app.config = cfg

	// 初始化日志系统
	if err := initLogger(cfg.LogDir); err != nil {
		return fmt.Errorf("初始化日志系统失败: %w", err)
	}

	// 初始化服务
	if err := InitServices(); err != nil {
		return fmt.Errorf("初始化服务失败: %w", err)
	}

	// 设置路由
	router, err := api.SetupRouter()
	if err != nil {
		return fmt.Errorf("设置路由失败: %w", err)
	}
	app.router = router

	return nil
}

// initLogger 初始化日志系统
func initLogger(logDir string) error {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("创建日志目录失败: %w", err)
	}

	return utils.InitDailyLogger(logDir)
}

// InitServices 初始化并注册所有服务
// 注册顺序遵循依赖关系：存储 -> 配置 -> 进度/统计 -> 后端客户端 -> 工作台 -> 导出
func InitServices() error {
	container := di.GetContainer()
	cfg := config.GetCurrentConfig()

	// 文件存储
	fileStorage, err := storage.NewFileStorage(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("初始化文件存储失败: %w", err)
	}
	container.Register("storage", fileStorage)

	// 配置服务
	configService := services.NewConfigService()
	container.Register("config", configService)

	// 进度与统计
	progressService := services.NewProgressService()
	container.Register("progress", progressService)

	statsService := services.NewStatsService(cfg.DataDir)
	container.Register("stats", statsService)

	// 生成后端客户端
	backendClient := backend.NewClient(cfg.BackendURL)
	container.Register("backend", backendClient)

	// 工作台服务
	studioService := services.NewStudioService(backendClient, progressService, statsService, cfg.HistoryLimit)
	configService.SubscribeToChanges(studioService)
	container.Register("studio", studioService)

	// 导出服务
	exportService := services.NewExportService(fileStorage)
	container.Register("export", exportService)

	// 配置文件热重载，监听不可用时退化为定时刷新
	if err := configService.StartFileWatcher(context.Background()); err != nil {
		log.Printf("⚠️ 配置文件监听启动失败，改用定时刷新: %v", err)
		configService.StartCacheRefresher(30 * time.Second)
	}

	return nil
}

// Run 启动HTTP服务器并等待停止信号
func Run() error {
	app := GetApp()

	if app.server == nil {
		app.server = &http.Server{
			Addr:    ":" + app.config.Port,
			Handler: app.router,
		}
	}

	// 监听系统信号
	signal.Notify(app.stopChan, syscall.SIGINT, syscall.SIGTERM)

	// 启动服务器
	errChan := make(chan error, 1)
	go func() {
		log.Printf("🚀 服务器启动，监听端口 %s", app.config.Port)
		if err := app.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	// 等待停止信号或启动错误
	select {
	case err := <-errChan:
		return fmt.Errorf("服务器启动失败: %w", err)
	case sig := <-app.stopChan:
		log.Printf("🛑 收到信号 %v，开始优雅关闭...", sig)
	}

	// 优雅关闭
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("服务器关闭失败: %w", err)
	}

	app.cleanup()
	log.Println("✅ 服务器已关闭")
	return nil
}

// cleanup 清理应用资源
func (a *App) cleanup() {
	container := di.GetContainer()

	// 统计服务需要把缓冲的数据落盘
	if statsService, ok := container.Get("stats").(*services.StatsService); ok && statsService != nil {
		if err := statsService.Close(); err != nil {
			log.Printf("⚠️ 统计服务关闭失败: %v", err)
		}
	}

	// 存储层清理缓存
	if fileStorage, ok := container.Get("storage").(*storage.FileStorage); ok && fileStorage != nil {
		fileStorage.ClearCache()
	}
}

// GetConfig 获取应用配置
func (a *App) GetConfig() *config.AppConfig {
	return a.config
}

// GetDIContainer 获取依赖注入容器
func GetDIContainer() *di.Container {
	return di.GetContainer()
}

// IsDebugMode 检查是否处于调试模式
func IsDebugMode() bool {
	if instance == nil || instance.config == nil {
		return false
	}
	return instance.config.DebugMode
}
