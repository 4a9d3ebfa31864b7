// internal/api/router.go
package api

import (
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/Corphon/TubeAgentMCP/internal/config"
	"github.com/Corphon/TubeAgentMCP/internal/di"
	"github.com/Corphon/TubeAgentMCP/internal/services"
	"github.com/gin-gonic/gin"
)

// SetupRouter 配置HTTP路由
func SetupRouter() (*gin.Engine, error) {
	// 获取配置
	cfg := config.GetCurrentConfig()

	// 获取依赖注入容器
	container := di.GetContainer()

	// ✅ 只从容器获取服务，不再创建新实例
	studioService, ok := container.Get("studio").(*services.StudioService)
	if !ok {
		return nil, fmt.Errorf("工作台服务未正确初始化")
	}

	progressService, ok := container.Get("progress").(*services.ProgressService)
	if !ok {
		return nil, fmt.Errorf("进度服务未正确初始化")
	}

	configService, ok := container.Get("config").(*services.ConfigService)
	if !ok {
		return nil, fmt.Errorf("配置服务未正确初始化")
	}

	statsService, ok := container.Get("stats").(*services.StatsService)
	if !ok {
		return nil, fmt.Errorf("统计服务未正确初始化")
	}

	exportService, ok := container.Get("export").(*services.ExportService)
	if !ok {
		return nil, fmt.Errorf("导出服务未正确初始化")
	}

	// 状态变化通过 WebSocket 推送给所有客户端
	studioService.SetBroadcaster(GetSocketManager())

	// 进度事件同样转发到 WebSocket，页面不必同时订阅 SSE
	go forwardProgressEvents(progressService, GetSocketManager())

	// ✅ 创建API处理器 - 只传递从容器获取的服务
	handler := &Handler{
		StudioService:    studioService,
		ProgressService:  progressService,
		ConfigService:    configService,
		StatsService:     statsService,
		ExportService:    exportService,
		WebSocketHandler: NewWebSocketHandler(),
		Response:         NewResponseHelper(),
	}

	// 创建路由
	r := gin.Default()

	// 启用CORS和请求追踪
	r.Use(corsMiddleware())
	r.Use(RequestIDMiddleware())
	r.Use(MetricsMiddleware())

	// HTTPS重定向（生产环境）
	if !cfg.DebugMode {
		r.Use(func(c *gin.Context) {
			if c.Request.Header.Get("X-Forwarded-Proto") != "https" {
				c.Redirect(http.StatusPermanentRedirect,
					"https://"+c.Request.Host+c.Request.URL.Path)
				return
			}
			c.Next()
		})
	}

	// 静态文件服务
	r.Static("/static", cfg.StaticDir)

	// HTML模板
	r.LoadHTMLGlob(filepath.Join(cfg.TemplatesDir, "*.html"))

	// ===============================
	// 页面路由
	// ===============================
	r.GET("/", handler.IndexPage)
	r.GET("/health", handler.HealthCheck)

	// WebSocket 支持
	r.GET("/ws/studio", handler.StudioWebSocket)

	// ===============================
	// API路由组
	// ===============================
	api := r.Group("/api")
	api.Use(DefaultRateLimit())
	{
		// 输入分类
		api.POST("/classify", handler.Classify)

		// ===============================
		// 生成相关路由
		// ===============================
		generateGroup := api.Group("/generate")
		generateGroup.Use(GenerateRateLimit())
		{
			generateGroup.POST("/script", handler.GenerateScript)
			generateGroup.POST("/upload", UploadRateLimit(), handler.GenerateUpload)
			generateGroup.POST("/audio", handler.GenerateAudio)
		}

		// ===============================
		// 状态与历史
		// ===============================
		api.GET("/state", handler.GetState)
		api.GET("/generations", handler.GetGenerations)
		api.GET("/stats", handler.GetStats)

		// 导出
		api.POST("/export", handler.ExportResult)

		// ===============================
		// 设置相关路由
		// ===============================
		settingsGroup := api.Group("/settings")
		{
			settingsGroup.GET("", handler.GetSettings)
			settingsGroup.PUT("", handler.UpdateSettings)
		}

		// 进度事件流 (SSE)
		api.GET("/events", handler.Events)

		// WebSocket 管理路由
		wsGroup := api.Group("/ws")
		{
			wsGroup.GET("/status", handler.GetWebSocketStatus)
			wsGroup.POST("/cleanup", handler.CleanupWebSocketConnections)
		}
	}

	return r, nil
}

// forwardProgressEvents 把生成进度事件桥接到 WebSocket 广播
func forwardProgressEvents(progressService *services.ProgressService, manager *StudioSocketManager) {
	subscriber := progressService.Subscribe()
	defer progressService.Unsubscribe(subscriber)

	for event := range subscriber {
		manager.BroadcastEvent(event.Stage, event.Message)
	}
}

// corsMiddleware 实现跨域资源共享
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
