// internal/api/handlers.go
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Corphon/TubeAgentMCP/internal/models"
	"github.com/Corphon/TubeAgentMCP/internal/services"
	"github.com/Corphon/TubeAgentMCP/internal/utils"
	"github.com/gin-gonic/gin"
)

// Handler 处理API请求
type Handler struct {
	// 核心服务
	StudioService    *services.StudioService   // 工作台服务
	ProgressService  *services.ProgressService // 进度跟踪服务
	ConfigService    *services.ConfigService   // 配置服务
	StatsService     *services.StatsService    // 统计服务
	ExportService    *services.ExportService   // 导出服务
	WebSocketHandler *WebSocketHandler         // WebSocket 处理器
	Response         *ResponseHelper           // 响应助手
}

// GenerateRequest 生成请求结构
type GenerateRequest struct {
	Input      string `json:"input"`       // 用户输入（主题/仓库地址/脚本全文）
	SourceType string `json:"source_type"` // 可选，显式指定来源类型
}

// ClassifyRequest 输入分类请求结构
type ClassifyRequest struct {
	Input string `json:"input"` // 待分类的用户输入
}

// ExportRequest 导出请求结构
type ExportRequest struct {
	Format string `json:"format"` // 导出格式：json 或 markdown
}

// SettingsRequest 设置更新请求结构
type SettingsRequest struct {
	DebugMode    *bool  `json:"debug_mode"`    // 调试模式开关
	HistoryLimit *int   `json:"history_limit"` // 历史记录保留条数
	BackendURL   string `json:"backend_url"`   // 后端地址（运行期不可修改）
}

// APIResponse 标准API响应格式
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"` // 用于调试和追踪
}

// APIError 标准错误格式
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ------------------------------------------------
// 页面与健康检查
// ------------------------------------------------

// IndexPage 渲染工作台首页
func (h *Handler) IndexPage(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", gin.H{
		"title": "TubeAgent Studio",
	})
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// ------------------------------------------------
// 输入分类与生成
// ------------------------------------------------

// Classify 对用户输入做来源分类预览，不触发生成
func (h *Handler) Classify(c *gin.Context) {
	var req ClassifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求格式", err.Error())
		return
	}

	if strings.TrimSpace(req.Input) == "" {
		h.Response.Error(c, http.StatusBadRequest, ErrorEmptyInput, "请输入主题、仓库地址或脚本内容")
		return
	}

	h.Response.Success(c, services.PreviewClassification(req.Input))
}

// GenerateScript 触发脚本生成
// 生成调用不设超时，由后端决定耗时，客户端断开不会中断生成
func (h *Handler) GenerateScript(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求格式", err.Error())
		return
	}

	var (
		result *models.ScriptResult
		err    error
	)

	if req.SourceType != "" {
		sourceType := models.SourceType(req.SourceType)
		if !sourceType.IsValid() {
			h.Response.Error(c, http.StatusBadRequest, ErrorValidationFailed,
				fmt.Sprintf("无效的来源类型: %s", req.SourceType))
			return
		}
		result, err = h.StudioService.GenerateScript(context.Background(), sourceType, req.Input)
	} else {
		result, err = h.StudioService.GenerateFromInput(context.Background(), req.Input)
	}

	if err != nil {
		h.Response.AppError(c, err, ErrorScriptGenerateFailed)
		return
	}

	h.Response.Success(c, gin.H{
		"result": result,
		"state":  h.StudioService.Snapshot(),
	}, "脚本生成成功")
}

// GenerateUpload 处理文件上传并触发脚本生成
func (h *Handler) GenerateUpload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		h.Response.Error(c, http.StatusBadRequest, ErrorFileUploadFailed, "解析上传表单失败", err.Error())
		return
	}

	fileHeaders := form.File["files"]
	if len(fileHeaders) == 0 {
		h.Response.Error(c, http.StatusBadRequest, ErrorNoFilesSelected, "请至少选择一个文件")
		return
	}

	files := make([]services.UploadedFile, 0, len(fileHeaders))
	for _, header := range fileHeaders {
		if header.Size > services.MaxUploadFileSize {
			h.Response.Error(c, http.StatusBadRequest, ErrorFileTooLarge,
				fmt.Sprintf("文件 %s 超过大小限制", header.Filename))
			return
		}
		if err := services.ValidateUploadName(header.Filename); err != nil {
			h.Response.AppError(c, err, ErrorFileInvalid)
			return
		}

		fh := header
		files = append(files, services.UploadedFile{
			Name: fh.Filename,
			Open: func() (io.ReadCloser, error) {
				return fh.Open()
			},
		})
	}

	result, err := h.StudioService.GenerateFromFiles(context.Background(), files)
	if err != nil {
		h.Response.AppError(c, err, ErrorScriptGenerateFailed)
		return
	}

	h.Response.Success(c, gin.H{
		"result": result,
		"state":  h.StudioService.Snapshot(),
	}, "脚本生成成功")
}

// GenerateAudio 基于当前脚本触发旁白音频生成
func (h *Handler) GenerateAudio(c *gin.Context) {
	result, err := h.StudioService.GenerateAudio(context.Background())
	if err != nil {
		h.Response.AppError(c, err, ErrorAudioGenerateFailed)
		return
	}

	h.Response.Success(c, gin.H{
		"result": result,
		"state":  h.StudioService.Snapshot(),
	}, "音频生成成功")
}

// ------------------------------------------------
// 状态与历史
// ------------------------------------------------

// GetState 获取工作台状态快照
func (h *Handler) GetState(c *gin.Context) {
	h.Response.Success(c, h.StudioService.Snapshot())
}

// GetGenerations 获取最近的生成历史记录
func (h *Handler) GetGenerations(c *gin.Context) {
	h.Response.Success(c, gin.H{
		"generations": h.StudioService.RecentGenerations(),
	})
}

// GetStats 获取使用统计与进程内指标
func (h *Handler) GetStats(c *gin.Context) {
	if h.StatsService == nil {
		h.Response.InternalError(c, "统计服务未初始化")
		return
	}

	h.Response.Success(c, gin.H{
		"usage":   h.StatsService.GetUsageStats(),
		"metrics": utils.GetMetricsCollector().GetMetrics(),
	})
}

// ------------------------------------------------
// 导出
// ------------------------------------------------

// ExportResult 导出当前脚本结果
func (h *Handler) ExportResult(c *gin.Context) {
	var req ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求格式", err.Error())
		return
	}

	if h.ExportService == nil {
		h.Response.Error(c, http.StatusInternalServerError, ErrorExportServiceUnavailable,
			"导出服务未初始化")
		return
	}

	script := h.StudioService.CurrentScript()
	if script == nil {
		h.Response.Error(c, http.StatusNotFound, ErrorNoScriptResult,
			"没有可导出的脚本", "请先生成脚本")
		return
	}

	result, err := h.ExportService.ExportScriptResult(script, h.StudioService.CurrentAudioURL(), req.Format)
	if err != nil {
		h.Response.AppError(c, err, ErrorExportFailed)
		return
	}

	h.Response.ExportResponse(c, result)
}

// ------------------------------------------------
// 设置
// ------------------------------------------------

// GetSettings 获取当前设置
func (h *Handler) GetSettings(c *gin.Context) {
	cfg := h.ConfigService.GetCurrentConfig()
	h.Response.Success(c, gin.H{
		"backend_url":    cfg.BackendURL,
		"debug_mode":     cfg.DebugMode,
		"history_limit":  cfg.HistoryLimit,
		"port":           cfg.Port,
		"recent_changes": h.ConfigService.GetChangeHistory(5),
	})
}

// UpdateSettings 更新工作台设置
// 后端地址在进程生命周期内固定，运行期修改请求会被拒绝
func (h *Handler) UpdateSettings(c *gin.Context) {
	var req SettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求格式", err.Error())
		return
	}

	cfg := h.ConfigService.GetCurrentConfig()

	if req.BackendURL != "" && req.BackendURL != cfg.BackendURL {
		err := h.ConfigService.RejectBackendChange()
		h.Response.Error(c, http.StatusBadRequest, ErrorSettingsImmutable, err.Error())
		return
	}

	debugMode := cfg.DebugMode
	if req.DebugMode != nil {
		debugMode = *req.DebugMode
	}

	historyLimit := cfg.HistoryLimit
	if req.HistoryLimit != nil {
		if *req.HistoryLimit <= 0 {
			h.Response.Error(c, http.StatusBadRequest, ErrorConfigInvalid, "历史记录条数必须大于0")
			return
		}
		historyLimit = *req.HistoryLimit
	}

	if err := h.ConfigService.UpdateStudioSettings(debugMode, historyLimit, h.requestUser(c)); err != nil {
		h.Response.AppError(c, err, ErrorConfigInvalid)
		return
	}

	h.GetSettings(c)
}

// requestUser 从请求中识别操作者标识
func (h *Handler) requestUser(c *gin.Context) string {
	if userID := c.GetHeader("X-User-ID"); userID != "" {
		return userID
	}
	return c.ClientIP()
}

// ------------------------------------------------
// 进度事件流 (SSE)
// ------------------------------------------------

// Events 订阅生成进度事件流
func (h *Handler) Events(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("Transfer-Encoding", "chunked")

	// 获取客户端连接
	clientGone := c.Request.Context().Done()

	// 订阅进度更新
	updateChan := h.ProgressService.Subscribe()
	defer h.ProgressService.Unsubscribe(updateChan)

	// 发送心跳和更新
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	// 发送初始事件保持连接打开
	fmt.Fprintf(c.Writer, "event: connected\ndata: {\"message\":\"连接已建立\"}\n\n")
	c.Writer.Flush()

	for {
		select {
		case <-clientGone:
			// 客户端断开连接
			return
		case event, ok := <-updateChan:
			if !ok {
				// 通道已关闭
				return
			}
			// 发送进度更新
			data, _ := json.Marshal(event)
			fmt.Fprintf(c.Writer, "event: progress\ndata: %s\n\n", string(data))
			c.Writer.Flush()
		case <-ticker.C:
			// 发送心跳以保持连接
			fmt.Fprintf(c.Writer, "event: heartbeat\ndata: {\"time\":%d}\n\n", time.Now().Unix())
			c.Writer.Flush()
		}
	}
}

// ------------------------------------------------
// WebSocket
// ------------------------------------------------

// StudioWebSocket 处理工作台 WebSocket 连接
func (h *Handler) StudioWebSocket(c *gin.Context) {
	h.WebSocketHandler.StudioWebSocket(c)
}

// GetWebSocketStatus 获取 WebSocket 连接状态（调试用）
func (h *Handler) GetWebSocketStatus(c *gin.Context) {
	status := wsManager.GetStatus()
	status["ping_timeout_seconds"] = int(wsManager.pingTimeout.Seconds())
	status["timestamp"] = time.Now().Format(time.RFC3339)

	c.JSON(http.StatusOK, status)
}

// CleanupWebSocketConnections 手动触发连接清理
func (h *Handler) CleanupWebSocketConnections(c *gin.Context) {
	wsManager.cleanupExpiredConnections()
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"message":   "连接清理已执行",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
