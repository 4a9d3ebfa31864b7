// internal/backend/client.go
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Corphon/TubeAgentMCP/internal/models"
)

// APIError 表示生成后端返回的非 2xx 响应
type APIError struct {
	StatusCode int
	Detail     string // 后端 {detail} 字段，可能为空
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("生成后端返回 %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("生成后端返回 %d", e.StatusCode)
}

// Client 生成后端的 HTTP 客户端
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient 创建生成后端客户端。
// 出站请求不设超时：请求一旦发出便运行至完成或失败，不支持中途取消。
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{},
	}
}

// GenerateScript 调用 /generate-script 生成脚本与发布元数据
func (c *Client) GenerateScript(ctx context.Context, sourceType models.SourceType, content string) (*models.ScriptResult, error) {
	reqBody := map[string]interface{}{
		"source_type": string(sourceType),
		"content":     content,
	}

	respBody, err := c.post(ctx, "/generate-script", reqBody)
	if err != nil {
		return nil, err
	}

	var result struct {
		Script      string   `json:"script"`
		Title       string   `json:"title"`
		Description string   `json:"description"`
		Tags        []string `json:"tags"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("解析脚本响应失败: %w", err)
	}

	// tags 缺失时按空序列处理
	if result.Tags == nil {
		result.Tags = []string{}
	}

	return &models.ScriptResult{
		Script:      result.Script,
		Title:       result.Title,
		Description: result.Description,
		Tags:        result.Tags,
		GeneratedAt: time.Now(),
	}, nil
}

// GenerateAudio 调用 /generate-audio 合成旁白，返回后端给出的相对路径
func (c *Client) GenerateAudio(ctx context.Context, script string) (string, error) {
	reqBody := map[string]interface{}{
		"script": script,
	}

	respBody, err := c.post(ctx, "/generate-audio", reqBody)
	if err != nil {
		return "", err
	}

	var result struct {
		AudioURL string `json:"audio_url"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("解析音频响应失败: %w", err)
	}
	if result.AudioURL == "" {
		return "", fmt.Errorf("音频响应缺少 audio_url 字段")
	}

	return result.AudioURL, nil
}

// ResolveAudioURL 将后端返回的相对路径解析为基于后端地址的绝对 URL
func (c *Client) ResolveAudioURL(raw string) (string, error) {
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", fmt.Errorf("解析后端地址失败: %w", err)
	}

	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("解析音频路径失败: %w", err)
	}

	return base.ResolveReference(ref).String(), nil
}

// post 发送 JSON 请求并返回响应体，非 2xx 时提取 {detail}
func (c *Client) post(ctx context.Context, path string, payload map[string]interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求生成后端失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应失败: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// 尝试提取后端的 detail 错误信息
		var errResp struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(body, &errResp) == nil && errResp.Detail != "" {
			return nil, &APIError{StatusCode: resp.StatusCode, Detail: errResp.Detail}
		}
		return nil, &APIError{StatusCode: resp.StatusCode}
	}

	return body, nil
}
