package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Corphon/TubeAgentMCP/internal/models"
)

func TestGenerateScript_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/generate-script" {
			t.Errorf("请求路径不正确: %s", r.URL.Path)
		}
		if r.Method != "POST" {
			t.Errorf("请求方法不正确: %s", r.Method)
		}

		var req map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		if req["source_type"] != "topic" {
			t.Errorf("source_type 不正确: %v", req["source_type"])
		}
		if req["content"] != "量子计算入门" {
			t.Errorf("content 不正确: %v", req["content"])
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"script":      "生成的脚本",
			"title":       "标题",
			"description": "描述",
			"tags":        []string{"go", "科普"},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	result, err := client.GenerateScript(context.Background(), models.SourceTopic, "量子计算入门")
	if err != nil {
		t.Fatalf("脚本生成失败: %v", err)
	}

	if result.Script != "生成的脚本" {
		t.Errorf("脚本内容不正确: %s", result.Script)
	}
	if result.Title != "标题" {
		t.Errorf("标题不正确: %s", result.Title)
	}
	if len(result.Tags) != 2 {
		t.Errorf("标签数量不正确: %d", len(result.Tags))
	}
}

func TestGenerateScript_MissingTagsDefaultsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"script": "脚本",
			"title":  "标题",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	result, err := client.GenerateScript(context.Background(), models.SourceTopic, "主题")
	if err != nil {
		t.Fatalf("脚本生成失败: %v", err)
	}

	if result.Tags == nil {
		t.Fatal("tags 缺失时应该返回空切片而不是 nil")
	}
	if len(result.Tags) != 0 {
		t.Errorf("tags 应该为空: %v", result.Tags)
	}
}

func TestGenerateScript_DetailExtraction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"detail": "bad topic"})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	_, err := client.GenerateScript(context.Background(), models.SourceTopic, "无效主题")
	if err == nil {
		t.Fatal("非 2xx 响应应该返回错误")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("应该返回 APIError，实际: %T", err)
	}
	if apiErr.StatusCode != 422 {
		t.Errorf("状态码不正确: %d", apiErr.StatusCode)
	}
	if apiErr.Detail != "bad topic" {
		t.Errorf("detail 提取不正确: %q", apiErr.Detail)
	}
}

func TestGenerateScript_NoDetailBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("internal server error"))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	_, err := client.GenerateScript(context.Background(), models.SourceTopic, "主题")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("应该返回 APIError，实际: %v", err)
	}
	if apiErr.Detail != "" {
		t.Errorf("无 detail 时应该为空: %q", apiErr.Detail)
	}
}

func TestGenerateAudio_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/generate-audio" {
			t.Errorf("请求路径不正确: %s", r.URL.Path)
		}

		var req map[string]interface{}
		json.NewDecoder(r.Body).Decode(&req)
		if req["script"] != "脚本正文" {
			t.Errorf("script 字段不正确: %v", req["script"])
		}

		json.NewEncoder(w).Encode(map[string]string{"audio_url": "/audio/out.mp3"})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	raw, err := client.GenerateAudio(context.Background(), "脚本正文")
	if err != nil {
		t.Fatalf("音频生成失败: %v", err)
	}
	if raw != "/audio/out.mp3" {
		t.Errorf("音频路径不正确: %s", raw)
	}
}

func TestGenerateAudio_MissingURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	if _, err := client.GenerateAudio(context.Background(), "脚本"); err == nil {
		t.Fatal("缺少 audio_url 时应该返回错误")
	}
}

func TestResolveAudioURL(t *testing.T) {
	client := NewClient("http://localhost:8000")

	cases := []struct {
		raw      string
		expected string
	}{
		{"/audio/out.mp3", "http://localhost:8000/audio/out.mp3"},
		{"audio/out.mp3", "http://localhost:8000/audio/out.mp3"},
		{"http://cdn.example.com/out.mp3", "http://cdn.example.com/out.mp3"},
	}

	for _, tc := range cases {
		resolved, err := client.ResolveAudioURL(tc.raw)
		if err != nil {
			t.Fatalf("解析音频地址失败: %v", err)
		}
		if resolved != tc.expected {
			t.Errorf("输入 %q 期望 %q 实际 %q", tc.raw, tc.expected, resolved)
		}
	}
}

func TestNewClient_TrimsTrailingSlash(t *testing.T) {
	client := NewClient("http://localhost:8000/")
	if client.BaseURL != "http://localhost:8000" {
		t.Errorf("BaseURL 应该去掉末尾斜杠: %s", client.BaseURL)
	}
}
