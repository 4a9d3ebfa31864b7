package services

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	apperrors "github.com/Corphon/TubeAgentMCP/internal/errors"
	"github.com/Corphon/TubeAgentMCP/internal/models"
	"github.com/Corphon/TubeAgentMCP/internal/storage"
)

func newTestExportService(t *testing.T) (*ExportService, *storage.FileStorage) {
	t.Helper()

	fileStorage, err := storage.NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("创建文件存储失败: %v", err)
	}

	return NewExportService(fileStorage), fileStorage
}

func exportSample() *models.ScriptResult {
	return &models.ScriptResult{
		Script:      "这是脚本正文",
		Title:       "测试视频",
		Description: "一段描述",
		Tags:        []string{"go", "教程"},
	}
}

func TestExportScriptResult_JSON(t *testing.T) {
	service, fileStorage := newTestExportService(t)

	result, err := service.ExportScriptResult(exportSample(), "http://localhost:8000/audio/1.mp3", "json")
	if err != nil {
		t.Fatalf("JSON导出失败: %v", err)
	}

	if result.Format != "json" {
		t.Errorf("导出格式不正确: %s", result.Format)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(result.Content), &payload); err != nil {
		t.Fatalf("导出内容不是有效的JSON: %v", err)
	}
	if payload["title"] != "测试视频" {
		t.Errorf("导出标题不正确: %v", payload["title"])
	}
	if payload["audio_url"] != "http://localhost:8000/audio/1.mp3" {
		t.Errorf("导出音频地址不正确: %v", payload["audio_url"])
	}

	// 文件应该已写入 exports 目录，且内容与返回一致
	filename := filepath.Base(result.FilePath)
	if !fileStorage.FileExists("exports", filename) {
		t.Fatalf("导出文件应该存在: %s", result.FilePath)
	}
	saved, err := fileStorage.LoadTextFile("exports", filename)
	if err != nil {
		t.Fatalf("读取导出文件失败: %v", err)
	}
	if string(saved) != result.Content {
		t.Error("落盘内容与返回内容不一致")
	}
}

func TestExportScriptResult_Markdown(t *testing.T) {
	service, _ := newTestExportService(t)

	result, err := service.ExportScriptResult(exportSample(), "", "markdown")
	if err != nil {
		t.Fatalf("Markdown导出失败: %v", err)
	}

	if !strings.HasPrefix(result.Content, "# 测试视频") {
		t.Error("Markdown应该以标题开头")
	}
	if !strings.Contains(result.Content, "## 脚本") {
		t.Error("Markdown应该包含脚本章节")
	}
	if !strings.Contains(result.Content, "`go`") {
		t.Error("Markdown应该包含标签")
	}
	if strings.Contains(result.Content, "旁白音频") {
		t.Error("没有音频时不应该输出音频行")
	}
	if !strings.HasSuffix(result.FilePath, ".md") {
		t.Errorf("Markdown导出文件扩展名不正确: %s", result.FilePath)
	}
}

func TestExportScriptResult_EmptyScript(t *testing.T) {
	service, _ := newTestExportService(t)

	_, err := service.ExportScriptResult(nil, "", "json")
	if err == nil {
		t.Fatal("空脚本结果应该返回错误")
	}
	if !apperrors.IsValidationError(err) {
		t.Errorf("应该返回验证错误，实际: %v", err)
	}
}

func TestExportScriptResult_InvalidFormat(t *testing.T) {
	service, _ := newTestExportService(t)

	_, err := service.ExportScriptResult(exportSample(), "", "pdf")
	if err == nil {
		t.Fatal("不支持的格式应该返回错误")
	}
	if !apperrors.IsValidationError(err) {
		t.Errorf("应该返回验证错误，实际: %v", err)
	}
}

func TestExportScriptResult_UniqueFilenames(t *testing.T) {
	service, _ := newTestExportService(t)

	first, err := service.ExportScriptResult(exportSample(), "", "json")
	if err != nil {
		t.Fatalf("第一次导出失败: %v", err)
	}
	second, err := service.ExportScriptResult(exportSample(), "", "json")
	if err != nil {
		t.Fatalf("第二次导出失败: %v", err)
	}

	if first.FilePath == second.FilePath {
		t.Error("两次导出应该产生不同的文件名")
	}
}
