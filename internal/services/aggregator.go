// internal/services/aggregator.go
package services

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	apperrors "github.com/Corphon/TubeAgentMCP/internal/errors"
)

// MaxUploadFileSize 单个上传文件的大小上限
const MaxUploadFileSize = 1 << 20 // 1MB

// allowedUploadExtensions 允许聚合的文件扩展名
var allowedUploadExtensions = map[string]bool{
	".txt":  true,
	".md":   true,
	".go":   true,
	".py":   true,
	".js":   true,
	".ts":   true,
	".java": true,
	".c":    true,
	".cpp":  true,
	".rs":   true,
	".sh":   true,
	".json": true,
	".yaml": true,
	".yml":  true,
}

// UploadedFile 表示一个待聚合的用户文件
type UploadedFile struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// ValidateUploadName 校验上传文件的扩展名是否在白名单中
func ValidateUploadName(filename string) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedUploadExtensions[ext] {
		return apperrors.NewValidationError(
			fmt.Sprintf("不支持的文件类型: %s", filename), nil)
	}
	return nil
}

// AggregateFiles 将多个文件聚合为一个文本载荷。
// 每个文件前置一行 `--- CONTENT FROM <文件名> ---`，文件之间以空行分隔，
// 顺序与选择顺序一致。所有文件并发读取，全部完成后才产出结果；
// 任何一个读取失败则整体失败，不发送部分载荷。
func AggregateFiles(files []UploadedFile) (string, error) {
	if len(files) == 0 {
		return "", apperrors.NewValidationError("请至少选择一个文件", nil)
	}

	contents := make([]string, len(files))
	errs := make([]error, len(files))

	var wg sync.WaitGroup
	for i, f := range files {
		wg.Add(1)
		go func(idx int, file UploadedFile) {
			defer wg.Done()

			rc, err := file.Open()
			if err != nil {
				errs[idx] = fmt.Errorf("打开文件 %s 失败: %w", file.Name, err)
				return
			}
			defer rc.Close()

			// 限制读取大小，超限视为读取失败
			data, err := io.ReadAll(io.LimitReader(rc, MaxUploadFileSize+1))
			if err != nil {
				errs[idx] = fmt.Errorf("读取文件 %s 失败: %w", file.Name, err)
				return
			}
			if len(data) > MaxUploadFileSize {
				errs[idx] = fmt.Errorf("文件 %s 超过大小限制", file.Name)
				return
			}

			contents[idx] = string(data)
		}(i, f)
	}
	wg.Wait()

	// 全部读取完成后统一检查，任一失败即中止
	for _, err := range errs {
		if err != nil {
			return "", apperrors.NewValidationError("文件读取失败", err)
		}
	}

	sections := make([]string, len(files))
	for i, f := range files {
		sections[i] = fmt.Sprintf("--- CONTENT FROM %s ---\n%s", f.Name, contents[i])
	}

	return strings.Join(sections, "\n\n"), nil
}
