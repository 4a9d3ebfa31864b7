package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestStorage(t *testing.T) *FileStorage {
	t.Helper()

	fs, err := NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("创建文件存储失败: %v", err)
	}
	return fs
}

func TestSaveAndLoadTextFile(t *testing.T) {
	fs := newTestStorage(t)

	content := []byte("第一版内容")
	if err := fs.SaveTextFile("exports", "a.txt", content); err != nil {
		t.Fatalf("保存文件失败: %v", err)
	}

	loaded, err := fs.LoadTextFile("exports", "a.txt")
	if err != nil {
		t.Fatalf("读取文件失败: %v", err)
	}
	if string(loaded) != string(content) {
		t.Errorf("读取内容不一致: %s", loaded)
	}

	// 写入不应该留下临时文件
	if _, err := os.Stat(filepath.Join(fs.BaseDir, "exports", "a.txt.tmp")); !os.IsNotExist(err) {
		t.Error("临时文件应该已被清理")
	}
}

func TestSaveInvalidatesCache(t *testing.T) {
	fs := newTestStorage(t)

	if err := fs.SaveTextFile("exports", "b.txt", []byte("旧内容")); err != nil {
		t.Fatalf("保存文件失败: %v", err)
	}
	if _, err := fs.LoadTextFile("exports", "b.txt"); err != nil {
		t.Fatalf("读取文件失败: %v", err)
	}

	// 覆盖写入后读取应该返回新内容而不是缓存
	if err := fs.SaveTextFile("exports", "b.txt", []byte("新内容")); err != nil {
		t.Fatalf("覆盖写入失败: %v", err)
	}
	loaded, err := fs.LoadTextFile("exports", "b.txt")
	if err != nil {
		t.Fatalf("再次读取失败: %v", err)
	}
	if string(loaded) != "新内容" {
		t.Errorf("应该读到覆盖后的内容，实际: %s", loaded)
	}
}

func TestFileExists(t *testing.T) {
	fs := newTestStorage(t)

	if fs.FileExists("exports", "missing.txt") {
		t.Error("不存在的文件不应该返回true")
	}

	if err := fs.SaveTextFile("exports", "c.txt", []byte("x")); err != nil {
		t.Fatalf("保存文件失败: %v", err)
	}
	if !fs.FileExists("exports", "c.txt") {
		t.Error("已保存的文件应该存在")
	}
}

func TestClearCache(t *testing.T) {
	fs := newTestStorage(t)

	if err := fs.SaveTextFile("exports", "d.txt", []byte("缓存我")); err != nil {
		t.Fatalf("保存文件失败: %v", err)
	}
	if _, err := fs.LoadTextFile("exports", "d.txt"); err != nil {
		t.Fatalf("读取文件失败: %v", err)
	}

	fs.ClearCache()

	// 绕过存储层直接改文件，缓存清空后应该读到新内容
	if err := os.WriteFile(filepath.Join(fs.BaseDir, "exports", "d.txt"), []byte("盘上内容"), 0644); err != nil {
		t.Fatalf("直接写文件失败: %v", err)
	}
	loaded, err := fs.LoadTextFile("exports", "d.txt")
	if err != nil {
		t.Fatalf("再次读取失败: %v", err)
	}
	if string(loaded) != "盘上内容" {
		t.Errorf("缓存清空后应该重新读盘，实际: %s", loaded)
	}
}
