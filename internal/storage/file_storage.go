// internal/storage/file_storage.go
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// 读缓存参数：导出文件小且读取集中，短过期+小容量足够
const (
	cacheTTL     = 5 * time.Minute
	cacheMaxSize = 64
	sweepPeriod  = 2 * time.Minute
)

// FileStorage 负责数据目录下的文件读写。
// 写入走临时文件+重命名保证原子性，读取带短期缓存。
type FileStorage struct {
	BaseDir string

	pathLocks sync.Map // 路径 -> *sync.RWMutex

	mu      sync.RWMutex
	entries map[string]cachedFile
}

type cachedFile struct {
	data     []byte
	loadedAt time.Time
}

// NewFileStorage 创建文件存储，baseDir不存在时自动建立
func NewFileStorage(baseDir string) (*FileStorage, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("创建存储目录失败: %w", err)
	}

	fs := &FileStorage{
		BaseDir: baseDir,
		entries: make(map[string]cachedFile),
	}
	go fs.sweepLoop()

	return fs, nil
}

func (fs *FileStorage) lockFor(fullPath string) *sync.RWMutex {
	value, _ := fs.pathLocks.LoadOrStore(fullPath, &sync.RWMutex{})
	return value.(*sync.RWMutex)
}

// SaveTextFile 原子写入文本文件
func (fs *FileStorage) SaveTextFile(dirPath, filename string, content []byte) error {
	dir := filepath.Join(fs.BaseDir, dirPath)
	target := filepath.Join(dir, filename)

	lock := fs.lockFor(target)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}

	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, content, 0644); err != nil {
		return fmt.Errorf("写入临时文件失败: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("写入文件失败: %w", err)
	}

	fs.dropEntry(target)
	return nil
}

// LoadTextFile 读取文本文件，命中缓存时不触盘
func (fs *FileStorage) LoadTextFile(dirPath, filename string) ([]byte, error) {
	target := filepath.Join(fs.BaseDir, dirPath, filename)

	if data, ok := fs.cachedData(target); ok {
		return data, nil
	}

	lock := fs.lockFor(target)
	lock.RLock()
	defer lock.RUnlock()

	// 等锁期间可能已有并发读取填入缓存
	if data, ok := fs.cachedData(target); ok {
		return data, nil
	}

	content, err := os.ReadFile(target)
	if err != nil {
		return nil, fmt.Errorf("读取文件失败: %w", err)
	}

	fs.storeEntry(target, content)
	return content, nil
}

// FileExists 检查文件是否存在
func (fs *FileStorage) FileExists(dirPath, filename string) bool {
	_, err := os.Stat(filepath.Join(fs.BaseDir, dirPath, filename))
	return err == nil
}

// ClearCache 清空读缓存（关闭前调用）
func (fs *FileStorage) ClearCache() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.entries = make(map[string]cachedFile)
}

func (fs *FileStorage) cachedData(path string) ([]byte, bool) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	entry, ok := fs.entries[path]
	if !ok || time.Since(entry.loadedAt) > cacheTTL {
		return nil, false
	}
	return entry.data, true
}

func (fs *FileStorage) storeEntry(path string, data []byte) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.entries[path] = cachedFile{data: data, loadedAt: time.Now()}
	for len(fs.entries) > cacheMaxSize {
		fs.evictOldestLocked()
	}
}

func (fs *FileStorage) dropEntry(path string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.entries, path)
}

func (fs *FileStorage) evictOldestLocked() {
	var oldestPath string
	var oldestTime time.Time
	for path, entry := range fs.entries {
		if oldestPath == "" || entry.loadedAt.Before(oldestTime) {
			oldestPath = path
			oldestTime = entry.loadedAt
		}
	}
	if oldestPath != "" {
		delete(fs.entries, oldestPath)
	}
}

// sweepLoop 周期性清理过期缓存条目
func (fs *FileStorage) sweepLoop() {
	ticker := time.NewTicker(sweepPeriod)
	defer ticker.Stop()

	for range ticker.C {
		fs.mu.Lock()
		now := time.Now()
		for path, entry := range fs.entries {
			if now.Sub(entry.loadedAt) > cacheTTL {
				delete(fs.entries, path)
			}
		}
		fs.mu.Unlock()
	}
}
