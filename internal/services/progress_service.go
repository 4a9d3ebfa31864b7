// internal/services/progress_service.go
package services

import (
	"sync"
	"time"
)

// 生成链路的进度阶段
const (
	StageScriptStart = "script:start"
	StageScriptDone  = "script:done"
	StageScriptError = "script:error"
	StageAudioStart  = "audio:start"
	StageAudioDone   = "audio:done"
	StageAudioError  = "audio:error"
)

// GenerationEvent 表示一次生成链路的进度事件
type GenerationEvent struct {
	Stage   string    `json:"stage"`   // 阶段标识，如 script:start
	Message string    `json:"message"` // 描述性消息
	Time    time.Time `json:"time"`    // 事件时间
}

// ProgressService 向订阅者推送生成进度事件
type ProgressService struct {
	subscribers map[chan GenerationEvent]bool
	lastEvent   *GenerationEvent
	mutex       sync.Mutex
}

// NewProgressService 创建进度服务实例
func NewProgressService() *ProgressService {
	return &ProgressService{
		subscribers: make(map[chan GenerationEvent]bool),
	}
}

// Publish 发布进度事件
func (s *ProgressService) Publish(stage, message string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	event := GenerationEvent{
		Stage:   stage,
		Message: message,
		Time:    time.Now(),
	}
	s.lastEvent = &event

	// 通知所有订阅者，非阻塞发送，通道已满则跳过
	for subscriber := range s.subscribers {
		select {
		case subscriber <- event:
		default:
		}
	}
}

// Subscribe 订阅进度事件
func (s *ProgressService) Subscribe() chan GenerationEvent {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	// 缓冲区设为10以避免阻塞发布方
	subscriber := make(chan GenerationEvent, 10)
	s.subscribers[subscriber] = true

	// 新订阅者立即收到最近一次事件
	if s.lastEvent != nil {
		subscriber <- *s.lastEvent
	}

	return subscriber
}

// Unsubscribe 取消订阅
func (s *ProgressService) Unsubscribe(subscriber chan GenerationEvent) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.subscribers[subscriber] {
		delete(s.subscribers, subscriber)
		close(subscriber)
	}
}

// SubscriberCount 当前订阅者数量
func (s *ProgressService) SubscriberCount() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.subscribers)
}
