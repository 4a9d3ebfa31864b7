// internal/api/websocket.go
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Corphon/TubeAgentMCP/internal/models"
	"github.com/gorilla/websocket"
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 在生产环境中应该进行更严格的检查
		return true
	},
}

// StudioClient 表示一个工作台 WebSocket 客户端连接
type StudioClient struct {
	conn      WebSocketConnection
	clientID  string
	send      chan []byte
	closed    int32     // 原子操作标志，0=开启，1=关闭
	lastPing  time.Time // 最后一次ping时间
	createdAt time.Time // 创建时间
}

// StudioSocketManager 管理所有工作台 WebSocket 连接
// 所有客户端共享同一个连接池，状态变化对全部客户端广播
type StudioSocketManager struct {
	connections   map[WebSocketConnection]*StudioClient
	broadcast     chan []byte
	register      chan *StudioClient
	unregister    chan *StudioClient
	cleanup       chan bool
	mutex         sync.RWMutex
	pingTimeout   time.Duration
	cleanupTicker *time.Ticker
}

// 全局 WebSocket 管理器
var wsManager = &StudioSocketManager{
	connections: make(map[WebSocketConnection]*StudioClient),
	broadcast:   make(chan []byte, 256),
	register:    make(chan *StudioClient, 256),
	unregister:  make(chan *StudioClient, 256),
	cleanup:     make(chan bool, 1),
	pingTimeout: 60 * time.Second,
}

// WebSocketConnection 定义 WebSocket 连接的接口
type WebSocketConnection interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// WebSocketConnWrapper 包装真实的 websocket.Conn 以实现接口
type WebSocketConnWrapper struct {
	*websocket.Conn
}

// -----------------------------------------
// 初始化 WebSocket 管理器
func init() {
	go wsManager.run()
}

// GetSocketManager 返回全局 WebSocket 管理器
func GetSocketManager() *StudioSocketManager {
	return wsManager
}

// ========================================
// StudioClient 方法
// ========================================

// Close 安全关闭客户端连接
func (client *StudioClient) Close() {
	if atomic.CompareAndSwapInt32(&client.closed, 0, 1) {
		// 只设置关闭标志，不关闭通道
		// 通道由写协程的 defer 函数负责关闭
		if client.conn != nil {
			client.conn.Close()
		}
	}
}

// IsClosed 检查连接是否已关闭
func (client *StudioClient) IsClosed() bool {
	return atomic.LoadInt32(&client.closed) == 1
}

// UpdatePing 更新最后ping时间
func (client *StudioClient) UpdatePing() {
	client.lastPing = time.Now()
}

// IsExpired 检查连接是否超时
func (client *StudioClient) IsExpired(timeout time.Duration) bool {
	if timeout <= 0 {
		return true // 零超时时间立即过期
	}

	return time.Since(client.lastPing) > timeout
}

// SendMessage 安全发送消息到客户端
func (client *StudioClient) SendMessage(message map[string]interface{}) error {
	if client.IsClosed() {
		return nil // 客户端已关闭，直接返回
	}

	msgBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	// 双重检查，避免竞态条件
	if client.IsClosed() {
		return nil
	}

	select {
	case client.send <- msgBytes:
		return nil
	default:
		// 队列满，记录警告但不阻塞
		log.Printf("⚠️ 客户端 %s 消息队列已满，消息被丢弃", client.clientID)
		return nil
	}
}

// SendError 发送错误消息到客户端
func (client *StudioClient) SendError(errorMsg string) {
	errorResponse := map[string]interface{}{
		"type":      "error",
		"error":     errorMsg,
		"timestamp": time.Now().Format(time.RFC3339),
	}
	client.SendMessage(errorResponse)
}

// ========================================
// StudioSocketManager 方法
// ========================================

// run 运行 WebSocket 管理器主循环
func (manager *StudioSocketManager) run() {
	// 启动定期清理
	manager.cleanupTicker = time.NewTicker(30 * time.Second)
	defer manager.cleanupTicker.Stop()

	for {
		select {
		case client := <-manager.register:
			manager.registerClient(client)

		case client := <-manager.unregister:
			manager.unregisterClient(client)

		case <-manager.cleanupTicker.C:
			manager.cleanupExpiredConnections()

		case message := <-manager.broadcast:
			manager.broadcastMessage(message)

		case <-manager.cleanup:
			manager.shutdown()
			return
		}
	}
}

// registerClient 注册新客户端
func (manager *StudioSocketManager) registerClient(client *StudioClient) {
	if client == nil {
		log.Printf("⚠️ 尝试注册 nil 客户端，忽略")
		return
	}

	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	manager.connections[client.conn] = client
	client.UpdatePing() // 初始化ping时间

	log.Printf("✅ WebSocket 客户端已连接 (客户端: %s)", client.clientID)
}

// unregisterClient 安全注销客户端
func (manager *StudioSocketManager) unregisterClient(client *StudioClient) {
	if client == nil {
		log.Printf("⚠️ 尝试注销 nil 客户端，忽略")
		return
	}

	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	delete(manager.connections, client.conn)

	// 关闭客户端连接
	if !client.IsClosed() {
		client.Close()
	}

	log.Printf("🔌 WebSocket 客户端已断开连接 (客户端: %s)", client.clientID)
}

// cleanupExpiredConnections 清理过期和死连接
func (manager *StudioSocketManager) cleanupExpiredConnections() {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	for conn, client := range manager.connections {
		if client.IsClosed() || client.IsExpired(manager.pingTimeout) {
			delete(manager.connections, conn)
			if !client.IsClosed() {
				client.Close()
			}
		}
	}
}

// broadcastMessage 广播消息
func (manager *StudioSocketManager) broadcastMessage(message []byte) {
	manager.mutex.RLock()
	allClients := make([]*StudioClient, 0, len(manager.connections))
	for _, client := range manager.connections {
		if !client.IsClosed() {
			allClients = append(allClients, client)
		}
	}
	manager.mutex.RUnlock()

	if len(allClients) > 0 {
		manager.processBatch(allClients, message)
	}
}

// processBatch 处理批量消息发送
func (manager *StudioSocketManager) processBatch(clients []*StudioClient, message []byte) {
	failedCount := 0
	for _, client := range clients {
		if client.IsClosed() {
			continue
		}

		select {
		case client.send <- message:
			// 消息发送成功
		default:
			// 队列满，限制失败处理数量
			failedCount++
			if failedCount <= 5 { // 每批次最多处理5个失败连接
				go func(c *StudioClient) {
					c.Close()
					select {
					case manager.unregister <- c:
					case <-time.After(50 * time.Millisecond):
						// 超时放弃
					}
				}(client)
			} else {
				// 直接关闭，不进入unregister队列
				client.Close()
			}
		}
	}
}

// shutdown 优雅关闭管理器
func (manager *StudioSocketManager) shutdown() {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	log.Println("🛑 正在关闭 WebSocket 管理器...")

	// 关闭所有连接
	for _, client := range manager.connections {
		client.Close()
	}

	// 清空连接映射
	manager.connections = make(map[WebSocketConnection]*StudioClient)

	log.Println("✅ WebSocket 管理器已关闭")
}

// GetStatus 获取管理器状态
func (manager *StudioSocketManager) GetStatus() map[string]interface{} {
	manager.mutex.RLock()
	defer manager.mutex.RUnlock()

	clients := make([]interface{}, 0)
	activeConnections := 0

	for _, client := range manager.connections {
		if client != nil && !client.IsClosed() {
			activeConnections++
			clientInfo := map[string]interface{}{
				"client_id":    client.clientID,
				"connected_at": client.createdAt.Format(time.RFC3339),
				"last_ping":    client.lastPing.Format(time.RFC3339),
			}
			clients = append(clients, clientInfo)
		}
	}

	return map[string]interface{}{
		"total_connections": activeConnections,
		"clients":           clients,
	}
}

// BroadcastState 向所有客户端广播最新的工作台状态快照
// 实现 services.StateBroadcaster 接口
func (manager *StudioSocketManager) BroadcastState(state models.StudioState) {
	message := map[string]interface{}{
		"type":      "state",
		"data":      state,
		"timestamp": time.Now().Format(time.RFC3339),
	}

	msgBytes, err := json.Marshal(message)
	if err != nil {
		log.Printf("❌ 序列化广播消息失败: %v", err)
		return
	}

	select {
	case manager.broadcast <- msgBytes:
	default:
		// 广播队列满时丢弃旧快照，客户端随后会收到更新的状态
		log.Printf("⚠️ WebSocket 广播队列已满，状态快照被丢弃")
	}
}

// BroadcastEvent 向所有客户端广播生成进度事件
func (manager *StudioSocketManager) BroadcastEvent(stage, message string) {
	payload := map[string]interface{}{
		"type":      "progress",
		"stage":     stage,
		"message":   message,
		"timestamp": time.Now().Format(time.RFC3339),
	}

	msgBytes, err := json.Marshal(payload)
	if err != nil {
		log.Printf("❌ 序列化广播消息失败: %v", err)
		return
	}

	select {
	case manager.broadcast <- msgBytes:
	default:
		log.Printf("⚠️ WebSocket 广播队列已满，进度事件被丢弃")
	}
}

// ReadJSON 读取JSON消息 - 为了兼容测试和handlers
func (w *WebSocketConnWrapper) ReadJSON(v interface{}) error {
	return w.Conn.ReadJSON(v)
}

// WriteJSON 写入JSON消息 - 为了兼容测试和handlers
func (w *WebSocketConnWrapper) WriteJSON(v interface{}) error {
	return w.Conn.WriteJSON(v)
}
