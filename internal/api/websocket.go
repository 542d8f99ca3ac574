// internal/api/websocket.go
package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Corphon/StoryboardMCP/internal/models"
	"github.com/Corphon/StoryboardMCP/internal/services"
	"github.com/Corphon/StoryboardMCP/internal/utils"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketClient 一个订阅批量进度的连接
type WebSocketClient struct {
	conn      *websocket.Conn
	projectID string
	closed    int32
	createdAt time.Time
}

// Close 只关闭一次
func (client *WebSocketClient) Close() {
	if atomic.CompareAndSwapInt32(&client.closed, 0, 1) {
		client.conn.Close()
	}
}

func (client *WebSocketClient) IsClosed() bool {
	return atomic.LoadInt32(&client.closed) == 1
}

// WebSocketManager 统计各项目的连接
type WebSocketManager struct {
	mutex       sync.RWMutex
	connections map[string]map[*WebSocketClient]bool
}

func NewWebSocketManager() *WebSocketManager {
	return &WebSocketManager{connections: make(map[string]map[*WebSocketClient]bool)}
}

func (m *WebSocketManager) register(client *WebSocketClient) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.connections[client.projectID] == nil {
		m.connections[client.projectID] = make(map[*WebSocketClient]bool)
	}
	m.connections[client.projectID][client] = true
}

func (m *WebSocketManager) unregister(client *WebSocketClient) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if clients, ok := m.connections[client.projectID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(m.connections, client.projectID)
		}
	}
}

// GetStatus 连接统计
func (m *WebSocketManager) GetStatus() map[string]interface{} {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	total := 0
	perProject := make(map[string]int, len(m.connections))
	for id, clients := range m.connections {
		perProject[id] = len(clients)
		total += len(clients)
	}
	return map[string]interface{}{
		"total_connections": total,
		"projects":          perProject,
	}
}

// BatchProgressWebSocket 推送批量匹配进度直到批次结束或客户端断开
type BatchProgressWebSocket struct {
	batch   *services.BatchOrchestrator
	manager *WebSocketManager
	logger  *utils.Logger
}

func NewBatchProgressWebSocket(batch *services.BatchOrchestrator) *BatchProgressWebSocket {
	return &BatchProgressWebSocket{
		batch:   batch,
		manager: NewWebSocketManager(),
		logger:  utils.GetLogger(),
	}
}

func (ws *BatchProgressWebSocket) Serve(c *gin.Context) {
	projectID := c.Param("id")
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		ws.logger.Warn("websocket upgrade failed", map[string]interface{}{
			"project_id": projectID,
			"error":      err.Error(),
		})
		return
	}

	client := &WebSocketClient{conn: conn, projectID: projectID, createdAt: time.Now()}
	ws.manager.register(client)
	defer func() {
		ws.manager.unregister(client)
		client.Close()
	}()

	tracker, ok := ws.batch.Progress().GetTracker(projectID)
	if !ok {
		// 没有批次时发送一次空闲状态后关闭
		ws.writeProgress(client, ws.batch.Status(projectID))
		ws.writeClose(client, "no batch")
		return
	}

	updates := tracker.Subscribe()
	defer tracker.Unsubscribe(updates)

	gone := make(chan struct{})
	go ws.readPump(client, gone)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-gone:
			return
		case p, ok := <-updates:
			if !ok {
				return
			}
			if err := ws.writeProgress(client, p); err != nil {
				return
			}
			if p.State == models.BatchIdle && !p.FinishedAt.IsZero() {
				ws.writeClose(client, "batch finished")
				return
			}
		case <-tracker.Done():
			// 订阅通道满时可能错过最后一条，结束时补发快照
			ws.writeProgress(client, tracker.Snapshot())
			ws.writeClose(client, "batch finished")
			return
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump 只用于检测断开与处理 pong
func (ws *BatchProgressWebSocket) readPump(client *WebSocketClient, gone chan<- struct{}) {
	defer close(gone)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (ws *BatchProgressWebSocket) writeProgress(client *WebSocketClient, p models.BatchProgress) error {
	if client.IsClosed() {
		return websocket.ErrCloseSent
	}
	data, err := json.Marshal(map[string]interface{}{
		"type":     "batch_progress",
		"progress": p,
	})
	if err != nil {
		return err
	}
	client.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return client.conn.WriteMessage(websocket.TextMessage, data)
}

func (ws *BatchProgressWebSocket) writeClose(client *WebSocketClient, reason string) {
	client.conn.SetWriteDeadline(time.Now().Add(writeWait))
	client.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
}
