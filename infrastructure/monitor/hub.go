package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"trade-exec-go/bracket"
	"trade-exec-go/infrastructure/logger"
	"trade-exec-go/twap"
)

// Envelope WebSocket 推送的事件信封。
type Envelope struct {
	Channel string          `json:"channel"` // bracket / twap / order
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data"`
	TS      string          `json:"ts"`
	Seq     int64           `json:"seq"`
	Initial bool            `json:"initial,omitempty"`
}

// Hub 向 WebSocket 客户端扇出执行生命周期事件。每个活跃控制器的
// 最新快照缓存在 latest，新客户端连接时先收到一轮快照再收增量。
type Hub struct {
	log *logger.Logger

	mu      sync.RWMutex
	clients map[*client]bool
	latest  map[string]Envelope // key = channel + ":" + entity id
	seq     int64
}

// NewHub 创建事件推送中心。
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Nop()
	}
	return &Hub{
		log:     log,
		clients: make(map[*client]bool),
		latest:  make(map[string]Envelope),
	}
}

// ClientCount 当前连接数。
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish 广播一条事件。entityID 用于 latest 快照去重。
func (h *Hub) Publish(channel, entityID, eventType string, data interface{}) {
	raw, err := json.Marshal(data)
	if err != nil {
		h.log.LogError(err, map[string]interface{}{"channel": channel})
		return
	}

	h.mu.Lock()
	h.seq++
	env := Envelope{
		Channel: channel,
		Type:    eventType,
		Data:    raw,
		TS:      time.Now().UTC().Format(time.RFC3339Nano),
		Seq:     h.seq,
	}
	h.latest[channel+":"+entityID] = env
	buf, _ := json.Marshal(env)
	for c := range h.clients {
		select {
		case c.send <- buf:
		default:
			// 慢客户端丢消息，不阻塞广播
		}
	}
	h.mu.Unlock()
}

// BracketListener 返回桥接到本 Hub 的 bracket 观察者。
func (h *Hub) BracketListener() bracket.Listener {
	return func(ev bracket.Event) {
		h.Publish("bracket", ev.Snapshot.ID, string(ev.Type), ev.Snapshot)
	}
}

// TwapListener 返回桥接到本 Hub 的 TWAP 观察者。
func (h *Hub) TwapListener() twap.Listener {
	return func(ev twap.Event) {
		h.Publish("twap", ev.Progress.ID, ev.Type, ev.Progress)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandleWS 升级 HTTP 连接并注册客户端。
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.LogError(err, map[string]interface{}{"remote": r.RemoteAddr})
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
	}

	h.mu.Lock()
	h.clients[c] = true
	count := len(h.clients)
	h.mu.Unlock()

	h.log.Info("ws client connected",
		zap.Int("total", count), zap.String("remote", r.RemoteAddr))

	go c.sendInitialState()
	go c.writePump()
	go c.readPump()
}

// Serve 在 addr 上启动 /ws 端点，阻塞到 ctx 取消。
func (h *Hub) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.HandleWS)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}
