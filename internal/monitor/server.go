// Package monitor exposes mixer snapshots and control commands over a
// websocket for tuning tools.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/liuscraft/orion-mixer/internal/logging"
	"github.com/liuscraft/orion-mixer/internal/mixer"
)

const (
	DefaultInterval = 100 * time.Millisecond
	sendBuffer      = 16
	writeWait       = 2 * time.Second
	shutdownTimeout = 5 * time.Second
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Server 向所有连接广播快照，并执行客户端发来的指令
type Server struct {
	ctrl     mixer.Controller
	upgrader websocket.Upgrader
	interval time.Duration

	// ctx 传给 fade 指令，Run 退出时取消
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	clients map[*client]struct{}
}

func NewServer(ctrl mixer.Controller, interval time.Duration) *Server {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		ctrl:     ctrl,
		interval: interval,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		ctx:     ctx,
		cancel:  cancel,
		clients: make(map[*client]struct{}),
	}
}

// ClientCount 当前连接数
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// ServeHTTP 升级为 websocket，先发送一次快照，然后处理指令直到连接断开
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warnf("Monitor: upgrade failed: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	logging.Infof("Monitor: client connected from %s", r.RemoteAddr)

	go s.writePump(c)
	if data, err := s.snapshotMessage(); err == nil {
		s.enqueue(c, data)
	}
	s.readPump(c)
}

func (s *Server) readPump(c *client) {
	defer s.unregister(c)
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Debugf("Monitor: read: %v", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var cmd Command
		reply := Message{Type: MessageAck}
		if err := json.Unmarshal(data, &cmd); err != nil {
			reply = Message{Type: MessageError, Error: err.Error()}
		} else if err := Apply(s.ctx, s.ctrl, cmd); err != nil {
			reply = Message{Type: MessageError, Op: cmd.Op, Error: err.Error()}
		} else {
			reply.Op = cmd.Op
			logging.Debugf("Monitor: applied %s %s %.3f", cmd.Op, cmd.Channel, cmd.Value)
		}

		out, err := json.Marshal(reply)
		if err != nil {
			logging.Errorf("Monitor: encode reply: %v", err)
			continue
		}
		s.enqueue(c, out)
	}
}

func (s *Server) writePump(c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			logging.Debugf("Monitor: write: %v", err)
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

// enqueue 不阻塞；发送队列满时丢弃该条消息
func (s *Server) enqueue(c *client, msg []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
		logging.Warnf("Monitor: client send queue full, dropping message")
	}
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; !ok {
		return
	}
	delete(s.clients, c)
	close(c.send)
	logging.Infof("Monitor: client disconnected, %d remaining", len(s.clients))
}

func (s *Server) snapshotMessage() ([]byte, error) {
	snap := s.ctrl.Snapshot()
	return json.Marshal(Message{Type: MessageSnapshot, Data: &snap})
}

// Broadcast 向所有连接发送一次快照
func (s *Server) Broadcast() {
	data, err := s.snapshotMessage()
	if err != nil {
		logging.Errorf("Monitor: encode snapshot: %v", err)
		return
	}

	s.mu.Lock()
	targets := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	for _, c := range targets {
		s.enqueue(c, data)
	}
}

// Run 按间隔广播快照直到 ctx 结束，然后断开所有连接
func (s *Server) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.closeAll()
			return
		case <-ticker.C:
			s.Broadcast()
		}
	}
}

func (s *Server) closeAll() {
	s.cancel()
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		s.unregister(c)
	}
}

// Handler 返回包含 /ws、/snapshot、/healthz 的路由
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", s)
	mux.HandleFunc("/snapshot", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(s.ctrl.Snapshot()); err != nil {
			logging.Warnf("Monitor: write snapshot: %v", err)
		}
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// ListenAndServe 监听 addr 并广播，ctx 结束后优雅关闭
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}

	go s.Run(ctx)
	errCh := make(chan error, 1)
	go func() {
		logging.Infof("Monitor: listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.closeAll()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
