// SPDX-License-Identifier: MIT
package transport

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	applog "radio/internal/log"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	// DefaultFrameRate is the sustained number of frames per second
	// broadcast to clients. Frames beyond it are dropped.
	DefaultFrameRate  = 25
	DefaultFrameBurst = 5

	broadcastQueue = 64
	writeTimeout   = 2 * time.Second
)

// WebSocketOption customises a WebSocketTransport.
type WebSocketOption func(*WebSocketTransport)

// WithRateLimit sets the token bucket that admits frames. A non-positive
// limit disables rate limiting.
func WithRateLimit(perSecond float64, burst int) WebSocketOption {
	return func(w *WebSocketTransport) {
		if perSecond <= 0 {
			w.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		w.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

type client struct {
	id   string
	conn *websocket.Conn
}

// WebSocketTransport broadcasts JSON frames to every connected client on
// /ws. Slow clients are disconnected rather than allowed to stall the
// broadcaster.
type WebSocketTransport struct {
	addr     string
	upgrader websocket.Upgrader
	limiter  *rate.Limiter

	clientsMu sync.Mutex
	clients   map[string]*client

	broadcast chan any
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	serverMu sync.Mutex
	server   *http.Server

	dropped atomic.Uint64
}

// NewWebSocketTransport creates a transport that will listen on addr once
// Start is called. The broadcaster runs from construction so Handler can be
// mounted on an existing server instead.
func NewWebSocketTransport(addr string, opts ...WebSocketOption) *WebSocketTransport {
	w := &WebSocketTransport{
		addr: addr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16384,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		limiter:   rate.NewLimiter(rate.Limit(DefaultFrameRate), DefaultFrameBurst),
		clients:   make(map[string]*client),
		broadcast: make(chan any, broadcastQueue),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	w.wg.Add(1)
	go w.handleBroadcasts()
	return w
}

// Handler returns the HTTP handler serving /ws.
func (w *WebSocketTransport) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", w.handleWebSocket)
	return mux
}

// Start listens on the configured address and serves in the background.
// Listen errors are returned to the caller.
func (w *WebSocketTransport) Start() error {
	select {
	case <-w.done:
		return ErrClosed
	default:
	}

	ln, err := net.Listen("tcp", w.addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           w.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	w.serverMu.Lock()
	w.server = srv
	w.serverMu.Unlock()

	applog.Infof("WebSocketTransport: Serving on ws://%s/ws", ln.Addr())
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			applog.Errorf("WebSocketTransport: Server error: %v", err)
		}
	}()
	return nil
}

func (w *WebSocketTransport) handleWebSocket(rw http.ResponseWriter, r *http.Request) {
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		applog.Warnf("WebSocketTransport: Upgrade error: %v", err)
		return
	}

	c := &client{id: uuid.NewString(), conn: conn}

	w.clientsMu.Lock()
	select {
	case <-w.done:
		w.clientsMu.Unlock()
		_ = conn.Close()
		return
	default:
	}
	w.clients[c.id] = c
	total := len(w.clients)
	w.wg.Add(1)
	w.clientsMu.Unlock()

	applog.Infof("WebSocketTransport: Client %s connected from %s, total: %d", c.id, r.RemoteAddr, total)

	// Clients never send anything meaningful; reading detects the close.
	go func() {
		defer w.wg.Done()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				w.remove(c)
				return
			}
		}
	}()
}

func (w *WebSocketTransport) remove(c *client) {
	w.clientsMu.Lock()
	_, ok := w.clients[c.id]
	delete(w.clients, c.id)
	total := len(w.clients)
	w.clientsMu.Unlock()

	_ = c.conn.Close()
	if ok {
		applog.Infof("WebSocketTransport: Client %s disconnected, total: %d", c.id, total)
	}
}

func (w *WebSocketTransport) handleBroadcasts() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case data := <-w.broadcast:
			payload, err := json.Marshal(data)
			if err != nil {
				applog.Errorf("WebSocketTransport: Encode %T: %v", data, err)
				continue
			}
			w.write(payload)
		}
	}
}

func (w *WebSocketTransport) write(payload []byte) {
	w.clientsMu.Lock()
	targets := make([]*client, 0, len(w.clients))
	for _, c := range w.clients {
		targets = append(targets, c)
	}
	w.clientsMu.Unlock()

	for _, c := range targets {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			applog.Warnf("WebSocketTransport: Error sending to client %s: %v", c.id, err)
			w.remove(c)
		}
	}
}

// Send queues data for broadcast. Frames beyond the rate limit or the queue
// capacity are dropped and counted. Status frames are never rate limited.
func (w *WebSocketTransport) Send(data any) error {
	select {
	case <-w.done:
		return ErrClosed
	default:
	}

	if !isStatus(data) && !w.limiter.Allow() {
		w.dropped.Add(1)
		return nil
	}

	select {
	case w.broadcast <- data:
	default:
		w.dropped.Add(1)
	}
	return nil
}

func isStatus(data any) bool {
	f, ok := data.(Frame)
	return ok && f.Type == FrameStatus
}

// Dropped returns the number of frames not broadcast.
func (w *WebSocketTransport) Dropped() uint64 {
	return w.dropped.Load()
}

// ClientCount returns the number of connected clients.
func (w *WebSocketTransport) ClientCount() int {
	w.clientsMu.Lock()
	defer w.clientsMu.Unlock()
	return len(w.clients)
}

// Close disconnects every client, stops the server and waits for all
// goroutines to exit.
func (w *WebSocketTransport) Close() error {
	var err error
	w.closeOnce.Do(func() {
		applog.Infof("WebSocketTransport: Closing")

		w.clientsMu.Lock()
		close(w.done)
		for _, c := range w.clients {
			_ = c.conn.Close()
		}
		w.clientsMu.Unlock()

		w.serverMu.Lock()
		if w.server != nil {
			err = w.server.Close()
		}
		w.serverMu.Unlock()

		w.wg.Wait()
	})
	return err
}

var _ Transport = (*WebSocketTransport)(nil)
