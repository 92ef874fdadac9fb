package transport

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"firewatch/internal/config"
)

// MessageHandler receives inbound envelopes from connected peers.
type MessageHandler func(env Envelope)

// Hub maintains the set of connected peers and broadcasts events to them.
type Hub struct {
	clients    map[*conn]bool
	broadcast  chan []byte
	register   chan *conn
	unregister chan *conn
	handler    MessageHandler
	snapshot   func() [][]byte
	logger     *slog.Logger
	mu         sync.RWMutex
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*conn]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *conn),
		unregister: make(chan *conn),
		logger:     logger,
	}
}

// SetHandler installs the inbound message handler. Call before Start.
func (h *Hub) SetHandler(handler MessageHandler) {
	h.handler = handler
}

// SetSnapshot installs a provider of frames sent to each newly connected
// peer, so a dashboard shows current state without waiting for the next
// reading. Call before Start.
func (h *Hub) SetSnapshot(snapshot func() [][]byte) {
	h.snapshot = snapshot
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			if h.logger != nil {
				h.logger.Info("ws peer connected", "remote", c.ws.RemoteAddr().String())
			}
			if h.snapshot != nil {
				for _, frame := range h.snapshot() {
					select {
					case c.send <- frame:
					default:
					}
				}
			}
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			if h.logger != nil {
				h.logger.Info("ws peer disconnected", "remote", c.ws.RemoteAddr().String())
			}
		case message := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					if h.logger != nil {
						h.logger.Warn("ws peer send buffer full, dropping peer", "remote", c.ws.RemoteAddr().String())
					}
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast encodes the payload and queues it for every connected peer.
func (h *Hub) Broadcast(eventType string, payload interface{}) {
	raw, err := Encode(eventType, payload)
	if err != nil {
		if h.logger != nil {
			h.logger.Error("ws broadcast encode error", "type", eventType, "err", err)
		}
		return
	}
	select {
	case h.broadcast <- raw:
	default:
		if h.logger != nil {
			h.logger.Warn("ws broadcast queue full, dropping event", "type", eventType)
		}
	}
}

// PeerCount reports the number of connected peers.
func (h *Hub) PeerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// ServeWS upgrades an HTTP request and attaches the peer to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.logger != nil {
			h.logger.Warn("ws upgrade error", "err", err)
		}
		return
	}
	c := &conn{hub: h, ws: ws, send: make(chan []byte, 64)}
	h.register <- c
	go c.writePump()
	go c.readPump()
}

// Start runs the hub and its HTTP listener per the transport config.
func Start(ctx context.Context, cfg *config.Manager, hub *Hub, logger *slog.Logger) *http.Server {
	current := cfg.Get().Transport
	if !current.Enabled {
		if logger != nil {
			logger.Info("ws transport disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("ws transport enabled", "addr", current.Addr, "path", current.Path)
	}
	go hub.Run(ctx)
	mux := http.NewServeMux()
	mux.HandleFunc(current.Path, hub.ServeWS)
	httpServer := &http.Server{Addr: current.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("ws transport server error", "err", err)
			}
		}
	}()
	return httpServer
}
