package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"firewatch/internal/model"
)

// RequestHandler receives capture requests pushed by the server.
type RequestHandler func(req model.CaptureRequest)

// AgentClient is the capture-agent side of the WebSocket link. It keeps a
// single connection to the server, redialing with backoff when it drops,
// and sends capture responses back over whichever connection is live.
type AgentClient struct {
	url     string
	handler RequestHandler
	logger  *slog.Logger

	mu sync.Mutex
	ws *websocket.Conn
}

func NewAgentClient(url string, handler RequestHandler, logger *slog.Logger) *AgentClient {
	return &AgentClient{url: url, handler: handler, logger: logger}
}

// SetHandler installs the capture request handler. Call before Run; it
// exists so the client can be handed to the coordinator as its sender
// before the coordinator is built.
func (c *AgentClient) SetHandler(handler RequestHandler) {
	c.handler = handler
}

// Run dials and serves until the context is cancelled.
func (c *AgentClient) Run(ctx context.Context) {
	backoff := time.Second
	for ctx.Err() == nil {
		ws, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		if err != nil {
			if c.logger != nil {
				c.logger.Warn("ws dial error", "url", c.url, "err", err)
			}
			if !sleepCtx(ctx, backoff) {
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
		if c.logger != nil {
			c.logger.Info("ws connected", "url", c.url)
		}
		c.setConn(ws)
		c.readLoop(ctx, ws)
		c.setConn(nil)
		ws.Close()
	}
}

func (c *AgentClient) readLoop(ctx context.Context, ws *websocket.Conn) {
	ws.SetReadLimit(maxMessageSize)
	go func() {
		<-ctx.Done()
		ws.Close()
	}()
	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && c.logger != nil {
				c.logger.Warn("ws read error", "err", err)
			}
			return
		}
		env, err := DecodeEnvelope(message)
		if err != nil {
			if c.logger != nil {
				c.logger.Warn("ws invalid frame", "err", err)
			}
			continue
		}
		if env.Type != TypeCaptureRequest || c.handler == nil {
			continue
		}
		var req model.CaptureRequest
		if err := DecodePayload(env, &req); err != nil {
			if c.logger != nil {
				c.logger.Warn("ws bad capture request", "err", err)
			}
			continue
		}
		c.handler(req)
	}
}

// SendCaptureResponse delivers a capture outcome to the server. Responses
// produced while the link is down are dropped; the server's pending-capture
// timeout recovers the alert cycle.
func (c *AgentClient) SendCaptureResponse(res model.CaptureResponse) {
	raw, err := Encode(TypeCaptureResponse, res)
	if err != nil {
		if c.logger != nil {
			c.logger.Error("ws capture response encode error", "request_id", res.RequestID, "err", err)
		}
		return
	}
	c.mu.Lock()
	ws := c.ws
	if ws != nil {
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		err = ws.WriteMessage(websocket.TextMessage, raw)
	}
	c.mu.Unlock()
	if ws == nil {
		if c.logger != nil {
			c.logger.Warn("ws disconnected, dropping capture response", "request_id", res.RequestID)
		}
		return
	}
	if err != nil && c.logger != nil {
		c.logger.Warn("ws capture response send error", "request_id", res.RequestID, "err", err)
	}
}

func (c *AgentClient) setConn(ws *websocket.Conn) {
	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
