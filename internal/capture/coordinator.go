package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"firewatch/internal/model"
)

// Camera is the physical capture device. Implementations block until the
// photo is taken or the context expires.
type Camera interface {
	Capture(ctx context.Context) ([]byte, error)
}

// Sender delivers capture responses back to the server.
type Sender interface {
	SendCaptureResponse(res model.CaptureResponse)
}

// Coordinator serializes capture requests against the single capture device.
// Requests are queued in arrival order and executed strictly one at a time by
// a single draining goroutine; the in-flight flag is cleared only by that
// goroutine when the queue is empty. Every submitted request produces exactly
// one response, with the error field set when the device fails or panics.
type Coordinator struct {
	mu       sync.Mutex
	queue    []model.CaptureRequest
	inFlight bool

	camera  Camera
	sender  Sender
	logger  *slog.Logger
	timeout time.Duration
}

func NewCoordinator(camera Camera, sender Sender, logger *slog.Logger, captureTimeout time.Duration) *Coordinator {
	if captureTimeout <= 0 {
		captureTimeout = 20 * time.Second
	}
	return &Coordinator{
		camera:  camera,
		sender:  sender,
		logger:  logger,
		timeout: captureTimeout,
	}
}

// Submit enqueues a request. If no capture is executing the queue drain
// starts immediately; otherwise the request waits its turn.
func (c *Coordinator) Submit(req model.CaptureRequest) {
	c.mu.Lock()
	c.queue = append(c.queue, req)
	if c.inFlight {
		depth := len(c.queue)
		c.mu.Unlock()
		if c.logger != nil {
			c.logger.Info("capture queued", "request_id", req.RequestID, "queue_depth", depth)
		}
		return
	}
	c.inFlight = true
	c.mu.Unlock()
	go c.drain()
}

// QueueDepth reports the number of requests waiting behind the in-flight one.
func (c *Coordinator) QueueDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

func (c *Coordinator) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

func (c *Coordinator) drain() {
	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.inFlight = false
			c.mu.Unlock()
			return
		}
		req := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()
		c.execute(req)
	}
}

func (c *Coordinator) execute(req model.CaptureRequest) {
	res := model.CaptureResponse{RequestID: req.RequestID}
	defer func() {
		if r := recover(); r != nil {
			res.Image = nil
			res.Error = fmt.Sprintf("capture panic: %v", r)
			if c.logger != nil {
				c.logger.Error("capture panicked", "request_id", req.RequestID, "panic", r)
			}
		}
		res.CompletedAt = time.Now().UTC()
		c.sender.SendCaptureResponse(res)
	}()

	if c.camera == nil {
		res.Error = "no capture device available"
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	image, err := c.camera.Capture(ctx)
	if err != nil {
		res.Error = err.Error()
		if c.logger != nil {
			c.logger.Warn("capture failed", "request_id", req.RequestID, "err", err)
		}
		return
	}
	if len(image) == 0 {
		res.Error = "capture produced no image"
		return
	}
	res.Image = image
	if c.logger != nil {
		c.logger.Info("capture completed", "request_id", req.RequestID, "bytes", len(image))
	}
}
