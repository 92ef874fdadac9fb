package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"firewatch/internal/alert"
	"firewatch/internal/config"
	"firewatch/internal/dispatch"
	"firewatch/internal/events"
	"firewatch/internal/fusion"
	"firewatch/internal/history"
	"firewatch/internal/model"
	"firewatch/internal/storage"
	"firewatch/internal/threshold"
	"firewatch/internal/transport"
)

// task is one unit of work for the run loop. Exactly one field is set.
type task struct {
	reading    *model.SensorReading
	response   *model.CaptureResponse
	thresholds *model.ThresholdSet
	manual     bool
	timeoutID  string
}

// Status is the state snapshot served by the API.
type Status struct {
	AlertLevel     model.AlertLevel     `json:"alert_level"`
	Thresholds     model.ThresholdSet   `json:"thresholds"`
	LatestReading  *model.SensorReading `json:"latest_reading,omitempty"`
	CapturePending bool                 `json:"capture_pending"`
	Peers          int                  `json:"peers"`
}

// Controller owns the detection state and applies every mutation from a
// single run goroutine. Readings arrive on the ingest channel; capture
// responses, threshold updates, manual triggers and capture timeouts are
// queued as tasks, so the machine, history and stores never race.
type Controller struct {
	cfg        *config.Manager
	machine    *alert.Machine
	scorer     *fusion.Scorer
	dispatcher *dispatch.Dispatcher
	store      storage.Store
	history    *history.Store
	events     *events.Store
	hub        *transport.Hub
	logger     *slog.Logger

	readings   <-chan model.SensorReading
	tasks      chan task
	thresholds atomic.Value
	imageDir   string

	// activeRequest is touched only from the run loop.
	activeRequest string
}

func NewController(
	cfg *config.Manager,
	machine *alert.Machine,
	scorer *fusion.Scorer,
	dispatcher *dispatch.Dispatcher,
	store storage.Store,
	hist *history.Store,
	eventLog *events.Store,
	hub *transport.Hub,
	readings <-chan model.SensorReading,
	logger *slog.Logger,
) *Controller {
	current := cfg.Get()
	c := &Controller{
		cfg:        cfg,
		machine:    machine,
		scorer:     scorer,
		dispatcher: dispatcher,
		store:      store,
		history:    hist,
		events:     eventLog,
		hub:        hub,
		logger:     logger,
		readings:   readings,
		tasks:      make(chan task, 256),
		imageDir:   current.Storage.ImageDir,
	}
	c.thresholds.Store(current.Detection.Thresholds)
	if dispatcher != nil {
		dispatcher.OnNotifyError = func(notifier string, a model.AlertRecord, err error) {
			c.recordEvent("notification", "error",
				fmt.Sprintf("notifier %s failed for alert %s: %v", notifier, a.ID, err), nil)
		}
	}
	if hub != nil {
		hub.SetHandler(c.handleEnvelope)
		hub.SetSnapshot(c.snapshotFrames)
	}
	return c
}

// Thresholds returns the active threshold set.
func (c *Controller) Thresholds() model.ThresholdSet {
	return c.thresholds.Load().(model.ThresholdSet)
}

// History returns recent readings, newest last.
func (c *Controller) History(limit int) []model.SensorReading {
	return c.history.List(limit)
}

// Status reports the current pipeline state.
func (c *Controller) Status() Status {
	st := Status{
		AlertLevel:     c.machine.Level(),
		Thresholds:     c.Thresholds(),
		CapturePending: c.machine.CapturePending(),
	}
	if latest, ok := c.history.Latest(); ok {
		st.LatestReading = &latest
	}
	if c.hub != nil {
		st.Peers = c.hub.PeerCount()
	}
	return st
}

// TriggerCapture queues an operator-initiated capture cycle.
func (c *Controller) TriggerCapture() {
	c.enqueue(task{manual: true})
}

// UpdateThresholds queues a threshold replacement. Last writer wins.
func (c *Controller) UpdateThresholds(ts model.ThresholdSet) {
	c.enqueue(task{thresholds: &ts})
}

// SubmitResponse queues a capture response delivered out of band, e.g. by
// an API upload instead of the WebSocket link.
func (c *Controller) SubmitResponse(res model.CaptureResponse) {
	c.enqueue(task{response: &res})
}

// ApplyConfig refreshes tunables after a config file reload. Runtime
// thresholds are owned by UpdateThresholds and are left alone.
func (c *Controller) ApplyConfig(cfg *config.Config) {
	c.machine.UpdateConfig(cfg.Detection.ConfirmThreshold, cfg.Detection.CaptureTimeout)
	c.scorer.UpdateConfig(cfg.Fusion)
}

// Restore loads persisted thresholds and alert level. Call before Run.
func (c *Controller) Restore(ctx context.Context) {
	if c.store == nil {
		return
	}
	if raw, err := c.store.GetConfigValue(ctx, storage.KeyThresholds); err == nil {
		if ts, err := storage.DecodeThresholds(raw); err == nil {
			c.thresholds.Store(ts)
			if c.logger != nil {
				c.logger.Info("restored thresholds", "thresholds", ts)
			}
		}
	}
	if raw, err := c.store.GetConfigValue(ctx, storage.KeyAlertLevel); err == nil && raw != "" {
		// Restart during a capture cycle resumes at the persisted level;
		// the next reading re-runs the cycle if the condition holds.
		level := model.AlertLevel(raw)
		switch level {
		case model.LevelNormal, model.LevelRisk, model.LevelConfirmed:
			c.machine.RestoreLevel(level)
			if c.logger != nil {
				c.logger.Info("restored alert level", "level", level)
			}
		}
	}
}

// Run consumes readings and tasks until the context is cancelled.
func (c *Controller) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case reading, ok := <-c.readings:
			if !ok {
				return
			}
			c.handleReading(ctx, reading)
		case t := <-c.tasks:
			switch {
			case t.reading != nil:
				c.handleReading(ctx, *t.reading)
			case t.response != nil:
				c.handleResponse(ctx, *t.response)
			case t.thresholds != nil:
				c.handleThresholds(ctx, *t.thresholds)
			case t.manual:
				c.handleManual(ctx)
			case t.timeoutID != "":
				c.handleTimeout(ctx, t.timeoutID)
			}
		}
	}
}

func (c *Controller) enqueue(t task) {
	select {
	case c.tasks <- t:
	default:
		if c.logger != nil {
			c.logger.Warn("pipeline task queue full, dropping task")
		}
	}
}

func (c *Controller) handleEnvelope(env transport.Envelope) {
	switch env.Type {
	case transport.TypeCaptureResponse:
		var res model.CaptureResponse
		if err := transport.DecodePayload(env, &res); err != nil {
			if c.logger != nil {
				c.logger.Warn("bad capture response frame", "err", err)
			}
			return
		}
		c.enqueue(task{response: &res})
	case transport.TypeThresholdUpdate:
		var ts model.ThresholdSet
		if err := transport.DecodePayload(env, &ts); err != nil {
			if c.logger != nil {
				c.logger.Warn("bad threshold update frame", "err", err)
			}
			return
		}
		c.enqueue(task{thresholds: &ts})
	}
}

func (c *Controller) handleReading(ctx context.Context, reading model.SensorReading) {
	c.history.Add(reading)
	if c.store != nil {
		if err := c.store.SaveReading(ctx, reading); err != nil {
			c.storageError("save reading", err)
		}
	}
	c.broadcast(transport.TypeSensorReading, reading)

	eval := threshold.Evaluate(reading, c.Thresholds())
	trans, req := c.machine.OnEvaluation(eval, time.Now().UTC())
	c.applyTransition(ctx, trans)
	if req != nil {
		c.beginCapture(ctx, *req)
	}
}

func (c *Controller) beginCapture(ctx context.Context, req model.CaptureRequest) {
	c.activeRequest = req.RequestID
	if c.store != nil {
		if err := c.store.SaveCapture(ctx, model.CaptureRecord{
			RequestID: req.RequestID,
			Reason:    req.Reason,
			IssuedAt:  req.IssuedAt,
		}); err != nil {
			c.storageError("save capture", err)
		}
	}
	c.recordEvent("capture", events.LevelInfo, "capture requested: "+req.Reason,
		map[string]string{"request_id": req.RequestID})
	c.broadcast(transport.TypeCaptureRequest, req)

	id := req.RequestID
	time.AfterFunc(c.machine.CaptureTimeout(), func() {
		c.enqueue(task{timeoutID: id})
	})
}

func (c *Controller) handleResponse(ctx context.Context, res model.CaptureResponse) {
	if res.RequestID == "" || res.RequestID != c.activeRequest {
		if c.logger != nil {
			c.logger.Warn("ignoring capture response for unknown or settled request", "request_id", res.RequestID)
		}
		return
	}
	c.activeRequest = ""

	latest, _ := c.history.Latest()
	result := c.scorer.Score(ctx, res.Image, latest, c.Thresholds())
	result.RequestID = res.RequestID

	imageRef := c.saveImage(res)
	if c.store != nil {
		if err := c.store.UpdateCaptureResult(ctx, res.RequestID, result, imageRef, res.Error); err != nil {
			c.storageError("update capture", err)
		}
	}
	if res.Error != "" {
		c.recordEvent("capture", events.LevelWarn, "capture failed: "+res.Error,
			map[string]string{"request_id": res.RequestID})
	}
	c.broadcast(transport.TypeFusionResult, result)

	trans := c.machine.OnFusion(result)
	c.applyTransition(ctx, trans)

	if trans.To == model.LevelConfirmed && c.dispatcher != nil {
		if _, err := c.dispatcher.Dispatch(ctx, result, imageRef); err != nil {
			c.storageError("dispatch alert", err)
		}
	}
}

func (c *Controller) handleThresholds(ctx context.Context, ts model.ThresholdSet) {
	c.thresholds.Store(ts)
	if c.store != nil {
		if err := c.store.SetConfigValue(ctx, storage.KeyThresholds, storage.EncodeThresholds(ts)); err != nil {
			c.storageError("persist thresholds", err)
		}
	}
	c.recordEvent("config", events.LevelInfo,
		fmt.Sprintf("thresholds updated: temp %.1f light %.1f smoke %.1f humidity %.1f",
			ts.Temperature, ts.Light, ts.Smoke, ts.Humidity), nil)
	c.broadcast(transport.TypeThresholdUpdate, ts)
}

func (c *Controller) handleManual(ctx context.Context) {
	req := c.machine.ManualCapture(time.Now().UTC())
	if req == nil {
		c.recordEvent("capture", events.LevelWarn, "manual capture rejected: cycle already pending", nil)
		return
	}
	c.beginCapture(ctx, *req)
}

func (c *Controller) handleTimeout(ctx context.Context, requestID string) {
	trans, fired := c.machine.OnCaptureTimeout(requestID)
	if !fired {
		return
	}
	if c.activeRequest == requestID {
		c.activeRequest = ""
	}
	if c.store != nil {
		if err := c.store.UpdateCaptureResult(ctx, requestID, model.FusionResult{}, "", "capture timed out"); err != nil {
			c.storageError("update capture", err)
		}
	}
	c.recordEvent("capture", events.LevelWarn, "capture response timed out",
		map[string]string{"request_id": requestID})
	c.applyTransition(ctx, trans)
}

func (c *Controller) applyTransition(ctx context.Context, trans alert.Transition) {
	if !trans.Changed {
		return
	}
	if c.logger != nil {
		c.logger.Info("alert level changed", "from", trans.From, "to", trans.To, "reason", trans.Reason)
	}
	level := trans.To
	eventLevel := events.LevelInfo
	if level == model.LevelConfirmed {
		eventLevel = events.LevelError
	} else if level == model.LevelRisk {
		eventLevel = events.LevelWarn
	}
	c.recordEvent("alert", eventLevel,
		fmt.Sprintf("alert level %s -> %s: %s", trans.From, trans.To, trans.Reason), nil)
	c.broadcast(transport.TypeAlertLevel, map[string]interface{}{
		"level":  level,
		"reason": trans.Reason,
	})
	if c.store != nil {
		if err := c.store.SetConfigValue(ctx, storage.KeyAlertLevel, string(level)); err != nil {
			c.storageError("persist alert level", err)
		}
	}
}

func (c *Controller) saveImage(res model.CaptureResponse) string {
	if c.imageDir == "" || len(res.Image) == 0 {
		return ""
	}
	if err := os.MkdirAll(c.imageDir, 0o755); err != nil {
		c.storageError("create image dir", err)
		return ""
	}
	path := filepath.Join(c.imageDir, res.RequestID+".jpg")
	if err := os.WriteFile(path, res.Image, 0o644); err != nil {
		c.storageError("write image", err)
		return ""
	}
	return path
}

func (c *Controller) snapshotFrames() [][]byte {
	var frames [][]byte
	if latest, ok := c.history.Latest(); ok {
		if raw, err := transport.Encode(transport.TypeSensorReading, latest); err == nil {
			frames = append(frames, raw)
		}
	}
	if raw, err := transport.Encode(transport.TypeAlertLevel, map[string]interface{}{
		"level": c.machine.Level(),
	}); err == nil {
		frames = append(frames, raw)
	}
	return frames
}

func (c *Controller) broadcast(eventType string, payload interface{}) {
	if c.hub != nil {
		c.hub.Broadcast(eventType, payload)
	}
}

func (c *Controller) recordEvent(eventType, level, message string, data map[string]string) {
	c.events.Record(eventType, level, message, data)
	if c.store != nil {
		err := c.store.SaveEvent(context.Background(), model.Event{
			Timestamp: time.Now().UTC(),
			Type:      eventType,
			Level:     level,
			Message:   message,
			Data:      data,
		})
		if err != nil && c.logger != nil {
			c.logger.Error("storage error", "op", "save event", "err", err)
		}
	}
}

func (c *Controller) storageError(op string, err error) {
	if c.logger != nil {
		c.logger.Error("storage error", "op", op, "err", err)
	}
	c.events.Record("storage", events.LevelError, op+": "+err.Error(), nil)
}
