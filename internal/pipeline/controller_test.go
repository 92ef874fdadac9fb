package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"firewatch/internal/alert"
	"firewatch/internal/config"
	"firewatch/internal/dispatch"
	"firewatch/internal/events"
	"firewatch/internal/fusion"
	"firewatch/internal/history"
	"firewatch/internal/model"
)

type fakeClassifier struct {
	cls *fusion.Classification
}

func (f *fakeClassifier) Classify(context.Context, []byte) (*fusion.Classification, error) {
	return f.cls, nil
}

type countingNotifier struct {
	mu     sync.Mutex
	alerts []model.AlertRecord
}

func (n *countingNotifier) Name() string { return "test" }

func (n *countingNotifier) Notify(_ context.Context, alert model.AlertRecord) error {
	n.mu.Lock()
	n.alerts = append(n.alerts, alert)
	n.mu.Unlock()
	return nil
}

func (n *countingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alerts)
}

type harness struct {
	ctrl     *Controller
	readings chan model.SensorReading
	events   *events.Store
	notifier *countingNotifier
	cancel   context.CancelFunc
}

func newHarness(t *testing.T, classifier fusion.Classifier, captureTimeout time.Duration) *harness {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Storage.ImageDir = ""
	if captureTimeout > 0 {
		cfg.Detection.CaptureTimeout = captureTimeout
	}
	mgr := config.NewStaticManager(cfg)

	machine := alert.NewMachine(model.LevelNormal, cfg.Detection.ConfirmThreshold, cfg.Detection.CaptureTimeout)
	scorer := fusion.NewScorer(classifier, cfg.Fusion, nil)
	notifier := &countingNotifier{}
	dispatcher := dispatch.NewDispatcher(nil, []dispatch.Notifier{notifier}, 0, nil)
	eventLog := events.NewStore(100)
	readings := make(chan model.SensorReading, 16)

	ctrl := NewController(mgr, machine, scorer, dispatcher, nil, history.NewStore(50), eventLog, nil, readings, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go ctrl.Run(ctx)
	t.Cleanup(cancel)
	return &harness{ctrl: ctrl, readings: readings, events: eventLog, notifier: notifier, cancel: cancel}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// pendingRequestID digs the active capture request out of the event log.
func (h *harness) pendingRequestID(t *testing.T) string {
	t.Helper()
	for _, ev := range h.events.List(0) {
		if ev.Type == "capture" && ev.Data["request_id"] != "" && strings.Contains(ev.Message, "requested") {
			return ev.Data["request_id"]
		}
	}
	t.Fatal("no capture request event recorded")
	return ""
}

func hotReading() model.SensorReading {
	humidity := 50.0
	return model.SensorReading{
		Temperature: 45, Light: 300, Smoke: 100,
		Humidity:   &humidity,
		CapturedAt: time.Now().UTC(),
		DeviceID:   "arduino-1",
	}
}

func redImagePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			img.Set(x, y, color.RGBA{R: 255, G: 0, B: 0, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestHotReadingRaisesRiskAndRequestsCapture(t *testing.T) {
	h := newHarness(t, nil, 0)

	h.readings <- hotReading()
	waitFor(t, "risk level", func() bool {
		st := h.ctrl.Status()
		return st.AlertLevel == model.LevelRisk && st.CapturePending
	})

	id := h.pendingRequestID(t)
	if !strings.HasPrefix(id, "capture_") {
		t.Fatalf("expected capture_ prefixed request id, got %q", id)
	}
	found := false
	for _, ev := range h.events.List(0) {
		if ev.Type == "capture" && strings.Contains(ev.Message, "temperature high") {
			found = true
		}
	}
	if !found {
		t.Fatal("capture request event should name the exceeded dimension")
	}
}

func TestSecondHotReadingDoesNotRequestAnotherCapture(t *testing.T) {
	h := newHarness(t, nil, 0)

	h.readings <- hotReading()
	waitFor(t, "capture pending", func() bool { return h.ctrl.Status().CapturePending })
	h.readings <- hotReading()
	waitFor(t, "second reading processed", func() bool {
		return len(h.ctrl.history.List(0)) == 2
	})

	requests := 0
	for _, ev := range h.events.List(0) {
		if ev.Type == "capture" && strings.Contains(ev.Message, "requested") {
			requests++
		}
	}
	if requests != 1 {
		t.Fatalf("expected exactly one capture request, got %d", requests)
	}
}

func TestFailedCaptureResolvesRiskToNormal(t *testing.T) {
	h := newHarness(t, nil, 0)

	h.readings <- hotReading()
	waitFor(t, "capture pending", func() bool { return h.ctrl.Status().CapturePending })
	id := h.pendingRequestID(t)

	h.ctrl.SubmitResponse(model.CaptureResponse{
		RequestID:   id,
		Error:       "device busy",
		CompletedAt: time.Now().UTC(),
	})
	waitFor(t, "risk resolved", func() bool {
		st := h.ctrl.Status()
		return st.AlertLevel == model.LevelNormal && !st.CapturePending
	})
	if h.notifier.count() != 0 {
		t.Fatalf("failed capture must not dispatch alerts, got %d", h.notifier.count())
	}
}

func TestConfirmedFireDispatchesAlert(t *testing.T) {
	embedding := make([]float64, 100)
	for i := range embedding {
		embedding[i] = 0.5
	}
	classifier := &fakeClassifier{cls: &fusion.Classification{
		Embedding: embedding,
		Labels:    []fusion.LabelScore{{Label: "fire", Probability: 1.0}},
	}}
	h := newHarness(t, classifier, 0)

	humidity := 50.0
	h.readings <- model.SensorReading{
		Temperature: 45, Light: 900, Smoke: 600,
		Humidity:   &humidity,
		CapturedAt: time.Now().UTC(),
	}
	waitFor(t, "capture pending", func() bool { return h.ctrl.Status().CapturePending })
	id := h.pendingRequestID(t)

	h.ctrl.SubmitResponse(model.CaptureResponse{
		RequestID:   id,
		Image:       redImagePNG(t),
		CompletedAt: time.Now().UTC(),
	})
	waitFor(t, "confirmed level", func() bool {
		return h.ctrl.Status().AlertLevel == model.LevelConfirmed
	})
	waitFor(t, "alert dispatched", func() bool { return h.notifier.count() == 1 })
}

func TestUnknownCaptureResponseIgnored(t *testing.T) {
	h := newHarness(t, nil, 0)

	h.ctrl.SubmitResponse(model.CaptureResponse{
		RequestID:   "capture_never_issued",
		Image:       []byte{1, 2, 3},
		CompletedAt: time.Now().UTC(),
	})
	time.Sleep(50 * time.Millisecond)
	if st := h.ctrl.Status(); st.AlertLevel != model.LevelNormal {
		t.Fatalf("unknown response must not change state, got %s", st.AlertLevel)
	}
}

func TestThresholdUpdateChangesEvaluation(t *testing.T) {
	h := newHarness(t, nil, 0)

	h.ctrl.UpdateThresholds(model.ThresholdSet{Temperature: 100, Light: 2000, Smoke: 2000, Humidity: 0})
	waitFor(t, "thresholds applied", func() bool {
		return h.ctrl.Thresholds().Temperature == 100
	})

	h.readings <- hotReading()
	waitFor(t, "reading processed", func() bool {
		return len(h.ctrl.history.List(0)) == 1
	})
	if st := h.ctrl.Status(); st.AlertLevel != model.LevelNormal || st.CapturePending {
		t.Fatalf("reading under raised thresholds must stay normal, got %+v", st)
	}
}

func TestManualTriggerIssuesCapture(t *testing.T) {
	h := newHarness(t, nil, 0)

	h.ctrl.TriggerCapture()
	waitFor(t, "capture pending", func() bool { return h.ctrl.Status().CapturePending })
	id := h.pendingRequestID(t)
	if !strings.HasPrefix(id, "manual_") {
		t.Fatalf("expected manual_ prefixed request id, got %q", id)
	}
}

func TestCaptureTimeoutResolvesRisk(t *testing.T) {
	h := newHarness(t, nil, 50*time.Millisecond)

	h.readings <- hotReading()
	waitFor(t, "capture pending", func() bool { return h.ctrl.Status().CapturePending })
	waitFor(t, "timeout resolution", func() bool {
		st := h.ctrl.Status()
		return st.AlertLevel == model.LevelNormal && !st.CapturePending
	})

	found := false
	for _, ev := range h.events.List(0) {
		if ev.Type == "capture" && strings.Contains(ev.Message, "timed out") {
			found = true
		}
	}
	if !found {
		t.Fatal("timeout event should be recorded")
	}
}
