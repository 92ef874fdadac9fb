package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"firewatch/internal/model"
)

type stubNotifier struct {
	mu     sync.Mutex
	name   string
	err    error
	alerts []model.AlertRecord
	seen   chan struct{}
}

func newStubNotifier(name string, err error) *stubNotifier {
	return &stubNotifier{name: name, err: err, seen: make(chan struct{}, 16)}
}

func (n *stubNotifier) Name() string { return n.name }

func (n *stubNotifier) Notify(_ context.Context, alert model.AlertRecord) error {
	n.mu.Lock()
	n.alerts = append(n.alerts, alert)
	n.mu.Unlock()
	n.seen <- struct{}{}
	return n.err
}

func (n *stubNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alerts)
}

func waitSeen(t *testing.T, n *stubNotifier) {
	t.Helper()
	select {
	case <-n.seen:
	case <-time.After(2 * time.Second):
		t.Fatalf("notifier %s was not invoked", n.name)
	}
}

func confirmedResult(confidence float64) model.FusionResult {
	return model.FusionResult{
		FireDetected: true,
		Confidence:   confidence,
		Factors:      model.FusionFactors{Method: "classifier"},
		Timestamp:    time.Now().UTC(),
	}
}

func TestDispatchBuildsRecordAndNotifies(t *testing.T) {
	n := newStubNotifier("log", nil)
	d := NewDispatcher(nil, []Notifier{n}, 0, nil)

	alert, err := d.Dispatch(context.Background(), confirmedResult(0.86), "captures/abc.jpg")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if alert.ID == "" {
		t.Fatal("expected generated alert id")
	}
	if alert.Severity != "high" {
		t.Fatalf("expected severity high, got %q", alert.Severity)
	}
	if alert.ImageRef != "captures/abc.jpg" {
		t.Fatalf("expected image ref, got %q", alert.ImageRef)
	}
	waitSeen(t, n)
	if n.count() != 1 {
		t.Fatalf("expected 1 notification, got %d", n.count())
	}
}

func TestDispatchCriticalSeverity(t *testing.T) {
	d := NewDispatcher(nil, nil, 0, nil)
	alert, err := d.Dispatch(context.Background(), confirmedResult(0.93), "")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if alert.Severity != "critical" {
		t.Fatalf("expected severity critical, got %q", alert.Severity)
	}
}

func TestDispatchNotifierFailureDoesNotFailDispatch(t *testing.T) {
	n := newStubNotifier("webhook", errors.New("endpoint down"))
	d := NewDispatcher(nil, []Notifier{n}, 0, nil)

	var failMu sync.Mutex
	var failed []string
	done := make(chan struct{}, 1)
	d.OnNotifyError = func(notifier string, _ model.AlertRecord, _ error) {
		failMu.Lock()
		failed = append(failed, notifier)
		failMu.Unlock()
		done <- struct{}{}
	}

	if _, err := d.Dispatch(context.Background(), confirmedResult(0.8), ""); err != nil {
		t.Fatalf("dispatch should not surface notifier errors: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("OnNotifyError was not invoked")
	}
	failMu.Lock()
	defer failMu.Unlock()
	if len(failed) != 1 || failed[0] != "webhook" {
		t.Fatalf("unexpected failure reports: %v", failed)
	}
}

func TestDispatchThrottlesRepeatNotifications(t *testing.T) {
	n := newStubNotifier("log", nil)
	d := NewDispatcher(nil, []Notifier{n}, time.Hour, nil)

	if _, err := d.Dispatch(context.Background(), confirmedResult(0.8), ""); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	waitSeen(t, n)
	if _, err := d.Dispatch(context.Background(), confirmedResult(0.81), ""); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	select {
	case <-n.seen:
		t.Fatal("second notification should have been throttled")
	case <-time.After(100 * time.Millisecond):
	}
	if n.count() != 1 {
		t.Fatalf("expected 1 notification after throttle, got %d", n.count())
	}
}

func TestThrottleAllowsAfterCooldown(t *testing.T) {
	th := NewThrottle()
	if !th.Allow("log", 10*time.Millisecond) {
		t.Fatal("first call should pass")
	}
	if th.Allow("log", 10*time.Millisecond) {
		t.Fatal("second immediate call should be blocked")
	}
	time.Sleep(20 * time.Millisecond)
	if !th.Allow("log", 10*time.Millisecond) {
		t.Fatal("call after cooldown should pass")
	}
	if !th.Allow("other", 10*time.Millisecond) {
		t.Fatal("different key should pass independently")
	}
}
