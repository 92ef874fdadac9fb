package alert

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"firewatch/internal/model"
	"firewatch/internal/threshold"
)

// Transition describes the outcome of feeding one input to the machine.
type Transition struct {
	From    model.AlertLevel
	To      model.AlertLevel
	Changed bool
	Reason  string
}

// Machine holds the process-wide alert level and applies the transitions
// driven by threshold evaluations and fusion results. It tracks at most one
// capture cycle at a time: while a request is pending, further exceeded
// evaluations do not emit new requests, and a cycle that never produces a
// response is resolved by OnCaptureTimeout so the machine cannot stay in
// risk forever.
type Machine struct {
	mu           sync.Mutex
	level        model.AlertLevel
	pendingID    string
	pendingSince time.Time
	confirm      float64
	timeout      time.Duration
}

func NewMachine(initial model.AlertLevel, confirmThreshold float64, captureTimeout time.Duration) *Machine {
	if initial == "" {
		initial = model.LevelNormal
	}
	if confirmThreshold <= 0 {
		confirmThreshold = 0.7
	}
	if captureTimeout <= 0 {
		captureTimeout = 30 * time.Second
	}
	return &Machine{level: initial, confirm: confirmThreshold, timeout: captureTimeout}
}

func (m *Machine) Level() model.AlertLevel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

func (m *Machine) CapturePending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pendingID != ""
}

func (m *Machine) CaptureTimeout() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timeout
}

func (m *Machine) UpdateConfig(confirmThreshold float64, captureTimeout time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if confirmThreshold > 0 {
		m.confirm = confirmThreshold
	}
	if captureTimeout > 0 {
		m.timeout = captureTimeout
	}
}

// RestoreLevel sets the level directly, for resuming persisted state at
// startup. Any pending capture cycle is discarded.
func (m *Machine) RestoreLevel(level model.AlertLevel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.level = level
	m.pendingID = ""
	m.pendingSince = time.Time{}
}

// OnEvaluation applies a threshold evaluation. When the evaluation moves the
// machine from normal to risk, it returns the single capture request to emit
// for this cycle. A non-exceeded evaluation downgrades risk back to normal
// only when no capture cycle is pending.
func (m *Machine) OnEvaluation(eval threshold.Evaluation, now time.Time) (Transition, *model.CaptureRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	from := m.level

	if eval.Exceeded {
		if m.level == model.LevelNormal {
			m.level = model.LevelRisk
		}
		if m.pendingID != "" {
			return Transition{From: from, To: m.level, Changed: from != m.level, Reason: "capture already pending"}, nil
		}
		req := &model.CaptureRequest{
			RequestID: "capture_" + uuid.NewString(),
			Reason:    "threshold exceeded: " + strings.Join(eval.Reasons, ", "),
			IssuedAt:  now,
		}
		m.pendingID = req.RequestID
		m.pendingSince = now
		return Transition{From: from, To: m.level, Changed: from != m.level, Reason: req.Reason}, req
	}

	if m.level == model.LevelRisk && m.pendingID == "" {
		m.level = model.LevelNormal
		return Transition{From: from, To: m.level, Changed: true, Reason: "thresholds back to normal"}, nil
	}
	return Transition{From: from, To: m.level, Changed: false}, nil
}

// OnFusion applies a fusion result, closing the pending capture cycle when
// the result correlates with it. A confirming result moves the machine to
// confirmed from any state; anything else resolves to normal, including an
// errored capture whose sensor-only result cannot establish fire.
func (m *Machine) OnFusion(res model.FusionResult) Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	from := m.level

	if res.RequestID == "" || res.RequestID == m.pendingID {
		m.pendingID = ""
		m.pendingSince = time.Time{}
	}

	if res.FireDetected && res.Confidence > m.confirm {
		m.level = model.LevelConfirmed
		return Transition{From: from, To: m.level, Changed: from != m.level, Reason: "fire confirmed"}
	}
	m.level = model.LevelNormal
	return Transition{From: from, To: m.level, Changed: from != m.level, Reason: "fire not confirmed"}
}

// OnCaptureTimeout resolves a capture cycle that never produced a response.
// It acts only when the given request is still the pending one; stale timers
// for already-resolved cycles are ignored.
func (m *Machine) OnCaptureTimeout(requestID string) (Transition, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pendingID == "" || m.pendingID != requestID {
		return Transition{From: m.level, To: m.level}, false
	}
	from := m.level
	m.pendingID = ""
	m.pendingSince = time.Time{}
	if m.level == model.LevelRisk {
		m.level = model.LevelNormal
	}
	return Transition{From: from, To: m.level, Changed: from != m.level, Reason: "capture response timed out"}, true
}

// ManualCapture registers an operator-triggered capture cycle.
// Returns nil when a cycle is already pending.
func (m *Machine) ManualCapture(now time.Time) *model.CaptureRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pendingID != "" {
		return nil
	}
	req := &model.CaptureRequest{
		RequestID: "manual_" + uuid.NewString(),
		Reason:    "manual trigger",
		IssuedAt:  now,
	}
	m.pendingID = req.RequestID
	m.pendingSince = now
	return req
}
