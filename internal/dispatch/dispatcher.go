package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"firewatch/internal/model"
	"firewatch/internal/storage"
)

// Dispatcher turns confirmed fusion results into persisted alert records
// and fans them out to notifiers. Notification failures are reported but
// never block or retry on the decision path.
type Dispatcher struct {
	store     storage.Store
	notifiers []Notifier
	throttle  *Throttle
	cooldown  time.Duration
	logger    *slog.Logger

	// OnNotifyError receives asynchronous notifier failures.
	OnNotifyError func(notifier string, alert model.AlertRecord, err error)
}

func NewDispatcher(store storage.Store, notifiers []Notifier, cooldown time.Duration, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:     store,
		notifiers: notifiers,
		throttle:  NewThrottle(),
		cooldown:  cooldown,
		logger:    logger,
	}
}

// Dispatch builds and persists the alert record, then notifies in the
// background. The returned record is valid even when persistence fails.
func (d *Dispatcher) Dispatch(ctx context.Context, res model.FusionResult, imageRef string) (model.AlertRecord, error) {
	alert := model.AlertRecord{
		ID:           uuid.NewString(),
		Severity:     severityFor(res.Confidence),
		Message:      fmt.Sprintf("fire confirmed with confidence %.2f (%s)", res.Confidence, res.Factors.Method),
		FireDetected: res.FireDetected,
		Confidence:   res.Confidence,
		ImageRef:     imageRef,
		Timestamp:    time.Now().UTC(),
	}

	var persistErr error
	if d.store != nil {
		if err := d.store.SaveAlert(ctx, alert); err != nil {
			persistErr = fmt.Errorf("persist alert: %w", err)
			if d.logger != nil {
				d.logger.Error("alert persist error", "alert_id", alert.ID, "err", err)
			}
		}
	}

	for _, n := range d.notifiers {
		if !d.throttle.Allow(n.Name(), d.cooldown) {
			if d.logger != nil {
				d.logger.Info("notification throttled", "notifier", n.Name(), "alert_id", alert.ID)
			}
			continue
		}
		go d.notify(n, alert)
	}
	return alert, persistErr
}

func (d *Dispatcher) notify(n Notifier, alert model.AlertRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := n.Notify(ctx, alert); err != nil {
		if d.logger != nil {
			d.logger.Error("notification error", "notifier", n.Name(), "alert_id", alert.ID, "err", err)
		}
		if d.OnNotifyError != nil {
			d.OnNotifyError(n.Name(), alert, err)
		}
	}
}

func severityFor(confidence float64) string {
	if confidence >= 0.9 {
		return "critical"
	}
	return "high"
}
