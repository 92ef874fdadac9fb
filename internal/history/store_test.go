package history

import (
	"testing"
	"time"

	"firewatch/internal/model"
)

func reading(temp float64) model.SensorReading {
	return model.SensorReading{Temperature: temp, CapturedAt: time.Now().UTC()}
}

func TestLatestFollowsInsertOrder(t *testing.T) {
	s := NewStore(5)
	if _, ok := s.Latest(); ok {
		t.Fatal("empty store should report no latest reading")
	}
	s.Add(reading(20))
	s.Add(reading(25))
	latest, ok := s.Latest()
	if !ok || latest.Temperature != 25 {
		t.Fatalf("expected latest 25, got %+v ok=%v", latest, ok)
	}
}

func TestRingKeepsNewestAtLimit(t *testing.T) {
	s := NewStore(3)
	for i := 0; i < 6; i++ {
		s.Add(reading(float64(i)))
	}
	list := s.List(0)
	if len(list) != 3 {
		t.Fatalf("expected 3 readings, got %d", len(list))
	}
	if list[0].Temperature != 3 || list[2].Temperature != 5 {
		t.Fatalf("unexpected window: %v .. %v", list[0].Temperature, list[2].Temperature)
	}
	latest, _ := s.Latest()
	if latest.Temperature != 5 {
		t.Fatalf("expected latest 5, got %v", latest.Temperature)
	}
}
