package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"firewatch/internal/config"
	"firewatch/internal/events"
	"firewatch/internal/model"
	"firewatch/internal/pipeline"
	"firewatch/internal/storage"
)

type Server struct {
	cfg     *config.Manager
	ctrl    *pipeline.Controller
	events  *events.Store
	store   storage.Store
	logger  *slog.Logger
	version string
}

type statusResponse struct {
	Status         string               `json:"status"`
	Time           string               `json:"time"`
	Version        string               `json:"version"`
	ConfigPath     string               `json:"config_path"`
	AlertLevel     model.AlertLevel     `json:"alert_level"`
	Thresholds     model.ThresholdSet   `json:"thresholds"`
	LatestReading  *model.SensorReading `json:"latest_reading,omitempty"`
	CapturePending bool                 `json:"capture_pending"`
	Peers          int                  `json:"peers"`
	Ingest         ingestStatus         `json:"ingest"`
}

type ingestStatus struct {
	REST      bool `json:"rest"`
	Kafka     bool `json:"kafka"`
	MQTT      bool `json:"mqtt"`
	TCPStream bool `json:"tcp_stream"`
}

func Start(ctx context.Context, cfg *config.Manager, ctrl *pipeline.Controller, eventLog *events.Store, store storage.Store, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := &Server{
		cfg:     cfg,
		ctrl:    ctrl,
		events:  eventLog,
		store:   store,
		logger:  logger,
		version: version,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/status", server.handleStatus)
	mux.HandleFunc("/history", server.handleHistory)
	mux.HandleFunc("/alerts", server.handleAlerts)
	mux.HandleFunc("/alerts/resolve", server.handleResolveAlert)
	mux.HandleFunc("/logs", server.handleLogs)
	mux.HandleFunc("/captures", server.handleCaptures)
	mux.HandleFunc("/trigger-capture", server.handleTriggerCapture)
	mux.HandleFunc("/update-thresholds", server.handleUpdateThresholds)
	mux.HandleFunc("/admin/clear", server.handleClear)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})

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
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	st := s.ctrl.Status()
	resp := statusResponse{
		Status:         "ok",
		Time:           time.Now().UTC().Format(time.RFC3339Nano),
		Version:        s.version,
		ConfigPath:     s.cfg.Path(),
		AlertLevel:     st.AlertLevel,
		Thresholds:     st.Thresholds,
		LatestReading:  st.LatestReading,
		CapturePending: st.CapturePending,
		Peers:          st.Peers,
		Ingest: ingestStatus{
			REST:      cfg.Ingest.REST.Enabled,
			Kafka:     cfg.Ingest.Kafka.Enabled,
			MQTT:      cfg.Ingest.MQTT.Enabled,
			TCPStream: cfg.Ingest.TCPStream.Enabled,
		},
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	list := s.ctrl.History(queryLimit(r))
	writeJSON(w, http.StatusOK, map[string]any{
		"readings": list,
		"count":    len(list),
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		writeJSON(w, http.StatusOK, map[string]any{"alerts": []model.AlertRecord{}, "count": 0})
		return
	}
	list, err := s.store.ListAlerts(r.Context(), queryLimit(r))
	if err != nil {
		s.storeError(w, "list alerts", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

func (s *Server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if s.store == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err := s.store.ResolveAlert(r.Context(), id); err != nil {
		if err == storage.ErrNotFound {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		s.storeError(w, "resolve alert", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "id": id})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sinceStr := r.URL.Query().Get("since")
	var list []model.Event
	if sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.events.Since(ts)
	} else {
		list = s.events.List(queryLimit(r))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": list,
		"count":  len(list),
	})
}

func (s *Server) handleCaptures(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		writeJSON(w, http.StatusOK, map[string]any{"captures": []model.CaptureRecord{}, "count": 0})
		return
	}
	list, err := s.store.ListCaptures(r.Context(), queryLimit(r))
	if err != nil {
		s.storeError(w, "list captures", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"captures": list,
		"count":    len(list),
	})
}

func (s *Server) handleTriggerCapture(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.ctrl.TriggerCapture()
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "requested"})
}

func (s *Server) handleUpdateThresholds(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var ts model.ThresholdSet
	if err := json.Unmarshal(body, &ts); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if ts.Temperature < 0 || ts.Light < 0 || ts.Smoke < 0 || ts.Humidity < 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.ctrl.UpdateThresholds(ts)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "thresholds": ts})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		Target string `json:"target"`
	}
	_ = json.Unmarshal(body, &req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		s.events.Clear()
		if s.store != nil {
			if err := s.store.ClearAlerts(r.Context()); err != nil {
				s.storeError(w, "clear alerts", err)
				return
			}
		}
	case "logs":
		s.events.Clear()
	case "alerts":
		if s.store != nil {
			if err := s.store.ClearAlerts(r.Context()); err != nil {
				s.storeError(w, "clear alerts", err)
				return
			}
		}
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) storeError(w http.ResponseWriter, op string, err error) {
	if s.logger != nil {
		s.logger.Error("api storage error", "op", op, "err", err)
	}
	w.WriteHeader(http.StatusInternalServerError)
}

func queryLimit(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
