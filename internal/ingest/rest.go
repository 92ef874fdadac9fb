package ingest

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"firewatch/internal/config"
	"firewatch/internal/model"
)

// StatusFunc reports the current alert level so device responses can
// carry it back to the sender.
type StatusFunc func() model.AlertLevel

type RESTServer struct {
	parser *Parser
	out    chan<- model.SensorReading
	status StatusFunc
	logger *slog.Logger
}

func StartREST(ctx context.Context, cfg *config.Manager, parser *Parser, out chan<- model.SensorReading, status StatusFunc, logger *slog.Logger) *http.Server {
	current := cfg.Get().Ingest.REST
	if !current.Enabled {
		if logger != nil {
			logger.Info("rest ingest disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("rest ingest enabled", "addr", current.Addr)
	}
	server := &RESTServer{parser: parser, out: out, status: status, logger: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("/sensor-data", server.handleSensorData)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
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
				logger.Error("rest ingest server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *RESTServer) handleSensorData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 2<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	trim := bytesTrim(body)
	if len(trim) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	accepted := 0
	failed := 0
	if trim[0] == '[' {
		var list []map[string]interface{}
		if err := json.Unmarshal(trim, &list); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		for _, obj := range list {
			if s.processMap(obj) {
				accepted++
			} else {
				failed++
			}
		}
	} else {
		var obj map[string]interface{}
		if err := json.Unmarshal(trim, &obj); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if s.processMap(obj) {
			accepted++
		} else {
			failed++
		}
	}

	resp := map[string]interface{}{
		"accepted": accepted,
		"failed":   failed,
	}
	if s.status != nil {
		resp["alert_level"] = s.status()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *RESTServer) processMap(obj map[string]interface{}) bool {
	reading, err := s.parser.ParseMap(obj)
	if err != nil || reading == nil {
		if err != nil && s.logger != nil {
			s.logger.Warn("rest payload rejected", "err", err)
		}
		return false
	}
	reading.Source = "rest"
	SendNonBlocking(context.Background(), s.out, *reading, s.logger)
	return true
}

func bytesTrim(b []byte) []byte {
	start := 0
	for start < len(b) && (b[start] == ' ' || b[start] == '\n' || b[start] == '\r' || b[start] == '\t') {
		start++
	}
	end := len(b)
	for end > start && (b[end-1] == ' ' || b[end-1] == '\n' || b[end-1] == '\r' || b[end-1] == '\t') {
		end--
	}
	return b[start:end]
}
