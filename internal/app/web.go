package app

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/motion_calibration/internal/plot"
	"github.com/relabs-tech/motion_calibration/internal/sensor"
)

// Handler returns the HTTP surface of the service.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws/calibration", s.HandleCalibrationWS)

	// JSON API endpoint: controller snapshot
	mux.HandleFunc("/api/calibration/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.ctrl.Status())
	})

	// JSON API endpoint: accepted results, one envelope per sensor
	mux.HandleFunc("/api/calibration/results", func(w http.ResponseWriter, r *http.Request) {
		if name := r.URL.Query().Get("sensor"); name != "" {
			kind, err := sensor.ParseKind(name)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			writeJSON(w, s.Result(kind))
			return
		}
		out := make(map[string]ResultEnvelope, len(sensor.Kinds))
		for _, kind := range sensor.Kinds {
			out[kind.String()] = s.Result(kind)
		}
		writeJSON(w, out)
	})

	// Raw series of the running or last recording window
	mux.HandleFunc("/api/calibration/plot.png", func(w http.ResponseWriter, r *http.Request) {
		kind, samples := s.ctrl.Series()
		if len(samples) == 0 {
			http.Error(w, "no recording yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		if err := plot.WritePNG(w, kind, samples); err != nil {
			log.Errorf("plot: %v", err)
		}
	})

	mux.Handle("/metrics", promhttp.Handler())

	// Static files from ./web as the root
	mux.Handle("/", http.FileServer(http.Dir("web")))
	return mux
}

// RunCalibrationWeb serves the operator surface until the listener fails.
func (s *Service) RunCalibrationWeb() error {
	addr := fmt.Sprintf(":%d", s.cfg.WebServerPort)
	log.Infof("web server listening on %s", addr)
	return http.ListenAndServe(addr, s.Handler())
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("json encode error: %v", err)
	}
}
