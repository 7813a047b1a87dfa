package rest

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthChecker reports backend readiness; the database pool implements it.
type HealthChecker interface {
	Healthy() bool
}

// NewRouter builds the HTTP routing table for the fraud API.
func NewRouter(h *Handler, health HealthChecker) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/attempts/analyze", h.handleAnalyzeAttempt)
	mux.HandleFunc("POST /api/v1/sessions/analyze", h.handleAnalyzeSession)
	mux.HandleFunc("GET /api/v1/users/{userID}/score", h.handleGetScore)
	mux.HandleFunc("GET /api/v1/users/{userID}/recommendations", h.handleRecommendations)
	mux.HandleFunc("GET /api/v1/alerts", h.handleListAlerts)
	mux.HandleFunc("POST /api/v1/alerts/{alertID}/review", h.handleReviewAlert)
	mux.HandleFunc("POST /api/v1/network/analyze", h.handleAnalyzeNetwork)
	mux.HandleFunc("POST /api/v1/collusion/scan", h.handleDetectCollusion)
	mux.HandleFunc("POST /api/v1/thresholds/recalibrate", h.handleUpdateThresholds)
	mux.HandleFunc("POST /api/v1/model/retrain", h.handleRetrain)
	mux.HandleFunc("GET /api/v1/model/insights", h.handleModelInsights)

	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, http.StatusOK, "ok")
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if health != nil && !health.Healthy() {
			writeHealth(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
		writeHealth(w, http.StatusOK, "ready")
	})

	return mux
}

func writeHealth(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": msg})
}
