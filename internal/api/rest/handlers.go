package rest

import (
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/edupulse/learning-integrity-backend/internal/domain/attempt"
	"github.com/edupulse/learning-integrity-backend/internal/domain/errors"
	"github.com/edupulse/learning-integrity-backend/internal/domain/risk"
	"github.com/edupulse/learning-integrity-backend/internal/service/fraud"
)

// Handler exposes the fraud service over HTTP.
type Handler struct {
	fraud  fraud.Service
	logger *slog.Logger
}

// NewHandler creates the REST handler for the fraud service.
func NewHandler(svc fraud.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{fraud: svc, logger: logger}
}

// handleAnalyzeAttempt scores one answer attempt.
// POST /api/v1/attempts/analyze
func (h *Handler) handleAnalyzeAttempt(w http.ResponseWriter, r *http.Request) {
	var ev attempt.Event
	if err := decodeJSON(r, &ev); err != nil {
		writeError(w, r, err)
		return
	}

	score, err := h.fraud.AnalyzeAttempt(r.Context(), &ev)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, score)
}

// handleAnalyzeSession scores a whole practice session.
// POST /api/v1/sessions/analyze
func (h *Handler) handleAnalyzeSession(w http.ResponseWriter, r *http.Request) {
	var summary attempt.SessionSummary
	if err := decodeJSON(r, &summary); err != nil {
		writeError(w, r, err)
		return
	}

	score, err := h.fraud.AnalyzeSession(r.Context(), &summary)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, score)
}

// handleGetScore returns the current fraud score for a user.
// GET /api/v1/users/{userID}/score
func (h *Handler) handleGetScore(w http.ResponseWriter, r *http.Request) {
	score, err := h.fraud.GetFraudScore(r.Context(), r.PathValue("userID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, score)
}

// handleRecommendations returns mitigation actions for a user.
// GET /api/v1/users/{userID}/recommendations
func (h *Handler) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	actions, err := h.fraud.Recommendations(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recommendationsResponse{
		UserID:          userID,
		Recommendations: actions,
	})
}

// handleListAlerts returns alerts newest first.
// GET /api/v1/alerts?limit=&offset=
func (h *Handler) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	alerts, err := h.fraud.ListAlerts(r.Context(), limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if alerts == nil {
		alerts = []*risk.Alert{}
	}
	writeJSON(w, http.StatusOK, alertListResponse{
		Alerts: alerts,
		Limit:  limit,
		Offset: offset,
	})
}

// handleReviewAlert applies a reviewer decision.
// POST /api/v1/alerts/{alertID}/review
func (h *Handler) handleReviewAlert(w http.ResponseWriter, r *http.Request) {
	alertID, err := uuid.Parse(r.PathValue("alertID"))
	if err != nil {
		writeError(w, r, errors.NewValidationError("INVALID_ALERT_ID", "alert id must be a uuid"))
		return
	}

	var req reviewAlertRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	alert, err := h.fraud.ReviewAlert(r.Context(), alertID,
		risk.ReviewAction(req.Action), req.ReviewerID, req.Notes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// handleAnalyzeNetwork scores one (user, ip, device) observation.
// POST /api/v1/network/analyze
func (h *Handler) handleAnalyzeNetwork(w http.ResponseWriter, r *http.Request) {
	var req networkAnalysisRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	score, flags, err := h.fraud.AnalyzeNetwork(r.Context(), req.UserID, req.IPAddress, req.DeviceType)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if flags == nil {
		flags = []risk.Flag{}
	}
	writeJSON(w, http.StatusOK, networkAnalysisResponse{
		UserID: req.UserID,
		Score:  score,
		Flags:  flags,
	})
}

// handleDetectCollusion runs a similarity scan over a user batch.
// POST /api/v1/collusion/scan
func (h *Handler) handleDetectCollusion(w http.ResponseWriter, r *http.Request) {
	var req collusionScanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	report, err := h.fraud.DetectCollusion(r.Context(), req.UserIDs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleUpdateThresholds recalibrates thresholds from labeled feedback.
// POST /api/v1/thresholds/recalibrate
func (h *Handler) handleUpdateThresholds(w http.ResponseWriter, r *http.Request) {
	var req thresholdFeedbackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.fraud.UpdateThresholds(r.Context(), req.Feedback); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "recalibrated"})
}

// handleRetrain recalibrates the probability model.
// POST /api/v1/model/retrain
func (h *Handler) handleRetrain(w http.ResponseWriter, r *http.Request) {
	var req retrainRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.fraud.Retrain(r.Context(), req.Samples); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "retrained"})
}

// handleModelInsights returns model diagnostics.
// GET /api/v1/model/insights
func (h *Handler) handleModelInsights(w http.ResponseWriter, r *http.Request) {
	insights, err := h.fraud.ModelInsights(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, insights)
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.NewValidationError("INVALID_BODY", "malformed request body").WithCause(err)
	}
	return nil
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.GetStatusCode(err)
	if status >= 500 {
		slog.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err)
	}

	resp := errorResponse{}
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		resp.Error.Code = appErr.Code
		resp.Error.Message = appErr.Message
		resp.Error.Details = appErr.Details
	} else {
		resp.Error.Code = "INTERNAL_ERROR"
		resp.Error.Message = "an internal error occurred"
	}
	writeJSON(w, status, resp)
}
