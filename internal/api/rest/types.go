package rest

import (
	"github.com/edupulse/learning-integrity-backend/internal/domain/risk"
	"github.com/edupulse/learning-integrity-backend/internal/service/fraud"
)

type reviewAlertRequest struct {
	Action     string `json:"action"`
	ReviewerID string `json:"reviewer_id"`
	Notes      string `json:"notes,omitempty"`
}

type networkAnalysisRequest struct {
	UserID     string `json:"user_id"`
	IPAddress  string `json:"ip_address"`
	DeviceType string `json:"device_type"`
}

type networkAnalysisResponse struct {
	UserID string      `json:"user_id"`
	Score  float64     `json:"score"`
	Flags  []risk.Flag `json:"flags"`
}

type collusionScanRequest struct {
	UserIDs []string `json:"user_ids"`
}

type thresholdFeedbackRequest struct {
	Feedback []fraud.LabeledOutcome `json:"feedback"`
}

type retrainRequest struct {
	Samples []fraud.LabeledSample `json:"samples"`
}

type recommendationsResponse struct {
	UserID          string   `json:"user_id"`
	Recommendations []string `json:"recommendations"`
}

type alertListResponse struct {
	Alerts []*risk.Alert `json:"alerts"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error struct {
		Code    string                 `json:"code"`
		Message string                 `json:"message"`
		Details map[string]interface{} `json:"details,omitempty"`
	} `json:"error"`
}
