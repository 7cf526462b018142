package httpx

import (
	"errors"
	"net/http"

	"github.com/woedy/god-bless-super-sub006/internal/domain/model"
	"github.com/woedy/god-bless-super-sub006/internal/service"
)

// CampaignHandlers provides HTTP handlers for campaign operations.
type CampaignHandlers struct {
	Svc *service.CampaignService
}

// CreateCampaign stores a campaign draft.
func (h *CampaignHandlers) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req model.CreateCampaignRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	campaign, err := h.Svc.Create(r.Context(), &req)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, campaign)
}

// GetCampaign returns one campaign.
func (h *CampaignHandlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	campaignID := r.PathValue("id")
	if campaignID == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("campaign id is required")})
		return
	}

	campaign, err := h.Svc.Get(r.Context(), campaignID)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, campaign)
}

// ListCampaigns returns an owner's campaigns, newest first.
func (h *CampaignHandlers) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_query", Err: errors.New("owner is required")})
		return
	}
	limit := parseIntQuery(r, "limit", 50)
	offset := parseIntQuery(r, "offset", 0)

	campaigns, err := h.Svc.List(r.Context(), owner, limit, offset)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"campaigns": campaigns})
}

// launchBody is the request payload for launching a draft campaign. The
// campaign id comes from the path, not the body.
type launchBody struct {
	Recipients []model.Recipient      `json:"recipients"`
	Settings   model.DeliverySettings `json:"delivery_settings"`
	MaxRetries int                    `json:"max_retries"`
}

// LaunchCampaign enqueues the bulk send job for a draft campaign.
func (h *CampaignHandlers) LaunchCampaign(w http.ResponseWriter, r *http.Request) {
	campaignID := r.PathValue("id")
	if campaignID == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("campaign id is required")})
		return
	}

	var body launchBody
	if !DecodeJSON(w, r, &body) {
		return
	}

	campaign, job, err := h.Svc.Launch(r.Context(), &service.LaunchRequest{
		CampaignID: campaignID,
		Recipients: body.Recipients,
		Settings:   body.Settings,
		MaxRetries: body.MaxRetries,
	})
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]any{
		"campaign": campaign,
		"job":      job,
	})
}

// CampaignAnalytics returns delivery counters derived from attempt rows.
func (h *CampaignHandlers) CampaignAnalytics(w http.ResponseWriter, r *http.Request) {
	campaignID := r.PathValue("id")
	if campaignID == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("campaign id is required")})
		return
	}

	analytics, err := h.Svc.Analytics(r.Context(), campaignID)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, analytics)
}
