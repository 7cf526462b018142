package httpx

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/woedy/god-bless-super-sub006/internal/core"
	"github.com/woedy/god-bless-super-sub006/internal/service"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Tasks     *service.TaskService
	Campaigns *service.CampaignService
	Artifacts core.ArtifactStore

	// EventKeepAlive is the SSE keep-alive interval.
	EventKeepAlive time.Duration

	Logger *slog.Logger
}

// NewRouter creates and configures the API router.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()

	jobHandlers := &JobHandlers{Tasks: services.Tasks}
	eventHandlers := &EventHandlers{
		Tasks:     services.Tasks,
		KeepAlive: services.EventKeepAlive,
		Logger:    services.Logger,
	}

	mux.HandleFunc("POST /api/jobs", jobHandlers.CreateJob)
	mux.HandleFunc("GET /api/jobs", jobHandlers.ListJobs)
	mux.HandleFunc("GET /api/jobs/stats", jobHandlers.Stats)
	mux.HandleFunc("GET /api/jobs/{id}", jobHandlers.GetJob)
	mux.HandleFunc("GET /api/jobs/{id}/status", jobHandlers.GetStatus)
	mux.HandleFunc("GET /api/jobs/{id}/events", eventHandlers.StreamProgress)
	mux.HandleFunc("POST /api/jobs/{id}/cancel", jobHandlers.Cancel)
	mux.HandleFunc("POST /api/jobs/{id}/retry", jobHandlers.Retry)

	if services.Artifacts != nil {
		artifactHandlers := &ArtifactHandlers{Tasks: services.Tasks, Store: services.Artifacts}
		mux.HandleFunc("GET /api/jobs/{id}/artifact", artifactHandlers.DownloadArtifact)
	}

	if services.Campaigns != nil {
		campaignHandlers := &CampaignHandlers{Svc: services.Campaigns}
		mux.HandleFunc("POST /api/campaigns", campaignHandlers.CreateCampaign)
		mux.HandleFunc("GET /api/campaigns", campaignHandlers.ListCampaigns)
		mux.HandleFunc("GET /api/campaigns/{id}", campaignHandlers.GetCampaign)
		mux.HandleFunc("POST /api/campaigns/{id}/launch", campaignHandlers.LaunchCampaign)
		mux.HandleFunc("GET /api/campaigns/{id}/analytics", campaignHandlers.CampaignAnalytics)
	}

	mux.HandleFunc("GET /healthz", healthHandler)
	mux.HandleFunc("HEAD /healthz", healthHandler)

	var handler http.Handler = mux
	handler = RequestLogger(services.Logger)(handler)
	handler = Recoverer(services.Logger)(handler)
	return handler
}
