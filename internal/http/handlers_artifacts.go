package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"path"

	"github.com/woedy/god-bless-super-sub006/internal/core"
	"github.com/woedy/god-bless-super-sub006/internal/service"
)

// ArtifactHandlers serves export artifacts produced by completed jobs.
type ArtifactHandlers struct {
	Tasks *service.TaskService
	Store core.ArtifactStore
}

// DownloadArtifact serves GET /api/jobs/{id}/artifact. The artifact
// reference lives on the completed job's result; the bytes come from the
// configured artifact store.
func (h *ArtifactHandlers) DownloadArtifact(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("job id is required")})
		return
	}

	job, err := h.Tasks.Get(r.Context(), jobID)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	if job.Result == nil || job.Result.Artifact == "" {
		WriteError(w, ErrorParams{
			Code:    http.StatusNotFound,
			ErrCode: "no_artifact",
			Err:     fmt.Errorf("job %s has no artifact", jobID),
		})
		return
	}

	body, err := h.Store.Get(r.Context(), job.Result.Artifact)
	if err != nil {
		WriteError(w, ErrorParams{
			Code:    http.StatusNotFound,
			ErrCode: "artifact_unavailable",
			Err:     errors.New("artifact is no longer available"),
		})
		return
	}

	name := path.Base(job.Result.Artifact)
	w.Header().Set("Content-Type", artifactContentType(name))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		// Client went away mid-download; nothing to recover.
		return
	}
}

func artifactContentType(name string) string {
	switch path.Ext(name) {
	case ".csv":
		return "text/csv"
	case ".txt":
		return "text/plain"
	case ".json":
		return "application/json"
	case ".doc":
		return "application/msword"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}
