package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/msgforge/internal/jobs"
	"github.com/kalambet/msgforge/internal/storage"
)

type ReviewRequest struct {
	Status string `json:"status" validate:"required,oneof=approved rejected pending"`
}

func handleEnqueueJob(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req jobs.Request
		if !decodeJSON(w, r, deps.Validate, &req) {
			return
		}
		job, err := deps.Jobs.Enqueue(req)
		if err != nil {
			writeServiceError(w, "generation job", err)
			return
		}
		writeJSON(w, http.StatusAccepted, job)
	}
}

func handleListJobs(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := r.URL.Query().Get("status")
		switch status {
		case "", storage.JobPending, storage.JobRunning, storage.JobCompleted, storage.JobFailed:
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown status %q", status)
			return
		}
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		list, err := deps.Store.ListGenerationJobs(status, limit, offset)
		if err != nil {
			writeServiceError(w, "generation jobs", err)
			return
		}
		if list == nil {
			list = []storage.GenerationJob{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func handleGetJob(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := deps.Store.GetGenerationJob(chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, "generation job", err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

func handleRetryJob(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := deps.Jobs.Retry(chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, "generation job", err)
			return
		}
		writeJSON(w, http.StatusAccepted, job)
	}
}

func handleListVariants(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := deps.Store.GetGenerationJob(id); err != nil {
			writeServiceError(w, "generation job", err)
			return
		}
		list, err := buildVariantList(deps.Store, id)
		if err != nil {
			writeServiceError(w, "variants", err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func handleReviewVariant(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ReviewRequest
		if !decodeJSON(w, r, deps.Validate, &req) {
			return
		}
		id := chi.URLParam(r, "id")
		if err := deps.Store.SetVariantReview(id, req.Status); err != nil {
			writeServiceError(w, "variant", err)
			return
		}
		v, err := deps.Store.GetVariant(id)
		if err != nil {
			writeServiceError(w, "variant", err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

func handleSelectVariant(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := deps.Store.SelectVariant(id); err != nil {
			writeServiceError(w, "variant", err)
			return
		}
		v, err := deps.Store.GetVariant(id)
		if err != nil {
			writeServiceError(w, "variant", err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}
