package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/msgforge/internal/storage"
)

type VersionRequest struct {
	Content string `json:"content" validate:"required"`
}

type ActionRequest struct {
	Action string `json:"action" validate:"required"`
}

func handleListVersions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := deps.Versions.List(r.Context(), chi.URLParam(r, "session"), chi.URLParam(r, "asset"))
		if err != nil {
			writeServiceError(w, "versions", err)
			return
		}
		if list == nil {
			list = []storage.SessionVersion{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func handleCreateVersion(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req VersionRequest
		if !decodeJSON(w, r, deps.Validate, &req) {
			return
		}
		v, err := deps.Versions.CreateVersion(r.Context(), chi.URLParam(r, "session"), chi.URLParam(r, "asset"), req.Content)
		if err != nil {
			writeServiceError(w, "version", err)
			return
		}
		writeJSON(w, http.StatusCreated, v)
	}
}

func handleActiveVersion(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := deps.Versions.Active(r.Context(), chi.URLParam(r, "session"), chi.URLParam(r, "asset"))
		if err != nil {
			writeServiceError(w, "active version", err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

func handleActivateVersion(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := deps.Versions.Activate(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, "version", err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

func handleStartAction(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ActionRequest
		if !decodeJSON(w, r, deps.Validate, &req) {
			return
		}
		id, err := deps.Actions.Start(r.Context(), chi.URLParam(r, "session"), chi.URLParam(r, "asset"), req.Action)
		if err != nil {
			writeServiceError(w, "action", err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": storage.ActionRunning})
	}
}

func handleListActions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := deps.Store.ListActionJobs(chi.URLParam(r, "session"), parseIntParam(r, "limit", 20, 100))
		if err != nil {
			writeServiceError(w, "actions", err)
			return
		}
		if list == nil {
			list = []storage.ActionJob{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func handleGetAction(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := deps.Actions.Status(chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, "action", err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

func handleCancelAction(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := deps.Actions.Cancel(id); err != nil {
			writeServiceError(w, "action", err)
			return
		}
		job, err := deps.Actions.Status(id)
		if err != nil {
			writeServiceError(w, "action", err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}
