package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/msgforge/internal/storage"
)

type ScheduleRequest struct {
	Name   string `json:"name" validate:"required"`
	Source string `json:"source" validate:"required"`
	Query  string `json:"query"`
	Limit  int    `json:"limit" validate:"gte=0,lte=500"`
}

type ScheduleActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

func handleCreateSchedule(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ScheduleRequest
		if !decodeJSON(w, r, deps.Validate, &req) {
			return
		}
		sc := storage.DiscoverySchedule{
			ID:       uuid.NewString(),
			Name:     req.Name,
			Config:   storage.ScheduleConfig{Source: req.Source, Query: req.Query, Limit: req.Limit},
			IsActive: true,
		}
		if err := deps.Store.SaveSchedule(sc); err != nil {
			writeServiceError(w, "schedule", err)
			return
		}
		saved, err := deps.Store.GetSchedule(sc.ID)
		if err != nil {
			writeServiceError(w, "schedule", err)
			return
		}
		writeJSON(w, http.StatusCreated, saved)
	}
}

func handleListSchedules(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := deps.Store.ListSchedules()
		if err != nil {
			writeServiceError(w, "schedules", err)
			return
		}
		if list == nil {
			list = []storage.DiscoverySchedule{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func handleSetScheduleActive(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ScheduleActiveRequest
		if !decodeJSON(w, r, deps.Validate, &req) {
			return
		}
		id := chi.URLParam(r, "id")
		if err := deps.Store.SetScheduleActive(id, *req.Active); err != nil {
			writeServiceError(w, "schedule", err)
			return
		}
		sc, err := deps.Store.GetSchedule(id)
		if err != nil {
			writeServiceError(w, "schedule", err)
			return
		}
		writeJSON(w, http.StatusOK, sc)
	}
}

// handleRunSchedules runs every due schedule now and reports the batch.
func handleRunSchedules(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Schedules == nil {
			httpError(w, http.StatusServiceUnavailable, "unavailable", "discovery is not configured")
			return
		}
		sum, err := deps.Schedules.RunDue(r.Context())
		if err != nil {
			writeServiceError(w, "discovery run", err)
			return
		}
		writeJSON(w, http.StatusOK, sum)
	}
}
