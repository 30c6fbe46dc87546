package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/kalambet/msgforge/internal/actions"
	"github.com/kalambet/msgforge/internal/jobs"
	"github.com/kalambet/msgforge/internal/storage"
	"github.com/kalambet/msgforge/internal/telemetry"
	"github.com/kalambet/msgforge/internal/templates"
	"github.com/kalambet/msgforge/internal/versions"
)

type AppDeps struct {
	Store     *storage.Store
	Jobs      *jobs.Manager
	Versions  *versions.Manager
	Actions   *actions.Runner
	Schedules *jobs.ScheduleRunner // optional; nil disables POST /schedules/run
	Templates *templates.Loader
	Tagger    PainPointTagger // optional; tags pain points created without keywords
	Validate  *validator.Validate
	Token     string
	Engine    string // generator name reported by /health
}

// NewAppHandler returns the REST API. /health and /metrics are public;
// everything else requires the bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	if deps.Validate == nil {
		deps.Validate = validator.New()
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth(deps))
	r.Handle("/metrics", telemetry.Handler())

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/pain-points", handleCreatePainPoint(deps))
		r.Get("/pain-points", handleListPainPoints(deps))
		r.Get("/pain-points/{id}", handleGetPainPoint(deps))

		r.Post("/voices", handleCreateVoice(deps))
		r.Get("/voices", handleListVoices(deps))
		r.Get("/voices/{id}", handleGetVoice(deps))

		r.Post("/references", handleCreateReference(deps))
		r.Get("/references", handleListReferences(deps))
		r.Delete("/references/{id}", handleDeleteReference(deps))

		r.Get("/asset-types", handleAssetTypes(deps))

		r.Post("/jobs", handleEnqueueJob(deps))
		r.Get("/jobs", handleListJobs(deps))
		r.Get("/jobs/{id}", handleGetJob(deps))
		r.Post("/jobs/{id}/retry", handleRetryJob(deps))
		r.Get("/jobs/{id}/variants", handleListVariants(deps))

		r.Post("/variants/{id}/review", handleReviewVariant(deps))
		r.Post("/variants/{id}/select", handleSelectVariant(deps))

		r.Route("/sessions/{session}/assets/{asset}", func(r chi.Router) {
			r.Get("/versions", handleListVersions(deps))
			r.Post("/versions", handleCreateVersion(deps))
			r.Get("/versions/active", handleActiveVersion(deps))
			r.Post("/actions", handleStartAction(deps))
		})
		r.Post("/versions/{id}/activate", handleActivateVersion(deps))

		r.Get("/sessions/{session}/actions", handleListActions(deps))
		r.Get("/actions/{id}", handleGetAction(deps))
		r.Post("/actions/{id}/cancel", handleCancelAction(deps))

		r.Post("/schedules", handleCreateSchedule(deps))
		r.Get("/schedules", handleListSchedules(deps))
		r.Post("/schedules/{id}/active", handleSetScheduleActive(deps))
		r.Post("/schedules/run", handleRunSchedules(deps))
	})

	return r
}

func handleHealth(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "engine": deps.Engine})
	}
}
