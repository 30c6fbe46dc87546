package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/msgforge/internal/gate"
	"github.com/kalambet/msgforge/internal/storage"
)

// PainPointTagger fills in keywords and metadata for untagged pain points.
type PainPointTagger interface {
	Fill(ctx context.Context, p *storage.PainPoint)
}

type PainPointRequest struct {
	Title     string                    `json:"title" validate:"required,max=500"`
	Content   string                    `json:"content"`
	Source    string                    `json:"source"`
	SourceURL string                    `json:"source_url" validate:"omitempty,url"`
	Keywords  []string                  `json:"keywords"`
	Metadata  storage.PainPointMetadata `json:"metadata"`
}

type VoiceRequest struct {
	Name       string           `json:"name" validate:"required,max=100"`
	Guide      string           `json:"guide"`
	Thresholds *gate.Thresholds `json:"thresholds"`
}

type ReferenceRequest struct {
	Name        string   `json:"name" validate:"required"`
	Description string   `json:"description"`
	Content     string   `json:"content" validate:"required"`
	Tags        []string `json:"tags"`
}

func handleCreatePainPoint(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PainPointRequest
		if !decodeJSON(w, r, deps.Validate, &req) {
			return
		}
		if req.Source == "" {
			req.Source = "manual"
		}
		exists, err := deps.Store.PainPointExistsByURL(req.SourceURL)
		if err != nil {
			writeServiceError(w, "pain point", err)
			return
		}
		if exists {
			httpError(w, http.StatusConflict, "conflict", "pain point with url %s already exists", req.SourceURL)
			return
		}

		p := storage.PainPoint{
			ID:        uuid.NewString(),
			Title:     req.Title,
			Content:   req.Content,
			Source:    req.Source,
			SourceURL: req.SourceURL,
			Keywords:  req.Keywords,
			Metadata:  req.Metadata,
		}
		if deps.Tagger != nil {
			deps.Tagger.Fill(r.Context(), &p)
		}
		if err := deps.Store.SavePainPoint(p); err != nil {
			writeServiceError(w, "pain point", err)
			return
		}
		saved, err := deps.Store.GetPainPoint(p.ID)
		if err != nil {
			writeServiceError(w, "pain point", err)
			return
		}
		writeJSON(w, http.StatusCreated, saved)
	}
}

func handleListPainPoints(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		pps, err := deps.Store.ListPainPoints(limit, offset)
		if err != nil {
			writeServiceError(w, "pain points", err)
			return
		}
		if pps == nil {
			pps = []storage.PainPoint{}
		}
		writeJSON(w, http.StatusOK, pps)
	}
}

func handleGetPainPoint(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Store.GetPainPoint(chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, "pain point", err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func handleCreateVoice(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Thresholds left out of the body keep their defaults.
		th := gate.DefaultThresholds()
		req := VoiceRequest{Thresholds: &th}
		if !decodeJSON(w, r, deps.Validate, &req) {
			return
		}
		if req.Thresholds == nil {
			req.Thresholds = &th
		}
		v := storage.VoiceProfile{ID: uuid.NewString(), Name: req.Name, Guide: req.Guide, Thresholds: *req.Thresholds}
		if err := deps.Store.SaveVoiceProfile(v); err != nil {
			writeServiceError(w, "voice profile", err)
			return
		}
		saved, err := deps.Store.GetVoiceProfile(v.ID)
		if err != nil {
			writeServiceError(w, "voice profile", err)
			return
		}
		writeJSON(w, http.StatusCreated, saved)
	}
}

func handleListVoices(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		voices, err := deps.Store.ListVoiceProfiles()
		if err != nil {
			writeServiceError(w, "voice profiles", err)
			return
		}
		if voices == nil {
			voices = []storage.VoiceProfile{}
		}
		writeJSON(w, http.StatusOK, voices)
	}
}

func handleGetVoice(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := deps.Store.GetVoiceProfile(chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, "voice profile", err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

func handleCreateReference(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ReferenceRequest
		if !decodeJSON(w, r, deps.Validate, &req) {
			return
		}
		d := storage.ReferenceDoc{
			ID:          uuid.NewString(),
			Name:        req.Name,
			Description: req.Description,
			Content:     req.Content,
			Tags:        req.Tags,
		}
		if err := deps.Store.SaveReferenceDoc(d); err != nil {
			writeServiceError(w, "reference doc", err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"id": d.ID})
	}
}

func handleListReferences(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docs, err := deps.Store.ListReferenceDocs()
		if err != nil {
			writeServiceError(w, "reference docs", err)
			return
		}
		if docs == nil {
			docs = []storage.ReferenceDoc{}
		}
		writeJSON(w, http.StatusOK, docs)
	}
}

func handleDeleteReference(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.DeleteReferenceDoc(chi.URLParam(r, "id")); err != nil {
			writeServiceError(w, "reference doc", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleAssetTypes(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Templates.Available())
	}
}
