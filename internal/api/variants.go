package api

import (
	"fmt"

	"github.com/kalambet/msgforge/internal/gate"
	"github.com/kalambet/msgforge/internal/storage"
)

// VariantView is a stored variant with its gate verdict computed against the
// owning voice profile's current thresholds.
type VariantView struct {
	storage.Variant
	Passes   bool     `json:"passes"`
	Failures []string `json:"failures,omitempty"`
}

// CellBest names the best variant of one (voice profile, asset type) cell.
type CellBest struct {
	VoiceProfileID string `json:"voice_profile_id"`
	AssetType      string `json:"asset_type"`
	VariantID      string `json:"variant_id"`
	Passes         bool   `json:"passes"`
}

type VariantList struct {
	Variants []VariantView `json:"variants"`
	Best     []CellBest    `json:"best"`
}

// buildVariantList evaluates every variant of a job and picks the best one
// per cell. Cells keep the order of their first variant.
func buildVariantList(store *storage.Store, jobID string) (VariantList, error) {
	variants, err := store.ListVariantsByJob(jobID)
	if err != nil {
		return VariantList{}, err
	}

	thresholds := map[string]gate.Thresholds{}
	out := VariantList{Variants: make([]VariantView, 0, len(variants)), Best: []CellBest{}}
	cells := map[string][]gate.Candidate{}
	var order []string

	for _, v := range variants {
		th, ok := thresholds[v.VoiceProfileID]
		if !ok {
			voice, err := store.GetVoiceProfile(v.VoiceProfileID)
			if err != nil {
				return VariantList{}, fmt.Errorf("loading voice profile %s: %w", v.VoiceProfileID, err)
			}
			th = voice.Thresholds
			thresholds[v.VoiceProfileID] = th
		}

		out.Variants = append(out.Variants, VariantView{
			Variant:  v,
			Passes:   gate.Passes(v.Scores, th),
			Failures: gate.Failures(v.Scores, th),
		})

		key := v.VoiceProfileID + "\x00" + v.AssetType
		if _, seen := cells[key]; !seen {
			order = append(order, key)
		}
		cells[key] = append(cells[key], gate.Candidate{ID: v.ID, Scores: v.Scores, Thresholds: th})
	}

	byID := make(map[string]storage.Variant, len(variants))
	for _, v := range variants {
		byID[v.ID] = v
	}
	for _, key := range order {
		cands := cells[key]
		best := cands[gate.Best(cands)]
		v := byID[best.ID]
		out.Best = append(out.Best, CellBest{
			VoiceProfileID: v.VoiceProfileID,
			AssetType:      v.AssetType,
			VariantID:      v.ID,
			Passes:         gate.Passes(best.Scores, best.Thresholds),
		})
	}
	return out, nil
}
