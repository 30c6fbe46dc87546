// Package gate decides whether a scored variant may be released. Everything
// here is pure: no I/O, no clocks, no randomness.
package gate

import "sort"

// Dimension names, also used as scorer names in health records.
const (
	DimSlop         = "slop"
	DimVendorSpeak  = "vendor_speak"
	DimAuthenticity = "authenticity"
	DimSpecificity  = "specificity"
	DimPersona      = "persona"
)

// Scores holds the five quality dimensions on a 0–10 scale. Slop and
// VendorSpeak are "lower is better"; the other three are "higher is better".
type Scores struct {
	Slop         float64 `json:"slop"`
	VendorSpeak  float64 `json:"vendor_speak"`
	Authenticity float64 `json:"authenticity"`
	Specificity  float64 `json:"specificity"`
	PersonaAvg   float64 `json:"persona_avg"`
}

// Thresholds are owned by a voice profile.
type Thresholds struct {
	SlopMax         float64 `json:"slop_max"`
	VendorSpeakMax  float64 `json:"vendor_speak_max"`
	AuthenticityMin float64 `json:"authenticity_min"`
	SpecificityMin  float64 `json:"specificity_min"`
	PersonaMin      float64 `json:"persona_min"`
}

// DefaultThresholds returns the thresholds applied to profiles that never
// configured their own.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SlopMax:         5,
		VendorSpeakMax:  5,
		AuthenticityMin: 6,
		SpecificityMin:  6,
		PersonaMin:      6,
	}
}

// Passes reports whether every dimension is on the right side of its bound.
// Bounds are inclusive.
func Passes(s Scores, t Thresholds) bool {
	return s.Slop <= t.SlopMax &&
		s.VendorSpeak <= t.VendorSpeakMax &&
		s.Authenticity >= t.AuthenticityMin &&
		s.Specificity >= t.SpecificityMin &&
		s.PersonaAvg >= t.PersonaMin
}

// Failures lists the dimensions that fail their bound, in a fixed order.
// Empty iff Passes returns true.
func Failures(s Scores, t Thresholds) []string {
	var out []string
	if s.Slop > t.SlopMax {
		out = append(out, DimSlop)
	}
	if s.VendorSpeak > t.VendorSpeakMax {
		out = append(out, DimVendorSpeak)
	}
	if s.Authenticity < t.AuthenticityMin {
		out = append(out, DimAuthenticity)
	}
	if s.Specificity < t.SpecificityMin {
		out = append(out, DimSpecificity)
	}
	if s.PersonaAvg < t.PersonaMin {
		out = append(out, DimPersona)
	}
	return out
}

// Rank collapses the five scores into one comparable number. The two
// "lower is better" dimensions are inverted so all five contribute positively.
func Rank(s Scores) float64 {
	return (10 - s.Slop) + (10 - s.VendorSpeak) + s.Authenticity + s.Specificity + s.PersonaAvg
}

// Candidate is anything that can be ranked against a threshold set.
type Candidate struct {
	ID         string
	Scores     Scores
	Thresholds Thresholds
}

// Best returns the index of the highest-ranked passing candidate. When no
// candidate passes it returns the highest-ranked overall. Ties keep the
// earlier candidate. Returns -1 for an empty slice.
func Best(cands []Candidate) int {
	if len(cands) == 0 {
		return -1
	}
	idx := make([]int, len(cands))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ca, cb := cands[idx[a]], cands[idx[b]]
		pa, pb := Passes(ca.Scores, ca.Thresholds), Passes(cb.Scores, cb.Thresholds)
		if pa != pb {
			return pa
		}
		return Rank(ca.Scores) > Rank(cb.Scores)
	})
	return idx[0]
}
