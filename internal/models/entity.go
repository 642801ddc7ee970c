// internal/models/entity.go
package models

// EntitySource names the strategy that produced an entity.
type EntitySource string

const (
	SourcePattern     EntitySource = "pattern"
	SourceFuzzy       EntitySource = "fuzzy"
	SourceSemantic    EntitySource = "semantic"
	SourceCoreference EntitySource = "coreference"
)

// Precedence orders sources for equal-confidence conflicts; lower wins.
func (s EntitySource) Precedence() int {
	switch s {
	case SourcePattern:
		return 0
	case SourceFuzzy:
		return 1
	case SourceSemantic:
		return 2
	default:
		return 3
	}
}

// Span is a half-open [Start, End) byte range in the utterance text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Overlaps reports whether two spans share at least one byte.
func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// Len returns the span width in bytes.
func (s Span) Len() int {
	return s.End - s.Start
}

// Entity is a structured value extracted from one utterance.
type Entity struct {
	Type       string       `json:"type"`
	Value      string       `json:"value"`
	Text       string       `json:"text"`
	Confidence float64      `json:"confidence"`
	Source     EntitySource `json:"source"`
	Span       Span         `json:"span"`
	// ResolvedFrom is the turn id of the antecedent for coreference entities.
	ResolvedFrom string `json:"resolvedFrom,omitempty"`
}
