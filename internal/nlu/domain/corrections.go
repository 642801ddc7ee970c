package domain

import (
	"fmt"
	"strings"
)

// Correction is a human-confirmed reading of a past utterance.
type Correction struct {
	Text     string
	Language string
	Intent   string
	Entities []CorrectedEntity
}

type CorrectedEntity struct {
	Type  string
	Value string
	// Text is the surface form in the utterance; it becomes an alias when it differs from Value.
	Text string
}

// MergeReport counts what WithCorrections changed.
type MergeReport struct {
	Examples int      `json:"examples"`
	Values   int      `json:"values"`
	Aliases  int      `json:"aliases"`
	Skipped  []string `json:"skipped,omitempty"`
}

// Changed reports whether any correction altered the domain.
func (r MergeReport) Changed() bool {
	return r.Examples+r.Values+r.Aliases > 0
}

// WithCorrections returns a copy of d extended with the corrections. The receiver is not modified.
// Corrections naming unknown intents or entity types are skipped and reported.
func (d *Domain) WithCorrections(corrections []Correction) (*Domain, MergeReport) {
	out := d.Clone()
	var report MergeReport

	for _, c := range corrections {
		text := strings.TrimSpace(c.Text)
		if c.Intent != "" {
			idx := out.intentIndex(c.Intent)
			switch {
			case idx < 0:
				report.Skipped = append(report.Skipped, fmt.Sprintf("unknown intent %q", c.Intent))
			case text == "" || c.Language == "":
				report.Skipped = append(report.Skipped, fmt.Sprintf("intent %q: empty text or language", c.Intent))
			case !containsFold(out.Intents[idx].Examples[c.Language], text):
				if out.Intents[idx].Examples == nil {
					out.Intents[idx].Examples = make(map[string][]string)
				}
				out.Intents[idx].Examples[c.Language] = append(out.Intents[idx].Examples[c.Language], text)
				report.Examples++
			}
		}

		for _, ce := range c.Entities {
			idx := out.entityIndex(ce.Type)
			if idx < 0 {
				report.Skipped = append(report.Skipped, fmt.Sprintf("unknown entity type %q", ce.Type))
				continue
			}
			addedValue, addedAlias := out.Entities[idx].addValue(ce.Value, ce.Text)
			if addedValue {
				report.Values++
			}
			if addedAlias {
				report.Aliases++
			}
		}
	}

	if report.Changed() {
		out.Version = bumpVersion(d.Version)
	}
	return out, report
}

func (e *EntityType) addValue(canonical, surface string) (addedValue, addedAlias bool) {
	canonical = strings.TrimSpace(canonical)
	surface = strings.TrimSpace(surface)
	if canonical == "" {
		return false, false
	}
	for i, v := range e.Values {
		if !strings.EqualFold(v.Canonical, canonical) {
			continue
		}
		if surface != "" && !containsFold(v.Surfaces(), surface) {
			e.Values[i].Aliases = append(e.Values[i].Aliases, surface)
			return false, true
		}
		return false, false
	}
	v := Value{Canonical: canonical}
	if surface != "" && !strings.EqualFold(surface, canonical) {
		v.Aliases = []string{surface}
		addedAlias = true
	}
	e.Values = append(e.Values, v)
	return true, addedAlias
}

func (d *Domain) intentIndex(name string) int {
	for i, in := range d.Intents {
		if in.Name == name {
			return i
		}
	}
	return -1
}

func (d *Domain) entityIndex(name string) int {
	for i, et := range d.Entities {
		if et.Type == name {
			return i
		}
	}
	return -1
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}

// bumpVersion appends or increments a "+fN" feedback suffix.
func bumpVersion(v string) string {
	base, n := v, 0
	if i := strings.LastIndex(v, "+f"); i >= 0 {
		if _, err := fmt.Sscanf(v[i+2:], "%d", &n); err == nil {
			base = v[:i]
		} else {
			n = 0
		}
	}
	return fmt.Sprintf("%s+f%d", base, n+1)
}
