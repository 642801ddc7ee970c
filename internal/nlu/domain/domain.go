// Package domain holds the versioned NLU domain model: intents with their examples and
// required entities, entity lexicons and patterns, and coreference phrases.
package domain

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	apperrors "tourism-assistant/internal/common/errors"
	"tourism-assistant/internal/common/validation"
	"tourism-assistant/internal/models"
)

type Domain struct {
	Version     string       `yaml:"version" json:"version"`
	Intents     []Intent     `yaml:"intents" json:"intents"`
	Entities    []EntityType `yaml:"entities,omitempty" json:"entities,omitempty"`
	Coreference []CorefRule  `yaml:"coreference,omitempty" json:"coreference,omitempty"`
}

type Intent struct {
	Name string `yaml:"name" json:"name"`
	// Topic groups intents for the context bonus; defaults to the knowledge domain, then the name.
	Topic            string              `yaml:"topic,omitempty" json:"topic,omitempty"`
	KnowledgeDomain  string              `yaml:"knowledge_domain,omitempty" json:"knowledge_domain,omitempty"`
	RequiredEntities []string            `yaml:"required_entities,omitempty" json:"required_entities,omitempty"`
	ExpectedEntities []string            `yaml:"expected_entities,omitempty" json:"expected_entities,omitempty"`
	Examples         map[string][]string `yaml:"examples" json:"examples"`
}

// TopicName resolves the topic used for context continuity.
func (i Intent) TopicName() string {
	switch {
	case i.Topic != "":
		return i.Topic
	case i.KnowledgeDomain != "":
		return i.KnowledgeDomain
	default:
		return i.Name
	}
}

// Expected lists entity types the intent narrows extraction to.
func (i Intent) Expected() []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range append(append([]string(nil), i.RequiredEntities...), i.ExpectedEntities...) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

type EntityType struct {
	Type string `yaml:"type" json:"type"`
	// Fuzzy enables approximate matching of Values; nil means enabled when Values exist.
	Fuzzy    *bool     `yaml:"fuzzy,omitempty" json:"fuzzy,omitempty"`
	Patterns []Pattern `yaml:"patterns,omitempty" json:"patterns,omitempty"`
	Values   []Value   `yaml:"values,omitempty" json:"values,omitempty"`
}

// FuzzyEnabled reports whether the fuzzy strategy applies to this type.
func (e EntityType) FuzzyEnabled() bool {
	if e.Fuzzy != nil {
		return *e.Fuzzy
	}
	return len(e.Values) > 0
}

type Pattern struct {
	Regex      string `yaml:"regex" json:"regex"`
	Normalizer string `yaml:"normalizer,omitempty" json:"normalizer,omitempty"`
	// Group selects a capture group for the value; 0 is the whole match.
	Group int `yaml:"group,omitempty" json:"group,omitempty"`
}

type Value struct {
	Canonical string   `yaml:"canonical" json:"canonical"`
	Aliases   []string `yaml:"aliases,omitempty" json:"aliases,omitempty"`
}

// Surfaces returns the canonical form followed by its aliases.
func (v Value) Surfaces() []string {
	return append([]string{v.Canonical}, v.Aliases...)
}

type CorefRule struct {
	Phrase string   `yaml:"phrase" json:"phrase"`
	Types  []string `yaml:"types" json:"types"`
}

// Load reads and validates a domain file.
func Load(path string) (*Domain, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read domain file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse validates raw YAML against the domain schema, then checks cross references.
func Parse(data []byte) (*Domain, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, apperrors.NewDomainInvalidError(fmt.Sprintf("yaml: %v", err))
	}
	result, err := validation.Validate(validation.SchemaDomain, raw)
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		return nil, apperrors.NewDomainInvalidError(result.Summary())
	}

	var d Domain
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, apperrors.NewDomainInvalidError(fmt.Sprintf("yaml: %v", err))
	}
	if err := d.Check(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Check verifies references the schema cannot express.
func (d *Domain) Check() error {
	var problems []string
	intents := make(map[string]bool)
	for _, in := range d.Intents {
		if in.Name == models.FallbackIntent {
			problems = append(problems, fmt.Sprintf("intent name %q is reserved", in.Name))
		}
		if intents[in.Name] {
			problems = append(problems, fmt.Sprintf("duplicate intent %q", in.Name))
		}
		intents[in.Name] = true
	}

	types := make(map[string]bool)
	for _, et := range d.Entities {
		if types[et.Type] {
			problems = append(problems, fmt.Sprintf("duplicate entity type %q", et.Type))
		}
		types[et.Type] = true
		for _, p := range et.Patterns {
			re, err := regexp.Compile(p.Regex)
			if err != nil {
				problems = append(problems, fmt.Sprintf("entity %q: bad regex %q: %v", et.Type, p.Regex, err))
				continue
			}
			if p.Group > re.NumSubexp() {
				problems = append(problems, fmt.Sprintf("entity %q: regex %q has no group %d", et.Type, p.Regex, p.Group))
			}
		}
	}

	for _, in := range d.Intents {
		for _, t := range in.Expected() {
			if !types[t] {
				problems = append(problems, fmt.Sprintf("intent %q references unknown entity type %q", in.Name, t))
			}
		}
	}
	for _, rule := range d.Coreference {
		for _, t := range rule.Types {
			if !types[t] {
				problems = append(problems, fmt.Sprintf("coreference %q references unknown entity type %q", rule.Phrase, t))
			}
		}
	}

	if len(problems) > 0 {
		return apperrors.NewDomainInvalidError(strings.Join(problems, "; "))
	}
	return nil
}

func (d *Domain) Intent(name string) (Intent, bool) {
	for _, in := range d.Intents {
		if in.Name == name {
			return in, true
		}
	}
	return Intent{}, false
}

func (d *Domain) EntityType(name string) (EntityType, bool) {
	for _, et := range d.Entities {
		if et.Type == name {
			return et, true
		}
	}
	return EntityType{}, false
}

// Languages returns every language that has at least one example, sorted.
func (d *Domain) Languages() []string {
	seen := make(map[string]bool)
	for _, in := range d.Intents {
		for lang := range in.Examples {
			seen[lang] = true
		}
	}
	out := make([]string, 0, len(seen))
	for lang := range seen {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy.
func (d *Domain) Clone() *Domain {
	c := &Domain{Version: d.Version}
	c.Intents = make([]Intent, len(d.Intents))
	for i, in := range d.Intents {
		in.RequiredEntities = append([]string(nil), in.RequiredEntities...)
		in.ExpectedEntities = append([]string(nil), in.ExpectedEntities...)
		examples := make(map[string][]string, len(in.Examples))
		for lang, ex := range in.Examples {
			examples[lang] = append([]string(nil), ex...)
		}
		in.Examples = examples
		c.Intents[i] = in
	}
	c.Entities = make([]EntityType, len(d.Entities))
	for i, et := range d.Entities {
		et.Patterns = append([]Pattern(nil), et.Patterns...)
		values := make([]Value, len(et.Values))
		for j, v := range et.Values {
			v.Aliases = append([]string(nil), v.Aliases...)
			values[j] = v
		}
		et.Values = values
		if et.Fuzzy != nil {
			f := *et.Fuzzy
			et.Fuzzy = &f
		}
		c.Entities[i] = et
	}
	c.Coreference = make([]CorefRule, len(d.Coreference))
	for i, r := range d.Coreference {
		r.Types = append([]string(nil), r.Types...)
		c.Coreference[i] = r
	}
	return c
}

// Marshal encodes the domain back to YAML.
func (d *Domain) Marshal() ([]byte, error) {
	return yaml.Marshal(d)
}

type Stats struct {
	Version     string         `json:"version"`
	Intents     int            `json:"intents"`
	Examples    map[string]int `json:"examples"`
	EntityTypes int            `json:"entityTypes"`
	Values      int            `json:"values"`
	Aliases     int            `json:"aliases"`
	Patterns    int            `json:"patterns"`
	Coreference int            `json:"coreference"`
}

func (d *Domain) Stats() Stats {
	s := Stats{
		Version:     d.Version,
		Intents:     len(d.Intents),
		Examples:    make(map[string]int),
		EntityTypes: len(d.Entities),
		Coreference: len(d.Coreference),
	}
	for _, in := range d.Intents {
		for lang, ex := range in.Examples {
			s.Examples[lang] += len(ex)
		}
	}
	for _, et := range d.Entities {
		s.Patterns += len(et.Patterns)
		s.Values += len(et.Values)
		for _, v := range et.Values {
			s.Aliases += len(v.Aliases)
		}
	}
	return s
}
