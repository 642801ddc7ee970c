// Package language picks the language of an utterance from a small supported set.
package language

import (
	"sort"
	"strings"
	"unicode"

	xlang "golang.org/x/text/language"
)

type Config struct {
	Supported []string
	Fallback  string
	// MinChars is the number of letters below which the fallback is returned.
	MinChars int
	// MinScore is the minimum stop-word hit ratio for a Latin-script guess.
	MinScore float64
}

// Detector never fails: every call returns a supported code.
type Detector struct {
	cfg       Config
	supported map[string]bool
}

// profiles are high-frequency function words and greetings per Latin-script language.
var profiles = map[string][]string{
	"en": {"the", "a", "an", "is", "are", "in", "on", "of", "to", "and", "what", "where", "when", "how",
		"me", "my", "i", "it", "near", "hotel", "hotels", "hello", "hi", "hey", "thanks", "bye", "please",
		"can", "you", "for", "there", "book", "find", "show", "want", "need", "tomorrow", "today"},
	"fr": {"le", "la", "les", "un", "une", "des", "est", "et", "dans", "du", "de", "pour", "je", "vous",
		"où", "quel", "quelle", "bonjour", "salut", "merci", "au", "revoir", "près", "avec", "demain"},
	"de": {"der", "die", "das", "und", "ist", "ein", "eine", "in", "im", "mit", "ich", "sie", "wo", "wie",
		"hallo", "danke", "tschüss", "nach", "für", "bitte", "morgen", "heute", "nicht"},
	"es": {"el", "la", "los", "las", "un", "una", "es", "y", "en", "de", "para", "yo", "dónde", "hola",
		"gracias", "adiós", "cerca", "mañana", "hoy", "con"},
}

func New(cfg Config) *Detector {
	if cfg.Fallback == "" {
		cfg.Fallback = "en"
	}
	supported := make(map[string]bool, len(cfg.Supported)+1)
	for _, code := range cfg.Supported {
		supported[strings.ToLower(code)] = true
	}
	supported[cfg.Fallback] = true
	return &Detector{cfg: cfg, supported: supported}
}

func (d *Detector) Fallback() string { return d.cfg.Fallback }

func (d *Detector) Supports(code string) bool { return d.supported[code] }

// Resolve prefers a supported caller hint (canonicalized, so "en-GB" or "ar-EG" work) and detects otherwise.
func (d *Detector) Resolve(hint, text string) string {
	if hint != "" {
		if tag, err := xlang.Parse(hint); err == nil {
			if base, conf := tag.Base(); conf != xlang.No && d.supported[base.String()] {
				return base.String()
			}
		}
	}
	return d.Detect(text)
}

func (d *Detector) Detect(text string) string {
	var letters, arabic, latin int
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		switch {
		case unicode.Is(unicode.Arabic, r):
			arabic++
		case unicode.Is(unicode.Latin, r):
			latin++
		}
	}
	if letters < d.cfg.MinChars {
		return d.cfg.Fallback
	}

	if arabic*2 > letters {
		if d.supported["ar"] {
			return "ar"
		}
		return d.cfg.Fallback
	}
	if latin*2 <= letters {
		return d.cfg.Fallback
	}

	return d.detectLatin(text)
}

func (d *Detector) detectLatin(text string) string {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
	if len(tokens) == 0 {
		return d.cfg.Fallback
	}

	codes := make([]string, 0, len(profiles))
	for code := range profiles {
		if d.supported[code] {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)

	best, bestScore := d.cfg.Fallback, 0.0
	for _, code := range codes {
		score := d.score(code, tokens, text)
		switch {
		case score > bestScore:
			best, bestScore = code, score
		case score == bestScore && score > 0 && code == d.cfg.Fallback:
			best = code
		}
	}
	if bestScore < d.cfg.MinScore {
		return d.cfg.Fallback
	}
	return best
}

func (d *Detector) score(code string, tokens []string, text string) float64 {
	words := profiles[code]
	hits := 0
	for _, tok := range tokens {
		for _, w := range words {
			if tok == w {
				hits++
				break
			}
		}
	}
	score := float64(hits) / float64(len(tokens))

	switch code {
	case "de":
		if strings.ContainsAny(text, "äöüßÄÖÜ") {
			score += 0.1
		}
	case "fr":
		if strings.ContainsAny(text, "éèêàçœ") {
			score += 0.1
		}
	case "es":
		if strings.ContainsAny(text, "ñ¿¡") {
			score += 0.1
		}
	}
	return score
}
