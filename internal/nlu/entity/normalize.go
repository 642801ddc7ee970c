package entity

import (
	"strconv"
	"strings"
	"time"
	"unicode"
)

type token struct {
	text  string
	lower string
	start int
	end   int
}

// tokenize splits text into word tokens with byte offsets. Letters, marks and digits form
// words; an apostrophe or hyphen inside a word is kept.
func tokenize(text string) []token {
	var out []token
	start := -1
	runes := []rune(text)
	offsets := make([]int, len(runes)+1)
	pos := 0
	for i, r := range runes {
		offsets[i] = pos
		pos += len(string(r))
	}
	offsets[len(runes)] = pos

	isWord := func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsMark(r) || unicode.IsDigit(r)
	}
	for i, r := range runes {
		joiner := (r == '\'' || r == '-' || r == '’') && start >= 0 && i+1 < len(runes) && isWord(runes[i+1])
		switch {
		case isWord(r) || joiner:
			if start < 0 {
				start = i
			}
		case start >= 0:
			out = append(out, newToken(text, offsets[start], offsets[i]))
			start = -1
		}
	}
	if start >= 0 {
		out = append(out, newToken(text, offsets[start], offsets[len(runes)]))
	}
	return out
}

func newToken(text string, start, end int) token {
	t := text[start:end]
	return token{text: t, lower: strings.ToLower(t), start: start, end: end}
}

func lowerTokens(s string) []string {
	toks := tokenize(s)
	out := make([]string, len(toks))
	for i, t := range toks {
		out[i] = t.lower
	}
	return out
}

func joinLower(toks []token) string {
	parts := make([]string, len(toks))
	for i, t := range toks {
		parts[i] = t.lower
	}
	return strings.Join(parts, " ")
}

// normalizeValue maps a matched surface form to its canonical value; "" rejects the match.
func normalizeValue(normalizer, surface string, now time.Time) string {
	switch normalizer {
	case "date":
		return normalizeDate(surface, now)
	case "number":
		n, err := strconv.Atoi(strings.TrimSpace(surface))
		if err != nil {
			return ""
		}
		return strconv.Itoa(n)
	case "lower":
		return strings.ToLower(surface)
	default:
		return surface
	}
}

var relativeDays = map[string]int{
	"today":              0,
	"tonight":            0,
	"tomorrow":           1,
	"day after tomorrow": 2,
	"aujourd'hui":        0,
	"demain":             1,
	"heute":              0,
	"اليوم":              0,
	"غدا":                1,
	"غداً":               1,
	"بعد غد":             2,
}

var monthPrefixes = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "oct": time.October, "nov": time.November, "dec": time.December,
}

// normalizeDate returns an ISO date (2006-01-02) relative to now, or "".
func normalizeDate(surface string, now time.Time) string {
	s := strings.ToLower(strings.Join(strings.Fields(surface), " "))
	if days, ok := relativeDays[s]; ok {
		return now.AddDate(0, 0, days).Format("2006-01-02")
	}
	if t, err := time.ParseInLocation("2006-01-02", s, now.Location()); err == nil {
		return t.Format("2006-01-02")
	}
	if t, err := time.ParseInLocation("2/1/2006", s, now.Location()); err == nil {
		return t.Format("2006-01-02")
	}

	fields := strings.Fields(s)
	if len(fields) == 2 && len(fields[1]) >= 3 {
		day, err := strconv.Atoi(fields[0])
		month, ok := monthPrefixes[fields[1][:3]]
		if err != nil || !ok || day < 1 || day > 31 {
			return ""
		}
		t := time.Date(now.Year(), month, day, 0, 0, 0, 0, now.Location())
		if t.Day() != day {
			return ""
		}
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		if t.Before(today) {
			t = t.AddDate(1, 0, 0)
		}
		return t.Format("2006-01-02")
	}
	return ""
}
