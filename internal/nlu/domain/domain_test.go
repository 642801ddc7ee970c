package domain

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "tourism-assistant/internal/common/errors"
)

const sampleDomain = `
version: "1"
intents:
  - name: greeting
    examples:
      en: ["hello", "hi"]
  - name: hotel_query
    knowledge_domain: hotels
    required_entities: [location]
    expected_entities: [date]
    examples:
      en: ["hotels in cairo"]
      ar: ["فنادق في القاهرة"]
entities:
  - type: location
    values:
      - canonical: Cairo
        aliases: ["القاهرة"]
  - type: date
    patterns:
      - regex: '\b\d{4}-\d{2}-\d{2}\b'
        normalizer: date
coreference:
  - phrase: it
    types: [location]
`

func TestParse_Valid(t *testing.T) {
	d, err := Parse([]byte(sampleDomain))
	require.NoError(t, err)

	assert.Equal(t, "1", d.Version)
	in, ok := d.Intent("hotel_query")
	require.True(t, ok)
	assert.Equal(t, "hotels", in.TopicName())
	assert.Equal(t, []string{"location", "date"}, in.Expected())
	assert.Equal(t, []string{"ar", "en"}, d.Languages())

	loc, ok := d.EntityType("location")
	require.True(t, ok)
	assert.True(t, loc.FuzzyEnabled())
	date, _ := d.EntityType("date")
	assert.False(t, date.FuzzyEnabled())

	stats := d.Stats()
	assert.Equal(t, 2, stats.Intents)
	assert.Equal(t, 3, stats.Examples["en"])
	assert.Equal(t, 1, stats.Aliases)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not yaml", body: "intents: [unterminated"},
		{name: "missing version", body: "intents:\n  - name: a\n    examples:\n      en: [x]\n"},
		{name: "reserved fallback intent", body: "version: \"1\"\nintents:\n  - name: fallback\n    examples:\n      en: [x]\n"},
		{name: "duplicate intent", body: "version: \"1\"\nintents:\n  - name: a\n    examples:\n      en: [x]\n  - name: a\n    examples:\n      en: [y]\n"},
		{name: "unknown required entity", body: "version: \"1\"\nintents:\n  - name: a\n    required_entities: [location]\n    examples:\n      en: [x]\n"},
		{name: "bad regex", body: "version: \"1\"\nintents:\n  - name: a\n    examples:\n      en: [x]\nentities:\n  - type: d\n    patterns:\n      - regex: '('\n"},
		{name: "missing group", body: "version: \"1\"\nintents:\n  - name: a\n    examples:\n      en: [x]\nentities:\n  - type: d\n    patterns:\n      - regex: 'a'\n        group: 2\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.body))
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDomainInvalid), err.Error())
		})
	}
}

func TestWithCorrections(t *testing.T) {
	d, err := Parse([]byte(sampleDomain))
	require.NoError(t, err)

	updated, report := d.WithCorrections([]Correction{
		{Text: "any hotels in cairo?", Language: "en", Intent: "hotel_query"},
		{Text: "HOTELS IN CAIRO", Language: "en", Intent: "hotel_query"},
		{Text: "nile view", Language: "en", Intent: "unknown_intent"},
		{Entities: []CorrectedEntity{
			{Type: "location", Value: "Cairo", Text: "kairo"},
			{Type: "location", Value: "Luxor", Text: "luxor"},
			{Type: "location", Value: "Aswan", Text: "assuan"},
			{Type: "currency", Value: "EGP"},
		}},
	})

	assert.Equal(t, 1, report.Examples)
	assert.Equal(t, 2, report.Values)
	assert.Equal(t, 2, report.Aliases)
	assert.Len(t, report.Skipped, 2)
	assert.Equal(t, "1+f1", updated.Version)

	in, _ := updated.Intent("hotel_query")
	assert.Contains(t, in.Examples["en"], "any hotels in cairo?")
	loc, _ := updated.EntityType("location")
	assert.Len(t, loc.Values, 3)
	assert.Contains(t, loc.Values[0].Aliases, "kairo")
	assert.Empty(t, loc.Values[1].Aliases)
	assert.Equal(t, []string{"assuan"}, loc.Values[2].Aliases)

	original, _ := d.Intent("hotel_query")
	assert.Len(t, original.Examples["en"], 1, "receiver must not change")
	require.NoError(t, updated.Check())

	again, _ := updated.WithCorrections([]Correction{{Text: "where to stay", Language: "en", Intent: "hotel_query"}})
	assert.Equal(t, "1+f2", again.Version)
}

func TestMarshalRoundTrip(t *testing.T) {
	d, err := Parse([]byte(sampleDomain))
	require.NoError(t, err)

	data, err := d.Marshal()
	require.NoError(t, err)
	back, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, d.Stats(), back.Stats())
}

func TestLoad_ShippedDomainFile(t *testing.T) {
	_, file, _, _ := runtime.Caller(0)
	path := filepath.Join(filepath.Dir(file), "..", "..", "..", "configs", "domain.yaml")
	if _, err := os.Stat(path); err != nil {
		t.Skip("configs/domain.yaml not found")
	}

	d, err := Load(path)
	require.NoError(t, err)

	booking, ok := d.Intent("hotel_booking")
	require.True(t, ok)
	assert.Equal(t, []string{"location", "date"}, booking.RequiredEntities)
	assert.Contains(t, d.Languages(), "ar")
}
