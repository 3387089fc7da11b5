package ui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFindSimilar(t *testing.T) {
	types := []string{"person", "computer", "tag"}

	assert.Equal(t, []string{"person"}, FindSimilar("persn", types, nil))
	assert.Equal(t, []string{"tag"}, FindSimilar("TAGS", types, nil))
	assert.Empty(t, FindSimilar("spaceship", types, nil))
	assert.Equal(t, []string{"tag"}, FindSimilar("ta", types, &FuzzyMatchOptions{MaxSuggestions: 1}))
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 3, levenshtein("kitten", "sitting"))
	assert.Equal(t, 0, levenshtein("", ""))
	assert.Equal(t, 4, levenshtein("", "four"))
	assert.Equal(t, 1, levenshtein("café", "cafe"))
}

func TestUnknownTypeError(t *testing.T) {
	msg := UnknownTypeError("persn", []string{"person", "tag"}, true)
	assert.Equal(t, "x UNKNOWN TYPE: persn\n   Did you mean: person?\n\n   -> See all types: jsonapi routes\n", msg)
}

func TestWarningLevel(t *testing.T) {
	msg := FormatError(ErrorOptions{Level: ErrorLevelWarning, Problem: "seeding skipped", NoColor: true})
	assert.Equal(t, "! seeding skipped\n", msg)
}

func TestTable(t *testing.T) {
	var buf bytes.Buffer
	table := NewTable(&buf, true, "METHOD", "PATTERN")
	table.AddRow("GET", "/{type}")
	table.AddRow("DELETE", "/{type}/{id}")
	table.Render()

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	assert.Equal(t, []string{
		"METHOD  PATTERN",
		"------  ------------",
		"GET     /{type}",
		"DELETE  /{type}/{id}",
	}, lines)
}

func TestSection(t *testing.T) {
	var buf bytes.Buffer
	s := NewSection(&buf, "Count query", true)
	s.AddLine("SQL:  %s", "SELECT COUNT(*) FROM tags")
	s.Render()
	assert.Equal(t, "Count query\n  SQL:  SELECT COUNT(*) FROM tags\n\n", buf.String())
}
