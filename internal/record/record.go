// Package record defines the schedule event record and its canonical
// text form. The canonical text is the single source for both the
// embedding input and the content hash, so append and rebuild always
// agree on what a record "is".
package record

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// Record is one parsed schedule event. All fields are optional free
// text; Valid reports whether enough of them are present to ingest.
type Record struct {
	Date         string `json:"date,omitempty"`
	Dow          string `json:"dow,omitempty"`
	Start        string `json:"start,omitempty"`
	End          string `json:"end,omitempty"`
	Location     string `json:"location,omitempty"`
	Participants string `json:"participants,omitempty"`
	Title        string `json:"title,omitempty"`
	Raw          string `json:"raw,omitempty"`
}

// Valid reports whether the record carries at least one of the fields
// that make it addressable: a date, a start time, or a title.
func (r Record) Valid() bool {
	return r.Date != "" || r.Start != "" || r.Title != ""
}

// CanonicalText renders the record as "field: value" lines in a fixed
// field order, skipping empty fields, with the raw line last. Two
// records with the same populated fields always produce identical text.
func (r Record) CanonicalText() string {
	pairs := [...]struct{ key, val string }{
		{"date", r.Date},
		{"dow", r.Dow},
		{"start", r.Start},
		{"end", r.End},
		{"location", r.Location},
		{"participants", r.Participants},
		{"title", r.Title},
	}
	lines := make([]string, 0, len(pairs)+1)
	for _, p := range pairs {
		if p.val != "" {
			lines = append(lines, p.key+": "+p.val)
		}
	}
	if r.Raw != "" {
		lines = append(lines, "raw: "+r.Raw)
	}
	return strings.Join(lines, "\n")
}

// ContentHash returns the SHA-1 hex digest of the canonical text.
// It is the dedupe identity of the record inside a store.
func (r Record) ContentHash() string {
	return HashText(r.CanonicalText())
}

// HashText hashes an already-canonicalized text.
func HashText(text string) string {
	sum := sha1.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}
