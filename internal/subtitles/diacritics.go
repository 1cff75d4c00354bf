package subtitles

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Legacy cedilla forms to the comma-below letters Romanian actually uses.
// Subtitles encoded on old Windows systems carry the cedilla variants.
var cedillaReplacer = strings.NewReplacer(
	"ş", "ș", // ş -> ș
	"Ş", "Ș", // Ş -> Ș
	"ţ", "ț", // ţ -> ț
	"Ţ", "Ț", // Ţ -> Ț
)

// FixDiacritics normalizes Romanian text: NFC composition plus the
// cedilla-to-comma-below letter repair. Idempotent on already-fixed input.
func FixDiacritics(s string) string {
	return cedillaReplacer.Replace(norm.NFC.String(s))
}

// FixSegmentDiacritics applies FixDiacritics to every text line, leaving
// indices and timestamps untouched.
func FixSegmentDiacritics(segments []Segment) []Segment {
	out := make([]Segment, len(segments))
	for i, seg := range segments {
		out[i] = seg
		out[i].Lines = make([]string, len(seg.Lines))
		for j, line := range seg.Lines {
			out[i].Lines[j] = FixDiacritics(line)
		}
	}
	return out
}

// HasRomanianDiacritics reports whether the text contains any Romanian
// special letters, in either encoding convention.
func HasRomanianDiacritics(s string) bool {
	return strings.ContainsAny(s, "ăâîșțĂÂÎȘȚşŞţŢ")
}
