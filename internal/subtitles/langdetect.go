package subtitles

import (
	"strings"
)

// Stopword lists for content-based language detection. Short and common on
// purpose: a few hundred subtitle lines contain plenty of them.
var (
	romanianWords = []string{
		"și", "să", "nu", "este", "sunt", "pentru", "dar", "care",
		"acest", "asta", "ceva", "dacă", "când", "unde", "cine",
		"mai", "foarte", "după", "până", "fără", "între", "doar",
	}
	englishWords = []string{
		"the", "and", "you", "that", "have", "for", "not", "with",
		"this", "but", "his", "her", "they", "what", "there", "when",
		"your", "can", "will", "would", "about", "just",
	}
)

// DetectLanguage guesses the language of subtitle text content. Returns a
// two-letter code or "" when the evidence is too thin.
func DetectLanguage(content string) string {
	words := strings.Fields(strings.ToLower(content))
	if len(words) < 20 {
		return ""
	}

	seen := make(map[string]int, len(words))
	for _, w := range words {
		seen[strings.Trim(w, ".,!?-\"'")]++
	}

	roScore := 0
	for _, w := range romanianWords {
		roScore += seen[w]
	}
	enScore := 0
	for _, w := range englishWords {
		enScore += seen[w]
	}

	// Diacritics are decisive: English subtitles never carry them.
	if HasRomanianDiacritics(content) && roScore > 0 {
		roScore *= 2
	}

	threshold := len(words) / 100
	if roScore <= threshold && enScore <= threshold {
		return ""
	}
	if roScore > enScore {
		return "ro"
	}
	return "en"
}
