package subtitles

import (
	"regexp"
	"strconv"
	"strings"
)

// MediaIdentity is the parsed identity of a video file name.
type MediaIdentity struct {
	Title   string
	Year    int
	Season  int
	Episode int
	ImdbID  string
}

// IsEpisode reports whether the media is series content.
func (m *MediaIdentity) IsEpisode() bool {
	return m.Season > 0 && m.Episode > 0
}

var (
	episodePattern    = regexp.MustCompile(`(?i)\bS(\d{1,2})[. ]?E(\d{1,3})\b`)
	altEpisodePattern = regexp.MustCompile(`(?i)\b(\d{1,2})x(\d{2,3})\b`)
	yearPattern       = regexp.MustCompile(`\b(19\d{2}|20\d{2})\b`)
)

// ParseMediaName extracts identity from a release-style basename such as
// "Show.Name.S02E05.1080p.WEB-DL.x264-GRP" or "Movie.Title.2019.BluRay".
func ParseMediaName(basename string) MediaIdentity {
	var id MediaIdentity

	name := basename
	if m := episodePattern.FindStringSubmatchIndex(name); m != nil {
		id.Season, _ = strconv.Atoi(name[m[2]:m[3]])
		id.Episode, _ = strconv.Atoi(name[m[4]:m[5]])
		id.Title = cleanTitle(name[:m[0]])
		return id
	}
	if m := altEpisodePattern.FindStringSubmatchIndex(name); m != nil {
		id.Season, _ = strconv.Atoi(name[m[2]:m[3]])
		id.Episode, _ = strconv.Atoi(name[m[4]:m[5]])
		id.Title = cleanTitle(name[:m[0]])
		return id
	}

	if m := yearPattern.FindStringIndex(name); m != nil {
		id.Year, _ = strconv.Atoi(name[m[0]:m[1]])
		id.Title = cleanTitle(name[:m[0]])
		return id
	}

	id.Title = cleanTitle(name)
	return id
}

func cleanTitle(s string) string {
	s = strings.NewReplacer(".", " ", "_", " ", "-", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// Tokenize splits a release name into lowercase comparison tokens.
func Tokenize(s string) []string {
	s = strings.ToLower(s)
	s = strings.NewReplacer(".", " ", "_", " ", "-", " ", "[", " ", "]", " ", "(", " ", ")", " ").Replace(s)
	return strings.Fields(s)
}
