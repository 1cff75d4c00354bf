// -----------------------------------------------------------------------
// Scoring - rank subtitle candidates against the media release name
// -----------------------------------------------------------------------

package subtitles

import "strings"

// Candidate is a scoreable subtitle artifact from any source.
type Candidate struct {
	Name              string // candidate file or release name
	Release           string // provider-reported release group, may be empty
	Language          string
	Season            int
	Episode           int
	Trusted           bool
	MachineTranslated bool
	HearingImpaired   bool
	DownloadCount     int
}

// Category weights for release-quality tokens. A matching resolution tag
// says more about sync compatibility than a random word match.
var qualityTokens = map[string]int{
	// resolution class
	"2160p": 5, "1080p": 5, "720p": 5, "480p": 5, "4k": 5,
	// source class
	"bluray": 4, "blu": 4, "bdrip": 4, "brrip": 4, "webrip": 4,
	"web": 4, "webdl": 4, "hdtv": 4, "dvdrip": 4, "hdrip": 4, "remux": 4,
	// codec class
	"x264": 3, "x265": 3, "h264": 3, "h265": 3, "hevc": 3, "avc": 3,
	"xvid": 3, "divx": 3, "av1": 3,
	// audio class
	"aac": 2, "ac3": 2, "dts": 2, "atmos": 2, "truehd": 2, "ddp5": 2,
	// streaming service tags
	"amzn": 3, "nf": 3, "dsnp": 3, "hmax": 3, "atvp": 3, "hulu": 3,
}

const (
	trustedBonus             = 10
	machineTranslatedPenalty = 15
	hearingImpairedPenalty   = 5

	// MinimumScore is the floor an online candidate must reach before the
	// fetcher downloads it.
	MinimumScore = 5
)

// Score ranks a candidate against the media identity and video basename.
// The second return is false when the candidate is ineligible outright: for
// series content an episode mismatch can never be compensated by score.
func Score(identity MediaIdentity, videoBasename string, cand Candidate) (int, bool) {
	if identity.IsEpisode() {
		if cand.Season != identity.Season || cand.Episode != identity.Episode {
			return 0, false
		}
	}

	mediaTokens := Tokenize(videoBasename)
	candTokens := Tokenize(cand.Name + " " + cand.Release)

	candSet := make(map[string]bool, len(candTokens))
	for _, t := range candTokens {
		candSet[t] = true
	}

	score := 0
	for _, t := range mediaTokens {
		if !candSet[t] {
			continue
		}
		if w, ok := qualityTokens[t]; ok {
			score += w
		} else if len(t) > 1 {
			score++
		}
	}

	if cand.Trusted {
		score += trustedBonus
	}
	if cand.MachineTranslated {
		score -= machineTranslatedPenalty
	}
	if cand.HearingImpaired {
		score -= hearingImpairedPenalty
	}
	return score, true
}

// BestCandidate returns the highest-scoring eligible candidate at or above
// the minimum score, or -1 when none qualifies. Ties break on download count.
func BestCandidate(identity MediaIdentity, videoBasename string, cands []Candidate) int {
	best := -1
	bestScore := MinimumScore - 1
	for i, cand := range cands {
		score, ok := Score(identity, videoBasename, cand)
		if !ok {
			continue
		}
		if score > bestScore || (score == bestScore && best >= 0 && cand.DownloadCount > cands[best].DownloadCount) {
			best = i
			bestScore = score
		}
	}
	return best
}

// IsSubtitleFile reports whether the filename has a known subtitle extension.
func IsSubtitleFile(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range []string{".srt", ".sub", ".ssa", ".ass", ".vtt"} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// StandardSubtitlePath returns "<base>.<lang>.srt" next to the video.
func StandardSubtitlePath(videoPath, lang string) string {
	base := videoPath
	if idx := strings.LastIndex(base, "."); idx > strings.LastIndex(base, "/") {
		base = base[:idx]
	}
	return base + "." + lang + ".srt"
}
