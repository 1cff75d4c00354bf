// -----------------------------------------------------------------------
// Context - mutable per-video state threaded through the strategy chain
// -----------------------------------------------------------------------

package pipeline

import (
	"os"
	"path/filepath"

	"github.com/subfetch/subfetch/internal/providers"
	"github.com/subfetch/subfetch/internal/subtitles"
)

// Context carries the state one video accumulates as strategies run. Earlier
// strategies fill candidate slots; later strategies consume them. FoundFinalRO
// short-circuits the scanners once the primary-language goal is met.
type Context struct {
	VideoPath string
	Identity  subtitles.MediaIdentity

	PrimaryLang  string
	FallbackLang string

	// Primary-language outcome.
	FoundFinalRO bool
	FinalROPath  string

	// Fallback-language candidate slots, one per source.
	CandidateENStandard string
	CandidateENLocal    string
	CandidateENEmbedded *providers.SubtitleStream
	CandidateENOnline   *providers.SearchResult

	// FinalENPath is the fallback artifact final_select settled on.
	FinalENPath string

	tempDirs []string
}

// NewContext parses the video's identity and seeds the language priority.
func NewContext(videoPath, primaryLang, fallbackLang string) *Context {
	return &Context{
		VideoPath:    videoPath,
		Identity:     subtitles.ParseMediaName(filepath.Base(videoPath)),
		PrimaryLang:  primaryLang,
		FallbackLang: fallbackLang,
	}
}

// PrimaryPath returns the standard subtitle path for the primary language.
func (c *Context) PrimaryPath() string {
	return subtitles.StandardSubtitlePath(c.VideoPath, c.PrimaryLang)
}

// FallbackPath returns the standard subtitle path for the fallback language.
func (c *Context) FallbackPath() string {
	return subtitles.StandardSubtitlePath(c.VideoPath, c.FallbackLang)
}

// TempDir creates a pipeline-owned temp directory, registered for cleanup.
func (c *Context) TempDir() (string, error) {
	dir, err := os.MkdirTemp("", "subfetch-*")
	if err != nil {
		return "", err
	}
	c.tempDirs = append(c.tempDirs, dir)
	return dir, nil
}

// Cleanup removes every registered temp directory. Safe to call more than
// once.
func (c *Context) Cleanup() {
	for _, dir := range c.tempDirs {
		os.RemoveAll(dir)
	}
	c.tempDirs = nil
}

// FinalArtifact returns the path the pipeline ultimately produced, preferring
// the primary language, or "" when nothing was obtained.
func (c *Context) FinalArtifact() string {
	if c.FoundFinalRO {
		return c.FinalROPath
	}
	return c.FinalENPath
}
