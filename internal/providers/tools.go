// -----------------------------------------------------------------------
// Tools - external binary lookup with availability caching
// -----------------------------------------------------------------------

package providers

import (
	"os/exec"
	"sync"

	"github.com/phuslu/log"
)

// Tools resolves and caches the external binaries the pipeline shells out
// to. Lookup happens once per binary per process; a missing tool disables
// the strategies that need it instead of failing each video.
type Tools struct {
	overrides map[string]string
	logger    *log.Logger

	mu    sync.Mutex
	found map[string]string // name -> resolved path, "" when missing
}

// Tool names used by the pipeline.
const (
	ToolFFprobe   = "ffprobe"
	ToolFFmpeg    = "ffmpeg"
	ToolFFsubsync = "ffsubsync"
	ToolAlass     = "alass"
	ToolOCR       = "tesseract"
)

// NewTools creates the tool resolver. overrides maps tool name to an
// explicit binary path from configuration.
func NewTools(overrides map[string]string, logger *log.Logger) *Tools {
	return &Tools{
		overrides: overrides,
		logger:    logger,
		found:     make(map[string]string),
	}
}

// Path returns the resolved binary path, or "" when the tool is missing.
func (t *Tools) Path(name string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if path, ok := t.found[name]; ok {
		return path
	}

	path := t.overrides[name]
	if path == "" {
		resolved, err := exec.LookPath(name)
		if err != nil {
			t.logger.Debug().Str("tool", name).Msg("tool not found on PATH")
			t.found[name] = ""
			return ""
		}
		path = resolved
	}

	t.logger.Debug().Str("tool", name).Str("path", path).Msg("tool resolved")
	t.found[name] = path
	return path
}

// Available reports whether the tool can be invoked.
func (t *Tools) Available(name string) bool {
	return t.Path(name) != ""
}
