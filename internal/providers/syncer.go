// -----------------------------------------------------------------------
// Syncer - subtitle timing alignment via ffsubsync with alass fallback
// -----------------------------------------------------------------------

package providers

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/phuslu/log"
)

// Syncer aligns subtitle timing against the video's audio track. ffsubsync
// is tried first; alass is the fallback. The subtitle file is replaced
// atomically only when a tool succeeds.
type Syncer struct {
	tools  *Tools
	logger *log.Logger
}

// NewSyncer creates a syncer over the tool resolver.
func NewSyncer(tools *Tools, logger *log.Logger) *Syncer {
	return &Syncer{tools: tools, logger: logger}
}

// Available reports whether at least one sync tool can be invoked.
func (s *Syncer) Available() bool {
	return s.tools.Available(ToolFFsubsync) || s.tools.Available(ToolAlass)
}

// Sync aligns srtPath against videoPath in place. The original file is
// untouched when both tools fail.
func (s *Syncer) Sync(ctx context.Context, videoPath, srtPath string) error {
	tmp := srtPath + ".sync.tmp"
	defer os.Remove(tmp)

	if bin := s.tools.Path(ToolFFsubsync); bin != "" {
		if err := s.runFFsubsync(ctx, bin, videoPath, srtPath, tmp); err == nil {
			return replaceFile(tmp, srtPath)
		} else {
			s.logger.Warn().Err(err).Str("srt", filepath.Base(srtPath)).Msg("ffsubsync failed, trying alass")
		}
	}

	if bin := s.tools.Path(ToolAlass); bin != "" {
		if err := s.runAlass(ctx, bin, videoPath, srtPath, tmp); err == nil {
			return replaceFile(tmp, srtPath)
		} else {
			s.logger.Warn().Err(err).Str("srt", filepath.Base(srtPath)).Msg("alass failed")
		}
	}

	return fmt.Errorf("no sync tool succeeded for %s", filepath.Base(srtPath))
}

func (s *Syncer) runFFsubsync(ctx context.Context, bin, videoPath, srtPath, outPath string) error {
	cmd := exec.CommandContext(ctx, bin, videoPath, "-i", srtPath, "-o", outPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffsubsync: %w: %s", err, tailOf(out))
	}
	return nil
}

func (s *Syncer) runAlass(ctx context.Context, bin, videoPath, srtPath, outPath string) error {
	cmd := exec.CommandContext(ctx, bin, videoPath, srtPath, outPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("alass: %w: %s", err, tailOf(out))
	}
	return nil
}

// replaceFile swaps in the new file via rename, which is atomic on the same
// filesystem.
func replaceFile(src, dst string) error {
	if info, err := os.Stat(src); err != nil || info.Size() == 0 {
		return fmt.Errorf("sync produced no output")
	}
	return os.Rename(src, dst)
}

func tailOf(out []byte) string {
	const max = 200
	if len(out) > max {
		out = out[len(out)-max:]
	}
	return string(out)
}
