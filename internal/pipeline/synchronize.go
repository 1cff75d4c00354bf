package pipeline

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/phuslu/log"

	"github.com/subfetch/subfetch/internal/providers"
)

// Synchronizer aligns the finalized subtitle's timing against the video.
// Artifacts that are not SRT files, and temp-dir fallbacks that never became
// a final file, are left alone.
type Synchronizer struct {
	syncer *providers.Syncer
	logger *log.Logger
}

func (s *Synchronizer) Name() string   { return "synchronize" }
func (s *Synchronizer) Critical() bool { return false }

func (s *Synchronizer) Run(ctx context.Context, pc *Context) error {
	target := pc.FinalArtifact()
	if target == "" || !strings.EqualFold(filepath.Ext(target), ".srt") {
		return nil
	}
	if !s.syncer.Available() {
		s.logger.Debug().Msg("sync skipped, no sync tool available")
		return nil
	}

	if err := s.syncer.Sync(ctx, pc.VideoPath, target); err != nil {
		return err
	}
	s.logger.Info().Str("subtitle", filepath.Base(target)).Msg("subtitle synchronized")
	return nil
}
