// -----------------------------------------------------------------------
// Pipeline - fixed strategy chain executed per video
// -----------------------------------------------------------------------

package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/phuslu/log"
)

// Strategy is one stage of the chain. Critical stages abort the run on
// failure; non-critical failures are logged and the chain continues.
type Strategy interface {
	Name() string
	Critical() bool
	Run(ctx context.Context, pc *Context) error
}

// Result summarizes one video's run.
type Result struct {
	VideoPath    string
	FinalPath    string
	FoundPrimary bool
}

// Runner executes the strategy chain over single videos.
type Runner struct {
	container  *Container
	strategies []Strategy
	logger     *log.Logger
}

// NewRunner builds the chain in its fixed order.
func NewRunner(container *Container) *Runner {
	return &Runner{
		container: container,
		strategies: []Strategy{
			&StandardFileChecker{},
			&EmbedScanner{probe: container.Probe},
			&LocalScanner{logger: container.Logger},
			&OnlineFetcher{client: container.OpenSubtitles, manifest: container.Manifest, logger: container.Logger},
			&FinalSelector{probe: container.Probe, client: container.OpenSubtitles, ocr: container.OCR, logger: container.Logger},
			&Translator{translator: container.Translator, logger: container.Logger},
			&Synchronizer{syncer: container.Syncer, logger: container.Logger},
		},
		logger: container.Logger,
	}
}

// Run processes one video. Temp-dir cleanup runs on every exit path.
func (r *Runner) Run(ctx context.Context, videoPath, primaryLang, fallbackLang string) (*Result, error) {
	pc := NewContext(videoPath, primaryLang, fallbackLang)
	defer pc.Cleanup()

	r.logger.Info().
		Str("video", filepath.Base(videoPath)).
		Str("title", pc.Identity.Title).
		Int("season", pc.Identity.Season).
		Int("episode", pc.Identity.Episode).
		Msg("pipeline started")

	for _, strategy := range r.strategies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		err := strategy.Run(ctx, pc)
		if err == nil {
			r.logger.Debug().Str("strategy", strategy.Name()).Msg("strategy completed")
			continue
		}
		if strategy.Critical() {
			return nil, fmt.Errorf("strategy %s failed: %w", strategy.Name(), err)
		}
		r.logger.Warn().Err(err).Str("strategy", strategy.Name()).Msg("strategy failed, continuing")
	}

	result := &Result{
		VideoPath:    videoPath,
		FinalPath:    pc.FinalArtifact(),
		FoundPrimary: pc.FoundFinalRO,
	}
	r.logger.Info().
		Str("video", filepath.Base(videoPath)).
		Bool("primary", result.FoundPrimary).
		Str("final", result.FinalPath).
		Msg("pipeline finished")
	return result, nil
}
