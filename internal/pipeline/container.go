// -----------------------------------------------------------------------
// Container - provider clients and tool wrappers shared across videos
// -----------------------------------------------------------------------

package pipeline

import (
	"fmt"

	"github.com/phuslu/log"

	"github.com/subfetch/subfetch/internal/common"
	"github.com/subfetch/subfetch/internal/providers"
)

// Container wires the provider clients a pipeline run needs. One container
// serves every video of a worker invocation; clients carry their own rate
// limiters and caches.
type Container struct {
	Tools         *providers.Tools
	Probe         *providers.MediaProbe
	OCR           *providers.OCR
	OpenSubtitles *providers.OpenSubtitles
	Translator    *providers.DeepL
	Syncer        *providers.Syncer
	Manifest      *providers.Manifest
	Logger        *log.Logger
}

// NewContainer builds the provider set from configuration.
func NewContainer(cfg *common.Config, logger *log.Logger) (*Container, error) {
	manifest, err := providers.LoadManifest(cfg.Providers.ManifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load provider manifest: %w", err)
	}

	tools := providers.NewTools(map[string]string{
		providers.ToolFFprobe:   cfg.Tools.FFprobe,
		providers.ToolFFmpeg:    cfg.Tools.FFmpeg,
		providers.ToolFFsubsync: cfg.Tools.FFsubsync,
		providers.ToolAlass:     cfg.Tools.Alass,
		providers.ToolOCR:       cfg.Tools.OCR,
	}, logger)

	return &Container{
		Tools:         tools,
		Probe:         providers.NewMediaProbe(tools, logger),
		OCR:           providers.NewOCR(tools, logger),
		OpenSubtitles: providers.NewOpenSubtitles(cfg.Providers.OpenSubtitlesKey, logger),
		Translator:    providers.NewDeepL(cfg.Providers.DeepLKey, logger),
		Syncer:        providers.NewSyncer(tools, logger),
		Manifest:      manifest,
		Logger:        logger,
	}, nil
}

// Shutdown releases container resources. Provider clients are stateless HTTP
// clients today; the hook exists so strategies never clean up shared state.
func (c *Container) Shutdown() {
	c.Logger.Debug().Msg("pipeline container shut down")
}
