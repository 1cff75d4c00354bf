package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/phuslu/log"

	"github.com/subfetch/subfetch/internal/providers"
	"github.com/subfetch/subfetch/internal/subtitles"
)

// Translator produces the primary-language subtitle from the fallback
// artifact. Segment indices and timestamps pass through unchanged; only the
// text lines are replaced. The stage is critical: a half-translated file is
// worse than reporting the failure.
type Translator struct {
	translator *providers.DeepL
	logger     *log.Logger
}

func (s *Translator) Name() string   { return "translate" }
func (s *Translator) Critical() bool { return true }

func (s *Translator) Run(ctx context.Context, pc *Context) error {
	if pc.FoundFinalRO || pc.FinalENPath == "" {
		return nil
	}
	if !strings.EqualFold(filepath.Ext(pc.FinalENPath), ".srt") {
		return nil
	}
	if !s.translator.Enabled(ctx) {
		s.logger.Info().Msg("translation skipped, translator not available")
		return nil
	}

	data, err := os.ReadFile(pc.FinalENPath)
	if err != nil {
		return fmt.Errorf("failed to read fallback subtitle: %w", err)
	}
	segments, err := subtitles.ParseString(string(data))
	if err != nil {
		return fmt.Errorf("fallback subtitle is not valid SRT: %w", err)
	}
	if len(segments) == 0 {
		return nil
	}

	// Flatten to one line slice so batching ignores segment boundaries.
	var lines []string
	for _, seg := range segments {
		lines = append(lines, seg.Lines...)
	}

	translated, err := s.translator.TranslateLines(ctx, lines, pc.FallbackLang, pc.PrimaryLang)
	if err != nil {
		return fmt.Errorf("translation failed: %w", err)
	}

	pos := 0
	for i := range segments {
		n := len(segments[i].Lines)
		segments[i].Lines = translated[pos : pos+n]
		pos += n
	}
	segments = subtitles.FixSegmentDiacritics(segments)

	if err := os.WriteFile(pc.PrimaryPath(), []byte(subtitles.Build(segments)), 0o644); err != nil {
		return fmt.Errorf("failed to write translated subtitle: %w", err)
	}

	pc.FoundFinalRO = true
	pc.FinalROPath = pc.PrimaryPath()
	s.logger.Info().Int("segments", len(segments)).Msg("subtitle translated")
	return nil
}
