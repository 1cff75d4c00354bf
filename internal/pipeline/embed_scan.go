package pipeline

import (
	"context"

	"github.com/subfetch/subfetch/internal/providers"
)

// EmbedScanner enumerates embedded subtitle streams. A primary-language text
// stream satisfies the goal without extraction; playback can use the track in
// place. A fallback-language stream is remembered for final_select, which
// extracts only when actually needed.
type EmbedScanner struct {
	probe *providers.MediaProbe
}

func (s *EmbedScanner) Name() string   { return "embed_scan" }
func (s *EmbedScanner) Critical() bool { return false }

func (s *EmbedScanner) Run(ctx context.Context, pc *Context) error {
	if pc.FoundFinalRO || !s.probe.Available() {
		return nil
	}

	streams, err := s.probe.SubtitleStreams(ctx, pc.VideoPath)
	if err != nil {
		return err
	}

	var fallback *providers.SubtitleStream
	for i := range streams {
		stream := &streams[i]
		if stream.Forced {
			continue
		}
		switch stream.Language {
		case pc.PrimaryLang, "rum", "ron":
			if stream.TextBased() {
				pc.FoundFinalRO = true
				return nil
			}
		case pc.FallbackLang, "eng":
			// Text streams beat image streams; OCR is a last resort.
			if fallback == nil || (!fallback.TextBased() && stream.TextBased()) {
				if stream.TextBased() || stream.OCRAllowed() {
					fallback = stream
				}
			}
		}
	}

	pc.CandidateENEmbedded = fallback
	return nil
}
