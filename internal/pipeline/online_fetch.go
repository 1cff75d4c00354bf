package pipeline

import (
	"context"
	"os"
	"path/filepath"

	"github.com/phuslu/log"

	"github.com/subfetch/subfetch/internal/providers"
	"github.com/subfetch/subfetch/internal/subtitles"
)

// OnlineFetcher queries subtitle providers by precise identity. A qualifying
// primary-language hit is downloaded, normalized, and saved at the standard
// path. The best fallback-language hit is only remembered; final_select
// downloads it when nothing better exists.
type OnlineFetcher struct {
	client   *providers.OpenSubtitles
	manifest *providers.Manifest
	logger   *log.Logger
}

func (s *OnlineFetcher) Name() string   { return "online_fetch" }
func (s *OnlineFetcher) Critical() bool { return false }

func (s *OnlineFetcher) Run(ctx context.Context, pc *Context) error {
	if !s.client.Enabled() || !s.manifest.ProviderEnabled("opensubtitles") {
		return nil
	}

	if !pc.FoundFinalRO {
		if err := s.fetchPrimary(ctx, pc); err != nil {
			return err
		}
	}

	if pc.CandidateENOnline == nil {
		s.rememberFallback(ctx, pc)
	}
	return nil
}

func (s *OnlineFetcher) fetchPrimary(ctx context.Context, pc *Context) error {
	results, err := s.client.Search(ctx, pc.Identity, pc.PrimaryLang)
	if err != nil {
		return err
	}

	best := bestResult(pc, results)
	if best == nil {
		s.logger.Info().Str("lang", pc.PrimaryLang).Msg("no qualifying online candidate")
		return nil
	}

	if err := s.client.Download(ctx, best.FileID, pc.PrimaryPath()); err != nil {
		return err
	}
	if err := normalizeFile(pc.PrimaryPath()); err != nil {
		s.logger.Warn().Err(err).Msg("downloaded subtitle failed normalization")
	}

	pc.FoundFinalRO = true
	pc.FinalROPath = pc.PrimaryPath()
	s.logger.Info().Str("name", best.Candidate.Name).Msg("online subtitle saved")
	return nil
}

func (s *OnlineFetcher) rememberFallback(ctx context.Context, pc *Context) {
	results, err := s.client.Search(ctx, pc.Identity, pc.FallbackLang)
	if err != nil {
		s.logger.Warn().Err(err).Str("lang", pc.FallbackLang).Msg("fallback search failed")
		return
	}
	if best := bestResult(pc, results); best != nil {
		pc.CandidateENOnline = best
	}
}

// bestResult scores the provider results against the video basename and
// returns the winner at or above the minimum score.
func bestResult(pc *Context, results []providers.SearchResult) *providers.SearchResult {
	cands := make([]subtitles.Candidate, len(results))
	for i, r := range results {
		cands[i] = r.Candidate
	}
	idx := subtitles.BestCandidate(pc.Identity, filepath.Base(pc.VideoPath), cands)
	if idx < 0 {
		return nil
	}
	return &results[idx]
}

func normalizeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	normalized, err := subtitles.Normalize(string(data))
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(normalized), 0o644)
}
