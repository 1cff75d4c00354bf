package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/phuslu/log"

	"github.com/subfetch/subfetch/internal/subtitles"
)

// LocalScanner examines non-standard subtitle files sitting next to the
// video, detecting their language from content. A primary-language hit is
// normalized and promoted to the standard path; the stray source file is
// removed so the next run finds the standard name directly.
type LocalScanner struct {
	logger *log.Logger
}

func (s *LocalScanner) Name() string   { return "local_scan" }
func (s *LocalScanner) Critical() bool { return false }

func (s *LocalScanner) Run(_ context.Context, pc *Context) error {
	if pc.FoundFinalRO {
		return nil
	}

	dir := filepath.Dir(pc.VideoPath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	videoBase := strings.TrimSuffix(filepath.Base(pc.VideoPath), filepath.Ext(pc.VideoPath))
	for _, entry := range entries {
		if entry.IsDir() || !subtitles.IsSubtitleFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if path == pc.PrimaryPath() || path == pc.FallbackPath() {
			continue
		}
		// Unrelated subtitles in shared folders stay untouched.
		if !strings.HasPrefix(strings.ToLower(entry.Name()), strings.ToLower(videoBase)) {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn().Err(err).Str("file", entry.Name()).Msg("failed to read local subtitle")
			continue
		}

		switch subtitles.DetectLanguage(string(data)) {
		case pc.PrimaryLang:
			if err := s.promote(path, string(data), pc.PrimaryPath()); err != nil {
				s.logger.Warn().Err(err).Str("file", entry.Name()).Msg("failed to promote local subtitle")
				continue
			}
			pc.FoundFinalRO = true
			pc.FinalROPath = pc.PrimaryPath()
			s.logger.Info().Str("file", entry.Name()).Msg("local subtitle promoted to standard path")
			return nil
		case pc.FallbackLang:
			if pc.CandidateENLocal == "" && strings.EqualFold(filepath.Ext(path), ".srt") {
				pc.CandidateENLocal = path
			}
		}
	}
	return nil
}

// promote normalizes the content, writes it to the standard path, and
// removes the stray source.
func (s *LocalScanner) promote(srcPath, content, dstPath string) error {
	normalized, err := subtitles.Normalize(content)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dstPath, []byte(normalized), 0o644); err != nil {
		return err
	}
	if srcPath != dstPath {
		os.Remove(srcPath)
	}
	return nil
}
