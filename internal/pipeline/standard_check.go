package pipeline

import (
	"context"
	"os"
)

// StandardFileChecker looks for subtitles already saved at the standard
// path. It never downloads anything; an existing non-empty file for the
// primary language means the rest of the scanners can be skipped.
type StandardFileChecker struct{}

func (s *StandardFileChecker) Name() string   { return "standard_file_check" }
func (s *StandardFileChecker) Critical() bool { return false }

func (s *StandardFileChecker) Run(_ context.Context, pc *Context) error {
	if existsNonEmpty(pc.PrimaryPath()) {
		pc.FoundFinalRO = true
		pc.FinalROPath = pc.PrimaryPath()
	}
	if existsNonEmpty(pc.FallbackPath()) {
		pc.CandidateENStandard = pc.FallbackPath()
	}
	return nil
}

func existsNonEmpty(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Size() > 0
}
