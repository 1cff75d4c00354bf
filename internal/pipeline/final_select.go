package pipeline

import (
	"context"
	"path/filepath"

	"github.com/phuslu/log"

	"github.com/subfetch/subfetch/internal/providers"
)

// FinalSelector settles the fallback artifact when the primary language was
// not obtained. Candidate priority is online, then standard file, then local
// file, then embedded stream. Only here does the online candidate get
// downloaded and the embedded stream extracted, both into temp dirs so a
// fallback artifact never shadows a future primary one.
type FinalSelector struct {
	probe  *providers.MediaProbe
	client *providers.OpenSubtitles
	ocr    *providers.OCR
	logger *log.Logger
}

func (s *FinalSelector) Name() string   { return "final_select" }
func (s *FinalSelector) Critical() bool { return false }

func (s *FinalSelector) Run(ctx context.Context, pc *Context) error {
	if pc.FoundFinalRO || pc.FinalENPath != "" {
		return nil
	}

	if pc.CandidateENOnline != nil {
		if path, err := s.downloadOnline(ctx, pc); err == nil {
			pc.FinalENPath = path
			return nil
		} else {
			s.logger.Warn().Err(err).Msg("online fallback download failed")
		}
	}

	if pc.CandidateENStandard != "" {
		pc.FinalENPath = pc.CandidateENStandard
		return nil
	}
	if pc.CandidateENLocal != "" {
		pc.FinalENPath = pc.CandidateENLocal
		return nil
	}

	if pc.CandidateENEmbedded != nil {
		path, err := s.extractEmbedded(ctx, pc)
		if err != nil {
			return err
		}
		pc.FinalENPath = path
	}
	return nil
}

func (s *FinalSelector) downloadOnline(ctx context.Context, pc *Context) (string, error) {
	dir, err := pc.TempDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, "fallback.srt")
	if err := s.client.Download(ctx, pc.CandidateENOnline.FileID, path); err != nil {
		return "", err
	}
	return path, nil
}

// extractEmbedded materializes the embedded candidate as an SRT file. Text
// streams convert directly; image streams go through extraction plus OCR.
// An image candidate without a usable OCR tool yields no artifact.
func (s *FinalSelector) extractEmbedded(ctx context.Context, pc *Context) (string, error) {
	stream := pc.CandidateENEmbedded
	dir, err := pc.TempDir()
	if err != nil {
		return "", err
	}
	out := filepath.Join(dir, "embedded.srt")

	if stream.TextBased() {
		if err := s.probe.ExtractTextStream(ctx, pc.VideoPath, stream.Index, out); err != nil {
			return "", err
		}
		return out, nil
	}

	if !stream.OCRAllowed() || s.ocr == nil || !s.ocr.Available() {
		return "", nil
	}
	raw := filepath.Join(dir, "embedded.mks")
	if err := s.probe.ExtractImageStream(ctx, pc.VideoPath, stream.Index, raw); err != nil {
		return "", err
	}
	if err := s.ocr.Convert(ctx, raw, out); err != nil {
		return "", err
	}
	return out, nil
}
