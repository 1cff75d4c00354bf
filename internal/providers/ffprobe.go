// -----------------------------------------------------------------------
// Media Probe - subtitle stream discovery and extraction via ffprobe/ffmpeg
// -----------------------------------------------------------------------

package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/phuslu/log"
)

// Text subtitle codecs ffmpeg can convert to SRT directly.
var textSubtitleCodecs = map[string]bool{
	"subrip": true, "srt": true, "ass": true, "ssa": true,
	"webvtt": true, "mov_text": true, "text": true,
}

// Image codecs allowed through the OCR path. Anything else is skipped.
var ocrAllowedCodecs = map[string]bool{
	"hdmv_pgs_subtitle": true, "dvd_subtitle": true,
}

// SubtitleStream describes one embedded subtitle stream.
type SubtitleStream struct {
	Index    int
	Codec    string
	Language string
	Forced   bool
	Title    string
}

// TextBased reports whether the stream converts to SRT without OCR.
func (s *SubtitleStream) TextBased() bool {
	return textSubtitleCodecs[s.Codec]
}

// OCRAllowed reports whether image extraction via OCR is permitted for the
// stream's codec.
func (s *SubtitleStream) OCRAllowed() bool {
	return ocrAllowedCodecs[s.Codec]
}

// MediaProbe wraps ffprobe and ffmpeg for subtitle stream work.
type MediaProbe struct {
	tools  *Tools
	logger *log.Logger
}

// NewMediaProbe creates a probe over the tool resolver.
func NewMediaProbe(tools *Tools, logger *log.Logger) *MediaProbe {
	return &MediaProbe{tools: tools, logger: logger}
}

// Available reports whether ffprobe can be invoked.
func (p *MediaProbe) Available() bool {
	return p.tools.Available(ToolFFprobe)
}

type ffprobeOutput struct {
	Streams []struct {
		Index       int               `json:"index"`
		CodecName   string            `json:"codec_name"`
		CodecType   string            `json:"codec_type"`
		Tags        map[string]string `json:"tags"`
		Disposition struct {
			Forced int `json:"forced"`
		} `json:"disposition"`
	} `json:"streams"`
}

// SubtitleStreams enumerates the embedded subtitle streams of a video.
func (p *MediaProbe) SubtitleStreams(ctx context.Context, videoPath string) ([]SubtitleStream, error) {
	bin := p.tools.Path(ToolFFprobe)
	if bin == "" {
		return nil, fmt.Errorf("ffprobe is not available")
	}

	cmd := exec.CommandContext(ctx, bin,
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-select_streams", "s",
		videoPath,
	)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed for %s: %w", filepath.Base(videoPath), err)
	}

	var probe ffprobeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	streams := make([]SubtitleStream, 0, len(probe.Streams))
	for _, s := range probe.Streams {
		if s.CodecType != "subtitle" {
			continue
		}
		streams = append(streams, SubtitleStream{
			Index:    s.Index,
			Codec:    s.CodecName,
			Language: s.Tags["language"],
			Title:    s.Tags["title"],
			Forced:   s.Disposition.Forced == 1,
		})
	}
	return streams, nil
}

// ExtractTextStream converts a text subtitle stream to an SRT file.
func (p *MediaProbe) ExtractTextStream(ctx context.Context, videoPath string, streamIndex int, outPath string) error {
	bin := p.tools.Path(ToolFFmpeg)
	if bin == "" {
		return fmt.Errorf("ffmpeg is not available")
	}

	cmd := exec.CommandContext(ctx, bin,
		"-v", "quiet",
		"-y",
		"-i", videoPath,
		"-map", "0:"+strconv.Itoa(streamIndex),
		"-c:s", "srt",
		outPath,
	)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("subtitle extraction failed for stream %d: %w", streamIndex, err)
	}
	return nil
}

// ExtractImageStream copies an image subtitle stream, codec unchanged, into
// a standalone Matroska container for OCR.
func (p *MediaProbe) ExtractImageStream(ctx context.Context, videoPath string, streamIndex int, outPath string) error {
	bin := p.tools.Path(ToolFFmpeg)
	if bin == "" {
		return fmt.Errorf("ffmpeg is not available")
	}

	cmd := exec.CommandContext(ctx, bin,
		"-v", "quiet",
		"-y",
		"-i", videoPath,
		"-map", "0:"+strconv.Itoa(streamIndex),
		"-c:s", "copy",
		outPath,
	)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("subtitle extraction failed for stream %d: %w", streamIndex, err)
	}
	return nil
}
