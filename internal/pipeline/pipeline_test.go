package pipeline

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/phuslu/log"

	"github.com/subfetch/subfetch/internal/providers"
	"github.com/subfetch/subfetch/internal/subtitles"
)

func testLogger() *log.Logger {
	return &log.Logger{Level: log.ErrorLevel, Writer: &log.IOWriter{Writer: io.Discard}}
}

// videoFixture lays out a fake video file in a temp dir.
func videoFixture(t *testing.T, name string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("not a real video"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// romanianSRT builds a small valid SRT whose text is unmistakably Romanian.
func romanianSRT() string {
	line := "Nu este pentru mine, dar dacă asta este ceva care să ajute"
	segments := make([]subtitles.Segment, 4)
	for i := range segments {
		segments[i] = subtitles.Segment{
			Start: time.Duration(i) * time.Second,
			End:   time.Duration(i)*time.Second + 500*time.Millisecond,
			Lines: []string{line},
		}
	}
	return subtitles.Build(segments)
}

func englishSRT() string {
	line := "The thing is that you have not seen what they can do for this"
	segments := make([]subtitles.Segment, 4)
	for i := range segments {
		segments[i] = subtitles.Segment{
			Start: time.Duration(i) * time.Second,
			End:   time.Duration(i)*time.Second + 500*time.Millisecond,
			Lines: []string{line},
		}
	}
	return subtitles.Build(segments)
}

func TestContextPaths(t *testing.T) {
	pc := NewContext("/media/Show.S01E02.1080p.mkv", "ro", "en")

	if got := pc.PrimaryPath(); got != "/media/Show.S01E02.1080p.ro.srt" {
		t.Errorf("PrimaryPath = %q", got)
	}
	if got := pc.FallbackPath(); got != "/media/Show.S01E02.1080p.en.srt" {
		t.Errorf("FallbackPath = %q", got)
	}
	if !pc.Identity.IsEpisode() {
		t.Error("expected episode identity")
	}
}

func TestContextTempDirCleanup(t *testing.T) {
	pc := NewContext("/media/movie.mkv", "ro", "en")

	dir, err := pc.TempDir()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("temp dir missing: %v", err)
	}

	pc.Cleanup()
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("temp dir should be removed by Cleanup")
	}
	pc.Cleanup() // safe to repeat
}

func TestContextFinalArtifact(t *testing.T) {
	pc := NewContext("/media/movie.mkv", "ro", "en")
	if got := pc.FinalArtifact(); got != "" {
		t.Errorf("empty context FinalArtifact = %q", got)
	}

	pc.FinalENPath = "/tmp/fallback.srt"
	if got := pc.FinalArtifact(); got != "/tmp/fallback.srt" {
		t.Errorf("FinalArtifact = %q", got)
	}

	pc.FoundFinalRO = true
	pc.FinalROPath = "/media/movie.ro.srt"
	if got := pc.FinalArtifact(); got != "/media/movie.ro.srt" {
		t.Errorf("primary should win, got %q", got)
	}
}

func TestStandardFileCheck(t *testing.T) {
	video := videoFixture(t, "movie.mkv")
	pc := NewContext(video, "ro", "en")

	writeFile(t, pc.PrimaryPath(), romanianSRT())
	writeFile(t, pc.FallbackPath(), englishSRT())

	checker := &StandardFileChecker{}
	if err := checker.Run(context.Background(), pc); err != nil {
		t.Fatal(err)
	}

	if !pc.FoundFinalRO {
		t.Error("existing primary subtitle should satisfy the goal")
	}
	if pc.FinalROPath != pc.PrimaryPath() {
		t.Errorf("FinalROPath = %q", pc.FinalROPath)
	}
	if pc.CandidateENStandard != pc.FallbackPath() {
		t.Errorf("CandidateENStandard = %q", pc.CandidateENStandard)
	}
}

func TestStandardFileCheckIgnoresEmptyFiles(t *testing.T) {
	video := videoFixture(t, "movie.mkv")
	pc := NewContext(video, "ro", "en")

	writeFile(t, pc.PrimaryPath(), "")

	checker := &StandardFileChecker{}
	if err := checker.Run(context.Background(), pc); err != nil {
		t.Fatal(err)
	}
	if pc.FoundFinalRO {
		t.Error("zero-byte file must not count as a subtitle")
	}
}

func TestLocalScanPromotesPrimary(t *testing.T) {
	video := videoFixture(t, "movie.mkv")
	dir := filepath.Dir(video)
	stray := filepath.Join(dir, "movie.subs.srt")
	writeFile(t, stray, romanianSRT())

	pc := NewContext(video, "ro", "en")
	scanner := &LocalScanner{logger: testLogger()}
	if err := scanner.Run(context.Background(), pc); err != nil {
		t.Fatal(err)
	}

	if !pc.FoundFinalRO {
		t.Fatal("Romanian local subtitle should be promoted")
	}
	data, err := os.ReadFile(pc.PrimaryPath())
	if err != nil {
		t.Fatalf("standard path not written: %v", err)
	}
	if _, err := subtitles.ParseString(string(data)); err != nil {
		t.Errorf("promoted file is not valid SRT: %v", err)
	}
	if _, err := os.Stat(stray); !os.IsNotExist(err) {
		t.Error("stray source file should be removed after promotion")
	}
}

func TestLocalScanRemembersFallback(t *testing.T) {
	video := videoFixture(t, "movie.mkv")
	dir := filepath.Dir(video)
	stray := filepath.Join(dir, "movie.english.srt")
	writeFile(t, stray, englishSRT())

	pc := NewContext(video, "ro", "en")
	scanner := &LocalScanner{logger: testLogger()}
	if err := scanner.Run(context.Background(), pc); err != nil {
		t.Fatal(err)
	}

	if pc.FoundFinalRO {
		t.Error("English subtitle must not satisfy the primary goal")
	}
	if pc.CandidateENLocal != stray {
		t.Errorf("CandidateENLocal = %q, want %q", pc.CandidateENLocal, stray)
	}
	if _, err := os.Stat(stray); err != nil {
		t.Error("fallback candidate must stay in place")
	}
}

func TestLocalScanIgnoresUnrelatedFiles(t *testing.T) {
	video := videoFixture(t, "movie.mkv")
	dir := filepath.Dir(video)
	writeFile(t, filepath.Join(dir, "other-film.srt"), romanianSRT())

	pc := NewContext(video, "ro", "en")
	scanner := &LocalScanner{logger: testLogger()}
	if err := scanner.Run(context.Background(), pc); err != nil {
		t.Fatal(err)
	}
	if pc.FoundFinalRO {
		t.Error("subtitle for a different video must be ignored")
	}
}

func TestLocalScanSkipsWhenAlreadyFound(t *testing.T) {
	video := videoFixture(t, "movie.mkv")
	stray := filepath.Join(filepath.Dir(video), "movie.subs.srt")
	writeFile(t, stray, romanianSRT())

	pc := NewContext(video, "ro", "en")
	pc.FoundFinalRO = true

	scanner := &LocalScanner{logger: testLogger()}
	if err := scanner.Run(context.Background(), pc); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(stray); err != nil {
		t.Error("scanner must not touch files once the goal is met")
	}
}

func TestFinalSelectPrefersStandardOverLocal(t *testing.T) {
	pc := NewContext("/media/movie.mkv", "ro", "en")
	pc.CandidateENStandard = "/media/movie.en.srt"
	pc.CandidateENLocal = "/media/movie.english.srt"

	selector := &FinalSelector{logger: testLogger()}
	if err := selector.Run(context.Background(), pc); err != nil {
		t.Fatal(err)
	}
	if pc.FinalENPath != "/media/movie.en.srt" {
		t.Errorf("FinalENPath = %q, want the standard file", pc.FinalENPath)
	}
}

func TestFinalSelectFallsBackToLocal(t *testing.T) {
	pc := NewContext("/media/movie.mkv", "ro", "en")
	pc.CandidateENLocal = "/media/movie.english.srt"

	selector := &FinalSelector{logger: testLogger()}
	if err := selector.Run(context.Background(), pc); err != nil {
		t.Fatal(err)
	}
	if pc.FinalENPath != "/media/movie.english.srt" {
		t.Errorf("FinalENPath = %q", pc.FinalENPath)
	}
}

func TestFinalSelectSkipsWhenSettled(t *testing.T) {
	pc := NewContext("/media/movie.mkv", "ro", "en")
	pc.FoundFinalRO = true
	pc.CandidateENLocal = "/media/movie.english.srt"

	selector := &FinalSelector{logger: testLogger()}
	if err := selector.Run(context.Background(), pc); err != nil {
		t.Fatal(err)
	}
	if pc.FinalENPath != "" {
		t.Error("no fallback needed once the primary goal is met")
	}
}

// stubTool materializes a shell script standing in for an external binary.
func stubTool(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFinalSelectOCRConvertsImageStream(t *testing.T) {
	video := videoFixture(t, "movie.mkv")

	// The ffmpeg stub writes the container to its last argument; the OCR
	// stub writes an SRT to its second.
	ffmpeg := stubTool(t, "ffmpeg.sh", "for last; do :; done\nprintf 'bitmap' > \"$last\"\n")
	ocrBin := stubTool(t, "ocr.sh", "printf '1\\n00:00:01,000 --> 00:00:02,000\\nHello there\\n' > \"$2\"\n")
	tools := providers.NewTools(map[string]string{
		providers.ToolFFmpeg: ffmpeg,
		providers.ToolOCR:    ocrBin,
	}, testLogger())

	pc := NewContext(video, "ro", "en")
	defer pc.Cleanup()
	pc.CandidateENEmbedded = &providers.SubtitleStream{Index: 2, Codec: "hdmv_pgs_subtitle", Language: "eng"}

	selector := &FinalSelector{
		probe:  providers.NewMediaProbe(tools, testLogger()),
		ocr:    providers.NewOCR(tools, testLogger()),
		logger: testLogger(),
	}
	if err := selector.Run(context.Background(), pc); err != nil {
		t.Fatal(err)
	}
	if pc.FinalENPath == "" {
		t.Fatal("image candidate should yield an artifact via OCR")
	}
	data, err := os.ReadFile(pc.FinalENPath)
	if err != nil {
		t.Fatalf("converted subtitle missing: %v", err)
	}
	if !strings.Contains(string(data), "Hello there") {
		t.Errorf("converted subtitle content = %q", data)
	}
}

func TestFinalSelectImageCandidateWithoutOCRTool(t *testing.T) {
	pc := NewContext("/media/movie.mkv", "ro", "en")
	defer pc.Cleanup()
	pc.CandidateENEmbedded = &providers.SubtitleStream{Index: 2, Codec: "hdmv_pgs_subtitle"}

	selector := &FinalSelector{logger: testLogger()}
	if err := selector.Run(context.Background(), pc); err != nil {
		t.Fatal(err)
	}
	if pc.FinalENPath != "" {
		t.Error("no OCR tool means no artifact, not an error")
	}
}

func TestFinalSelectSkipsDisallowedImageCodec(t *testing.T) {
	pc := NewContext("/media/movie.mkv", "ro", "en")
	defer pc.Cleanup()
	pc.CandidateENEmbedded = &providers.SubtitleStream{Index: 2, Codec: "xsub"}

	tools := providers.NewTools(map[string]string{providers.ToolOCR: "/bin/true"}, testLogger())
	selector := &FinalSelector{ocr: providers.NewOCR(tools, testLogger()), logger: testLogger()}
	if err := selector.Run(context.Background(), pc); err != nil {
		t.Fatal(err)
	}
	if pc.FinalENPath != "" {
		t.Error("codec outside the OCR allow set must be skipped")
	}
}

func TestTranslateSkipConditions(t *testing.T) {
	video := videoFixture(t, "movie.mkv")
	fallback := filepath.Join(filepath.Dir(video), "fallback.srt")
	writeFile(t, fallback, englishSRT())

	tests := []struct {
		name  string
		setup func(pc *Context)
	}{
		{"primary already found", func(pc *Context) {
			pc.FoundFinalRO = true
			pc.FinalENPath = fallback
		}},
		{"no fallback artifact", func(pc *Context) {}},
		{"non-srt artifact", func(pc *Context) {
			pc.FinalENPath = strings.TrimSuffix(fallback, ".srt") + ".sub"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pc := NewContext(video, "ro", "en")
			tt.setup(pc)

			// A nil translator would panic if the stage got past its guards.
			tr := &Translator{logger: testLogger()}
			if err := tr.Run(context.Background(), pc); err != nil {
				t.Fatal(err)
			}
			if _, err := os.Stat(pc.PrimaryPath()); !os.IsNotExist(err) {
				t.Error("skipped stage must not produce a primary subtitle")
			}
		})
	}
}

func TestRunnerStopsOnCriticalFailure(t *testing.T) {
	video := videoFixture(t, "movie.mkv")

	runner := &Runner{
		strategies: []Strategy{
			&stubStrategy{name: "noop"},
			&stubStrategy{name: "boom", critical: true, err: os.ErrPermission},
			&stubStrategy{name: "unreached", mustNotRun: t},
		},
		logger: testLogger(),
	}

	_, err := runner.Run(context.Background(), video, "ro", "en")
	if err == nil {
		t.Fatal("critical strategy failure must fail the run")
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("error should name the failed strategy: %v", err)
	}
}

func TestRunnerContinuesOnNonCriticalFailure(t *testing.T) {
	video := videoFixture(t, "movie.mkv")

	reached := &stubStrategy{name: "after"}
	runner := &Runner{
		strategies: []Strategy{
			&stubStrategy{name: "flaky", err: os.ErrPermission},
			reached,
		},
		logger: testLogger(),
	}

	if _, err := runner.Run(context.Background(), video, "ro", "en"); err != nil {
		t.Fatal(err)
	}
	if !reached.ran {
		t.Error("non-critical failure must not stop the chain")
	}
}

func TestRunnerHonoursContextCancellation(t *testing.T) {
	video := videoFixture(t, "movie.mkv")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := &Runner{
		strategies: []Strategy{&stubStrategy{name: "unreached", mustNotRun: t}},
		logger:     testLogger(),
	}
	if _, err := runner.Run(ctx, video, "ro", "en"); err == nil {
		t.Fatal("cancelled context must abort the run")
	}
}

type stubStrategy struct {
	name       string
	critical   bool
	err        error
	ran        bool
	mustNotRun *testing.T
}

func (s *stubStrategy) Name() string   { return s.name }
func (s *stubStrategy) Critical() bool { return s.critical }

func (s *stubStrategy) Run(_ context.Context, _ *Context) error {
	if s.mustNotRun != nil {
		s.mustNotRun.Errorf("strategy %s must not run", s.name)
	}
	s.ran = true
	return s.err
}
