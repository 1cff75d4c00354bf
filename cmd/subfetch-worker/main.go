package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/phuslu/log"

	"github.com/subfetch/subfetch/internal/common"
	"github.com/subfetch/subfetch/internal/pipeline"
)

// videoExtensions are the container formats the worker scans for.
var videoExtensions = map[string]bool{
	".mkv": true, ".mp4": true, ".avi": true, ".mov": true,
	".m4v": true, ".wmv": true, ".ts": true, ".webm": true,
}

var (
	folder      = flag.String("folder", "", "Media folder to process (required)")
	language    = flag.String("language", "ro", "Primary subtitle language")
	logLevel    = flag.String("log-level", "info", "Log level: debug, info, warning, error")
	configFile  = flag.String("config", "", "Configuration file path")
	showVersion = flag.Bool("version", false, "Print version information")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("Subfetch worker version %s\n", common.GetFullVersion())
		os.Exit(0)
	}
	if *folder == "" {
		fmt.Fprintln(os.Stderr, "missing required -folder flag")
		os.Exit(2)
	}

	// Diagnostics go to stderr; stdout carries progress lines and the final
	// summary, which the supervisor records as the job result.
	logger := &log.Logger{
		Level:  parseLevel(*logLevel),
		Writer: &log.IOWriter{Writer: os.Stderr},
	}
	if jobID := os.Getenv("SUBFETCH_JOB_ID"); jobID != "" {
		logger.Context = log.NewContext(nil).Str("job_id", jobID).Value()
	}

	config, err := common.LoadFromFiles(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// SIGTERM from the supervisor cancels in-flight provider calls so the
	// process can exit inside the grace window.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, config, logger))
}

func run(ctx context.Context, config *common.Config, logger *log.Logger) int {
	container, err := pipeline.NewContainer(config, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize providers: %v\n", err)
		return 1
	}
	defer container.Shutdown()

	videos, err := findVideos(*folder)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to scan folder: %v\n", err)
		return 1
	}
	if len(videos) == 0 {
		fmt.Printf("No video files found in %s\n", *folder)
		return 0
	}

	runner := pipeline.NewRunner(container)
	found, failed := 0, 0
	for _, video := range videos {
		if ctx.Err() != nil {
			fmt.Fprintln(os.Stderr, "interrupted, stopping")
			return 1
		}

		fmt.Printf("Processing %s\n", filepath.Base(video))
		result, err := runner.Run(ctx, video, *language, "en")
		if err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "pipeline failed for %s: %v\n", filepath.Base(video), err)
			continue
		}
		if result.FoundPrimary {
			found++
		}
	}

	// Last stdout line is the job summary.
	fmt.Printf("Processed %d videos: %d with %s subtitles, %d failed\n",
		len(videos), found, *language, failed)

	if failed > 0 && found == 0 {
		return 1
	}
	return 0
}

// findVideos walks the folder recursively collecting video files. Sample
// files are skipped; they attract subtitles that mismatch the real release.
func findVideos(root string) ([]string, error) {
	var videos []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !videoExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		if strings.Contains(strings.ToLower(filepath.Base(path)), "sample") {
			return nil
		}
		videos = append(videos, path)
		return nil
	})
	return videos, err
}

func parseLevel(s string) log.Level {
	switch strings.ToLower(s) {
	case "debug":
		return log.DebugLevel
	case "warning", "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}
