// -----------------------------------------------------------------------
// OCR - image subtitle conversion via an external OCR tool
// -----------------------------------------------------------------------

package providers

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/phuslu/log"
)

// OCR converts image subtitle streams to SRT through an external tool
// invoked as `<bin> <input> <output>`.
type OCR struct {
	tools  *Tools
	logger *log.Logger
}

// NewOCR creates an OCR converter over the tool resolver.
func NewOCR(tools *Tools, logger *log.Logger) *OCR {
	return &OCR{tools: tools, logger: logger}
}

// Available reports whether the OCR tool can be invoked.
func (o *OCR) Available() bool {
	return o.tools.Available(ToolOCR)
}

// Convert runs the OCR tool on inPath and writes the SRT result to outPath.
func (o *OCR) Convert(ctx context.Context, inPath, outPath string) error {
	bin := o.tools.Path(ToolOCR)
	if bin == "" {
		return fmt.Errorf("ocr tool is not available")
	}

	cmd := exec.CommandContext(ctx, bin, inPath, outPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ocr: %w: %s", err, tailOf(out))
	}

	if info, err := os.Stat(outPath); err != nil || info.Size() == 0 {
		return fmt.Errorf("ocr produced no output for %s", filepath.Base(inPath))
	}

	o.logger.Debug().Str("input", filepath.Base(inPath)).Msg("ocr conversion complete")
	return nil
}
