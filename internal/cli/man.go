package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra/doc"
)

// GenerateManPages writes one section 1 page per command into outDir. Pages
// are dated from the build time when it parses, so a rebuild of the same
// commit produces identical output.
func GenerateManPages(outDir string, build BuildInfo) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create man output directory: %w", err)
	}

	root := NewRootCommand(io.Discard, build)
	root.DisableAutoGenTag = true

	header := &doc.GenManHeader{
		Title:   "PCTRL",
		Section: "1",
		Source:  "pctrl " + build.Version,
		Manual:  "pctrl registry manual",
	}
	if built, err := time.Parse(time.RFC3339, build.BuildTime); err == nil {
		header.Date = &built
	}

	if err := doc.GenManTree(root, header, outDir); err != nil {
		return fmt.Errorf("generate man pages: %w", err)
	}
	return nil
}
