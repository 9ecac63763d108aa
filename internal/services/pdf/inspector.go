// Package pdf inspects retrieved documents.
// Uses pdfcpu for Go-native PDF processing
package pdf

import (
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/certflow/internal/interfaces"
)

// Inspector implements interfaces.ArtifactInspector using pdfcpu
type Inspector struct {
	logger arbor.ILogger
}

// Compile-time assertion
var _ interfaces.ArtifactInspector = (*Inspector)(nil)

// NewInspector creates a new PDF inspector
func NewInspector(logger arbor.ILogger) *Inspector {
	return &Inspector{
		logger: logger,
	}
}

// PageCount reads the document structure and returns its page count.
// A file that does not parse as PDF (an HTML error page saved with a .pdf
// name, a truncated download) returns an error.
func (i *Inspector) PageCount(path string) (int, error) {
	pdfCtx, err := api.ReadContextFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read PDF context: %w", err)
	}

	i.logger.Debug().
		Str("path", path).
		Int("pages", pdfCtx.PageCount).
		Msg("Inspected artifact")

	return pdfCtx.PageCount, nil
}
