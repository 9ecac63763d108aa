package portal

import (
	"context"
	"fmt"
	"os"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/certflow/internal/interfaces"
)

// Factory implements interfaces.SessionFactory by launching a new Chrome
// for every session.
type Factory struct {
	config Config
	logger arbor.ILogger
}

// Compile-time interface assertion
var _ interfaces.SessionFactory = (*Factory)(nil)

// NewFactory creates a session factory
func NewFactory(config Config, logger arbor.ILogger) *Factory {
	return &Factory{
		config: config,
		logger: logger,
	}
}

// NewSession launches a browser whose downloads land in downloadDir
func (f *Factory) NewSession(ctx context.Context, downloadDir string) (interfaces.PortalSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(downloadDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}

	instance, err := launchBrowser(f.config, downloadDir, f.logger)
	if err != nil {
		return nil, err
	}

	return newSession(f.config, instance, f.logger), nil
}
