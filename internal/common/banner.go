package common

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner and the settings an operator
// most often needs to confirm before a long run.
func PrintBanner(config *Config, logger arbor.ILogger) {
	b := banner.New().
		SetStyle(banner.StyleDouble).
		SetBorderColor(banner.ColorGreen).
		SetTextColor(banner.ColorGreen).
		SetBold(true).
		SetWidth(60)

	b.PrintTopLine()
	b.PrintCenteredText("CERTFLOW")
	b.PrintCenteredText("Registry certificate retriever")
	b.PrintSeparatorLine()
	b.PrintKeyValue("Version", GetVersion(), 12)
	b.PrintKeyValue("Dataset", config.Dataset.Path, 12)
	b.PrintBottomLine()

	logger.Info().
		Str("dataset", config.Dataset.Path).
		Str("portal", config.Portal.EntryURL).
		Bool("headless", config.Portal.Headless).
		Str("backoff", config.Supervisor.Backoff).
		Int("max_restarts", config.Supervisor.MaxRestarts).
		Msg("Configuration loaded")
}
