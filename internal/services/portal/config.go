// Package portal drives the registry portal through a real browser.
//
// A Session owns one Chrome instance for the lifetime of a workflow run. The
// portal has no API, so every operation is a sequence of DOM waits and clicks
// addressed by the selectors in Config.
package portal

import (
	"time"

	"github.com/ternarybob/certflow/internal/common"
)

// Timeouts bounds each kind of wait against the portal
type Timeouts struct {
	Navigation   time.Duration
	Interstitial time.Duration
	Branch       time.Duration
	Step         time.Duration
	Return       time.Duration
}

// Config holds everything a session needs to reach and drive the portal
type Config struct {
	EntryURL   string
	Headless   bool
	ChromePath string
	UserAgent  string
	SlowMotion time.Duration
	Timeouts   Timeouts
	Selectors  common.PortalSelectors
}

// ConfigFromCommon converts the validated application config section
func ConfigFromCommon(c common.PortalConfig) Config {
	return Config{
		EntryURL:   c.EntryURL,
		Headless:   c.Headless,
		ChromePath: c.ChromePath,
		UserAgent:  c.UserAgent,
		SlowMotion: common.ParseDuration(c.SlowMotion, 0),
		Timeouts: Timeouts{
			Navigation:   common.ParseDuration(c.Timeouts.Navigation, 5*time.Minute),
			Interstitial: common.ParseDuration(c.Timeouts.Interstitial, 20*time.Second),
			Branch:       common.ParseDuration(c.Timeouts.Branch, 15*time.Second),
			Step:         common.ParseDuration(c.Timeouts.Step, 5*time.Minute),
			Return:       common.ParseDuration(c.Timeouts.Return, 18*time.Second),
		},
		Selectors: c.Selectors,
	}
}
