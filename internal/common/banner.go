package common

import (
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner with the listen address
func PrintBanner(version, host string, port int) {
	banner.PrintSimple("Ghostrun", version)
	GetLogger().Info().Str("host", host).Int("port", port).Msg("Browser job service starting")
}
