package models

// DeviceType selects a viewport and user agent profile
type DeviceType string

const (
	DeviceDesktop DeviceType = "desktop"
	DeviceMobile  DeviceType = "mobile"
	DeviceTablet  DeviceType = "tablet"
)

// BrowserType selects the browser engine
type BrowserType string

const (
	BrowserChromium BrowserType = "chromium"
	BrowserFirefox  BrowserType = "firefox"
	BrowserWebKit   BrowserType = "webkit"
)

// DeviceProfile is the resolved emulation for one job
type DeviceProfile struct {
	Viewport  Viewport
	UserAgent string
	Mobile    bool
	Touch     bool
}

var deviceProfiles = map[DeviceType]DeviceProfile{
	DeviceDesktop: {
		Viewport:  Viewport{Width: 1920, Height: 1080},
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	},
	DeviceMobile: {
		Viewport:  Viewport{Width: 375, Height: 667},
		UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
		Mobile:    true,
		Touch:     true,
	},
	DeviceTablet: {
		Viewport:  Viewport{Width: 768, Height: 1024},
		UserAgent: "Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
		Mobile:    true,
		Touch:     true,
	},
}

// ResolveDevice merges the device defaults with job overrides; overrides win.
// Unknown device types fall back to desktop.
func ResolveDevice(device DeviceType, options *JobOptions) DeviceProfile {
	profile, ok := deviceProfiles[device]
	if !ok {
		profile = deviceProfiles[DeviceDesktop]
	}
	if options == nil {
		return profile
	}
	if options.Viewport != nil {
		profile.Viewport = *options.Viewport
	}
	if options.UserAgent != "" {
		profile.UserAgent = options.UserAgent
	}
	return profile
}
