package routing

import "strings"

// Platform identifies the client the session plays for.
type Platform struct {
	UserAgent string
}

// Supported reports whether live channel output can feed the analysis tap
// on this platform. iOS devices corrupt playback when an element's output is
// rerouted, so they are excluded up front. Windows Phone user agents also
// claim "iPhone" and are not part of that class.
func (p Platform) Supported() bool {
	ua := p.UserAgent
	if strings.Contains(ua, "Windows Phone") || strings.Contains(ua, "IEMobile") {
		return true
	}
	for _, dev := range []string{"iPad", "iPhone", "iPod"} {
		if strings.Contains(ua, dev) {
			return false
		}
	}
	return true
}

// Headless is the platform of a local process without a browser.
var Headless = Platform{UserAgent: "musiccard"}
