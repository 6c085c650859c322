package browser

import (
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/tagops-pipeline/internal/pipeline"
)

const mobileUserAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) " +
	"AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"

// Profile is the viewport a device class is captured with.
type Profile struct {
	Width     int64
	Height    int64
	Scale     float64
	Mobile    bool
	UserAgent string
}

// ProfileFor maps a device to its viewport. Unknown devices get the desktop profile.
func ProfileFor(device pipeline.Device) Profile {
	if device == pipeline.DeviceMobile {
		return Profile{Width: 375, Height: 812, Scale: 2, Mobile: true, UserAgent: mobileUserAgent}
	}
	return Profile{Width: 1920, Height: 1080, Scale: 1}
}

func (p Profile) emulate() chromedp.Action {
	opts := []chromedp.EmulateViewportOption{chromedp.EmulateScale(p.Scale)}
	if p.Mobile {
		opts = append(opts, chromedp.EmulateMobile, chromedp.EmulateTouch)
	}
	return chromedp.EmulateViewport(p.Width, p.Height, opts...)
}
