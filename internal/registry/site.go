// Package registry drives the public IMEI registry site through a
// chromedp-controlled browser and interprets what it renders.
package registry

import (
	"time"

	"github.com/shehryarbajwa/imei-registry/internal/config"
)

// Site holds the load-bearing details of the registry web page. They have
// to track the live site whenever its markup changes.
type Site struct {
	URL string

	IMEIInput    string // css
	CaptchaImage string // css
	CaptchaInput string // css
	SearchButton string // css
	ResultMarker string // xpath

	NavigateTimeout time.Duration
	FormTimeout     time.Duration
	ResultTimeout   time.Duration
}

// DefaultSite returns the selectors of imeicolombia.com.co
func DefaultSite() Site {
	return Site{
		URL:             "https://www.imeicolombia.com.co/",
		IMEIInput:       `input[name="IMEI"]`,
		CaptchaImage:    `#captcha`,
		CaptchaInput:    `#txtInput`,
		SearchButton:    `#buscar`,
		ResultMarker:    `//td[contains(text(), 'IMEI')]`,
		NavigateTimeout: 20 * time.Second,
		FormTimeout:     5 * time.Second,
		ResultTimeout:   10 * time.Second,
	}
}

// SiteFromConfig overlays the configured URL and timeouts on the defaults
func SiteFromConfig(cfg config.SiteConfig) Site {
	site := DefaultSite()
	if cfg.URL != "" {
		site.URL = cfg.URL
	}
	if cfg.NavigateTimeout > 0 {
		site.NavigateTimeout = cfg.NavigateTimeout
	}
	if cfg.FormTimeout > 0 {
		site.FormTimeout = cfg.FormTimeout
	}
	if cfg.ResultTimeout > 0 {
		site.ResultTimeout = cfg.ResultTimeout
	}
	return site
}
