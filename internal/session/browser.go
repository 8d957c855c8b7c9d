package session

import (
	"context"
	"errors"

	"github.com/shehryarbajwa/imei-registry/pkg/models"
)

var (
	// ErrInvalidInput means the caller sent a malformed IMEI or CAPTCHA answer
	ErrInvalidInput = errors.New("invalid input")
	// ErrSessionExpired means the token is unknown, consumed or superseded
	ErrSessionExpired = errors.New("session expired")
	// ErrUpstreamUnavailable means the registry site could not be opened
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrLookupFailed means the browser failed while submitting the CAPTCHA
	ErrLookupFailed = errors.New("lookup failed")
	// ErrCapacity means every browser slot is taken
	ErrCapacity = errors.New("too many active lookups")
)

// Browser is one live automated browser pointed at the registry site
type Browser interface {
	// OpenCaptcha loads the search form, enters the IMEI and returns the
	// CAPTCHA image as PNG bytes.
	OpenCaptcha(ctx context.Context, imei string) ([]byte, error)
	// SubmitCaptcha enters the CAPTCHA answer, runs the search and
	// classifies the rendered result.
	SubmitCaptcha(ctx context.Context, text string) (models.LookupResult, error)
	// Reset puts the browser back on the search form
	Reset(ctx context.Context) error
	// DebugURL is the CDP endpoint of the browser, empty when unavailable
	DebugURL() string
	Close() error
}

// Launcher creates browsers
type Launcher interface {
	Launch(ctx context.Context, id string) (Browser, error)
}
