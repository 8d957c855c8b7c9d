package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/imei-registry/internal/browser"
	"github.com/shehryarbajwa/imei-registry/internal/metrics"
	"github.com/shehryarbajwa/imei-registry/internal/session"
	"github.com/shehryarbajwa/imei-registry/pkg/models"
)

// Browser drives one browser instance through the registry search form
type Browser struct {
	inst   *browser.Instance
	site   Site
	logger *zap.Logger
}

// NewBrowser binds a launched instance to the registry site
func NewBrowser(inst *browser.Instance, site Site, logger *zap.Logger) *Browser {
	return &Browser{
		inst:   inst,
		site:   site,
		logger: logger.With(zap.String("browser", inst.ID)),
	}
}

// opContext derives a bounded context from the tab that is also cancelled
// when the caller's context ends.
func (b *Browser) opContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(b.inst.Context(), timeout)
	stop := context.AfterFunc(parent, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (b *Browser) OpenCaptcha(ctx context.Context, imei string) ([]byte, error) {
	defer metrics.ObserveOp("open_captcha", time.Now())

	if err := b.navigate(ctx); err != nil {
		return nil, err
	}

	formCtx, cancel := b.opContext(ctx, b.site.FormTimeout)
	defer cancel()

	var png []byte
	err := chromedp.Run(formCtx,
		chromedp.WaitReady(b.site.IMEIInput, chromedp.ByQuery),
		chromedp.SetValue(b.site.IMEIInput, "", chromedp.ByQuery),
		chromedp.SendKeys(b.site.IMEIInput, imei, chromedp.ByQuery),
		chromedp.WaitReady(b.site.CaptchaImage, chromedp.ByQuery),
		chromedp.Screenshot(b.site.CaptchaImage, &png, chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("search form not ready: %w", err)
	}
	if len(png) == 0 {
		return nil, fmt.Errorf("captcha screenshot is empty")
	}

	return png, nil
}

func (b *Browser) SubmitCaptcha(ctx context.Context, text string) (models.LookupResult, error) {
	defer metrics.ObserveOp("submit_captcha", time.Now())

	submitCtx, cancel := b.opContext(ctx, b.site.FormTimeout)
	err := chromedp.Run(submitCtx,
		chromedp.SendKeys(b.site.CaptchaInput, text, chromedp.ByQuery),
		chromedp.Click(b.site.SearchButton, chromedp.ByQuery),
	)
	cancel()
	if err != nil {
		return models.LookupResult{}, fmt.Errorf("failed to submit captcha: %w", err)
	}

	// A CAPTCHA miss never renders the marker, so a timeout here is normal
	waitCtx, cancel := b.opContext(ctx, b.site.ResultTimeout)
	err = chromedp.Run(waitCtx, chromedp.WaitReady(b.site.ResultMarker, chromedp.BySearch))
	cancel()
	if err != nil {
		if ctx.Err() != nil || b.inst.Closed() {
			return models.LookupResult{}, fmt.Errorf("waiting for result: %w", err)
		}
		b.logger.Debug("Result marker did not appear, classifying anyway", zap.Error(err))
	}

	readCtx, cancel := b.opContext(ctx, b.site.FormTimeout)
	defer cancel()

	var pageText, bodyHTML string
	err = chromedp.Run(readCtx,
		chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &pageText),
		chromedp.OuterHTML("body", &bodyHTML, chromedp.ByQuery),
	)
	if err != nil {
		return models.LookupResult{}, fmt.Errorf("failed to read result page: %w", err)
	}

	result := Classify(pageText)
	if result.Status == models.StatusClean || result.Status == models.StatusStolen {
		result.Details = ExtractDetails(bodyHTML)
	}

	return result, nil
}

// Reset navigates back to the search form
func (b *Browser) Reset(ctx context.Context) error {
	return b.navigate(ctx)
}

func (b *Browser) navigate(ctx context.Context) error {
	navCtx, cancel := b.opContext(ctx, b.site.NavigateTimeout)
	defer cancel()

	if err := chromedp.Run(navCtx, chromedp.Navigate(b.site.URL)); err != nil {
		return fmt.Errorf("failed to load %s: %w", b.site.URL, err)
	}
	return nil
}

func (b *Browser) DebugURL() string {
	return b.inst.DevToolsURL
}

func (b *Browser) Close() error {
	return b.inst.Close()
}

// Launcher adapts a browser launcher to produce registry-bound browsers
type Launcher struct {
	launcher browser.Launcher
	site     Site
	logger   *zap.Logger
}

func NewLauncher(launcher browser.Launcher, site Site, logger *zap.Logger) *Launcher {
	return &Launcher{
		launcher: launcher,
		site:     site,
		logger:   logger,
	}
}

func (l *Launcher) Launch(ctx context.Context, id string) (session.Browser, error) {
	defer metrics.ObserveOp("launch", time.Now())

	inst, err := l.launcher.Launch(ctx, id)
	if err != nil {
		return nil, err
	}
	return NewBrowser(inst, l.site, l.logger), nil
}
