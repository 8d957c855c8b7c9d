package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/shehryarbajwa/imei-registry/internal/config"
)

// Launcher creates browser instances
type Launcher interface {
	Launch(ctx context.Context, id string) (*Instance, error)
	Close() error
}

// NewLauncher returns the launcher for the configured backend
func NewLauncher(cfg config.BrowserConfig) (Launcher, error) {
	switch cfg.Backend {
	case config.BackendLocal, "":
		return &LocalLauncher{config: cfg}, nil
	case config.BackendRemote:
		return &RemoteLauncher{url: cfg.RemoteURL, launchTimeout: cfg.LaunchTimeout}, nil
	case config.BackendDocker:
		return NewDockerLauncher(cfg)
	default:
		return nil, fmt.Errorf("unsupported browser backend: %s", cfg.Backend)
	}
}

// LocalLauncher spawns a Chrome process per instance
type LocalLauncher struct {
	config config.BrowserConfig
}

func (l *LocalLauncher) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.DisableGPU,
		chromedp.NoSandbox, // Required for Docker environments
		chromedp.Flag("disable-dev-shm-usage", true),
		// The CAPTCHA is drawn on a canvas, images are not needed
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
	}

	if l.config.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if l.config.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(l.config.ChromePath))
	}
	if l.config.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(l.config.UserAgent))
	}

	return opts
}

func (l *LocalLauncher) Launch(ctx context.Context, id string) (*Instance, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), l.allocatorOptions()...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	inst := newInstance(tabCtx, id, tabCancel, allocCancel)
	if err := start(ctx, inst, l.config.LaunchTimeout); err != nil {
		inst.Close()
		return nil, err
	}
	return inst, nil
}

func (l *LocalLauncher) Close() error {
	return nil
}

// RemoteLauncher opens a fresh tab per instance on an already running
// browser reachable over CDP.
type RemoteLauncher struct {
	url           string
	launchTimeout time.Duration
}

func (l *RemoteLauncher) Launch(ctx context.Context, id string) (*Instance, error) {
	return connectRemote(ctx, id, l.url, l.launchTimeout)
}

func (l *RemoteLauncher) Close() error {
	return nil
}

func connectRemote(ctx context.Context, id, url string, timeout time.Duration) (*Instance, error) {
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), url)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	inst := newInstance(tabCtx, id, tabCancel, allocCancel)
	inst.DevToolsURL = url
	if err := start(ctx, inst, timeout); err != nil {
		inst.Close()
		return nil, err
	}
	return inst, nil
}

// start performs the first Run on the tab, which allocates the browser.
// The first Run must not carry a deadline (it would kill the browser when
// it fires), so the launch timeout is enforced from outside.
func start(ctx context.Context, inst *Instance, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(inst.Context())
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to start browser: %w", err)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("browser did not start within %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
