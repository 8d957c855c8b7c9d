package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/imei-registry/internal/config"
)

func TestInstanceCloseIsIdempotent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	releases := 0

	inst := newInstance(ctx, "abc", cancel)
	inst.release = func() error {
		releases++
		return errors.New("container already gone")
	}

	assert.False(t, inst.Closed())
	err := inst.Close()
	assert.EqualError(t, err, "container already gone")
	assert.EqualError(t, inst.Close(), "container already gone")
	assert.True(t, inst.Closed())
	assert.Equal(t, 1, releases)
}

func TestNewLauncher(t *testing.T) {
	cfg := config.Default().Browser

	l, err := NewLauncher(cfg)
	require.NoError(t, err)
	assert.IsType(t, &LocalLauncher{}, l)

	cfg.Backend = config.BackendRemote
	cfg.RemoteURL = "ws://127.0.0.1:9222"
	l, err = NewLauncher(cfg)
	require.NoError(t, err)
	assert.IsType(t, &RemoteLauncher{}, l)

	cfg.Backend = "firefox"
	_, err = NewLauncher(cfg)
	assert.Error(t, err)
}

func TestLocalAllocatorOptions(t *testing.T) {
	cfg := config.Default().Browser
	l := &LocalLauncher{config: cfg}
	base := len(l.allocatorOptions())

	cfg.ChromePath = "/opt/chrome/chrome"
	cfg.UserAgent = "Mozilla/5.0"
	l = &LocalLauncher{config: cfg}
	assert.Len(t, l.allocatorOptions(), base+2)

	cfg.Headless = false
	l = &LocalLauncher{config: cfg}
	assert.Len(t, l.allocatorOptions(), base+1)
}

func TestContainerName(t *testing.T) {
	assert.Equal(t, "imei-browser-01234567", containerName("0123456789abcdef"))
	assert.Equal(t, "imei-browser-shared", containerName("shared"))
}

func TestLocalLauncher_Launch(t *testing.T) {
	cfg := config.Default().Browser
	cfg.LaunchTimeout = 20 * time.Second

	l := &LocalLauncher{config: cfg}
	inst, err := l.Launch(context.Background(), "test")
	if err != nil {
		t.Skipf("Skipping browser test - Chrome may not be available: %v", err)
	}
	defer inst.Close()

	var title string
	ctx, cancel := context.WithTimeout(inst.Context(), 10*time.Second)
	defer cancel()
	err = chromedp.Run(ctx,
		chromedp.Navigate("data:text/html,<html><head><title>ok</title></head><body></body></html>"),
		chromedp.Title(&title),
	)
	require.NoError(t, err)
	assert.Equal(t, "ok", title)

	require.NoError(t, inst.Close())
	assert.True(t, inst.Closed())
}
