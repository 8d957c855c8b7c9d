package registry

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/shehryarbajwa/imei-registry/internal/browser"
	"github.com/shehryarbajwa/imei-registry/internal/config"
	"github.com/shehryarbajwa/imei-registry/pkg/models"
)

// fakeSitePage reproduces the parts of the registry form the driver touches
const fakeSitePage = `<!DOCTYPE html>
<html><body>
<form onsubmit="return false">
  <input name="IMEI" value="stale">
  <canvas id="captcha" width="120" height="40"></canvas>
  <input id="txtInput">
  <button id="buscar" type="button">Buscar</button>
</form>
<div id="out"></div>
<script>
  var c = document.getElementById('captcha').getContext('2d');
  c.fillStyle = '#336699'; c.fillRect(0, 0, 120, 40);
  document.getElementById('buscar').onclick = function () {
    var imei = document.getElementsByName('IMEI')[0].value;
    var out = document.getElementById('out');
    if (document.getElementById('txtInput').value === 'XY12') {
      out.innerHTML = '<table><tr><td>IMEI</td><td>' + imei + '</td></tr>' +
        '<tr><td>Estado</td><td>no se encuentra registrado en la base</td></tr></table>';
    } else {
      out.textContent = 'Captcha ingresado incorrecto';
    }
  };
</script>
</body></html>`

func launchAgainstFakeSite(t *testing.T, resultTimeout time.Duration) *Launcher {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(fakeSitePage))
	}))
	t.Cleanup(srv.Close)

	site := DefaultSite()
	site.URL = srv.URL
	site.ResultTimeout = resultTimeout

	cfg := config.Default().Browser
	cfg.LaunchTimeout = 20 * time.Second
	bl, err := browser.NewLauncher(cfg)
	require.NoError(t, err)

	return NewLauncher(bl, site, zaptest.NewLogger(t))
}

func TestBrowserLookupFlow(t *testing.T) {
	l := launchAgainstFakeSite(t, time.Second)
	ctx := context.Background()

	b, err := l.Launch(ctx, "flow")
	if err != nil {
		t.Skipf("Skipping browser test - Chrome may not be available: %v", err)
	}
	defer b.Close()

	png, err := b.OpenCaptcha(ctx, "123456789012345")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")), "captcha should be a PNG")

	result, err := b.SubmitCaptcha(ctx, "XY12")
	require.NoError(t, err)
	assert.Equal(t, models.StatusClean, result.Status)
	assert.Equal(t, "123456789012345", result.Details["IMEI"])
}

func TestBrowserCaptchaMismatch(t *testing.T) {
	l := launchAgainstFakeSite(t, time.Second)
	ctx := context.Background()

	b, err := l.Launch(ctx, "mismatch")
	if err != nil {
		t.Skipf("Skipping browser test - Chrome may not be available: %v", err)
	}
	defer b.Close()

	_, err = b.OpenCaptcha(ctx, "123456789012345")
	require.NoError(t, err)

	result, err := b.SubmitCaptcha(ctx, "nope")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRetry, result.Status)
	assert.Nil(t, result.Details)

	require.NoError(t, b.Reset(ctx))
	assert.Empty(t, b.DebugURL())
}

func TestBrowserSubmitStopsWhenCallerCancels(t *testing.T) {
	l := launchAgainstFakeSite(t, 30*time.Second)

	b, err := l.Launch(context.Background(), "cancel")
	if err != nil {
		t.Skipf("Skipping browser test - Chrome may not be available: %v", err)
	}
	defer b.Close()

	_, err = b.OpenCaptcha(context.Background(), "123456789012345")
	require.NoError(t, err)

	// a wrong answer never renders the marker, so the wait runs until cancelled
	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(500*time.Millisecond, cancel)
	defer timer.Stop()

	start := time.Now()
	result, err := b.SubmitCaptcha(ctx, "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, result.Status)
	assert.Less(t, time.Since(start), 10*time.Second)
}
