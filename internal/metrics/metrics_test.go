package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersExposed(t *testing.T) {
	before := testutil.ToFloat64(Lookups.WithLabelValues("clean"))
	Lookups.WithLabelValues("clean").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(Lookups.WithLabelValues("clean")))

	ObserveOp("open_captcha", time.Now().Add(-time.Second))

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "imei_registry_lookups_total")
	assert.Contains(t, string(body), `imei_registry_browser_op_seconds_count{op="open_captcha"}`)
}
