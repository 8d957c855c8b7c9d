package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/shehryarbajwa/imei-registry/internal/config"
)

func TestSiteFromConfig(t *testing.T) {
	site := SiteFromConfig(config.SiteConfig{
		URL:           "http://127.0.0.1:8080/",
		ResultTimeout: time.Second,
	})

	assert.Equal(t, "http://127.0.0.1:8080/", site.URL)
	assert.Equal(t, time.Second, site.ResultTimeout)
	assert.Equal(t, 5*time.Second, site.FormTimeout)
	assert.Equal(t, `input[name="IMEI"]`, site.IMEIInput)
	assert.Equal(t, "#buscar", site.SearchButton)
}
