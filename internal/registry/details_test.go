package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractDetails(t *testing.T) {
	html := `<body>
<table id="menu"><tr><td>Inicio</td><td>Ayuda</td></tr></table>
<table>
  <tr><td>IMEI:</td><td> 123456789012345 </td></tr>
  <tr><td>Estado</td><td>No se encuentra   registrado</td></tr>
  <tr><td>solo una celda</td></tr>
  <tr><td></td><td>sin etiqueta</td></tr>
</table>
</body>`

	details := ExtractDetails(html)
	assert.Equal(t, map[string]string{
		"IMEI":   "123456789012345",
		"Estado": "No se encuentra registrado",
	}, details)
}

func TestExtractDetailsNoTable(t *testing.T) {
	assert.Nil(t, ExtractDetails(""))
	assert.Nil(t, ExtractDetails("<body><p>Captcha ingresado incorrecto</p></body>"))
	assert.Nil(t, ExtractDetails("<table><tr><td>a</td><td>b</td></tr></table>"))
}
