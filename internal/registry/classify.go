package registry

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/shehryarbajwa/imei-registry/pkg/models"
)

// Phrases the site renders in its result page
const (
	PhraseCaptchaMismatch = "incorrecto"
	PhraseNotRegistered   = "no se encuentra registrado"
	PhraseReported        = "se encuentra reportado"
	PhraseNegation        = "no se encuentra"
)

const (
	MessageMismatch   = "The image text does not match. Please try again."
	MessageClean      = "Safe: no theft or loss report is registered for this IMEI."
	MessageStolen     = "Danger: this IMEI is reported as stolen or lost."
	MessageUnreadable = "The result could not be read. Please try again."
)

// Classify maps the rendered page text to a lookup status. Rules are
// checked in order and the first match wins. Text that matches nothing is
// treated as a CAPTCHA miss so the caller can simply start over.
func Classify(pageText string) models.LookupResult {
	text := normalize(pageText)

	switch {
	case strings.Contains(text, normalize(PhraseCaptchaMismatch)):
		return models.LookupResult{Status: models.StatusRetry, Message: MessageMismatch}
	case strings.Contains(text, normalize(PhraseNotRegistered)):
		return models.LookupResult{Status: models.StatusClean, Message: MessageClean}
	case strings.Contains(text, normalize(PhraseReported)) &&
		!strings.Contains(text, normalize(PhraseNegation)):
		return models.LookupResult{Status: models.StatusStolen, Message: MessageStolen}
	default:
		return models.LookupResult{Status: models.StatusRetry, Message: MessageUnreadable}
	}
}

// normalize composes accents, folds case and collapses whitespace so that
// layout line breaks inside a phrase do not defeat matching.
func normalize(s string) string {
	s = norm.NFC.String(s)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}
