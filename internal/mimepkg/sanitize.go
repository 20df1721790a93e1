package mimepkg

import "github.com/microcosm-cc/bluemonday"

var previewPolicy = bluemonday.StrictPolicy()

// SanitizeForPreview strips all markup from an HTML body, producing
// plain text safe to use as a chat message snippet/preview.
func SanitizeForPreview(html string) string {
	return previewPolicy.Sanitize(html)
}
