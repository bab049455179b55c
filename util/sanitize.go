package util

import (
	"github.com/microcosm-cc/bluemonday"
)

var htmlPolicy = bluemonday.UGCPolicy()

// SanitizeHTML strips scriptable markup from federated HTML content before
// it is stored. Remote servers are not trusted to send clean markup.
func SanitizeHTML(content string) string {
	return htmlPolicy.Sanitize(content)
}
