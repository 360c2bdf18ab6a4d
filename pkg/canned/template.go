package canned

import (
	"regexp"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

// RenderTemplate replaces `{{var}}` placeholders with values from vars.
// Unknown placeholders are left verbatim, never dropped.
func RenderTemplate(template string, vars map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		name := placeholderRe.FindStringSubmatch(match)[1]
		if value, ok := vars[name]; ok {
			return value
		}
		return match
	})
}
