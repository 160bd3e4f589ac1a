// Package prompt renders system prompt templates.
//
// Templates use ${name} placeholders. Substitution is deliberately
// non-failing: an unmatched placeholder is left verbatim, because a partially
// specified prompt is preferable to a crashed batch.
package prompt

import (
	"fmt"
	"os"
	"regexp"
)

var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Render substitutes ${name} placeholders in template with values from
// params. Placeholders without a matching key are left untouched.
func Render(template string, params map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := match[2 : len(match)-1]
		if value, ok := params[name]; ok {
			return value
		}

		return match
	})
}

// RenderFile reads a template file and renders it with params.
func RenderFile(path string, params map[string]string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read prompt template: %w", err)
	}

	return Render(string(raw), params), nil
}
