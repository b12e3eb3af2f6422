package template

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/freightlane/notify-api/internal/model"
)

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}`)

// Render interpolates {{name}} placeholders in every content field with vars.
// Unknown placeholders render as the empty string.
func Render(content model.StringMap, vars map[string]interface{}) model.StringMap {
	out := make(model.StringMap, len(content))
	for field, text := range content {
		out[field] = placeholder.ReplaceAllStringFunc(text, func(m string) string {
			name := placeholder.FindStringSubmatch(m)[1]
			v, ok := vars[name]
			if !ok || v == nil {
				return ""
			}
			return fmt.Sprint(v)
		})
	}
	return out
}

// Placeholders lists the distinct variable names referenced by content, sorted.
func Placeholders(content model.StringMap) []string {
	seen := map[string]struct{}{}
	for _, text := range content {
		for _, m := range placeholder.FindAllStringSubmatch(text, -1) {
			seen[m[1]] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
