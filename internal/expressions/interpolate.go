package expressions

import (
	"regexp"
	"strings"
)

// placeholderRe matches {name} where name contains no braces.
var placeholderRe = regexp.MustCompile(`\{([^{}]+)\}`)

// Interpolate replaces every {path} placeholder in template with the value
// at path in vars. Placeholders whose path does not resolve are left as they
// are, so a template without placeholders round-trips unchanged.
func Interpolate(template string, vars map[string]any) string {
	if !strings.Contains(template, "{") {
		return template
	}
	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		path := strings.TrimSpace(match[1 : len(match)-1])
		val, ok := Lookup(vars, path)
		if !ok {
			return match
		}
		return Stringify(val)
	})
}

// Placeholders returns the paths referenced by template in order of
// appearance.
func Placeholders(template string) []string {
	matches := placeholderRe.FindAllStringSubmatch(template, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.TrimSpace(m[1]))
	}
	return out
}
