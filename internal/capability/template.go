package capability

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	varRe      = regexp.MustCompile(`\{\{([a-zA-Z_][a-zA-Z0-9_]*)\}\}`)
	ifOpenRe   = regexp.MustCompile(`\{\{#if\s+([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)
	ifCloseStr = "{{/if}}"
)

// Vars is a map of variable names to values for instruction rendering.
type Vars map[string]string

// Render expands an instruction template. {{variable}} is replaced with
// its value; a missing variable is an error. {{#if variable}}...{{/if}}
// blocks are included only when the variable is non-empty.
func Render(tmpl string, vars Vars) (string, error) {
	result, err := renderConditionals(tmpl, vars)
	if err != nil {
		return "", err
	}

	var missing []string
	expanded := varRe.ReplaceAllStringFunc(result, func(match string) string {
		m := varRe.FindStringSubmatch(match)
		if m == nil {
			return match
		}
		if val, ok := vars[m[1]]; ok {
			return val
		}
		missing = append(missing, m[1])
		return match
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("missing instruction variables: %s", strings.Join(missing, ", "))
	}
	return expanded, nil
}

// renderConditionals resolves {{#if}} blocks innermost first: for each
// {{/if}}, the nearest preceding {{#if}} is its opener.
func renderConditionals(tmpl string, vars Vars) (string, error) {
	result := tmpl
	for {
		closeIdx := strings.Index(result, ifCloseStr)
		if closeIdx == -1 {
			break
		}

		prefix := result[:closeIdx]
		openLocs := ifOpenRe.FindAllStringIndex(prefix, -1)
		if openLocs == nil {
			return "", fmt.Errorf("dangling {{/if}} without matching {{#if}}")
		}
		last := openLocs[len(openLocs)-1]

		m := ifOpenRe.FindStringSubmatch(prefix[last[0]:last[1]])
		if m == nil {
			return "", fmt.Errorf("malformed conditional tag: %s", prefix[last[0]:last[1]])
		}

		body := result[last[1]:closeIdx]
		var replacement string
		if val, ok := vars[m[1]]; ok && val != "" {
			replacement = body
		}
		result = result[:last[0]] + replacement + result[closeIdx+len(ifCloseStr):]
	}

	if loc := ifOpenRe.FindString(result); loc != "" {
		return "", fmt.Errorf("unclosed conditional block: %s", loc)
	}
	return result, nil
}
