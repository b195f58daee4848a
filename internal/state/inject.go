// Package state provides instruction template state injection.
package state

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tomekpanek/agentkit/agent"
	"github.com/tomekpanek/agentkit/session"
)

// mustacheRE matches {{key}}-style placeholders, optionally namespaced
// (app:, user:, temp:) and optionally suffixed with '?'. The character
// set is restricted to avoid rewriting free text.
var mustacheRE = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*:(?:[A-Za-z_][A-Za-z0-9_]*)|[A-Za-z_][A-Za-z0-9_]*)(\?)?\s*\}\}`)

var placeholderRE = regexp.MustCompile(`\{([^{}]+)\}`)

// normalize converts {{key}}-style placeholders to the native
// single-brace form so the replacement logic works uniformly.
func normalize(s string) string {
	if s == "" {
		return s
	}
	return mustacheRE.ReplaceAllString(s, `{$1$2}`)
}

// Inject replaces {key} placeholders in the instruction template with
// values from the invocation's session state.
//
// Supported forms:
//   - {key}: replaced with the state value; left as-is when the key is
//     absent so the model can see the unresolved template.
//   - {key?}: optional, replaced with the empty string when absent.
//   - {app:key}, {user:key}, {temp:key}: namespaced lookups.
//
// Values that unmarshal as JSON are rendered with their scalar form,
// other values are inserted verbatim.
func Inject(template string, invocation *agent.Invocation) (string, error) {
	if template == "" {
		return template, nil
	}
	template = normalize(template)

	result := placeholderRE.ReplaceAllStringFunc(template, func(match string) string {
		varName := strings.Trim(match, "{}")

		optional := strings.HasSuffix(varName, "?")
		if optional {
			varName = strings.TrimSuffix(varName, "?")
		}

		if !isValidStateName(varName) {
			return match
		}

		// GetState locks against concurrent delta merges; branches of a
		// parallel fan-out share the session with the append path.
		if invocation != nil && invocation.Session != nil {
			if raw, exists := invocation.Session.GetState(varName); exists {
				var value any
				if err := json.Unmarshal(raw, &value); err == nil {
					return fmt.Sprintf("%v", value)
				}
				return string(raw)
			}
		}

		if optional {
			return ""
		}
		return match
	})
	return result, nil
}

// isValidStateName accepts identifiers and prefix:identifier names.
func isValidStateName(varName string) bool {
	if isIdentifier(varName) {
		return true
	}
	parts := strings.Split(varName, ":")
	if len(parts) != 2 {
		return false
	}
	switch parts[0] + ":" {
	case session.StateAppPrefix, session.StateUserPrefix, session.StateTempPrefix:
		return isIdentifier(parts[1])
	}
	return false
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
