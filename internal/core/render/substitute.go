package render

import (
	"regexp"
	"strings"
)

// =============================================================================
// Variable Substitution Functions
// =============================================================================

// tokenPattern matches $$ (escaped dollar), ${VAR}, ${VAR:-default} and $VAR.
// Groups:
//   - Group 1: Variable name in braced form
//   - Group 2: ":-default" part including the separator (optional)
//   - Group 3: Variable name in bare form
var tokenPattern = regexp.MustCompile(`\$\$|\$\{([A-Za-z_][A-Za-z0-9_]*)((?::-)[^}]*)?\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// Substitute replaces variable tokens in value with entries from variables.
//
// Behavior:
//   - $VAR and ${VAR} - replaced with variables["VAR"]
//   - ${VAR:-default} - replaced with variables["VAR"] if present, otherwise
//     the default (which may be empty)
//   - $$ - replaced with a literal $
//
// Tokens that cannot be resolved and carry no default are returned in
// missing; the token text is left in place so the caller can report its
// location. Unresolved tokens are an error at render time, never silently
// passed through to the orchestrator.
//
// Examples:
//
//	Substitute("$ETH1_ENDPOINT", map[string]string{"ETH1_ENDPOINT": "http://geth:8551"})
//	// Returns: "http://geth:8551", nil
//
//	Substitute("${PORT:-8080}", nil)
//	// Returns: "8080", nil
//
//	Substitute("${MISSING}", nil)
//	// Returns: "${MISSING}", ["MISSING"]
func Substitute(value string, variables map[string]string) (string, []string) {
	var missing []string

	result := tokenPattern.ReplaceAllStringFunc(value, func(match string) string {
		if match == "$$" {
			return "$"
		}

		sub := tokenPattern.FindStringSubmatch(match)
		name := sub[1]
		if name == "" {
			name = sub[3] // bare $VAR form
		}

		if val, ok := variables[name]; ok {
			return val
		}
		if def := sub[2]; strings.HasPrefix(def, ":-") {
			return def[2:]
		}

		missing = append(missing, name)
		return match
	})

	return result, missing
}

// SubstituteAll applies Substitute to every element of values.
func SubstituteAll(values []string, variables map[string]string) ([]string, map[int][]string) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make([]string, len(values))
	var missing map[int][]string
	for i, v := range values {
		sub, miss := Substitute(v, variables)
		out[i] = sub
		if len(miss) > 0 {
			if missing == nil {
				missing = make(map[int][]string)
			}
			missing[i] = miss
		}
	}
	return out, missing
}

// ExtractTokens returns the unique variable names referenced in value, in
// order of first appearance. Used to report what a topology expects before
// rendering.
func ExtractTokens(value string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, sub := range tokenPattern.FindAllStringSubmatch(value, -1) {
		name := sub[1]
		if name == "" {
			name = sub[3]
		}
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}
