// Package config handles segmark.yaml loading for the segmark commands.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// envVarPattern matches $${...}, ${VAR}, ${VAR:-default} and ${VAR:?message}.
var envVarPattern = regexp.MustCompile(`\$?\$\{([A-Za-z_][A-Za-z0-9_]*)(?::([-?])([^}]*))?\}`)

// ExpandEnv replaces environment references in a config file body.
//
//   - ${VAR} is the value of VAR, or empty when unset
//   - ${VAR:-default} is the value of VAR, or default when unset or empty
//   - ${VAR:?message} is the value of VAR; unset or empty is an error
//   - $${VAR} is the literal text ${VAR}
//
// Every missing required variable is reported, not just the first.
func ExpandEnv(input string) (string, error) {
	var missing []error
	out := envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		if strings.HasPrefix(match, "$$") {
			return match[1:]
		}
		groups := envVarPattern.FindStringSubmatch(match)
		name, op, arg := groups[1], groups[2], groups[3]

		if value := os.Getenv(name); value != "" {
			return value
		}
		switch op {
		case "-":
			return arg
		case "?":
			if arg == "" {
				arg = "required"
			}
			missing = append(missing, fmt.Errorf("%s: %s", name, arg))
		}
		return ""
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("missing environment: %w", errors.Join(missing...))
	}
	return out, nil
}
