package config

import (
	"fmt"
	"os"
	"strings"
)

func readFile(path string) ([]byte, error) { return os.ReadFile(path) }

// expandVars resolves ${VAR}, ${VAR:-default}, and $$ (a literal $) inside
// raw before it's handed to the TOML parser. A referenced VAR with no
// default that isn't found in env is an error.
func expandVars(raw string, env func(string) (string, bool)) (string, error) {
	var out strings.Builder
	i := 0
	for i < len(raw) {
		if raw[i] == '$' && i+1 < len(raw) && raw[i+1] == '$' {
			out.WriteByte('$')
			i += 2
			continue
		}
		if raw[i] == '$' && i+1 < len(raw) && raw[i+1] == '{' {
			end := strings.IndexByte(raw[i+2:], '}')
			if end < 0 {
				return "", fmt.Errorf("unterminated ${...} starting at byte %d", i)
			}
			expr := raw[i+2 : i+2+end]
			val, err := resolveVar(expr, env)
			if err != nil {
				return "", err
			}
			out.WriteString(val)
			i += 2 + end + 1
			continue
		}
		out.WriteByte(raw[i])
		i++
	}
	return out.String(), nil
}

func resolveVar(expr string, env func(string) (string, bool)) (string, error) {
	name, def, hasDefault := strings.Cut(expr, ":-")
	if v, ok := env(name); ok {
		return v, nil
	}
	if hasDefault {
		return def, nil
	}
	return "", fmt.Errorf("required variable %q is not set", name)
}
