package activation

import (
	"fmt"
	"sort"
	"strings"
)

// URLs is the set of addresses a running daemon publishes to collaborating
// build tools.
type URLs struct {
	HTTP       string // e.g. http://127.0.0.1:51234
	GRPC       string // inter-layer / adapter RPC endpoint
	ConfigHash string // the activation identity
	DaemonPID  int

	// TurboTeam/SCCacheBucket/XcodeServer are adapter-specific extras layered onto
	// the base URLs; empty fields are simply omitted from the export set.
	TurboTeam     string
	SCCacheBucket string
	XcodeServer   string // TCP URL, or a filesystem path in unix-socket mode
}

// Env builds the exact recognized-variable set from §6: only the names
// listed there are ever emitted, and only when a value is available.
// prefix replaces the "FABRIK" identity-variable prefix (empty defaults to
// "FABRIK"); the build-tool-native names (GRADLE_BUILD_CACHE_URL, TURBO_API,
// ...) are fixed by those tools and never take the prefix.
func Env(prefix string, u URLs) map[string]string {
	if prefix == "" {
		prefix = "FABRIK"
	}
	env := map[string]string{
		prefix + "_HTTP_URL":                  u.HTTP,
		prefix + "_GRPC_URL":                  u.GRPC,
		prefix + "_CONFIG_HASH":               u.ConfigHash,
		prefix + "_DAEMON_PID":                fmt.Sprintf("%d", u.DaemonPID),
		"GRADLE_BUILD_CACHE_URL":              u.HTTP,
		"NX_SELF_HOSTED_REMOTE_CACHE_SERVER":  u.HTTP,
		"TURBO_API":                           u.HTTP,
		"SCCACHE_ENDPOINT":                    u.HTTP,
		"RUSTC_WRAPPER":                       "sccache",
	}
	if u.TurboTeam != "" {
		env["TURBO_TEAM"] = u.TurboTeam
	}
	if u.SCCacheBucket != "" {
		env["SCCACHE_BUCKET"] = u.SCCacheBucket
	}
	if u.XcodeServer != "" {
		env["XCODE_CACHE_SERVER"] = u.XcodeServer
	}
	return env
}

// ExportPrefix renders env as POSIX "export K=V ..." shell text, one
// variable per line, in deterministic (sorted) key order so a shell hook
// can eval it. Each value is single-quoted to survive special characters
// safely (URLs and paths are the only values this ever carries).
func ExportPrefix(env map[string]string) string {
	if len(env) == 0 {
		return ""
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "export %s=%s\n", k, shellQuote(env[k]))
	}
	return b.String()
}

// shellQuote wraps s in single quotes, escaping any embedded single quote
// using the standard '"'"' POSIX idiom.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
