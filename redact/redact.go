// Package redact implements the pack's redaction contract: pattern-driven
// scrubbing of environment variable keys and bearer-like substrings in
// captured stdio, with allow/deny-list overrides (spec.md §6).
package redact

import (
	"regexp"
	"sort"
	"strings"
)

// Placeholder replaces the value of any matched key.
const Placeholder = "[REDACTED]"

// keyPatterns holds the ~35 built-in case-insensitive substrings grouped by
// family. A key matches if it contains any pattern in any family.
var keyPatterns = []string{
	"api_key", "apikey", "api-key",
	"token", "access_token", "refresh_token", "id_token",
	"secret", "client_secret",
	"password", "passwd", "pwd",
	"credential",
	"private_key", "privatekey",
	"session",
	"auth", "authorization",
	"encryption_key", "encryptionkey", "signing_key", "signingkey",
	"webhook",
	"aws_secret_access_key", "aws_session_token",
	"gcp_key", "google_application_credentials",
	"azure_client_secret", "azure_tenant_secret",
	"ci_token", "gitlab_token", "github_token", "npm_token",
	"bearer",
	"cookie",
}

// credentialURLKey marks *_url keys that should be redacted only if their
// value actually embeds userinfo-style credentials.
var credentialURLKey = regexp.MustCompile(`(?i)_url$`)
var urlWithCreds = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://[^/@\s]+:[^/@\s]+@`)

var bearerPattern = regexp.MustCompile(`(?i)bearer\s+[a-z0-9._\-]+`)

// Rules holds allow/deny overrides layered on top of the built-in patterns.
// Allowlist entries (exact, case-insensitive key match) are never redacted;
// denylist entries are always redacted regardless of the built-in patterns.
type Rules struct {
	Allow map[string]bool
	Deny  map[string]bool
}

// NewRules builds a Rules from raw allow/deny key lists.
func NewRules(allow, deny []string) Rules {
	r := Rules{Allow: make(map[string]bool), Deny: make(map[string]bool)}
	for _, k := range allow {
		r.Allow[strings.ToLower(k)] = true
	}
	for _, k := range deny {
		r.Deny[strings.ToLower(k)] = true
	}
	return r
}

// shouldRedactKey applies allow > deny > pattern precedence.
func (r Rules) shouldRedactKey(key, value string) bool {
	lk := strings.ToLower(key)
	if r.Allow[lk] {
		return false
	}
	if r.Deny[lk] {
		return true
	}
	for _, p := range keyPatterns {
		if strings.Contains(lk, p) {
			return true
		}
	}
	if credentialURLKey.MatchString(lk) && urlWithCreds.MatchString(value) {
		return true
	}
	return false
}

// Environment redacts a KEY=VALUE environment slice, returning a new slice
// (the input is never mutated).
func Environment(env []string, r Rules) []string {
	out := make([]string, len(env))
	for i, kv := range env {
		key, val, ok := strings.Cut(kv, "=")
		if !ok {
			out[i] = kv
			continue
		}
		if r.shouldRedactKey(key, val) {
			out[i] = key + "=" + Placeholder
		} else {
			out[i] = kv
		}
	}
	return out
}

// EnvironmentMap redacts a key->value environment map, for callers that
// already have it parsed (e.g. meta/environment.json assembly).
func EnvironmentMap(env map[string]string, r Rules) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		if r.shouldRedactKey(k, v) {
			out[k] = Placeholder
		} else {
			out[k] = v
		}
	}
	return out
}

// Stdio replaces bearer-like substrings in raw stdio bytes with
// "bearer [REDACTED]", leaving all other bytes (including non-UTF-8 ones)
// untouched.
func Stdio(b []byte) []byte {
	return bearerPattern.ReplaceAll(b, []byte("bearer "+Placeholder))
}

// SortedKeyPatterns returns the built-in key patterns in a stable order, for
// documentation/diagnostics surfaces.
func SortedKeyPatterns() []string {
	out := make([]string, len(keyPatterns))
	copy(out, keyPatterns)
	sort.Strings(out)
	return out
}
