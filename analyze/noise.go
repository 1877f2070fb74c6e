package analyze

import (
	"path/filepath"
	"strings"
)

// noiseDirPrefixes and noiseSuffixes implement the file noise filter
// (spec.md §4.M) applied to activity summaries, the timeline, and the
// missing-file diagnosis rule.
var noiseDirPrefixes = []string{
	"/proc/self/",
	"/proc/thread-self/",
	"/dev/null",
	"/dev/urandom",
}

var noiseBasenames = map[string]bool{
	"ld.so.cache":    true,
	"ld.so.preload":  true,
	"locale-archive": true,
	"gconv-modules":  true,
	"nsswitch.conf":  true,
	"METADATA":       true,
}

var noiseDirNames = map[string]bool{
	"__pycache__":  true,
	"site-packages": true,
}

func isNoisePath(path string) bool {
	for _, p := range noiseDirPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	if strings.Contains(path, "/glibc-hwcaps/") {
		return true
	}

	base := filepath.Base(path)
	if noiseBasenames[base] {
		return true
	}
	if strings.HasSuffix(base, ".so") || strings.Contains(base, ".so.") {
		return true
	}
	if strings.HasPrefix(base, "libnss_") {
		return true
	}
	if strings.HasSuffix(base, ".pyc") || strings.HasSuffix(base, ".cfg") || strings.HasSuffix(base, ".conf") {
		return true
	}

	for _, part := range strings.Split(path, "/") {
		if noiseDirNames[part] {
			return true
		}
	}
	return false
}

// isPathSearchProbe recognizes a failed open/stat on an executable basename
// being tried against successive PATH directories. Cheap heuristic: it is
// noise whenever the same basename failed with ENOENT in 2 or more distinct
// directories; a successful open of that basename elsewhere is not checked.
func isPathSearchProbe(basename string, distinctDirsProbed int) bool {
	return distinctDirsProbed >= 2
}

// isNoiseConnect filters network noise: nscd's local socket and netlink
// family sockets (never real "connections" to correlate with network
// activity).
func isNoiseConnect(proto, dstAddr string) bool {
	if strings.Contains(dstAddr, "nscd") {
		return true
	}
	if strings.HasPrefix(proto, "family:") {
		// AF_NETLINK is family 16; socket()/connect() against it never
		// carries a meaningful destination address.
		return proto == "family:16"
	}
	return false
}
