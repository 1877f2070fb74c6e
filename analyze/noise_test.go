package analyze

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsNoisePath(t *testing.T) {
	cases := map[string]bool{
		"/proc/self/maps":           true,
		"/lib/x86_64-linux-gnu/libc.so.6": true,
		"/etc/ld.so.cache":          true,
		"/usr/lib/locale-archive":   true,
		"/app/site-packages/foo.py": true,
		"/home/user/project/main.go": false,
		"/etc/myapp/config.json":    false,
	}
	for path, want := range cases {
		assert.Equal(t, want, isNoisePath(path), path)
	}
}

func TestIsPathSearchProbe(t *testing.T) {
	assert.True(t, isPathSearchProbe("foo", 2))
	assert.True(t, isPathSearchProbe("foo", 3))
	assert.False(t, isPathSearchProbe("foo", 1))
	assert.False(t, isPathSearchProbe("foo", 0))
}

func TestIsNoiseConnect(t *testing.T) {
	assert.True(t, isNoiseConnect("unix", "/var/run/nscd/socket"))
	assert.True(t, isNoiseConnect("family:16", ""))
	assert.False(t, isNoiseConnect("family:2", ""))
	assert.False(t, isNoiseConnect("tcp", "10.0.0.1:443"))
}
