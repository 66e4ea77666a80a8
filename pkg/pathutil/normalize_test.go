package pathutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", "."},
		{"already clean", "/a/b/c", "/a/b/c"},
		{"dot segments", "/a/./b/./c", "/a/b/c"},
		{"dotdot pops", "/a/b/../c", "/a/c"},
		{"dotdot above root absorbed", "/../../a", "/a"},
		{"relative dotdot kept", "a/../../b", "../b"},
		{"trailing slash", "/a/b/", "/a/b"},
		{"bare root", "/", "/"},
		{"bare dot", ".", "."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizePath(tc.in))
		})
	}
}

func TestNormalizePath_Idempotent(t *testing.T) {
	inputs := []string{"/a/./b/../c/", "x/../../y", "/../a/b", "a/b/c"}
	for _, in := range inputs {
		once := NormalizePath(in)
		twice := NormalizePath(once)
		assert.Equal(t, once, twice, "NormalizePath not idempotent for %q", in)
	}
}

func TestIsAbs(t *testing.T) {
	assert.True(t, IsAbs("/a/b"))
	assert.False(t, IsAbs("a/b"))
	assert.True(t, IsAbs(`C:\a\b`))
}
