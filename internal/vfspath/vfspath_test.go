package vfspath

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAbsolutePath(t *testing.T) {
	for _, test := range []struct {
		cwd   string
		input string
		want  string
	}{
		{"/", "", "/"},
		{"/home/u", "file", "/home/u/file"},
		{"/a/b", "../c", "/a/c"},
		{"/a/b/c", "../../x/./y", "/a/x/y"},
		{"/a", "/b//c/", "/b/c"},
		{"/", "..", "/"},
		{"/a/b/c", "", "/a/b/c"},
		{"/", "a/b/c", "/a/b/c"},
		{"/a/b", "/", "/"},
		{"/a", "./././x", "/a/x"},
		{"/a/b/c/d", "../../..", "/a"},
		{"/a/b", "..", "/a"},
		{"/", "./", "/"},
	} {
		got := AbsolutePath(test.cwd, test.input)
		assert.Equal(t, test.want, got, "cwd=%q input=%q", test.cwd, test.input)
	}
}

func TestAbsolutePathInvariants(t *testing.T) {
	cases := []struct{ cwd, input string }{
		{"/", ""},
		{"/a/b/c", "../../x/./y"},
		{"/a", "/b//c/"},
		{"/usr/local", "../../etc/../var/./log/"},
	}
	for _, c := range cases {
		got := AbsolutePath(c.cwd, c.input)
		assert.True(t, strings.HasPrefix(got, "/"), "result must be absolute: %q", got)
		assert.NotContains(t, got, "//")
		assert.False(t, got != "/" && strings.HasSuffix(got, "/"), "no trailing slash unless root: %q", got)
		for _, seg := range strings.Split(got, "/") {
			assert.NotEqual(t, ".", seg)
			assert.NotEqual(t, "..", seg)
		}
	}
}
