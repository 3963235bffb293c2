package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePath(t *testing.T) {
	cases := []struct {
		in    string
		parts []string
	}{
		{"", nil},
		{"/", nil},
		{"a/b/c", []string{"a", "b", "c"}},
		{"/a//b/", []string{"a", "b"}},
		{"./a/./b", []string{"a", "b"}},
		{"a.b/c-d", []string{"a.b", "c-d"}},
	}
	for _, c := range cases {
		p, err := ParsePath(c.in)
		require.NoError(t, err, "in=%q", c.in)
		assert.Equal(t, len(c.parts), p.Len(), "in=%q", c.in)
		for i, part := range c.parts {
			assert.Equal(t, part, p.At(i), "in=%q", c.in)
		}
	}
}

func TestParsePathRejects(t *testing.T) {
	for _, in := range []string{
		"..",
		"a/../b",
		"a/....",
		"a\\b",
		"a:b",
		"a/\x01b",
		"café",
	} {
		_, err := ParsePath(in)
		require.Error(t, err, "in=%q", in)
		srvErr, ok := err.(*Error)
		require.True(t, ok, "in=%q", in)
		assert.Equal(t, ErrForbidden, srvErr.Kind, "in=%q", in)
	}
}

func TestPathIdempotent(t *testing.T) {
	for _, in := range []string{"", "a", "a/b/c", "/a//b/./c/"} {
		p, err := ParsePath(in)
		require.NoError(t, err)
		p2, err := ParsePath(p.String())
		require.NoError(t, err)
		assert.True(t, p.Equal(p2), "in=%q", in)
	}
}

func TestPathOperations(t *testing.T) {
	p := MustParsePath("a/b")
	q := MustParsePath("c/d")
	joined := p.Join(q)
	assert.Equal(t, "a/b/c/d", joined.String())

	assert.Equal(t, "a", p.Front())
	assert.Equal(t, "b", p.Back())
	assert.Equal(t, "b", p.PopFront().String())
	assert.True(t, p.PopFront().PopFront().Empty())

	// The originals are untouched.
	assert.Equal(t, "a/b", p.String())
	assert.Equal(t, "c/d", q.String())
}

func TestPathCompare(t *testing.T) {
	assert.Equal(t, 0, MustParsePath("a/b").Compare(MustParsePath("a/b")))
	assert.Equal(t, -1, MustParsePath("a").Compare(MustParsePath("a/b")))
	assert.Equal(t, 1, MustParsePath("b").Compare(MustParsePath("a/z")))
}
