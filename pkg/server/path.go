package server

import "strings"

// Path is a canonical resource path: an ordered sequence of non-empty
// segment strings. A Path is immutable after construction; mutating
// operations return a new Path.
type Path struct {
	parts []string
}

// ParsePath splits s by "/", dropping empty and single-dot parts.
// Characters outside printable ASCII, backslashes and colons are
// rejected, as are parts consisting solely of dots (parent-directory
// traversal). Rejections map to Forbidden so that a traversal attempt
// gets a 403 rather than leaking tree structure.
func ParsePath(s string) (Path, error) {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x20 || c > 0x7e {
			return Path{}, NewError(ErrForbidden, "path contains a character that is not printable ASCII")
		}
		switch c {
		case '\\', ':':
			return Path{}, NewError(ErrForbidden, "path contains bad character")
		}
	}
	var parts []string
	for _, part := range strings.Split(s, "/") {
		if part == "" || part == "." {
			continue
		}
		if strings.Trim(part, ".") == "" {
			return Path{}, NewError(ErrForbidden, "path not allowed to contain parent dots")
		}
		parts = append(parts, part)
	}
	return Path{parts: parts}, nil
}

// MustParsePath is ParsePath for statically known paths.
func MustParsePath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Path) String() string {
	return strings.Join(p.parts, "/")
}

func (p Path) Empty() bool {
	return len(p.parts) == 0
}

func (p Path) Len() int {
	return len(p.parts)
}

func (p Path) At(i int) string {
	return p.parts[i]
}

func (p Path) Front() string {
	return p.parts[0]
}

func (p Path) Back() string {
	return p.parts[len(p.parts)-1]
}

// PopFront returns the path without its first part.
func (p Path) PopFront() Path {
	if len(p.parts) == 0 {
		return p
	}
	return Path{parts: p.parts[1:]}
}

// Join appends q's parts after p's.
func (p Path) Join(q Path) Path {
	parts := make([]string, 0, len(p.parts)+len(q.parts))
	parts = append(parts, p.parts...)
	parts = append(parts, q.parts...)
	return Path{parts: parts}
}

// JoinString is Join with an on-the-fly parse of q.
func (p Path) JoinString(q string) (Path, error) {
	qp, err := ParsePath(q)
	if err != nil {
		return Path{}, err
	}
	return p.Join(qp), nil
}

func (p Path) Equal(q Path) bool {
	if len(p.parts) != len(q.parts) {
		return false
	}
	for i := range p.parts {
		if p.parts[i] != q.parts[i] {
			return false
		}
	}
	return true
}

// Compare orders paths lexicographically over their parts.
func (p Path) Compare(q Path) int {
	n := min(len(p.parts), len(q.parts))
	for i := 0; i < n; i++ {
		if c := strings.Compare(p.parts[i], q.parts[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(p.parts) < len(q.parts):
		return -1
	case len(p.parts) > len(q.parts):
		return 1
	}
	return 0
}
