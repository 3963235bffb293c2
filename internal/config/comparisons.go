package config

import (
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/risevideo/risecast/pkg/server"
)

// These are used repeatedly by the instance state machine when deciding
// which channels must restart on a configuration replacement.

var cmpOptions = []cmp.Option{
	cmp.Comparer(func(a, b server.Address) bool { return a.String() == b.String() }),
	cmpopts.EquateEmpty(),
}

func (c *Channel) Equal(other *Channel) bool {
	return cmp.Equal(c, other, cmpOptions...)
}

// DiffersByUidOnly reports whether the channel differs from other only
// by its UID and the fields calculated from it by default (the ZMQ
// filter address).
func (c *Channel) DiffersByUidOnly(other *Channel) bool {
	opts := append([]cmp.Option{
		cmpopts.IgnoreFields(Channel{}, "UID"),
		cmpopts.IgnoreFields(ChannelFfmpeg{}, "FilterZmq"),
	}, cmpOptions...)
	return cmp.Equal(c, other, opts...)
}

func (r *Root) Equal(other *Root) bool {
	opts := append([]cmp.Option{
		cmpopts.IgnoreFields(Root{}, "JSONRepresentation"),
	}, cmpOptions...)
	return cmp.Equal(r, other, opts...)
}

func (n Network) Equal(other Network) bool {
	return cmp.Equal(n, other, cmpOptions...)
}

func (h Http) Equal(other Http) bool {
	return cmp.Equal(h, other, cmpOptions...)
}

func (l Log) Equal(other Log) bool {
	return cmp.Equal(l, other, cmpOptions...)
}

func (f Features) Equal(other Features) bool {
	return f == other
}

func (r *Root) DirectoriesEqual(other *Root) bool {
	return cmp.Equal(r.Directories, other.Directories, cmpOptions...)
}
