package server

import "context"

// Resource is a polymorphic request handler with capability flags. The
// server holds a strong reference while the resource is in the tree; an
// in-flight request holds another for its entire duration, so removal
// from the tree never invalidates a running request.
type Resource interface {
	// Serve handles one request. Errors of type *Error are translated
	// into response errors by the dispatcher; anything else becomes
	// ErrInternal.
	Serve(ctx context.Context, resp *Response, req *Request) error

	// IsPublic reports whether public requesters may reach this
	// resource at all.
	IsPublic() bool

	// AllowNonEmptyPath reports whether the resource accepts requests
	// whose path extends beyond the resource itself.
	AllowNonEmptyPath() bool

	// Allows reports whether the verb is supported.
	Allows(t RequestType) bool

	// MaxRequestLength is the cap installed on the request body for
	// the given verb. Zero forbids a body entirely.
	MaxRequestLength(t RequestType) uint64
}

// BaseResource supplies the restrictive defaults: private, no
// sub-paths, no verbs, no body. Concrete resources embed it and
// override what they support.
type BaseResource struct {
	Public bool
}

func (b BaseResource) IsPublic() bool { return b.Public }

func (BaseResource) AllowNonEmptyPath() bool { return false }

func (BaseResource) Allows(RequestType) bool { return false }

func (BaseResource) MaxRequestLength(RequestType) uint64 { return 0 }

// UnsupportedVerb is the error a resource returns from Serve when it is
// invoked with a verb it reported as allowed but cannot actually
// handle in the current state.
func UnsupportedVerb(t RequestType) *Error {
	return NewError(ErrUnsupportedType, "unsupported verb: "+t.String())
}
