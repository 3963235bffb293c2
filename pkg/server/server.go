package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/risevideo/risecast/pkg/eventlog"
)

// node is one entry in the resource tree: either a leaf resource or a
// subtree, never both.
type node struct {
	leaf     Resource
	children map[string]*node
}

func (n *node) isTree() bool { return n.children != nil }

// Server is the resource tree and its request dispatcher.
type Server struct {
	mu   sync.RWMutex
	root *node
	elog *eventlog.Log
	log  *eventlog.Context
}

func New(elog *eventlog.Log) *Server {
	return &Server{elog: elog, log: elog.Context("server")}
}

// AddResource adds a leaf, rejecting an existing resource at the path.
func (s *Server) AddResource(path Path, r Resource) error {
	return s.add(path, r, false)
}

// AddOrReplaceResource adds a leaf, replacing an existing leaf.
func (s *Server) AddOrReplaceResource(path Path, r Resource) error {
	return s.add(path, r, true)
}

func (s *Server) add(path Path, r Resource, replace bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if path.Empty() {
		return fmt.Errorf("cannot add resource at empty path")
	}
	if s.root == nil {
		s.root = &node{children: make(map[string]*node)}
	}
	n := s.root
	for i := 0; i < path.Len()-1; i++ {
		if !n.isTree() {
			return fmt.Errorf("cannot get/create child %q of leaf server resource", path.String())
		}
		child, ok := n.children[path.At(i)]
		if !ok {
			child = &node{children: make(map[string]*node)}
			n.children[path.At(i)] = child
		}
		n = child
	}
	if !n.isTree() {
		return fmt.Errorf("cannot get/create child %q of leaf server resource", path.String())
	}
	existing, ok := n.children[path.Back()]
	if ok {
		if existing.isTree() {
			return fmt.Errorf("path %q points to intermediate server tree node", path.String())
		}
		if !replace {
			return fmt.Errorf("path %q points to existing server resource", path.String())
		}
	}
	n.children[path.Back()] = &node{leaf: r}
	verb := "added"
	if ok {
		verb = "replaced"
	}
	s.log.Info(verb, path.String())
	return nil
}

// RemoveResource removes the leaf at path, pruning any tree nodes that
// become empty. The root reaches the null state when its last child is
// removed. Removing a missing or intermediate node is an error.
func (s *Server) RemoveResource(path Path) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.root == nil || path.Empty() {
		return fmt.Errorf("cannot erase non-existent server resource %q", path.String())
	}
	intermediates := make([]*node, 0, path.Len())
	n := s.root
	for i := 0; i < path.Len(); i++ {
		if !n.isTree() {
			return fmt.Errorf("cannot erase child %q of leaf server tree node", path.String())
		}
		intermediates = append(intermediates, n)
		child, ok := n.children[path.At(i)]
		if !ok {
			return fmt.Errorf("cannot remove non-existing server tree node %q", path.String())
		}
		n = child
	}
	if n.isTree() {
		return fmt.Errorf("cannot remove intermediate server tree node %q", path.String())
	}
	s.log.Info("removed", path.String())
	for i := path.Len() - 1; i >= 0; i-- {
		delete(intermediates[i].children, path.At(i))
		if len(intermediates[i].children) > 0 {
			return nil
		}
	}
	s.root = nil
	return nil
}

// resolve walks the tree and returns the leaf for the request path,
// with the remaining path parts. The returned reference keeps the
// resource alive for the caller regardless of later tree mutation.
func (s *Server) resolve(req *Request) (Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.root == nil {
		return nil, NewError(ErrNotFound, "")
	}
	n := s.root
	for n.isTree() {
		// Directory listing of tree nodes is not available.
		if req.Path().Empty() {
			return nil, NewError(ErrForbidden, "")
		}
		child, ok := n.children[req.Path().Front()]
		if !ok {
			return nil, NewError(ErrNotFound, "")
		}
		req.popPathPart()
		n = child
	}
	return n.leaf, nil
}

// checkResourceRestrictions enforces, in order: private resources are
// not publicly reachable; sub-paths only where allowed; public access
// is GET-only; the per-verb body cap; verb support.
func checkResourceRestrictions(r Resource, req *Request) error {
	if !r.IsPublic() && req.IsPublic() {
		return NewError(ErrForbidden, "")
	}
	if !req.Path().Empty() && !r.AllowNonEmptyPath() {
		return NewError(ErrNotFound, "")
	}
	if req.Type() != RequestGet && req.IsPublic() {
		return NewError(ErrForbidden, "")
	}
	req.SetMaxLength(r.MaxRequestLength(req.Type()))
	if !r.Allows(req.Type()) {
		return NewError(ErrUnsupportedType, "")
	}
	return nil
}

// Serve dispatches one request: resolve the leaf, enforce restrictions,
// invoke it, and funnel any error into the response. After a successful
// handler return the response is flushed terminally.
func (s *Server) Serve(ctx context.Context, resp *Response, req *Request) {
	reqLog := s.elog.Context("request")
	reqLog.Info("what", fmt.Sprintf("%s, %s, %s", req.Path(),
		map[bool]string{true: "public", false: "private"}[req.IsPublic()], req.Type()))

	err := s.serve(ctx, resp, req)
	if err == nil {
		if flushErr := resp.Flush(ctx, true); flushErr != nil {
			reqLog.Error("error", "terminal flush: "+flushErr.Error())
		}
		return
	}

	var srvErr *Error
	if !errors.As(err, &srvErr) {
		srvErr = NewError(ErrInternal, err.Error())
	}
	if resp.WriteStarted() {
		// The status line is already on the wire; all we can do is
		// abandon the response and let the adapter drop the connection.
		reqLog.Error("error", srvErr.Kind.String()+" response error after writing started: "+srvErr.Message)
		return
	}
	reqLog.Info("error", srvErr.Error())
	if srvErr.Kind == ErrInternal {
		slog.Error("internal error serving request", "path", req.Path().String(), "err", err)
		// Don't leak internals to the client.
		resp.SetErrorAndMessage(ErrInternal, "")
	} else {
		resp.SetErrorAndMessage(srvErr.Kind, srvErr.Message)
	}
	if flushErr := resp.Flush(ctx, true); flushErr != nil {
		reqLog.Error("error", "error flush: "+flushErr.Error())
	}
}

func (s *Server) serve(ctx context.Context, resp *Response, req *Request) error {
	leaf, err := s.resolve(req)
	if err != nil {
		return err
	}
	// leaf is a strong reference: a concurrent RemoveResource does not
	// stop this request from completing against the removed resource.
	if err := checkResourceRestrictions(leaf, req); err != nil {
		return err
	}
	return leaf.Serve(ctx, resp, req)
}
