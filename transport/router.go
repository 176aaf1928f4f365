package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// Router dispatches Open to the opener registered for the resource's Kind.
type Router struct {
	openers *xsync.MapOf[Kind, Opener]
}

var _ Opener = (*Router)(nil)

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{openers: xsync.NewMapOf[Kind, Opener]()}
}

// Handle registers o for resources of kind k, replacing any previous opener.
func (r *Router) Handle(k Kind, o Opener) {
	r.openers.Store(k, o)
}

// Open parses resourceID and delegates to the matching opener.
func (r *Router) Open(ctx context.Context, resourceID string, timeout time.Duration) (Session, error) {
	res, err := ParseResource(resourceID)
	if err != nil {
		return nil, &Error{Op: "open", Resource: resourceID, Err: err}
	}

	o, ok := r.openers.Load(res.Kind)
	if !ok {
		return nil, &Error{
			Op:       "open",
			Resource: resourceID,
			Err:      fmt.Errorf("%w: no opener for %s", ErrUnsupportedResource, res.Kind),
		}
	}

	return o.Open(ctx, resourceID, timeout)
}
