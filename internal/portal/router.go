package portal

import (
	"context"
	"regexp"

	"github.com/openrecords/relay/internal/comms"
)

// HandlerFunc processes one classified inbound message. match holds the
// pattern's submatches against the subject.
type HandlerFunc func(ctx context.Context, pc Context, msg comms.Inbound, match []string) error

// Route pairs a subject pattern with its handler.
type Route struct {
	Name    string
	Pattern *regexp.Regexp
	Handle  HandlerFunc
}

// Router classifies inbound messages against an ordered route list. The
// first pattern that matches the subject wins; list order is significant
// and preserved exactly as configured.
type Router struct {
	routes []Route
}

// NewRouter creates a Router over the given routes, in order.
func NewRouter(routes ...Route) *Router {
	return &Router{routes: routes}
}

// Route dispatches the message to the first matching handler. With no
// match it returns a ClassificationError carrying unknown-message-format;
// handler errors pass through untouched.
func (r *Router) Route(ctx context.Context, pc Context, msg comms.Inbound) error {
	for _, route := range r.routes {
		match := route.Pattern.FindStringSubmatch(msg.Subject)
		if match == nil {
			continue
		}
		return route.Handle(ctx, pc, msg, match)
	}
	return &comms.ClassificationError{
		Category: comms.ClassUnknownFormat,
		Detail:   "no pattern matched subject",
	}
}
