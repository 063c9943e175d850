package queue

import (
	"context"
	"fmt"
	"sort"
)

// HandlerFunc processes one job. Returning an error schedules a retry unless the error is Permanent.
type HandlerFunc func(ctx context.Context, job Job) error

// Registry maps job kinds to handlers for one stage. It is built at startup and read-only afterwards.
type Registry struct {
	handlers map[string]HandlerFunc
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register binds kind to fn. Registering a kind twice is a wiring bug and panics.
func (r *Registry) Register(kind string, fn HandlerFunc) *Registry {
	if _, exists := r.handlers[kind]; exists {
		panic(fmt.Sprintf("queue: handler for %q already registered", kind))
	}
	r.handlers[kind] = fn
	return r
}

func (r *Registry) Lookup(kind string) (HandlerFunc, bool) {
	fn, ok := r.handlers[kind]
	return fn, ok
}

func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
