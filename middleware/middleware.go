// Package middleware composes cross-cutting wrappers around unit execution.
// The composed chain is installed on an executor with
// ExecutorBuilder.Intercept and runs on the worker, inside the dispatch
// context, so every wrapper observes IsDispatcherThread == true.
package middleware

import (
	"context"

	"github.com/gsrpc/dispatcher"
)

// Handler the rest of the chain, ending with the unit's action
type Handler func(ctx context.Context) error

// Middleware wrap next with cross-cutting logic, a middleware that does not
// call next short-circuits the unit
type Middleware func(ctx context.Context, unit *dispatcher.Unit, next Handler) error

// Chain compose mws into an interceptor, the first middleware is the
// outermost wrapper
func Chain(mws ...Middleware) dispatcher.Interceptor {
	return func(ctx context.Context, unit *dispatcher.Unit, next dispatcher.Action) error {
		h := Handler(next)

		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h

			h = func(ctx context.Context) error {
				return mw(ctx, unit, prev)
			}
		}

		return h(ctx)
	}
}
