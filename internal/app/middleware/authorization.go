package middleware

import (
	"context"
	"errors"
	"strings"

	"lettz/internal/app/commands"
	"lettz/internal/app/queries"
)

var ErrUnauthenticated = errors.New("middleware: no active user")

// ActorScoped is implemented by messages issued on behalf of a user.
type ActorScoped interface {
	ActorUID() string
}

type Authorizer interface {
	Authorize(ctx context.Context, message any) error
}

type AuthorizerFunc func(ctx context.Context, message any) error

func (f AuthorizerFunc) Authorize(ctx context.Context, message any) error {
	return f(ctx, message)
}

// RequireActor rejects actor-scoped messages that carry no user.
var RequireActor = AuthorizerFunc(func(ctx context.Context, message any) error {
	if scoped, ok := message.(ActorScoped); ok && strings.TrimSpace(scoped.ActorUID()) == "" {
		return ErrUnauthenticated
	}
	return nil
})

func Authorization(a Authorizer) CommandMiddleware {
	if a == nil {
		panic("middleware: authorizer required")
	}
	return func(next commands.Bus) commands.Bus {
		return CommandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			if err := a.Authorize(ctx, cmd); err != nil {
				return nil, err
			}
			return next.Dispatch(ctx, cmd)
		})
	}
}

func QueryAuthorization(a Authorizer) QueryMiddleware {
	if a == nil {
		panic("middleware: authorizer required")
	}
	return func(next queries.Bus) queries.Bus {
		return QueryFunc(func(ctx context.Context, q queries.Query) (any, error) {
			if err := a.Authorize(ctx, q); err != nil {
				return nil, err
			}
			return next.Ask(ctx, q)
		})
	}
}
