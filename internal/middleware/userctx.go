package middleware

import "context"

type userKey struct{}

type UserCtx struct {
	UserID    string
	AccountID string
	Role      string
}

func WithUser(ctx context.Context, u UserCtx) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

func FromCtx(ctx context.Context) (UserCtx, bool) {
	u, ok := ctx.Value(userKey{}).(UserCtx)
	return u, ok
}
