package common

import "context"

type ctxKey string

const (
	userIDKey ctxKey = "auth/user-id"
	shopKey   ctxKey = "auth/shop"
)

// WithUserID stores the staff user from the session token on ctx.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// UserID extracts the staff user identifier from the context if present.
func UserID(ctx context.Context) (string, bool) {
	v := ctx.Value(userIDKey)
	if v == nil {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}

// WithShop stores the authenticated shop domain on ctx.
func WithShop(ctx context.Context, shop string) context.Context {
	return context.WithValue(ctx, shopKey, shop)
}

// Shop returns the authenticated shop domain if present.
func Shop(ctx context.Context) (string, bool) {
	shop, ok := ctx.Value(shopKey).(string)
	return shop, ok && shop != ""
}
