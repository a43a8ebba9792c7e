package routing

import "context"

type platformKey struct{}

// WithPlatform attaches the requesting client's platform to ctx.
func WithPlatform(ctx context.Context, p Platform) context.Context {
	return context.WithValue(ctx, platformKey{}, p)
}

// PlatformFrom returns the platform stored in ctx, or def.
func PlatformFrom(ctx context.Context, def Platform) Platform {
	if p, ok := ctx.Value(platformKey{}).(Platform); ok {
		return p
	}
	return def
}
