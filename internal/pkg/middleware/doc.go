// Package middleware provides HTTP middleware for the classify server.
//
// Available middleware:
//   - RateLimiter: per-client token bucket limiting
//
// Usage:
//
//	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
//	defer rl.Close()
//	handler = rl.Middleware(handler)
package middleware
