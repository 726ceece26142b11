// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements idempotency support for unsafe HTTP methods. Clients
// may send an Idempotency-Key header on POST requests; the middleware
// validates the key and asks a pluggable Seen function whether the same
// (tenant, key) pair was already accepted. Replays are flagged in the request
// context so handlers can short-circuit and the rate limiter can skip them.
//
// Persistence is decoupled through the Seen function type; production wires
// it to a Redis SETNX with the configured TTL, which also makes the check
// shared across all front-end processes.
package middleware

import (
	"context"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the canonical request header that clients use to
// convey an idempotency key for unsafe operations.
const HeaderIdempotencyKey = "Idempotency-Key"

// Context keys used internally to stash idempotency state.
const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay" // bool: true when this key was seen before
	ctxKeyRateBypass = "rate.bypass" // bool: true to skip rate limiting
)

// GetIdempotencyKey returns the validated idempotency key stored in the Gin
// context by IdempotencyValidator. The second return value indicates presence.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether the middleware detected that this request repeats
// a previously accepted operation for the same tenant and key.
func IsReplay(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// defaultKeyPattern is a conservative RFC7230-like token pattern.
var defaultKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// IdempotencyOptions configures header validation for IdempotencyValidator.
type IdempotencyOptions struct {
	// MaxLen caps the accepted key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters; nil uses defaultKeyPattern.
	Pattern *regexp.Regexp
}

// Seen reports whether the (tenant, key) pair was already accepted, recording
// it as accepted otherwise. TTL enforcement belongs to the implementation.
type Seen func(ctx context.Context, tenantID, key string) (bool, error)

// Forget releases a (tenant, key) pair that Seen recorded. The middleware
// calls it when the request fails after the mark, so the client's retry with
// the same key is handled as fresh instead of replayed.
type Forget func(ctx context.Context, tenantID, key string) error

// IdempotencyValidator returns middleware that validates the Idempotency-Key
// header on unsafe methods and flags replays. Requests without the header
// pass through untouched; a malformed key is rejected with 400 before any
// work happens. A key marked by Seen is released again via forget when the
// request ends in an error status: the operation was not accepted, so the
// key must not absorb the retry.
func IdempotencyValidator(opt IdempotencyOptions, seen Seen, forget Forget) gin.HandlerFunc {
	maxLen := opt.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pattern := opt.Pattern
	if pattern == nil {
		pattern = defaultKeyPattern
	}

	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			c.Next()
			return
		}

		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pattern.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get("X-Request-ID"),
				"code":       "bad_request",
				"message":    "invalid Idempotency-Key header",
			})
			return
		}

		c.Set(ctxKeyIdemKey, key)
		marked := false
		if seen != nil {
			replay, err := seen(c.Request.Context(), TenantFrom(c), key)
			// Lookup failures degrade to non-idempotent handling rather than
			// rejecting the request.
			if err == nil {
				if replay {
					c.Set(ctxKeyIdemReplay, true)
					c.Set(ctxKeyRateBypass, true)
				} else {
					marked = true
				}
			}
		}
		c.Next()

		// The mark means "accepted"; a failed request was not. Release the
		// key so the mandated retry is not swallowed as a replay.
		if marked && forget != nil && c.Writer.Status() >= http.StatusBadRequest {
			// Detached from the request context: a client that gave up must
			// still get its key back.
			if err := forget(context.WithoutCancel(c.Request.Context()), TenantFrom(c), key); err != nil {
				LoggerFrom(c).Warn().Err(err).
					Str("idempotency_key", key).
					Msg("idempotency key release failed; retry will replay")
			}
		}
	}
}
