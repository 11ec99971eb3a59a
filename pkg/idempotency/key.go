package idempotency

import (
	"context"
	"fmt"
	"regexp"
)

// MaxKeyLength bounds the stored key column.
const MaxKeyLength = 128

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_\-:.]+$`)

type ctxKey struct{}

// WithKey attaches an idempotency key to ctx. An empty key returns ctx unchanged.
func WithKey(ctx context.Context, key string) context.Context {
	if key == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, key)
}

// FromContext returns the idempotency key carried by ctx, if any.
func FromContext(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(ctxKey{}).(string)
	return key, ok && key != ""
}

// ValidateKey checks that a client supplied key is usable.
func ValidateKey(key string) error {
	if len(key) < 8 {
		return fmt.Errorf("idempotency key must be at least 8 characters")
	}
	if len(key) > MaxKeyLength {
		return fmt.Errorf("idempotency key must be at most %d characters", MaxKeyLength)
	}
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("idempotency key contains invalid characters")
	}
	return nil
}
