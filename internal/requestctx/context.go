package requestctx

import (
	"context"
	"strings"
)

type accountKey struct{}
type requestIDKey struct{}
type ipAddressKey struct{}
type userAgentKey struct{}

// Account is the identity-provider handle resolved for the current request.
type Account struct {
	ID    string
	Email string
}

// WithAccount stores the authenticated account in the context.
func WithAccount(ctx context.Context, account Account) context.Context {
	return context.WithValue(ctx, accountKey{}, account)
}

// AccountFromContext returns the authenticated account, if set.
func AccountFromContext(ctx context.Context) (Account, bool) {
	if ctx == nil {
		return Account{}, false
	}
	account, ok := ctx.Value(accountKey{}).(Account)
	if !ok || strings.TrimSpace(account.ID) == "" {
		return Account{}, false
	}
	return account, true
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	return stringFromContext(ctx, requestIDKey{})
}

func WithIPAddress(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ipAddressKey{}, ip)
}

func IPAddressFromContext(ctx context.Context) string {
	return stringFromContext(ctx, ipAddressKey{})
}

func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentKey{}, userAgent)
}

func UserAgentFromContext(ctx context.Context) string {
	return stringFromContext(ctx, userAgentKey{})
}

func stringFromContext(ctx context.Context, key any) string {
	if ctx == nil {
		return ""
	}
	value, ok := ctx.Value(key).(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}
