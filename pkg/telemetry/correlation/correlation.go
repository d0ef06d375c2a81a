// Package correlation ties together the log lines and ledger entries produced for
// one user action, across the gateway, the wallet API and operator commands.
package correlation

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"
)

// Header carries the correlation ID on HTTP requests and responses.
const Header = "X-Correlation-Id"

const maxLength = 64

type key struct{}

// From returns the correlation ID carried by ctx, or "".
func From(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(key{}).(string)
	return id
}

// With attaches id to ctx. Blank, oversized or non-printable IDs are dropped.
func With(ctx context.Context, id string) context.Context {
	id = sanitize(id)
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, key{}, id)
}

// Ensure returns ctx with a correlation ID, minting a ULID when none is present.
func Ensure(ctx context.Context) (context.Context, string) {
	if id := From(ctx); id != "" {
		return ctx, id
	}
	id := ulid.Make().String()
	return context.WithValue(ctx, key{}, id), id
}

func sanitize(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > maxLength {
		return ""
	}
	for _, r := range id {
		if r < '!' || r > '~' {
			return ""
		}
	}
	return id
}
