package signature

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"ballot-backend/models"
)

var (
	// ErrOracleUnreachable covers transport failures and timeouts.
	ErrOracleUnreachable = errors.New("signature oracle unreachable")
	// ErrOracleResponse means the oracle answered with something other than a boolean.
	ErrOracleResponse = errors.New("signature oracle returned an unparseable response")
	ErrUnsupportedFormat = errors.New("unsupported signature format")
)

// Verifier confirms that vote.Signature signs vote.SignedMessage() for vote.Addr.
type Verifier interface {
	Verify(ctx context.Context, vote models.Vote) (bool, error)
}

// Router dispatches on the ballot's sig_format. Formats without a registered
// verifier fail with ErrUnsupportedFormat before any I/O happens.
type Router struct {
	verifiers map[string]Verifier
}

// NewRouter creates a router with no formats registered.
func NewRouter() *Router {
	return &Router{verifiers: make(map[string]Verifier)}
}

// Register binds format to v. It is not safe to call once requests are served.
func (r *Router) Register(format string, v Verifier) {
	r.verifiers[format] = v
}

// Supports reports whether a verifier is registered for format.
func (r *Router) Supports(format string) bool {
	_, ok := r.verifiers[format]
	return ok
}

// Formats lists the registered formats in sorted order.
func (r *Router) Formats() []string {
	formats := make([]string, 0, len(r.verifiers))
	for f := range r.verifiers {
		formats = append(formats, f)
	}
	sort.Strings(formats)
	return formats
}

// Verify dispatches on vote.SigFormat.
func (r *Router) Verify(ctx context.Context, vote models.Vote) (bool, error) {
	v, ok := r.verifiers[vote.SigFormat]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnsupportedFormat, vote.SigFormat)
	}
	return v.Verify(ctx, vote)
}
