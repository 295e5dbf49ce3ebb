package resolver

import (
	"context"

	"github.com/vermint-pm/vermint/internal/verpm/pmerr"
)

// checkCancel polls ctx at the start of each propagation round and each
// max-sum sweep, per DESIGN NOTES §9, surfacing pmerr.Cancelled rather than
// the raw context error so callers can map it to exit code 130 uniformly.
func checkCancel(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return pmerr.Cancelled{}
	default:
		return nil
	}
}
