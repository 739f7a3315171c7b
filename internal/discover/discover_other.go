//go:build !linux

package discover

import (
	"context"

	"spx/internal/spxerr"
)

// Find is unimplemented outside Linux; callers fall through to the
// localhost:1337 default in transport.SelectEndpoint.
func Find(ctx context.Context) (path string, serialNumber string, err error) {
	return "", "", spxerr.New(spxerr.NotSupported, "discover.Find", nil)
}
