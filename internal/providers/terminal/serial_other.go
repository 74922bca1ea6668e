//go:build !linux

package terminal

import (
	"context"
	"errors"
)

// Open is only implemented on Linux
func (o *SerialOpener) Open(ctx context.Context, kind Serial) (Endpoint, error) {
	return nil, errors.New("serial sessions are not supported on this platform")
}
