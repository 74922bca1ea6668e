package terminal

import (
	"context"
	"fmt"
)

// Spawner turns a session kind into a running endpoint
type Spawner interface {
	Spawn(ctx context.Context, kind Kind, size Size) (Endpoint, error)
}

// Factory dispatches each kind to its backend
type Factory struct {
	local  *LocalLauncher
	ssh    *SSHDialer
	serial *SerialOpener
}

// NewFactory creates a spawner over the given backends. A nil backend
// makes its kind unavailable.
func NewFactory(local *LocalLauncher, ssh *SSHDialer, serial *SerialOpener) *Factory {
	return &Factory{local: local, ssh: ssh, serial: serial}
}

// Spawn validates the request and starts the endpoint
func (f *Factory) Spawn(ctx context.Context, kind Kind, size Size) (Endpoint, error) {
	if kind == nil {
		return nil, fmt.Errorf("%w: kind is required", ErrInvalidKind)
	}
	if err := kind.Validate(); err != nil {
		return nil, err
	}
	if err := size.Validate(); err != nil {
		return nil, err
	}

	switch k := kind.(type) {
	case Local:
		if f.local == nil {
			return nil, fmt.Errorf("local sessions are not available")
		}
		return f.local.Launch(ctx, k, size)
	case SSH:
		if f.ssh == nil {
			return nil, fmt.Errorf("ssh sessions are not available")
		}
		return f.ssh.Dial(ctx, k, size)
	case Serial:
		if f.serial == nil {
			return nil, fmt.Errorf("serial sessions are not available")
		}
		return f.serial.Open(ctx, k)
	default:
		return nil, fmt.Errorf("%w: %T", ErrInvalidKind, kind)
	}
}
