package rt

import "errors"

var (
	// ErrNoRuntime is the panic value of Spawn when no runtime is current.
	ErrNoRuntime = errors.New("must be called from the context of a runtime")

	// ErrNestedBlockOn is the panic value of BlockOn when called from code
	// running in the same basic runtime; the driver could wait on itself.
	ErrNestedBlockOn = errors.New("cannot block on a basic runtime from within its own context")

	ErrFlavorNotBuilt = errors.New("runtime flavor not built")
	ErrUnknownFlavor  = errors.New("unknown runtime flavor")
	ErrClosed         = errors.New("runtime closed")
)
