package relay

import (
	"context"
)

// Journal receives one Invocation per executed command. Implementations must
// not block the request on delivery failures.
type Journal interface {
	Publish(ctx context.Context, inv Invocation)
}

// validatable is implemented by every request envelope.
type validatable interface {
	Validate() error
}
