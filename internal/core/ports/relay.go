package ports

import (
	"context"

	"github.com/tdex-network/tdex-payjoin/pkg/transport"
)

// RelayClient posts encapsulated requests to the ohttp relay.
type RelayClient interface {
	Post(ctx context.Context, req transport.Request) ([]byte, error)
}
