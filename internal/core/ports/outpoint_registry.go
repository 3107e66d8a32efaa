package ports

import (
	"context"

	"github.com/btcsuite/btcd/wire"
	"github.com/tdex-network/tdex-payjoin/pkg/receive"
)

// OutpointRegistry keeps track of the sender outpoints seen in the original
// proposals, so that a sender probing the receiver utxos with the same
// inputs gets rejected.
type OutpointRegistry interface {
	receive.OutpointChecker
	MarkSeen(ctx context.Context, outpoints []wire.OutPoint) error
}
