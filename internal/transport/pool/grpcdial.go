package pool

import (
	"context"

	"google.golang.org/grpc"

	"github.com/dirkpetersen/claudefs/internal/errs"
)

// DialGRPC dials addr and returns the resulting *grpc.ClientConn as a
// poolable Conn, so a Pool can manage real cluster RPC connections rather
// than a test double. Call AdoptNewConnection(addr) after a successful
// dial to account for it against the pool's MaxTotalConnections.
func DialGRPC(ctx context.Context, addr string) (Conn, error) {
	conn, err := grpc.DialContext(ctx, addr, grpc.WithInsecure(), grpc.WithBlock())
	if err != nil {
		return nil, errs.Wrap("pool.DialGRPC", errs.ConnectionReset, err)
	}
	return conn, nil
}
