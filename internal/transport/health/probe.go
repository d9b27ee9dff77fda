package health

import (
	"context"
	"io"
	"time"

	"golang.org/x/net/http2"

	"github.com/dirkpetersen/claudefs/internal/errs"
)

// KeepAliveProber sends an HTTP/2 PING frame over a connection and waits
// for the peer's ACK, the same liveness mechanism grpc's own HTTP/2
// transport relies on to detect a dead connection before a request would
// time out against it. It's used to drive ConnectionHealth between actual
// RPCs, so a stale endpoint gets marked Degraded/Unhealthy even during a
// quiet period with no real traffic.
type KeepAliveProber struct {
	framer *http2.Framer
}

// NewKeepAliveProber wraps rw (typically a net.Conn already past the
// HTTP/2 connection preface) in a frame reader/writer for PING probing.
func NewKeepAliveProber(rw io.ReadWriter) *KeepAliveProber {
	return &KeepAliveProber{framer: http2.NewFramer(rw, rw)}
}

// Probe writes a PING frame and blocks until the peer's ACK arrives or ctx
// is done, recording the round trip into health as a success (with
// latency) or a failure.
func (p *KeepAliveProber) Probe(ctx context.Context, h *ConnectionHealth) error {
	start := time.Now()
	var payload [8]byte
	if err := p.framer.WritePing(false, payload); err != nil {
		h.RecordFailure()
		return errs.Wrap("health.Probe", errs.ConnectionReset, err)
	}

	type result struct {
		fr  http2.Frame
		err error
	}
	done := make(chan result, 1)
	go func() {
		fr, err := p.framer.ReadFrame()
		done <- result{fr, err}
	}()

	select {
	case <-ctx.Done():
		h.RecordFailure()
		return errs.Wrap("health.Probe", errs.Timeout, ctx.Err())
	case res := <-done:
		if res.err != nil {
			h.RecordFailure()
			return errs.Wrap("health.Probe", errs.ConnectionReset, res.err)
		}
		ping, ok := res.fr.(*http2.PingFrame)
		if !ok || !ping.IsAck() {
			h.RecordFailure()
			return errs.New("health.Probe", errs.ConnectionReset, "expected PING ack frame")
		}
		h.RecordSuccess(time.Since(start))
		return nil
	}
}
