// Command claudefsd is a node daemon skeleton: it wires the metadata
// shard router, the transport connection pool, and the tiering hint
// cache together and blocks until interrupted, logging the pool's
// connection counts and the active lease count on shutdown. It does not
// close pooled connections or revoke leases itself.
package main

import (
	"flag"
	"log"
	"strings"
	"time"

	"github.com/dirkpetersen/claudefs/internal/coherence"
	"github.com/dirkpetersen/claudefs/internal/lifecycle"
	"github.com/dirkpetersen/claudefs/internal/meta/shard"
	"github.com/dirkpetersen/claudefs/internal/tiering"
	"github.com/dirkpetersen/claudefs/internal/transport/pool"
)

func main() {
	var (
		numShards = flag.Uint64("shards", 16, "number of metadata shards this node participates in")
		peers     = flag.String("peers", "", "comma-separated list of peer node addresses")
	)
	flag.Parse()

	router := shard.New(*numShards)
	connPool := pool.New(pool.DefaultConfig())
	for _, addr := range strings.Split(*peers, ",") {
		if addr == "" {
			continue
		}
		connPool.AddEndpoint(addr)
	}
	hints := tiering.NewCache(100000)
	coh := coherence.NewManager(coherence.CloseToOpen)

	log.Printf("claudefsd starting: %d shards, %d peers, tiering cache entries=%d",
		router.NumShards(), connPool.Stats().Endpoints, hints.Len())

	ctx, cancel := lifecycle.InterruptibleContext()
	defer cancel()

	lifecycle.RegisterAtExit(func() error {
		stats := connPool.Stats()
		log.Printf("draining connection pool: %d active across %d endpoints", stats.TotalActive, stats.Endpoints)
		return nil
	})
	lifecycle.RegisterAtExit(func() error {
		log.Printf("active leases at shutdown: %d", coh.ActiveLeaseCount(time.Now()))
		return nil
	})

	<-ctx.Done()
	log.Printf("shutting down")
	if err := lifecycle.RunAtExit(); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}
