// Package shard implements the metadata shard router: a pure mapping
// from inode to shard, used to detect whether two operations are
// single-shard or cross-shard. Membership changes are orchestrated
// externally; this package has no notion of cluster topology beyond the
// shard count.
package shard

// Router maps inode IDs to shard indices by plain modulo
// (shard_for_inode(ino) = ino mod num_shards). Note this differs
// deliberately from the directory sharder (internal/meta/dirshard), which
// hashes entry *names* with FNV-1a. Sequential inode allocation under
// plain modulo can skew shard load; an operator wanting better
// distribution should hash the inode id before routing.
type Router struct {
	numShards uint64
}

// New constructs a Router over numShards shards; a numShards of 0 is
// clamped to 1.
func New(numShards uint64) *Router {
	if numShards == 0 {
		numShards = 1
	}
	return &Router{numShards: numShards}
}

// NumShards returns the configured shard count.
func (r *Router) NumShards() uint64 { return r.numShards }

// ShardForInode returns ino's home shard.
func (r *Router) ShardForInode(ino uint64) uint64 {
	return ino % r.numShards
}

// IsCrossShard reports whether two inodes route to different shards.
func (r *Router) IsCrossShard(a, b uint64) bool {
	return r.ShardForInode(a) != r.ShardForInode(b)
}
