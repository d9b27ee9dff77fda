// Package oplog implements the per-shard ordered operation log and the
// two-phase commit coordinator for cross-shard operations.
package oplog

// OpKind tags a MetaOp variant.
type OpKind int

const (
	OpCreateInode OpKind = iota
	OpCreateEntry
	OpUnlink
	OpRename
	OpWrite
	OpTruncate
	OpSetAttr
	OpLink
	OpSymlink
	OpMkDir
	OpSetXattr
	OpRemoveXattr
)

// MetaOp is the tagged variant union of every metadata operation: each
// carries exactly the fields needed to apply it, with irrelevant fields
// left zero.
type MetaOp struct {
	Kind OpKind

	Inode      uint64
	Parent     uint64
	Name       string
	DstParent  uint64
	DstName    string
	TargetIno  uint64
	Size       uint64
	XattrName  string
	XattrValue []byte
}
