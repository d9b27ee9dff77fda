package journal

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"

	"github.com/dirkpetersen/claudefs/internal/errs"
)

// fileBacking is the real durability path behind a Writer: an append-only
// fd opened O_DIRECT where the platform supports it, fsync'd on demand by
// Flush. Writer works without one (tests and NoSync-only callers leave
// backing nil and get the in-memory-only behavior), so opening one is
// opt-in via OpenBacking.
type fileBacking struct {
	f *os.File
}

// openBackingFile opens path for append, requesting O_DIRECT so writes
// bypass the page cache the way a journal device expects; platforms or
// filesystems that reject O_DIRECT (tmpfs, most non-Linux targets) get a
// buffered fd instead, and append drops O_DIRECT from the fd when a write
// is rejected for alignment; the fsync in fsync() still gives the
// durability guarantee so callers don't need to branch on which path was
// taken.
func openBackingFile(path string) (*fileBacking, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_APPEND|unix.O_DIRECT, 0o644)
	if err != nil {
		fd, err = unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_APPEND, 0o644)
		if err != nil {
			return nil, errs.Wrap("journal.openBackingFile", errs.DeviceFailure, err)
		}
	}
	return &fileBacking{f: os.NewFile(uintptr(fd), path)}, nil
}

func (b *fileBacking) append(payload []byte) error {
	_, err := b.f.Write(payload)
	if errors.Is(err, unix.EINVAL) {
		// O_DIRECT rejects buffers that are not block-aligned; clear the
		// flag on the fd and retry the write buffered.
		if flags, ferr := unix.FcntlInt(b.f.Fd(), unix.F_GETFL, 0); ferr == nil {
			if _, ferr := unix.FcntlInt(b.f.Fd(), unix.F_SETFL, flags&^unix.O_DIRECT); ferr == nil {
				_, err = b.f.Write(payload)
			}
		}
	}
	if err != nil {
		return errs.Wrap("journal.fileBacking.append", errs.DeviceFailure, err)
	}
	return nil
}

// fsync flushes b's fd to the device, the durability boundary WriteThrough
// and batch flushes rely on.
func (b *fileBacking) fsync() error {
	if err := unix.Fsync(int(b.f.Fd())); err != nil {
		return errs.Wrap("journal.fileBacking.fsync", errs.DeviceFailure, err)
	}
	return nil
}

func (b *fileBacking) close() error {
	return b.f.Close()
}
