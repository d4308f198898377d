//go:build unix

package storage

import (
	"github.com/marmos91/afs/pkg/afs"
	"golang.org/x/sys/unix"
)

// OSProbe reads volume statistics from the operating system.
type OSProbe struct{}

func (OSProbe) Free(p string) (afs.FreeSpace, error) {
	existing, err := NearestExisting(p)
	if err != nil {
		return afs.FreeSpace{}, afs.NewStorageError(err, p)
	}

	var st unix.Statfs_t
	if err := unix.Statfs(existing, &st); err != nil {
		return afs.FreeSpace{}, afs.NewStorageError(err, p)
	}

	bsize := int64(st.Bsize)
	return afs.FreeSpace{
		Total: int64(st.Blocks) * bsize,
		Free:  int64(st.Bavail) * bsize,
	}, nil
}

func (OSProbe) SameVolume(a, b string) (bool, error) {
	var sa, sb unix.Stat_t
	if err := unix.Stat(a, &sa); err != nil {
		return false, err
	}
	if err := unix.Stat(b, &sb); err != nil {
		return false, err
	}
	return sa.Dev == sb.Dev, nil
}
