package storage

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/marmos91/afs/pkg/afs"
)

// SpaceProbe reports capacity for the volume holding an OS path.
type SpaceProbe interface {
	Free(path string) (afs.FreeSpace, error)
}

// VolumeProbe tells whether two OS paths are on the same volume.
type VolumeProbe interface {
	SameVolume(a, b string) (bool, error)
}

// StaticProbe reports fixed values. Used with in-memory filesystems.
type StaticProbe struct {
	Space afs.FreeSpace
}

func (p StaticProbe) Free(string) (afs.FreeSpace, error) {
	return p.Space, nil
}

func (p StaticProbe) SameVolume(string, string) (bool, error) {
	return true, nil
}

// NearestExisting walks up from p until it finds a path that exists on the
// OS filesystem. Free space for a not yet created path is the free space of
// its closest existing ancestor.
func NearestExisting(p string) (string, error) {
	p = filepath.Clean(p)
	for {
		_, err := os.Stat(p)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", err
		}
		p = parent
	}
}
