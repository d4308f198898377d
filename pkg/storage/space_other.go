//go:build !unix

package storage

import (
	"errors"

	"github.com/marmos91/afs/pkg/afs"
)

// OSProbe is unsupported on this platform.
type OSProbe struct{}

func (OSProbe) Free(p string) (afs.FreeSpace, error) {
	return afs.FreeSpace{}, afs.NewStorageError(errors.New("free space not supported on this platform"), p)
}

func (OSProbe) SameVolume(a, b string) (bool, error) {
	return true, nil
}
