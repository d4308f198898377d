package afs

import "time"

// File describes a file or directory as returned by list operations.
//
// Path is owner-relative and always starts with "/". Size is nil for
// directories.
type File struct {
	Owner            string    `json:"owner"`
	Path             string    `json:"path"`
	Name             string    `json:"name"`
	Directory        bool      `json:"directory"`
	Size             *int64    `json:"size,omitempty"`
	LastModifiedTime time.Time `json:"lastModifiedTime"`
}

// FreeSpace reports the capacity of the volume holding a path, in bytes.
type FreeSpace struct {
	Total int64 `json:"total"`
	Free  int64 `json:"free"`
}
