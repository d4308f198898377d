package afs

import (
	"path"
	"strings"
)

// NormalizePath validates an owner-relative path and returns its canonical
// form: rooted at "/", without duplicate or trailing separators.
//
// Any ".." segment is rejected rather than resolved, so a path can never
// escape the owner root.
func NormalizePath(p string) (string, error) {
	if p == "" {
		return "/", nil
	}
	if strings.ContainsRune(p, 0) {
		return "", NewInvalidPathError(p, "path contains a NUL byte")
	}
	for _, segment := range strings.Split(p, "/") {
		if segment == ".." {
			return "", NewInvalidPathError(p, "path can't be relative")
		}
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p), nil
}

// ValidateOwner checks that an owner id can be used as a single path segment.
func ValidateOwner(owner string) error {
	switch {
	case owner == "":
		return NewInvalidPathError(owner, "owner is required")
	case owner == "." || owner == "..":
		return NewInvalidPathError(owner, "owner can't be relative")
	case strings.ContainsAny(owner, "/\\\x00"):
		return NewInvalidPathError(owner, "owner contains illegal characters")
	}
	return nil
}

// IsAncestor reports whether ancestor is a strict ancestor of p.
// Both paths must be clean and rooted.
func IsAncestor(ancestor, p string) bool {
	if ancestor == p {
		return false
	}
	if ancestor == "/" {
		return true
	}
	return strings.HasPrefix(p, ancestor+"/")
}
