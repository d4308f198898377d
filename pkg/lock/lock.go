// Package lock implements the path lock manager.
//
// Locks are keyed by owner (usually a transaction id) and a rooted resource
// path. Three lock types exist:
//
//   - Shared: compatible with other shared locks on the same path
//   - Exclusive: conflicts with any other lock on the same path
//   - HierarchicallyExclusive: additionally conflicts with every lock on a
//     descendant path, and every request below it conflicts with it
//
// Locks never conflict with locks of the same owner. A grant made by
// TryLock or Lock is all-or-nothing.
package lock

import (
	"errors"
	"path"
)

// Type is the kind of lock requested on a resource.
type Type int

const (
	Shared Type = iota
	Exclusive
	HierarchicallyExclusive
)

func (t Type) String() string {
	switch t {
	case Shared:
		return "shared"
	case Exclusive:
		return "exclusive"
	case HierarchicallyExclusive:
		return "hierarchically-exclusive"
	default:
		return "unknown"
	}
}

// Lock is a single lock request or grant.
type Lock struct {
	Owner    string
	Resource string
	Type     Type
}

var (
	// ErrNotLocked is returned by Unlock when a lock is not held.
	ErrNotLocked = errors.New("lock not held")

	// ErrReentrantLock is returned by Lock when the owner already holds a
	// lock on the same resource, an ancestor or a descendant.
	ErrReentrantLock = errors.New("owner already holds an overlapping lock")
)

// normalize roots and cleans the resource path.
func (l Lock) normalize() Lock {
	l.Resource = path.Clean("/" + l.Resource)
	return l
}

// conflicts reports whether a requested lock r is blocked by a held lock h.
func conflicts(h, r Lock) bool {
	if h.Owner == r.Owner {
		return false
	}
	switch {
	case h.Resource == r.Resource:
		return h.Type != Shared || r.Type != Shared
	case isAncestor(h.Resource, r.Resource):
		return h.Type == HierarchicallyExclusive
	case isAncestor(r.Resource, h.Resource):
		return r.Type == HierarchicallyExclusive
	}
	return false
}

// overlaps reports whether two resources are equal or nested.
func overlaps(a, b string) bool {
	return a == b || isAncestor(a, b) || isAncestor(b, a)
}

func isAncestor(ancestor, p string) bool {
	if ancestor == p {
		return false
	}
	if ancestor == "/" {
		return true
	}
	return len(p) > len(ancestor) && p[:len(ancestor)] == ancestor && p[len(ancestor)] == '/'
}
