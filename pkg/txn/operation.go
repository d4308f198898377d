package txn

import (
	"github.com/marmos91/afs/pkg/lock"
)

// OperationType tags an Operation in memory and in the transaction log.
type OperationType string

const (
	OpCreate OperationType = "create"
	OpWrite  OperationType = "write"
	OpCopy   OperationType = "copy"
	OpMove   OperationType = "move"
	OpDelete OperationType = "delete"
)

// Operation is a mutating operation recorded by a transaction.
//
// Paths are storage-relative and rooted. Write payloads are never kept in
// the log itself: they are staged next to it and referenced by Staged.
type Operation struct {
	Type      OperationType `json:"type"`
	Source    string        `json:"source"`
	Target    string        `json:"target,omitempty"`
	Directory bool          `json:"directory,omitempty"`
	Offset    int64         `json:"offset,omitempty"`
	Length    int64         `json:"length,omitempty"`
	Staged    string        `json:"staged,omitempty"`
}

// Locks returns the locks the operation holds until the transaction ends.
func (o Operation) Locks(owner string) []lock.Lock {
	switch o.Type {
	case OpCreate, OpWrite:
		return []lock.Lock{{Owner: owner, Resource: o.Source, Type: lock.Exclusive}}
	case OpDelete:
		return []lock.Lock{{Owner: owner, Resource: o.Source, Type: lock.HierarchicallyExclusive}}
	case OpCopy:
		return []lock.Lock{
			{Owner: owner, Resource: o.Source, Type: lock.Shared},
			{Owner: owner, Resource: o.Target, Type: lock.HierarchicallyExclusive},
		}
	case OpMove:
		return []lock.Lock{
			{Owner: owner, Resource: o.Source, Type: lock.HierarchicallyExclusive},
			{Owner: owner, Resource: o.Target, Type: lock.HierarchicallyExclusive},
		}
	}
	return nil
}

// readLock is held only while a read or list executes.
func readLock(owner, resource string) lock.Lock {
	return lock.Lock{Owner: owner, Resource: resource, Type: lock.Shared}
}
