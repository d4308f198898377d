package api

import (
	"context"

	"github.com/google/uuid"
	"github.com/marmos91/afs/pkg/afs"
	"github.com/marmos91/afs/pkg/entity"
	"github.com/marmos91/afs/pkg/worker"
)

// grant is a set of permissions required on one owner.
type grant struct {
	Owner string
	Perms []entity.Permission
}

// methodHandler runs a method on the call's worker.
type methodHandler func(ctx context.Context, call *Call) (any, error)

// methodInfo contains metadata about an API method for dispatch.
type methodInfo struct {
	Handler methodHandler

	// Access returns the rights the session needs. Methods without access
	// requirements only need a valid session.
	Access func(p Params) []grant

	// Control marks transaction control methods. They run on the worker's
	// transaction directly and are rejected in non-transactional mode.
	Control bool
}

var (
	readPerms      = []entity.Permission{entity.PermissionRead}
	writePerms     = []entity.Permission{entity.PermissionWrite}
	readWritePerms = []entity.Permission{entity.PermissionRead, entity.PermissionWrite}
)

func ownerNeeds(perms []entity.Permission) func(Params) []grant {
	return func(p Params) []grant {
		return []grant{{Owner: p.PrimaryOwner(), Perms: perms}}
	}
}

func transferNeeds(source []entity.Permission) func(Params) []grant {
	return func(p Params) []grant {
		return []grant{
			{Owner: p.PrimaryOwner(), Perms: source},
			{Owner: p.TargetOwner, Perms: writePerms},
		}
	}
}

// dispatchTable maps method names to their handlers.
var dispatchTable = map[Method]*methodInfo{
	MethodList:     {Handler: handleList, Access: ownerNeeds(readPerms)},
	MethodRead:     {Handler: handleRead, Access: ownerNeeds(readPerms)},
	MethodFree:     {Handler: handleFree, Access: ownerNeeds(readPerms)},
	MethodWrite:    {Handler: handleWrite, Access: ownerNeeds(writePerms)},
	MethodCreate:   {Handler: handleCreate, Access: ownerNeeds(writePerms)},
	MethodDelete:   {Handler: handleDelete, Access: ownerNeeds(writePerms)},
	MethodCopy:     {Handler: handleCopy, Access: transferNeeds(readPerms)},
	MethodMove:     {Handler: handleMove, Access: transferNeeds(readWritePerms)},
	MethodBegin:    {Handler: handleBegin, Control: true},
	MethodPrepare:  {Handler: handlePrepare, Control: true},
	MethodCommit:   {Handler: handleCommit, Control: true},
	MethodRollback: {Handler: handleRollback, Control: true},
	MethodRecover:  {Handler: handleRecover, Control: true},
}

// ============================================================================
// File operations
// ============================================================================

func handleList(ctx context.Context, call *Call) (any, error) {
	p := call.Request.Params
	return call.Worker.List(ctx, p.PrimaryOwner(), p.Source, p.Recursively)
}

func handleRead(ctx context.Context, call *Call) (any, error) {
	p := call.Request.Params
	return call.Worker.Read(ctx, p.PrimaryOwner(), p.Source, p.Offset, p.Limit)
}

func handleFree(ctx context.Context, call *Call) (any, error) {
	p := call.Request.Params
	return call.Worker.Free(ctx, p.PrimaryOwner(), p.Source)
}

func handleWrite(ctx context.Context, call *Call) (any, error) {
	p := call.Request.Params
	if err := call.Worker.Write(ctx, p.PrimaryOwner(), p.Source, p.Offset, p.Data); err != nil {
		return nil, err
	}
	return true, nil
}

func handleCreate(ctx context.Context, call *Call) (any, error) {
	p := call.Request.Params
	if err := call.Worker.Create(ctx, p.PrimaryOwner(), p.Source, p.Directory); err != nil {
		return nil, err
	}
	return true, nil
}

func handleDelete(ctx context.Context, call *Call) (any, error) {
	p := call.Request.Params
	if err := call.Worker.Delete(ctx, p.PrimaryOwner(), p.Source); err != nil {
		return nil, err
	}
	return true, nil
}

func handleCopy(ctx context.Context, call *Call) (any, error) {
	p := call.Request.Params
	if err := call.Worker.Copy(ctx, p.PrimaryOwner(), p.Source, p.TargetOwner, p.Target); err != nil {
		return nil, err
	}
	return true, nil
}

func handleMove(ctx context.Context, call *Call) (any, error) {
	p := call.Request.Params
	if err := call.Worker.Move(ctx, p.PrimaryOwner(), p.Source, p.TargetOwner, p.Target); err != nil {
		return nil, err
	}
	return true, nil
}

// ============================================================================
// Transaction control
// ============================================================================

func handleBegin(ctx context.Context, call *Call) (any, error) {
	id := call.Request.Params.TransactionID
	if id == uuid.Nil {
		id = uuid.New()
	}
	if err := call.Worker.Begin(ctx, id); err != nil {
		return nil, err
	}
	return id, nil
}

func handlePrepare(ctx context.Context, call *Call) (any, error) {
	if call.Worker.Mode() != worker.TwoPhase {
		return nil, afs.NewInvalidStateError("prepare requires a transaction manager")
	}
	if err := call.Worker.Prepare(ctx); err != nil {
		return nil, err
	}
	return true, nil
}

func handleCommit(ctx context.Context, call *Call) (any, error) {
	if err := call.Worker.Commit(ctx); err != nil {
		return nil, err
	}
	return true, nil
}

func handleRollback(ctx context.Context, call *Call) (any, error) {
	if err := call.Worker.Rollback(ctx); err != nil {
		return nil, err
	}
	return true, nil
}

func handleRecover(ctx context.Context, call *Call) (any, error) {
	if call.Worker.Mode() != worker.TwoPhase {
		return nil, afs.NewInvalidStateError("recover requires a transaction manager")
	}
	return call.Worker.Recover(ctx)
}
