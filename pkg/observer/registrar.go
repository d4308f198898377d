// Package observer holds the API observers wired into the server chain.
package observer

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/afs/internal/logger"
	"github.com/marmos91/afs/pkg/api"
	"github.com/marmos91/afs/pkg/entity"
	"github.com/marmos91/afs/pkg/worker"
)

// DataSetCreator is the part of the entity system the registrar needs.
type DataSetCreator interface {
	LookupEntity(ctx context.Context, permID string) (entity.Entity, error)
	CreateDataSet(ctx context.Context, creation entity.DataSetCreation, scope entity.Scope) entity.CreationResult
}

// DataSetRegistrar registers a data set with the entity system when an
// owner receives its first files.
//
// Non-transactional calls and two-phase transactions register right after
// the call that created the owner's folder. One-phase sessions collect the
// new owners and register them after a successful commit.
type DataSetRegistrar struct {
	entities              DataSetCreator
	guard                 *worker.Guard
	interactiveSessionKey string
}

// NewDataSetRegistrar creates the registrar. guard may be nil; when set,
// cached rights of a registered owner are dropped so the next call sees
// its data set.
func NewDataSetRegistrar(entities DataSetCreator, guard *worker.Guard, interactiveSessionKey string) *DataSetRegistrar {
	return &DataSetRegistrar{
		entities:              entities,
		guard:                 guard,
		interactiveSessionKey: interactiveSessionKey,
	}
}

func (r *DataSetRegistrar) Name() string {
	return "dataset-registrar"
}

// BeforeCall records the target owners that have no folder yet.
func (r *DataSetRegistrar) BeforeCall(ctx context.Context, call *api.Call) error {
	w := call.Worker
	for _, owner := range call.TargetOwners() {
		if w.IsRegistered(owner) {
			continue
		}
		exists, err := w.OwnerExists(owner)
		if err != nil {
			return err
		}
		if !exists {
			call.NewOwners = append(call.NewOwners, owner)
		}
	}
	return nil
}

func (r *DataSetRegistrar) AfterCall(ctx context.Context, call *api.Call, result any) error {
	w := call.Worker
	if w.Mode() != worker.OnePhase {
		return r.register(ctx, call, call.NewOwners)
	}
	if call.Method() == api.MethodCommit {
		return r.register(ctx, call, w.TakePending())
	}
	for _, owner := range call.NewOwners {
		w.AddPending(owner)
	}
	return nil
}

func (r *DataSetRegistrar) register(ctx context.Context, call *api.Call, owners []string) error {
	w := call.Worker
	for _, owner := range owners {
		if w.IsRegistered(owner) {
			continue
		}

		owned, err := r.entities.LookupEntity(ctx, owner)
		if errors.Is(err, entity.ErrNotFound) {
			logger.Warn("No experiment or sample %s, data set not registered", owner)
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to look up owner %s: %w", owner, err)
		}

		scope := entity.Scope{SessionToken: call.Request.SessionToken}
		if w.Mode() == worker.TwoPhase {
			scope.TransactionID = w.TransactionID()
			scope.InteractiveSessionKey = r.interactiveSessionKey
		}

		p := w.Placement(owner)
		res := r.entities.CreateDataSet(ctx, entity.DataSetCreation{
			Code:     owner,
			Owner:    owned,
			ShareID:  p.ShareID,
			Location: p.Location,
		}, scope)

		switch res.Outcome {
		case entity.Created:
			logger.Info("Created data set %s (%s %s) at %s", owner, owned.Kind, owned.PermID, p.Path())
		case entity.AlreadyExists:
			logger.Debug("Data set %s already exists", owner)
		default:
			return fmt.Errorf("failed to register data set %s: %w", owner, res.Err)
		}

		w.MarkRegistered(owner)
		if r.guard != nil {
			r.guard.Forget(call.Request.SessionToken, owner)
		}
	}
	return nil
}
