package api

import (
	"context"

	"github.com/marmos91/afs/pkg/worker"
)

// Call is a request bound to the worker that executes it. Observers may
// stash state on it between their before and after hooks.
type Call struct {
	Request *Request
	Worker  *worker.Worker

	// NewOwners lists the owners that get their first files through this
	// call. Filled by observers before the call runs.
	NewOwners []string
}

// Method is a shorthand for c.Request.Method.
func (c *Call) Method() Method {
	return c.Request.Method
}

// TargetOwners returns the owners a mutating call may create data in:
// write and create target their owner, copy and move their target owner.
func (c *Call) TargetOwners() []string {
	p := c.Request.Params
	switch c.Request.Method {
	case MethodWrite, MethodCreate:
		return []string{p.PrimaryOwner()}
	case MethodCopy, MethodMove:
		return []string{p.TargetOwner}
	default:
		return nil
	}
}

// Observer is anything registered on a Chain. An observer implements any
// subset of BeforeObserver, DuringObserver and AfterObserver.
type Observer interface {
	Name() string
}

// BeforeObserver runs after authorization and before the call. An error
// aborts the call.
type BeforeObserver interface {
	Observer
	BeforeCall(ctx context.Context, call *Call) error
}

// DuringObserver may serve the call itself. It returns handled=false to
// let the next observer, or the default handling, run.
type DuringObserver interface {
	Observer
	DuringCall(ctx context.Context, call *Call) (result any, handled bool, err error)
}

// AfterObserver runs after the call succeeded. An error fails the call.
type AfterObserver interface {
	Observer
	AfterCall(ctx context.Context, call *Call, result any) error
}

// Chain runs observers in registration order.
type Chain struct {
	names  []string
	before []BeforeObserver
	during []DuringObserver
	after  []AfterObserver
}

// NewChain creates a chain of observers.
func NewChain(observers ...Observer) *Chain {
	c := &Chain{}
	for _, o := range observers {
		c.Add(o)
	}
	return c
}

// Add appends o to every hook it implements.
func (c *Chain) Add(o Observer) {
	c.names = append(c.names, o.Name())
	if b, ok := o.(BeforeObserver); ok {
		c.before = append(c.before, b)
	}
	if d, ok := o.(DuringObserver); ok {
		c.during = append(c.during, d)
	}
	if a, ok := o.(AfterObserver); ok {
		c.after = append(c.after, a)
	}
}

// Names lists the registered observers in order.
func (c *Chain) Names() []string {
	return append([]string(nil), c.names...)
}

func (c *Chain) Before(ctx context.Context, call *Call) error {
	for _, o := range c.before {
		if err := o.BeforeCall(ctx, call); err != nil {
			return err
		}
	}
	return nil
}

// During runs the during observers until one handles the call, falling back
// to def.
func (c *Chain) During(ctx context.Context, call *Call, def func() (any, error)) (any, error) {
	for _, o := range c.during {
		result, handled, err := o.DuringCall(ctx, call)
		if err != nil {
			return nil, err
		}
		if handled {
			return result, nil
		}
	}
	return def()
}

func (c *Chain) After(ctx context.Context, call *Call, result any) error {
	for _, o := range c.after {
		if err := o.AfterCall(ctx, call, result); err != nil {
			return err
		}
	}
	return nil
}
