// Package api dispatches file store requests to workers.
//
// The Server picks the transaction mode from the keys a request carries,
// finds or creates the worker that owns the session or transaction,
// checks the session and its rights and runs the call through the
// observer chain.
package api

import (
	"github.com/google/uuid"
)

// Method names an API operation.
type Method string

const (
	MethodList           Method = "list"
	MethodRead           Method = "read"
	MethodWrite          Method = "write"
	MethodCreate         Method = "create"
	MethodCopy           Method = "copy"
	MethodMove           Method = "move"
	MethodDelete         Method = "delete"
	MethodFree           Method = "free"
	MethodBegin          Method = "begin"
	MethodPrepare        Method = "prepare"
	MethodCommit         Method = "commit"
	MethodRollback       Method = "rollback"
	MethodRecover        Method = "recover"
	MethodIsSessionValid Method = "isSessionValid"
)

// Methods lists every supported method.
var Methods = []Method{
	MethodList, MethodRead, MethodWrite, MethodCreate, MethodCopy, MethodMove,
	MethodDelete, MethodFree, MethodBegin, MethodPrepare, MethodCommit,
	MethodRollback, MethodRecover, MethodIsSessionValid,
}

// Params carries the arguments of every method. Each method reads the
// fields it needs and ignores the rest.
type Params struct {
	Owner       string `json:"owner,omitempty"`
	Source      string `json:"source,omitempty"`
	SourceOwner string `json:"sourceOwner,omitempty"`
	Target      string `json:"target,omitempty"`
	TargetOwner string `json:"targetOwner,omitempty"`

	Offset      int64  `json:"offset,omitempty"`
	Limit       int    `json:"limit,omitempty"`
	Data        []byte `json:"data,omitempty"`
	Directory   bool   `json:"directory,omitempty"`
	Recursively bool   `json:"recursively,omitempty"`

	// TransactionID selects the two-phase transaction.
	TransactionID uuid.UUID `json:"transactionId,omitempty"`
}

// Request is a single API call.
type Request struct {
	Method Method `json:"method"`
	Params Params `json:"params"`

	SessionToken          string `json:"sessionToken,omitempty"`
	InteractiveSessionKey string `json:"interactiveSessionKey,omitempty"`
	TransactionManagerKey string `json:"transactionManagerKey,omitempty"`
}

// PrimaryOwner returns the owner a single-owner method works on, or the
// source owner of a transfer. Either field is accepted for both.
func (p Params) PrimaryOwner() string {
	if p.SourceOwner != "" {
		return p.SourceOwner
	}
	return p.Owner
}
