// Package entity defines the contract with the entity system that owns
// experiments, samples, data sets, sessions and access rights.
package entity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Kind is the kind of an owner entity.
type Kind string

const (
	KindExperiment Kind = "EXPERIMENT"
	KindSample     Kind = "SAMPLE"
)

// Permission is a right a session may hold on an owner.
type Permission string

const (
	PermissionRead  Permission = "Read"
	PermissionWrite Permission = "Write"
)

// ErrNotFound is returned when an entity does not exist.
var ErrNotFound = errors.New("entity not found")

// Entity is an experiment or sample that can own files.
//
// ImmutableDataDate is set once the entity's data is frozen; only such
// entities are picked up by the feeding task.
type Entity struct {
	PermID            string     `json:"permId"`
	Kind              Kind       `json:"kind"`
	ImmutableDataDate *time.Time `json:"immutableDataDate,omitempty"`
}

// DataSet is the entity system's record of an owner's physical data set.
// Its code equals the owner's perm id.
type DataSet struct {
	Code        string `json:"code"`
	OwnerPermID string `json:"ownerPermId"`
	ShareID     string `json:"shareId"`
	Location    string `json:"location"`
	Size        *int64 `json:"size,omitempty"`
}

// SearchCriteria selects entities by kind and immutable-data date.
// Results are sorted by date ascending.
type SearchCriteria struct {
	Kind Kind `json:"kind"`

	// Since is the lower date bound; Inclusive decides whether entities
	// dated exactly Since match.
	Since     time.Time `json:"since"`
	Inclusive bool      `json:"inclusive"`

	Limit int `json:"limit"`
}

// Rights is what a session may do with an owner.
type Rights struct {
	Permissions []Permission `json:"permissions"`

	// DataSet is the owner's registered data set, if any. Its share id and
	// location take precedence over the configured layout.
	DataSet *DataSet `json:"dataSet,omitempty"`
}

// Has reports whether p is granted.
func (r Rights) Has(p Permission) bool {
	for _, granted := range r.Permissions {
		if granted == p {
			return true
		}
	}
	return false
}

// CreationOutcome is the result of a data set registration.
type CreationOutcome int

const (
	Created CreationOutcome = iota
	AlreadyExists
	Failed
)

func (o CreationOutcome) String() string {
	switch o {
	case Created:
		return "created"
	case AlreadyExists:
		return "already-exists"
	default:
		return "failed"
	}
}

// CreationResult carries the outcome of CreateDataSet and, on failure, why.
type CreationResult struct {
	Outcome CreationOutcome
	Err     error
}

// DataSetCreation describes a data set to register for an owner.
type DataSetCreation struct {
	Code     string `json:"code"`
	Owner    Entity `json:"owner"`
	ShareID  string `json:"shareId"`
	Location string `json:"location"`
}

// Scope is the session context a registration runs in. Inside a two-phase
// transaction TransactionID and InteractiveSessionKey enlist the
// registration in the coordinator's transaction.
type Scope struct {
	SessionToken          string    `json:"sessionToken"`
	TransactionID         uuid.UUID `json:"transactionId"`
	InteractiveSessionKey string    `json:"interactiveSessionKey,omitempty"`
}

// SessionValidator checks session tokens.
type SessionValidator interface {
	IsSessionValid(ctx context.Context, token string) (bool, error)
}

// RightsProvider resolves what a session may do with an owner.
type RightsProvider interface {
	Rights(ctx context.Context, token, owner string) (Rights, error)
}

// Client is the full entity system contract.
type Client interface {
	SessionValidator
	RightsProvider

	// SearchEntities lists entities with an immutable-data date matching criteria.
	SearchEntities(ctx context.Context, criteria SearchCriteria) ([]Entity, error)

	// LookupEntity resolves a perm id to an experiment, or else a sample.
	// Returns ErrNotFound when neither exists.
	LookupEntity(ctx context.Context, permID string) (Entity, error)

	// ListDataSets returns the data sets of the given codes that exist.
	ListDataSets(ctx context.Context, codes []string) ([]DataSet, error)

	// CreateDataSet registers a data set.
	CreateDataSet(ctx context.Context, creation DataSetCreation, scope Scope) CreationResult

	// UpdateShareIDAndSize records the physical size of an indexed data set.
	UpdateShareIDAndSize(ctx context.Context, code, shareID string, size int64) error
}
