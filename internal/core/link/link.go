// Package link models the owner to supervisor relationship.
package link

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrMissing is returned when an owner has no supervisor linked.
	ErrMissing = errors.New("no supervisor linked")

	// ErrNotLinked is returned when a supervisor acts on an owner that is
	// linked to someone else, or to no one.
	ErrNotLinked = errors.New("supervisor not linked to owner")
)

// Link is the owner's current supervisor.
type Link struct {
	OwnerID      string    `json:"-"`
	SupervisorID string    `json:"supervisorId"`
	LinkedAt     time.Time `json:"linkedAt"`
}

// Resolver looks up the supervisor linked to an owner.
type Resolver interface {
	Supervisor(ctx context.Context, ownerID string) (Link, error)
}
