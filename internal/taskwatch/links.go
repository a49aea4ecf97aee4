package taskwatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/colonyops/taskwatch/internal/core/link"
	"github.com/colonyops/taskwatch/internal/core/remote"
	"github.com/colonyops/taskwatch/internal/core/validate"
	"github.com/hay-kot/criterio"
	"github.com/rs/zerolog"
)

// LinkService manages the owner to supervisor pairing. It stands in for the
// out-of-band pairing exchange: the engine itself only reads links.
type LinkService struct {
	store remote.Store
	now   func() time.Time
	log   zerolog.Logger
}

var _ link.Resolver = (*LinkService)(nil)

// NewLinkService creates a link service backed by store.
func NewLinkService(store remote.Store, log zerolog.Logger) *LinkService {
	return &LinkService{
		store: store,
		now:   time.Now,
		log:   log.With().Str("component", "links").Logger(),
	}
}

// Supervisor returns the owner's linked supervisor, or link.ErrMissing.
func (s *LinkService) Supervisor(ctx context.Context, ownerID string) (link.Link, error) {
	snap, err := s.store.ReadOnce(ctx, remote.LinkPath(ownerID))
	if err != nil {
		return link.Link{}, fmt.Errorf("read link: %w", err)
	}

	l, err := decodeLink(ownerID, snap)
	if err != nil {
		return link.Link{}, err
	}
	return l, nil
}

// Link pairs owner with supervisor, replacing any previous supervisor.
func (s *LinkService) Link(ctx context.Context, ownerID, supervisorID string) (link.Link, error) {
	if err := validate.Wrap(criterio.ValidateStruct(
		validate.UserIDField("owner", ownerID),
		validate.UserIDField("supervisor", supervisorID),
	)); err != nil {
		return link.Link{}, err
	}
	if ownerID == supervisorID {
		return link.Link{}, validate.Wrap(criterio.NewFieldErrors("supervisor", fmt.Errorf("an owner cannot supervise themselves")))
	}

	prev, err := s.Supervisor(ctx, ownerID)
	switch {
	case errors.Is(err, link.ErrMissing):
	case err != nil:
		return link.Link{}, err
	case prev.SupervisorID == supervisorID:
		return prev, nil
	default:
		if err := s.store.Delete(ctx, remote.LinkedUsersPath(prev.SupervisorID, ownerID)); err != nil {
			return link.Link{}, fmt.Errorf("remove previous reverse link: %w", err)
		}
	}

	l := link.Link{OwnerID: ownerID, SupervisorID: supervisorID, LinkedAt: s.now()}

	// Reverse link first so a subscriber that sees the owner's link can
	// always resolve the supervisor side.
	if err := s.store.Write(ctx, remote.LinkedUsersPath(supervisorID, ownerID), map[string]any{
		"linkedAt": l.LinkedAt,
	}); err != nil {
		return link.Link{}, fmt.Errorf("write reverse link: %w", err)
	}
	if err := s.store.Write(ctx, remote.LinkPath(ownerID), l); err != nil {
		return link.Link{}, fmt.Errorf("write link: %w", err)
	}

	s.log.Info().Str("owner", ownerID).Str("supervisor", supervisorID).Msg("supervisor linked")
	return l, nil
}

// Unlink removes the owner's supervisor. Unlinking an unlinked owner is a
// no-op.
func (s *LinkService) Unlink(ctx context.Context, ownerID string) error {
	prev, err := s.Supervisor(ctx, ownerID)
	if errors.Is(err, link.ErrMissing) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.store.Delete(ctx, remote.LinkPath(ownerID)); err != nil {
		return fmt.Errorf("delete link: %w", err)
	}
	if err := s.store.Delete(ctx, remote.LinkedUsersPath(prev.SupervisorID, ownerID)); err != nil {
		return fmt.Errorf("delete reverse link: %w", err)
	}

	s.log.Info().Str("owner", ownerID).Str("supervisor", prev.SupervisorID).Msg("supervisor unlinked")
	return nil
}

// LinkedOwners lists the owners linked to a supervisor.
func (s *LinkService) LinkedOwners(ctx context.Context, supervisorID string) ([]string, error) {
	snap, err := s.store.ReadOnce(ctx, remote.LinkedOwnersPath(supervisorID))
	if err != nil {
		return nil, fmt.Errorf("read linked users: %w", err)
	}
	children, err := snap.Children()
	if err != nil {
		return nil, err
	}
	return sortedKeys(children), nil
}

func decodeLink(ownerID string, snap remote.Snapshot) (link.Link, error) {
	if !snap.Exists {
		return link.Link{}, link.ErrMissing
	}
	var l link.Link
	if err := snap.Decode(&l); err != nil {
		return link.Link{}, err
	}
	if l.SupervisorID == "" {
		return link.Link{}, link.ErrMissing
	}
	l.OwnerID = ownerID
	return l, nil
}
