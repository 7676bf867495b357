package rbac

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tallyhq/tally/internal/shared"
)

// ErrProjectAccess is returned when the actor may not touch a project.
var ErrProjectAccess = fmt.Errorf("rbac: no access to project: %w", shared.ErrForbidden)

// ProjectStore answers project membership questions.
type ProjectStore interface {
	ProjectMembership(ctx context.Context, organizationID, projectID, userID int64) (inOrganization bool, member bool, err error)
}

// Service authorises project scoped operations.
type Service struct {
	store ProjectStore
}

// NewService constructs a Service backed by the provided pool.
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{store: pgStore{pool: pool}}
}

// NewServiceWithStore constructs a Service over a custom store.
func NewServiceWithStore(store ProjectStore) *Service {
	return &Service{store: store}
}

// CanAccessProject reports whether the actor may work inside the project.
// Admins skip the assignment check but never cross organizations.
func (s *Service) CanAccessProject(ctx context.Context, actor shared.Actor, projectID int64) (bool, error) {
	if !actor.Valid() || projectID <= 0 {
		return false, nil
	}
	inOrg, member, err := s.store.ProjectMembership(ctx, actor.OrganizationID, projectID, actor.UserID)
	if err != nil {
		return false, fmt.Errorf("rbac: project membership: %w", err)
	}
	if !inOrg {
		return false, nil
	}
	return actor.IsAdmin() || member, nil
}

// AuthorizeProject is CanAccessProject returning ErrProjectAccess on denial.
func (s *Service) AuthorizeProject(ctx context.Context, actor shared.Actor, projectID int64) error {
	ok, err := s.CanAccessProject(ctx, actor, projectID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w (project %d)", ErrProjectAccess, projectID)
	}
	return nil
}

type pgStore struct {
	pool *pgxpool.Pool
}

func (p pgStore) ProjectMembership(ctx context.Context, organizationID, projectID, userID int64) (bool, bool, error) {
	var inOrg, member bool
	err := p.pool.QueryRow(ctx, `SELECT
	EXISTS (SELECT 1 FROM projects WHERE id = $1 AND organization_id = $2),
	EXISTS (SELECT 1 FROM project_members WHERE project_id = $1 AND user_id = $3)`,
		projectID, organizationID, userID).Scan(&inOrg, &member)
	return inOrg, member, err
}
