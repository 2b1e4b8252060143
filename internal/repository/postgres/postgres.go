package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parkerv/shipyard/internal/domain"
	"github.com/parkerv/shipyard/internal/repository"
)

const uniqueViolation = "23505"

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.ProjectRepository  = (*Repository)(nil)
	_ repository.LogEventRepository = (*Repository)(nil)
)

const projectColumns = `id, name, git_url, sub_domain, custom_domain, created_by, status, created_at, updated_at`

// CreateProject inserts a project row. A subdomain collision surfaces as
// repository.ErrConflict so callers can retry with a fresh slug; a custom
// domain collision surfaces as repository.ErrDomainTaken, which is final.
func (r *Repository) CreateProject(ctx context.Context, project *domain.Project) error {
	const query = `INSERT INTO projects (id, name, git_url, sub_domain, custom_domain, created_by, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.pool.Exec(ctx, query,
		project.ID, project.Name, project.GitURL, project.Subdomain, project.CustomDomain,
		project.OwnerID, project.Status, project.CreatedAt, project.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			if pgErr.ConstraintName == "idx_projects_custom_domain" {
				return repository.ErrDomainTaken
			}
			return repository.ErrConflict
		}
		return err
	}
	return nil
}

// GetProjectByID fetches a project by identifier.
func (r *Repository) GetProjectByID(ctx context.Context, id string) (*domain.Project, error) {
	const query = `SELECT ` + projectColumns + ` FROM projects WHERE id = $1`
	return r.getProject(ctx, query, id)
}

// GetProjectBySubdomain fetches the project owning a generated subdomain.
func (r *Repository) GetProjectBySubdomain(ctx context.Context, subdomain string) (*domain.Project, error) {
	const query = `SELECT ` + projectColumns + ` FROM projects WHERE sub_domain = $1`
	return r.getProject(ctx, query, subdomain)
}

// GetProjectByCustomDomain fetches the project routed by a custom hostname.
func (r *Repository) GetProjectByCustomDomain(ctx context.Context, host string) (*domain.Project, error) {
	const query = `SELECT ` + projectColumns + ` FROM projects WHERE custom_domain = $1`
	return r.getProject(ctx, query, host)
}

func (r *Repository) getProject(ctx context.Context, query string, args ...any) (*domain.Project, error) {
	row := r.pool.QueryRow(ctx, query, args...)
	var p domain.Project
	if err := row.Scan(&p.ID, &p.Name, &p.GitURL, &p.Subdomain, &p.CustomDomain, &p.OwnerID, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// ListProjectsByOwner returns projects created by the given user.
func (r *Repository) ListProjectsByOwner(ctx context.Context, ownerID string) ([]domain.Project, error) {
	const query = `SELECT ` + projectColumns + ` FROM projects WHERE created_by = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.GitURL, &p.Subdomain, &p.CustomDomain, &p.OwnerID, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// UpdateProjectStatus atomically sets the status of a single project row and
// returns the updated row.
func (r *Repository) UpdateProjectStatus(ctx context.Context, id, status string) (*domain.Project, error) {
	const query = `UPDATE projects SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING ` + projectColumns
	return r.getProject(ctx, query, id, status)
}

// DeleteProject removes a project row.
func (r *Repository) DeleteProject(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// InsertLogEvent persists one log event. Duplicate event IDs are dropped so
// redelivery from the bus stays idempotent.
func (r *Repository) InsertLogEvent(ctx context.Context, event domain.LogEvent) error {
	const query = `INSERT INTO log_events (event_id, deployment_id, log, timestamp)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_id) DO NOTHING`
	_, err := r.pool.Exec(ctx, query, event.EventID, event.DeploymentID, event.Log, event.Timestamp)
	return err
}

// ListLogEventsByDeployment returns all events for a deployment ordered by
// persistence time. Ordering approximates emission order; it is exact per
// queue partition only.
func (r *Repository) ListLogEventsByDeployment(ctx context.Context, deploymentID string) ([]domain.LogEvent, error) {
	const query = `SELECT event_id, deployment_id, log, timestamp FROM log_events
		WHERE deployment_id = $1
		ORDER BY timestamp, event_id`
	rows, err := r.pool.Query(ctx, query, deploymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.LogEvent
	for rows.Next() {
		var e domain.LogEvent
		if err := rows.Scan(&e.EventID, &e.DeploymentID, &e.Log, &e.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// DeleteLogEventsByDeployment bulk-deletes a deployment's log history.
func (r *Repository) DeleteLogEventsByDeployment(ctx context.Context, deploymentID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM log_events WHERE deployment_id = $1`, deploymentID)
	return err
}
