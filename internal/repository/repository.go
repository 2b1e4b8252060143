package repository

import (
	"context"

	"github.com/parkerv/shipyard/internal/domain"
)

// ProjectRepository persists project rows, the system of record for
// deployment state. Status transitions rely on the store's single-row update
// atomicity; no in-process locking is layered on top.
type ProjectRepository interface {
	CreateProject(ctx context.Context, project *domain.Project) error
	GetProjectByID(ctx context.Context, id string) (*domain.Project, error)
	GetProjectBySubdomain(ctx context.Context, subdomain string) (*domain.Project, error)
	GetProjectByCustomDomain(ctx context.Context, host string) (*domain.Project, error)
	ListProjectsByOwner(ctx context.Context, ownerID string) ([]domain.Project, error)
	UpdateProjectStatus(ctx context.Context, id, status string) (*domain.Project, error)
	DeleteProject(ctx context.Context, id string) error
}

// LogEventRepository persists build log events. InsertLogEvent must be
// idempotent on event ID so bus redelivery cannot duplicate rows.
type LogEventRepository interface {
	InsertLogEvent(ctx context.Context, event domain.LogEvent) error
	ListLogEventsByDeployment(ctx context.Context, deploymentID string) ([]domain.LogEvent, error)
	DeleteLogEventsByDeployment(ctx context.Context, deploymentID string) error
}
