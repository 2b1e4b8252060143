// Package deploy coordinates deployments: it queues a project's build,
// launches the disposable agent task and handles project teardown. The
// coordinator never waits for the agent; progress arrives through the log
// pipeline and the project status row.
package deploy

import (
	"context"
	"errors"
	"strings"

	"log/slog"

	"github.com/parkerv/shipyard/internal/domain"
	"github.com/parkerv/shipyard/internal/launcher"
	"github.com/parkerv/shipyard/internal/repository"
	"github.com/parkerv/shipyard/pkg/config"
)

// Launcher starts one agent task.
type Launcher interface {
	Launch(ctx context.Context, spec launcher.TaskSpec) (string, error)
}

// ArtifactStore removes a project's built objects.
type ArtifactStore interface {
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// Service orchestrates deployments and deletions.
type Service struct {
	projects repository.ProjectRepository
	logs     repository.LogEventRepository
	tasks    Launcher
	store    ArtifactStore
	logger   *slog.Logger
	cfg      config.APIConfig
}

// New returns a deploy service.
func New(projects repository.ProjectRepository, logs repository.LogEventRepository, tasks Launcher, store ArtifactStore, logger *slog.Logger, cfg config.APIConfig) Service {
	return Service{
		projects: projects,
		logs:     logs,
		tasks:    tasks,
		store:    store,
		logger:   logger,
		cfg:      cfg,
	}
}

var (
	errMissingProjectID = errors.New("project id required")
	errMissingUserID    = errors.New("user id required")
)

// ErrForbidden reports a request by someone other than the project owner.
var ErrForbidden = errors.New("requester does not own this project")

// Deployment is the coordinator's answer to a deploy request. The build runs
// on; URL points at where the artifacts will be served once it finishes and
// is rendered top-level in the HTTP response, not inside the object.
type Deployment struct {
	DeploymentID string `json:"deploymentId"`
	Status       string `json:"status"`
	URL          string `json:"-"`
	TaskID       string `json:"-"`
}

// Request queues a deployment: flips the project to QUEUED and launches the
// agent task. A failed launch reverts the status so the project does not
// appear stuck in a queue nothing is draining.
func (s Service) Request(ctx context.Context, projectID string) (*Deployment, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, errMissingProjectID
	}

	project, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	prevStatus := project.Status

	if _, err := s.projects.UpdateProjectStatus(ctx, project.ID, domain.StatusQueued); err != nil {
		return nil, err
	}

	spec := launcher.TaskSpec{
		Image: s.cfg.AgentImage,
		Env: []string{
			"GIT_REPO=" + project.GitURL,
			"DEPLOYMENT_ID=" + project.ID,
			"PROJECT_ID=" + project.ID,
			"AMQP_URL=" + s.cfg.AMQPURL,
			"LOG_QUEUE=" + s.cfg.LogQueue,
			"STORAGE_URL=" + s.cfg.StorageURL,
			"STORAGE_BUCKET=" + s.cfg.StorageBucket,
			"DATABASE_URL=" + s.cfg.DatabaseURL,
		},
		Network:  s.cfg.AgentNetwork,
		MemoryMB: s.cfg.AgentMemoryMB,
		CPUs:     s.cfg.AgentCPUs,
	}
	taskID, err := s.tasks.Launch(ctx, spec)
	if err != nil {
		s.logger.Error("agent launch failed", "project_id", project.ID, "error", err)
		if _, revertErr := s.projects.UpdateProjectStatus(ctx, project.ID, prevStatus); revertErr != nil {
			s.logger.Error("status revert failed", "project_id", project.ID, "error", revertErr)
		}
		return nil, err
	}

	s.logger.Info("deployment queued", "project_id", project.ID, "task_id", taskID)
	return &Deployment{
		DeploymentID: project.ID,
		Status:       domain.StatusQueued,
		URL:          s.previewURL(project),
		TaskID:       taskID,
	}, nil
}

// DeleteResult summarizes a project teardown.
type DeleteResult struct {
	ProjectID      string `json:"projectId"`
	ObjectsDeleted int    `json:"objectsDeleted"`
}

// Delete tears a project down: artifacts first, then log events, then the
// project row. Ordering matters, the metadata row is the only pointer to the
// storage prefix, so it survives until the objects are confirmed gone and a
// failed storage sweep leaves a retryable project instead of orphaned blobs.
func (s Service) Delete(ctx context.Context, projectID, requesterID string) (*DeleteResult, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, errMissingProjectID
	}
	requesterID = strings.TrimSpace(requesterID)
	if requesterID == "" {
		return nil, errMissingUserID
	}

	project, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project.OwnerID != requesterID {
		return nil, ErrForbidden
	}

	deleted, err := s.store.DeletePrefix(ctx, project.ArtifactPrefix())
	if err != nil {
		s.logger.Error("artifact sweep failed", "project_id", project.ID, "error", err)
		return nil, err
	}
	if err := s.logs.DeleteLogEventsByDeployment(ctx, project.ID); err != nil {
		return nil, err
	}
	if err := s.projects.DeleteProject(ctx, project.ID); err != nil {
		return nil, err
	}

	s.logger.Info("project deleted", "project_id", project.ID, "objects_deleted", deleted)
	return &DeleteResult{ProjectID: project.ID, ObjectsDeleted: deleted}, nil
}

func (s Service) previewURL(project *domain.Project) string {
	host := project.Subdomain + "." + s.cfg.PreviewHost
	if project.CustomDomain != nil && *project.CustomDomain != "" {
		host = *project.CustomDomain
	}
	return s.cfg.PreviewScheme + "://" + host
}
