// Package project manages the project registry: creation, lookup and
// listing. Subdomains are generated here and uniqueness is enforced by the
// store, not by coordination between API replicas.
package project

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/parkerv/shipyard/internal/domain"
	"github.com/parkerv/shipyard/internal/repository"
	"github.com/parkerv/shipyard/pkg/slug"
)

// CreateInput encapsulates project creation attributes. CustomDomain is
// optional; when set the project is also routable by that hostname.
type CreateInput struct {
	Name         string
	GitURL       string
	CustomDomain string
	OwnerID      string
}

// Service orchestrates project management.
type Service struct {
	projects repository.ProjectRepository
	logger   *slog.Logger
}

// New returns a project service.
func New(projects repository.ProjectRepository, logger *slog.Logger) Service {
	return Service{projects: projects, logger: logger}
}

var (
	errInvalidProjectName  = errors.New("project name is required")
	errInvalidGitURL       = errors.New("a valid git repository URL is required")
	errInvalidCustomDomain = errors.New("custom domain must be a bare hostname")
	errMissingOwnerID      = errors.New("user id required")
	errMissingProjectID    = errors.New("project id required")
)

// ErrSubdomainExhausted reports that no unique subdomain could be generated.
var ErrSubdomainExhausted = errors.New("could not allocate a unique subdomain")

const subdomainAttempts = 5

// Create registers a new project with a generated subdomain. Subdomain
// collisions surface as a unique violation from the store and trigger a
// regeneration, up to a small bounded number of attempts.
func (s Service) Create(ctx context.Context, input CreateInput) (*domain.Project, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, errInvalidProjectName
	}
	if err := validateGitURL(input.GitURL); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.OwnerID) == "" {
		return nil, errMissingOwnerID
	}
	customDomain, err := normalizeCustomDomain(input.CustomDomain)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < subdomainAttempts; attempt++ {
		now := time.Now().UTC()
		project := &domain.Project{
			ID:           uuid.NewString(),
			Name:         strings.TrimSpace(input.Name),
			GitURL:       strings.TrimSpace(input.GitURL),
			Subdomain:    slug.Generate(),
			CustomDomain: customDomain,
			OwnerID:      strings.TrimSpace(input.OwnerID),
			Status:       domain.StatusCreated,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		err := s.projects.CreateProject(ctx, project)
		if err == nil {
			s.logger.Info("project created", "project_id", project.ID, "subdomain", project.Subdomain, "owner_id", project.OwnerID)
			return project, nil
		}
		if !errors.Is(err, repository.ErrConflict) {
			// Includes ErrDomainTaken: another slug will not free the domain.
			return nil, err
		}
		lastErr = err
	}
	return nil, errors.Join(ErrSubdomainExhausted, lastErr)
}

// Get returns project details by identifier.
func (s Service) Get(ctx context.Context, projectID string) (*domain.Project, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, errMissingProjectID
	}
	return s.projects.GetProjectByID(ctx, projectID)
}

// ListByOwner returns projects created by the given user.
func (s Service) ListByOwner(ctx context.Context, ownerID string) ([]domain.Project, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, errMissingOwnerID
	}
	return s.projects.ListProjectsByOwner(ctx, ownerID)
}

// normalizeCustomDomain lowercases the hostname and rejects anything with a
// scheme, path or port. nil means no custom domain was requested.
func normalizeCustomDomain(raw string) (*string, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return nil, nil
	}
	if strings.ContainsAny(raw, "/:@ ") || !strings.Contains(raw, ".") {
		return nil, errInvalidCustomDomain
	}
	return &raw, nil
}

func validateGitURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errInvalidGitURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return errInvalidGitURL
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errInvalidGitURL
	}
	if u.Host == "" {
		return errInvalidGitURL
	}
	return nil
}
