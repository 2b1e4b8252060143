package project

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/parkerv/shipyard/internal/domain"
	"github.com/parkerv/shipyard/internal/repository"
)

type stubProjectRepository struct {
	created      []domain.Project
	attempts     int
	conflicts    int
	takenDomains map[string]bool
	projectBy    map[string]domain.Project
	byOwner      map[string][]domain.Project
}

func (s *stubProjectRepository) CreateProject(ctx context.Context, project *domain.Project) error {
	s.attempts++
	if s.conflicts > 0 {
		s.conflicts--
		return repository.ErrConflict
	}
	if project.CustomDomain != nil && s.takenDomains[*project.CustomDomain] {
		return repository.ErrDomainTaken
	}
	s.created = append(s.created, *project)
	return nil
}

func (s *stubProjectRepository) GetProjectByID(ctx context.Context, id string) (*domain.Project, error) {
	if project, ok := s.projectBy[id]; ok {
		return &project, nil
	}
	return nil, repository.ErrNotFound
}

func (s *stubProjectRepository) GetProjectBySubdomain(ctx context.Context, subdomain string) (*domain.Project, error) {
	return nil, repository.ErrNotFound
}

func (s *stubProjectRepository) GetProjectByCustomDomain(ctx context.Context, host string) (*domain.Project, error) {
	return nil, repository.ErrNotFound
}

func (s *stubProjectRepository) ListProjectsByOwner(ctx context.Context, ownerID string) ([]domain.Project, error) {
	return append([]domain.Project(nil), s.byOwner[ownerID]...), nil
}

func (s *stubProjectRepository) UpdateProjectStatus(ctx context.Context, id, status string) (*domain.Project, error) {
	return nil, repository.ErrNotFound
}

func (s *stubProjectRepository) DeleteProject(ctx context.Context, id string) error {
	return nil
}

func newTestService(repo repository.ProjectRepository) Service {
	return New(repo, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestCreateAssignsSubdomainAndStatus(t *testing.T) {
	repo := &stubProjectRepository{}
	svc := newTestService(repo)

	project, err := svc.Create(context.Background(), CreateInput{
		Name:    "my-site",
		GitURL:  "https://github.com/acme/site",
		OwnerID: "user-1",
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if project.ID == "" {
		t.Error("expected generated project id")
	}
	if project.Subdomain == "" {
		t.Error("expected generated subdomain")
	}
	if project.Status != domain.StatusCreated {
		t.Errorf("status = %q, want %q", project.Status, domain.StatusCreated)
	}
	if len(repo.created) != 1 {
		t.Fatalf("expected 1 stored project, got %d", len(repo.created))
	}
}

func TestCreatePersistsCustomDomain(t *testing.T) {
	repo := &stubProjectRepository{}
	svc := newTestService(repo)

	project, err := svc.Create(context.Background(), CreateInput{
		Name:         "docs",
		GitURL:       "https://github.com/acme/docs",
		CustomDomain: " Docs.Acme.Dev ",
		OwnerID:      "user-1",
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if project.CustomDomain == nil || *project.CustomDomain != "docs.acme.dev" {
		t.Errorf("custom domain = %v, want normalized docs.acme.dev", project.CustomDomain)
	}
	if len(repo.created) != 1 || repo.created[0].CustomDomain == nil {
		t.Fatalf("stored projects = %+v", repo.created)
	}
}

func TestCreateCustomDomainTakenIsFinal(t *testing.T) {
	repo := &stubProjectRepository{takenDomains: map[string]bool{"docs.acme.dev": true}}
	svc := newTestService(repo)

	_, err := svc.Create(context.Background(), CreateInput{
		Name:         "docs",
		GitURL:       "https://github.com/acme/docs",
		CustomDomain: "docs.acme.dev",
		OwnerID:      "user-1",
	})
	if !errors.Is(err, repository.ErrDomainTaken) {
		t.Fatalf("expected ErrDomainTaken, got %v", err)
	}
	if repo.attempts != 1 {
		t.Errorf("attempts = %d, a taken domain must not trigger slug retries", repo.attempts)
	}
}

func TestCreateRetriesOnSubdomainConflict(t *testing.T) {
	repo := &stubProjectRepository{conflicts: 2}
	svc := newTestService(repo)

	project, err := svc.Create(context.Background(), CreateInput{
		Name:    "my-site",
		GitURL:  "https://github.com/acme/site",
		OwnerID: "user-1",
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if len(repo.created) != 1 {
		t.Fatalf("expected 1 stored project after retries, got %d", len(repo.created))
	}
	if project.Subdomain == "" {
		t.Error("expected generated subdomain")
	}
}

func TestCreateGivesUpAfterRepeatedConflicts(t *testing.T) {
	repo := &stubProjectRepository{conflicts: subdomainAttempts}
	svc := newTestService(repo)

	_, err := svc.Create(context.Background(), CreateInput{
		Name:    "my-site",
		GitURL:  "https://github.com/acme/site",
		OwnerID: "user-1",
	})
	if !errors.Is(err, ErrSubdomainExhausted) {
		t.Fatalf("expected ErrSubdomainExhausted, got %v", err)
	}
}

func TestCreateValidatesInput(t *testing.T) {
	svc := newTestService(&stubProjectRepository{})

	cases := []struct {
		name  string
		input CreateInput
		want  error
	}{
		{"missing name", CreateInput{GitURL: "https://x.dev/r", OwnerID: "u"}, errInvalidProjectName},
		{"missing git url", CreateInput{Name: "a", OwnerID: "u"}, errInvalidGitURL},
		{"bad scheme", CreateInput{Name: "a", GitURL: "ftp://x.dev/r", OwnerID: "u"}, errInvalidGitURL},
		{"no host", CreateInput{Name: "a", GitURL: "https:///r", OwnerID: "u"}, errInvalidGitURL},
		{"missing owner", CreateInput{Name: "a", GitURL: "https://x.dev/r"}, errMissingOwnerID},
		{"domain with scheme", CreateInput{Name: "a", GitURL: "https://x.dev/r", CustomDomain: "https://docs.acme.dev", OwnerID: "u"}, errInvalidCustomDomain},
		{"domain without dot", CreateInput{Name: "a", GitURL: "https://x.dev/r", CustomDomain: "localhost", OwnerID: "u"}, errInvalidCustomDomain},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Create(context.Background(), tc.input); !errors.Is(err, tc.want) {
				t.Fatalf("Create(%+v) error = %v, want %v", tc.input, err, tc.want)
			}
		})
	}
}

func TestGetRequiresProjectID(t *testing.T) {
	svc := newTestService(&stubProjectRepository{})
	if _, err := svc.Get(context.Background(), " "); !errors.Is(err, errMissingProjectID) {
		t.Fatalf("expected errMissingProjectID, got %v", err)
	}
}

func TestListByOwner(t *testing.T) {
	repo := &stubProjectRepository{
		byOwner: map[string][]domain.Project{
			"user-1": {{ID: "p1"}, {ID: "p2"}},
		},
	}
	svc := newTestService(repo)

	projects, err := svc.ListByOwner(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ListByOwner returned error: %v", err)
	}
	if len(projects) != 2 {
		t.Fatalf("expected 2 projects, got %d", len(projects))
	}
}
