package deploy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/parkerv/shipyard/internal/domain"
	"github.com/parkerv/shipyard/internal/launcher"
	"github.com/parkerv/shipyard/internal/repository"
	"github.com/parkerv/shipyard/pkg/config"
)

type stubProjectRepository struct {
	projects map[string]domain.Project
	statuses []string
	deleted  []string
}

func (s *stubProjectRepository) CreateProject(ctx context.Context, project *domain.Project) error {
	return nil
}

func (s *stubProjectRepository) GetProjectByID(ctx context.Context, id string) (*domain.Project, error) {
	if p, ok := s.projects[id]; ok {
		return &p, nil
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
	return nil, nil
}

func (s *stubProjectRepository) UpdateProjectStatus(ctx context.Context, id, status string) (*domain.Project, error) {
	p, ok := s.projects[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	p.Status = status
	s.projects[id] = p
	s.statuses = append(s.statuses, status)
	return &p, nil
}

func (s *stubProjectRepository) DeleteProject(ctx context.Context, id string) error {
	s.deleted = append(s.deleted, id)
	delete(s.projects, id)
	return nil
}

type stubLogRepository struct {
	deletedFor []string
}

func (s *stubLogRepository) InsertLogEvent(ctx context.Context, event domain.LogEvent) error {
	return nil
}

func (s *stubLogRepository) ListLogEventsByDeployment(ctx context.Context, deploymentID string) ([]domain.LogEvent, error) {
	return nil, nil
}

func (s *stubLogRepository) DeleteLogEventsByDeployment(ctx context.Context, deploymentID string) error {
	s.deletedFor = append(s.deletedFor, deploymentID)
	return nil
}

type stubLauncher struct {
	specs []launcher.TaskSpec
	err   error
}

func (s *stubLauncher) Launch(ctx context.Context, spec launcher.TaskSpec) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.specs = append(s.specs, spec)
	return "task-1", nil
}

type stubArtifactStore struct {
	prefixes []string
	count    int
	err      error
}

func (s *stubArtifactStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.prefixes = append(s.prefixes, prefix)
	return s.count, nil
}

func testConfig() config.APIConfig {
	return config.APIConfig{
		AgentImage:    "shipyard-agent",
		PreviewScheme: "http",
		PreviewHost:   "localhost:8000",
		AMQPURL:       "amqp://guest:guest@mq:5672/",
		LogQueue:      "container-logs",
	}
}

func newService(repo *stubProjectRepository, logs *stubLogRepository, tasks *stubLauncher, store *stubArtifactStore) Service {
	return New(repo, logs, tasks, store, slog.New(slog.NewTextHandler(io.Discard, nil)), testConfig())
}

func existingProject() domain.Project {
	return domain.Project{
		ID:        "p1",
		Name:      "site",
		GitURL:    "https://github.com/acme/site",
		Subdomain: "happy-river-42",
		OwnerID:   "user-1",
		Status:    domain.StatusCreated,
	}
}

func TestRequestQueuesAndLaunches(t *testing.T) {
	repo := &stubProjectRepository{projects: map[string]domain.Project{"p1": existingProject()}}
	tasks := &stubLauncher{}
	svc := newService(repo, &stubLogRepository{}, tasks, &stubArtifactStore{})

	d, err := svc.Request(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Request returned error: %v", err)
	}
	if d.DeploymentID != "p1" || d.Status != domain.StatusQueued {
		t.Errorf("deployment = %+v", d)
	}
	if d.URL != "http://happy-river-42.localhost:8000" {
		t.Errorf("preview URL = %q", d.URL)
	}
	if repo.projects["p1"].Status != domain.StatusQueued {
		t.Errorf("stored status = %q, want QUEUED", repo.projects["p1"].Status)
	}

	if len(tasks.specs) != 1 {
		t.Fatalf("expected 1 launch, got %d", len(tasks.specs))
	}
	env := strings.Join(tasks.specs[0].Env, "\n")
	for _, want := range []string{"GIT_REPO=https://github.com/acme/site", "DEPLOYMENT_ID=p1", "PROJECT_ID=p1"} {
		if !strings.Contains(env, want) {
			t.Errorf("agent env missing %q in %q", want, env)
		}
	}
	if tasks.specs[0].Image != "shipyard-agent" {
		t.Errorf("agent image = %q", tasks.specs[0].Image)
	}
}

func TestRequestUnknownProject(t *testing.T) {
	svc := newService(&stubProjectRepository{projects: map[string]domain.Project{}}, &stubLogRepository{}, &stubLauncher{}, &stubArtifactStore{})
	if _, err := svc.Request(context.Background(), "nope"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRequestRevertsStatusOnLaunchFailure(t *testing.T) {
	repo := &stubProjectRepository{projects: map[string]domain.Project{"p1": existingProject()}}
	tasks := &stubLauncher{err: fmt.Errorf("daemon unreachable")}
	svc := newService(repo, &stubLogRepository{}, tasks, &stubArtifactStore{})

	if _, err := svc.Request(context.Background(), "p1"); err == nil {
		t.Fatal("expected launch error")
	}
	if got := repo.projects["p1"].Status; got != domain.StatusCreated {
		t.Errorf("status after failed launch = %q, want %q", got, domain.StatusCreated)
	}
}

func TestDeleteRemovesArtifactsLogsAndRow(t *testing.T) {
	repo := &stubProjectRepository{projects: map[string]domain.Project{"p1": existingProject()}}
	logs := &stubLogRepository{}
	store := &stubArtifactStore{count: 3}
	svc := newService(repo, logs, &stubLauncher{}, store)

	res, err := svc.Delete(context.Background(), "p1", "user-1")
	if err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if res.ObjectsDeleted != 3 {
		t.Errorf("ObjectsDeleted = %d, want 3", res.ObjectsDeleted)
	}
	if len(store.prefixes) != 1 || store.prefixes[0] != "__outputs/p1/" {
		t.Errorf("deleted prefixes = %v", store.prefixes)
	}
	if len(logs.deletedFor) != 1 || logs.deletedFor[0] != "p1" {
		t.Errorf("log deletions = %v", logs.deletedFor)
	}
	if len(repo.deleted) != 1 || repo.deleted[0] != "p1" {
		t.Errorf("project deletions = %v", repo.deleted)
	}
}

func TestDeleteForbiddenForNonOwner(t *testing.T) {
	repo := &stubProjectRepository{projects: map[string]domain.Project{"p1": existingProject()}}
	store := &stubArtifactStore{}
	svc := newService(repo, &stubLogRepository{}, &stubLauncher{}, store)

	if _, err := svc.Delete(context.Background(), "p1", "someone-else"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if len(store.prefixes) != 0 {
		t.Errorf("artifacts deleted despite forbidden request: %v", store.prefixes)
	}
}

func TestDeleteKeepsRowWhenSweepFails(t *testing.T) {
	repo := &stubProjectRepository{projects: map[string]domain.Project{"p1": existingProject()}}
	logs := &stubLogRepository{}
	store := &stubArtifactStore{err: fmt.Errorf("storage down")}
	svc := newService(repo, logs, &stubLauncher{}, store)

	if _, err := svc.Delete(context.Background(), "p1", "user-1"); err == nil {
		t.Fatal("expected sweep error")
	}
	if len(repo.deleted) != 0 {
		t.Errorf("project row deleted despite failed sweep: %v", repo.deleted)
	}
	if len(logs.deletedFor) != 0 {
		t.Errorf("log events deleted despite failed sweep: %v", logs.deletedFor)
	}
}
