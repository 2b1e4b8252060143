package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/parkerv/shipyard/internal/domain"
	"github.com/parkerv/shipyard/internal/logbus"
	"github.com/parkerv/shipyard/internal/workspace"
)

type busStub struct {
	messages []logbus.Message
	err      error
}

func (b *busStub) Publish(_ context.Context, m logbus.Message) error {
	if b.err != nil {
		return b.err
	}
	b.messages = append(b.messages, m)
	return nil
}

func (b *busStub) logs() []string {
	out := make([]string, 0, len(b.messages))
	for _, m := range b.messages {
		out = append(out, m.Log)
	}
	return out
}

type uploadStub struct {
	objects      map[string]string
	contentTypes map[string]string
	err          error
}

func (u *uploadStub) Upload(_ context.Context, key, contentType string, r io.Reader) error {
	if u.err != nil {
		return u.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if u.objects == nil {
		u.objects = make(map[string]string)
		u.contentTypes = make(map[string]string)
	}
	u.objects[key] = string(data)
	u.contentTypes[key] = contentType
	return nil
}

type statusStub struct {
	statuses []string
	err      error
}

func (s *statusStub) SetStatus(_ context.Context, _, status string) error {
	if s.err != nil {
		return s.err
	}
	s.statuses = append(s.statuses, status)
	return nil
}

func fakeFetch(files map[string]string) FetchFunc {
	return func(_ context.Context, _, dir string) (string, error) {
		for name, content := range files {
			path := filepath.Join(dir, name)
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return "", err
			}
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return "", err
			}
		}
		return "cloned", nil
	}
}

func newTestAgent(t *testing.T, bus *busStub, store *uploadStub, status *statusStub) *Agent {
	t.Helper()
	ws, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	return &Agent{
		DeploymentID: "dep-1",
		RepoURL:      "https://example.com/site.git",
		OutputDir:    "dist",
		Workspace:    ws,
		Bus:          bus,
		Store:        store,
		Status:       status,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func indexOf(logs []string, want string) int {
	for i, l := range logs {
		if strings.Contains(l, want) {
			return i
		}
	}
	return -1
}

func TestAgentRunHappyPath(t *testing.T) {
	bus := &busStub{}
	store := &uploadStub{}
	status := &statusStub{}

	a := newTestAgent(t, bus, store, status)
	a.BuildCommand = "echo building; mkdir -p dist/assets; printf '<h1>hi</h1>' > dist/index.html; printf 'body{}' > dist/assets/main.css"
	a.Fetch = fakeFetch(nil)

	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	logs := bus.logs()
	markers := []string{
		"Build Started...",
		"Cloning https://example.com/site.git",
		"building",
		"Build Complete",
		"Starting to upload",
		"Done",
	}
	last := -1
	for _, m := range markers {
		i := indexOf(logs, m)
		if i < 0 {
			t.Fatalf("missing log event %q in %v", m, logs)
		}
		if i <= last {
			t.Fatalf("log event %q out of order in %v", m, logs)
		}
		last = i
	}

	for _, rel := range []string{"index.html", "assets/main.css"} {
		up := indexOf(logs, "uploading "+rel)
		done := indexOf(logs, "uploaded "+rel)
		if up < 0 || done < 0 || done <= up {
			t.Fatalf("missing or misordered upload events for %s: %v", rel, logs)
		}
	}

	if got := store.objects["__outputs/dep-1/index.html"]; got != "<h1>hi</h1>" {
		t.Errorf("index.html content = %q", got)
	}
	if ct := store.contentTypes["__outputs/dep-1/assets/main.css"]; !strings.HasPrefix(ct, "text/css") {
		t.Errorf("main.css content type = %q", ct)
	}

	if len(status.statuses) != 1 || status.statuses[0] != domain.StatusDone {
		t.Errorf("statuses = %v, want [%s]", status.statuses, domain.StatusDone)
	}

	for _, m := range bus.messages {
		if m.EventID == "" {
			t.Errorf("message %q missing event id", m.Log)
		}
		if m.ProjectID != "dep-1" {
			t.Errorf("message %q project id = %q", m.Log, m.ProjectID)
		}
	}
}

func TestAgentRunBuildFailureIsTerminal(t *testing.T) {
	bus := &busStub{}
	store := &uploadStub{}
	status := &statusStub{}

	a := newTestAgent(t, bus, store, status)
	a.BuildCommand = "echo starting; exit 3"
	a.Fetch = fakeFetch(nil)

	err := a.Run(context.Background())
	if !errors.Is(err, ErrBuildFailed) {
		t.Fatalf("Run() error = %v, want ErrBuildFailed", err)
	}

	logs := bus.logs()
	if indexOf(logs, "error: ") < 0 {
		t.Errorf("missing error event in %v", logs)
	}
	if indexOf(logs, "Build Failed") < 0 {
		t.Errorf("missing Build Failed event in %v", logs)
	}
	if indexOf(logs, "Starting to upload") >= 0 {
		t.Errorf("uploads must not start after a failed build: %v", logs)
	}
	if len(store.objects) != 0 {
		t.Errorf("objects uploaded after failed build: %v", store.objects)
	}
	if len(status.statuses) != 1 || status.statuses[0] != domain.StatusFailed {
		t.Errorf("statuses = %v, want [%s]", status.statuses, domain.StatusFailed)
	}
}

func TestAgentRunFetchFailure(t *testing.T) {
	bus := &busStub{}
	store := &uploadStub{}
	status := &statusStub{}

	a := newTestAgent(t, bus, store, status)
	a.BuildCommand = "echo should-not-run"
	a.Fetch = func(_ context.Context, _, _ string) (string, error) {
		return "", fmt.Errorf("remote unreachable")
	}

	err := a.Run(context.Background())
	if !errors.Is(err, ErrBuildFailed) {
		t.Fatalf("Run() error = %v, want ErrBuildFailed", err)
	}
	if indexOf(bus.logs(), "should-not-run") >= 0 {
		t.Errorf("build ran after failed fetch: %v", bus.logs())
	}
	if len(status.statuses) != 1 || status.statuses[0] != domain.StatusFailed {
		t.Errorf("statuses = %v, want [%s]", status.statuses, domain.StatusFailed)
	}
}

func TestAgentRunUploadFailure(t *testing.T) {
	bus := &busStub{}
	store := &uploadStub{err: fmt.Errorf("bucket gone")}
	status := &statusStub{}

	a := newTestAgent(t, bus, store, status)
	a.BuildCommand = "mkdir -p dist; printf x > dist/index.html"
	a.Fetch = fakeFetch(nil)

	err := a.Run(context.Background())
	if !errors.Is(err, ErrBuildFailed) {
		t.Fatalf("Run() error = %v, want ErrBuildFailed", err)
	}
	logs := bus.logs()
	if indexOf(logs, "Build Complete") < 0 {
		t.Errorf("build should complete before upload failure: %v", logs)
	}
	if indexOf(logs, "uploaded index.html") >= 0 {
		t.Errorf("uploaded event published for failed upload: %v", logs)
	}
	if len(status.statuses) != 1 || status.statuses[0] != domain.StatusFailed {
		t.Errorf("statuses = %v, want [%s]", status.statuses, domain.StatusFailed)
	}
}

func TestAgentRunCleansWorkspace(t *testing.T) {
	bus := &busStub{}
	store := &uploadStub{}
	status := &statusStub{}

	root := t.TempDir()
	ws, err := workspace.New(root)
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	a := newTestAgent(t, bus, store, status)
	a.Workspace = ws
	a.BuildCommand = "mkdir -p dist; printf x > dist/index.html"
	a.Fetch = fakeFetch(map[string]string{"README.md": "hello"})

	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	entries := 0
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != root {
			entries++
		}
		return nil
	})
	if entries != 0 {
		t.Errorf("workspace root not empty after run: %d entries", entries)
	}
}
