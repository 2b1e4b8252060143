// Package agent implements the build agent that runs inside a disposable
// container: it fetches source, drives the build tool, streams its output to
// the log bus and publishes the artifacts to object storage.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/parkerv/shipyard/internal/domain"
	"github.com/parkerv/shipyard/internal/git"
	"github.com/parkerv/shipyard/internal/logbus"
	"github.com/parkerv/shipyard/internal/storage"
	"github.com/parkerv/shipyard/internal/workspace"
)

const (
	chunkSize     = 4096
	defaultBuffer = 256
)

// Uploader stores one artifact object.
type Uploader interface {
	Upload(ctx context.Context, key, contentType string, r io.Reader) error
}

// StatusStore records the deployment's terminal status. The agent has no
// caller to return to; this write is its only result channel besides logs.
type StatusStore interface {
	SetStatus(ctx context.Context, deploymentID, status string) error
}

// FetchFunc fetches source into dir and returns tool output.
type FetchFunc func(ctx context.Context, repoURL, dir string) (string, error)

// Agent performs one build for one deployment, then exits.
type Agent struct {
	DeploymentID string
	RepoURL      string
	BuildCommand string
	OutputDir    string

	Workspace *workspace.Manager
	Bus       logbus.Publisher
	Store     Uploader
	Status    StatusStore
	Logger    *slog.Logger

	// Fetch defaults to a shallow git clone; tests substitute it.
	Fetch FetchFunc

	// Buffer bounds in-flight output chunks so a chatty build blocks on a
	// full queue instead of growing memory without limit.
	Buffer int
}

// ErrBuildFailed reports a terminal build failure after the FAILED status has
// been recorded.
var ErrBuildFailed = errors.New("agent: build failed")

type chunk struct {
	text string
}

// Run executes the build. All communication is side-effecting: log events on
// the bus plus one terminal status write. The returned error only decides the
// process exit code.
func (a *Agent) Run(ctx context.Context) error {
	a.publish(ctx, "Build Started...")

	dir, err := a.Workspace.Prepare(a.DeploymentID)
	if err != nil {
		return a.fail(ctx, fmt.Errorf("prepare workspace: %w", err))
	}
	defer func() {
		_ = a.Workspace.Cleanup(dir)
	}()

	fetch := a.Fetch
	if fetch == nil {
		fetch = git.Clone
	}
	a.publish(ctx, "Cloning "+a.RepoURL)
	if _, err := fetch(ctx, a.RepoURL, dir); err != nil {
		return a.fail(ctx, fmt.Errorf("fetch source: %w", err))
	}

	if err := a.build(ctx, dir); err != nil {
		return a.fail(ctx, err)
	}
	a.publish(ctx, "Build Complete")

	if err := a.uploadArtifacts(ctx, filepath.Join(dir, a.OutputDir)); err != nil {
		return a.fail(ctx, err)
	}

	a.publish(ctx, "Done")
	if err := a.Status.SetStatus(ctx, a.DeploymentID, domain.StatusDone); err != nil {
		return fmt.Errorf("agent: record done status: %w", err)
	}
	return nil
}

// build runs the build command and forwards its output streams to the bus.
// Chunk boundaries come from the pipe reads and carry no meaning; consumers
// must not assume line-oriented payloads.
func (a *Agent) build(ctx context.Context, dir string) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", a.BuildCommand)
	cmd.Dir = dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start build command: %w", err)
	}

	buffer := a.Buffer
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	chunks := make(chan chunk, buffer)
	streamErrs := make(chan error, 2)

	var wg sync.WaitGroup
	wg.Add(2)
	go a.readStream(stdout, chunks, streamErrs, &wg)
	go a.readStream(stderr, chunks, streamErrs, &wg)
	go func() {
		wg.Wait()
		close(chunks)
	}()

	// Single consumer: publication order follows read order per stream.
	for c := range chunks {
		a.publish(ctx, c.text)
	}

	waitErr := cmd.Wait()

	select {
	case err := <-streamErrs:
		a.publish(ctx, "error: "+err.Error())
		return fmt.Errorf("read build output: %w", err)
	default:
	}
	if waitErr != nil {
		a.publish(ctx, "error: "+waitErr.Error())
		return fmt.Errorf("build command: %w", waitErr)
	}
	return nil
}

func (a *Agent) readStream(r io.Reader, chunks chan<- chunk, errs chan<- error, wg *sync.WaitGroup) {
	defer wg.Done()
	buf := make([]byte, chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunks <- chunk{text: string(buf[:n])}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				errs <- err
			}
			return
		}
	}
}

// uploadArtifacts walks the build output directory and uploads every regular
// file under the deployment's artifact prefix. The first failure aborts the
// loop; there is no partial-upload recovery.
func (a *Agent) uploadArtifacts(ctx context.Context, outputPath string) error {
	a.publish(ctx, "Starting to upload")
	return filepath.WalkDir(outputPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walk build output: %w", err)
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(outputPath, path)
		if err != nil {
			return fmt.Errorf("relativize %s: %w", path, err)
		}
		rel = filepath.ToSlash(rel)

		a.publish(ctx, "uploading "+rel)
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open artifact %s: %w", rel, err)
		}
		defer f.Close()

		key := "__outputs/" + a.DeploymentID + "/" + rel
		if err := a.Store.Upload(ctx, key, storage.ContentTypeFor(rel), f); err != nil {
			return err
		}
		a.publish(ctx, "uploaded "+rel)
		return nil
	})
}

// fail records the FAILED status and reports the failure on the log stream.
func (a *Agent) fail(ctx context.Context, cause error) error {
	a.publish(ctx, "Build Failed")
	if err := a.Status.SetStatus(ctx, a.DeploymentID, domain.StatusFailed); err != nil {
		a.Logger.Error("failed to record FAILED status", "deployment_id", a.DeploymentID, "error", err)
	}
	return fmt.Errorf("%w: %v", ErrBuildFailed, cause)
}

// publish sends one log event, fire-and-forget. A bus outage must not stop
// the build; lost events are logged locally.
func (a *Agent) publish(ctx context.Context, line string) {
	m := logbus.Message{
		ProjectID: a.DeploymentID,
		Log:       line,
		EventID:   uuid.NewString(),
	}
	if err := a.Bus.Publish(ctx, m); err != nil {
		a.Logger.Warn("log publish failed", "deployment_id", a.DeploymentID, "error", err)
	}
}
