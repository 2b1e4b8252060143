package logs

import (
	"context"
	"encoding/json"
	"time"

	"log/slog"

	"github.com/parkerv/shipyard/internal/domain"
	"github.com/parkerv/shipyard/internal/repository"
	"github.com/parkerv/shipyard/internal/ws"
)

// Service handles log event persistence, retrieval and streaming.
type Service struct {
	repo   repository.LogEventRepository
	hub    *ws.Hub
	logger *slog.Logger
}

// New constructs a log service.
func New(repo repository.LogEventRepository, hub *ws.Hub, logger *slog.Logger) Service {
	return Service{repo: repo, hub: hub, logger: logger}
}

// Append stores a log event and broadcasts it to live subscribers.
func (s Service) Append(ctx context.Context, event domain.LogEvent) error {
	event.Timestamp = event.Timestamp.UTC()
	if err := s.repo.InsertLogEvent(ctx, event); err != nil {
		return err
	}
	s.broadcast(event)
	return nil
}

// List returns persisted log events for a deployment ordered by timestamp.
func (s Service) List(ctx context.Context, deploymentID string) ([]domain.LogEvent, error) {
	return s.repo.ListLogEventsByDeployment(ctx, deploymentID)
}

// Hub returns the websocket hub (useful for HTTP handlers).
func (s Service) Hub() *ws.Hub {
	return s.hub
}

func (s Service) broadcast(event domain.LogEvent) {
	if s.hub == nil {
		return
	}
	data, err := MarshalEvent(event)
	if err != nil {
		s.logger.Warn("failed to marshal log payload", "error", err)
		return
	}
	s.hub.Broadcast(event.DeploymentID, data)
}

// MarshalEvent formats a log event for streaming payloads.
func MarshalEvent(event domain.LogEvent) ([]byte, error) {
	payload := map[string]any{
		"event_id":      event.EventID,
		"deployment_id": event.DeploymentID,
		"log":           event.Log,
		"timestamp":     event.Timestamp.Format(time.RFC3339Nano),
	}
	return json.Marshal(payload)
}
