package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/sitelift/sitelift/internal/domain"
	"github.com/sitelift/sitelift/internal/repository"
	"github.com/sitelift/sitelift/internal/ws"
)

// Service is the single write path for job events: every entry is
// persisted to the append-only log and then broadcast to stream
// subscribers, preserving the cursor ordering for both consumers.
type Service struct {
	repo   repository.EventRepository
	hub    *ws.Hub
	logger *slog.Logger
}

// New constructs an event service.
func New(repo repository.EventRepository, hub *ws.Hub, logger *slog.Logger) Service {
	return Service{repo: repo, hub: hub, logger: logger}
}

// Append stores and broadcasts an event. Append failures are surfaced;
// broadcast failures only drop the slow subscriber.
func (s Service) Append(ctx context.Context, event *domain.Event) error {
	if event.Level == "" {
		event.Level = domain.LevelInfo
	}
	if err := s.repo.AppendEvent(ctx, event); err != nil {
		return err
	}
	if s.hub != nil {
		payload, err := MarshalEvent(*event)
		if err != nil {
			s.logger.Warn("failed to marshal event payload", "error", err)
			return nil
		}
		s.hub.Broadcast(event.JobID, payload)
	}
	return nil
}

// ListAfter returns events past the cursor, oldest first.
func (s Service) ListAfter(ctx context.Context, jobID string, afterID int64, limit int) ([]domain.Event, error) {
	return s.repo.ListEventsAfter(ctx, jobID, afterID, limit)
}

// Hub exposes the stream hub for HTTP handlers.
func (s Service) Hub() *ws.Hub {
	return s.hub
}

// MarshalEvent formats an event for streaming payloads, matching the
// shape returned by the polling endpoint.
func MarshalEvent(event domain.Event) ([]byte, error) {
	return json.Marshal(map[string]any{
		"id":         event.ID,
		"job_id":     event.JobID,
		"level":      event.Level,
		"message":    event.Message,
		"created_at": event.CreatedAt.Format(time.RFC3339Nano),
	})
}
