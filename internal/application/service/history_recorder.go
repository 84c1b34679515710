package service

import (
	"context"
	"fmt"

	"github.com/dajor/bewirtungsbeleg-sub003/internal/application/dispatcher"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/application/port"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/domain/event"
	"go.uber.org/zap"
)

// HistoryHandlerName is the subscription name of the history recorder
const HistoryHandlerName = "history-recorder"

// RecordedEventTypes are the notifications kept in the event history
var RecordedEventTypes = []event.Type{
	event.TypeReceiptUpdated,
	event.TypeReceiptReset,
	event.TypeUploadApplied,
	event.TypeUploadFailed,
	event.TypeUploadCancelled,
	event.TypeReceiptSubmitted,
}

// NewHistoryRecorder returns a handler that appends every event to repo
func NewHistoryRecorder(repo port.HistoryRepository, logger *zap.Logger) dispatcher.Handler {
	return func(ctx context.Context, evt *event.Event) error {
		payload := make(map[string]string, len(evt.Payload))
		for k, v := range evt.Payload {
			payload[k] = fmt.Sprint(v)
		}

		entry := &port.HistoryEntry{
			EventID:   evt.ID,
			SessionID: evt.SessionID,
			SourceID:  evt.SourceID,
			EventType: evt.Type.String(),
			Payload:   payload,
			CreatedAt: evt.Timestamp,
		}
		if err := repo.Append(ctx, entry); err != nil {
			return fmt.Errorf("failed to record %s: %w", evt.Type, err)
		}

		logger.Debug("Event recorded",
			zap.String("event_id", evt.ID),
			zap.String("event_type", evt.Type.String()),
			zap.String("session_id", evt.SessionID))
		return nil
	}
}

// SubscribeHistory registers the history recorder for every recorded type
func SubscribeHistory(d dispatcher.Dispatcher, repo port.HistoryRepository, logger *zap.Logger) {
	d.Subscribe(HistoryHandlerName, NewHistoryRecorder(repo, logger), RecordedEventTypes...)
}
