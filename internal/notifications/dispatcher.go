package notifications

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/prepmarket-backend/internal/realtime"
	"github.com/angelmondragon/prepmarket-backend/pkg/db/models"
	"github.com/angelmondragon/prepmarket-backend/pkg/logger"
	"github.com/angelmondragon/prepmarket-backend/pkg/types"
)

const realtimeEvent = "notification"

type pusher interface {
	Push(userID uuid.UUID, msg realtime.Message) int
}

// Dispatcher stores a notification and pushes it to the recipient's open
// sockets. Failures are logged and never returned: notifications are
// best-effort side effects of operations that have already committed.
type Dispatcher struct {
	repo   Repository
	pusher pusher
	logg   *logger.Logger
}

func NewDispatcher(repo Repository, pusher pusher, logg *logger.Logger) *Dispatcher {
	if logg == nil {
		logg = logger.Nop()
	}
	return &Dispatcher{repo: repo, pusher: pusher, logg: logg}
}

func (d *Dispatcher) Notify(ctx context.Context, recipientID uuid.UUID, title, body string, data map[string]any) {
	if recipientID == uuid.Nil {
		return
	}
	logCtx := d.logg.WithFields(ctx, map[string]any{"recipient_id": recipientID.String(), "title": title})

	notification := &models.Notification{
		RecipientID: recipientID,
		Title:       title,
		Body:        body,
		Data:        types.JSONMap(data),
	}
	if d.repo != nil {
		if err := d.repo.Create(ctx, notification); err != nil {
			d.logg.Error(logCtx, "store notification", err)
		}
	}
	if d.pusher != nil {
		d.pusher.Push(recipientID, realtime.Message{Event: realtimeEvent, Data: notification})
	}
}
