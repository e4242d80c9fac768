package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/db"
)

const relayTimeout = 5 * time.Second

// Outbox writes events to the notifications table through the caller's
// transaction and hands them to the relays after that transaction commits.
type Outbox struct {
	db        db.Querier
	templates *TemplateEngine
	relays    []Relay
	logger    zerolog.Logger
	now       func() time.Time
}

func NewOutbox(q db.Querier, templates *TemplateEngine, logger zerolog.Logger, relays ...Relay) *Outbox {
	if templates == nil {
		templates = NewTemplateEngine(nil)
	}
	return &Outbox{
		db:        q,
		templates: templates,
		relays:    relays,
		logger:    logger,
		now:       time.Now,
	}
}

func (o *Outbox) Publish(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}

	q := db.Conn(ctx, o.db)
	out := make([]Event, 0, len(events))
	for _, evt := range events {
		if evt.ID == uuid.Nil {
			evt.ID = uuid.New()
		}
		if evt.CreatedAt.IsZero() {
			evt.CreatedAt = o.now().UTC()
		}
		if evt.Description == "" {
			desc, err := o.templates.Render(evt)
			if err != nil {
				return err
			}
			evt.Description = desc
		}

		if _, err := q.Exec(ctx, `
			INSERT INTO notifications (id, user_id, event_type, description, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			evt.ID, evt.UserID, string(evt.Type), evt.Description, evt.CreatedAt); err != nil {
			return fmt.Errorf("insert notification for user %s: %w", evt.UserID, err)
		}
		out = append(out, evt)
	}

	if len(o.relays) > 0 {
		db.AfterCommit(ctx, func(ctx context.Context) { o.relay(ctx, out) })
	}
	return nil
}

// relay never fails the caller: the rows are already committed and remain
// the source of truth.
func (o *Outbox) relay(ctx context.Context, events []Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), relayTimeout)
	defer cancel()

	for _, r := range o.relays {
		for _, evt := range events {
			if err := r.Relay(ctx, evt); err != nil {
				o.logger.Warn().Err(err).
					Str("relay", r.Name()).
					Str("event_id", evt.ID.String()).
					Str("event_type", string(evt.Type)).
					Msg("notification relay failed")
			}
		}
	}
}
