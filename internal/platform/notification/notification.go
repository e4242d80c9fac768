// Package notification records appointment events for every user they
// concern and relays them to external channels once the writing transaction
// has committed.
package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType names an appointment lifecycle change.
type EventType string

const (
	AppointmentCreated EventType = "appointment.created"
	AppointmentUpdated EventType = "appointment.updated"
	AppointmentDeleted EventType = "appointment.deleted"
)

// Event is one notification addressed to one user.
type Event struct {
	ID                  uuid.UUID `json:"id"`
	Type                EventType `json:"type"`
	UserID              uuid.UUID `json:"user_id"`
	AppointmentID       uuid.UUID `json:"appointment_id"`
	DatetimeOfAdmission time.Time `json:"datetime_of_admission"`
	Description         string    `json:"description"`
	CreatedAt           time.Time `json:"created_at"`
}

// Publisher accepts events raised inside a store write. Implementations must
// persist through the transaction carried by ctx when there is one.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

// Relay forwards an already committed event to an external channel.
type Relay interface {
	Name() string
	Relay(ctx context.Context, evt Event) error
}

// Template is the description text for one event type. Placeholders are
// written as {{key}}.
type Template struct {
	Type EventType
	Body string
}

// TemplateEngine renders event descriptions.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[EventType]Template
	loc       *time.Location
}

// NewTemplateEngine returns an engine with the built-in appointment
// templates. Dates are rendered in loc, or UTC when loc is nil.
func NewTemplateEngine(loc *time.Location) *TemplateEngine {
	if loc == nil {
		loc = time.UTC
	}
	e := &TemplateEngine{templates: make(map[EventType]Template), loc: loc}
	for _, t := range []Template{
		{Type: AppointmentCreated, Body: "You have a new appointment on {{date}} at {{time}}"},
		{Type: AppointmentUpdated, Body: "Your appointment was moved to {{date}} at {{time}}"},
		{Type: AppointmentDeleted, Body: "Your appointment on {{date}} at {{time}} was cancelled"},
	} {
		e.templates[t.Type] = t
	}
	return e
}

func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.Type] = t
}

// Render fills the template for evt.Type. Unknown keys are left in place.
func (e *TemplateEngine) Render(evt Event) (string, error) {
	e.mu.RLock()
	t, ok := e.templates[evt.Type]
	e.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("template %q not found", evt.Type)
	}

	at := evt.DatetimeOfAdmission.In(e.loc)
	data := map[string]string{
		"date": at.Format("2006-01-02"),
		"time": at.Format("15:04"),
	}
	body := t.Body
	for k, v := range data {
		body = strings.ReplaceAll(body, "{{"+k+"}}", v)
	}
	return body, nil
}
