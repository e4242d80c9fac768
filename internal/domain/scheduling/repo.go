package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TxRunner runs fn inside a transaction, joining the one carried by ctx when
// present. *db.Transactor implements it.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Finders return (nil, nil) when nothing matches. Mutations return false
// when no active row was affected and ErrDuplicate when a unique index
// rejected the write.

type ScheduleStore interface {
	GetInterval(ctx context.Context, doctorID uuid.UUID, day time.Time) (*WorkInterval, error)
	IntervalsInRange(ctx context.Context, doctorID uuid.UUID, start, end time.Time) ([]WorkInterval, error)
	CreateInterval(ctx context.Context, doctorID uuid.UUID, day, start, end time.Time) (*WorkInterval, error)
	UpdateInterval(ctx context.Context, doctorID uuid.UUID, day, start, end time.Time) (bool, error)
	SoftDeleteInterval(ctx context.Context, doctorID uuid.UUID, day time.Time) (bool, error)
}

// AppointmentChanges lists the fields an update may touch. Nil fields keep
// their stored value.
type AppointmentChanges struct {
	DatetimeOfAdmission *time.Time
	DoctorID            *uuid.UUID
}

type AppointmentStore interface {
	FindOpen(ctx context.Context, doctorID uuid.UUID, at time.Time) (*Appointment, error)
	FindByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	FindByIDAndPatient(ctx context.Context, id, patientID uuid.UUID) (*Appointment, error)
	FindInRangeByDoctor(ctx context.Context, doctorID uuid.UUID, start, end time.Time) ([]Appointment, error)
	FindInRangeByPatient(ctx context.Context, patientID uuid.UUID, start, end time.Time) ([]Appointment, error)
	Create(ctx context.Context, doctorID, patientID uuid.UUID, at time.Time) (*Appointment, error)
	Update(ctx context.Context, id uuid.UUID, changes AppointmentChanges) (bool, error)
	SoftDelete(ctx context.Context, id uuid.UUID) (bool, error)
	SoftDeleteByDayAndDoctor(ctx context.Context, doctorID uuid.UUID, dayStart, dayEnd time.Time) (int, error)
}

type DoctorDirectory interface {
	DoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	DoctorByUserID(ctx context.Context, userID uuid.UUID) (*Doctor, error)
}

type PatientDirectory interface {
	PatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	PatientByUserID(ctx context.Context, userID uuid.UUID) (*Patient, error)
}
