package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ScheduleService manages doctors' work days. A doctor has at most one
// active interval per calendar day.
type ScheduleService struct {
	schedules    ScheduleStore
	appointments AppointmentStore
	doctors      DoctorDirectory
	tx           TxRunner
	cal          Calendar
	logger       zerolog.Logger
}

func NewScheduleService(sched ScheduleStore, appts AppointmentStore, doctors DoctorDirectory, tx TxRunner, cal Calendar, logger zerolog.Logger) *ScheduleService {
	return &ScheduleService{
		schedules:    sched,
		appointments: appts,
		doctors:      doctors,
		tx:           tx,
		cal:          cal,
		logger:       logger,
	}
}

func (s *ScheduleService) validate(in ScheduleInput) error {
	if in.WorkDate.IsZero() || in.StartWorkTime.IsZero() || in.EndWorkTime.IsZero() {
		return badRequest("workDate", "workDate, startWorkTime and endWorkTime are required")
	}
	if !s.cal.SameDay(in.WorkDate, in.StartWorkTime) || !s.cal.SameDay(in.WorkDate, in.EndWorkTime) {
		return badRequest("workDate", "work day and hours must be on the same date")
	}
	if !in.StartWorkTime.Before(in.EndWorkTime) {
		return badRequest("endWorkTime", "endWorkTime must be after startWorkTime")
	}
	if !OnSlotGrid(in.StartWorkTime) {
		return badRequest("startWorkTime", "startWorkTime must start on a half hour")
	}
	if !OnSlotGrid(in.EndWorkTime) {
		return badRequest("endWorkTime", "endWorkTime must end on a half hour")
	}
	return nil
}

func (s *ScheduleService) doctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	d, err := s.doctors.DoctorByID(ctx, id)
	if err != nil {
		return nil, failed("doctor lookup failed", err)
	}
	if d == nil {
		return nil, notFound("doctorId", "doctor was not found")
	}
	return d, nil
}

func (s *ScheduleService) interval(ctx context.Context, doctorID uuid.UUID, day time.Time) (*WorkInterval, error) {
	iv, err := s.schedules.GetInterval(ctx, doctorID, day)
	if err != nil {
		return nil, failed("schedule lookup failed", err)
	}
	return iv, nil
}

func (s *ScheduleService) CreateScheduleForDay(ctx context.Context, doctorID uuid.UUID, in ScheduleInput) (*ScheduleView, error) {
	if err := s.validate(in); err != nil {
		return nil, err
	}
	if _, err := s.doctor(ctx, doctorID); err != nil {
		return nil, err
	}

	day := s.cal.StartOfDay(in.WorkDate)
	existing, err := s.interval(ctx, doctorID, day)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, conflict("workDate", "this day is already a work day")
	}

	var created *WorkInterval
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		iv, err := s.schedules.CreateInterval(ctx, doctorID, day, in.StartWorkTime, in.EndWorkTime)
		created = iv
		return err
	})
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, conflict("workDate", "this day is already a work day")
		}
		s.logger.Error().Err(err).Str("doctor_id", doctorID.String()).Msg("create work day failed")
		return nil, failed("schedule was not created", err)
	}

	view := NewScheduleView(created)
	return &view, nil
}

func (s *ScheduleService) UpdateScheduleForDay(ctx context.Context, doctorID uuid.UUID, in ScheduleInput) (*ScheduleView, error) {
	if err := s.validate(in); err != nil {
		return nil, err
	}
	if _, err := s.doctor(ctx, doctorID); err != nil {
		return nil, err
	}

	day := s.cal.StartOfDay(in.WorkDate)
	existing, err := s.interval(ctx, doctorID, day)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, notFound("workDate", "this day is not a work day")
	}

	var updated bool
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		ok, err := s.schedules.UpdateInterval(ctx, doctorID, day, in.StartWorkTime, in.EndWorkTime)
		updated = ok
		return err
	})
	if err != nil {
		s.logger.Error().Err(err).Str("doctor_id", doctorID.String()).Msg("update work day failed")
		return nil, failed("schedule was not updated", err)
	}
	if !updated {
		return nil, notFound("workDate", "this day is not a work day")
	}

	return &ScheduleView{Date: day, StartWorkTime: in.StartWorkTime.UTC(), EndWorkTime: in.EndWorkTime.UTC()}, nil
}

// DeleteScheduleForDay removes the work day and cancels its open
// appointments in the same transaction.
func (s *ScheduleService) DeleteScheduleForDay(ctx context.Context, doctorID uuid.UUID, workDate time.Time) error {
	if workDate.IsZero() {
		return badRequest("workDate", "workDate is required")
	}
	if _, err := s.doctor(ctx, doctorID); err != nil {
		return err
	}

	day := s.cal.StartOfDay(workDate)
	existing, err := s.interval(ctx, doctorID, day)
	if err != nil {
		return err
	}
	if existing == nil {
		return notFound("workDate", "this day is not a work day")
	}

	var deleted bool
	var cancelled int
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		ok, err := s.schedules.SoftDeleteInterval(ctx, doctorID, day)
		if err != nil || !ok {
			deleted = ok
			return err
		}
		deleted = true
		cancelled, err = s.appointments.SoftDeleteByDayAndDoctor(ctx, doctorID, day, s.cal.AddDays(day, 1))
		return err
	})
	if err != nil {
		s.logger.Error().Err(err).Str("doctor_id", doctorID.String()).Msg("delete work day failed")
		return failed("schedule was not deleted", err)
	}
	if !deleted {
		return notFound("workDate", "this day is not a work day")
	}
	if cancelled > 0 {
		s.logger.Info().
			Str("doctor_id", doctorID.String()).
			Time("work_date", day).
			Int("cancelled", cancelled).
			Msg("work day removed, appointments cancelled")
	}
	return nil
}

// GetScheduleForDoctor lists the doctor's work days between the days of
// start and finish, inclusive. The list may be empty.
func (s *ScheduleService) GetScheduleForDoctor(ctx context.Context, doctorID uuid.UUID, start, finish time.Time) ([]ScheduleView, error) {
	if finish.Before(start) {
		return nil, badRequest("finishDate", "finishDate must not be before startDate")
	}
	if _, err := s.doctor(ctx, doctorID); err != nil {
		return nil, err
	}

	intervals, err := s.schedules.IntervalsInRange(ctx, doctorID, s.cal.StartOfDay(start), s.cal.AddDays(finish, 1))
	if err != nil {
		return nil, failed("schedule lookup failed", err)
	}
	views := make([]ScheduleView, 0, len(intervals))
	for i := range intervals {
		views = append(views, NewScheduleView(&intervals[i]))
	}
	return views, nil
}
