package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	RoleAdministrator = "administrator"
	RoleDoctor        = "doctor"
	RolePatient       = "patient"
)

// BookingService creates, reschedules and cancels appointments and computes
// free slots.
type BookingService struct {
	schedules    ScheduleStore
	appointments AppointmentStore
	doctors      DoctorDirectory
	patients     PatientDirectory
	tx           TxRunner
	cal          Calendar
	logger       zerolog.Logger
}

func NewBookingService(sched ScheduleStore, appts AppointmentStore, doctors DoctorDirectory, patients PatientDirectory, tx TxRunner, cal Calendar, logger zerolog.Logger) *BookingService {
	return &BookingService{
		schedules:    sched,
		appointments: appts,
		doctors:      doctors,
		patients:     patients,
		tx:           tx,
		cal:          cal,
		logger:       logger,
	}
}

func (s *BookingService) doctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	d, err := s.doctors.DoctorByID(ctx, id)
	if err != nil {
		return nil, failed("doctor lookup failed", err)
	}
	if d == nil {
		return nil, notFound("doctorId", "doctor was not found")
	}
	return d, nil
}

func (s *BookingService) patientByUser(ctx context.Context, userID uuid.UUID) (*Patient, error) {
	p, err := s.patients.PatientByUserID(ctx, userID)
	if err != nil {
		return nil, failed("patient lookup failed", err)
	}
	if p == nil {
		return nil, notFound("userId", "patient was not found")
	}
	return p, nil
}

func (s *BookingService) appointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := s.appointments.FindByID(ctx, id)
	if err != nil {
		return nil, failed("appointment lookup failed", err)
	}
	if a == nil {
		return nil, notFound("appointmentId", "appointment was not found")
	}
	return a, nil
}

// CreateAppointment books the slot at in.DatetimeOfAdmission with the doctor
// for the patient behind userID.
func (s *BookingService) CreateAppointment(ctx context.Context, in CreateAppointmentInput, userID uuid.UUID) (*AppointmentView, error) {
	at := in.DatetimeOfAdmission.UTC()
	if at.IsZero() || !OnSlotGrid(at) {
		return nil, badRequest("datetimeOfAdmission", "minutes must be 00 or 30 with zero seconds and milliseconds")
	}

	doctor, err := s.doctor(ctx, in.DoctorID)
	if err != nil {
		return nil, err
	}

	iv, err := s.schedules.GetInterval(ctx, doctor.ID, s.cal.StartOfDay(at))
	if err != nil {
		return nil, failed("schedule lookup failed", err)
	}
	if iv == nil {
		return nil, notFound("datetimeOfAdmission", "doctor does not work on this day")
	}
	if !iv.Covers(at) {
		return nil, notFound("datetimeOfAdmission", "time is outside the doctor's working hours")
	}

	existing, err := s.appointments.FindOpen(ctx, doctor.ID, at)
	if err != nil {
		return nil, failed("appointment lookup failed", err)
	}
	if existing != nil {
		return nil, conflict("datetimeOfAdmission", "this time is already taken")
	}

	patient, err := s.patientByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	var created *Appointment
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		a, err := s.appointments.Create(ctx, doctor.ID, patient.ID, at)
		if err != nil {
			return err
		}
		created = a
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, conflict("datetimeOfAdmission", "this time is already taken")
		}
		s.logger.Error().Err(err).
			Str("doctor_id", doctor.ID.String()).
			Time("datetime_of_admission", at).
			Msg("create appointment failed")
		return nil, failed("appointment was not created", err)
	}

	view := newAppointmentView(created)
	view.Doctor = NewDoctorView(doctor)
	view.Patient = NewPatientView(patient)
	return &view, nil
}

// UpdateAppointment reschedules an appointment owned by the patient behind
// userID. Only supplied fields change.
func (s *BookingService) UpdateAppointment(ctx context.Context, id, userID uuid.UUID, in UpdateAppointmentInput) error {
	patient, err := s.patientByUser(ctx, userID)
	if err != nil {
		return err
	}

	var newTime *time.Time
	if in.DatetimeOfAdmission != nil {
		t := in.DatetimeOfAdmission.UTC()
		if !OnSlotGrid(t) {
			return badRequest("datetimeOfAdmission", "minutes must be 00 or 30 with zero seconds and milliseconds")
		}
		newTime = &t
	}

	appt, err := s.appointment(ctx, id)
	if err != nil {
		return err
	}
	if appt.PatientID != patient.ID {
		return forbidden("appointmentId", "appointment belongs to another patient")
	}

	doctorID := appt.DoctorID
	if in.DoctorID != nil {
		doctorID = *in.DoctorID
	}
	at := appt.DatetimeOfAdmission
	if newTime != nil {
		at = *newTime
	}
	moved := doctorID != appt.DoctorID || !at.Equal(appt.DatetimeOfAdmission)

	if moved {
		if _, err := s.doctor(ctx, doctorID); err != nil {
			return err
		}
		iv, err := s.schedules.GetInterval(ctx, doctorID, s.cal.StartOfDay(at))
		if err != nil {
			return failed("schedule lookup failed", err)
		}
		if iv == nil || !iv.Covers(at) {
			return forbidden("datetimeOfAdmission", "doctor does not work at this time")
		}

		taken, err := s.appointments.FindOpen(ctx, doctorID, at)
		if err != nil {
			return failed("appointment lookup failed", err)
		}
		if taken != nil && taken.ID != appt.ID {
			return forbidden("datetimeOfAdmission", "this time is already taken")
		}
	}

	var updated bool
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		ok, err := s.appointments.Update(ctx, appt.ID, AppointmentChanges{DatetimeOfAdmission: newTime, DoctorID: in.DoctorID})
		updated = ok
		return err
	})
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			return conflict("datetimeOfAdmission", "this time is already taken")
		}
		s.logger.Error().Err(err).Str("appointment_id", appt.ID.String()).Msg("update appointment failed")
		return failed("appointment was not updated", err)
	}
	if !updated {
		return badRequest("appointmentId", "appointment was not updated")
	}
	return nil
}

// DeleteAppointment cancels an appointment owned by the patient behind
// userID. doctorID must match the appointment's doctor.
func (s *BookingService) DeleteAppointment(ctx context.Context, id, doctorID, userID uuid.UUID) error {
	patient, err := s.patientByUser(ctx, userID)
	if err != nil {
		return err
	}

	appt, err := s.appointment(ctx, id)
	if err != nil {
		return err
	}
	if appt.DoctorID != doctorID {
		return notFound("doctorId", "appointment with this doctor was not found")
	}
	if appt.PatientID != patient.ID {
		return forbidden("appointmentId", "appointment belongs to another patient")
	}

	var deleted bool
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		ok, err := s.appointments.SoftDelete(ctx, appt.ID)
		deleted = ok
		return err
	})
	if err != nil {
		s.logger.Error().Err(err).Str("appointment_id", appt.ID.String()).Msg("delete appointment failed")
		return failed("appointment was not deleted", err)
	}
	if !deleted {
		return badRequest("appointmentId", "appointment was not deleted")
	}
	return nil
}

// GetAppointment returns one of the patient's own appointments with its
// doctor.
func (s *BookingService) GetAppointment(ctx context.Context, id, userID uuid.UUID) (*AppointmentView, error) {
	patient, err := s.patientByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	appt, err := s.appointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.PatientID != patient.ID {
		return nil, forbidden("appointmentId", "appointment belongs to another patient")
	}

	doctor, err := s.doctors.DoctorByID(ctx, appt.DoctorID)
	if err != nil {
		return nil, failed("doctor lookup failed", err)
	}
	view := newAppointmentView(appt)
	if doctor != nil {
		view.Doctor = NewDoctorView(doctor)
	}
	return &view, nil
}

// DoctorProfile returns the public card of a doctor.
func (s *BookingService) DoctorProfile(ctx context.Context, doctorID uuid.UUID) (*DoctorView, error) {
	d, err := s.doctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	return NewDoctorView(d), nil
}

// MyDoctorProfile returns the card of the doctor linked to userID.
func (s *BookingService) MyDoctorProfile(ctx context.Context, userID uuid.UUID) (*DoctorView, error) {
	d, err := s.doctors.DoctorByUserID(ctx, userID)
	if err != nil {
		return nil, failed("doctor lookup failed", err)
	}
	if d == nil {
		return nil, notFound("userId", "doctor was not found")
	}
	return NewDoctorView(d), nil
}

// FreeSlotsByPeriod lists the doctor's unbooked slots from now until the end
// of the period.
func (s *BookingService) FreeSlotsByPeriod(ctx context.Context, doctorID uuid.UUID, period Period) (*FreeSlotSet, error) {
	days, ok := period.Days()
	if !ok {
		return nil, badRequest("period", "period must be day, week or month")
	}

	doctor, err := s.doctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}

	periodStart := s.cal.now()
	periodEnd := s.cal.AddDays(periodStart, days).UTC()

	intervals, err := s.schedules.IntervalsInRange(ctx, doctor.ID, periodStart, periodEnd)
	if err != nil {
		return nil, failed("schedule lookup failed", err)
	}
	if len(intervals) == 0 {
		return nil, notFound("schedule", "doctor has no schedule in this period")
	}

	appts, err := s.appointments.FindInRangeByDoctor(ctx, doctor.ID, periodStart, periodEnd)
	if err != nil {
		return nil, failed("appointment lookup failed", err)
	}
	booked := NewBookedSet(appts)

	groups := make([]SlotGroup, 0, len(intervals))
	count := 0
	for _, iv := range intervals {
		slots := FreeSlots(iv.StartTime, iv.EndTime, booked)
		count += len(slots)
		groups = append(groups, SlotGroup{Date: iv.WorkDate, Slots: slots})
	}

	return &FreeSlotSet{
		DoctorID:       doctor.ID,
		Name:           doctor.Name(),
		Region:         doctor.Region,
		City:           doctor.City,
		PhoneNumber:    doctor.PhoneNumber,
		Specialization: doctor.Specialization,
		SlotsInfo: SlotsInfo{
			PeriodType:  period,
			PeriodStart: periodStart,
			PeriodEnd:   periodEnd,
			CountSlots:  count,
			FreeSlots:   groups,
		},
	}, nil
}

// AppointmentsForPeriod lists the caller's open appointments between the
// days of start and end, inclusive. Doctors get the patient of each
// appointment, patients get the doctor.
func (s *BookingService) AppointmentsForPeriod(ctx context.Context, start, end time.Time, userID uuid.UUID, role string) ([]AppointmentView, error) {
	if end.Before(start) {
		return nil, badRequest("finishDate", "finishDate must not be before startDate")
	}
	if s.cal.DaysBetween(start, end) > MaxListPeriodDays {
		return nil, badRequest("finishDate", "period must not exceed 30 days")
	}

	from := s.cal.StartOfDay(start)
	to := s.cal.AddDays(end, 1)

	var views []AppointmentView
	switch role {
	case RoleDoctor:
		doctor, err := s.doctors.DoctorByUserID(ctx, userID)
		if err != nil {
			return nil, failed("doctor lookup failed", err)
		}
		if doctor == nil {
			return nil, notFound("userId", "doctor was not found")
		}
		appts, err := s.appointments.FindInRangeByDoctor(ctx, doctor.ID, from, to)
		if err != nil {
			return nil, failed("appointment lookup failed", err)
		}
		if views, err = s.withPatients(ctx, appts); err != nil {
			return nil, err
		}
	case RolePatient:
		patient, err := s.patientByUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		appts, err := s.appointments.FindInRangeByPatient(ctx, patient.ID, from, to)
		if err != nil {
			return nil, failed("appointment lookup failed", err)
		}
		if views, err = s.withDoctors(ctx, appts); err != nil {
			return nil, err
		}
	default:
		return nil, forbidden("role", "only doctors and patients have appointments")
	}

	if len(views) == 0 {
		return nil, notFound("appointments", "no appointments in this period")
	}
	return views, nil
}

func (s *BookingService) withPatients(ctx context.Context, appts []Appointment) ([]AppointmentView, error) {
	cache := map[uuid.UUID]*PatientView{}
	views := make([]AppointmentView, 0, len(appts))
	for i := range appts {
		v := newAppointmentView(&appts[i])
		pv, seen := cache[appts[i].PatientID]
		if !seen {
			p, err := s.patients.PatientByID(ctx, appts[i].PatientID)
			if err != nil {
				return nil, failed("patient lookup failed", err)
			}
			if p != nil {
				pv = NewPatientView(p)
			}
			cache[appts[i].PatientID] = pv
		}
		v.Patient = pv
		views = append(views, v)
	}
	return views, nil
}

func (s *BookingService) withDoctors(ctx context.Context, appts []Appointment) ([]AppointmentView, error) {
	cache := map[uuid.UUID]*DoctorView{}
	views := make([]AppointmentView, 0, len(appts))
	for i := range appts {
		v := newAppointmentView(&appts[i])
		dv, seen := cache[appts[i].DoctorID]
		if !seen {
			d, err := s.doctors.DoctorByID(ctx, appts[i].DoctorID)
			if err != nil {
				return nil, failed("doctor lookup failed", err)
			}
			if d != nil {
				dv = NewDoctorView(d)
			}
			cache[appts[i].DoctorID] = dv
		}
		v.Doctor = dv
		views = append(views, v)
	}
	return views, nil
}
