package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/notification"
)

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// =========== Schedule Store ===========

type scheduleStorePG struct {
	pool *pgxpool.Pool
	tx   *db.Transactor
	loc  *time.Location
}

// NewScheduleStorePG stores work days as DATE values of the clinic time zone.
func NewScheduleStorePG(pool *pgxpool.Pool, loc *time.Location) ScheduleStore {
	if loc == nil {
		loc = time.UTC
	}
	return &scheduleStorePG{pool: pool, tx: db.NewTransactor(pool), loc: loc}
}

func (s *scheduleStorePG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, s.pool)
}

func (s *scheduleStorePG) dayKey(day time.Time) string {
	return day.In(s.loc).Format(dateLayout)
}

const intervalCols = `id, doctor_id, work_date, start_work_time, end_work_time, created_at, deleted_at`

func (s *scheduleStorePG) scanInterval(row pgx.Row) (*WorkInterval, error) {
	var iv WorkInterval
	var workDate time.Time
	if err := row.Scan(&iv.ID, &iv.DoctorID, &workDate, &iv.StartTime, &iv.EndTime, &iv.CreatedAt, &iv.DeletedAt); err != nil {
		return nil, err
	}
	y, m, d := workDate.Date()
	iv.WorkDate = time.Date(y, m, d, 0, 0, 0, 0, s.loc)
	iv.StartTime = iv.StartTime.UTC()
	iv.EndTime = iv.EndTime.UTC()
	iv.CreatedAt = iv.CreatedAt.UTC()
	iv.DeletedAt = utcPtr(iv.DeletedAt)
	return &iv, nil
}

func (s *scheduleStorePG) GetInterval(ctx context.Context, doctorID uuid.UUID, day time.Time) (*WorkInterval, error) {
	iv, err := s.scanInterval(s.conn(ctx).QueryRow(ctx, `
		SELECT `+intervalCols+` FROM doctors_work_schedule
		WHERE doctor_id = $1 AND work_date = $2 AND deleted_at IS NULL`,
		doctorID, s.dayKey(day)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return iv, err
}

func (s *scheduleStorePG) IntervalsInRange(ctx context.Context, doctorID uuid.UUID, start, end time.Time) ([]WorkInterval, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT `+intervalCols+` FROM doctors_work_schedule
		WHERE doctor_id = $1 AND start_work_time >= $2 AND end_work_time <= $3 AND deleted_at IS NULL
		ORDER BY start_work_time ASC`,
		doctorID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []WorkInterval{}
	for rows.Next() {
		iv, err := s.scanInterval(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *iv)
	}
	return items, rows.Err()
}

func (s *scheduleStorePG) CreateInterval(ctx context.Context, doctorID uuid.UUID, day, start, end time.Time) (*WorkInterval, error) {
	var created *WorkInterval
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		iv, err := s.scanInterval(s.conn(ctx).QueryRow(ctx, `
			INSERT INTO doctors_work_schedule (id, doctor_id, work_date, start_work_time, end_work_time)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING `+intervalCols,
			uuid.New(), doctorID, s.dayKey(day), start.UTC(), end.UTC()))
		if err != nil {
			if db.IsUniqueViolation(err) {
				return ErrDuplicate
			}
			return fmt.Errorf("insert work interval: %w", err)
		}
		created = iv
		return nil
	})
	return created, err
}

func (s *scheduleStorePG) UpdateInterval(ctx context.Context, doctorID uuid.UUID, day, start, end time.Time) (bool, error) {
	var updated bool
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		tag, err := s.conn(ctx).Exec(ctx, `
			UPDATE doctors_work_schedule SET start_work_time = $3, end_work_time = $4
			WHERE doctor_id = $1 AND work_date = $2 AND deleted_at IS NULL`,
			doctorID, s.dayKey(day), start.UTC(), end.UTC())
		if err != nil {
			return fmt.Errorf("update work interval: %w", err)
		}
		updated = tag.RowsAffected() > 0
		return nil
	})
	return updated, err
}

func (s *scheduleStorePG) SoftDeleteInterval(ctx context.Context, doctorID uuid.UUID, day time.Time) (bool, error) {
	var deleted bool
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		tag, err := s.conn(ctx).Exec(ctx, `
			UPDATE doctors_work_schedule SET deleted_at = NOW()
			WHERE doctor_id = $1 AND work_date = $2 AND deleted_at IS NULL`,
			doctorID, s.dayKey(day))
		if err != nil {
			return fmt.Errorf("delete work interval: %w", err)
		}
		deleted = tag.RowsAffected() > 0
		return nil
	})
	return deleted, err
}

// =========== Appointment Store ===========

type appointmentStorePG struct {
	pool   *pgxpool.Pool
	tx     *db.Transactor
	notify notification.Publisher
}

// NewAppointmentStorePG publishes a notification for the doctor's and the
// patient's user on every mutation, inside the mutation's transaction.
func NewAppointmentStorePG(pool *pgxpool.Pool, notify notification.Publisher) AppointmentStore {
	return &appointmentStorePG{pool: pool, tx: db.NewTransactor(pool), notify: notify}
}

func (s *appointmentStorePG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, s.pool)
}

const apptCols = `id, doctor_id, patient_id, datetime_of_admission, status, created_at, deleted_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status string
	if err := row.Scan(&a.ID, &a.DoctorID, &a.PatientID, &a.DatetimeOfAdmission, &status, &a.CreatedAt, &a.DeletedAt); err != nil {
		return nil, err
	}
	a.Status = AppointmentStatus(status)
	a.DatetimeOfAdmission = a.DatetimeOfAdmission.UTC()
	a.CreatedAt = a.CreatedAt.UTC()
	a.DeletedAt = utcPtr(a.DeletedAt)
	return &a, nil
}

func (s *appointmentStorePG) findOne(ctx context.Context, sql string, args ...interface{}) (*Appointment, error) {
	a, err := scanAppointment(s.conn(ctx).QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (s *appointmentStorePG) findMany(ctx context.Context, sql string, args ...interface{}) ([]Appointment, error) {
	rows, err := s.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *a)
	}
	return items, rows.Err()
}

func (s *appointmentStorePG) FindOpen(ctx context.Context, doctorID uuid.UUID, at time.Time) (*Appointment, error) {
	return s.findOne(ctx, `
		SELECT `+apptCols+` FROM appointments
		WHERE doctor_id = $1 AND datetime_of_admission = $2 AND status = $3 AND deleted_at IS NULL`,
		doctorID, at.UTC(), string(StatusOpen))
}

func (s *appointmentStorePG) FindByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.findOne(ctx, `SELECT `+apptCols+` FROM appointments WHERE id = $1 AND deleted_at IS NULL`, id)
}

func (s *appointmentStorePG) FindByIDAndPatient(ctx context.Context, id, patientID uuid.UUID) (*Appointment, error) {
	return s.findOne(ctx, `
		SELECT `+apptCols+` FROM appointments
		WHERE id = $1 AND patient_id = $2 AND deleted_at IS NULL`, id, patientID)
}

func (s *appointmentStorePG) FindInRangeByDoctor(ctx context.Context, doctorID uuid.UUID, start, end time.Time) ([]Appointment, error) {
	return s.findMany(ctx, `
		SELECT `+apptCols+` FROM appointments
		WHERE doctor_id = $1 AND datetime_of_admission >= $2 AND datetime_of_admission < $3
			AND status = $4 AND deleted_at IS NULL
		ORDER BY datetime_of_admission ASC`,
		doctorID, start.UTC(), end.UTC(), string(StatusOpen))
}

func (s *appointmentStorePG) FindInRangeByPatient(ctx context.Context, patientID uuid.UUID, start, end time.Time) ([]Appointment, error) {
	return s.findMany(ctx, `
		SELECT `+apptCols+` FROM appointments
		WHERE patient_id = $1 AND datetime_of_admission >= $2 AND datetime_of_admission < $3
			AND status = $4 AND deleted_at IS NULL
		ORDER BY datetime_of_admission ASC`,
		patientID, start.UTC(), end.UTC(), string(StatusOpen))
}

// participantUsers resolves the user ids behind a doctor and a patient.
func (s *appointmentStorePG) participantUsers(ctx context.Context, doctorID, patientID uuid.UUID) (doctorUser, patientUser uuid.UUID, err error) {
	err = s.conn(ctx).QueryRow(ctx, `
		SELECT d.user_id, p.user_id FROM doctors d, patients p
		WHERE d.id = $1 AND p.id = $2`, doctorID, patientID).Scan(&doctorUser, &patientUser)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("resolve participant users: %w", err)
	}
	return doctorUser, patientUser, nil
}

func (s *appointmentStorePG) publish(ctx context.Context, events ...notification.Event) error {
	if s.notify == nil {
		return nil
	}
	if err := s.notify.Publish(ctx, events...); err != nil {
		return fmt.Errorf("publish notifications: %w", err)
	}
	return nil
}

func appointmentEvent(t notification.EventType, userID uuid.UUID, a *Appointment) notification.Event {
	return notification.Event{
		Type:                t,
		UserID:              userID,
		AppointmentID:       a.ID,
		DatetimeOfAdmission: a.DatetimeOfAdmission,
	}
}

func (s *appointmentStorePG) Create(ctx context.Context, doctorID, patientID uuid.UUID, at time.Time) (*Appointment, error) {
	var created *Appointment
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		a, err := scanAppointment(s.conn(ctx).QueryRow(ctx, `
			INSERT INTO appointments (id, doctor_id, patient_id, datetime_of_admission, status)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING `+apptCols,
			uuid.New(), doctorID, patientID, at.UTC(), string(StatusOpen)))
		if err != nil {
			if db.IsUniqueViolation(err) {
				return ErrDuplicate
			}
			return fmt.Errorf("insert appointment: %w", err)
		}

		doctorUser, patientUser, err := s.participantUsers(ctx, doctorID, patientID)
		if err != nil {
			return err
		}
		if err := s.publish(ctx,
			appointmentEvent(notification.AppointmentCreated, doctorUser, a),
			appointmentEvent(notification.AppointmentCreated, patientUser, a),
		); err != nil {
			return err
		}
		created = a
		return nil
	})
	return created, err
}

// Update locks the row before changing it so concurrent reschedules of the
// same appointment serialize.
func (s *appointmentStorePG) Update(ctx context.Context, id uuid.UUID, changes AppointmentChanges) (bool, error) {
	var updated bool
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		before, err := s.findOne(ctx, `
			SELECT `+apptCols+` FROM appointments
			WHERE id = $1 AND deleted_at IS NULL
			FOR UPDATE`, id)
		if err != nil {
			return fmt.Errorf("lock appointment: %w", err)
		}
		if before == nil {
			return nil
		}

		at := utcPtr(changes.DatetimeOfAdmission)
		after, err := s.findOne(ctx, `
			UPDATE appointments SET
				datetime_of_admission = COALESCE($2, datetime_of_admission),
				doctor_id = COALESCE($3, doctor_id)
			WHERE id = $1 AND deleted_at IS NULL
			RETURNING `+apptCols,
			id, at, changes.DoctorID)
		if err != nil {
			if db.IsUniqueViolation(err) {
				return ErrDuplicate
			}
			return fmt.Errorf("update appointment: %w", err)
		}
		if after == nil {
			return nil
		}

		doctorUser, patientUser, err := s.participantUsers(ctx, after.DoctorID, after.PatientID)
		if err != nil {
			return err
		}
		events := []notification.Event{
			appointmentEvent(notification.AppointmentUpdated, doctorUser, after),
			appointmentEvent(notification.AppointmentUpdated, patientUser, after),
		}
		if before.DoctorID != after.DoctorID {
			prevDoctorUser, _, err := s.participantUsers(ctx, before.DoctorID, before.PatientID)
			if err != nil {
				return err
			}
			events = append(events, appointmentEvent(notification.AppointmentDeleted, prevDoctorUser, before))
		}
		if err := s.publish(ctx, events...); err != nil {
			return err
		}
		updated = true
		return nil
	})
	return updated, err
}

const deletedParticipants = `
	SELECT deleted.id, deleted.doctor_id, deleted.patient_id, deleted.datetime_of_admission,
		d.user_id, p.user_id
	FROM deleted
	JOIN doctors d ON d.id = deleted.doctor_id
	JOIN patients p ON p.id = deleted.patient_id`

func (s *appointmentStorePG) softDelete(ctx context.Context, sql string, args ...interface{}) (int, error) {
	var count int
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		rows, err := s.conn(ctx).Query(ctx, sql, args...)
		if err != nil {
			return fmt.Errorf("delete appointments: %w", err)
		}
		defer rows.Close()

		var events []notification.Event
		for rows.Next() {
			var a Appointment
			var doctorUser, patientUser uuid.UUID
			if err := rows.Scan(&a.ID, &a.DoctorID, &a.PatientID, &a.DatetimeOfAdmission, &doctorUser, &patientUser); err != nil {
				return fmt.Errorf("scan deleted appointment: %w", err)
			}
			a.DatetimeOfAdmission = a.DatetimeOfAdmission.UTC()
			events = append(events,
				appointmentEvent(notification.AppointmentDeleted, doctorUser, &a),
				appointmentEvent(notification.AppointmentDeleted, patientUser, &a),
			)
			count++
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate deleted appointments: %w", err)
		}
		rows.Close()
		return s.publish(ctx, events...)
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *appointmentStorePG) SoftDelete(ctx context.Context, id uuid.UUID) (bool, error) {
	n, err := s.softDelete(ctx, `
		WITH deleted AS (
			UPDATE appointments SET deleted_at = NOW()
			WHERE id = $1 AND deleted_at IS NULL
			RETURNING id, doctor_id, patient_id, datetime_of_admission
		)`+deletedParticipants, id)
	return n > 0, err
}

func (s *appointmentStorePG) SoftDeleteByDayAndDoctor(ctx context.Context, doctorID uuid.UUID, dayStart, dayEnd time.Time) (int, error) {
	return s.softDelete(ctx, `
		WITH deleted AS (
			UPDATE appointments SET deleted_at = NOW()
			WHERE doctor_id = $1 AND datetime_of_admission >= $2 AND datetime_of_admission < $3
				AND status = $4 AND deleted_at IS NULL
			RETURNING id, doctor_id, patient_id, datetime_of_admission
		)`+deletedParticipants, doctorID, dayStart.UTC(), dayEnd.UTC(), string(StatusOpen))
}

// =========== Directories ===========

type doctorDirectoryPG struct{ pool *pgxpool.Pool }

func NewDoctorDirectoryPG(pool *pgxpool.Pool) DoctorDirectory { return &doctorDirectoryPG{pool: pool} }

const doctorCols = `id, user_id, firstname, lastname, region, city, phone_number, specialization, dob`

func (r *doctorDirectoryPG) find(ctx context.Context, where string, arg interface{}) (*Doctor, error) {
	var d Doctor
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+doctorCols+` FROM doctors WHERE `+where+` AND deleted_at IS NULL`, arg).
		Scan(&d.ID, &d.UserID, &d.Firstname, &d.Lastname, &d.Region, &d.City, &d.PhoneNumber, &d.Specialization, &d.DOB)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *doctorDirectoryPG) DoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return r.find(ctx, "id = $1", id)
}

func (r *doctorDirectoryPG) DoctorByUserID(ctx context.Context, userID uuid.UUID) (*Doctor, error) {
	return r.find(ctx, "user_id = $1", userID)
}

type patientDirectoryPG struct{ pool *pgxpool.Pool }

func NewPatientDirectoryPG(pool *pgxpool.Pool) PatientDirectory {
	return &patientDirectoryPG{pool: pool}
}

const patientCols = `id, user_id, firstname, lastname, dob, city, medical_policy, series_of_passport, passport_number`

func (r *patientDirectoryPG) find(ctx context.Context, where string, arg interface{}) (*Patient, error) {
	var p Patient
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE `+where+` AND deleted_at IS NULL`, arg).
		Scan(&p.ID, &p.UserID, &p.Firstname, &p.Lastname, &p.DOB, &p.City, &p.MedicalPolicy, &p.SeriesOfPassport, &p.PassportNumber)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *patientDirectoryPG) PatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return r.find(ctx, "id = $1", id)
}

func (r *patientDirectoryPG) PatientByUserID(ctx context.Context, userID uuid.UUID) (*Patient, error) {
	return r.find(ctx, "user_id = $1", userID)
}
