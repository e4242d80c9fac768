package scheduling

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// -- Mock Schedule Store --

type mockScheduleStore struct {
	mu        sync.Mutex
	cal       Calendar
	intervals map[uuid.UUID]*WorkInterval
	calls     int
}

func newMockScheduleStore(cal Calendar) *mockScheduleStore {
	return &mockScheduleStore{cal: cal, intervals: make(map[uuid.UUID]*WorkInterval)}
}

func (m *mockScheduleStore) active(doctorID uuid.UUID, day time.Time) *WorkInterval {
	for _, iv := range m.intervals {
		if iv.DeletedAt == nil && iv.DoctorID == doctorID && iv.WorkDate.Equal(m.cal.StartOfDay(day)) {
			return iv
		}
	}
	return nil
}

func (m *mockScheduleStore) GetInterval(_ context.Context, doctorID uuid.UUID, day time.Time) (*WorkInterval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if iv := m.active(doctorID, day); iv != nil {
		cp := *iv
		return &cp, nil
	}
	return nil, nil
}

func (m *mockScheduleStore) IntervalsInRange(_ context.Context, doctorID uuid.UUID, start, end time.Time) ([]WorkInterval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	var out []WorkInterval
	for _, iv := range m.intervals {
		if iv.DeletedAt != nil || iv.DoctorID != doctorID {
			continue
		}
		if iv.StartTime.Before(start) || iv.EndTime.After(end) {
			continue
		}
		out = append(out, *iv)
	}
	sortIntervals(out)
	return out, nil
}

func sortIntervals(ivs []WorkInterval) {
	for i := 1; i < len(ivs); i++ {
		for j := i; j > 0 && ivs[j].WorkDate.Before(ivs[j-1].WorkDate); j-- {
			ivs[j], ivs[j-1] = ivs[j-1], ivs[j]
		}
	}
}

func (m *mockScheduleStore) CreateInterval(_ context.Context, doctorID uuid.UUID, day, start, end time.Time) (*WorkInterval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.active(doctorID, day) != nil {
		return nil, ErrDuplicate
	}
	iv := &WorkInterval{
		ID:        uuid.New(),
		DoctorID:  doctorID,
		WorkDate:  m.cal.StartOfDay(day),
		StartTime: start.UTC(),
		EndTime:   end.UTC(),
		CreatedAt: time.Now().UTC(),
	}
	m.intervals[iv.ID] = iv
	cp := *iv
	return &cp, nil
}

func (m *mockScheduleStore) UpdateInterval(_ context.Context, doctorID uuid.UUID, day, start, end time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	iv := m.active(doctorID, day)
	if iv == nil {
		return false, nil
	}
	iv.StartTime, iv.EndTime = start.UTC(), end.UTC()
	return true, nil
}

func (m *mockScheduleStore) SoftDeleteInterval(_ context.Context, doctorID uuid.UUID, day time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	iv := m.active(doctorID, day)
	if iv == nil {
		return false, nil
	}
	now := time.Now().UTC()
	iv.DeletedAt = &now
	return true, nil
}

// -- Mock Appointment Store --

type mockAppointmentStore struct {
	mu    sync.Mutex
	appts map[uuid.UUID]*Appointment
	calls int
	// failCreate makes Create return this error.
	failCreate error
}

func newMockAppointmentStore() *mockAppointmentStore {
	return &mockAppointmentStore{appts: make(map[uuid.UUID]*Appointment)}
}

func (m *mockAppointmentStore) openAt(doctorID uuid.UUID, at time.Time) *Appointment {
	for _, a := range m.appts {
		if a.DeletedAt == nil && a.Status == StatusOpen && a.DoctorID == doctorID && a.DatetimeOfAdmission.Equal(at) {
			return a
		}
	}
	return nil
}

func (m *mockAppointmentStore) FindOpen(_ context.Context, doctorID uuid.UUID, at time.Time) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if a := m.openAt(doctorID, at); a != nil {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func (m *mockAppointmentStore) FindByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	a, ok := m.appts[id]
	if !ok || a.DeletedAt != nil {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (m *mockAppointmentStore) FindByIDAndPatient(ctx context.Context, id, patientID uuid.UUID) (*Appointment, error) {
	a, err := m.FindByID(ctx, id)
	if err != nil || a == nil || a.PatientID != patientID {
		return nil, err
	}
	return a, nil
}

func (m *mockAppointmentStore) inRange(start, end time.Time, match func(*Appointment) bool) []Appointment {
	var out []Appointment
	for _, a := range m.appts {
		if a.DeletedAt != nil || !match(a) {
			continue
		}
		if a.DatetimeOfAdmission.Before(start) || !a.DatetimeOfAdmission.Before(end) {
			continue
		}
		out = append(out, *a)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].DatetimeOfAdmission.Before(out[j-1].DatetimeOfAdmission); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func (m *mockAppointmentStore) FindInRangeByDoctor(_ context.Context, doctorID uuid.UUID, start, end time.Time) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.inRange(start, end, func(a *Appointment) bool { return a.DoctorID == doctorID }), nil
}

func (m *mockAppointmentStore) FindInRangeByPatient(_ context.Context, patientID uuid.UUID, start, end time.Time) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.inRange(start, end, func(a *Appointment) bool { return a.PatientID == patientID }), nil
}

func (m *mockAppointmentStore) Create(_ context.Context, doctorID, patientID uuid.UUID, at time.Time) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failCreate != nil {
		return nil, m.failCreate
	}
	if m.openAt(doctorID, at) != nil {
		return nil, ErrDuplicate
	}
	a := &Appointment{
		ID:                  uuid.New(),
		DoctorID:            doctorID,
		PatientID:           patientID,
		DatetimeOfAdmission: at.UTC(),
		Status:              StatusOpen,
		CreatedAt:           time.Now().UTC(),
	}
	m.appts[a.ID] = a
	cp := *a
	return &cp, nil
}

func (m *mockAppointmentStore) Update(_ context.Context, id uuid.UUID, changes AppointmentChanges) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	a, ok := m.appts[id]
	if !ok || a.DeletedAt != nil {
		return false, nil
	}
	doctorID, at := a.DoctorID, a.DatetimeOfAdmission
	if changes.DoctorID != nil {
		doctorID = *changes.DoctorID
	}
	if changes.DatetimeOfAdmission != nil {
		at = changes.DatetimeOfAdmission.UTC()
	}
	if other := m.openAt(doctorID, at); other != nil && other.ID != id {
		return false, ErrDuplicate
	}
	a.DoctorID, a.DatetimeOfAdmission = doctorID, at
	return true, nil
}

func (m *mockAppointmentStore) SoftDelete(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	a, ok := m.appts[id]
	if !ok || a.DeletedAt != nil {
		return false, nil
	}
	now := time.Now().UTC()
	a.DeletedAt = &now
	return true, nil
}

func (m *mockAppointmentStore) SoftDeleteByDayAndDoctor(_ context.Context, doctorID uuid.UUID, dayStart, dayEnd time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	n := 0
	now := time.Now().UTC()
	for _, a := range m.appts {
		if a.DeletedAt != nil || a.DoctorID != doctorID {
			continue
		}
		if a.DatetimeOfAdmission.Before(dayStart) || !a.DatetimeOfAdmission.Before(dayEnd) {
			continue
		}
		a.DeletedAt = &now
		n++
	}
	return n, nil
}

// -- Mock Directories --

type mockDirectory struct {
	mu       sync.Mutex
	doctors  map[uuid.UUID]*Doctor
	patients map[uuid.UUID]*Patient
	calls    int
}

func newMockDirectory() *mockDirectory {
	return &mockDirectory{doctors: make(map[uuid.UUID]*Doctor), patients: make(map[uuid.UUID]*Patient)}
}

func (m *mockDirectory) addDoctor(first, last string) *Doctor {
	d := &Doctor{
		ID: uuid.New(), UserID: uuid.New(), Firstname: first, Lastname: last,
		Region: "Moscow Oblast", City: "Pushkino", PhoneNumber: "+7-900-000-00-00", Specialization: "therapist",
	}
	m.doctors[d.ID] = d
	return d
}

func (m *mockDirectory) addPatient(first, last string) *Patient {
	p := &Patient{
		ID: uuid.New(), UserID: uuid.New(), Firstname: first, Lastname: last,
		City: "Pushkino", MedicalPolicy: "1234567890111234", SeriesOfPassport: "4601", PassportNumber: "729721",
	}
	m.patients[p.ID] = p
	return p
}

func (m *mockDirectory) DoctorByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.doctors[id], nil
}

func (m *mockDirectory) DoctorByUserID(_ context.Context, userID uuid.UUID) (*Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	for _, d := range m.doctors {
		if d.UserID == userID {
			return d, nil
		}
	}
	return nil, nil
}

func (m *mockDirectory) PatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.patients[id], nil
}

func (m *mockDirectory) PatientByUserID(_ context.Context, userID uuid.UUID) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	for _, p := range m.patients {
		if p.UserID == userID {
			return p, nil
		}
	}
	return nil, nil
}

// -- Tx runner --

type mockTx struct {
	mu   sync.Mutex
	runs int
}

func (m *mockTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	m.runs++
	m.mu.Unlock()
	return fn(ctx)
}

// -- Fixture --

// fixedNow is a Monday morning. Tests book slots on the following days.
var fixedNow = time.Date(2024, time.May, 6, 7, 0, 0, 0, time.UTC)

type fixture struct {
	cal       Calendar
	schedules *mockScheduleStore
	appts     *mockAppointmentStore
	dir       *mockDirectory
	tx        *mockTx
	booking   *BookingService
	schedule  *ScheduleService
	doctor    *Doctor
	patient   *Patient
}

func newFixture() *fixture {
	cal := Calendar{Now: func() time.Time { return fixedNow }, Location: time.UTC}
	f := &fixture{
		cal:       cal,
		schedules: newMockScheduleStore(cal),
		appts:     newMockAppointmentStore(),
		dir:       newMockDirectory(),
		tx:        &mockTx{},
	}
	f.doctor = f.dir.addDoctor("Ivan", "Petrov")
	f.patient = f.dir.addPatient("Nikolay", "Ivanov")
	f.booking = NewBookingService(f.schedules, f.appts, f.dir, f.dir, f.tx, cal, zerolog.Nop())
	f.schedule = NewScheduleService(f.schedules, f.appts, f.dir, f.tx, cal, zerolog.Nop())
	return f
}

// at returns hh:mm UTC on the day n days after fixedNow.
func at(n, hh, mm int) time.Time {
	return time.Date(2024, time.May, 6+n, hh, mm, 0, 0, time.UTC)
}

func (f *fixture) workDay(n, fromH, fromM, toH, toM int) *WorkInterval {
	iv, err := f.schedules.CreateInterval(context.Background(), f.doctor.ID, at(n, 0, 0), at(n, fromH, fromM), at(n, toH, toM))
	if err != nil {
		panic(err)
	}
	return iv
}

func (f *fixture) book(t time.Time) *Appointment {
	a, err := f.appts.Create(context.Background(), f.doctor.ID, f.patient.ID, t)
	if err != nil {
		panic(err)
	}
	return a
}

func (f *fixture) storeCalls() int {
	return f.schedules.calls + f.appts.calls
}
