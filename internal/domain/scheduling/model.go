package scheduling

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const StatusOpen AppointmentStatus = "Open"

// WorkInterval is a doctor's working hours on one calendar day.
type WorkInterval struct {
	ID        uuid.UUID  `json:"id"`
	DoctorID  uuid.UUID  `json:"doctorId"`
	WorkDate  time.Time  `json:"workDate"`
	StartTime time.Time  `json:"startWorkTime"`
	EndTime   time.Time  `json:"endWorkTime"`
	CreatedAt time.Time  `json:"createdAt"`
	DeletedAt *time.Time `json:"-"`
}

type Appointment struct {
	ID                  uuid.UUID         `json:"id"`
	DoctorID            uuid.UUID         `json:"doctorId"`
	PatientID           uuid.UUID         `json:"patientId"`
	DatetimeOfAdmission time.Time         `json:"datetimeOfAdmission"`
	Status              AppointmentStatus `json:"status"`
	CreatedAt           time.Time         `json:"createdAt"`
	DeletedAt           *time.Time        `json:"-"`
}

type Doctor struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	Firstname      string
	Lastname       string
	Region         string
	City           string
	PhoneNumber    string
	Specialization string
	DOB            *time.Time
}

func (d *Doctor) Name() string { return d.Firstname + " " + d.Lastname }

type Patient struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	Firstname        string
	Lastname         string
	DOB              *time.Time
	City             string
	MedicalPolicy    string
	SeriesOfPassport string
	PassportNumber   string
}

func (p *Patient) Name() string { return p.Firstname + " " + p.Lastname }

// -- Views --

type DoctorView struct {
	DoctorID       uuid.UUID  `json:"doctorId"`
	Name           string     `json:"name"`
	Region         string     `json:"region"`
	City           string     `json:"city"`
	PhoneNumber    string     `json:"phoneNumber"`
	Specialization string     `json:"specialization"`
	DOB            *time.Time `json:"dob,omitempty"`
}

func NewDoctorView(d *Doctor) *DoctorView {
	return &DoctorView{
		DoctorID:       d.ID,
		Name:           d.Name(),
		Region:         d.Region,
		City:           d.City,
		PhoneNumber:    d.PhoneNumber,
		Specialization: d.Specialization,
		DOB:            d.DOB,
	}
}

type PatientView struct {
	PatientID     uuid.UUID  `json:"patientId"`
	Name          string     `json:"name"`
	DOB           *time.Time `json:"dob,omitempty"`
	City          string     `json:"city"`
	MedicalPolicy string     `json:"medicalPolicy"`
	Passport      string     `json:"passport"`
}

func NewPatientView(p *Patient) *PatientView {
	return &PatientView{
		PatientID:     p.ID,
		Name:          p.Name(),
		DOB:           p.DOB,
		City:          p.City,
		MedicalPolicy: p.MedicalPolicy,
		Passport:      p.SeriesOfPassport + " " + p.PassportNumber,
	}
}

// AppointmentView is an appointment joined with the other party. Doctors see
// the patient, patients see the doctor, and a freshly created appointment
// carries both.
type AppointmentView struct {
	AppointmentID       uuid.UUID         `json:"appointmentId"`
	DatetimeOfAdmission time.Time         `json:"datetimeOfAdmission"`
	Status              AppointmentStatus `json:"status"`
	Doctor              *DoctorView       `json:"doctor,omitempty"`
	Patient             *PatientView      `json:"patient,omitempty"`
	CreatedAt           time.Time         `json:"createdAt"`
}

func newAppointmentView(a *Appointment) AppointmentView {
	return AppointmentView{
		AppointmentID:       a.ID,
		DatetimeOfAdmission: a.DatetimeOfAdmission,
		Status:              a.Status,
		CreatedAt:           a.CreatedAt,
	}
}

type ScheduleView struct {
	Date          time.Time `json:"date"`
	StartWorkTime time.Time `json:"startWorkTime"`
	EndWorkTime   time.Time `json:"endWorkTime"`
}

func NewScheduleView(iv *WorkInterval) ScheduleView {
	return ScheduleView{Date: iv.WorkDate, StartWorkTime: iv.StartTime, EndWorkTime: iv.EndTime}
}

type SlotGroup struct {
	Date  time.Time   `json:"date"`
	Slots []time.Time `json:"slots"`
}

type SlotsInfo struct {
	PeriodType  Period      `json:"periodType"`
	PeriodStart time.Time   `json:"periodStart"`
	PeriodEnd   time.Time   `json:"periodEnd"`
	CountSlots  int         `json:"countSlots"`
	FreeSlots   []SlotGroup `json:"freeSlots"`
}

// FreeSlotSet is computed on every request and never stored.
type FreeSlotSet struct {
	DoctorID       uuid.UUID `json:"doctorId"`
	Name           string    `json:"name"`
	Region         string    `json:"region"`
	City           string    `json:"city"`
	PhoneNumber    string    `json:"phoneNumber"`
	Specialization string    `json:"specialization"`
	SlotsInfo      SlotsInfo `json:"slotsInfo"`
}

// -- Inputs --

type CreateAppointmentInput struct {
	DatetimeOfAdmission time.Time `json:"datetimeOfAdmission"`
	DoctorID            uuid.UUID `json:"doctorId"`
}

// UpdateAppointmentInput is a partial update; nil fields are left unchanged.
type UpdateAppointmentInput struct {
	DatetimeOfAdmission *time.Time `json:"datetimeOfAdmission,omitempty"`
	DoctorID            *uuid.UUID `json:"doctorId,omitempty"`
}

type ScheduleInput struct {
	WorkDate      time.Time `json:"workDate"`
	StartWorkTime time.Time `json:"startWorkTime"`
	EndWorkTime   time.Time `json:"endWorkTime"`
}
