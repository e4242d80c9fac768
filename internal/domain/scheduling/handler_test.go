package scheduling

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinic/clinic/internal/platform/auth"
)

func newTestHandler() (*Handler, *fixture, *echo.Echo) {
	f := newFixture()
	return NewHandler(f.booking, f.schedule), f, echo.New()
}

func newRequest(e *echo.Echo, method, target, body string, userID uuid.UUID, role string) (echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req = req.WithContext(auth.WithIdentity(req.Context(), userID.String(), role))
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func requireStatus(t *testing.T, err error, code int) {
	t.Helper()
	require.Error(t, err)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok, "expected echo.HTTPError, got %T", err)
	assert.Equal(t, code, httpErr.Code)
}

func TestHandler_CreateAppointment(t *testing.T) {
	h, f, e := newTestHandler()
	f.workDay(1, 9, 0, 12, 0)

	body := `{"datetimeOfAdmission":"2024-05-07T09:30:00.000Z","doctorId":"` + f.doctor.ID.String() + `"}`
	c, rec := newRequest(e, http.MethodPost, "/api/v1/patients/appointment", body, f.patient.UserID, auth.RolePatient)

	require.NoError(t, h.CreateAppointment(c))
	assert.Equal(t, http.StatusCreated, rec.Code)

	var view AppointmentView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.True(t, view.DatetimeOfAdmission.Equal(at(1, 9, 30)))
	assert.Equal(t, StatusOpen, view.Status)
}

func TestHandler_CreateAppointment_ErrorStatuses(t *testing.T) {
	tests := []struct {
		name string
		time string
		code int
	}{
		{"off grid", "2024-05-07T09:15:00Z", http.StatusBadRequest},
		{"no work day", "2024-05-08T09:00:00Z", http.StatusNotFound},
		{"taken", "2024-05-07T10:00:00Z", http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, f, e := newTestHandler()
			f.workDay(1, 9, 0, 12, 0)
			f.book(at(1, 10, 0))

			body := `{"datetimeOfAdmission":"` + tt.time + `","doctorId":"` + f.doctor.ID.String() + `"}`
			c, _ := newRequest(e, http.MethodPost, "/", body, f.patient.UserID, auth.RolePatient)
			requireStatus(t, h.CreateAppointment(c), tt.code)
		})
	}
}

func TestHandler_CreateAppointment_InvalidIdentity(t *testing.T) {
	h, _, e := newTestHandler()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(auth.WithIdentity(req.Context(), "not-a-uuid", auth.RolePatient))
	c := e.NewContext(req, httptest.NewRecorder())

	requireStatus(t, h.CreateAppointment(c), http.StatusUnauthorized)
}

func TestHandler_UpdateAppointment(t *testing.T) {
	h, f, e := newTestHandler()
	f.workDay(1, 9, 0, 12, 0)
	appt := f.book(at(1, 9, 0))

	c, rec := newRequest(e, http.MethodPut, "/", `{"datetimeOfAdmission":"2024-05-07T11:00:00Z"}`, f.patient.UserID, auth.RolePatient)
	c.SetParamNames("appointmentId")
	c.SetParamValues(appt.ID.String())

	require.NoError(t, h.UpdateAppointment(c))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandler_UpdateAppointment_NotOwner(t *testing.T) {
	h, f, e := newTestHandler()
	f.workDay(1, 9, 0, 12, 0)
	appt := f.book(at(1, 9, 0))
	other := f.dir.addPatient("Olga", "Sidorova")

	c, _ := newRequest(e, http.MethodPut, "/", `{"datetimeOfAdmission":"2024-05-07T11:00:00Z"}`, other.UserID, auth.RolePatient)
	c.SetParamNames("appointmentId")
	c.SetParamValues(appt.ID.String())

	requireStatus(t, h.UpdateAppointment(c), http.StatusForbidden)
}

func TestHandler_DeleteAppointment(t *testing.T) {
	h, f, e := newTestHandler()
	f.workDay(1, 9, 0, 12, 0)
	appt := f.book(at(1, 9, 0))

	c, rec := newRequest(e, http.MethodDelete, "/", "", f.patient.UserID, auth.RolePatient)
	c.SetParamNames("appointmentId", "doctorId")
	c.SetParamValues(appt.ID.String(), f.doctor.ID.String())

	require.NoError(t, h.DeleteAppointment(c))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandler_DeleteAppointment_BadID(t *testing.T) {
	h, f, e := newTestHandler()
	c, _ := newRequest(e, http.MethodDelete, "/", "", f.patient.UserID, auth.RolePatient)
	c.SetParamNames("appointmentId", "doctorId")
	c.SetParamValues("nope", f.doctor.ID.String())

	requireStatus(t, h.DeleteAppointment(c), http.StatusBadRequest)
}

func TestHandler_FreeSlots(t *testing.T) {
	h, f, e := newTestHandler()
	f.workDay(1, 9, 0, 10, 0)

	c, rec := newRequest(e, http.MethodGet, "/?period=week", "", f.doctor.UserID, auth.RoleDoctor)
	c.SetParamNames("doctorId")
	c.SetParamValues(f.doctor.ID.String())

	require.NoError(t, h.FreeSlots(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var set FreeSlotSet
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &set))
	assert.Equal(t, 2, set.SlotsInfo.CountSlots)
	assert.Equal(t, PeriodWeek, set.SlotsInfo.PeriodType)
}

func TestHandler_FreeSlots_BadPeriod(t *testing.T) {
	h, f, e := newTestHandler()
	c, _ := newRequest(e, http.MethodGet, "/?period=year", "", f.doctor.UserID, auth.RoleDoctor)
	c.SetParamNames("doctorId")
	c.SetParamValues(f.doctor.ID.String())

	requireStatus(t, h.FreeSlots(c), http.StatusBadRequest)
}

func TestHandler_PatientAppointments(t *testing.T) {
	h, f, e := newTestHandler()
	f.workDay(1, 9, 0, 12, 0)
	f.book(at(1, 9, 0))

	q := url.Values{"startDate": {"2024-05-07"}, "finishDate": {"2024-05-07"}}
	c, rec := newRequest(e, http.MethodGet, "/?"+q.Encode(), "", f.patient.UserID, auth.RolePatient)

	require.NoError(t, h.PatientAppointments(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var views []AppointmentView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	require.NotNil(t, views[0].Doctor)
}

func TestHandler_DoctorAppointments_TooLong(t *testing.T) {
	h, f, e := newTestHandler()
	q := url.Values{"startDate": {"2024-05-01T00:00:00Z"}, "finishDate": {"2024-06-15T00:00:00Z"}}
	c, _ := newRequest(e, http.MethodGet, "/?"+q.Encode(), "", f.doctor.UserID, auth.RoleDoctor)

	requireStatus(t, h.DoctorAppointments(c), http.StatusBadRequest)
}

func TestHandler_Appointments_MissingDates(t *testing.T) {
	h, f, e := newTestHandler()
	c, _ := newRequest(e, http.MethodGet, "/", "", f.patient.UserID, auth.RolePatient)
	requireStatus(t, h.PatientAppointments(c), http.StatusBadRequest)
}

func TestHandler_CreateSchedule(t *testing.T) {
	h, f, e := newTestHandler()
	body := `{"workDate":"2024-05-08","startDate":"2024-05-08T09:00:00Z","finishDate":"2024-05-08T13:00:00Z"}`
	c, rec := newRequest(e, http.MethodPost, "/", body, f.doctor.UserID, auth.RoleDoctor)
	c.SetParamNames("doctorId")
	c.SetParamValues(f.doctor.ID.String())

	require.NoError(t, h.CreateSchedule(c))
	assert.Equal(t, http.StatusCreated, rec.Code)

	iv, _ := f.schedules.GetInterval(c.Request().Context(), f.doctor.ID, at(2, 0, 0))
	require.NotNil(t, iv)
	assert.True(t, iv.StartTime.Equal(at(2, 9, 0)))
	assert.True(t, iv.EndTime.Equal(at(2, 13, 0)))
}

func TestHandler_CreateSchedule_WorkTimeNames(t *testing.T) {
	h, f, e := newTestHandler()
	body := `{"workDate":"2024-05-08","startWorkTime":"2024-05-08T09:00:00Z","endWorkTime":"2024-05-08T13:00:00Z"}`
	c, rec := newRequest(e, http.MethodPost, "/", body, f.doctor.UserID, auth.RoleDoctor)
	c.SetParamNames("doctorId")
	c.SetParamValues(f.doctor.ID.String())

	require.NoError(t, h.CreateSchedule(c))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestHandler_CreateSchedule_MissingFinishDate(t *testing.T) {
	h, f, e := newTestHandler()
	body := `{"workDate":"2024-05-08","startDate":"2024-05-08T09:00:00Z"}`
	c, _ := newRequest(e, http.MethodPost, "/", body, f.doctor.UserID, auth.RoleDoctor)
	c.SetParamNames("doctorId")
	c.SetParamValues(f.doctor.ID.String())

	err := h.CreateSchedule(c)
	requireStatus(t, err, http.StatusBadRequest)
	he := err.(*echo.HTTPError)
	assert.Equal(t, "finishDate", he.Message.(*Error).Field)
}

func TestHandler_CreateSchedule_ConflictIsForbidden(t *testing.T) {
	h, f, e := newTestHandler()
	f.workDay(2, 9, 0, 12, 0)
	body := `{"workDate":"2024-05-08","startDate":"2024-05-08T14:00:00Z","finishDate":"2024-05-08T16:00:00Z"}`
	c, _ := newRequest(e, http.MethodPost, "/", body, f.doctor.UserID, auth.RoleDoctor)
	c.SetParamNames("doctorId")
	c.SetParamValues(f.doctor.ID.String())

	requireStatus(t, h.CreateSchedule(c), http.StatusForbidden)
}

func TestHandler_UpdateSchedule_MissingDayIsNotFound(t *testing.T) {
	h, f, e := newTestHandler()
	body := `{"workDate":"2024-05-08","startDate":"2024-05-08T14:00:00Z","finishDate":"2024-05-08T16:00:00Z"}`
	c, _ := newRequest(e, http.MethodPut, "/", body, f.doctor.UserID, auth.RoleDoctor)
	c.SetParamNames("doctorId")
	c.SetParamValues(f.doctor.ID.String())

	requireStatus(t, h.UpdateSchedule(c), http.StatusNotFound)
}

func TestHandler_DeleteSchedule(t *testing.T) {
	h, f, e := newTestHandler()
	f.workDay(2, 9, 0, 12, 0)
	c, rec := newRequest(e, http.MethodDelete, "/", `{"workDate":"2024-05-08T00:00:00Z"}`, f.doctor.UserID, auth.RoleDoctor)
	c.SetParamNames("doctorId")
	c.SetParamValues(f.doctor.ID.String())

	require.NoError(t, h.DeleteSchedule(c))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandler_GetSchedule(t *testing.T) {
	h, f, e := newTestHandler()
	f.workDay(2, 9, 0, 12, 0)

	q := url.Values{"startDate": {"2024-05-06"}, "finishDate": {"2024-05-12"}}
	c, rec := newRequest(e, http.MethodGet, "/?"+q.Encode(), "", f.patient.UserID, auth.RolePatient)
	c.SetParamNames("doctorId")
	c.SetParamValues(f.doctor.ID.String())

	require.NoError(t, h.GetSchedule(c))
	var views []ScheduleView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	assert.Len(t, views, 1)
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h, _, e := newTestHandler()
	h.RegisterRoutes(e.Group("/api/v1"))

	want := map[string]bool{
		"GET /api/v1/doctors/free-slots/:doctorId":                     false,
		"GET /api/v1/doctors/schedule-for-day/:doctorId":               false,
		"POST /api/v1/doctors/schedule-for-day/:doctorId":              false,
		"PUT /api/v1/doctors/schedule-for-day/:doctorId":               false,
		"DELETE /api/v1/doctors/schedule-for-day/:doctorId":            false,
		"GET /api/v1/doctors/appointments":                             false,
		"GET /api/v1/doctors/me":                                       false,
		"GET /api/v1/doctors/:doctorId":                                false,
		"POST /api/v1/patients/appointment":                            false,
		"PUT /api/v1/patients/:appointmentId":                          false,
		"DELETE /api/v1/patients/appointment/:appointmentId/:doctorId": false,
		"GET /api/v1/patients/appointments":                            false,
	}
	for _, r := range e.Routes() {
		key := r.Method + " " + r.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for route, found := range want {
		assert.True(t, found, "route %s not registered", route)
	}
}

func TestHandler_RolesEnforced(t *testing.T) {
	h, f, _ := newTestHandler()
	e := echo.New()
	api := e.Group("/api/v1", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := auth.WithIdentity(c.Request().Context(), f.patient.UserID.String(), c.Request().Header.Get("X-Role"))
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	h.RegisterRoutes(api)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/doctors/free-slots/"+f.doctor.ID.String()+"?period=day", nil)
	req.Header.Set("X-Role", auth.RolePatient)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/patients/appointment", strings.NewReader(`{}`))
	req.Header.Set("X-Role", auth.RoleAdministrator)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandler_DoctorProfile(t *testing.T) {
	h, f, e := newTestHandler()
	c, rec := newRequest(e, http.MethodGet, "/", "", f.patient.UserID, auth.RolePatient)
	c.SetParamNames("doctorId")
	c.SetParamValues(f.doctor.ID.String())

	require.NoError(t, h.DoctorProfile(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	var view DoctorView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, f.doctor.ID, view.DoctorID)
	assert.Equal(t, "Ivan Petrov", view.Name)
	assert.Equal(t, "therapist", view.Specialization)
}

func TestHandler_DoctorProfile_Unknown(t *testing.T) {
	h, f, e := newTestHandler()
	c, _ := newRequest(e, http.MethodGet, "/", "", f.patient.UserID, auth.RolePatient)
	c.SetParamNames("doctorId")
	c.SetParamValues(uuid.NewString())

	requireStatus(t, h.DoctorProfile(c), http.StatusNotFound)
}

func TestHandler_MyDoctorProfile(t *testing.T) {
	h, f, e := newTestHandler()
	c, rec := newRequest(e, http.MethodGet, "/", "", f.doctor.UserID, auth.RoleDoctor)

	require.NoError(t, h.MyDoctorProfile(c))
	var view DoctorView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, f.doctor.ID, view.DoctorID)
}

func TestHandler_MyDoctorProfile_NoDoctorForUser(t *testing.T) {
	h, f, e := newTestHandler()
	c, _ := newRequest(e, http.MethodGet, "/", "", f.patient.UserID, auth.RoleDoctor)

	requireStatus(t, h.MyDoctorProfile(c), http.StatusNotFound)
}

func TestHandler_DoctorRoutesResolve(t *testing.T) {
	h, f, _ := newTestHandler()
	e := echo.New()
	api := e.Group("/api/v1", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := f.doctor.UserID.String()
			if c.Request().Header.Get("X-Role") == auth.RolePatient {
				userID = f.patient.UserID.String()
			}
			ctx := auth.WithIdentity(c.Request().Context(), userID, c.Request().Header.Get("X-Role"))
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	h.RegisterRoutes(api)

	get := func(path, role string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("X-Role", role)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	rec := get("/api/v1/doctors/me", auth.RoleDoctor)
	require.Equal(t, http.StatusOK, rec.Code)
	var view DoctorView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, f.doctor.ID, view.DoctorID)

	assert.Equal(t, http.StatusForbidden, get("/api/v1/doctors/me", auth.RolePatient).Code)
	assert.Equal(t, http.StatusOK, get("/api/v1/doctors/"+f.doctor.ID.String(), auth.RolePatient).Code)
	assert.Equal(t, http.StatusBadRequest, get("/api/v1/doctors/not-a-uuid", auth.RolePatient).Code)
}
