package scheduling

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/platform/auth"
)

const dateLayout = "2006-01-02"

type Handler struct {
	booking   *BookingService
	schedules *ScheduleService
	loc       *time.Location
}

func NewHandler(booking *BookingService, schedules *ScheduleService) *Handler {
	return &Handler{booking: booking, schedules: schedules, loc: booking.cal.loc()}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	doctors := api.Group("/doctors")

	staff := doctors.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleAdministrator))
	staff.GET("/free-slots/:doctorId", h.FreeSlots)
	staff.POST("/schedule-for-day/:doctorId", h.CreateSchedule)
	staff.PUT("/schedule-for-day/:doctorId", h.UpdateSchedule)
	staff.DELETE("/schedule-for-day/:doctorId", h.DeleteSchedule)

	doctors.GET("/schedule-for-day/:doctorId", h.GetSchedule,
		auth.RequireRole(auth.RoleDoctor, auth.RoleAdministrator, auth.RolePatient))
	doctors.GET("/appointments", h.DoctorAppointments, auth.RequireRole(auth.RoleDoctor))
	doctors.GET("/me", h.MyDoctorProfile, auth.RequireRole(auth.RoleDoctor))
	doctors.GET("/:doctorId", h.DoctorProfile,
		auth.RequireRole(auth.RoleDoctor, auth.RoleAdministrator, auth.RolePatient))

	patients := api.Group("/patients", auth.RequireRole(auth.RolePatient))
	patients.POST("/appointment", h.CreateAppointment)
	patients.GET("/appointment/:appointmentId", h.GetAppointment)
	patients.DELETE("/appointment/:appointmentId/:doctorId", h.DeleteAppointment)
	patients.GET("/appointments", h.PatientAppointments)
	patients.PUT("/:appointmentId", h.UpdateAppointment)
}

// -- Doctors --

func (h *Handler) FreeSlots(c echo.Context) error {
	doctorID, err := uuidParam(c, "doctorId")
	if err != nil {
		return err
	}
	set, err := h.booking.FreeSlotsByPeriod(c.Request().Context(), doctorID, Period(c.QueryParam("period")))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, set)
}

func (h *Handler) GetSchedule(c echo.Context) error {
	doctorID, err := uuidParam(c, "doctorId")
	if err != nil {
		return err
	}
	start, finish, err := h.periodQuery(c)
	if err != nil {
		return err
	}
	views, err := h.schedules.GetScheduleForDoctor(c.Request().Context(), doctorID, start, finish)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, views)
}

// scheduleBody is the work-day payload. startDate and finishDate are the
// documented names; startWorkTime and endWorkTime are still read when the
// former are absent.
type scheduleBody struct {
	WorkDate      string `json:"workDate"`
	StartDate     string `json:"startDate"`
	FinishDate    string `json:"finishDate"`
	StartWorkTime string `json:"startWorkTime"`
	EndWorkTime   string `json:"endWorkTime"`
}

func (b scheduleBody) start() (string, string) {
	if b.StartDate == "" && b.StartWorkTime != "" {
		return "startWorkTime", b.StartWorkTime
	}
	return "startDate", b.StartDate
}

func (b scheduleBody) finish() (string, string) {
	if b.FinishDate == "" && b.EndWorkTime != "" {
		return "endWorkTime", b.EndWorkTime
	}
	return "finishDate", b.FinishDate
}

func (h *Handler) bindSchedule(c echo.Context) (ScheduleInput, error) {
	var body scheduleBody
	if err := c.Bind(&body); err != nil {
		return ScheduleInput{}, echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	var in ScheduleInput
	var err error
	if in.WorkDate, err = h.parseTime(body.WorkDate); err != nil {
		return in, fieldError("workDate", err)
	}
	field, value := body.start()
	if in.StartWorkTime, err = h.parseTime(value); err != nil {
		return in, fieldError(field, err)
	}
	field, value = body.finish()
	if in.EndWorkTime, err = h.parseTime(value); err != nil {
		return in, fieldError(field, err)
	}
	return in, nil
}

func (h *Handler) CreateSchedule(c echo.Context) error {
	doctorID, err := uuidParam(c, "doctorId")
	if err != nil {
		return err
	}
	in, err := h.bindSchedule(c)
	if err != nil {
		return err
	}
	view, err := h.schedules.CreateScheduleForDay(c.Request().Context(), doctorID, in)
	if err != nil {
		return scheduleWriteError(err)
	}
	return c.JSON(http.StatusCreated, view)
}

func (h *Handler) UpdateSchedule(c echo.Context) error {
	doctorID, err := uuidParam(c, "doctorId")
	if err != nil {
		return err
	}
	in, err := h.bindSchedule(c)
	if err != nil {
		return err
	}
	view, err := h.schedules.UpdateScheduleForDay(c.Request().Context(), doctorID, in)
	if err != nil {
		return scheduleWriteError(err)
	}
	return c.JSON(http.StatusCreated, view)
}

func (h *Handler) DeleteSchedule(c echo.Context) error {
	doctorID, err := uuidParam(c, "doctorId")
	if err != nil {
		return err
	}
	var body scheduleBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if body.WorkDate == "" {
		body.WorkDate = c.QueryParam("workDate")
	}
	workDate, err := h.parseTime(body.WorkDate)
	if err != nil {
		return fieldError("workDate", err)
	}
	if err := h.schedules.DeleteScheduleForDay(c.Request().Context(), doctorID, workDate); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) DoctorAppointments(c echo.Context) error {
	return h.appointmentsForPeriod(c)
}

func (h *Handler) DoctorProfile(c echo.Context) error {
	doctorID, err := uuidParam(c, "doctorId")
	if err != nil {
		return err
	}
	view, err := h.booking.DoctorProfile(c.Request().Context(), doctorID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) MyDoctorProfile(c echo.Context) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	view, err := h.booking.MyDoctorProfile(c.Request().Context(), userID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, view)
}

// -- Patients --

func (h *Handler) CreateAppointment(c echo.Context) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	var in CreateAppointmentInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if in.DoctorID == uuid.Nil {
		return fieldError("doctorId", errors.New("doctorId is required"))
	}
	view, err := h.booking.CreateAppointment(c.Request().Context(), in, userID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, view)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "appointmentId")
	if err != nil {
		return err
	}
	view, err := h.booking.GetAppointment(c.Request().Context(), id, userID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) UpdateAppointment(c echo.Context) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "appointmentId")
	if err != nil {
		return err
	}
	var in UpdateAppointmentInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.booking.UpdateAppointment(c.Request().Context(), id, userID, in); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) DeleteAppointment(c echo.Context) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "appointmentId")
	if err != nil {
		return err
	}
	doctorID, err := uuidParam(c, "doctorId")
	if err != nil {
		return err
	}
	if err := h.booking.DeleteAppointment(c.Request().Context(), id, doctorID, userID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) PatientAppointments(c echo.Context) error {
	return h.appointmentsForPeriod(c)
}

func (h *Handler) appointmentsForPeriod(c echo.Context) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	start, finish, err := h.periodQuery(c)
	if err != nil {
		return err
	}
	role := auth.RoleFromContext(c.Request().Context())
	views, err := h.booking.AppointmentsForPeriod(c.Request().Context(), start, finish, userID, role)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, views)
}

// -- Helpers --

func currentUser(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid user identity")
	}
	return id, nil
}

func uuidParam(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, &Error{
			Kind: KindBadRequest, Field: name, Message: "invalid " + name,
		})
	}
	return id, nil
}

func (h *Handler) periodQuery(c echo.Context) (time.Time, time.Time, error) {
	start, err := h.parseTime(c.QueryParam("startDate"))
	if err != nil {
		return time.Time{}, time.Time{}, fieldError("startDate", err)
	}
	finish, err := h.parseTime(c.QueryParam("finishDate"))
	if err != nil {
		return time.Time{}, time.Time{}, fieldError("finishDate", err)
	}
	return start, finish, nil
}

// parseTime accepts RFC 3339 timestamps and bare dates. A bare date is
// midnight in the clinic time zone.
func (h *Handler) parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("value is required")
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(dateLayout, s, h.loc)
	if err != nil {
		return time.Time{}, errors.New("expected an RFC 3339 timestamp or a YYYY-MM-DD date")
	}
	return t, nil
}

func fieldError(field string, err error) error {
	return echo.NewHTTPError(http.StatusBadRequest, &Error{Kind: KindBadRequest, Field: field, Message: err.Error()})
}

func statusFor(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindBadRequest:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func httpError(err error) error {
	var e *Error
	if !errors.As(err, &e) {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
	if e.Kind == KindFailed {
		return echo.NewHTTPError(http.StatusInternalServerError, &Error{Kind: KindFailed, Message: e.Message})
	}
	return echo.NewHTTPError(statusFor(e.Kind), e)
}

// scheduleWriteError reports every failure except NOT_FOUND as 403.
func scheduleWriteError(err error) error {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindNotFound {
		return echo.NewHTTPError(http.StatusNotFound, e)
	}
	msg := "schedule change was rejected"
	if e != nil && e.Kind != KindFailed {
		msg = e.Message
	}
	return echo.NewHTTPError(http.StatusForbidden, &Error{Kind: KindForbidden, Message: msg})
}
