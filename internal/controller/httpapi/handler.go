// Package httpapi HTTP API движка расписаний
package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/Freeeeeet/class_scheduler/internal/model"
	"github.com/Freeeeeet/class_scheduler/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const defaultUpcomingWindow = 24 * time.Hour

// Handler обработчики API поверх сервисов
type Handler struct {
	schedules   *service.ScheduleService
	enrollments *service.EnrollmentManager
	lifecycle   *service.SessionLifecycle
	logger      *zap.Logger
}

func NewHandler(
	schedules *service.ScheduleService,
	enrollments *service.EnrollmentManager,
	lifecycle *service.SessionLifecycle,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		schedules:   schedules,
		enrollments: enrollments,
		lifecycle:   lifecycle,
		logger:      logger,
	}
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- расписания ---

func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var input service.CreateScheduleInput
	if err := decodeJSON(r, &input); err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.schedules.CreateSchedule(r.Context(), input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	schedule, err := h.schedules.GetSchedule(r.Context(), chi.URLParam(r, "scheduleID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}

func (h *Handler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	var input service.UpdateScheduleInput
	if err := decodeJSON(r, &input); err != nil {
		h.writeError(w, r, err)
		return
	}

	schedule, err := h.schedules.UpdateSchedule(r.Context(), chi.URLParam(r, "scheduleID"), input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}

func (h *Handler) ListTeacherSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := h.schedules.ListTeacherSchedules(r.Context(), chi.URLParam(r, "teacherID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNilList(schedules))
}

func (h *Handler) PauseSchedule(w http.ResponseWriter, r *http.Request) {
	schedule, err := h.schedules.PauseSchedule(r.Context(), chi.URLParam(r, "scheduleID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}

func (h *Handler) ResumeSchedule(w http.ResponseWriter, r *http.Request) {
	result, err := h.schedules.ResumeSchedule(r.Context(), chi.URLParam(r, "scheduleID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) EndSchedule(w http.ResponseWriter, r *http.Request) {
	schedule, err := h.schedules.EndSchedule(r.Context(), chi.URLParam(r, "scheduleID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}

func (h *Handler) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.schedules.DeleteSchedule(r.Context(), chi.URLParam(r, "scheduleID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"instances_deleted": deleted})
}

func (h *Handler) ListScheduleInstances(w http.ResponseWriter, r *http.Request) {
	statuses, err := statusesParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	instances, err := h.schedules.ListInstances(r.Context(), chi.URLParam(r, "scheduleID"), statuses...)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNilList(instances))
}

// --- записи ---

type enrollRequest struct {
	StudentID   string `json:"student_id"`
	StudentName string `json:"student_name"`
}

func (h *Handler) Enroll(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.enrollments.Enroll(r.Context(), chi.URLParam(r, "scheduleID"), req.StudentID, req.StudentName)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) Unenroll(w http.ResponseWriter, r *http.Request) {
	result, err := h.enrollments.Unenroll(r.Context(), chi.URLParam(r, "scheduleID"), chi.URLParam(r, "studentID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- занятия ---

func (h *Handler) CreateSingleSession(w http.ResponseWriter, r *http.Request) {
	var input service.CreateSingleSessionInput
	if err := decodeJSON(r, &input); err != nil {
		h.writeError(w, r, err)
		return
	}

	instance, err := h.lifecycle.CreateSingleSession(r.Context(), input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, instance)
}

func (h *Handler) GetInstance(w http.ResponseWriter, r *http.Request) {
	instance, err := h.lifecycle.GetInstance(r.Context(), chi.URLParam(r, "instanceID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, instance)
}

func (h *Handler) StartInstance(w http.ResponseWriter, r *http.Request) {
	instance, err := h.lifecycle.Start(r.Context(), chi.URLParam(r, "instanceID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, instance)
}

type endRequest struct {
	AttendedStudentIDs []string `json:"attended_student_ids"`
}

func (h *Handler) EndInstance(w http.ResponseWriter, r *http.Request) {
	var req endRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	instance, err := h.lifecycle.End(r.Context(), chi.URLParam(r, "instanceID"), req.AttendedStudentIDs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, instance)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) CancelInstance(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	instance, err := h.lifecycle.Cancel(r.Context(), chi.URLParam(r, "instanceID"), req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, instance)
}

type attendanceRequest struct {
	StudentIDs []string `json:"student_ids"`
}

func (h *Handler) RecordAttendance(w http.ResponseWriter, r *http.Request) {
	var req attendanceRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	instance, err := h.lifecycle.RecordAttendance(r.Context(), chi.URLParam(r, "instanceID"), req.StudentIDs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, instance)
}

type assignRequest struct {
	StudentID string `json:"student_id"`
}

func (h *Handler) AssignStudent(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	instance, err := h.lifecycle.AssignStudent(r.Context(), chi.URLParam(r, "instanceID"), req.StudentID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, instance)
}

func (h *Handler) UnassignStudent(w http.ResponseWriter, r *http.Request) {
	instance, err := h.lifecycle.UnassignStudent(r.Context(), chi.URLParam(r, "instanceID"), chi.URLParam(r, "studentID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, instance)
}

func (h *Handler) ListTeacherInstances(w http.ResponseWriter, r *http.Request) {
	statuses, err := statusesParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	instances, err := h.lifecycle.ListTeacherInstances(r.Context(), chi.URLParam(r, "teacherID"), statuses...)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNilList(instances))
}

func (h *Handler) ListStudentInstances(w http.ResponseWriter, r *http.Request) {
	statuses, err := statusesParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	instances, err := h.lifecycle.ListStudentInstances(r.Context(), chi.URLParam(r, "studentID"), statuses...)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNilList(instances))
}

func (h *Handler) ListLiveInstances(w http.ResponseWriter, r *http.Request) {
	instances, err := h.lifecycle.ListLiveInstances(r.Context(), r.URL.Query().Get("teacher_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNilList(instances))
}

func (h *Handler) ListUpcoming(w http.ResponseWriter, r *http.Request) {
	window := defaultUpcomingWindow
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			h.writeError(w, r, &service.ValidationError{Field: "window", Message: "must be a positive duration like 2h"})
			return
		}
		window = parsed
	}

	instances, err := h.lifecycle.ListUpcoming(r.Context(), window)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNilList(instances))
}

// requestLogger пишет метод, путь, статус и длительность каждого запроса
func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		h.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// statusesParam разбирает ?status=scheduled,live
func statusesParam(r *http.Request) ([]model.InstanceStatus, error) {
	raw := r.URL.Query().Get("status")
	if raw == "" {
		return nil, nil
	}

	var statuses []model.InstanceStatus
	for _, part := range strings.Split(raw, ",") {
		status := model.InstanceStatus(strings.TrimSpace(part))
		switch status {
		case model.InstanceStatusScheduled, model.InstanceStatusLive,
			model.InstanceStatusEnded, model.InstanceStatusCancelled:
			statuses = append(statuses, status)
		default:
			return nil, &service.ValidationError{Field: "status", Message: "unknown status " + string(status)}
		}
	}
	return statuses, nil
}

func nonNilList[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
