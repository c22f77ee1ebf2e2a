package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter собирает роутер API. gatherer == nil отключает /metrics.
func NewRouter(h *Handler, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", h.Health)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	MountRoutes(r, h)
	return r
}

// MountRoutes регистрирует маршруты расписаний и занятий
func MountRoutes(r chi.Router, h *Handler) {
	r.Route("/schedules", func(r chi.Router) {
		r.Post("/", h.CreateSchedule)
		r.Route("/{scheduleID}", func(r chi.Router) {
			r.Get("/", h.GetSchedule)
			r.Patch("/", h.UpdateSchedule)
			r.Delete("/", h.DeleteSchedule)
			r.Post("/pause", h.PauseSchedule)
			r.Post("/resume", h.ResumeSchedule)
			r.Post("/end", h.EndSchedule)
			r.Get("/instances", h.ListScheduleInstances)
			r.Post("/enrollments", h.Enroll)
			r.Delete("/enrollments/{studentID}", h.Unenroll)
		})
	})

	r.Get("/teachers/{teacherID}/schedules", h.ListTeacherSchedules)
	r.Get("/teachers/{teacherID}/instances", h.ListTeacherInstances)
	r.Get("/students/{studentID}/instances", h.ListStudentInstances)

	r.Post("/sessions", h.CreateSingleSession)

	r.Route("/instances", func(r chi.Router) {
		r.Get("/live", h.ListLiveInstances)
		r.Get("/upcoming", h.ListUpcoming)
		r.Route("/{instanceID}", func(r chi.Router) {
			r.Get("/", h.GetInstance)
			r.Post("/start", h.StartInstance)
			r.Post("/end", h.EndInstance)
			r.Post("/cancel", h.CancelInstance)
			r.Post("/attendance", h.RecordAttendance)
			r.Post("/students", h.AssignStudent)
			r.Delete("/students/{studentID}", h.UnassignStudent)
		})
	})
}
