package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"palletizer-control/internal/conn"
	"palletizer-control/internal/jobs"
	"palletizer-control/internal/logging"
	"palletizer-control/internal/metrics"
	"palletizer-control/internal/robot"
)

// Health reports the state of the controller link.
type Health interface {
	State() conn.State
	Retries() int
	Exhausted() bool
}

// Jogger drives hold-to-run motions.
type Jogger interface {
	Press(ctx context.Context, serial string, jog robot.Jog) (int, error)
	Reset(serial string, axis robot.Axis)
}

type Deps struct {
	Jobs    *jobs.Service
	Jogger  Jogger
	Health  Health
	Metrics *metrics.Collector
	// MetricsPath defaults to /metrics.
	MetricsPath string
	Logger      logrus.FieldLogger
}

// Server is the operator HTTP API.
type Server struct {
	jobs        *jobs.Service
	jog         Jogger
	health      Health
	metrics     *metrics.Collector
	metricsPath string
	log         *logrus.Entry
	router      *mux.Router
}

func New(d Deps) *Server {
	s := &Server{
		jobs:        d.Jobs,
		jog:         d.Jogger,
		health:      d.Health,
		metrics:     d.Metrics,
		metricsPath: d.MetricsPath,
		log:         logging.Component(d.Logger, "api"),
		router:      mux.NewRouter(),
	}
	if s.metricsPath == "" {
		s.metricsPath = "/metrics"
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	r := s.router
	r.Use(s.logRequests)

	r.HandleFunc("/healthz", s.healthz).Methods("GET")
	r.Handle(s.metricsPath, s.metrics.Handler()).Methods("GET")

	r.HandleFunc("/jobs", s.createJobs).Methods("POST")
	r.HandleFunc("/jobs/continue", s.continueJobs).Methods("POST")
	r.HandleFunc("/jobs/{id:[0-9]+}", s.getJob).Methods("GET")
	r.HandleFunc("/jobs/{id:[0-9]+}/box-positions", s.loadedBoxes).Methods("GET")
	r.HandleFunc("/jobs/{id:[0-9]+}/box-positions/csv", s.loadedBoxesCSV).Methods("GET")
	r.HandleFunc("/box-positions/{id:[0-9]+}/un-loading", s.unload).Methods("PATCH")

	rb := r.PathPrefix("/robots/{serial}").Subrouter()
	rb.HandleFunc("/jobs", s.listJobs).Methods("GET")
	rb.HandleFunc("/jobs/current", s.currentJobs).Methods("GET")
	rb.HandleFunc("/jobs/continue", s.continueJob).Methods("POST")
	rb.HandleFunc("/jobs/start", s.startJobs).Methods("POST")
	rb.HandleFunc("/jobs/pause", s.command(s.jobs.Pause)).Methods("POST")
	rb.HandleFunc("/jobs/resume", s.command(s.jobs.Resume)).Methods("POST")
	rb.HandleFunc("/jobs/stop", s.command(s.jobs.Stop)).Methods("POST")
	rb.HandleFunc("/jobs/end-incomplete", s.endIncomplete).Methods("POST")
	rb.HandleFunc("/jobs/continue-stop", s.continueStop).Methods("POST")
	rb.HandleFunc("/jobEndResume", s.command(s.jobs.JobEndResume)).Methods("POST")

	rb.HandleFunc("/servo-on", s.command(s.jobs.ServoOn)).Methods("POST")
	rb.HandleFunc("/servo-off", s.command(s.jobs.ServoOff)).Methods("POST")
	rb.HandleFunc("/shutdown", s.command(s.jobs.Shutdown)).Methods("POST")
	rb.HandleFunc("/release-protection", s.command(s.jobs.ReleaseProtection)).Methods("POST")
	rb.HandleFunc("/gripper-attach", s.gripper(true)).Methods("POST")
	rb.HandleFunc("/gripper-release", s.gripper(false)).Methods("POST")
	rb.HandleFunc("/speed", s.setSpeed).Methods("PUT")
	rb.HandleFunc("/camera-calibration", s.calibrate).Methods("POST")
	rb.HandleFunc("/jog/{name}", s.press).Methods("POST")
	rb.HandleFunc("/reset-{axis:position|lift|gripper}-count", s.resetCount).Methods("POST")

	rb.HandleFunc("/work-summary/day", s.daySummary).Methods("GET")
	rb.HandleFunc("/work-summary/csv", s.summaryCSV).Methods("GET")
	rb.HandleFunc("/logs/unchecked", s.uncheckedLogs).Methods("GET")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		}).Debug("request served")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

// statusOf maps service errors onto HTTP statuses.
func statusOf(err error) int {
	var verr *jobs.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, jobs.ErrRobotNotFound),
		errors.Is(err, jobs.ErrJobNotFound),
		errors.Is(err, jobs.ErrNoActiveJobs),
		errors.Is(err, jobs.ErrJobPalletNotFound),
		errors.Is(err, jobs.ErrBoxPositionNotFound):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrNoController):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	body := struct {
		State     string `json:"state"`
		Retries   int    `json:"retries"`
		Exhausted bool   `json:"exhausted"`
	}{State: conn.Disconnected.String()}
	status := http.StatusServiceUnavailable
	if s.health != nil {
		st := s.health.State()
		body.State = st.String()
		body.Retries = s.health.Retries()
		body.Exhausted = s.health.Exhausted()
		if st == conn.Connected {
			status = http.StatusOK
		}
	}
	writeJSON(w, status, body)
}
