package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"palletizer-control/internal/db"
	"palletizer-control/internal/jobs"
	"palletizer-control/internal/model"
	"palletizer-control/internal/report"
	"palletizer-control/internal/robot"
)

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

func serial(r *http.Request) string { return mux.Vars(r)["serial"] }

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Server) createJobs(w http.ResponseWriter, r *http.Request) {
	var req jobs.CreateRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	group, ids, err := s.jobs.Create(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		JobGroup *model.JobGroup `json:"jobGroup"`
		JobIDs   []int64         `json:"jobIds"`
	}{group, ids})
}

func (s *Server) continueJobs(w http.ResponseWriter, r *http.Request) {
	var req jobs.ContinueRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	ids, err := s.jobs.ContinueBatch(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if ids == nil {
		ids = []int64{}
	}
	writeJSON(w, http.StatusCreated, struct {
		JobIDs []int64 `json:"jobIds"`
	}{ids})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, "invalid job id")
		return
	}
	j, err := s.jobs.GetJob(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (s *Server) loadedBoxes(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, "invalid job id")
		return
	}
	rows, err := s.jobs.LoadedBoxes(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if rows == nil {
		rows = []model.BoxPosition{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) loadedBoxesCSV(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, "invalid job id")
		return
	}
	rows, err := s.jobs.LoadedBoxes(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="job-%d-boxes.csv"`, id))
	if err := report.WriteBoxesCSV(w, rows); err != nil {
		s.log.WithError(err).Warn("write box csv")
	}
}

func (s *Server) unload(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, "invalid box position id")
		return
	}
	bp, err := s.jobs.Unload(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bp)
}

type jobPage struct {
	Items    []model.Job `json:"items"`
	Total    int         `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"pageSize"`
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("pageSize"))
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 10
	}
	start, end := time.Unix(0, 0), time.Now()
	loc := s.jobs.Location()
	if v := q.Get("start"); v != "" {
		t, err := time.ParseInLocation(time.DateOnly, v, loc)
		if err != nil {
			badRequest(w, "invalid start date")
			return
		}
		start = t
	}
	if v := q.Get("end"); v != "" {
		t, err := time.ParseInLocation(time.DateOnly, v, loc)
		if err != nil {
			badRequest(w, "invalid end date")
			return
		}
		end = t.AddDate(0, 0, 1).Add(-time.Millisecond)
	}

	items, total, err := s.jobs.ListJobs(r.Context(), serial(r), start, end, page, size)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if items == nil {
		items = []model.Job{}
	}
	writeJSON(w, http.StatusOK, jobPage{Items: items, Total: total, Page: page, PageSize: size})
}

func (s *Server) currentJobs(w http.ResponseWriter, r *http.Request) {
	items, err := s.jobs.CurrentJobs(r.Context(), serial(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if items == nil {
		items = []model.Job{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) continueJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		JobID         int64   `json:"jobId"`
		PalletBarcode *string `json:"palletBarcode"`
	}
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	id, err := s.jobs.ContinueOne(r.Context(), serial(r), req.JobID, req.PalletBarcode)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		JobID int64 `json:"jobId"`
	}{id})
}

func (s *Server) startJobs(w http.ResponseWriter, r *http.Request) {
	if err := s.jobs.Start(r.Context(), serial(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) endIncomplete(w http.ResponseWriter, r *http.Request) {
	n, err := s.jobs.EndIncomplete(r.Context(), serial(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Ended int64 `json:"ended"`
	}{n})
}

func (s *Server) continueStop(w http.ResponseWriter, r *http.Request) {
	var req struct {
		JobID int64 `json:"jobId"`
	}
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if err := s.jobs.ContinueStop(r.Context(), serial(r), req.JobID); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// command adapts a serial-only service call to a handler answering 204.
func (s *Server) command(fn func(ctx context.Context, serial string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(r.Context(), serial(r)); err != nil {
			s.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) gripper(attach bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.jobs.Gripper(r.Context(), serial(r), attach); err != nil {
			s.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) setSpeed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value *int `json:"value"`
	}
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if req.Value == nil || *req.Value < 0 || *req.Value > 100 {
		badRequest(w, "value must be between 0 and 100")
		return
	}
	if err := s.jobs.SetSpeed(r.Context(), serial(r), *req.Value); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) calibrate(w http.ResponseWriter, r *http.Request) {
	res, err := s.jobs.Calibrate(r.Context(), serial(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	switch res {
	case jobs.CalibrationSucceeded:
		writeJSON(w, http.StatusOK, struct {
			Result string `json:"result"`
		}{"success"})
	case jobs.CalibrationFailed:
		badRequest(w, "calibration failed")
	default:
		writeJSON(w, http.StatusConflict, errorBody{Error: "calibration interrupted"})
	}
}

func (s *Server) press(w http.ResponseWriter, r *http.Request) {
	jog, ok := robot.LookupJog(mux.Vars(r)["name"])
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "unknown jog"})
		return
	}
	if s.jog == nil {
		s.fail(w, r, jobs.ErrNoController)
		return
	}
	rb, err := s.jobs.Robot(r.Context(), serial(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	count, err := s.jog.Press(r.Context(), rb.Serial, jog)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Count int `json:"count"`
	}{count})
}

func (s *Server) resetCount(w http.ResponseWriter, r *http.Request) {
	if s.jog == nil {
		s.fail(w, r, jobs.ErrNoController)
		return
	}
	rb, err := s.jobs.Robot(r.Context(), serial(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.jog.Reset(rb.Serial, robot.Axis(mux.Vars(r)["axis"]))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) daySummary(w http.ResponseWriter, r *http.Request) {
	loc := s.jobs.Location()
	date := r.URL.Query().Get("date")
	if date == "" {
		date = time.Now().In(loc).Format(time.DateOnly)
	}
	day, err := time.ParseInLocation(time.DateOnly, date, loc)
	if err != nil {
		badRequest(w, "invalid date")
		return
	}
	sum, err := s.jobs.Summarize(r.Context(), serial(r), day, day.AddDate(0, 0, 1).Add(-time.Millisecond), false)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) summaryCSV(w http.ResponseWriter, r *http.Request) {
	days, err := s.jobs.DailyFigures(r.Context(), serial(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="work-summary.csv"`)
	if err := report.WriteDaysCSV(w, days); err != nil {
		s.log.WithError(err).Warn("write summary csv")
	}
}

func (s *Server) uncheckedLogs(w http.ResponseWriter, r *http.Request) {
	rb, err := s.jobs.Robot(r.Context(), serial(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	logs, err := db.UncheckedLogs(r.Context(), s.jobs.Store(), rb.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if logs == nil {
		logs = []model.Log{}
	}
	writeJSON(w, http.StatusOK, logs)
}
