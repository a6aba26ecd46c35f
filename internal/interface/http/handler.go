package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"patient-call-service/internal/domain/entity"
	"patient-call-service/internal/domain/repository"
	"patient-call-service/internal/interface/report"
	"patient-call-service/internal/usecase"
	"patient-call-service/pkg/logger"

	"github.com/gorilla/mux"
)

// Handler serves the operator API of one unit
type Handler struct {
	machine    *usecase.CallStateMachine
	ledger     repository.CallHistoryRepository
	tracker    *usecase.FrequentPatientTracker
	scheduler  *usecase.PhraseScheduler
	dispatcher *usecase.AnnouncementDispatcher
	audio      repository.AudioStorage
	unit       string
	location   *time.Location
	logger     logger.Logger
}

// Deps groups the collaborators of the handler
type Deps struct {
	Machine    *usecase.CallStateMachine
	Ledger     repository.CallHistoryRepository
	Tracker    *usecase.FrequentPatientTracker
	Scheduler  *usecase.PhraseScheduler
	Dispatcher *usecase.AnnouncementDispatcher
	Audio      repository.AudioStorage
	Unit       string
	Location   *time.Location
}

// NewHandler creates the operator API handler
func NewHandler(deps Deps, logger logger.Logger) *Handler {
	loc := deps.Location
	if loc == nil {
		loc = time.Local
	}
	return &Handler{
		machine:    deps.Machine,
		ledger:     deps.Ledger,
		tracker:    deps.Tracker,
		scheduler:  deps.Scheduler,
		dispatcher: deps.Dispatcher,
		audio:      deps.Audio,
		unit:       deps.Unit,
		location:   loc,
		logger:     logger,
	}
}

// Register mounts the routes on r
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/patients", h.registerPatient).Methods(http.MethodPost)
	r.HandleFunc("/patients", h.listPatients).Methods(http.MethodGet)
	r.HandleFunc("/patients/{id}", h.getPatient).Methods(http.MethodGet)
	r.HandleFunc("/patients/{id}", h.removePatient).Methods(http.MethodDelete)
	r.HandleFunc("/patients/{id}/call", h.callPatient).Methods(http.MethodPost)
	r.HandleFunc("/patients/{id}/recall", h.recallPatient).Methods(http.MethodPost)
	r.HandleFunc("/patients/{id}/attend", h.attendPatient).Methods(http.MethodPost)
	r.HandleFunc("/patients/{id}/refer", h.referPatient).Methods(http.MethodPost)
	r.HandleFunc("/patients/{id}/miss", h.missPatient).Methods(http.MethodPost)
	r.HandleFunc("/stages/{stage}/next", h.callNext).Methods(http.MethodPost)
	r.HandleFunc("/history", h.history).Methods(http.MethodGet)
	r.HandleFunc("/history/export", h.exportHistory).Methods(http.MethodGet)
	r.HandleFunc("/frequent", h.frequent).Methods(http.MethodGet)
	r.HandleFunc("/phrases/active", h.activePhrases).Methods(http.MethodGet)
	r.HandleFunc("/announcements/latest", h.latestAnnouncements).Methods(http.MethodGet)
	r.HandleFunc("/audio/{key:.+}", h.audioObject).Methods(http.MethodGet)
}

type callRequest struct {
	Stage string `json:"stage"`
	Room  string `json:"room"`
}

func (h *Handler) registerPatient(w http.ResponseWriter, r *http.Request) {
	var req entity.NewPatient
	if err := decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	p, err := h.machine.Register(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) listPatients(w http.ResponseWriter, r *http.Request) {
	status := entity.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		h.writeError(w, fmt.Errorf("%w: unknown status %q", errBadRequest, status))
		return
	}

	patients, err := h.machine.List(r.Context(), status)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.tracker.Annotate(patients))
}

func (h *Handler) getPatient(w http.ResponseWriter, r *http.Request) {
	p, err := h.machine.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.tracker.Annotate([]entity.Patient{p})[0])
}

func (h *Handler) removePatient(w http.ResponseWriter, r *http.Request) {
	if err := h.machine.Remove(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) callPatient(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	stage, err := entity.ParseStage(req.Stage)
	if err != nil {
		h.writeError(w, err)
		return
	}

	p, err := h.machine.Call(r.Context(), mux.Vars(r)["id"], stage, req.Room)
	h.writeTransition(w, p, err)
}

func (h *Handler) callNext(w http.ResponseWriter, r *http.Request) {
	stage, err := entity.ParseStage(mux.Vars(r)["stage"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req callRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	p, err := h.machine.CallNext(r.Context(), stage, req.Room)
	h.writeTransition(w, p, err)
}

func (h *Handler) recallPatient(w http.ResponseWriter, r *http.Request) {
	p, err := h.machine.Recall(r.Context(), mux.Vars(r)["id"])
	h.writeTransition(w, p, err)
}

func (h *Handler) attendPatient(w http.ResponseWriter, r *http.Request) {
	p, err := h.machine.MarkAttended(r.Context(), mux.Vars(r)["id"])
	h.writeTransition(w, p, err)
}

func (h *Handler) referPatient(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	stage, err := entity.ParseStage(req.Stage)
	if err != nil {
		h.writeError(w, err)
		return
	}

	p, err := h.machine.Refer(r.Context(), mux.Vars(r)["id"], stage)
	h.writeTransition(w, p, err)
}

func (h *Handler) missPatient(w http.ResponseWriter, r *http.Request) {
	p, err := h.machine.MarkMissed(r.Context(), mux.Vars(r)["id"])
	h.writeTransition(w, p, err)
}

func (h *Handler) writeTransition(w http.ResponseWriter, p entity.Patient, err error) {
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) recentHistory(r *http.Request) ([]entity.CallEvent, error) {
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: since must be RFC3339", errBadRequest)
		}
		since = t
	}
	return h.ledger.RecentByUnit(r.Context(), h.unit, since)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	events, err := h.recentHistory(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) exportHistory(w http.ResponseWriter, r *http.Request) {
	events, err := h.recentHistory(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	data, err := report.GenerateHistoryXLSX(events, h.location)
	if err != nil {
		h.writeError(w, err)
		return
	}

	filename := fmt.Sprintf("call-history-%s-%s.xlsx", h.unit, time.Now().In(h.location).Format("20060102"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *Handler) frequent(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.tracker.Frequent())
}

func (h *Handler) activePhrases(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.scheduler.Active())
}

func (h *Handler) latestAnnouncements(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.dispatcher.Latest())
}

func (h *Handler) audioObject(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if strings.Contains(key, "..") {
		h.writeError(w, fmt.Errorf("%w: invalid key", errBadRequest))
		return
	}

	data, err := h.audio.Get(r.Context(), key)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

var errBadRequest = errors.New("bad request")

func decode(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: invalid json: %v", errBadRequest, err)
	}
	return nil
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, entity.ErrInvalidPatient),
		errors.Is(err, entity.ErrUnknownStage):
		return http.StatusBadRequest
	case errors.Is(err, entity.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, entity.ErrTerminalState):
		return http.StatusGone
	case errors.Is(err, entity.ErrInvalidTransition),
		errors.Is(err, entity.ErrNotCalled):
		return http.StatusConflict
	case errors.Is(err, entity.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
