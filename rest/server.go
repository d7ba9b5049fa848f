// Copyright 2026 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rest

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/gdamore/botvisor"
)

const (
	// Multipart bodies beyond this are spooled to temporary files.
	maxUploadMemory = 32 << 20

	// Longest a request for events may wait for one to happen.
	maxEventWait = 300

	// Upload form fields.
	FieldName    = "botName"
	FieldCommand = "startupCommand"
	FieldArchive = "botFile"
)

// Handler wraps a Manager, adding http.Handler functionality.
type Handler struct {
	m      *botvisor.Manager
	r      *mux.Router
	h      http.Handler
	logger logrus.FieldLogger
}

func (h *Handler) internalError(w http.ResponseWriter, e error) {
	http.Error(w, e.Error(), http.StatusInternalServerError)
}

func (h *Handler) writeJson(w http.ResponseWriter, code int, v interface{}) {
	if b, e := json.Marshal(v); e != nil {
		h.internalError(w, e)
	} else {
		w.Header().Set("Content-Type", mimeJson)
		w.WriteHeader(code)
		w.Write(b)
	}
}

func (h *Handler) fail(w http.ResponseWriter, code int, msg string) {
	h.writeJson(w, code, &Reply{Success: false, Error: msg})
}

func (h *Handler) writeError(w http.ResponseWriter, e error) {
	h.fail(w, errorCode(e), e.Error())
}

// errorCode maps the manager's errors onto HTTP status codes.
func errorCode(e error) int {
	switch {
	case errors.Is(e, botvisor.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(e, botvisor.ErrAlreadyExists),
		errors.Is(e, botvisor.ErrAlreadyRunning),
		errors.Is(e, botvisor.ErrStillRunning):
		return http.StatusConflict
	case errors.Is(e, botvisor.ErrBadName),
		errors.Is(e, botvisor.ErrBadConfig),
		errors.Is(e, botvisor.ErrInvalidCommand),
		errors.Is(e, botvisor.ErrNotRunning):
		return http.StatusBadRequest
	case errors.Is(e, botvisor.ErrExtractionFailed):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	info := h.m.GetInfo()
	h.writeJson(w, http.StatusOK, &HealthReply{
		Success: true,
		Status:  "ok",
		Name:    info.Name,
		Started: info.CreateTime,
	})
}

func (h *Handler) listBots(w http.ResponseWriter, r *http.Request) {
	if bots, e := h.m.Bots(); e != nil {
		h.writeError(w, e)
	} else {
		h.writeJson(w, http.StatusOK, &BotsReply{Success: true, Bots: bots})
	}
}

func (h *Handler) getBot(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["bot"]
	if d, e := h.m.Bot(name); e != nil {
		h.writeError(w, e)
	} else {
		h.writeJson(w, http.StatusOK, &Reply{Success: true, Bot: &d})
	}
}

func (h *Handler) uploadBot(w http.ResponseWriter, r *http.Request) {
	if e := r.ParseMultipartForm(maxUploadMemory); e != nil {
		h.fail(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer r.MultipartForm.RemoveAll()

	f, hdr, e := r.FormFile(FieldArchive)
	if e != nil {
		h.fail(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer f.Close()

	d, e := h.m.Deploy(r.FormValue(FieldName), r.FormValue(FieldCommand), f, hdr.Size)
	if e != nil {
		h.writeError(w, e)
		return
	}
	h.writeJson(w, http.StatusOK, &Reply{
		Success: true,
		Message: "Bot uploaded successfully",
		Bot:     &d,
	})
}

func (h *Handler) startBot(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["bot"]
	if d, e := h.m.Start(name); e != nil {
		h.writeError(w, e)
	} else {
		h.writeJson(w, http.StatusOK, &Reply{
			Success: true,
			Message: "Bot started successfully",
			PID:     d.PID,
		})
	}
}

func (h *Handler) stopBot(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["bot"]
	if _, e := h.m.Stop(r.Context(), name); e != nil {
		h.writeError(w, e)
	} else {
		h.writeJson(w, http.StatusOK, &Reply{
			Success: true,
			Message: "Bot stopped successfully",
		})
	}
}

func (h *Handler) restartBot(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["bot"]
	if d, e := h.m.Restart(r.Context(), name); e != nil {
		h.writeError(w, e)
	} else {
		h.writeJson(w, http.StatusOK, &Reply{
			Success: true,
			Message: "Bot restarted successfully",
			PID:     d.PID,
		})
	}
}

func (h *Handler) getLogs(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["bot"]
	tail := 0
	if v := r.URL.Query().Get("tail"); v != "" {
		n, e := strconv.Atoi(v)
		if e != nil || n < 0 {
			h.fail(w, http.StatusBadRequest, "Bad tail value")
			return
		}
		tail = n
	}
	if logs, e := h.m.Logs(name, tail); e != nil {
		h.writeError(w, e)
	} else {
		h.writeJson(w, http.StatusOK, &LogsReply{Success: true, Logs: logs})
	}
}

func (h *Handler) deleteBot(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["bot"]
	if e := h.m.Delete(r.Context(), name); e != nil {
		h.writeError(w, e)
	} else {
		h.writeJson(w, http.StatusOK, &Reply{
			Success: true,
			Message: "Bot deleted successfully",
		})
	}
}

func (h *Handler) updateConfig(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["bot"]
	var patch map[string]json.RawMessage
	if e := json.NewDecoder(r.Body).Decode(&patch); e != nil {
		h.fail(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if d, e := h.m.UpdateConfig(name, patch); e != nil {
		h.writeError(w, e)
	} else {
		h.writeJson(w, http.StatusOK, &Reply{Success: true, Config: &d})
	}
}

// getEvents returns events after ?since=, waiting up to ?wait= seconds
// for one if there are none yet.
func (h *Handler) getEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var since int64
	var wait int
	var e error
	if v := q.Get("since"); v != "" {
		if since, e = strconv.ParseInt(v, 10, 64); e != nil {
			h.fail(w, http.StatusBadRequest, "Bad since value")
			return
		}
	}
	if v := q.Get("wait"); v != "" {
		if wait, e = strconv.Atoi(v); e != nil || wait < 0 {
			h.fail(w, http.StatusBadRequest, "Bad wait value")
			return
		}
		if wait > maxEventWait {
			wait = maxEventWait
		}
	}
	log := h.m.Events()
	if wait > 0 {
		log.Watch(since, time.Duration(wait)*time.Second)
	}
	events, last := log.Events(since)
	if events == nil {
		events = []botvisor.Event{}
	}
	h.writeJson(w, http.StatusOK, &EventsReply{Success: true, Events: events, Last: last})
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.code = code
	s.ResponseWriter.WriteHeader(code)
}

// logRequests tags each request with an id and logs its outcome.
func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		h.logger.WithFields(logrus.Fields{
			"request_id": id,
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     rec.code,
			"elapsed":    time.Since(start).Round(time.Microsecond),
		}).Debug("Request")
	})
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h.h.ServeHTTP(w, req)
}

func (h *Handler) SetLogger(l logrus.FieldLogger) {
	h.logger = l
}

// NewHandler routes the bot API to m.  When publicDir is not empty, the
// files below it are served for every other path, which is where the
// dashboard lives.  Cross-origin requests are allowed from anywhere.
func NewHandler(m *botvisor.Manager, publicDir string) *Handler {
	r := mux.NewRouter()
	h := &Handler{m: m, r: r, logger: logrus.StandardLogger()}
	r.Use(h.logRequests)
	r.HandleFunc("/healthz", h.health).Methods("GET")
	r.HandleFunc("/api/bots", h.listBots).Methods("GET")
	r.HandleFunc("/api/events", h.getEvents).Methods("GET")
	r.HandleFunc("/api/upload-bot", h.uploadBot).Methods("POST")
	r.HandleFunc("/api/bot/start/{bot}", h.startBot).Methods("POST")
	r.HandleFunc("/api/bot/stop/{bot}", h.stopBot).Methods("POST")
	r.HandleFunc("/api/bot/restart/{bot}", h.restartBot).Methods("POST")
	r.HandleFunc("/api/bot/logs/{bot}", h.getLogs).Methods("GET")
	r.HandleFunc("/api/bot/config/{bot}", h.updateConfig).Methods("PUT")
	r.HandleFunc("/api/bot/{bot}", h.getBot).Methods("GET")
	r.HandleFunc("/api/bot/{bot}", h.deleteBot).Methods("DELETE")
	if publicDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(publicDir)))
	}
	h.h = handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "HEAD", "POST", "PUT", "DELETE"}),
		handlers.AllowedHeaders([]string{"Content-Type", RequestIDHeader}),
		handlers.ExposedHeaders([]string{RequestIDHeader}),
	)(r)
	return h
}
