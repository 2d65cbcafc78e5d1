package dispatcher

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/cdeskio/activity-gateway/internal/health"
	"github.com/cdeskio/activity-gateway/internal/logging"
)

// Streamer serves the WebSocket event stream (SPEC_FULL.md §3.4).
type Streamer interface {
	HandleStream(w http.ResponseWriter, r *http.Request)
}

// Admin is the subset of the connection layer's admin capabilities the
// HTTP surface needs (get_health/unlock_account/rotate_credentials per
// spec.md §6). pool.Manager satisfies this directly.
type Admin interface {
	Unlock(username string) error
	Rotate() error
}

// Router builds the mux.Router exposing the four tools over HTTP plus
// the admin surface, grounded on the teacher's internal/api/router.go
// route-grouping shape (PathPrefix subrouters per concern), collapsed
// to this system's much smaller route set.
func (d *Dispatcher) Router(monitor *health.Monitor, admin Admin, stream Streamer) *mux.Router {
	r := mux.NewRouter()
	r.Use(logging.RequestMiddleware(d.logger))

	tools := r.PathPrefix("/tools").Subrouter()
	tools.HandleFunc("/log_event", d.handleLogEvent).Methods(http.MethodPost)
	tools.HandleFunc("/get_context", d.handleGetContext).Methods(http.MethodPost)
	tools.HandleFunc("/submit_query", d.handleSubmitQuery).Methods(http.MethodPost)
	tools.HandleFunc("/log_insight", d.handleLogInsight).Methods(http.MethodPost)

	adminRoutes := r.PathPrefix("/admin").Subrouter()
	adminRoutes.HandleFunc("/health", handleHealth(monitor)).Methods(http.MethodGet)
	adminRoutes.HandleFunc("/accounts/{username}/unlock", handleUnlock(admin)).Methods(http.MethodPost)
	adminRoutes.HandleFunc("/accounts/rotate", handleRotate(admin)).Methods(http.MethodPost)

	if stream != nil {
		r.HandleFunc("/stream/events", stream.HandleStream).Methods(http.MethodGet)
	}

	return r
}

type logEventRequest struct {
	Activity string         `json:"activity"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Link     string         `json:"link,omitempty"`
}

func (d *Dispatcher) handleLogEvent(w http.ResponseWriter, r *http.Request) {
	var req logEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, badRequest(err))
		return
	}
	resp, err := d.LogEvent(r.Context(), req.Activity, req.Metadata, req.Link)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type getContextRequest struct {
	CustomerKey string `json:"customerKey"`
	MaxBytes    int64  `json:"maxBytes,omitempty"`
}

func (d *Dispatcher) handleGetContext(w http.ResponseWriter, r *http.Request) {
	var req getContextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, badRequest(err))
		return
	}
	resp, err := d.GetContext(r.Context(), req.CustomerKey, req.MaxBytes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type submitQueryRequest struct {
	TemplateName string `json:"templateName"`
	Params       []any  `json:"params,omitempty"`
	ByteCap      int64  `json:"byteCap,omitempty"`
}

func (d *Dispatcher) handleSubmitQuery(w http.ResponseWriter, r *http.Request) {
	var req submitQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, badRequest(err))
		return
	}
	resp, err := d.SubmitQuery(r.Context(), req.TemplateName, req.Params, req.ByteCap)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

type logInsightRequest struct {
	Subject        string `json:"subject"`
	Metric         string `json:"metric"`
	Value          any    `json:"value"`
	ProvenanceHash string `json:"provenanceHash"`
}

func (d *Dispatcher) handleLogInsight(w http.ResponseWriter, r *http.Request) {
	var req logInsightRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, badRequest(err))
		return
	}
	resp, err := d.LogInsight(r.Context(), req.Subject, req.Metric, req.Value, req.ProvenanceHash)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func handleHealth(monitor *health.Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, monitor.Current())
	}
}

func handleUnlock(admin Admin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username := mux.Vars(r)["username"]
		if err := admin.Unlock(username); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "username": username})
	}
}

func handleRotate(admin Admin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := admin.Rotate(); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}
