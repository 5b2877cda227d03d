// internal/httpapi/server.go
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ardian231/notify-wa/internal/intent"
	"github.com/ardian231/notify-wa/internal/notify"
	"github.com/ardian231/notify-wa/internal/router"
	"github.com/ardian231/notify-wa/internal/types"
)

const maxBodyBytes = 1 << 20

// Responder answers chatbot messages.
type Responder interface {
	Reply(ctx context.Context, text string) (intent.Answer, error)
}

// Dispatcher decodes and dispatches change events.
type Dispatcher interface {
	Decode(data []byte) (notify.Event, error)
	Dispatch(ctx context.Context, ev notify.Event) []notify.Result
}

// Forgetter removes delivered keys so they may be sent again.
type Forgetter interface {
	Has(key string) bool
	Forget(ctx context.Context, key string) error
}

// Status is the operator view of the running daemon.
type Status struct {
	Connection string              `json:"connection"`
	Ready      bool                `json:"ready"`
	LoggedOut  bool                `json:"logged_out"`
	Pending    int                 `json:"pending"`
	Delivered  int                 `json:"delivered"`
	Models     []router.QuotaState `json:"models"`
}

// StatusFunc reports the current Status.
type StatusFunc func() Status

// Server is the HTTP surface of the daemon.
type Server struct {
	responder Responder
	events    Dispatcher
	status    StatusFunc
	failures  types.FailureLog
	ledger    Forgetter
	mux       *http.ServeMux
}

// NewServer creates a Server. Any dependency may be nil, in which case its
// endpoints answer 503.
func NewServer(responder Responder, events Dispatcher, status StatusFunc, failures types.FailureLog) *Server {
	s := &Server{
		responder: responder,
		events:    events,
		status:    status,
		failures:  failures,
		mux:       http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /api/chatbot", s.handleChatbot)
	s.mux.HandleFunc("POST /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/failures", s.handleFailures)
	s.mux.HandleFunc("POST /api/ledger/forget", s.handleForget)
	return s
}

// WithLedger enables POST /api/ledger/forget against l.
func (s *Server) WithLedger(l Forgetter) *Server {
	s.ledger = l
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// chatbotRequest is the JSON body for POST /api/chatbot.
type chatbotRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleChatbot(w http.ResponseWriter, r *http.Request) {
	if s.responder == nil {
		writeError(w, http.StatusServiceUnavailable, "chatbot not configured")
		return
	}
	var req chatbotRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	answer, err := s.responder.Reply(r.Context(), req.Message)
	if err != nil {
		if errors.Is(err, intent.ErrEmptyMessage) {
			writeError(w, http.StatusBadRequest, "No message provided")
			return
		}
		slog.Error("chatbot reply failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reply": answer.Reply, "intent": answer.Label})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, "events not configured")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}
	ev, err := s.events.Decode(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	results := s.events.Dispatch(r.Context(), ev)
	if results == nil {
		results = []notify.Result{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeError(w, http.StatusServiceUnavailable, "status not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleFailures(w http.ResponseWriter, r *http.Request) {
	if s.failures == nil {
		writeError(w, http.StatusServiceUnavailable, "failure log not configured")
		return
	}
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}
	recs, err := s.failures.Tail(r.Context(), limit)
	if err != nil {
		slog.Error("tail failures failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if recs == nil {
		recs = []*types.FailureRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// ForgetRequest is the JSON body for POST /api/ledger/forget. Keys carry
// spaces and slashes, so they travel in the body rather than the path.
type ForgetRequest struct {
	Key string `json:"key"`
}

func (s *Server) handleForget(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "ledger not configured")
		return
	}
	var req ForgetRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil || req.Key == "" {
		writeError(w, http.StatusBadRequest, "key required")
		return
	}
	if !s.ledger.Has(req.Key) {
		writeError(w, http.StatusNotFound, "ledger key not found")
		return
	}
	if err := s.ledger.Forget(r.Context(), req.Key); err != nil {
		slog.Error("forget ledger key failed", "key", req.Key, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	slog.Info("ledger key forgotten", "key", req.Key)
	writeJSON(w, http.StatusOK, map[string]string{"forgotten": req.Key})
}
