package api

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/webtimer/db"
	"github.com/thatsimonsguy/webtimer/internal/executor"
	"github.com/thatsimonsguy/webtimer/internal/status"
)

const (
	defaultLimit = 20
	maxLimit     = 500
)

// StatusSource supplies the latest tick result.
type StatusSource interface {
	Last() executor.Result
}

type Server struct {
	db     *sql.DB
	source StatusSource
}

type StatusResponse struct {
	State            string             `json:"state"`
	Program          string             `json:"program"`
	Manual           bool               `json:"manual"`
	WeekMinute       int                `json:"week_minute"`
	WeekTime         string             `json:"week_time"`
	ProgramSetpoints string             `json:"program_setpoints"`
	DutyCycles       string             `json:"duty_cycles"`
	Conditions       string             `json:"conditions"`
	Triggers         string             `json:"triggers"`
	Relays           string             `json:"relays"`
	Values           map[string]float64 `json:"values"`
}

type RelayChangeResponse struct {
	At         time.Time `json:"at"`
	WeekMinute int       `json:"week_minute"`
	Previous   string    `json:"previous"`
	Current    string    `json:"current"`
	Manual     bool      `json:"manual"`
}

type DistributionEventResponse struct {
	At        time.Time `json:"at"`
	Operation string    `json:"operation"`
	Outcome   string    `json:"outcome"`
	Detail    string    `json:"detail"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// NewServer serves source and the journal in database. database may be nil, in which
// case the history endpoints report unavailable.
func NewServer(database *sql.DB, source StatusSource) *Server {
	return &Server{db: database, source: source}
}

// Handler returns the routes wrapped in the CORS handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/history/relays", s.handleRelayHistory)
	mux.HandleFunc("/api/history/distribution", s.handleDistributionHistory)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		mux.ServeHTTP(w, r)
	})
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf("0.0.0.0:%d", port)
	log.Info().Str("address", addr).Msg("Starting status API server")
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	res := s.source.Last()
	values := make(map[string]float64, len(res.Values))
	for id, v := range res.Values {
		values[strconv.Itoa(int(id))] = v
	}

	s.writeJSON(w, http.StatusOK, StatusResponse{
		State:            res.State.String(),
		Program:          res.Program,
		Manual:           res.Manual,
		WeekMinute:       res.WeekMinute,
		WeekTime:         status.FormatWeekMinute(res.WeekMinute),
		ProgramSetpoints: status.FormatMask(res.ProgramSetpoints),
		DutyCycles:       status.FormatMask(res.Duty),
		Conditions:       status.FormatMask(res.Conditions),
		Triggers:         status.FormatMask(res.Triggers),
		Relays:           status.FormatMask(res.Relays),
		Values:           values,
	})
}

func (s *Server) handleRelayHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.historyRequest(w, r)
	if !ok {
		return
	}

	changes, err := db.RecentRelayChanges(s.db, limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read relay history")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response := []RelayChangeResponse{}
	for _, c := range changes {
		response = append(response, RelayChangeResponse{
			At:         c.At,
			WeekMinute: c.WeekMinute,
			Previous:   status.FormatMask(c.Previous),
			Current:    status.FormatMask(c.Current),
			Manual:     c.Manual,
		})
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleDistributionHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.historyRequest(w, r)
	if !ok {
		return
	}

	events, err := db.RecentDistributions(s.db, limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read distribution history")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response := []DistributionEventResponse{}
	for _, ev := range events {
		response = append(response, DistributionEventResponse(ev))
	}
	s.writeJSON(w, http.StatusOK, response)
}

// historyRequest checks the method and journal and parses ?limit=.
func (s *Server) historyRequest(w http.ResponseWriter, r *http.Request) (int, bool) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return 0, false
	}
	if s.db == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Journal not available")
		return 0, false
	}

	limit := defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxLimit {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid limit. Must be between 1 and %d", maxLimit))
			return 0, false
		}
		limit = n
	}
	return limit, true
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}
