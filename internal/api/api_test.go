package api

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/webtimer/db"
	"github.com/thatsimonsguy/webtimer/internal/executor"
	"github.com/thatsimonsguy/webtimer/internal/model"
)

type fixedSource struct {
	res executor.Result
}

func (f fixedSource) Last() executor.Result {
	return f.res
}

func setupTestDB(t *testing.T) *sql.DB {
	database, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	at := time.Date(2024, 1, 1, 1, 40, 0, 0, time.UTC)
	require.NoError(t, db.RecordRelayChange(database, model.RelayChange{At: at, WeekMinute: 100, Previous: 0x00, Current: 0x01, Manual: true}))
	require.NoError(t, db.RecordRelayChange(database, model.RelayChange{At: at.Add(6 * time.Minute), WeekMinute: 106, Previous: 0x01, Current: 0x00, Manual: true}))
	require.NoError(t, db.RecordDistribution(database, model.DistributionEvent{At: at, Operation: "pull", Outcome: "ok", Detail: "inbox"}))
	return database
}

func setupTestServer(t *testing.T) *Server {
	source := fixedSource{res: executor.Result{
		State:            executor.Running,
		WeekMinute:       100,
		Program:          "Week",
		ProgramSetpoints: 0x05,
		Duty:             0xFF,
		Conditions:       0xFB,
		Triggers:         0x80,
		Relays:           0x81,
		Values:           model.ChannelValues{8: 1, 16: 21.5},
	}}
	return NewServer(setupTestDB(t), source)
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestGetStatus(t *testing.T) {
	server := setupTestServer(t)

	w := get(t, server.Handler(), "/api/status")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	var response StatusResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "running", response.State)
	assert.Equal(t, "Week", response.Program)
	assert.Equal(t, "100 | Mon 01:40", response.WeekTime)
	assert.Equal(t, "00000101", response.ProgramSetpoints)
	assert.Equal(t, "11111011", response.Conditions)
	assert.Equal(t, "10000001", response.Relays)
	assert.Equal(t, map[string]float64{"8": 1, "16": 21.5}, response.Values)
}

func TestGetStatus_MethodNotAllowed(t *testing.T) {
	server := setupTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/status", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestOptionsPreflight(t *testing.T) {
	server := setupTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/history/relays", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "GET, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
}

func TestGetRelayHistory(t *testing.T) {
	server := setupTestServer(t)

	w := get(t, server.Handler(), "/api/history/relays")
	require.Equal(t, http.StatusOK, w.Code)

	var response []RelayChangeResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	require.Len(t, response, 2)
	assert.Equal(t, 106, response[0].WeekMinute)
	assert.Equal(t, "00000001", response[0].Previous)
	assert.Equal(t, "00000000", response[0].Current)
	assert.True(t, response[0].Manual)

	w = get(t, server.Handler(), "/api/history/relays?limit=1")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Len(t, response, 1)
}

func TestGetDistributionHistory(t *testing.T) {
	server := setupTestServer(t)

	w := get(t, server.Handler(), "/api/history/distribution")
	require.Equal(t, http.StatusOK, w.Code)

	var response []DistributionEventResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	require.Len(t, response, 1)
	assert.Equal(t, "pull", response[0].Operation)
	assert.Equal(t, "ok", response[0].Outcome)
}

func TestHistory_BadRequests(t *testing.T) {
	tests := []struct {
		name   string
		server *Server
		target string
		want   int
	}{
		{"limit not a number", setupTestServer(t), "/api/history/relays?limit=abc", http.StatusBadRequest},
		{"limit zero", setupTestServer(t), "/api/history/distribution?limit=0", http.StatusBadRequest},
		{"limit too large", setupTestServer(t), "/api/history/relays?limit=501", http.StatusBadRequest},
		{"no journal", NewServer(nil, fixedSource{}), "/api/history/relays", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(t, tt.server.Handler(), tt.target)
			assert.Equal(t, tt.want, w.Code)

			var response ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			assert.NotEmpty(t, response.Error)
		})
	}
}
