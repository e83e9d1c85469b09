package metrics

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trv2relay/internal/logger"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Recompute(true)
		m.Publish("on", nil)
		m.OffCancelled(2)
		m.PendingOffs(1)
		m.TRVDemand("a", true)
		m.RelayState("boiler", true)
	})
}

func TestServerRoutes(t *testing.T) {
	m := NewMetrics()
	m.Recompute(true)
	m.Publish("on", nil)
	m.Publish("off", errors.New("broker down"))
	m.TRVDemand("kitchen", true)

	srv := NewServer(logger.Discard(), ":0", m, func() interface{} {
		return map[string]bool{"kitchen": true}
	})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "trv2relay_recomputes_total 1")
	assert.Contains(t, string(body), `trv2relay_relay_publishes_total{command="off",result="error"} 1`)
	assert.Contains(t, string(body), `trv2relay_trv_demand{trv="kitchen"} 1`)

	resp, err = http.Get(ts.URL + "/status")
	require.NoError(t, err)
	var status map[string]bool
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	resp.Body.Close()
	assert.Equal(t, map[string]bool{"kitchen": true}, status)

	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/status", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServerHandleFunc(t *testing.T) {
	srv := NewServer(logger.Discard(), ":0", NewMetrics(), func() interface{} { return nil })
	srv.HandleFunc("/relays/{name}/{command}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}, http.MethodPost)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/relays/boiler/on", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/relays/boiler/on", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
