package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-behave/types"
)

func finishedRun(runID string, failed int) []*types.Event {
	return []*types.Event{
		{Kind: types.EventSuiteStarted, RunID: runID},
		{Kind: types.EventSuiteFinished, RunID: runID, Summary: &types.Summary{
			RunID:     runID,
			Features:  1,
			Scenarios: types.Counts{Passed: 2, Failed: failed},
		}},
	}
}

func TestRunStatus(t *testing.T) {
	s := NewRunStatus()
	assert.Nil(t, s.Last())
	assert.False(t, s.Response().Running)

	events := finishedRun("run-1", 1)
	require.NoError(t, s.Consume(events[0]))
	resp := s.Response()
	assert.True(t, resp.Running)
	assert.Equal(t, "run-1", resp.CurrentRun)
	assert.Nil(t, resp.Last)

	require.NoError(t, s.Consume(events[1]))
	resp = s.Response()
	assert.False(t, resp.Running)
	assert.Equal(t, 1, resp.CompletedRuns)
	assert.Equal(t, "failed", resp.Result)
	require.NotNil(t, resp.Last)
	assert.Equal(t, "run-1", resp.Last.RunID)

	// the stored summary is a copy
	events[1].Summary.RunID = "mutated"
	assert.Equal(t, "run-1", s.Last().RunID)

	for _, ev := range finishedRun("run-2", 0) {
		require.NoError(t, s.Consume(ev))
	}
	assert.Equal(t, 2, s.Response().CompletedRuns)
	assert.Equal(t, "passed", s.Response().Result)
}

func TestHealthzRoutes(t *testing.T) {
	status := NewRunStatus()
	h := NewHealthzServer(log.NewLogger(log.DiscardHandler()), status)
	srv := httptest.NewServer(h.Router())
	defer srv.Close()

	get := func(path string) (int, string) {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(body)
	}

	code, body := get("/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "OK", body)

	code, _ = get("/status/summary")
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = get("/config")
	assert.Equal(t, http.StatusNotFound, code)

	for _, ev := range finishedRun("run-1", 0) {
		require.NoError(t, status.Consume(ev))
	}
	status.SetConfig(&types.EffectiveConfigSnapshot{RunID: "run-1"})

	code, body = get("/status")
	assert.Equal(t, http.StatusOK, code)
	var resp StatusResponse
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	assert.Equal(t, 1, resp.CompletedRuns)
	assert.Equal(t, "passed", resp.Result)

	code, body = get("/status/summary")
	assert.Equal(t, http.StatusOK, code)
	var summary types.Summary
	require.NoError(t, json.Unmarshal([]byte(body), &summary))
	assert.Equal(t, 2, summary.Scenarios.Passed)

	code, body = get("/config")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"runId": "run-1"`)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/status", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, "*", resp2.Header.Get("Access-Control-Allow-Origin"))
}

func TestServiceStartShutdown(t *testing.T) {
	svc := New(Config{
		Log:         log.NewLogger(log.DiscardHandler()),
		HealthzHost: "127.0.0.1",
		MetricsHost: "127.0.0.1",
	})
	require.NoError(t, svc.Start(context.Background()))

	resp, err := http.Get("http://" + svc.HealthzAddr().String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get("http://" + svc.MetricsAddr().String() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "go_goroutines"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	svc.Shutdown(ctx)

	_, err = http.Get("http://" + svc.HealthzAddr().String() + "/healthz")
	assert.Error(t, err)
}

func TestServiceDisabledServers(t *testing.T) {
	svc := New(Config{
		Log:         log.NewLogger(log.DiscardHandler()),
		HealthzPort: -1,
		MetricsPort: -1,
	})
	require.NoError(t, svc.Start(context.Background()))
	assert.Nil(t, svc.HealthzAddr())
	assert.Nil(t, svc.MetricsAddr())
	svc.Shutdown(context.Background())
}
