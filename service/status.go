package service

import (
	"sync"
	"time"

	"github.com/ethereum-optimism/infra/op-behave/types"
)

// RunStatus is an event sink remembering the most recent run summary so it
// can be served over HTTP between periodic runs.
type RunStatus struct {
	mu       sync.RWMutex
	current  string
	started  time.Time
	last     *types.Summary
	runs     int
	snapshot *types.EffectiveConfigSnapshot
}

// StatusResponse is the body of the /status endpoint.
type StatusResponse struct {
	Running       bool           `json:"running"`
	CurrentRun    string         `json:"current_run,omitempty"`
	RunningFor    string         `json:"running_for,omitempty"`
	CompletedRuns int            `json:"completed_runs"`
	Result        string         `json:"result,omitempty"`
	Last          *types.Summary `json:"last,omitempty"`
}

func NewRunStatus() *RunStatus {
	return &RunStatus{}
}

func (s *RunStatus) Consume(ev *types.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch ev.Kind {
	case types.EventSuiteStarted:
		s.current = ev.RunID
		s.started = time.Now()
	case types.EventSuiteFinished:
		if ev.Summary != nil {
			summary := *ev.Summary
			s.last = &summary
		}
		s.current = ""
		s.runs++
	}
	return nil
}

func (s *RunStatus) Complete(string) error { return nil }

// SetConfig records the effective configuration served on /config.
func (s *RunStatus) SetConfig(snap *types.EffectiveConfigSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snap
}

// Config returns the recorded configuration snapshot, if any.
func (s *RunStatus) Config() *types.EffectiveConfigSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// Last returns a copy of the most recent summary, or nil before the first
// run completes.
func (s *RunStatus) Last() *types.Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return nil
	}
	summary := *s.last
	return &summary
}

// Response builds the /status body.
func (s *RunStatus) Response() StatusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()
	resp := StatusResponse{
		Running:       s.current != "",
		CurrentRun:    s.current,
		CompletedRuns: s.runs,
	}
	if resp.Running {
		resp.RunningFor = time.Since(s.started).Round(time.Millisecond).String()
	}
	if s.last != nil {
		summary := *s.last
		resp.Last = &summary
		resp.Result = string(summary.Status())
	}
	return resp
}
