package runner

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-behave/types"
)

// ProgressIndicator interface for UI updates
type ProgressIndicator interface {
	StartRun(runID string, totalScenarios int)
	StartScenario(id string)
	FinishScenario(id string, status types.Status)
	CompleteRun(runID string)
}

// noOpProgressIndicator provides a no-op implementation of ProgressIndicator
type noOpProgressIndicator struct{}

// NewNoOpProgressIndicator creates a progress indicator that does nothing
func NewNoOpProgressIndicator() ProgressIndicator {
	return &noOpProgressIndicator{}
}

func (n *noOpProgressIndicator) StartRun(string, int)                 {}
func (n *noOpProgressIndicator) StartScenario(string)                 {}
func (n *noOpProgressIndicator) FinishScenario(string, types.Status) {}
func (n *noOpProgressIndicator) CompleteRun(string)                   {}

// ConsoleProgressIndicator periodically logs how far a run has progressed
// and which scenarios have been running the longest.
type ConsoleProgressIndicator struct {
	logger log.Logger
	ticker *time.Ticker
	stopCh chan struct{}
	once   sync.Once
	mu     sync.RWMutex

	runID     string
	completed int
	failed    int
	total     int
	startTime time.Time

	running map[string]time.Time // scenario id -> start time
}

// NewConsoleProgressIndicator creates a progress indicator that shows updates in the console
func NewConsoleProgressIndicator(logger log.Logger, updateInterval time.Duration) *ConsoleProgressIndicator {
	if updateInterval == 0 {
		updateInterval = 30 * time.Second
	}

	indicator := &ConsoleProgressIndicator{
		logger:  logger,
		ticker:  time.NewTicker(updateInterval),
		stopCh:  make(chan struct{}),
		running: make(map[string]time.Time),
	}

	go indicator.progressReporter()

	return indicator
}

func (c *ConsoleProgressIndicator) StartRun(runID string, totalScenarios int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.runID = runID
	c.total = totalScenarios
	c.completed = 0
	c.failed = 0
	c.startTime = time.Now()
	c.running = make(map[string]time.Time)

	c.logger.Info("Starting run", "runID", runID, "scenarios", totalScenarios)
}

// StartScenario tracks when a scenario is admitted
func (c *ConsoleProgressIndicator) StartScenario(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.running[id] = time.Now()
	c.logger.Debug("Scenario started", "scenario", id, "running", len(c.running))
}

func (c *ConsoleProgressIndicator) FinishScenario(id string, status types.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.running, id)
	c.completed++
	if status == types.StatusFailed {
		c.failed++
	}
	c.logger.Debug("Scenario finished", "scenario", id, "status", status,
		"completed", c.completed, "total", c.total, "running", len(c.running))
}

func (c *ConsoleProgressIndicator) CompleteRun(runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	duration := time.Since(c.startTime).Truncate(time.Millisecond)
	c.logger.Info("Completed run", "runID", runID, "completed", c.completed,
		"total", c.total, "failed", c.failed, "duration", duration)
	c.running = make(map[string]time.Time)
}

// progressReporter runs in a goroutine and periodically reports progress
func (c *ConsoleProgressIndicator) progressReporter() {
	for {
		select {
		case <-c.ticker.C:
			c.reportProgress()
		case <-c.stopCh:
			return
		}
	}
}

func (c *ConsoleProgressIndicator) reportProgress() {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var percentComplete float64
	if c.total > 0 {
		percentComplete = float64(c.completed) * 100.0 / float64(c.total)
	}

	c.logger.Info("Progress update",
		"runID", c.runID,
		"completed", c.completed,
		"total", c.total,
		"failed", c.failed,
		"percent", fmt.Sprintf("%.1f%%", percentComplete),
		"numRunning", len(c.running),
		"longestRunning", formatRunning(c.running, 3))
}

// Stop stops the progress indicator. It is safe to call more than once.
func (c *ConsoleProgressIndicator) Stop() {
	c.once.Do(func() {
		c.ticker.Stop()
		close(c.stopCh)
	})
}

// formatRunning lists the longest running scenarios first
func formatRunning(running map[string]time.Time, maxShow int) string {
	if len(running) == 0 {
		return ""
	}

	type entry struct {
		name     string
		duration time.Duration
	}

	entries := make([]entry, 0, len(running))
	now := time.Now()
	for name, start := range running {
		entries = append(entries, entry{name: name, duration: now.Sub(start)})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].duration > entries[j].duration
	})

	var parts []string
	for i, e := range entries {
		if i >= maxShow {
			break
		}
		parts = append(parts, fmt.Sprintf("%s (%v)", e.name, e.duration.Truncate(time.Second)))
	}

	if len(entries) > maxShow {
		parts = append(parts, fmt.Sprintf("+%d more", len(entries)-maxShow))
	}

	return strings.Join(parts, ", ")
}
