package types

// Status represents the terminal state of a step or scenario.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// IsTerminal reports whether s is one of the known terminal statuses.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// Counts tallies terminal statuses.
type Counts struct {
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Add records one status.
func (c *Counts) Add(s Status) {
	switch s {
	case StatusPassed:
		c.Passed++
	case StatusFailed:
		c.Failed++
	case StatusSkipped:
		c.Skipped++
	}
}

// Total returns the number of recorded statuses.
func (c Counts) Total() int {
	return c.Passed + c.Failed + c.Skipped
}
