package reporting

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/ethereum-optimism/infra/op-behave/types"
)

// JSONSink writes one JSON object per event, newline delimited.
type JSONSink struct {
	mu    sync.Mutex
	enc   *json.Encoder
	runID string
}

// NewJSONSink creates a JSON lines writer.
func NewJSONSink(w io.Writer) *JSONSink {
	return &JSONSink{enc: json.NewEncoder(w)}
}

func (s *JSONSink) Consume(ev *types.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.Kind == types.EventSuiteStarted {
		s.runID = ev.RunID
	}
	if err := s.enc.Encode(NewEventRecord(s.runID, ev)); err != nil {
		return fmt.Errorf("failed to encode %s event: %w", ev.Kind, err)
	}
	return nil
}

func (s *JSONSink) Complete(string) error { return nil }
