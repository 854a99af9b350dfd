package engine

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"closebell/internal/strategy"
)

// Evaluation is one NDJSON line in the evaluation log: a single symbol's
// outcome for a single poll cycle, gate decisions included.
type Evaluation struct {
	RunID         string          `json:"run_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Symbol        string          `json:"symbol"`
	Price         string          `json:"price,omitempty"`
	Volume        int64           `json:"volume,omitempty"`
	Intent        strategy.Action `json:"intent,omitempty"`
	IntentQty     int64           `json:"intent_qty,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	Result        string          `json:"result"`
	Error         string          `json:"error,omitempty"`
	ClientOrderID string          `json:"client_order_id,omitempty"`
}

type EvaluationLog struct {
	runID  string
	file   *os.File
	writer *bufio.Writer
	mu     sync.Mutex
}

func NewEvaluationLog(path string, runID string) (*EvaluationLog, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &EvaluationLog{
		runID:  runID,
		file:   file,
		writer: bufio.NewWriter(file),
	}, nil
}

func (l *EvaluationLog) RunID() string {
	return l.runID
}

func (l *EvaluationLog) Append(ev Evaluation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	payload, err := json.Marshal(ev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal evaluation: %v\n", err)
		return
	}
	if _, err := l.writer.Write(append(payload, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write evaluation: %v\n", err)
		return
	}
	if err := l.writer.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to flush evaluation log: %v\n", err)
	}
}

func (l *EvaluationLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.writer.Flush(); err != nil {
		_ = l.file.Close()
		return err
	}
	return l.file.Close()
}
