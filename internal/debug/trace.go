package debug

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-json-experiment/json"
)

// Exchange is one HTTP round trip as recorded in a trace file. Duration
// is in milliseconds.
type Exchange struct {
	Time     time.Time     `json:"time"`
	Method   string        `json:"method"`
	URL      string        `json:"url"`
	Attempt  int           `json:"attempt,omitzero"`
	Status   int           `json:"status,omitzero"`
	Duration int64         `json:"duration_ms"`
	Request  string        `json:"request,omitempty"`
	Response string        `json:"response,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// maxFragment bounds the request and response bodies kept per exchange.
const maxFragment = 2048

// TraceLogger appends one JSON object per line to a trace file. A nil
// *TraceLogger discards everything.
type TraceLogger struct {
	mu       sync.Mutex
	file     *os.File
	filename string
}

// NewTraceLogger opens path for appending. An empty path creates a
// timestamped file in the temp directory.
func NewTraceLogger(path string) (*TraceLogger, error) {
	if path == "" {
		path = filepath.Join(os.TempDir(), fmt.Sprintf("odata_trace_%s.log", time.Now().Format("20060102_150405")))
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}
	return &TraceLogger{file: file, filename: path}, nil
}

// LogExchange masks the URL, truncates bodies and writes the exchange.
func (t *TraceLogger) LogExchange(e Exchange) error {
	if t == nil {
		return nil
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	e.URL = MaskURL(e.URL)
	e.Request = truncate(e.Request)
	e.Response = truncate(e.Response)

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode trace entry: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return os.ErrClosed
	}
	_, err = t.file.Write(append(line, '\n'))
	return err
}

// Filename returns the trace file path.
func (t *TraceLogger) Filename() string {
	if t == nil {
		return ""
	}
	return t.filename
}

func (t *TraceLogger) Close() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	return err
}

func truncate(s string) string {
	if len(s) <= maxFragment {
		return s
	}
	return s[:maxFragment] + "...(truncated)"
}
